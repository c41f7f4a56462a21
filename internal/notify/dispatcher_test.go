package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/predictions/internal/models"
)

type recordingSink struct {
	mu     sync.Mutex
	events []models.Event
	err    error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(_ context.Context, ev models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// ctxSink fails like a network sink would once its context is cancelled
type ctxSink struct {
	recordingSink
	failed int
}

func (s *ctxSink) Publish(ctx context.Context, ev models.Event) error {
	if err := ctx.Err(); err != nil {
		s.mu.Lock()
		s.failed++
		s.mu.Unlock()
		return err
	}
	return s.recordingSink.Publish(ctx, ev)
}

func TestDispatcher_DeliversInOrderToEverySink(t *testing.T) {
	failing := &recordingSink{err: errors.New("broker down")}
	ok := &recordingSink{}
	d := NewDispatcher(8, nil, failing, ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	d.Notify(models.Event{Type: models.EventMarketCreated, MarketID: "m"})
	d.Notify(models.Event{Type: models.EventMarketUpdated, MarketID: "m"})
	d.Notify(models.Event{Type: models.EventMarketResolved, MarketID: "m"})

	require.Eventually(t, func() bool { return ok.count() == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 3, failing.count(), "a failing sink does not stop delivery")
	assert.Equal(t, models.EventMarketCreated, ok.events[0].Type)
	assert.Equal(t, models.EventMarketUpdated, ok.events[1].Type)
	assert.Equal(t, models.EventMarketResolved, ok.events[2].Type)
}

func TestDispatcher_NotifyNeverBlocks(t *testing.T) {
	d := NewDispatcher(2, nil)

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Notify(models.Event{Type: models.EventMarketUpdated})
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked with no consumer running")
	}
	assert.Equal(t, uint64(8), d.Dropped())
}

func TestDispatcher_DrainsOnShutdown(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(4, nil, sink)

	d.Notify(models.Event{Type: models.EventMarketUpdated})
	d.Notify(models.Event{Type: models.EventMarketUpdated})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	assert.Equal(t, 2, sink.count())
}

func TestDispatcher_ShutdownDeliveriesSucceed(t *testing.T) {
	for i := 0; i < 20; i++ {
		sink := &ctxSink{}
		d := NewDispatcher(8, nil, sink)
		for j := 0; j < 8; j++ {
			d.Notify(models.Event{Type: models.EventMarketUpdated, MarketID: "m"})
		}

		// With both the queue and ctx.Done ready, select may still dequeue first
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		d.Run(ctx)

		require.Equal(t, 0, sink.failed, "sink saw a cancelled context")
		require.Equal(t, 8, sink.count())
	}
}
