package notify

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xtrntr/predictions/internal/models"
)

// Sink consumes market events, e.g. websocket clients or a message broker
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev models.Event) error
}

// Dispatcher decouples the exchange from its sinks. Notify only enqueues;
// Run delivers to every sink in order on its own goroutine.
type Dispatcher struct {
	events  chan models.Event
	sinks   []Sink
	log     *zap.SugaredLogger
	dropped atomic.Uint64
}

// NewDispatcher creates a dispatcher with room for buffer pending events
func NewDispatcher(buffer int, log *zap.SugaredLogger, sinks ...Sink) *Dispatcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Dispatcher{
		events: make(chan models.Event, buffer),
		sinks:  sinks,
		log:    log,
	}
}

// Notify enqueues ev without blocking. When the buffer is full the event is
// dropped and counted.
func (d *Dispatcher) Notify(ev models.Event) {
	select {
	case d.events <- ev:
	default:
		d.dropped.Add(1)
		d.log.Warnw("event buffer full, dropping event", "type", ev.Type, "market_id", ev.MarketID)
	}
}

// Dropped returns the number of events lost to a full buffer
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Run delivers events until ctx is done, then drains what is already queued.
// Deliveries never see the cancellation, so an event dequeued during shutdown
// still reaches every sink.
func (d *Dispatcher) Run(ctx context.Context) {
	deliverCtx := context.WithoutCancel(ctx)
	for {
		select {
		case ev := <-d.events:
			d.deliver(deliverCtx, ev)
		case <-ctx.Done():
			d.drain(deliverCtx)
			return
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case ev := <-d.events:
			d.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev models.Event) {
	for _, s := range d.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			d.log.Errorw("sink publish failed",
				"sink", s.Name(),
				"type", ev.Type,
				"market_id", ev.MarketID,
				"error", err,
			)
		}
	}
}
