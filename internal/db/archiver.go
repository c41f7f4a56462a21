package db

import (
	"context"
	"fmt"
	"time"

	"github.com/xtrntr/predictions/internal/models"
)

// Archiver records market history from the event stream. The exchange never
// reads it back.
type Archiver struct {
	db  *DB
	now func() time.Time
}

// NewArchiver creates an archiver writing to db
func NewArchiver(db *DB) *Archiver {
	return &Archiver{db: db, now: time.Now}
}

// Name identifies the archiver as a notification sink
func (a *Archiver) Name() string { return "postgres" }

// Publish persists the part of ev that is new
func (a *Archiver) Publish(ctx context.Context, ev models.Event) error {
	switch ev.Type {
	case models.EventMarketCreated:
		return a.db.InsertMarket(ctx, ev.Market)
	case models.EventMarketUpdated:
		if len(ev.Trades) == 0 {
			return nil
		}
		// A NEW_MARKET event may have been dropped; trades need the market row
		if err := a.db.InsertMarket(ctx, ev.Market); err != nil {
			return err
		}
		return a.db.InsertTrades(ctx, ev.Trades)
	case models.EventMarketResolved:
		if ev.Outcome == nil {
			return fmt.Errorf("resolution event for %s has no outcome", ev.MarketID)
		}
		return a.db.RecordResolution(ctx, ev.Market, *ev.Outcome, ev.Balances, a.now())
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
}
