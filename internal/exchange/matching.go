package exchange

import (
	"time"

	"github.com/xtrntr/predictions/internal/models"
)

// MatchingEngine crosses incoming orders against a book and books the
// resulting trades on a ledger
type MatchingEngine struct {
	book   *Book
	ledger *Ledger
	now    func() time.Time
}

// NewMatchingEngine creates a matching engine over book and ledger
func NewMatchingEngine(book *Book, ledger *Ledger) *MatchingEngine {
	return &MatchingEngine{book: book, ledger: ledger, now: time.Now}
}

// Match crosses taker against the opposite side until it is filled or the
// best resting order no longer crosses its limit. Every trade executes at
// the resting order's price. Any remainder rests on the taker's own side and
// is returned as resting. nextSeq numbers the trades.
func (e *MatchingEngine) Match(taker *models.Order, nextSeq func() uint64) (trades []models.Trade, resting *models.Order) {
	for taker.Remaining > 0 {
		best, ok := e.book.BestOpposite(taker.Direction)
		if !ok || !crosses(taker.Direction, taker.LimitPrice, best.LimitPrice) {
			break
		}

		fill := min(taker.Remaining, best.Remaining)
		trade := models.Trade{
			Seq:        nextSeq(),
			MarketID:   taker.MarketID,
			Amount:     fill,
			Price:      best.LimitPrice,
			ExecutedAt: e.now(),
		}
		if taker.Direction == models.Buy {
			trade.BuyerID, trade.BuyOrderID = taker.UserID, taker.ID
			trade.SellerID, trade.SellOrderID = best.UserID, best.ID
		} else {
			trade.BuyerID, trade.BuyOrderID = best.UserID, best.ID
			trade.SellerID, trade.SellOrderID = taker.UserID, taker.ID
		}

		e.ledger.ApplyTrade(trade.BuyerID, trade.SellerID, trade.Amount, trade.Price)
		taker.Remaining -= fill
		e.book.ReduceOrRemoveBest(taker.Direction, fill)

		trades = append(trades, trade)
	}

	if taker.Remaining > 0 {
		e.book.Insert(taker)
		rest := *taker
		resting = &rest
	}
	return trades, resting
}
