package exchange

import (
	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/predictions/internal/models"
)

// btreeDegree is the fan-out of each side's tree
const btreeDegree = 32

// Book holds the resting orders of one market.
// Bids are kept highest price first, asks lowest price first; equal prices
// fall back to the order sequence so earlier orders match first.
type Book struct {
	bids *btree.BTreeG[*models.Order]
	asks *btree.BTreeG[*models.Order]
}

// NewBook creates an empty order book
func NewBook() *Book {
	return &Book{
		bids: btree.NewG(btreeDegree, bidLess),
		asks: btree.NewG(btreeDegree, askLess),
	}
}

func bidLess(a, b *models.Order) bool {
	if c := a.LimitPrice.Cmp(b.LimitPrice); c != 0 {
		return c > 0
	}
	return a.Seq < b.Seq
}

func askLess(a, b *models.Order) bool {
	if c := a.LimitPrice.Cmp(b.LimitPrice); c != 0 {
		return c < 0
	}
	return a.Seq < b.Seq
}

func (b *Book) side(d models.Direction) *btree.BTreeG[*models.Order] {
	if d == models.Buy {
		return b.bids
	}
	return b.asks
}

// Insert rests an order on its own side of the book.
// Orders with nothing remaining are never inserted.
func (b *Book) Insert(order *models.Order) {
	if order.Remaining <= 0 {
		return
	}
	b.side(order.Direction).ReplaceOrInsert(order)
}

// BestOpposite returns the best resting order an incoming order of
// direction d would cross against
func (b *Book) BestOpposite(d models.Direction) (*models.Order, bool) {
	return b.side(d.Opposite()).Min()
}

// ReduceOrRemoveBest fills amount from the best order opposite to d and
// removes it from the book once nothing remains
func (b *Book) ReduceOrRemoveBest(d models.Direction, amount int64) {
	tree := b.side(d.Opposite())
	best, ok := tree.Min()
	if !ok {
		return
	}
	best.Remaining -= amount
	if best.Remaining <= 0 {
		tree.DeleteMin()
	}
}

// Best returns the best resting order on side d
func (b *Book) Best(d models.Direction) (*models.Order, bool) {
	return b.side(d).Min()
}

// Len returns the number of resting orders on side d
func (b *Book) Len(d models.Direction) int {
	return b.side(d).Len()
}

// Orders returns copies of the resting orders on side d in priority order
func (b *Book) Orders(d models.Direction) []models.Order {
	tree := b.side(d)
	out := make([]models.Order, 0, tree.Len())
	tree.Ascend(func(o *models.Order) bool {
		out = append(out, *o)
		return true
	})
	return out
}

// Depth aggregates side d into price levels, best first
func (b *Book) Depth(d models.Direction) []models.PriceLevel {
	levels := []models.PriceLevel{}
	b.side(d).Ascend(func(o *models.Order) bool {
		n := len(levels)
		if n > 0 && levels[n-1].Price.Equal(o.LimitPrice) {
			levels[n-1].Amount += o.Remaining
			levels[n-1].Orders++
			return true
		}
		levels = append(levels, models.PriceLevel{Price: o.LimitPrice, Amount: o.Remaining, Orders: 1})
		return true
	})
	return levels
}

// Summary returns the depth view of both sides
func (b *Book) Summary() models.BookSummary {
	s := models.BookSummary{
		Bids: b.Depth(models.Buy),
		Asks: b.Depth(models.Sell),
	}
	if best, ok := b.Best(models.Buy); ok {
		p := best.LimitPrice
		s.BestBid = &p
	}
	if best, ok := b.Best(models.Sell); ok {
		p := best.LimitPrice
		s.BestAsk = &p
	}
	return s
}

// Crossed reports whether the best bid is at or above the best ask
func (b *Book) Crossed() bool {
	bid, okBid := b.Best(models.Buy)
	ask, okAsk := b.Best(models.Sell)
	if !okBid || !okAsk {
		return false
	}
	return bid.LimitPrice.GreaterThanOrEqual(ask.LimitPrice)
}

// crosses reports whether a taker with the given direction and limit
// would trade against a maker resting at makerPrice
func crosses(d models.Direction, limit, makerPrice decimal.Decimal) bool {
	if d == models.Buy {
		return limit.GreaterThanOrEqual(makerPrice)
	}
	return limit.LessThanOrEqual(makerPrice)
}
