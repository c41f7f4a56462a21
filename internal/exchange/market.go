package exchange

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/predictions/internal/models"
)

var one = decimal.NewFromInt(1)

const (
	// MaxOrderAmount caps a single order so fills can never overflow a position
	MaxOrderAmount int64 = 1_000_000_000
	// MaxPosition caps the absolute position a taker may hold after its order fills
	MaxPosition int64 = 1_000_000_000_000
	// MaxPriceDecimals is the finest price increment the archive stores exactly
	MaxPriceDecimals = 10
)

// OrderRequest is a trader's intent before it becomes a book order
type OrderRequest struct {
	UserID    string
	Direction models.Direction
	Side      models.Side
	Price     decimal.Decimal
	Amount    int64
}

// Validate rejects requests that must never reach the book
func (r OrderRequest) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: user id required", ErrInvalidOrder)
	}
	if !r.Direction.Valid() {
		return fmt.Errorf("%w: direction must be BUY or SELL", ErrInvalidOrder)
	}
	if !r.Side.Valid() {
		return fmt.Errorf("%w: side must be YES or NO", ErrInvalidOrder)
	}
	if r.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidOrder)
	}
	if r.Amount > MaxOrderAmount {
		return fmt.Errorf("%w: amount exceeds %d", ErrInvalidOrder, MaxOrderAmount)
	}
	if !r.Price.IsPositive() || r.Price.GreaterThanOrEqual(one) {
		return fmt.Errorf("%w: price must be between 0 and 1 exclusive", ErrInvalidOrder)
	}
	if !r.Price.Equal(r.Price.Truncate(MaxPriceDecimals)) {
		return fmt.Errorf("%w: price has more than %d decimal places", ErrInvalidOrder, MaxPriceDecimals)
	}
	return nil
}

// yesTerms expresses the request on the YES contract.
// Buying NO at p is selling YES at 1-p, and selling NO at p is buying YES at 1-p.
func (r OrderRequest) yesTerms() (models.Direction, decimal.Decimal) {
	if r.Side == models.No {
		return r.Direction.Opposite(), one.Sub(r.Price)
	}
	return r.Direction, r.Price
}

// SubmitResult is the outcome of one accepted order
type SubmitResult struct {
	Order   models.Order
	Trades  []models.Trade
	Resting *models.Order
	Market  models.MarketSnapshot
}

// ResolveResult is the outcome of settling a market
type ResolveResult struct {
	FinalBalances map[string]decimal.Decimal
	Market        models.MarketSnapshot
}

// Market owns the book, ledger and trade history of one question.
// All mutations hold mu for their whole duration.
type Market struct {
	mu sync.Mutex

	id        string
	question  string
	createdAt time.Time
	status    models.MarketStatus
	outcome   *decimal.Decimal
	version   uint64
	orderSeq  uint64
	tradeSeq  uint64

	book    *Book
	ledger  *Ledger
	engine  *MatchingEngine
	trades  []models.Trade
	notify  Notifier
	now     func() time.Time
	orderID func() string
}

// NewMarket creates an open market
func NewMarket(id, question string, notify Notifier) *Market {
	if notify == nil {
		notify = nopNotifier{}
	}
	book := NewBook()
	ledger := NewLedger()
	m := &Market{
		id:       id,
		question: question,
		status:   models.StatusOpen,
		book:     book,
		ledger:   ledger,
		engine:   NewMatchingEngine(book, ledger),
		notify:   notify,
		now:      time.Now,
		orderID:  uuid.NewString,
	}
	m.createdAt = m.now()
	return m
}

// ID returns the market id
func (m *Market) ID() string {
	return m.id
}

// Submit validates req, crosses it against the book and rests any remainder
func (m *Market) Submit(req OrderRequest) (SubmitResult, error) {
	if err := req.Validate(); err != nil {
		return SubmitResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == models.StatusResolved {
		return SubmitResult{}, fmt.Errorf("%w: %s", ErrAlreadyResolved, m.id)
	}

	if acct, ok := m.ledger.Account(req.UserID); ok && !withinPositionLimit(acct.Position, req.Amount) {
		return SubmitResult{}, fmt.Errorf("%w: position would exceed %d", ErrInvalidOrder, MaxPosition)
	}
	m.ledger.GetOrCreateAccount(req.UserID)

	direction, price := req.yesTerms()
	m.orderSeq++
	order := &models.Order{
		ID:             m.orderID(),
		MarketID:       m.id,
		UserID:         req.UserID,
		Direction:      direction,
		LimitPrice:     price,
		Side:           req.Side,
		RequestedPrice: req.Price,
		Amount:         req.Amount,
		Remaining:      req.Amount,
		Seq:            m.orderSeq,
		CreatedAt:      m.now(),
	}
	submitted := *order

	trades, resting := m.engine.Match(order, m.nextTradeSeq)
	m.trades = append(m.trades, trades...)
	m.version++

	snap := m.snapshotLocked()
	m.notify.Notify(models.Event{
		Type:     models.EventMarketUpdated,
		MarketID: m.id,
		Trades:   trades,
		Market:   snap,
	})

	return SubmitResult{Order: submitted, Trades: trades, Resting: resting, Market: snap}, nil
}

// Resolve settles every position at outcome and closes the market for good
func (m *Market) Resolve(outcome decimal.Decimal) (ResolveResult, error) {
	if err := ValidateOutcome(outcome); err != nil {
		return ResolveResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == models.StatusResolved {
		return ResolveResult{}, fmt.Errorf("%w: %s", ErrAlreadyResolved, m.id)
	}

	final := Settle(m.ledger, outcome)
	m.status = models.StatusResolved
	m.outcome = &outcome
	m.version++

	snap := m.snapshotLocked()
	m.notify.Notify(models.Event{
		Type:     models.EventMarketResolved,
		MarketID: m.id,
		Outcome:  &outcome,
		Balances: final,
		Market:   snap,
	})

	return ResolveResult{FinalBalances: final, Market: snap}, nil
}

// Snapshot returns a consistent copy of the market state
func (m *Market) Snapshot() models.MarketSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Account returns userID's account, or the default account if the user has
// never traded here. Reading never provisions.
func (m *Market) Account(userID string) models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	if acct, ok := m.ledger.Account(userID); ok {
		return acct
	}
	return models.Account{Balance: DefaultBalance}
}

// Orders returns the resting orders on side d in priority order
func (m *Market) Orders(d models.Direction) []models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.Orders(d)
}

// withinPositionLimit reports whether an order of amount can fill fully in
// either direction without taking position past MaxPosition
func withinPositionLimit(position, amount int64) bool {
	if position < 0 {
		position = -position
	}
	return position <= MaxPosition-amount
}

func (m *Market) nextTradeSeq() uint64 {
	m.tradeSeq++
	return m.tradeSeq
}

func (m *Market) snapshotLocked() models.MarketSnapshot {
	trades := make([]models.Trade, len(m.trades))
	copy(trades, m.trades)

	snap := models.MarketSnapshot{
		ID:        m.id,
		Question:  m.question,
		Status:    m.status,
		Version:   m.version,
		CreatedAt: m.createdAt,
		Book:      m.book.Summary(),
		Trades:    trades,
		Accounts:  m.ledger.Accounts(),
	}
	if m.outcome != nil {
		o := *m.outcome
		snap.Outcome = &o
	}
	if n := len(trades); n > 0 {
		p := trades[n-1].Price
		snap.LastPrice = &p
	}
	return snap
}
