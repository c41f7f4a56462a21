package exchange

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/predictions/internal/models"
)

// Notifier receives one event per market mutation.
// Notify is called while the market is locked and must not block.
type Notifier interface {
	Notify(ev models.Event)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ev models.Event)

// Notify calls f(ev)
func (f NotifierFunc) Notify(ev models.Event) { f(ev) }

type nopNotifier struct{}

func (nopNotifier) Notify(models.Event) {}

// Exchange is the registry of markets. Markets are created explicitly and
// live for the lifetime of the process; each is locked independently.
type Exchange struct {
	mu      sync.RWMutex
	markets map[string]*Market
	ids     []string // creation order

	notifier Notifier
	log      *zap.SugaredLogger
	marketID func(question string) string
}

// Option configures an Exchange
type Option func(*Exchange)

// WithNotifier sets the event notifier
func WithNotifier(n Notifier) Option {
	return func(e *Exchange) { e.notifier = n }
}

// WithLogger sets the logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Exchange) { e.log = l }
}

// WithMarketIDFunc overrides market id generation
func WithMarketIDFunc(f func(question string) string) Option {
	return func(e *Exchange) { e.marketID = f }
}

// NewExchange creates an exchange with no markets
func NewExchange(opts ...Option) *Exchange {
	e := &Exchange{
		markets:  make(map[string]*Market),
		notifier: nopNotifier{},
		log:      zap.NewNop().Sugar(),
		marketID: MarketID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateMarket opens a new market for question
func (e *Exchange) CreateMarket(question string) (models.MarketSnapshot, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return models.MarketSnapshot{}, fmt.Errorf("%w: question required", ErrInvalidMarket)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.marketID(question)
	if _, exists := e.markets[id]; exists {
		return models.MarketSnapshot{}, fmt.Errorf("%w: market %s already exists", ErrInvalidMarket, id)
	}

	m := NewMarket(id, question, e.notifier)
	e.markets[id] = m
	e.ids = append(e.ids, id)

	snap := m.Snapshot()
	e.notifier.Notify(models.Event{
		Type:     models.EventMarketCreated,
		MarketID: id,
		Market:   snap,
	})
	e.log.Infow("market created", "market_id", id, "question", question)
	return snap, nil
}

// Market returns the market with the given id
func (e *Exchange) Market(marketID string) (*Market, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.markets[marketID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, marketID)
	}
	return m, nil
}

// SubmitOrder places an order on a market and matches it
func (e *Exchange) SubmitOrder(marketID string, req OrderRequest) (SubmitResult, error) {
	m, err := e.Market(marketID)
	if err != nil {
		return SubmitResult{}, err
	}

	res, err := m.Submit(req)
	if err != nil {
		e.log.Warnw("order rejected", "market_id", marketID, "user_id", req.UserID, "error", err)
		return SubmitResult{}, err
	}

	for _, t := range res.Trades {
		e.log.Infow("trade",
			"market_id", marketID,
			"seq", t.Seq,
			"amount", t.Amount,
			"price", t.Price.String(),
			"buyer", t.BuyerID,
			"seller", t.SellerID,
		)
	}
	return res, nil
}

// ResolveMarket settles a market at outcome
func (e *Exchange) ResolveMarket(marketID string, outcome decimal.Decimal) (ResolveResult, error) {
	m, err := e.Market(marketID)
	if err != nil {
		return ResolveResult{}, err
	}

	res, err := m.Resolve(outcome)
	if err != nil {
		e.log.Warnw("resolution rejected", "market_id", marketID, "outcome", outcome.String(), "error", err)
		return ResolveResult{}, err
	}
	e.log.Infow("market resolved", "market_id", marketID, "outcome", outcome.String(), "accounts", len(res.FinalBalances))
	return res, nil
}

// GetMarketSnapshot returns the current state of a market
func (e *Exchange) GetMarketSnapshot(marketID string) (models.MarketSnapshot, error) {
	m, err := e.Market(marketID)
	if err != nil {
		return models.MarketSnapshot{}, err
	}
	return m.Snapshot(), nil
}

// GetAccount returns a user's account in a market without provisioning it
func (e *Exchange) GetAccount(marketID, userID string) (models.Account, error) {
	m, err := e.Market(marketID)
	if err != nil {
		return models.Account{}, err
	}
	return m.Account(userID), nil
}

// ListMarkets returns snapshots of all markets in creation order
func (e *Exchange) ListMarkets() []models.MarketSnapshot {
	e.mu.RLock()
	markets := make([]*Market, 0, len(e.ids))
	for _, id := range e.ids {
		markets = append(markets, e.markets[id])
	}
	e.mu.RUnlock()

	out := make([]models.MarketSnapshot, 0, len(markets))
	for _, m := range markets {
		out = append(out, m.Snapshot())
	}
	return out
}

// MarketID derives a market id from its question: a lowercase slug plus a
// short random suffix
func MarketID(question string) string {
	return Slug(question) + "-" + uuid.NewString()[:8]
}

// Slug lowercases s and joins its letter and digit runs with dashes
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	if b.Len() == 0 {
		return "market"
	}
	return b.String()
}
