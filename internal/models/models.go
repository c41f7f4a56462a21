package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents a registered trader
type User struct {
	ID           int
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Direction is the trading direction of an order on the YES contract
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Opposite returns the other direction
func (d Direction) Opposite() Direction {
	if d == Buy {
		return Sell
	}
	return Buy
}

// Valid reports whether d is Buy or Sell
func (d Direction) Valid() bool {
	return d == Buy || d == Sell
}

// Side is the outcome contract an order was expressed on
type Side string

const (
	Yes Side = "YES"
	No  Side = "NO"
)

// Valid reports whether s is Yes or No
func (s Side) Valid() bool {
	return s == Yes || s == No
}

// MarketStatus is the lifecycle state of a market. Resolved is terminal.
type MarketStatus string

const (
	StatusOpen     MarketStatus = "open"
	StatusResolved MarketStatus = "resolved"
)

// Order is a resting or incoming limit order.
// Direction and LimitPrice are always expressed on the YES contract; Side and
// RequestedPrice keep what the trader actually submitted.
type Order struct {
	ID             string          `json:"id"`
	MarketID       string          `json:"market_id"`
	UserID         string          `json:"user_id"`
	Direction      Direction       `json:"direction"`
	LimitPrice     decimal.Decimal `json:"limit_price"`
	Side           Side            `json:"side"`
	RequestedPrice decimal.Decimal `json:"requested_price"`
	Amount         int64           `json:"amount"`
	Remaining      int64           `json:"remaining"`
	Seq            uint64          `json:"seq"` // Used for time priority
	CreatedAt      time.Time       `json:"created_at"`
}

// Trade represents an executed cross between a maker and a taker
type Trade struct {
	Seq         uint64          `json:"seq"`
	MarketID    string          `json:"market_id"`
	BuyerID     string          `json:"buyer_id"`
	SellerID    string          `json:"seller_id"`
	BuyOrderID  string          `json:"buy_order_id"`
	SellOrderID string          `json:"sell_order_id"`
	Amount      int64           `json:"amount"`
	Price       decimal.Decimal `json:"price"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

// Account is a trader's cash and net YES position within one market
type Account struct {
	Balance  decimal.Decimal `json:"balance"`
	Position int64           `json:"position"`
}

// PriceLevel aggregates the resting orders at one price
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount int64           `json:"amount"`
	Orders int             `json:"orders"`
}

// BookSummary is the depth view of a market's order book
type BookSummary struct {
	Bids    []PriceLevel     `json:"bids"`
	Asks    []PriceLevel     `json:"asks"`
	BestBid *decimal.Decimal `json:"best_bid,omitempty"`
	BestAsk *decimal.Decimal `json:"best_ask,omitempty"`
}

// MarketSnapshot is a consistent copy of a market's state
type MarketSnapshot struct {
	ID        string             `json:"id"`
	Question  string             `json:"question"`
	Status    MarketStatus       `json:"status"`
	Outcome   *decimal.Decimal   `json:"outcome,omitempty"`
	Version   uint64             `json:"version"`
	CreatedAt time.Time          `json:"created_at"`
	Book      BookSummary        `json:"book"`
	LastPrice *decimal.Decimal   `json:"last_price,omitempty"`
	Trades    []Trade            `json:"trades"`
	Accounts  map[string]Account `json:"accounts"`
}

// EventKind distinguishes the notifications emitted by the exchange
type EventKind string

const (
	EventMarketCreated  EventKind = "NEW_MARKET"
	EventMarketUpdated  EventKind = "UPDATE_MARKET"
	EventMarketResolved EventKind = "MARKET_RESOLVED"
)

// Event is emitted exactly once per market mutation.
// Trades holds only the trades produced by that mutation.
type Event struct {
	Type     EventKind                  `json:"type"`
	MarketID string                     `json:"market_id"`
	Trades   []Trade                    `json:"trades,omitempty"`
	Outcome  *decimal.Decimal           `json:"outcome,omitempty"`
	Balances map[string]decimal.Decimal `json:"final_balances,omitempty"`
	Market   MarketSnapshot             `json:"market"`
}
