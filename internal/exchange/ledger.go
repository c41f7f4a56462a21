package exchange

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/predictions/internal/models"
)

// DefaultBalance is the cash every account starts with in a market
var DefaultBalance = decimal.NewFromInt(1000)

// Ledger tracks balances and positions for the traders of one market.
// It has no locking of its own; the owning Market serializes access.
type Ledger struct {
	accounts map[string]*models.Account
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{accounts: make(map[string]*models.Account)}
}

// GetOrCreateAccount returns the account for userID, provisioning it with
// DefaultBalance and a flat position on first reference
func (l *Ledger) GetOrCreateAccount(userID string) *models.Account {
	acct, ok := l.accounts[userID]
	if !ok {
		acct = &models.Account{Balance: DefaultBalance, Position: 0}
		l.accounts[userID] = acct
	}
	return acct
}

// Account returns a copy of the account for userID without provisioning it
func (l *Ledger) Account(userID string) (models.Account, bool) {
	acct, ok := l.accounts[userID]
	if !ok {
		return models.Account{}, false
	}
	return *acct, true
}

// ApplyTrade moves amount*price cash from buyer to seller and amount
// shares from seller to buyer
func (l *Ledger) ApplyTrade(buyerID, sellerID string, amount int64, price decimal.Decimal) {
	cost := price.Mul(decimal.NewFromInt(amount))

	buyer := l.GetOrCreateAccount(buyerID)
	seller := l.GetOrCreateAccount(sellerID)

	buyer.Balance = buyer.Balance.Sub(cost)
	buyer.Position += amount
	seller.Balance = seller.Balance.Add(cost)
	seller.Position -= amount
}

// Accounts returns a copy of every account keyed by user id
func (l *Ledger) Accounts() map[string]models.Account {
	out := make(map[string]models.Account, len(l.accounts))
	for id, acct := range l.accounts {
		out[id] = *acct
	}
	return out
}

// UserIDs returns the known user ids in sorted order
func (l *Ledger) UserIDs() []string {
	ids := make([]string, 0, len(l.accounts))
	for id := range l.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TotalBalance sums every account's balance
func (l *Ledger) TotalBalance() decimal.Decimal {
	total := decimal.Zero
	for _, acct := range l.accounts {
		total = total.Add(acct.Balance)
	}
	return total
}

// TotalPosition sums every account's position
func (l *Ledger) TotalPosition() int64 {
	var total int64
	for _, acct := range l.accounts {
		total += acct.Position
	}
	return total
}
