package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidateOutcome accepts only a binary outcome: 1 (YES) or 0 (NO)
func ValidateOutcome(outcome decimal.Decimal) error {
	if !outcome.Equal(decimal.Zero) && !outcome.Equal(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: got %s", ErrInvalidOutcome, outcome)
	}
	return nil
}

// Settle pays every open position at the outcome price and flattens it.
// Positions are zeroed, so settling the same ledger again changes nothing.
// Accounts are settled in user id order. It returns the final balance of
// every account.
func Settle(l *Ledger, outcome decimal.Decimal) map[string]decimal.Decimal {
	final := make(map[string]decimal.Decimal, len(l.accounts))
	for _, id := range l.UserIDs() {
		acct := l.accounts[id]
		payout := outcome.Mul(decimal.NewFromInt(acct.Position))
		acct.Balance = acct.Balance.Add(payout)
		acct.Position = 0
		final[id] = acct.Balance
	}
	return final
}
