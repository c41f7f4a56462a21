package exchange

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "expected %s, got %s", want, got.String())
}

func TestLedger_GetOrCreateAccount(t *testing.T) {
	l := NewLedger()

	_, ok := l.Account("alice")
	assert.False(t, ok)

	acct := l.GetOrCreateAccount("alice")
	assertDecimal(t, "1000", acct.Balance)
	assert.Equal(t, int64(0), acct.Position)

	acct.Position = 7
	again := l.GetOrCreateAccount("alice")
	assert.Equal(t, int64(7), again.Position, "second reference returns the same account")
}

func TestLedger_ApplyTrade(t *testing.T) {
	l := NewLedger()
	l.ApplyTrade("alice", "bob", 5, dec("0.6"))

	alice, _ := l.Account("alice")
	bob, _ := l.Account("bob")

	assertDecimal(t, "997", alice.Balance)
	assert.Equal(t, int64(5), alice.Position)
	assertDecimal(t, "1003", bob.Balance)
	assert.Equal(t, int64(-5), bob.Position)

	assertDecimal(t, "2000", l.TotalBalance())
	assert.Equal(t, int64(0), l.TotalPosition())
}

func TestLedger_ApplyTradeSelf(t *testing.T) {
	l := NewLedger()
	l.ApplyTrade("alice", "alice", 4, dec("0.25"))

	alice, _ := l.Account("alice")
	assertDecimal(t, "1000", alice.Balance)
	assert.Equal(t, int64(0), alice.Position)
}

func TestLedger_UserIDs(t *testing.T) {
	l := NewLedger()
	l.GetOrCreateAccount("stan")
	l.GetOrCreateAccount("butters")
	l.GetOrCreateAccount("kenny")
	assert.Equal(t, []string{"butters", "kenny", "stan"}, l.UserIDs())
}

func TestValidateOutcome(t *testing.T) {
	tests := []struct {
		name        string
		outcome     string
		expectError bool
	}{
		{name: "Yes", outcome: "1", expectError: false},
		{name: "No", outcome: "0", expectError: false},
		{name: "YesWithScale", outcome: "1.00", expectError: false},
		{name: "Half", outcome: "0.5", expectError: true},
		{name: "Negative", outcome: "-1", expectError: true},
		{name: "Two", outcome: "2", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOutcome(dec(tt.outcome))
			if tt.expectError {
				assert.True(t, errors.Is(err, ErrInvalidOutcome))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSettle(t *testing.T) {
	tests := []struct {
		name         string
		outcome      string
		expectAlice  string
		expectBob    string
		expectCharly string
	}{
		{name: "YesWins", outcome: "1", expectAlice: "1002", expectBob: "998", expectCharly: "1000"},
		{name: "NoWins", outcome: "0", expectAlice: "997", expectBob: "1003", expectCharly: "1000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLedger()
			l.ApplyTrade("alice", "bob", 5, dec("0.6"))
			l.GetOrCreateAccount("charly")

			final := Settle(l, dec(tt.outcome))

			require.Len(t, final, 3)
			assertDecimal(t, tt.expectAlice, final["alice"])
			assertDecimal(t, tt.expectBob, final["bob"])
			assertDecimal(t, tt.expectCharly, final["charly"])

			for id, acct := range l.Accounts() {
				assert.Equal(t, int64(0), acct.Position, "position of %s", id)
			}
			// Net position is zero, so settlement moves cash but creates none
			assertDecimal(t, "3000", l.TotalBalance())
		})
	}
}

func TestSettle_SecondCallIsNoop(t *testing.T) {
	l := NewLedger()
	l.ApplyTrade("alice", "bob", 5, dec("0.6"))

	first := Settle(l, dec("1"))
	second := Settle(l, dec("1"))

	for id, bal := range first {
		assertDecimal(t, bal.String(), second[id])
	}
}
