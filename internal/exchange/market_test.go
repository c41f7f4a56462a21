package exchange

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/predictions/internal/models"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *eventRecorder) Notify(ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) kinds() []models.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func order(user string, d models.Direction, price string, amount int64) OrderRequest {
	return OrderRequest{UserID: user, Direction: d, Side: models.Yes, Price: dec(price), Amount: amount}
}

func TestMarket_Scenario(t *testing.T) {
	m := NewMarket("kyle-war", "Will Kyle start a war with Cartman?", nil)

	// A rests a bid: no asks to cross
	res, err := m.Submit(order("A", models.Buy, "0.6", 10))
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	require.NotNil(t, res.Resting)
	assert.Equal(t, int64(10), res.Resting.Remaining)

	// B sells below the bid and trades at the bid's price
	res, err = m.Submit(order("B", models.Sell, "0.5", 5))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, int64(5), res.Trades[0].Amount)
	assertDecimal(t, "0.6", res.Trades[0].Price)
	assert.Nil(t, res.Resting)

	a := res.Market.Accounts["A"]
	b := res.Market.Accounts["B"]
	assertDecimal(t, "997", a.Balance)
	assert.Equal(t, int64(5), a.Position)
	assertDecimal(t, "1003", b.Balance)
	assert.Equal(t, int64(-5), b.Position)

	bids := m.Orders(models.Buy)
	require.Len(t, bids, 1)
	assert.Equal(t, "A", bids[0].UserID)
	assert.Equal(t, int64(5), bids[0].Remaining)

	// YES wins
	final, err := m.Resolve(dec("1"))
	require.NoError(t, err)
	assertDecimal(t, "1002", final.FinalBalances["A"])
	assertDecimal(t, "998", final.FinalBalances["B"])
	assertDecimal(t, "2000", final.FinalBalances["A"].Add(final.FinalBalances["B"]))
	for id, acct := range final.Market.Accounts {
		assert.Equal(t, int64(0), acct.Position, "position of %s", id)
	}
	assert.Equal(t, models.StatusResolved, final.Market.Status)
	require.NotNil(t, final.Market.Outcome)
	assertDecimal(t, "1", *final.Market.Outcome)
}

func TestMarket_InvalidOrder(t *testing.T) {
	tests := []struct {
		name string
		req  OrderRequest
	}{
		{name: "ZeroAmount", req: order("A", models.Buy, "0.5", 0)},
		{name: "NegativeAmount", req: order("A", models.Buy, "0.5", -3)},
		{name: "ZeroPrice", req: order("A", models.Buy, "0", 1)},
		{name: "PriceOne", req: order("A", models.Sell, "1", 1)},
		{name: "PriceAboveOne", req: order("A", models.Sell, "1.2", 1)},
		{name: "NegativePrice", req: order("A", models.Buy, "-0.1", 1)},
		{name: "EmptyUser", req: order("", models.Buy, "0.5", 1)},
		{name: "BadDirection", req: OrderRequest{UserID: "A", Direction: "HOLD", Side: models.Yes, Price: dec("0.5"), Amount: 1}},
		{name: "BadSide", req: OrderRequest{UserID: "A", Direction: models.Buy, Side: "MAYBE", Price: dec("0.5"), Amount: 1}},
		{name: "AmountAboveMax", req: order("A", models.Buy, "0.5", MaxOrderAmount+1)},
		{name: "MaxInt64Amount", req: order("A", models.Sell, "0.5", math.MaxInt64)},
		{name: "TooPrecisePrice", req: order("A", models.Buy, "0.12345678901", 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &eventRecorder{}
			m := NewMarket("m", "q", rec)
			_, err := m.Submit(order("maker", models.Sell, "0.4", 3))
			require.NoError(t, err)
			before := m.Snapshot()

			_, err = m.Submit(tt.req)
			assert.True(t, errors.Is(err, ErrInvalidOrder), "got %v", err)

			after := m.Snapshot()
			assert.Equal(t, before.Version, after.Version)
			assert.Equal(t, before.Book, after.Book)
			assert.Equal(t, before.Accounts, after.Accounts, "rejected orders never provision accounts")
			assert.Len(t, rec.kinds(), 1, "rejected orders emit no event")
		})
	}
}

func TestMarket_HugeOrdersCannotCreateCash(t *testing.T) {
	m := NewMarket("m", "q", nil)

	_, err := m.Submit(order("B", models.Buy, "0.5", math.MaxInt64))
	assert.True(t, errors.Is(err, ErrInvalidOrder), "got %v", err)
	_, err = m.Submit(order("S", models.Sell, "0.5", math.MaxInt64))
	assert.True(t, errors.Is(err, ErrInvalidOrder), "got %v", err)

	// The largest legal orders still settle without creating cash
	for _, req := range []OrderRequest{
		order("B", models.Buy, "0.5", MaxOrderAmount),
		order("S", models.Sell, "0.5", MaxOrderAmount),
		order("C", models.Buy, "0.5", 2),
		order("S", models.Sell, "0.5", 2),
	} {
		_, err := m.Submit(req)
		require.NoError(t, err)
	}

	res, err := m.Resolve(dec("1"))
	require.NoError(t, err)
	total := decimal.Zero
	for _, bal := range res.FinalBalances {
		total = total.Add(bal)
	}
	assertDecimal(t, "3000", total)
}

func TestMarket_PositionLimit(t *testing.T) {
	m := NewMarket("m", "q", nil)
	m.ledger.GetOrCreateAccount("S").Position = -(MaxPosition - 5)

	_, err := m.Submit(order("S", models.Sell, "0.5", 10))
	assert.True(t, errors.Is(err, ErrInvalidOrder), "got %v", err)
	assert.Zero(t, m.Snapshot().Version)

	_, err = m.Submit(order("S", models.Sell, "0.5", 5))
	assert.NoError(t, err)
}

func TestMarket_RejectsAfterResolution(t *testing.T) {
	m := NewMarket("m", "q", nil)
	_, err := m.Submit(order("A", models.Buy, "0.5", 1))
	require.NoError(t, err)

	_, err = m.Resolve(dec("0"))
	require.NoError(t, err)

	_, err = m.Submit(order("B", models.Sell, "0.5", 1))
	assert.True(t, errors.Is(err, ErrAlreadyResolved))

	_, err = m.Resolve(dec("1"))
	assert.True(t, errors.Is(err, ErrAlreadyResolved))

	snap := m.Snapshot()
	assertDecimal(t, "0", *snap.Outcome)
	assert.Empty(t, snap.Trades)
}

func TestMarket_ResolveInvalidOutcome(t *testing.T) {
	m := NewMarket("m", "q", nil)
	_, err := m.Resolve(dec("0.5"))
	assert.True(t, errors.Is(err, ErrInvalidOutcome))
	assert.Equal(t, models.StatusOpen, m.Snapshot().Status)
}

func TestMarket_NoSideOrders(t *testing.T) {
	tests := []struct {
		name           string
		req            OrderRequest
		expectDir      models.Direction
		expectYesPrice string
	}{
		{
			name:           "BuyNoIsSellYes",
			req:            OrderRequest{UserID: "stan", Direction: models.Buy, Side: models.No, Price: dec("0.3"), Amount: 4},
			expectDir:      models.Sell,
			expectYesPrice: "0.7",
		},
		{
			name:           "SellNoIsBuyYes",
			req:            OrderRequest{UserID: "stan", Direction: models.Sell, Side: models.No, Price: dec("0.25"), Amount: 4},
			expectDir:      models.Buy,
			expectYesPrice: "0.75",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMarket("m", "q", nil)
			res, err := m.Submit(tt.req)
			require.NoError(t, err)
			require.NotNil(t, res.Resting)
			assert.Equal(t, tt.expectDir, res.Resting.Direction)
			assertDecimal(t, tt.expectYesPrice, res.Resting.LimitPrice)
			assert.Equal(t, models.No, res.Resting.Side)
			assertDecimal(t, tt.req.Price.String(), res.Resting.RequestedPrice)
			assert.Len(t, m.Orders(tt.expectDir), 1)
		})
	}
}

func TestMarket_NoBuyerCrossesYesBuyer(t *testing.T) {
	m := NewMarket("m", "q", nil)

	// Kenny pays 0.65 for YES, Stan pays 0.40 for NO: 0.65 + 0.40 >= 1 so they cross
	_, err := m.Submit(order("kenny", models.Buy, "0.65", 10))
	require.NoError(t, err)
	res, err := m.Submit(OrderRequest{UserID: "stan", Direction: models.Buy, Side: models.No, Price: dec("0.40"), Amount: 10})
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assertDecimal(t, "0.65", res.Trades[0].Price)
	assert.Equal(t, "kenny", res.Trades[0].BuyerID)
	assert.Equal(t, "stan", res.Trades[0].SellerID)

	stan := res.Market.Accounts["stan"]
	assert.Equal(t, int64(-10), stan.Position, "long NO is short YES")
	assertDecimal(t, "1006.5", stan.Balance)

	// NO wins: Stan keeps the premium, Kenny's YES shares expire worthless
	final, err := m.Resolve(dec("0"))
	require.NoError(t, err)
	assertDecimal(t, "1006.5", final.FinalBalances["stan"])
	assertDecimal(t, "993.5", final.FinalBalances["kenny"])
}

func TestMarket_Events(t *testing.T) {
	rec := &eventRecorder{}
	m := NewMarket("m", "q", rec)

	_, err := m.Submit(order("A", models.Buy, "0.6", 10))
	require.NoError(t, err)
	_, err = m.Submit(order("B", models.Sell, "0.5", 5))
	require.NoError(t, err)
	_, err = m.Resolve(dec("1"))
	require.NoError(t, err)
	_, err = m.Resolve(dec("1"))
	require.Error(t, err)

	assert.Equal(t, []models.EventKind{
		models.EventMarketUpdated,
		models.EventMarketUpdated,
		models.EventMarketResolved,
	}, rec.kinds())

	assert.Empty(t, rec.events[0].Trades)
	assert.Len(t, rec.events[1].Trades, 1)
	assert.Equal(t, uint64(2), rec.events[1].Market.Version)
	require.NotNil(t, rec.events[2].Outcome)
	assertDecimal(t, "1002", rec.events[2].Balances["A"])
}

func TestMarket_Account(t *testing.T) {
	m := NewMarket("m", "q", nil)
	acct := m.Account("nobody")
	assertDecimal(t, "1000", acct.Balance)
	assert.NotContains(t, m.Snapshot().Accounts, "nobody", "reading an account does not provision it")
}

func TestMarket_SnapshotIsACopy(t *testing.T) {
	m := NewMarket("m", "q", nil)
	_, err := m.Submit(order("A", models.Buy, "0.6", 1))
	require.NoError(t, err)
	_, err = m.Submit(order("B", models.Sell, "0.6", 1))
	require.NoError(t, err)

	snap := m.Snapshot()
	snap.Trades[0].Amount = 99
	snap.Accounts["A"] = models.Account{}

	again := m.Snapshot()
	assert.Equal(t, int64(1), again.Trades[0].Amount)
	assert.Equal(t, int64(1), again.Accounts["A"].Position)
	require.NotNil(t, again.LastPrice)
	assertDecimal(t, "0.6", *again.LastPrice)
}

// Random order flow must never leave the book crossed and must conserve
// cash and shares at every step
func TestMarket_RandomFlowInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	users := []string{"cartman", "stan", "kenny", "butters", "kyle"}
	directions := []models.Direction{models.Buy, models.Sell}
	sides := []models.Side{models.Yes, models.No}

	m := NewMarket("m", "q", nil)
	for i := 0; i < 2000; i++ {
		req := OrderRequest{
			UserID:    users[rng.Intn(len(users))],
			Direction: directions[rng.Intn(2)],
			Side:      sides[rng.Intn(2)],
			Price:     decimal.New(int64(rng.Intn(99)+1), -2),
			Amount:    int64(rng.Intn(20) + 1),
		}
		res, err := m.Submit(req)
		require.NoError(t, err)

		var filled int64
		for _, tr := range res.Trades {
			filled += tr.Amount
		}
		if res.Resting != nil {
			filled += res.Resting.Remaining
		}
		require.Equal(t, req.Amount, filled, "step %d: filled plus resting equals the order amount", i)

		m.mu.Lock()
		require.False(t, m.book.Crossed(), "step %d: book crossed", i)
		n := int64(len(m.ledger.accounts))
		require.True(t, m.ledger.TotalBalance().Equal(DefaultBalance.Mul(decimal.NewFromInt(n))), "step %d: cash not conserved", i)
		require.Equal(t, int64(0), m.ledger.TotalPosition(), "step %d: positions not conserved", i)
		m.mu.Unlock()
	}

	res, err := m.Resolve(decimal.NewFromInt(1))
	require.NoError(t, err)
	total := decimal.Zero
	for _, bal := range res.FinalBalances {
		total = total.Add(bal)
	}
	assertDecimal(t, fmt.Sprint(1000*len(res.FinalBalances)), total)
	for _, acct := range res.Market.Accounts {
		assert.Equal(t, int64(0), acct.Position)
	}
}

func TestMarket_ConcurrentSubmit(t *testing.T) {
	m := NewMarket("m", "q", nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := models.Buy
			if i%2 == 1 {
				d = models.Sell
			}
			for j := 0; j < 100; j++ {
				_, err := m.Submit(order(fmt.Sprintf("user-%d", i), d, "0.5", 1))
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	snap := m.Snapshot()
	assert.Len(t, snap.Trades, 400, "every buy meets a sell at the same price")
	assert.Empty(t, snap.Book.Bids)
	assert.Empty(t, snap.Book.Asks)
	assert.Equal(t, uint64(800), snap.Version)
}
