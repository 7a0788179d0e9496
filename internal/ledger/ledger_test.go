package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finquest/portfolio-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newFantasy() *Ledger {
	return New(Config{InitialCash: d(100000)})
}

// --- Scenarios ---

func TestScenarios_BuyBuySell(t *testing.T) {
	l := newFantasy()

	// A: first buy opens the holding at the trade price.
	_, err := l.Buy("X", d(10), d(50))
	require.NoError(t, err)
	assert.True(t, l.Cash().Equal(d(99500)), "cash=%s", l.Cash())
	h, ok := l.Holding("X")
	require.True(t, ok)
	assert.True(t, h.Quantity.Equal(d(10)))
	assert.True(t, h.AverageCost.Equal(d(50)))

	// B: second buy reweights the average cost.
	_, err = l.Buy("X", d(10), d(70))
	require.NoError(t, err)
	h, _ = l.Holding("X")
	assert.True(t, h.Quantity.Equal(d(20)))
	assert.True(t, h.AverageCost.Equal(d(60)), "avg=%s", h.AverageCost)
	assert.True(t, l.Cash().Equal(d(98800)), "cash=%s", l.Cash())

	// C: sell credits cash and keeps the average cost.
	tr, err := l.Sell("X", d(5), d(80))
	require.NoError(t, err)
	assert.Equal(t, model.SideSell, tr.Side)
	assert.True(t, tr.Amount.Equal(d(400)))
	assert.True(t, l.Cash().Equal(d(99200)), "cash=%s", l.Cash())
	h, _ = l.Holding("X")
	assert.True(t, h.Quantity.Equal(d(15)))
	assert.True(t, h.AverageCost.Equal(d(60)))

	// D: overselling fails and changes nothing.
	before := l.Portfolio()
	_, err = l.Sell("X", d(999), d(80))
	assert.ErrorIs(t, err, ErrInsufficientShares)
	assert.Equal(t, before, l.Portfolio())
}

func TestBuy_InsufficientFunds(t *testing.T) {
	l := newFantasy()
	before := l.Portfolio()

	_, err := l.Buy("X", d(1), d(100001))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, before, l.Portfolio())
}

func TestBuy_ExactCashAllowed(t *testing.T) {
	l := newFantasy()
	_, err := l.Buy("X", d(1000), d(100))
	require.NoError(t, err)
	assert.True(t, l.Cash().IsZero())
}

func TestReset_RestoresInitialState(t *testing.T) {
	l := newFantasy()
	_, _ = l.Buy("X", d(10), d(50))
	_, _ = l.Buy("Y", d(3), d(20))

	p := l.Reset()
	assert.True(t, p.Cash.Equal(d(100000)))
	assert.Empty(t, p.Holdings)

	again := l.Reset()
	assert.Equal(t, p, again)
}

func TestSell_NoSuchHolding(t *testing.T) {
	l := newFantasy()
	_, err := l.Sell("NOPE", d(1), d(10))
	assert.ErrorIs(t, err, ErrNoSuchHolding)
}

func TestSell_ExhaustRemovesHolding(t *testing.T) {
	l := newFantasy()
	_, _ = l.Buy("X", d(10), d(50))
	_, err := l.Sell("X", d(10), d(55))
	require.NoError(t, err)

	_, ok := l.Holding("X")
	assert.False(t, ok, "holding should be removed at zero quantity")
	assert.True(t, l.Cash().Equal(d(100050)))
}

func TestInvalidInputs(t *testing.T) {
	l := newFantasy()

	tests := []struct {
		name    string
		op      func() error
		wantErr error
	}{
		{"zero buy", func() error { _, err := l.Buy("X", d(0), d(10)); return err }, ErrInvalidQuantity},
		{"negative buy", func() error { _, err := l.Buy("X", d(-1), d(10)); return err }, ErrInvalidQuantity},
		{"fractional on integer ledger", func() error { _, err := l.Buy("X", d(1.5), d(10)); return err }, ErrInvalidQuantity},
		{"zero price", func() error { _, err := l.Buy("X", d(1), d(0)); return err }, ErrInvalidPrice},
		{"zero sell", func() error { _, err := l.Sell("X", d(0), d(10)); return err }, ErrInvalidQuantity},
		{"value buy on integer ledger", func() error { _, err := l.BuyValue("X", d(100), d(10)); return err }, ErrInvalidQuantity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.op(), tt.wantErr)
		})
	}
	assert.True(t, l.Cash().Equal(d(100000)))
	assert.Empty(t, l.Portfolio().Holdings)
}

func TestFractional_BuyValue(t *testing.T) {
	l := New(Config{InitialCash: d(100000), AllowFractionalShares: true})

	tr, err := l.BuyValue("AAPL", d(1000), d(3))
	require.NoError(t, err)
	assert.True(t, tr.Quantity.Equal(decimal.RequireFromString("333.33333333")), "qty=%s", tr.Quantity)
	assert.True(t, tr.Amount.LessThanOrEqual(d(1000)))
	assert.True(t, l.Cash().Equal(d(100000).Sub(tr.Amount)))

	_, err = l.BuyValue("AAPL", d(200000), d(3))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestFractional_SellPartial(t *testing.T) {
	l := New(Config{InitialCash: d(1000), AllowFractionalShares: true})
	_, err := l.Buy("MSFT", d(2.5), d(100))
	require.NoError(t, err)

	_, err = l.Sell("MSFT", d(0.25), d(120))
	require.NoError(t, err)
	h, _ := l.Holding("MSFT")
	assert.True(t, h.Quantity.Equal(d(2.25)))
	assert.True(t, l.Cash().Equal(d(780)))
}

func TestNew_DefaultsInitialCash(t *testing.T) {
	l := New(Config{})
	assert.True(t, l.InitialCash().Equal(DefaultInitialCash))
	assert.True(t, l.Cash().Equal(DefaultInitialCash))
}

func TestPortfolio_ReturnsCopy(t *testing.T) {
	l := newFantasy()
	_, _ = l.Buy("X", d(1), d(10))

	p := l.Portfolio()
	p.Holdings["X"] = model.Holding{Symbol: "X", Quantity: d(999), AverageCost: d(1)}
	delete(p.Holdings, "X")

	h, ok := l.Holding("X")
	require.True(t, ok)
	assert.True(t, h.Quantity.Equal(d(1)))
}

func TestRestore(t *testing.T) {
	l := newFantasy()
	err := l.Restore(model.PortfolioSnapshot{
		Cash: d(500),
		Holdings: map[string]model.Holding{
			"X": {Quantity: d(3), AverageCost: d(20)},
		},
	})
	require.NoError(t, err)
	assert.True(t, l.Cash().Equal(d(500)))
	h, ok := l.Holding("X")
	require.True(t, ok)
	assert.Equal(t, "X", h.Symbol)

	bad := []model.PortfolioSnapshot{
		{Cash: d(-1)},
		{Cash: d(1), Holdings: map[string]model.Holding{"Y": {Quantity: d(0), AverageCost: d(1)}}},
		{Cash: d(1), Holdings: map[string]model.Holding{"Y": {Quantity: d(1.5), AverageCost: d(1)}}},
	}
	for _, snap := range bad {
		assert.ErrorIs(t, l.Restore(snap), ErrInvalidSnapshot)
	}
	assert.True(t, l.Cash().Equal(d(500)), "failed restore must not change state")
}
