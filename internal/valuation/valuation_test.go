package valuation

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

func samplePortfolio() model.Portfolio {
	return model.Portfolio{
		Cash: d(99200),
		Holdings: map[string]model.Holding{
			"X": {Symbol: "X", Quantity: d(15), AverageCost: d(60)},
			"Y": {Symbol: "Y", Quantity: d(2), AverageCost: d(10)},
		},
	}
}

func TestMarketValue(t *testing.T) {
	mv, missing := MarketValue(samplePortfolio(), PriceMap{"X": d(80), "Y": d(5)})
	assert.True(t, mv.Equal(d(1210)), "mv=%s", mv)
	assert.Empty(t, missing)
}

func TestMarketValue_FlagsMissingPrices(t *testing.T) {
	mv, missing := MarketValue(samplePortfolio(), PriceMap{"X": d(80)})
	assert.True(t, mv.Equal(d(1200)))
	assert.Equal(t, []string{"Y"}, missing)
}

func TestTotalValue(t *testing.T) {
	total, missing := TotalValue(samplePortfolio(), PriceMap{"X": d(80), "Y": d(5)})
	assert.True(t, total.Equal(d(100410)))
	assert.Empty(t, missing)

	empty := model.Portfolio{Cash: d(100000), Holdings: map[string]model.Holding{}}
	total, _ = TotalValue(empty, PriceMap{})
	assert.True(t, total.Equal(d(100000)))
}

func TestUnrealizedGain(t *testing.T) {
	h := model.Holding{Symbol: "X", Quantity: d(15), AverageCost: d(60)}
	assert.True(t, UnrealizedGain(h, d(80)).Equal(d(300)))
	assert.True(t, UnrealizedGain(h, d(50)).Equal(d(-150)))
}

func TestReturnPercent(t *testing.T) {
	ret, err := ReturnPercent(d(110000), d(100000))
	require.NoError(t, err)
	assert.True(t, ret.Equal(d(10)))

	ret, err = ReturnPercent(d(75000), d(100000))
	require.NoError(t, err)
	assert.True(t, ret.Equal(d(-25)))

	_, err = ReturnPercent(d(1), decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidInitialCash)
}

func TestValue_Breakdown(t *testing.T) {
	v, err := Value(samplePortfolio(), PriceMap{"X": d(80)}, d(100000))
	require.NoError(t, err)

	assert.True(t, v.MarketValue.Equal(d(1200)))
	assert.True(t, v.TotalValue.Equal(d(100400)))
	assert.True(t, v.ReturnPercent.Equal(d(0.4)), "ret=%s", v.ReturnPercent)
	assert.True(t, v.UnrealizedGain.Equal(d(300)))
	assert.Equal(t, []string{"Y"}, v.Missing)

	require.Len(t, v.Positions, 2)
	x := v.Positions[0]
	assert.Equal(t, "X", x.Symbol)
	assert.True(t, x.PriceAvailable)
	assert.True(t, x.CostBasis.Equal(d(900)))
	assert.True(t, x.GainPercent.Equal(d(33.3333)), "gain%%=%s", x.GainPercent)

	y := v.Positions[1]
	assert.False(t, y.PriceAvailable)
	assert.True(t, y.MarketValue.IsZero())
}

func TestValue_ConservationAtTradePrice(t *testing.T) {
	// Buying 10 @ 50 from 100000: cash 99500 + 10×50 = 100000.
	p := model.Portfolio{
		Cash:     d(99500),
		Holdings: map[string]model.Holding{"X": {Symbol: "X", Quantity: d(10), AverageCost: d(50)}},
	}
	v, err := Value(p, PriceMap{"X": d(50)}, d(100000))
	require.NoError(t, err)
	assert.True(t, v.TotalValue.Equal(d(100000)))
	assert.True(t, v.ReturnPercent.IsZero())
}

func TestScoring(t *testing.T) {
	assert.Equal(t, int64(100410), FantasyScore(d(100410.4)))
	assert.Equal(t, int64(3), FantasyXP(d(103200), d(100000)))
	assert.Equal(t, int64(0), FantasyXP(d(90000), d(100000)))

	assert.Equal(t, int64(25), TimeTravelScore(d(24.6)))
	assert.Equal(t, int64(346), TimeTravelXP(d(24.6)))
	assert.Equal(t, int64(0), TimeTravelXP(d(-50)))
	assert.Equal(t, int64(100), TimeTravelXP(decimal.Zero))

	// Ties round toward positive infinity on both sides of zero.
	assert.Equal(t, int64(3), TimeTravelScore(d(2.5)))
	assert.Equal(t, int64(-2), TimeTravelScore(d(-2.5)))
	assert.Equal(t, int64(-3), TimeTravelScore(d(-2.6)))
	assert.Equal(t, int64(2), FantasyXP(d(101500), d(100000)))
	assert.Equal(t, int64(75), TimeTravelXP(d(-2.55)))
}
