package pricefeed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/finquest/portfolio-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// fixedRand always returns the same draw.
type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

// --- Growth ---

func TestGrowth_ZeroElapsedIsBase(t *testing.T) {
	p := Growth(d(18), d(0.8), d(0.3), 0, fixedRand(0.99))
	if !p.Equal(d(18)) {
		t.Errorf("expected base price 18, got %s", p)
	}
}

func TestGrowth_MidDrawIsPureDrift(t *testing.T) {
	// u = 0.5 cancels the random term: 100 × 1.1² = 121.
	p := Growth(d(100), d(0.8), d(0.1), 2, fixedRand(0.5))
	if !p.Equal(d(121)) {
		t.Errorf("expected 121, got %s", p)
	}
}

func TestGrowth_NegativeDrift(t *testing.T) {
	// 200 × 0.9³ = 145.8
	p := Growth(d(200), d(0.7), d(-0.1), 3, fixedRand(0.5))
	if !p.Equal(d(145.8)) {
		t.Errorf("expected 145.8, got %s", p)
	}
}

func TestGrowth_WipedOutClampsToFloor(t *testing.T) {
	// 1 + (-0.5) + (0 - 0.5) × 1.2 = -0.1 → clamped.
	p := Growth(d(50), d(1.2), d(-0.5), 1, fixedRand(0))
	if !p.Equal(MinPrice) {
		t.Errorf("expected MinPrice, got %s", p)
	}
}

func TestGrowth_AlwaysPositive(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := decimal.NewFromInt(rapid.Int64Range(1, 5000).Draw(t, "base"))
		vol := decimal.NewFromInt(rapid.Int64Range(0, 300).Draw(t, "volPct")).Shift(-2)
		drift := decimal.NewFromInt(rapid.Int64Range(-100, 100).Draw(t, "driftPct")).Shift(-2)
		elapsed := rapid.IntRange(0, 10).Draw(t, "elapsed")
		u := rapid.Float64Range(0, 0.999999).Draw(t, "u")

		p := Growth(base, vol, drift, elapsed, fixedRand(u))
		if p.LessThan(MinPrice) {
			t.Fatalf("price %s below floor", p)
		}
	})
}

// --- Step ---

func TestStep_ClampsAtFloor(t *testing.T) {
	p := Step(d(0.5), d(1), fixedRand(0))
	if !p.Equal(MinPrice) {
		t.Errorf("expected MinPrice, got %s", p)
	}
}

func TestStep_Bounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prev := decimal.NewFromInt(rapid.Int64Range(200, 500000).Draw(t, "prevCents")).Shift(-2)
		u := rapid.Float64Range(0, 0.999999).Draw(t, "u")

		next := Step(prev, d(1), fixedRand(u))
		// Rounding to cents can add at most half a cent.
		if next.Sub(prev).Abs().GreaterThan(d(1.005)) {
			t.Fatalf("step too large: %s -> %s", prev, next)
		}
	})
}

// --- HistoricalFeed ---

func dotcom(seed uint64) *HistoricalFeed {
	return NewHistoricalFeed(seed, d(0.3), []Instrument{
		{Symbol: "AMZN", Name: "Amazon", BasePrice: d(18), Volatility: d(0.8)},
		{Symbol: "CSCO", Name: "Cisco", BasePrice: d(8), Volatility: d(0.9)},
	})
}

func TestHistoricalFeed_StablePerPeriod(t *testing.T) {
	f := dotcom(42)
	for year := 0; year <= 5; year++ {
		a, err := f.PriceAt("AMZN", year)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		b, _ := f.PriceAt("AMZN", year)
		if !a.Equal(b) {
			t.Errorf("year %d: price not stable: %s vs %s", year, a, b)
		}
		c, _ := dotcom(42).PriceAt("AMZN", year)
		if !a.Equal(c) {
			t.Errorf("year %d: same seed gave %s and %s", year, a, c)
		}
	}
}

func TestHistoricalFeed_BasePriceAtStart(t *testing.T) {
	p, err := dotcom(7).PriceAt("CSCO", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Equal(d(8)) {
		t.Errorf("expected base price 8, got %s", p)
	}
}

func TestHistoricalFeed_Unknown(t *testing.T) {
	_, err := dotcom(1).PriceAt("NOPE", 1)
	if !errors.Is(err, ErrPriceUnavailable) {
		t.Errorf("expected ErrPriceUnavailable, got %v", err)
	}
	if _, ok := dotcom(1).At(1).Price("NOPE"); ok {
		t.Error("expected missing price for unknown symbol")
	}
}

func TestHistoricalFeed_QuoteChange(t *testing.T) {
	f := dotcom(3)
	q, err := f.QuoteAt("AMZN", 2, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.Change.Equal(q.Price.Sub(d(18))) {
		t.Errorf("change should be relative to base: %s", q.Change)
	}
}

// --- Walk ---

func opening() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"AAPL": d(175.43),
		"TSLA": d(248.42),
	}
}

func TestWalk_DeterministicWithSeed(t *testing.T) {
	a := NewWalk(opening(), d(1), 99)
	b := NewWalk(opening(), d(1), 99)
	for i := 0; i < 20; i++ {
		qa := a.Tick()
		qb := b.Tick()
		for j := range qa {
			if !qa[j].Price.Equal(qb[j].Price) {
				t.Fatalf("tick %d %s: %s vs %s", i, qa[j].Symbol, qa[j].Price, qb[j].Price)
			}
		}
	}
}

func TestWalk_TickMovesWithinBound(t *testing.T) {
	w := NewWalk(opening(), d(1), 5)
	before, _ := w.Price("AAPL")
	w.Tick()
	after, ok := w.Price("AAPL")
	if !ok {
		t.Fatal("expected AAPL price")
	}
	if after.Sub(before).Abs().GreaterThan(d(1.005)) {
		t.Errorf("tick moved too far: %s -> %s", before, after)
	}
	q, _ := w.Quote("AAPL")
	if !q.Change.Equal(after.Sub(d(175.43))) {
		t.Errorf("change should be vs open, got %s", q.Change)
	}
}

func TestWalk_QuoteUnknown(t *testing.T) {
	w := NewWalk(opening(), d(1), 5)
	if _, err := w.Quote("MSFT"); !errors.Is(err, ErrPriceUnavailable) {
		t.Errorf("expected ErrPriceUnavailable, got %v", err)
	}
	if got := w.Symbols(); len(got) != 2 || got[0] != "AAPL" {
		t.Errorf("unexpected symbols %v", got)
	}
}

// --- Ticker ---

func TestTicker_PublishesUntilStopped(t *testing.T) {
	w := NewWalk(opening(), d(1), 11)
	got := make(chan []model.PriceQuote, 16)
	tk := NewTicker(w, 5*time.Millisecond, func(q []model.PriceQuote) {
		select {
		case got <- q:
		default:
		}
	})

	stop := tk.Start(context.Background())

	select {
	case q := <-got:
		if len(q) != 2 {
			t.Errorf("expected 2 quotes per tick, got %d", len(q))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ticker never published")
	}

	stop()
	// Drain anything in flight, then make sure nothing else arrives.
	for len(got) > 0 {
		<-got
	}
	select {
	case <-got:
		t.Error("ticker published after stop")
	case <-time.After(30 * time.Millisecond):
	}
}
