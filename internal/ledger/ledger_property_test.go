package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/finquest/portfolio-engine/internal/model"
)

var symbols = []string{"AAPL", "MSFT", "TSLA"}

func checkInvariants(t *rapid.T, p model.Portfolio) {
	if p.Cash.IsNegative() {
		t.Fatalf("cash went negative: %s", p.Cash)
	}
	for sym, h := range p.Holdings {
		if !h.Quantity.IsPositive() {
			t.Fatalf("holding %s present with quantity %s", sym, h.Quantity)
		}
		if !h.AverageCost.IsPositive() {
			t.Fatalf("holding %s has non-positive average cost %s", sym, h.AverageCost)
		}
	}
}

// Any sequence of trades, valid or not, keeps cash ≥ 0 and every holding positive.
func TestProperty_InvariantsHoldUnderRandomTrades(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l := New(Config{InitialCash: decimal.NewFromInt(10000)})
		steps := rapid.IntRange(1, 60).Draw(t, "steps")

		for i := 0; i < steps; i++ {
			sym := rapid.SampledFrom(symbols).Draw(t, "symbol")
			qty := decimal.NewFromInt(rapid.Int64Range(1, 200).Draw(t, "qty"))
			price := decimal.NewFromInt(rapid.Int64Range(1, 500).Draw(t, "price"))

			before := l.Portfolio()
			var err error
			if rapid.Bool().Draw(t, "buy") {
				_, err = l.Buy(sym, qty, price)
			} else {
				_, err = l.Sell(sym, qty, price)
			}
			after := l.Portfolio()

			if err != nil && !before.Cash.Equal(after.Cash) {
				t.Fatalf("failed trade mutated cash: %s -> %s (%v)", before.Cash, after.Cash, err)
			}
			checkInvariants(t, after)
		}
	})
}

// Buying q1@p1 then q2@p2 gives (q1·p1 + q2·p2)/(q1+q2), whichever order.
func TestProperty_WeightedAverageOrderIndependent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		q1 := decimal.NewFromInt(rapid.Int64Range(1, 1000).Draw(t, "q1"))
		q2 := decimal.NewFromInt(rapid.Int64Range(1, 1000).Draw(t, "q2"))
		p1 := decimal.NewFromInt(rapid.Int64Range(1, 1000).Draw(t, "p1"))
		p2 := decimal.NewFromInt(rapid.Int64Range(1, 1000).Draw(t, "p2"))

		want := q1.Mul(p1).Add(q2.Mul(p2)).Div(q1.Add(q2))

		forward := New(Config{InitialCash: decimal.NewFromInt(10_000_000)})
		backward := New(Config{InitialCash: decimal.NewFromInt(10_000_000)})
		mustBuy(t, forward, q1, p1)
		mustBuy(t, forward, q2, p2)
		mustBuy(t, backward, q2, p2)
		mustBuy(t, backward, q1, p1)

		hf, _ := forward.Holding("X")
		hb, _ := backward.Holding("X")
		if !hf.AverageCost.Equal(want) || !hb.AverageCost.Equal(want) {
			t.Fatalf("avg cost forward=%s backward=%s want=%s", hf.AverageCost, hb.AverageCost, want)
		}
		if !forward.Cash().Equal(backward.Cash()) {
			t.Fatalf("cash differs by order: %s vs %s", forward.Cash(), backward.Cash())
		}
	})
}

// At the instant of a buy, cash falls by q×p and holdings valued at p rise by q×p.
func TestProperty_BuyConservesTotalValue(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l := New(Config{InitialCash: decimal.NewFromInt(1_000_000), AllowFractionalShares: true})
		qty := decimal.NewFromInt(rapid.Int64Range(1, 100_000).Draw(t, "qtyCents")).Shift(-2)
		price := decimal.NewFromInt(rapid.Int64Range(1, 100_000).Draw(t, "priceCents")).Shift(-2)

		before := l.Cash()
		if _, err := l.Buy("X", qty, price); err != nil {
			if qty.Mul(price).GreaterThan(before) {
				return
			}
			t.Fatalf("unexpected error: %v", err)
		}
		h, _ := l.Holding("X")
		market := h.Quantity.Mul(price)
		if !before.Sub(l.Cash()).Equal(qty.Mul(price)) {
			t.Fatalf("cash delta %s != cost %s", before.Sub(l.Cash()), qty.Mul(price))
		}
		if !l.Cash().Add(market).Equal(before) {
			t.Fatalf("total value changed: %s -> %s", before, l.Cash().Add(market))
		}
	})
}

// Reset is idempotent regardless of history.
func TestProperty_ResetIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l := New(Config{InitialCash: decimal.NewFromInt(5000)})
		n := rapid.IntRange(0, 10).Draw(t, "buys")
		for i := 0; i < n; i++ {
			_, _ = l.Buy(rapid.SampledFrom(symbols).Draw(t, "symbol"),
				decimal.NewFromInt(rapid.Int64Range(1, 10).Draw(t, "qty")),
				decimal.NewFromInt(rapid.Int64Range(1, 100).Draw(t, "price")))
		}
		once := l.Reset()
		twice := l.Reset()
		if !once.Cash.Equal(twice.Cash) || len(once.Holdings) != 0 || len(twice.Holdings) != 0 {
			t.Fatalf("reset not idempotent: %+v vs %+v", once, twice)
		}
	})
}

func mustBuy(t *rapid.T, l *Ledger, q, p decimal.Decimal) {
	if _, err := l.Buy("X", q, p); err != nil {
		t.Fatalf("buy %s@%s: %v", q, p, err)
	}
}
