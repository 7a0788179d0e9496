// Package pricefeed produces synthetic prices for the trading games.
//
// Two generators are provided:
//   - Growth / HistoricalFeed: a closed-form growth curve per elapsed period,
//     base × (1 + drift + (u − 0.5) × volatility)^elapsed, with u drawn from a
//     seeded source so results are reproducible.
//   - Walk: a recurring random walk that perturbs each previous price by a
//     bounded delta on every Tick.
//
// Neither generator owns a timer; Ticker is the driver that calls Walk.Tick
// on an interval until its context is cancelled.
//
// Every price produced here is at least MinPrice.
package pricefeed

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrPriceUnavailable is returned when a symbol has no price in the feed.
	ErrPriceUnavailable = errors.New("pricefeed: price unavailable")

	// MinPrice is the floor applied to every generated price. A random draw
	// that would take a price to zero or below is clamped here.
	MinPrice = decimal.RequireFromString("0.01")

	// PriceScale is the number of decimal places prices are rounded to.
	PriceScale int32 = 2

	half = decimal.RequireFromString("0.5")
	one  = decimal.NewFromInt(1)
)

// Rand is the random source used by the generators. *rand.Rand from
// math/rand/v2 satisfies it.
type Rand interface {
	Float64() float64
}

// Clamp rounds p to PriceScale and raises it to MinPrice if needed.
func Clamp(p decimal.Decimal) decimal.Decimal {
	p = p.Round(PriceScale)
	if p.LessThan(MinPrice) {
		return MinPrice
	}
	return p
}

// Growth computes base × (1 + drift + (u − 0.5) × volatility)^elapsed where u
// is one draw from rng. A growth factor at or below zero wipes the price out
// to MinPrice for any elapsed > 0.
func Growth(base, volatility, drift decimal.Decimal, elapsed int, rng Rand) decimal.Decimal {
	if elapsed <= 0 {
		return Clamp(base)
	}
	u := decimal.NewFromFloat(rng.Float64())
	factor := one.Add(drift).Add(u.Sub(half).Mul(volatility))
	if !factor.IsPositive() {
		return MinPrice
	}
	return Clamp(base.Mul(factor.Pow(decimal.NewFromInt(int64(elapsed)))))
}

// Step perturbs prev by a uniform delta in [−maxDelta, +maxDelta).
func Step(prev, maxDelta decimal.Decimal, rng Rand) decimal.Decimal {
	u := decimal.NewFromFloat(rng.Float64())
	delta := u.Sub(half).Mul(maxDelta).Mul(decimal.NewFromInt(2))
	return Clamp(prev.Add(delta))
}

// changeFrom returns the absolute and percentage change of price vs. open.
func changeFrom(open, price decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	change := price.Sub(open)
	if !open.IsPositive() {
		return change, decimal.Zero
	}
	return change, change.Div(open).Mul(decimal.NewFromInt(100)).Round(2)
}
