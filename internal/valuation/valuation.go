// Package valuation derives portfolio metrics from a portfolio and a price
// source. Every function is pure: nothing is cached and nothing is mutated,
// so a valuation always reflects the prices passed in.
package valuation

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/finquest/portfolio-engine/internal/model"
)

// ErrInvalidInitialCash is returned by ReturnPercent when initial cash is not positive.
var ErrInvalidInitialCash = errors.New("valuation: initial cash must be positive")

// PercentScale is the number of decimal places for percentages.
const PercentScale int32 = 4

var hundred = decimal.NewFromInt(100)

// PriceSource supplies the current price of a symbol.
type PriceSource interface {
	Price(symbol string) (decimal.Decimal, bool)
}

// PriceMap is a fixed PriceSource.
type PriceMap map[string]decimal.Decimal

// Price implements PriceSource.
func (m PriceMap) Price(symbol string) (decimal.Decimal, bool) {
	p, ok := m[symbol]
	return p, ok
}

// MarketValue returns Σ quantity × price over all holdings. Symbols with no
// price contribute zero and are returned in missing so callers can flag them
// instead of mistaking them for a loss.
func MarketValue(p model.Portfolio, prices PriceSource) (value decimal.Decimal, missing []string) {
	value = decimal.Zero
	for _, sym := range p.Symbols() {
		price, ok := prices.Price(sym)
		if !ok {
			missing = append(missing, sym)
			continue
		}
		value = value.Add(p.Holdings[sym].Quantity.Mul(price))
	}
	return value, missing
}

// TotalValue returns cash plus market value.
func TotalValue(p model.Portfolio, prices PriceSource) (decimal.Decimal, []string) {
	mv, missing := MarketValue(p, prices)
	return p.Cash.Add(mv), missing
}

// UnrealizedGain returns quantity × (price − average cost).
func UnrealizedGain(h model.Holding, price decimal.Decimal) decimal.Decimal {
	return h.Quantity.Mul(price.Sub(h.AverageCost))
}

// ReturnPercent returns (total − initial) / initial × 100. The denominator is
// always the starting cash, never a recomputed current value.
func ReturnPercent(total, initial decimal.Decimal) (decimal.Decimal, error) {
	if !initial.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidInitialCash, initial)
	}
	return total.Sub(initial).Div(initial).Mul(hundred).Round(PercentScale), nil
}

// Position is the valuation of one holding.
type Position struct {
	Symbol         string          `json:"symbol"`
	Quantity       decimal.Decimal `json:"quantity"`
	AverageCost    decimal.Decimal `json:"average_cost"`
	Price          decimal.Decimal `json:"price"`
	PriceAvailable bool            `json:"price_available"`
	CostBasis      decimal.Decimal `json:"cost_basis"`
	MarketValue    decimal.Decimal `json:"market_value"`
	UnrealizedGain decimal.Decimal `json:"unrealized_gain"`
	GainPercent    decimal.Decimal `json:"gain_percent"`
}

// Valuation is the full breakdown of a portfolio at current prices.
type Valuation struct {
	Cash           decimal.Decimal `json:"cash"`
	MarketValue    decimal.Decimal `json:"market_value"`
	TotalValue     decimal.Decimal `json:"total_value"`
	InitialCash    decimal.Decimal `json:"initial_cash"`
	UnrealizedGain decimal.Decimal `json:"unrealized_gain"`
	ReturnPercent  decimal.Decimal `json:"return_percent"`
	Positions      []Position      `json:"positions"`
	Missing        []string        `json:"missing_prices,omitempty"`
}

// Value computes the full valuation of p. Positions are sorted by symbol.
func Value(p model.Portfolio, prices PriceSource, initialCash decimal.Decimal) (Valuation, error) {
	v := Valuation{
		Cash:           p.Cash,
		MarketValue:    decimal.Zero,
		InitialCash:    initialCash,
		UnrealizedGain: decimal.Zero,
		Positions:      make([]Position, 0, len(p.Holdings)),
	}

	for _, sym := range p.Symbols() {
		h := p.Holdings[sym]
		pos := Position{
			Symbol:      sym,
			Quantity:    h.Quantity,
			AverageCost: h.AverageCost,
			CostBasis:   h.CostBasis(),
			MarketValue: decimal.Zero,
		}
		if price, ok := prices.Price(sym); ok {
			pos.Price = price
			pos.PriceAvailable = true
			pos.MarketValue = h.Quantity.Mul(price)
			pos.UnrealizedGain = UnrealizedGain(h, price)
			if pos.CostBasis.IsPositive() {
				pos.GainPercent = pos.UnrealizedGain.Div(pos.CostBasis).Mul(hundred).Round(PercentScale)
			}
			v.UnrealizedGain = v.UnrealizedGain.Add(pos.UnrealizedGain)
		} else {
			v.Missing = append(v.Missing, sym)
		}
		v.MarketValue = v.MarketValue.Add(pos.MarketValue)
		v.Positions = append(v.Positions, pos)
	}

	v.TotalValue = v.Cash.Add(v.MarketValue)
	ret, err := ReturnPercent(v.TotalValue, initialCash)
	if err != nil {
		return Valuation{}, err
	}
	v.ReturnPercent = ret
	return v, nil
}
