package pricefeed

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/shopspring/decimal"

	"github.com/finquest/portfolio-engine/internal/model"
)

// Instrument is a stock available in a historical period.
type Instrument struct {
	Symbol     string          `json:"symbol"`
	Name       string          `json:"name"`
	BasePrice  decimal.Decimal `json:"base_price"`
	Volatility decimal.Decimal `json:"volatility"`
}

// HistoricalFeed prices instruments on a growth curve by elapsed period.
// The random draw for (symbol, elapsed) is derived from the feed seed, so a
// symbol has exactly one price per period for the life of the feed.
type HistoricalFeed struct {
	seed        uint64
	drift       decimal.Decimal
	instruments map[string]Instrument
}

// NewHistoricalFeed creates a feed with the period drift and instruments.
func NewHistoricalFeed(seed uint64, drift decimal.Decimal, instruments []Instrument) *HistoricalFeed {
	f := &HistoricalFeed{
		seed:        seed,
		drift:       drift,
		instruments: make(map[string]Instrument, len(instruments)),
	}
	for _, in := range instruments {
		f.instruments[in.Symbol] = in
	}
	return f
}

// Instrument returns the instrument for symbol.
func (f *HistoricalFeed) Instrument(symbol string) (Instrument, bool) {
	in, ok := f.instruments[symbol]
	return in, ok
}

// PriceAt returns the price of symbol after elapsed periods.
func (f *HistoricalFeed) PriceAt(symbol string, elapsed int) (decimal.Decimal, error) {
	in, ok := f.instruments[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol)
	}
	return Growth(in.BasePrice, in.Volatility, f.drift, elapsed, f.rngFor(symbol, elapsed)), nil
}

// QuoteAt returns a quote for symbol after elapsed periods; change is
// measured against the base price.
func (f *HistoricalFeed) QuoteAt(symbol string, elapsed int, asOf time.Time) (model.PriceQuote, error) {
	price, err := f.PriceAt(symbol, elapsed)
	if err != nil {
		return model.PriceQuote{}, err
	}
	change, pct := changeFrom(f.instruments[symbol].BasePrice, price)
	return model.PriceQuote{
		Symbol:        symbol,
		Price:         price,
		Change:        change,
		ChangePercent: pct,
		AsOf:          asOf,
	}, nil
}

// At returns a price source fixed at elapsed periods.
func (f *HistoricalFeed) At(elapsed int) *PeriodPrices {
	return &PeriodPrices{feed: f, elapsed: elapsed}
}

func (f *HistoricalFeed) rngFor(symbol string, elapsed int) *rand.Rand {
	h := xxhash.Sum64String(symbol + "/" + strconv.Itoa(elapsed))
	return rand.New(rand.NewPCG(f.seed, h))
}

// PeriodPrices prices every instrument of a feed at one elapsed period.
type PeriodPrices struct {
	feed    *HistoricalFeed
	elapsed int
}

// Price implements valuation.PriceSource.
func (p *PeriodPrices) Price(symbol string) (decimal.Decimal, bool) {
	price, err := p.feed.PriceAt(symbol, p.elapsed)
	if err != nil {
		return decimal.Zero, false
	}
	return price, true
}
