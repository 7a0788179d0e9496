package pricefeed

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finquest/portfolio-engine/internal/model"
)

// DefaultMaxDelta is the largest move of a single tick, in price units.
var DefaultMaxDelta = decimal.NewFromInt(1)

// Walk is a live random-walk market. Each Tick moves every symbol by a
// bounded random delta from its previous price.
type Walk struct {
	maxDelta decimal.Decimal
	now      func() time.Time

	mu     sync.RWMutex
	rng    *rand.Rand
	open   map[string]decimal.Decimal
	quotes map[string]model.PriceQuote
}

// NewWalk creates a walk starting from the opening prices. A zero seed
// draws a random one; a non-positive maxDelta uses DefaultMaxDelta.
func NewWalk(opening map[string]decimal.Decimal, maxDelta decimal.Decimal, seed uint64) *Walk {
	if seed == 0 {
		seed = rand.Uint64()
	}
	if !maxDelta.IsPositive() {
		maxDelta = DefaultMaxDelta
	}
	w := &Walk{
		maxDelta: maxDelta,
		now:      func() time.Time { return time.Now().UTC() },
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		open:     make(map[string]decimal.Decimal, len(opening)),
		quotes:   make(map[string]model.PriceQuote, len(opening)),
	}
	asOf := w.now()
	for sym, p := range opening {
		p = Clamp(p)
		w.open[sym] = p
		w.quotes[sym] = model.PriceQuote{Symbol: sym, Price: p, AsOf: asOf}
	}
	return w
}

// Tick advances every symbol one step and returns the new quotes sorted by symbol.
func (w *Walk) Tick() []model.PriceQuote {
	w.mu.Lock()
	defer w.mu.Unlock()

	asOf := w.now()
	// Iterate in sorted order so a fixed seed gives a fixed path.
	for _, sym := range w.symbolsLocked() {
		next := Step(w.quotes[sym].Price, w.maxDelta, w.rng)
		change, pct := changeFrom(w.open[sym], next)
		w.quotes[sym] = model.PriceQuote{
			Symbol:        sym,
			Price:         next,
			Change:        change,
			ChangePercent: pct,
			AsOf:          asOf,
		}
	}
	return w.quotesLocked()
}

// Quote returns the latest quote for symbol.
func (w *Walk) Quote(symbol string) (model.PriceQuote, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	q, ok := w.quotes[symbol]
	if !ok {
		return model.PriceQuote{}, fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol)
	}
	return q, nil
}

// Quotes returns the latest quotes sorted by symbol.
func (w *Walk) Quotes() []model.PriceQuote {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.quotesLocked()
}

// Price implements valuation.PriceSource.
func (w *Walk) Price(symbol string) (decimal.Decimal, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	q, ok := w.quotes[symbol]
	return q.Price, ok
}

// Symbols returns the listed symbols in sorted order.
func (w *Walk) Symbols() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.symbolsLocked()
}

func (w *Walk) symbolsLocked() []string {
	syms := make([]string, 0, len(w.quotes))
	for sym := range w.quotes {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}

func (w *Walk) quotesLocked() []model.PriceQuote {
	out := make([]model.PriceQuote, 0, len(w.quotes))
	for _, sym := range w.symbolsLocked() {
		out = append(out, w.quotes[sym])
	}
	return out
}
