// Package ledger implements the virtual portfolio ledger: the authoritative
// cash and holdings state of one simulated account.
//
// Every operation validates completely before mutating, so a failed trade
// leaves the portfolio exactly as it was. Average cost is always the
// quantity-weighted mean of every buy; sells never change it.
//
// All monetary values use shopspring/decimal; never float64 for money.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finquest/portfolio-engine/internal/model"
)

var (
	// ErrInsufficientFunds is returned when a buy costs more than the cash balance.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInsufficientShares is returned when a sell exceeds the held quantity.
	ErrInsufficientShares = errors.New("ledger: insufficient shares")

	// ErrNoSuchHolding is returned when selling a symbol that is not held.
	ErrNoSuchHolding = errors.New("ledger: no such holding")

	// ErrInvalidQuantity is returned for non-positive quantities, or for
	// fractional quantities on an integer-only ledger.
	ErrInvalidQuantity = errors.New("ledger: invalid quantity")

	// ErrInvalidPrice is returned for non-positive unit prices.
	ErrInvalidPrice = errors.New("ledger: invalid price")

	// ErrInvalidSnapshot is returned when a restored snapshot breaks an invariant.
	ErrInvalidSnapshot = errors.New("ledger: invalid snapshot")
)

// DefaultInitialCash is the starting balance of every game.
var DefaultInitialCash = decimal.NewFromInt(100000)

// QuantityScale is the number of decimal places kept for fractional shares.
const QuantityScale int32 = 8

// Config parameterizes a ledger for a game variant.
type Config struct {
	InitialCash           decimal.Decimal
	AllowFractionalShares bool
}

// Ledger owns one portfolio. It is safe for concurrent use; readers never
// observe a partially applied trade.
type Ledger struct {
	cfg Config

	mu       sync.RWMutex
	cash     decimal.Decimal
	holdings map[string]model.Holding
}

// New creates a ledger holding cfg.InitialCash and no positions.
// A non-positive InitialCash falls back to DefaultInitialCash.
func New(cfg Config) *Ledger {
	if !cfg.InitialCash.IsPositive() {
		cfg.InitialCash = DefaultInitialCash
	}
	return &Ledger{
		cfg:      cfg,
		cash:     cfg.InitialCash,
		holdings: make(map[string]model.Holding),
	}
}

// InitialCash returns the configured starting balance.
func (l *Ledger) InitialCash() decimal.Decimal {
	return l.cfg.InitialCash
}

// Portfolio returns a copy of the current state.
func (l *Ledger) Portfolio() model.Portfolio {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotLocked()
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash
}

// Holding returns the holding for symbol, if any.
func (l *Ledger) Holding(symbol string) (model.Holding, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.holdings[symbol]
	return h, ok
}

// Buy purchases quantity units of symbol at unitPrice.
func (l *Ledger) Buy(symbol string, quantity, unitPrice decimal.Decimal) (model.Trade, error) {
	if err := l.checkQuantity(quantity); err != nil {
		return model.Trade{}, err
	}
	if !unitPrice.IsPositive() {
		return model.Trade{}, fmt.Errorf("%w: %s", ErrInvalidPrice, unitPrice)
	}

	cost := quantity.Mul(unitPrice)

	l.mu.Lock()
	defer l.mu.Unlock()

	if cost.GreaterThan(l.cash) {
		return model.Trade{}, fmt.Errorf("%w: cost %s exceeds cash %s",
			ErrInsufficientFunds, cost.StringFixed(2), l.cash.StringFixed(2))
	}

	h, ok := l.holdings[symbol]
	if ok {
		// Weighted by quantity at each price, never a plain mean of prices.
		newQty := h.Quantity.Add(quantity)
		h.AverageCost = h.CostBasis().Add(cost).Div(newQty)
		h.Quantity = newQty
	} else {
		h = model.Holding{
			Symbol:      symbol,
			Quantity:    quantity,
			AverageCost: unitPrice,
		}
	}

	l.holdings[symbol] = h
	l.cash = l.cash.Sub(cost)

	return newTrade(symbol, model.SideBuy, quantity, unitPrice, cost), nil
}

// BuyValue invests amount of cash into symbol at unitPrice. The quantity is
// amount/unitPrice truncated to QuantityScale places, so the debit never
// exceeds amount. Only fractional ledgers support it.
func (l *Ledger) BuyValue(symbol string, amount, unitPrice decimal.Decimal) (model.Trade, error) {
	if !l.cfg.AllowFractionalShares {
		return model.Trade{}, fmt.Errorf("%w: value buys need fractional shares", ErrInvalidQuantity)
	}
	if !amount.IsPositive() {
		return model.Trade{}, fmt.Errorf("%w: amount %s", ErrInvalidQuantity, amount)
	}
	if !unitPrice.IsPositive() {
		return model.Trade{}, fmt.Errorf("%w: %s", ErrInvalidPrice, unitPrice)
	}
	if amount.GreaterThan(l.Cash()) {
		return model.Trade{}, fmt.Errorf("%w: amount %s exceeds cash", ErrInsufficientFunds, amount.StringFixed(2))
	}

	quantity := amount.DivRound(unitPrice, QuantityScale+4).Truncate(QuantityScale)
	if !quantity.IsPositive() {
		return model.Trade{}, fmt.Errorf("%w: amount %s buys no shares", ErrInvalidQuantity, amount)
	}
	return l.Buy(symbol, quantity, unitPrice)
}

// Sell disposes of quantity units of symbol at unitPrice. Average cost is
// unchanged; a holding sold down to exactly zero is removed.
func (l *Ledger) Sell(symbol string, quantity, unitPrice decimal.Decimal) (model.Trade, error) {
	if err := l.checkQuantity(quantity); err != nil {
		return model.Trade{}, err
	}
	if !unitPrice.IsPositive() {
		return model.Trade{}, fmt.Errorf("%w: %s", ErrInvalidPrice, unitPrice)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.holdings[symbol]
	if !ok {
		return model.Trade{}, fmt.Errorf("%w: %s", ErrNoSuchHolding, symbol)
	}
	if quantity.GreaterThan(h.Quantity) {
		return model.Trade{}, fmt.Errorf("%w: selling %s of %s, holding %s",
			ErrInsufficientShares, quantity, symbol, h.Quantity)
	}

	proceeds := quantity.Mul(unitPrice)
	h.Quantity = h.Quantity.Sub(quantity)
	if h.Quantity.IsZero() {
		delete(l.holdings, symbol)
	} else {
		l.holdings[symbol] = h
	}
	l.cash = l.cash.Add(proceeds)

	return newTrade(symbol, model.SideSell, quantity, unitPrice, proceeds), nil
}

// Reset restores the initial cash and discards every holding.
func (l *Ledger) Reset() model.Portfolio {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cash = l.cfg.InitialCash
	l.holdings = make(map[string]model.Holding)
	return l.snapshotLocked()
}

// Restore replaces the ledger state with a previously saved snapshot.
// The snapshot is rejected if it breaks a ledger invariant.
func (l *Ledger) Restore(snap model.PortfolioSnapshot) error {
	if snap.Cash.IsNegative() {
		return fmt.Errorf("%w: negative cash %s", ErrInvalidSnapshot, snap.Cash)
	}
	holdings := make(map[string]model.Holding, len(snap.Holdings))
	for sym, h := range snap.Holdings {
		if !h.Quantity.IsPositive() || !h.AverageCost.IsPositive() {
			return fmt.Errorf("%w: holding %s qty=%s avg=%s",
				ErrInvalidSnapshot, sym, h.Quantity, h.AverageCost)
		}
		if !l.cfg.AllowFractionalShares && !h.Quantity.IsInteger() {
			return fmt.Errorf("%w: fractional holding %s", ErrInvalidSnapshot, sym)
		}
		h.Symbol = sym
		holdings[sym] = h
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.cash = snap.Cash
	l.holdings = holdings
	return nil
}

func (l *Ledger) checkQuantity(q decimal.Decimal) error {
	if !q.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidQuantity, q)
	}
	if !l.cfg.AllowFractionalShares && !q.IsInteger() {
		return fmt.Errorf("%w: %s must be a whole number of shares", ErrInvalidQuantity, q)
	}
	return nil
}

func (l *Ledger) snapshotLocked() model.Portfolio {
	return model.Portfolio{Cash: l.cash, Holdings: l.holdings}.Clone()
}

func newTrade(symbol string, side model.Side, qty, price, amount decimal.Decimal) model.Trade {
	return model.Trade{
		ID:       uuid.New().String(),
		Symbol:   symbol,
		Side:     side,
		Quantity: qty,
		Price:    price,
		Amount:   amount,
	}
}
