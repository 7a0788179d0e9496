// Package game orchestrates the two trading games on top of the ledger,
// the price feeds and session persistence.
//
// A Registry holds one session per (owner, game). Trades are applied to the
// in-memory ledger first and then handed to the Persister, which saves on a
// background goroutine; a failed save marks the session unsaved and never
// rolls the trade back.
package game

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finquest/portfolio-engine/internal/ledger"
	"github.com/finquest/portfolio-engine/internal/pricefeed"
	"github.com/finquest/portfolio-engine/internal/symbol"
)

var (
	// ErrUnknownPeriod is returned when a time-traveler period id is not in the catalog.
	ErrUnknownPeriod = errors.New("game: unknown period")

	// ErrNotStarted is returned by time-traveler operations before a period is chosen.
	ErrNotStarted = errors.New("game: no period started")

	// ErrGameComplete is returned by time-traveler operations after the end year.
	ErrGameComplete = errors.New("game: period already complete")

	// ErrInvalidSide is returned for a trade side other than buy or sell.
	ErrInvalidSide = errors.New("game: invalid side")

	// ErrUnknownGame is returned for a game id with no sessions.
	ErrUnknownGame = errors.New("game: unknown game")

	// ErrPersistenceUnavailable wraps store failures surfaced to callers.
	ErrPersistenceUnavailable = errors.New("game: persistence unavailable")
)

// SaveStatus reports whether the latest session state has reached the store.
type SaveStatus string

const (
	StatusSaved   SaveStatus = "saved"
	StatusPending SaveStatus = "pending"
	StatusUnsaved SaveStatus = "unsaved"
)

// Config parameterizes a Registry.
type Config struct {
	InitialCash decimal.Decimal

	// SaveTimeout bounds a single store write.
	SaveTimeout time.Duration

	// SaveInterval and SaveBurst throttle fantasy saves per session.
	SaveInterval time.Duration
	SaveBurst    int

	// HistoricalSeed seeds time-traveler prices; zero draws a random seed
	// per run.
	HistoricalSeed uint64

	// IdleTimeout is how long a session stays loaded without being used.
	IdleTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		InitialCash:  ledger.DefaultInitialCash,
		SaveTimeout:  3 * time.Second,
		SaveInterval: time.Second,
		SaveBurst:    5,
		IdleTimeout:  30 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if !c.InitialCash.IsPositive() {
		c.InitialCash = def.InitialCash
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = def.SaveTimeout
	}
	if c.SaveInterval <= 0 {
		c.SaveInterval = def.SaveInterval
	}
	if c.SaveBurst <= 0 {
		c.SaveBurst = def.SaveBurst
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	return c
}

// rejectReason maps a trade error to a low-cardinality metric label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ledger.ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, ledger.ErrNoSuchHolding):
		return "no_such_holding"
	case errors.Is(err, ledger.ErrInvalidQuantity), errors.Is(err, ledger.ErrInvalidPrice),
		errors.Is(err, ErrInvalidSide):
		return "invalid_input"
	case errors.Is(err, symbol.ErrInvalidSymbol), errors.Is(err, symbol.ErrUnknownSymbol):
		return "unknown_symbol"
	case errors.Is(err, pricefeed.ErrPriceUnavailable):
		return "price_unavailable"
	case errors.Is(err, ErrNotStarted), errors.Is(err, ErrGameComplete):
		return "game_state"
	default:
		return "other"
	}
}
