// Package model defines the core domain types shared across the portfolio engine.
// All monetary values use shopspring/decimal; never float64 for money.
package model

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Game identifiers used as the game_id of persisted sessions.
const (
	GameFantasyTrading = "fantasy-trading"
	GameTimeTraveler   = "time-traveler"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Holding is the accumulated position in one symbol. A holding only exists
// while Quantity is positive.
type Holding struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	AverageCost decimal.Decimal `json:"average_cost"` // quantity-weighted cost per unit
}

// CostBasis returns the total amount paid for the position.
func (h Holding) CostBasis() decimal.Decimal {
	return h.Quantity.Mul(h.AverageCost)
}

// Portfolio is the state of one simulated account. Total value is never
// stored here; it is derived from current prices by the valuation package.
type Portfolio struct {
	Cash     decimal.Decimal    `json:"cash"`
	Holdings map[string]Holding `json:"holdings"`
}

// Clone returns a deep copy of p.
func (p Portfolio) Clone() Portfolio {
	out := Portfolio{
		Cash:     p.Cash,
		Holdings: make(map[string]Holding, len(p.Holdings)),
	}
	for sym, h := range p.Holdings {
		out.Holdings[sym] = h
	}
	return out
}

// Symbols returns the held symbols in sorted order.
func (p Portfolio) Symbols() []string {
	syms := make([]string, 0, len(p.Holdings))
	for sym := range p.Holdings {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}

// Trade is a single executed buy or sell. It is folded into the portfolio
// immediately and never kept as history.
type Trade struct {
	ID       string          `json:"id"`
	Symbol   string          `json:"symbol"`
	Side     Side            `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Amount   decimal.Decimal `json:"amount"` // quantity × price
}

// PriceQuote is a point-in-time price produced by a price feed.
type PriceQuote struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`         // vs. opening price
	ChangePercent decimal.Decimal `json:"change_percent"` // vs. opening price
	AsOf          time.Time       `json:"as_of"`
}

// PortfolioSnapshot is the serializable projection of a Portfolio handed to
// session persistence.
type PortfolioSnapshot struct {
	Cash                 decimal.Decimal    `json:"cash"`
	Holdings             map[string]Holding `json:"holdings"`
	TotalValueAtSnapshot decimal.Decimal    `json:"total_value"`
	DerivedScore         int64              `json:"score"`
	DerivedXP            int64              `json:"xp"`
	Extra                json.RawMessage    `json:"extra,omitempty"` // game-specific state
}

// Portfolio returns the ledger state carried by the snapshot.
func (s PortfolioSnapshot) Portfolio() Portfolio {
	return Portfolio{Cash: s.Cash, Holdings: s.Holdings}.Clone()
}

// SessionRecord is one persisted game session row.
// Schema: {id, owner_id, game_id, score, xp_earned, game_data, created_at, updated_at}
type SessionRecord struct {
	ID        string            `json:"id" db:"id"`
	OwnerID   string            `json:"owner_id" db:"owner_id"`
	GameID    string            `json:"game_id" db:"game_id"`
	Score     int64             `json:"score" db:"score"`
	XPEarned  int64             `json:"xp_earned" db:"xp_earned"`
	GameData  PortfolioSnapshot `json:"game_data" db:"game_data"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt time.Time         `json:"updated_at" db:"updated_at"`
}
