package game

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finquest/portfolio-engine/internal/ledger"
	"github.com/finquest/portfolio-engine/internal/metrics"
	"github.com/finquest/portfolio-engine/internal/model"
	"github.com/finquest/portfolio-engine/internal/pricefeed"
	"github.com/finquest/portfolio-engine/internal/symbol"
	"github.com/finquest/portfolio-engine/internal/valuation"
)

// Fantasy is one owner's fantasy-trading session: whole shares traded at
// the live market price.
type Fantasy struct {
	owner    string
	market   *pricefeed.Walk
	universe symbol.Universe
	ledger   *ledger.Ledger
	saver    *saver

	mu        sync.Mutex
	id        string
	createdAt time.Time

	used time.Time // last lookup; guarded by Registry.mu
}

// FantasyView is the read model returned to clients.
type FantasyView struct {
	OwnerID    string              `json:"owner_id"`
	Portfolio  model.Portfolio     `json:"portfolio"`
	Valuation  valuation.Valuation `json:"valuation"`
	Score      int64               `json:"score"`
	XP         int64               `json:"xp"`
	SaveStatus SaveStatus          `json:"save_status"`
}

func newFantasy(owner string, market *pricefeed.Walk, universe symbol.Universe, p *Persister, cfg Config) *Fantasy {
	f := &Fantasy{
		owner:    owner,
		market:   market,
		universe: universe,
		ledger: ledger.New(ledger.Config{
			InitialCash:           cfg.InitialCash,
			AllowFractionalShares: false,
		}),
		id:        uuid.New().String(),
		createdAt: time.Now().UTC(),
	}
	f.saver = newSaver(p, model.GameFantasyTrading, cfg.SaveInterval, cfg.SaveBurst, f.record, f.adopt)
	return f
}

// restore loads a saved session into the ledger.
func (f *Fantasy) restore(rec *model.SessionRecord) error {
	if err := f.ledger.Restore(rec.GameData); err != nil {
		return err
	}
	f.mu.Lock()
	f.id = rec.ID
	f.createdAt = rec.CreatedAt
	f.mu.Unlock()
	return nil
}

// Trade executes a buy or sell of quantity whole shares at the current
// market price. The ledger is updated before the save is scheduled.
func (f *Fantasy) Trade(side model.Side, rawSymbol string, quantity decimal.Decimal) (model.Trade, error) {
	t, err := f.execute(side, rawSymbol, quantity)
	if err != nil {
		metrics.TradeRejections.WithLabelValues(model.GameFantasyTrading, rejectReason(err)).Inc()
		return model.Trade{}, err
	}

	metrics.TradesTotal.WithLabelValues(model.GameFantasyTrading, string(side)).Inc()
	slog.Info("fantasy trade executed",
		"owner", f.owner,
		"trade_id", t.ID,
		"symbol", t.Symbol,
		"side", string(t.Side),
		"qty", t.Quantity.String(),
		"price", t.Price.String(),
		"amount", t.Amount.String(),
	)

	f.saver.touch()
	return t, nil
}

func (f *Fantasy) execute(side model.Side, rawSymbol string, quantity decimal.Decimal) (model.Trade, error) {
	if !side.Valid() {
		return model.Trade{}, fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}
	sym, err := f.universe.Resolve(rawSymbol)
	if err != nil {
		return model.Trade{}, err
	}
	q, err := f.market.Quote(sym)
	if err != nil {
		return model.Trade{}, err
	}
	if side == model.SideBuy {
		return f.ledger.Buy(sym, quantity, q.Price)
	}
	return f.ledger.Sell(sym, quantity, q.Price)
}

// Reset returns the session to its starting cash with no holdings.
func (f *Fantasy) Reset() model.Portfolio {
	p := f.ledger.Reset()
	slog.Info("fantasy session reset", "owner", f.owner)
	f.saver.touch()
	return p
}

// View values the portfolio at current market prices.
func (f *Fantasy) View() (FantasyView, error) {
	p := f.ledger.Portfolio()
	v, err := valuation.Value(p, f.market, f.ledger.InitialCash())
	if err != nil {
		return FantasyView{}, err
	}
	if len(v.Missing) > 0 {
		metrics.MissingPrices.WithLabelValues(model.GameFantasyTrading).Add(float64(len(v.Missing)))
		slog.Warn("valuing holdings without a price", "owner", f.owner, "symbols", v.Missing)
	}
	return FantasyView{
		OwnerID:    f.owner,
		Portfolio:  p,
		Valuation:  v,
		Score:      valuation.FantasyScore(v.TotalValue),
		XP:         valuation.FantasyXP(v.TotalValue, v.InitialCash),
		SaveStatus: f.saver.Status(),
	}, nil
}

// SaveStatus reports whether the latest state has been stored.
func (f *Fantasy) SaveStatus() SaveStatus {
	return f.saver.Status()
}

// record builds the persisted form of the session at current prices.
func (f *Fantasy) record() model.SessionRecord {
	p := f.ledger.Portfolio()
	total, _ := valuation.TotalValue(p, f.market)
	score := valuation.FantasyScore(total)
	xp := valuation.FantasyXP(total, f.ledger.InitialCash())

	f.mu.Lock()
	id, created := f.id, f.createdAt
	f.mu.Unlock()

	return model.SessionRecord{
		ID:       id,
		OwnerID:  f.owner,
		GameID:   model.GameFantasyTrading,
		Score:    score,
		XPEarned: xp,
		GameData: model.PortfolioSnapshot{
			Cash:                 p.Cash,
			Holdings:             p.Holdings,
			TotalValueAtSnapshot: total,
			DerivedScore:         score,
			DerivedXP:            xp,
		},
		CreatedAt: created,
		UpdatedAt: time.Now().UTC(),
	}
}

// adopt keeps the row identity the store settled on.
func (f *Fantasy) adopt(rec *model.SessionRecord) {
	f.mu.Lock()
	f.id = rec.ID
	f.createdAt = rec.CreatedAt
	f.mu.Unlock()
}
