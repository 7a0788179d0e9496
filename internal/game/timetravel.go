package game

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
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

// openingEvent labels the first history point of every run.
const openingEvent = "Starting investment journey"

// HistoryPoint is the state of a run at the start of one year.
type HistoryPoint struct {
	Year           int             `json:"year"`
	SP500          decimal.Decimal `json:"sp500"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	Events         []string        `json:"events"`
}

// TimeTravelResult is the game-specific part of a completed run's record.
type TimeTravelResult struct {
	Period        string          `json:"period"`
	FinalValue    decimal.Decimal `json:"final_value"`
	ReturnPercent decimal.Decimal `json:"return_percent"`
	YearsPlayed   int             `json:"years_played"`
	History       []HistoryPoint  `json:"history"`
}

// TimeTravelView is the read model returned to clients.
type TimeTravelView struct {
	OwnerID    string               `json:"owner_id"`
	Started    bool                 `json:"started"`
	Period     *Period              `json:"period,omitempty"`
	Year       int                  `json:"year,omitempty"`
	Complete   bool                 `json:"complete"`
	Events     []string             `json:"events,omitempty"`
	Quotes     []model.PriceQuote   `json:"quotes,omitempty"`
	Portfolio  *model.Portfolio     `json:"portfolio,omitempty"`
	Valuation  *valuation.Valuation `json:"valuation,omitempty"`
	History    []HistoryPoint       `json:"history,omitempty"`
	SaveStatus SaveStatus           `json:"save_status,omitempty"`
}

// TimeTravel is one owner's time-traveler session. A run starts in a
// period's first year, invests by cash amount into fractional shares and
// advances one year at a time; reaching the end year completes the run
// and appends its result to the store.
type TimeTravel struct {
	owner     string
	cfg       Config
	persister *Persister

	mu       sync.Mutex
	period   *Period
	feed     *pricefeed.HistoricalFeed
	ledger   *ledger.Ledger
	year     int
	history  []HistoryPoint
	complete bool
	status   SaveStatus

	writeMu sync.Mutex // serializes store writes
	pendMu  sync.Mutex
	pending []*model.SessionRecord

	used time.Time // last lookup; guarded by Registry.mu
}

func newTimeTravel(owner string, p *Persister, cfg Config) *TimeTravel {
	return &TimeTravel{owner: owner, cfg: cfg, persister: p}
}

// Start begins a new run in the period, discarding any run in progress.
func (t *TimeTravel) Start(periodID string) (TimeTravelView, error) {
	period, err := LookupPeriod(periodID)
	if err != nil {
		return TimeTravelView{}, err
	}

	seed := t.cfg.HistoricalSeed
	if seed == 0 {
		seed = rand.Uint64()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.period = &period
	t.feed = period.Feed(seed)
	t.ledger = ledger.New(ledger.Config{
		InitialCash:           t.cfg.InitialCash,
		AllowFractionalShares: true,
	})
	t.year = period.StartYear
	t.history = []HistoryPoint{{
		Year:           period.StartYear,
		SP500:          period.SP500Start,
		PortfolioValue: t.ledger.InitialCash(),
		Events:         []string{openingEvent},
	}}
	t.complete = false
	t.status = ""

	slog.Info("time travel started", "owner", t.owner, "period", period.ID)
	return t.viewLocked()
}

// Buy invests amount of cash in the symbol at this year's price.
func (t *TimeTravel) Buy(rawSymbol string, amount decimal.Decimal) (model.Trade, error) {
	return t.trade(model.SideBuy, rawSymbol, func(sym string, price decimal.Decimal) (model.Trade, error) {
		return t.ledger.BuyValue(sym, amount, price)
	})
}

// Sell sells quantity shares of the symbol at this year's price.
func (t *TimeTravel) Sell(rawSymbol string, quantity decimal.Decimal) (model.Trade, error) {
	return t.trade(model.SideSell, rawSymbol, func(sym string, price decimal.Decimal) (model.Trade, error) {
		return t.ledger.Sell(sym, quantity, price)
	})
}

func (t *TimeTravel) trade(side model.Side, rawSymbol string,
	apply func(sym string, price decimal.Decimal) (model.Trade, error)) (model.Trade, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, err := t.tradeLocked(rawSymbol, apply)
	if err != nil {
		metrics.TradeRejections.WithLabelValues(model.GameTimeTraveler, rejectReason(err)).Inc()
		return model.Trade{}, err
	}

	metrics.TradesTotal.WithLabelValues(model.GameTimeTraveler, string(side)).Inc()
	slog.Info("time travel trade executed",
		"owner", t.owner,
		"period", t.period.ID,
		"year", t.year,
		"trade_id", tr.ID,
		"symbol", tr.Symbol,
		"side", string(tr.Side),
		"qty", tr.Quantity.String(),
		"price", tr.Price.String(),
	)
	return tr, nil
}

func (t *TimeTravel) tradeLocked(rawSymbol string,
	apply func(sym string, price decimal.Decimal) (model.Trade, error)) (model.Trade, error) {
	if err := t.activeLocked(); err != nil {
		return model.Trade{}, err
	}
	sym, err := symbol.Normalize(rawSymbol)
	if err != nil {
		return model.Trade{}, err
	}
	if _, ok := t.feed.Instrument(sym); !ok {
		return model.Trade{}, fmt.Errorf("%w: %s in %s", symbol.ErrUnknownSymbol, sym, t.period.ID)
	}
	price, err := t.feed.PriceAt(sym, t.elapsedLocked())
	if err != nil {
		return model.Trade{}, err
	}
	return apply(sym, price)
}

// Advance moves the run forward one year, revalues the portfolio at the
// new year's prices and records a history point. Reaching the end year
// completes the run and schedules its record to be stored.
func (t *TimeTravel) Advance() (HistoryPoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.activeLocked(); err != nil {
		return HistoryPoint{}, err
	}

	t.year++
	total, missing := valuation.TotalValue(t.ledger.Portfolio(), t.feed.At(t.elapsedLocked()))
	if len(missing) > 0 {
		metrics.MissingPrices.WithLabelValues(model.GameTimeTraveler).Add(float64(len(missing)))
	}
	point := HistoryPoint{
		Year:           t.year,
		SP500:          t.period.SP500At(t.year),
		PortfolioValue: total,
		Events:         t.period.EventsIn(t.year),
	}
	t.history = append(t.history, point)

	slog.Info("time travel advanced",
		"owner", t.owner,
		"period", t.period.ID,
		"year", t.year,
		"value", total.StringFixed(2),
	)

	if t.year >= t.period.EndYear {
		if err := t.completeLocked(total); err != nil {
			return HistoryPoint{}, err
		}
	}
	return point, nil
}

func (t *TimeTravel) completeLocked(final decimal.Decimal) error {
	ret, err := valuation.ReturnPercent(final, t.ledger.InitialCash())
	if err != nil {
		return err
	}
	score := valuation.TimeTravelScore(ret)
	xp := valuation.TimeTravelXP(ret)

	extra, err := json.Marshal(TimeTravelResult{
		Period:        t.period.ID,
		FinalValue:    final,
		ReturnPercent: ret,
		YearsPlayed:   t.elapsedLocked(),
		History:       append([]HistoryPoint(nil), t.history...),
	})
	if err != nil {
		return fmt.Errorf("encode time travel result: %w", err)
	}

	p := t.ledger.Portfolio()
	now := time.Now().UTC()
	rec := &model.SessionRecord{
		ID:       uuid.New().String(),
		OwnerID:  t.owner,
		GameID:   model.GameTimeTraveler,
		Score:    score,
		XPEarned: xp,
		GameData: model.PortfolioSnapshot{
			Cash:                 p.Cash,
			Holdings:             p.Holdings,
			TotalValueAtSnapshot: final,
			DerivedScore:         score,
			DerivedXP:            xp,
			Extra:                extra,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	t.complete = true
	t.status = StatusPending
	slog.Info("time travel complete",
		"owner", t.owner,
		"period", t.period.ID,
		"return_pct", ret.String(),
		"score", score,
		"xp", xp,
	)

	t.pendMu.Lock()
	t.pending = append(t.pending, rec)
	t.pendMu.Unlock()
	t.persister.background(func() {
		_ = t.flush(context.Background())
	})
	return nil
}

// flush stores completed runs' records that have not been stored yet,
// oldest first. A failed write leaves it and every later record queued.
func (t *TimeTravel) flush(ctx context.Context) error {
	err := t.drain(ctx)

	t.mu.Lock()
	if t.complete {
		if err != nil {
			t.status = StatusUnsaved
		} else {
			t.status = StatusSaved
		}
	}
	t.mu.Unlock()
	return err
}

func (t *TimeTravel) drain(ctx context.Context) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	for {
		t.pendMu.Lock()
		if len(t.pending) == 0 {
			t.pendMu.Unlock()
			return nil
		}
		rec := t.pending[0]
		t.pendMu.Unlock()

		if err := t.persister.write(ctx, rec, true); err != nil {
			return err
		}

		t.pendMu.Lock()
		t.pending = t.pending[1:]
		t.pendMu.Unlock()
	}
}

// stored reports whether every completed run has been written.
func (t *TimeTravel) stored() bool {
	t.pendMu.Lock()
	defer t.pendMu.Unlock()
	return len(t.pending) == 0
}

// Reset abandons the run and returns to period selection.
func (t *TimeTravel) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.period = nil
	t.feed = nil
	t.ledger = nil
	t.year = 0
	t.history = nil
	t.complete = false
	t.status = ""
	slog.Info("time travel reset", "owner", t.owner)
}

// View returns the current run valued at this year's prices.
func (t *TimeTravel) View() (TimeTravelView, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.viewLocked()
}

func (t *TimeTravel) viewLocked() (TimeTravelView, error) {
	v := TimeTravelView{OwnerID: t.owner}
	if t.period == nil {
		return v, nil
	}

	elapsed := t.elapsedLocked()
	asOf := time.Date(t.year, time.January, 1, 0, 0, 0, 0, time.UTC)
	quotes := make([]model.PriceQuote, 0, len(t.period.Instruments))
	for _, in := range t.period.Instruments {
		q, err := t.feed.QuoteAt(in.Symbol, elapsed, asOf)
		if err != nil {
			return TimeTravelView{}, err
		}
		quotes = append(quotes, q)
	}

	p := t.ledger.Portfolio()
	val, err := valuation.Value(p, t.feed.At(elapsed), t.ledger.InitialCash())
	if err != nil {
		return TimeTravelView{}, err
	}

	period := *t.period
	v.Started = true
	v.Period = &period
	v.Year = t.year
	v.Complete = t.complete
	v.Events = t.period.EventsIn(t.year)
	v.Quotes = quotes
	v.Portfolio = &p
	v.Valuation = &val
	v.History = append([]HistoryPoint(nil), t.history...)
	v.SaveStatus = t.status
	return v, nil
}

func (t *TimeTravel) activeLocked() error {
	if t.period == nil {
		return ErrNotStarted
	}
	if t.complete {
		return fmt.Errorf("%w: %s ended in %d", ErrGameComplete, t.period.ID, t.period.EndYear)
	}
	return nil
}

func (t *TimeTravel) elapsedLocked() int {
	return t.year - t.period.StartYear
}
