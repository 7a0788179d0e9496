package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/finquest/portfolio-engine/internal/metrics"
	"github.com/finquest/portfolio-engine/internal/model"
	"github.com/finquest/portfolio-engine/internal/pricefeed"
	"github.com/finquest/portfolio-engine/internal/store"
	"github.com/finquest/portfolio-engine/internal/symbol"
)

// unreadableSuffix marks the game id of a stored copy of a snapshot that
// could not be restored.
const unreadableSuffix = ".unreadable"

// Player is an owner's standing across games.
type Player struct {
	OwnerID string `json:"owner_id"`
	// XP is the total awarded by completed time-traveler runs.
	XP int64 `json:"xp"`
}

// Registry holds the live sessions, one per (owner, game). Fantasy
// sessions resume from the latest stored snapshot on first access; sessions
// left idle are stored and dropped by EvictIdle.
type Registry struct {
	cfg       Config
	store     store.Store
	persister *Persister
	market    *pricefeed.Walk
	universe  symbol.Universe

	mu      sync.Mutex
	fantasy map[string]*Fantasy
	travel  map[string]*TimeTravel
	loads   singleflight.Group
}

// NewRegistry creates a registry trading fantasy sessions on market.
func NewRegistry(st store.Store, market *pricefeed.Walk, cfg Config) (*Registry, error) {
	cfg = cfg.withDefaults()
	universe, err := symbol.NewUniverse(market.Symbols()...)
	if err != nil {
		return nil, fmt.Errorf("fantasy universe: %w", err)
	}
	return &Registry{
		cfg:       cfg,
		store:     st,
		persister: NewPersister(st, cfg.SaveTimeout),
		market:    market,
		universe:  universe,
		fantasy:   make(map[string]*Fantasy),
		travel:    make(map[string]*TimeTravel),
	}, nil
}

// Market returns the live market fantasy sessions trade on.
func (r *Registry) Market() *pricefeed.Walk {
	return r.market
}

// Fantasy returns the owner's fantasy session, loading the latest saved
// snapshot on first access. An owner with no saved session starts fresh;
// a store failure is returned as ErrPersistenceUnavailable so a fresh
// session never overwrites one that could not be read.
func (r *Registry) Fantasy(ctx context.Context, ownerID string) (*Fantasy, error) {
	r.mu.Lock()
	f, ok := r.fantasy[ownerID]
	if ok {
		f.used = time.Now()
	}
	r.mu.Unlock()
	if ok {
		return f, nil
	}

	v, err, _ := r.loads.Do(ownerID, func() (interface{}, error) {
		r.mu.Lock()
		if f, ok := r.fantasy[ownerID]; ok {
			r.mu.Unlock()
			return f, nil
		}
		r.mu.Unlock()

		f, err := r.loadFantasy(ctx, ownerID)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		f.used = time.Now()
		r.fantasy[ownerID] = f
		r.mu.Unlock()
		metrics.ActiveSessions.WithLabelValues(model.GameFantasyTrading).Inc()
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Fantasy), nil
}

func (r *Registry) loadFantasy(ctx context.Context, ownerID string) (*Fantasy, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.SaveTimeout)
	defer cancel()

	f := newFantasy(ownerID, r.market, r.universe, r.persister, r.cfg)

	rec, err := r.store.LatestSession(ctx, ownerID, model.GameFantasyTrading)
	switch {
	case errors.Is(err, store.ErrNotFound):
		slog.Info("fantasy session created", "owner", ownerID)
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("%w: load fantasy session %s: %w", ErrPersistenceUnavailable, ownerID, err)
	}

	if err := f.restore(rec); err != nil {
		// The fresh session's first save overwrites this row, so keep a copy.
		copyID, qerr := r.keepUnreadable(ctx, rec)
		if qerr != nil {
			return nil, fmt.Errorf("%w: keep unreadable fantasy session %s: %w", ErrPersistenceUnavailable, rec.ID, qerr)
		}
		slog.Warn("unreadable fantasy session moved aside",
			"owner", ownerID,
			"session_id", rec.ID,
			"copy_id", copyID,
			"err", err,
		)
		return f, nil
	}
	slog.Info("fantasy session resumed",
		"owner", ownerID,
		"session_id", rec.ID,
		"cash", rec.GameData.Cash.StringFixed(2),
		"holdings", len(rec.GameData.Holdings),
	)
	return f, nil
}

// keepUnreadable inserts a copy of rec under its own id and a game id no
// session loads from.
func (r *Registry) keepUnreadable(ctx context.Context, rec *model.SessionRecord) (string, error) {
	cp := *rec
	cp.ID = uuid.New().String()
	cp.GameID = rec.GameID + unreadableSuffix
	cp.UpdatedAt = time.Now().UTC()
	if err := r.store.InsertSession(ctx, &cp); err != nil {
		return "", err
	}
	return cp.ID, nil
}

// TimeTravel returns the owner's time-traveler session, creating an
// unstarted one on first access.
func (r *Registry) TimeTravel(ownerID string) *TimeTravel {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.travel[ownerID]
	if !ok {
		t = newTimeTravel(ownerID, r.persister, r.cfg)
		r.travel[ownerID] = t
		metrics.ActiveSessions.WithLabelValues(model.GameTimeTraveler).Inc()
	}
	t.used = time.Now()
	return t
}

// Player returns the owner's XP total from stored time-traveler runs.
func (r *Registry) Player(ctx context.Context, ownerID string) (Player, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.SaveTimeout)
	defer cancel()

	xp, err := r.store.TotalXP(ctx, ownerID, model.GameTimeTraveler)
	if err != nil {
		return Player{}, fmt.Errorf("%w: player xp: %w", ErrPersistenceUnavailable, err)
	}
	return Player{OwnerID: ownerID, XP: xp}, nil
}

// History returns the owner's stored sessions for a game, most recent first.
func (r *Registry) History(ctx context.Context, ownerID, gameID string, limit int) ([]model.SessionRecord, error) {
	if gameID != model.GameFantasyTrading && gameID != model.GameTimeTraveler {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGame, gameID)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.SaveTimeout)
	defer cancel()

	recs, err := r.store.ListSessions(ctx, ownerID, gameID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %w", ErrPersistenceUnavailable, err)
	}
	if recs == nil {
		recs = []model.SessionRecord{}
	}
	return recs, nil
}

// Flush synchronously stores every session with unsaved changes.
func (r *Registry) Flush(ctx context.Context) error {
	r.mu.Lock()
	fantasy := make([]*Fantasy, 0, len(r.fantasy))
	for _, f := range r.fantasy {
		fantasy = append(fantasy, f)
	}
	travel := make([]*TimeTravel, 0, len(r.travel))
	for _, t := range r.travel {
		travel = append(travel, t)
	}
	r.mu.Unlock()

	sort.Slice(fantasy, func(i, j int) bool { return fantasy[i].owner < fantasy[j].owner })

	var errs []error
	for _, f := range fantasy {
		if err := f.saver.flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, t := range travel {
		if err := t.flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EvictIdle stores and drops sessions not used for idle. A session whose
// save fails, or that is used while being stored, stays loaded. A
// time-traveler run still in progress is dropped with its session. It
// returns the number of sessions dropped.
func (r *Registry) EvictIdle(ctx context.Context, idle time.Duration) (int, error) {
	cutoff := time.Now().Add(-idle)

	r.mu.Lock()
	var fantasy []*Fantasy
	for _, f := range r.fantasy {
		if f.used.Before(cutoff) {
			fantasy = append(fantasy, f)
		}
	}
	var travel []*TimeTravel
	for _, t := range r.travel {
		if t.used.Before(cutoff) {
			travel = append(travel, t)
		}
	}
	r.mu.Unlock()

	var errs []error
	var storedF []*Fantasy
	for _, f := range fantasy {
		if err := f.saver.flush(ctx); err != nil {
			errs = append(errs, err)
			continue
		}
		storedF = append(storedF, f)
	}
	var storedT []*TimeTravel
	for _, t := range travel {
		if err := t.flush(ctx); err != nil {
			errs = append(errs, err)
			continue
		}
		storedT = append(storedT, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range storedF {
		if r.fantasy[f.owner] == f && f.used.Before(cutoff) && f.saver.idle() {
			delete(r.fantasy, f.owner)
			metrics.ActiveSessions.WithLabelValues(model.GameFantasyTrading).Dec()
			n++
		}
	}
	for _, t := range storedT {
		if r.travel[t.owner] == t && t.used.Before(cutoff) && t.stored() {
			delete(r.travel, t.owner)
			metrics.ActiveSessions.WithLabelValues(model.GameTimeTraveler).Dec()
			n++
		}
	}
	return n, errors.Join(errs...)
}

// RunEviction calls EvictIdle with the configured idle timeout until ctx is
// done.
func (r *Registry) RunEviction(ctx context.Context) {
	tk := time.NewTicker(r.cfg.IdleTimeout / 2)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			n, err := r.EvictIdle(ctx, r.cfg.IdleTimeout)
			if err != nil {
				slog.Warn("idle session eviction incomplete", "evicted", n, "err", err)
			} else if n > 0 {
				slog.Info("idle sessions evicted", "evicted", n)
			}
		}
	}
}

// Close stops throttled background saves, waits for writes under way and
// then flushes what is left. Later changes are stored only by Flush.
func (r *Registry) Close(ctx context.Context) error {
	r.persister.Stop()
	if err := r.persister.Wait(ctx); err != nil {
		return fmt.Errorf("wait for saves: %w", err)
	}
	return r.Flush(ctx)
}
