package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/finquest/portfolio-engine/internal/metrics"
	"github.com/finquest/portfolio-engine/internal/model"
	"github.com/finquest/portfolio-engine/internal/store"
)

// Persister writes session records to the store off the request path.
// Every write is bounded by the configured timeout.
type Persister struct {
	store   store.Store
	timeout time.Duration
	wg      sync.WaitGroup

	// stopped is cancelled by Stop; throttled saves stop waiting for it.
	stopped context.Context
	stop    context.CancelFunc
}

// NewPersister creates a persister over st.
func NewPersister(st store.Store, timeout time.Duration) *Persister {
	if timeout <= 0 {
		timeout = DefaultConfig().SaveTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Persister{store: st, timeout: timeout, stopped: ctx, stop: cancel}
}

// Stop releases background saves that are waiting on their throttle. Writes
// already under way finish; callers flush afterwards to store what was
// skipped.
func (p *Persister) Stop() {
	p.stop()
}

// Wait blocks until every background save has finished or ctx is done.
func (p *Persister) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Persister) background(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

// write performs one store write. insert appends a new row; otherwise the
// live row for (owner, game) is upserted.
func (p *Persister) write(ctx context.Context, rec *model.SessionRecord, insert bool) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	var err error
	if insert {
		err = p.store.InsertSession(ctx, rec)
	} else {
		err = p.store.SaveSession(ctx, rec)
	}

	result := "ok"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		result = "timeout"
	case err != nil:
		result = "error"
	}
	metrics.ObserveSave(rec.GameID, result, time.Since(start))

	if err != nil {
		slog.Warn("session save failed",
			"owner", rec.OwnerID,
			"game", rec.GameID,
			"result", result,
			"err", err,
		)
		return fmt.Errorf("%w: %w", ErrPersistenceUnavailable, err)
	}
	return nil
}

// saver keeps the store copy of one live session up to date. Changes are
// coalesced: at most one background write runs at a time, each write takes
// the record as it is when the write starts, and writes are serialized so
// an older record never overwrites a newer one.
type saver struct {
	p       *Persister
	gameID  string
	limiter *rate.Limiter
	record  func() model.SessionRecord
	saved   func(*model.SessionRecord)

	writeMu sync.Mutex

	mu       sync.Mutex
	dirty    bool
	inFlight bool
	status   SaveStatus
}

func newSaver(p *Persister, gameID string, every time.Duration, burst int,
	record func() model.SessionRecord, saved func(*model.SessionRecord)) *saver {
	return &saver{
		p:       p,
		gameID:  gameID,
		limiter: rate.NewLimiter(rate.Every(every), burst),
		record:  record,
		saved:   saved,
		status:  StatusSaved,
	}
}

// touch records a state change and makes sure a background save is
// scheduled. A throttled save waits for the limiter and then writes the
// latest state.
func (s *saver) touch() {
	s.mu.Lock()
	s.dirty = true
	if s.status == StatusSaved {
		s.status = StatusPending
	}
	if s.inFlight {
		s.mu.Unlock()
		return
	}
	s.inFlight = true
	s.mu.Unlock()

	s.p.background(s.run)
}

func (s *saver) run() {
	for {
		if s.limiter.Tokens() < 1 {
			metrics.ObserveSave(s.gameID, "throttled", 0)
		}
		// Wait fails only once the persister stops; Close flushes after that.
		werr := s.limiter.Wait(s.p.stopped)
		var err error
		if werr == nil {
			err = s.writeLatest(context.Background())
		}

		s.mu.Lock()
		// A failed write is not retried here; the next change or flush will.
		if werr == nil && err == nil && s.dirty {
			s.mu.Unlock()
			continue
		}
		s.inFlight = false
		s.mu.Unlock()
		return
	}
}

// flush writes the latest record synchronously if it has not been saved.
func (s *saver) flush(ctx context.Context) error {
	s.mu.Lock()
	dirty := s.dirty
	s.mu.Unlock()
	if !dirty {
		return nil
	}
	return s.writeLatest(ctx)
}

func (s *saver) writeLatest(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	s.dirty = false
	s.mu.Unlock()

	rec := s.record()
	err := s.p.write(ctx, &rec, false)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err != nil:
		s.dirty = true
		s.status = StatusUnsaved
	case s.dirty:
		s.status = StatusPending
	default:
		s.status = StatusSaved
	}
	if err == nil && s.saved != nil {
		s.saved(&rec)
	}
	return err
}

// idle reports whether nothing is left to write.
func (s *saver) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dirty && !s.inFlight
}

func (s *saver) Status() SaveStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
