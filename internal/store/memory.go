package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/finquest/portfolio-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu   sync.RWMutex
	rows []memRow
	live map[string]int // upsert key → index into rows
	seq  int
}

type memRow struct {
	rec model.SessionRecord
	seq int // insertion order, breaks UpdatedAt ties
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		live: make(map[string]int),
	}
}

func (s *MemoryStore) SaveSession(_ context.Context, rec *model.SessionRecord) error {
	if err := validate(rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := upsertKey(rec.OwnerID, rec.GameID)
	if i, ok := s.live[key]; ok {
		existing := s.rows[i].rec
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		s.rows[i] = memRow{rec: cloneRecord(*rec), seq: s.nextSeq()}
		return nil
	}

	s.rows = append(s.rows, memRow{rec: cloneRecord(*rec), seq: s.nextSeq()})
	s.live[key] = len(s.rows) - 1
	return nil
}

func (s *MemoryStore) InsertSession(_ context.Context, rec *model.SessionRecord) error {
	if err := validate(rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.rows {
		if r.rec.ID == rec.ID {
			return fmt.Errorf("session %s already exists", rec.ID)
		}
	}
	s.rows = append(s.rows, memRow{rec: cloneRecord(*rec), seq: s.nextSeq()})
	return nil
}

func (s *MemoryStore) LatestSession(ctx context.Context, ownerID, gameID string) (*model.SessionRecord, error) {
	recs, err := s.ListSessions(ctx, ownerID, gameID, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, ownerID, gameID)
	}
	return &recs[0], nil
}

func (s *MemoryStore) ListSessions(_ context.Context, ownerID, gameID string, limit int) ([]model.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []memRow
	for _, r := range s.rows {
		if r.rec.OwnerID == ownerID && r.rec.GameID == gameID {
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.rec.UpdatedAt.Equal(b.rec.UpdatedAt) {
			return a.rec.UpdatedAt.After(b.rec.UpdatedAt)
		}
		return a.seq > b.seq
	})

	limit = normalizeLimit(limit)
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]model.SessionRecord, 0, len(matched))
	for _, r := range matched {
		out = append(out, cloneRecord(r.rec))
	}
	return out, nil
}

func (s *MemoryStore) TotalXP(_ context.Context, ownerID, gameID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, r := range s.rows {
		if r.rec.OwnerID == ownerID && r.rec.GameID == gameID {
			total += r.rec.XPEarned
		}
	}
	return total, nil
}

// nextSeq must be called with the write lock held.
func (s *MemoryStore) nextSeq() int {
	s.seq++
	return s.seq
}

func validate(rec *model.SessionRecord) error {
	if rec.ID == "" || rec.OwnerID == "" || rec.GameID == "" {
		return fmt.Errorf("session record requires id, owner_id and game_id")
	}
	return nil
}

// cloneRecord copies rec so callers cannot mutate stored state.
func cloneRecord(rec model.SessionRecord) model.SessionRecord {
	out := rec
	out.GameData.Holdings = rec.GameData.Portfolio().Holdings
	if rec.GameData.Extra != nil {
		out.GameData.Extra = append([]byte(nil), rec.GameData.Extra...)
	}
	return out
}
