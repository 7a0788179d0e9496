package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/finquest/portfolio-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache of each pair's latest session. Writes go to the primary store first
// and then refresh the cache; reads check Redis then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, refresh cache) ---

func (s *CachedStore) SaveSession(ctx context.Context, rec *model.SessionRecord) error {
	if err := s.primary.SaveSession(ctx, rec); err != nil {
		return err
	}
	s.cacheLatest(ctx, rec)
	return nil
}

func (s *CachedStore) InsertSession(ctx context.Context, rec *model.SessionRecord) error {
	if err := s.primary.InsertSession(ctx, rec); err != nil {
		return err
	}
	// A new row is the latest for its pair.
	s.cacheLatest(ctx, rec)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) LatestSession(ctx context.Context, ownerID, gameID string) (*model.SessionRecord, error) {
	data, err := s.rdb.Get(ctx, latestKey(ownerID, gameID)).Bytes()
	if err == nil {
		var rec model.SessionRecord
		if json.Unmarshal(data, &rec) == nil {
			return &rec, nil
		}
	} else if err != redis.Nil {
		slog.Warn("redis read failed, falling back to primary", "err", err)
	}

	// Cache miss: read from primary.
	rec, err := s.primary.LatestSession(ctx, ownerID, gameID)
	if err != nil {
		return nil, err
	}

	s.cacheLatest(ctx, rec)
	return rec, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListSessions(ctx context.Context, ownerID, gameID string, limit int) ([]model.SessionRecord, error) {
	return s.primary.ListSessions(ctx, ownerID, gameID, limit)
}

func (s *CachedStore) TotalXP(ctx context.Context, ownerID, gameID string) (int64, error) {
	return s.primary.TotalXP(ctx, ownerID, gameID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheLatest(ctx context.Context, rec *model.SessionRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, latestKey(rec.OwnerID, rec.GameID), data, s.ttl).Err(); err != nil {
		// Drop the stale entry so the next read goes to the primary.
		s.rdb.Del(ctx, latestKey(rec.OwnerID, rec.GameID))
	}
}

func latestKey(ownerID, gameID string) string {
	return fmt.Sprintf("session:latest:%s:%s", ownerID, gameID)
}
