// Package store defines the session persistence interface for the portfolio
// engine. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
//
// The store treats game data as an opaque snapshot; it never interprets
// ledger state.
package store

import (
	"context"
	"errors"

	"github.com/finquest/portfolio-engine/internal/model"
)

// ErrNotFound is returned when no session exists for an (owner, game) pair.
var ErrNotFound = errors.New("store: session not found")

// DefaultListLimit caps ListSessions when no limit is given.
const DefaultListLimit = 50

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// SaveSession upserts the single live session for (OwnerID, GameID).
	// On update the existing ID and CreatedAt are kept and written back to rec.
	SaveSession(ctx context.Context, rec *model.SessionRecord) error

	// InsertSession appends a new session row, e.g. one per completed run.
	InsertSession(ctx context.Context, rec *model.SessionRecord) error

	// LatestSession returns the most recently updated session for the pair,
	// or ErrNotFound.
	LatestSession(ctx context.Context, ownerID, gameID string) (*model.SessionRecord, error)

	// ListSessions returns sessions for the pair, most recent first.
	ListSessions(ctx context.Context, ownerID, gameID string, limit int) ([]model.SessionRecord, error)

	// TotalXP sums xp_earned over every stored session for the pair. An
	// owner with no sessions has zero.
	TotalXP(ctx context.Context, ownerID, gameID string) (int64, error)
}

func upsertKey(ownerID, gameID string) string {
	return ownerID + "/" + gameID
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > DefaultListLimit {
		return DefaultListLimit
	}
	return limit
}
