package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finquest/portfolio-engine/internal/model"
)

// Schema creates the game_sessions table. Live sessions carry an upsert_key
// so there is at most one per (owner, game); completed runs leave it NULL.
const Schema = `
CREATE TABLE IF NOT EXISTS game_sessions (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	game_id     TEXT NOT NULL,
	upsert_key  TEXT UNIQUE,
	score       BIGINT NOT NULL DEFAULT 0,
	xp_earned   BIGINT NOT NULL DEFAULT 0,
	game_data   JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS game_sessions_owner_game_idx
	ON game_sessions (owner_id, game_id, updated_at DESC);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Game data is stored as JSONB; decimals inside it are encoded as strings
// for exact precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, rec *model.SessionRecord) error {
	if err := validate(rec); err != nil {
		return err
	}
	data, err := json.Marshal(rec.GameData)
	if err != nil {
		return fmt.Errorf("encode game data: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO game_sessions (id, owner_id, game_id, upsert_key, score, xp_earned, game_data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (upsert_key) DO UPDATE
		 SET score = EXCLUDED.score,
		     xp_earned = EXCLUDED.xp_earned,
		     game_data = EXCLUDED.game_data,
		     updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at`,
		rec.ID, rec.OwnerID, rec.GameID, upsertKey(rec.OwnerID, rec.GameID),
		rec.Score, rec.XPEarned, data, rec.CreatedAt, rec.UpdatedAt,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("save session %s/%s: %w", rec.OwnerID, rec.GameID, err)
	}
	return nil
}

func (s *PostgresStore) InsertSession(ctx context.Context, rec *model.SessionRecord) error {
	if err := validate(rec); err != nil {
		return err
	}
	data, err := json.Marshal(rec.GameData)
	if err != nil {
		return fmt.Errorf("encode game data: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO game_sessions (id, owner_id, game_id, score, xp_earned, game_data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.OwnerID, rec.GameID,
		rec.Score, rec.XPEarned, data, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresStore) LatestSession(ctx context.Context, ownerID, gameID string) (*model.SessionRecord, error) {
	rows, err := s.pool.Query(ctx, selectSessions+` LIMIT 1`, ownerID, gameID)
	if err != nil {
		return nil, fmt.Errorf("latest session %s/%s: %w", ownerID, gameID, err)
	}
	defer rows.Close()

	recs, err := scanSessions(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, ownerID, gameID)
	}
	return &recs[0], nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, ownerID, gameID string, limit int) ([]model.SessionRecord, error) {
	rows, err := s.pool.Query(ctx, selectSessions+` LIMIT $3`, ownerID, gameID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list sessions %s/%s: %w", ownerID, gameID, err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

func (s *PostgresStore) TotalXP(ctx context.Context, ownerID, gameID string) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(xp_earned), 0)::BIGINT
		 FROM game_sessions
		 WHERE owner_id = $1 AND game_id = $2`,
		ownerID, gameID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total xp %s/%s: %w", ownerID, gameID, err)
	}
	return total, nil
}

const selectSessions = `SELECT id, owner_id, game_id, score, xp_earned, game_data, created_at, updated_at
	 FROM game_sessions
	 WHERE owner_id = $1 AND game_id = $2
	 ORDER BY updated_at DESC, created_at DESC`

// pgxRows is the subset of pgx.Rows used for scanning.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

var _ pgxRows = (pgx.Rows)(nil)

func scanSessions(rows pgxRows) ([]model.SessionRecord, error) {
	var recs []model.SessionRecord
	for rows.Next() {
		var rec model.SessionRecord
		var data []byte

		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.GameID,
			&rec.Score, &rec.XPEarned, &data,
			&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &rec.GameData); err != nil {
			return nil, fmt.Errorf("decode game data for session %s: %w", rec.ID, err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return recs, nil
}
