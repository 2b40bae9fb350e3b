// Package postgres implements core.CheckpointStore on PostgreSQL. The state
// is stored as JSONB, one row per session.
//
// The Store accepts an externally-owned *pgxpool.Pool. The caller creates and
// closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hupe1980/mentormesh/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	session_id TEXT PRIMARY KEY,
	state      JSONB NOT NULL,
	step       INTEGER NOT NULL,
	origin     TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

// Store is a PostgreSQL backed checkpoint store.
type Store struct {
	pool *pgxpool.Pool
}

var _ core.CheckpointStore = (*Store)(nil)

// New creates a Store using an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the checkpoints table. Safe to call multiple times.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: create schema: %w", err)
	}

	return nil
}

// Get returns the stored checkpoint, or nil when absent.
func (s *Store) Get(ctx context.Context, sessionID string) (*core.Checkpoint, error) {
	if sessionID == "" {
		return nil, core.ErrSessionIDRequired
	}

	return load(ctx, s.pool, sessionID, "")
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func load(ctx context.Context, q querier, sessionID, lock string) (*core.Checkpoint, error) {
	var (
		raw []byte
		cp  = core.Checkpoint{SessionID: sessionID}
	)

	err := q.QueryRow(ctx,
		`SELECT state, step, origin, updated_at FROM checkpoints WHERE session_id = $1`+lock, sessionID,
	).Scan(&raw, &cp.Step, &cp.Origin, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("postgres: load checkpoint: %w", err)
	}

	if err := json.Unmarshal(raw, &cp.State); err != nil {
		return nil, fmt.Errorf("postgres: decode state: %w", err)
	}

	cp.UpdatedAt = cp.UpdatedAt.UTC()

	return &cp, nil
}

// Update merges u into the stored state. The row is locked for the duration
// of the transaction so concurrent writers to one session apply in sequence.
func (s *Store) Update(ctx context.Context, sessionID string, u core.Update, origin string) (*core.Checkpoint, error) {
	if sessionID == "" {
		return nil, core.ErrSessionIDRequired
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serializes first writes, which have no row to lock yet.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, sessionID); err != nil {
		return nil, fmt.Errorf("postgres: lock session: %w", err)
	}

	prev, err := load(ctx, tx, sessionID, " FOR UPDATE")
	if err != nil {
		return nil, err
	}

	next := core.Advance(prev, sessionID, u, origin)

	raw, err := json.Marshal(next.State)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode state: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO checkpoints (session_id, state, step, origin, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE SET
			state = EXCLUDED.state,
			step = EXCLUDED.step,
			origin = EXCLUDED.origin,
			updated_at = EXCLUDED.updated_at`,
		sessionID, raw, next.Step, next.Origin, next.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("postgres: write checkpoint: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit: %w", err)
	}

	return next, nil
}
