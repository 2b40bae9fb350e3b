// Package sqlite implements core.CheckpointStore on SQLite using the pure Go
// modernc.org/sqlite driver. Each session is one row holding the state as a
// JSON document.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/mentormesh/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	session_id TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	step       INTEGER NOT NULL,
	origin     TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// Store is a SQLite backed checkpoint store.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes read-modify-write to avoid SQLITE_BUSY
}

var _ core.CheckpointStore = (*Store)(nil)

// Open opens (and creates if needed) the database at path. ":memory:" keeps
// everything in process.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create database directory: %w", err)
		}

		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and writes ordered.
	db.SetMaxOpenConns(1)

	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// New wraps an existing handle and ensures the schema exists.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Get returns the stored checkpoint, or nil when absent.
func (s *Store) Get(ctx context.Context, sessionID string) (*core.Checkpoint, error) {
	if sessionID == "" {
		return nil, core.ErrSessionIDRequired
	}

	return s.load(ctx, s.db, sessionID)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) load(ctx context.Context, q queryer, sessionID string) (*core.Checkpoint, error) {
	var (
		raw       string
		updatedAt int64
		cp        = core.Checkpoint{SessionID: sessionID}
	)

	err := q.QueryRowContext(ctx,
		`SELECT state, step, origin, updated_at FROM checkpoints WHERE session_id = ?`, sessionID,
	).Scan(&raw, &cp.Step, &cp.Origin, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("sqlite: load checkpoint: %w", err)
	}

	if err := json.NewDecoder(strings.NewReader(raw)).Decode(&cp.State); err != nil {
		return nil, fmt.Errorf("sqlite: decode state: %w", err)
	}

	cp.UpdatedAt = time.Unix(0, updatedAt).UTC()

	return &cp, nil
}

// Update merges u into the stored state inside one transaction.
func (s *Store) Update(ctx context.Context, sessionID string, u core.Update, origin string) (*core.Checkpoint, error) {
	if sessionID == "" {
		return nil, core.ErrSessionIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	prev, err := s.load(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}

	next := core.Advance(prev, sessionID, u, origin)

	raw, err := json.Marshal(next.State)
	if err != nil {
		return nil, fmt.Errorf("sqlite: encode state: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO checkpoints (session_id, state, step, origin, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			state = excluded.state,
			step = excluded.step,
			origin = excluded.origin,
			updated_at = excluded.updated_at`,
		sessionID, string(raw), next.Step, next.Origin, next.UpdatedAt.UnixNano(),
	); err != nil {
		return nil, fmt.Errorf("sqlite: write checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit: %w", err)
	}

	return next, nil
}
