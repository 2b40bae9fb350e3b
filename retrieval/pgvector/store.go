// Package pgvector implements retrieval.VectorStore on PostgreSQL with the
// pgvector extension. Passages are ranked by cosine distance through an HNSW
// index; the candidate list size of each query is applied as hnsw.ef_search.
//
// The Store accepts an externally-owned *pgxpool.Pool. The caller creates and
// closes the pool.
package pgvector

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hupe1980/mentormesh/retrieval"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Options configure a Store.
type Options struct {
	// Table holding content, source, metadata and embedding columns.
	Table string
	// Dimension types the embedding column on Init; 0 keeps it untyped.
	Dimension int
}

// Store queries pre-populated passages.
type Store struct {
	pool  *pgxpool.Pool
	opts  Options
	table string
}

var _ retrieval.VectorStore = (*Store)(nil)

// New creates a Store using an existing pool. The table name must be a plain
// SQL identifier.
func New(pool *pgxpool.Pool, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{Table: "documents"}
	for _, fn := range optFns {
		fn(&opts)
	}

	if !identRe.MatchString(opts.Table) {
		return nil, fmt.Errorf("pgvector: invalid table name %q", opts.Table)
	}

	return &Store{pool: pool, opts: opts, table: pgx.Identifier{opts.Table}.Sanitize()}, nil
}

// Init creates the extension, the table and its HNSW index. Safe to call
// multiple times.
func (s *Store) Init(ctx context.Context) error {
	vectorType := "vector"
	if s.opts.Dimension > 0 {
		vectorType = fmt.Sprintf("vector(%d)", s.opts.Dimension)
	}

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			content TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding %s NOT NULL
		)`, s.table, vectorType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`,
			pgx.Identifier{s.opts.Table + "_embedding_idx"}.Sanitize(), s.table),
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgvector: init: %w", err)
		}
	}

	return nil
}

// Search returns the Limit nearest passages, best first. The score is the
// cosine similarity (1 - cosine distance).
func (s *Store) Search(ctx context.Context, q retrieval.Query) ([]retrieval.Hit, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgvector: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if q.Candidates > 0 {
		// SET does not accept bind parameters.
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", q.Candidates)); err != nil {
			return nil, fmt.Errorf("pgvector: set ef_search: %w", err)
		}
	}

	rows, err := tx.Query(ctx, s.searchSQL(), serializeEmbedding(q.Embedding), q.Limit)
	if err != nil {
		return nil, fmt.Errorf("pgvector: search: %w", err)
	}
	defer rows.Close()

	var hits []retrieval.Hit

	for rows.Next() {
		var (
			h  retrieval.Hit
			md []byte
		)

		if err := rows.Scan(&h.Text, &h.Source, &md, &h.Score); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}

		if len(md) > 0 {
			if err := json.Unmarshal(md, &h.Metadata); err != nil {
				return nil, fmt.Errorf("pgvector: decode metadata: %w", err)
			}
		}

		hits = append(hits, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: rows: %w", err)
	}

	return hits, tx.Commit(ctx)
}

func (s *Store) searchSQL() string {
	return fmt.Sprintf(`SELECT content, source, metadata, 1 - (embedding <=> $1::vector) AS score
		 FROM %s
		 ORDER BY embedding <=> $1::vector
		 LIMIT $2`, s.table)
}

// serializeEmbedding renders a vector literal such as [0.1,0.2].
func serializeEmbedding(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}

	return "[" + strings.Join(parts, ",") + "]"
}
