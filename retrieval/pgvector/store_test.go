package pgvector

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mentormesh/retrieval"
)

func TestSerializeEmbedding(t *testing.T) {
	assert.Equal(t, "[0.5,-1,2.25]", serializeEmbedding([]float32{0.5, -1, 2.25}))
	assert.Equal(t, "[]", serializeEmbedding(nil))
}

func TestNew_TableName(t *testing.T) {
	s, err := New(nil)
	require.NoError(t, err)
	assert.Contains(t, s.searchSQL(), `FROM "documents"`)
	assert.Contains(t, s.searchSQL(), "ORDER BY embedding <=> $1::vector")

	s, err = New(nil, func(o *Options) { o.Table = "kb_chunks" })
	require.NoError(t, err)
	assert.Contains(t, s.searchSQL(), `FROM "kb_chunks"`)

	_, err = New(nil, func(o *Options) { o.Table = "docs; DROP TABLE x" })
	assert.Error(t, err)
}

// Runs against a live database with the vector extension only when
// MENTORMESH_TEST_DATABASE_URL is set.
func TestStore_Search(t *testing.T) {
	dsn := os.Getenv("MENTORMESH_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("MENTORMESH_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	table := fmt.Sprintf("kb_test_%d", time.Now().UnixNano())

	store, err := New(pool, func(o *Options) {
		o.Table = table
		o.Dimension = 3
	})
	require.NoError(t, err)
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.Init(ctx))

	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), fmt.Sprintf(`DROP TABLE IF EXISTS %s`, store.table))
	})

	docs := []struct {
		content, source, metadata, embedding string
	}{
		{"PTO requests go through the HR portal.", "pto.md", `{"section":"leave"}`, "[1,0,0]"},
		{"Payroll runs monthly.", "payroll.md", `{}`, "[0,1,0]"},
		{"Managers approve PTO.", "pto.md", `{"section":"approval"}`, "[0.8,0.6,0]"},
	}

	for _, d := range docs {
		_, err := pool.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (content, source, metadata, embedding) VALUES ($1, $2, $3::jsonb, $4::vector)`, store.table),
			d.content, d.source, d.metadata, d.embedding)
		require.NoError(t, err)
	}

	for _, candidates := range []int{0, 10} {
		hits, err := store.Search(ctx, retrieval.Query{Embedding: []float32{1, 0, 0}, Candidates: candidates, Limit: 2})
		require.NoError(t, err)
		require.Len(t, hits, 2)

		assert.Equal(t, "PTO requests go through the HR portal.", hits[0].Text)
		assert.Equal(t, "pto.md", hits[0].Source)
		assert.Equal(t, "leave", hits[0].Metadata["section"])
		assert.InDelta(t, 1.0, hits[0].Score, 1e-5)

		assert.Equal(t, "Managers approve PTO.", hits[1].Text)
		assert.InDelta(t, 0.8, hits[1].Score, 1e-5)
	}
}
