package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Embedder = EmbedderFunc(nil)

type recordingStore struct {
	queries []Query
	hits    []Hit
	err     error
}

func (s *recordingStore) Search(_ context.Context, q Query) ([]Hit, error) {
	s.queries = append(s.queries, q)
	return s.hits, s.err
}

func fixedEmbedder(vec ...float32) EmbedderFunc {
	return func(context.Context, string) ([]float32, error) { return vec, nil }
}

func TestRetriever_OverfetchesCandidates(t *testing.T) {
	store := &recordingStore{hits: []Hit{
		{Text: "Vacation is 20 days.", Source: "handbook.pdf", Score: 0.9},
		{Text: "Request PTO in the HR portal.", Source: "hr.md", Score: 0.8},
	}}

	r := NewRetriever(fixedEmbedder(1, 0), store)

	passages, err := r.Retrieve(context.Background(), "How do I request PTO?")
	require.NoError(t, err)

	require.Len(t, store.queries, 1)
	assert.Equal(t, 50, store.queries[0].Candidates)
	assert.Equal(t, 5, store.queries[0].Limit)
	assert.Equal(t, []float32{1, 0}, store.queries[0].Embedding)

	require.Len(t, passages, 2)
	assert.Equal(t, "Vacation is 20 days.", passages[0].Text)
	assert.Equal(t, "hr.md", passages[1].Source)
	assert.Equal(t, 0.8, passages[1].Score)
}

func TestRetriever_CustomK(t *testing.T) {
	store := &recordingStore{hits: []Hit{{Text: "a"}, {Text: "b"}, {Text: "c"}}}

	r := NewRetriever(fixedEmbedder(1), store, func(o *Options) {
		o.K = 2
		o.Overfetch = 3
	})

	passages, err := r.Retrieve(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, passages, 2)
	assert.Equal(t, 6, store.queries[0].Candidates)
	assert.Equal(t, 2, r.K())
}

func TestRetriever_ZeroHitsIsNotAnError(t *testing.T) {
	r := NewRetriever(fixedEmbedder(1), &recordingStore{})

	passages, err := r.Retrieve(context.Background(), "unknown topic")
	require.NoError(t, err)
	assert.Empty(t, passages)
	assert.Equal(t, NoRelevantContext, FormatContext(passages, NoRelevantContext))
}

func TestRetriever_Errors(t *testing.T) {
	boom := errors.New("boom")

	t.Run("empty question", func(t *testing.T) {
		_, err := NewRetriever(fixedEmbedder(1), &recordingStore{}).Retrieve(context.Background(), "  ")
		assert.ErrorIs(t, err, ErrEmptyQuestion)
	})

	t.Run("embedder", func(t *testing.T) {
		emb := EmbedderFunc(func(context.Context, string) ([]float32, error) { return nil, boom })
		_, err := NewRetriever(emb, &recordingStore{}).Retrieve(context.Background(), "q")
		assert.ErrorIs(t, err, boom)
		assert.ErrorContains(t, err, "embed question")
	})

	t.Run("store", func(t *testing.T) {
		_, err := NewRetriever(fixedEmbedder(1), &recordingStore{err: boom}).Retrieve(context.Background(), "q")
		assert.ErrorIs(t, err, boom)
		assert.ErrorContains(t, err, "vector search")
	})
}

func TestFormatContext(t *testing.T) {
	assert.Equal(t, NoInternalContext, FormatContext(nil, NoInternalContext))
	assert.Equal(t, "a\n\nb", FormatContext([]Passage{{Text: "a"}, {Text: "b"}}, NoInternalContext))
}

func TestMemoryStore_RanksByCosine(t *testing.T) {
	store := NewMemoryStore(
		Document{Text: "orthogonal", Embedding: []float32{0, 1}},
		Document{Text: "exact", Embedding: []float32{1, 0}, Metadata: map[string]any{"page": 1}},
		Document{Text: "close", Embedding: []float32{1, 1}},
	)

	hits, err := store.Search(context.Background(), Query{Embedding: []float32{1, 0}, Limit: 2})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "exact", hits[0].Text)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.Equal(t, "close", hits[1].Text)
	assert.Equal(t, 1, hits[0].Metadata["page"])
}

func TestMemoryStore_Add(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Add(Document{Text: "a", Embedding: []float32{1, 2}}))
	assert.Error(t, store.Add(Document{Text: "b", Embedding: []float32{1}}))
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_WithRetriever(t *testing.T) {
	store := NewMemoryStore(
		Document{Text: "PTO is 20 days", Embedding: []float32{1, 0}},
		Document{Text: "Laptop setup", Embedding: []float32{0, 1}},
	)

	r := NewRetriever(fixedEmbedder(0.9, 0.1), store, func(o *Options) { o.K = 1 })

	passages, err := r.Retrieve(context.Background(), "pto?")
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, "PTO is 20 days", passages[0].Text)
}
