package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Document is a passage stored in a MemoryStore together with its embedding.
type Document struct {
	Text      string
	Source    string
	Metadata  map[string]any
	Embedding []float32
}

// MemoryStore is a process-local VectorStore scoring every document by cosine
// similarity. Candidates is ignored since the scan is exact.
//
// Concurrency: protected by RWMutex.
type MemoryStore struct {
	mu   sync.RWMutex
	docs []Document
}

var _ VectorStore = (*MemoryStore)(nil)

// NewMemoryStore creates a store seeded with docs.
func NewMemoryStore(docs ...Document) *MemoryStore {
	m := &MemoryStore{}
	m.docs = append(m.docs, docs...)

	return m
}

// Add appends documents. All embeddings must share one dimension.
func (m *MemoryStore) Add(docs ...Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range docs {
		if len(m.docs) > 0 && len(d.Embedding) != len(m.docs[0].Embedding) {
			return fmt.Errorf("retrieval: embedding dimension %d, want %d", len(d.Embedding), len(m.docs[0].Embedding))
		}

		m.docs = append(m.docs, d)
	}

	return nil
}

// Len reports the number of stored documents.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.docs)
}

// Search returns the Limit most similar documents, best first.
func (m *MemoryStore) Search(ctx context.Context, q Query) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]Hit, 0, len(m.docs))

	for _, d := range m.docs {
		if len(d.Embedding) != len(q.Embedding) {
			continue
		}

		md := make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			md[k] = v
		}

		hits = append(hits, Hit{
			Text:     d.Text,
			Source:   d.Source,
			Metadata: md,
			Score:    cosine(q.Embedding, d.Embedding),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}

	return hits, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64

	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}

	if na == 0 || nb == 0 {
		return 0
	}

	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
