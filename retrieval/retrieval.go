package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/mentormesh/logging"
)

// ErrEmptyQuestion is returned when Retrieve is called with a blank question.
var ErrEmptyQuestion = errors.New("retrieval: empty question")

// Passage is a retrieved knowledge base chunk. It lives only for one turn.
type Passage struct {
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Source   string         `json:"source,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Hit is a row returned by a VectorStore.
type Hit struct {
	Text     string
	Source   string
	Metadata map[string]any
	Score    float64
}

// Query describes an approximate nearest neighbour lookup.
type Query struct {
	Embedding []float32
	// Candidates is the size of the candidate list considered by the index.
	Candidates int
	// Limit is the number of hits returned, best first.
	Limit int
}

// Embedder maps text to a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStore answers nearest neighbour queries over pre-populated passages.
type VectorStore interface {
	Search(ctx context.Context, q Query) ([]Hit, error)
}

// Options configure a Retriever.
type Options struct {
	// K is the number of passages returned.
	K int
	// Overfetch multiplies K to size the candidate list.
	Overfetch int
	Logger    logging.Logger
}

// Retriever runs the embed then search pipeline.
type Retriever struct {
	embedder Embedder
	store    VectorStore
	opts     Options
}

// NewRetriever creates a Retriever with k=5 and an over-fetch factor of 10.
func NewRetriever(embedder Embedder, store VectorStore, optFns ...func(o *Options)) *Retriever {
	opts := Options{
		K:         5,
		Overfetch: 10,
		Logger:    logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.K <= 0 {
		opts.K = 5
	}

	if opts.Overfetch <= 0 {
		opts.Overfetch = 1
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Retriever{embedder: embedder, store: store, opts: opts}
}

// K returns the configured passage count.
func (r *Retriever) K() int { return r.opts.K }

// Retrieve returns up to K passages for the question, best first. Zero hits is
// not an error.
func (r *Retriever) Retrieve(ctx context.Context, question string) ([]Passage, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}

	start := time.Now()

	embedding, err := r.embedder.Embed(ctx, question)
	if err != nil {
		r.opts.Logger.Error("retrieval.embed.failed", "error", err.Error())
		return nil, fmt.Errorf("retrieval: embed question: %w", err)
	}

	hits, err := r.store.Search(ctx, Query{
		Embedding:  embedding,
		Candidates: r.opts.K * r.opts.Overfetch,
		Limit:      r.opts.K,
	})
	if err != nil {
		r.opts.Logger.Error("retrieval.query.failed", "error", err.Error())
		return nil, fmt.Errorf("retrieval: vector search: %w", err)
	}

	passages := make([]Passage, 0, len(hits))
	for _, h := range hits {
		passages = append(passages, Passage{Text: h.Text, Score: h.Score, Source: h.Source, Metadata: h.Metadata})
	}

	if len(passages) > r.opts.K {
		passages = passages[:r.opts.K]
	}

	if len(passages) == 0 {
		r.opts.Logger.Warn("retrieval.query.empty", "k", r.opts.K)
	}

	r.opts.Logger.Info("retrieval.query",
		"passages", len(passages),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return passages, nil
}

// EmbedderFunc adapts a function to the Embedder interface.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

// Embed implements Embedder.
func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }
