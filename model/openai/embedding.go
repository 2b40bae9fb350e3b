package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
)

// EmbedderOptions configure the OpenAI embedding adapter.
type EmbedderOptions struct {
	Model      string
	Dimensions int64 // 0 keeps the model's native size
	APIKey     string
	BaseURL    string
}

// Embedder computes fixed-size vectors through the OpenAI Embeddings API.
// It satisfies retrieval.Embedder.
type Embedder struct {
	client *openai.Client
	opts   EmbedderOptions
}

func defaultEmbedderOptions() EmbedderOptions {
	return EmbedderOptions{Model: openai.EmbeddingModelTextEmbedding3Small}
}

// NewEmbedder creates an Embedder using the official client.
func NewEmbedder(optFns ...func(o *EmbedderOptions)) *Embedder {
	opts := defaultEmbedderOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	client := openai.NewClient(clientOptions(opts.APIKey, opts.BaseURL)...)

	return &Embedder{client: &client, opts: opts}
}

// NewEmbedderFromClient creates an Embedder from an existing client.
func NewEmbedderFromClient(client *openai.Client, optFns ...func(o *EmbedderOptions)) *Embedder {
	opts := defaultEmbedderOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Embedder{client: client, opts: opts}
}

// Embed returns the embedding vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: e.opts.Model,
	}

	if e.opts.Dimensions > 0 {
		params.Dimensions = openai.Int(e.opts.Dimensions)
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("openai embeddings: empty response")
	}

	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))

	for i, v := range raw {
		vec[i] = float32(v)
	}

	return vec, nil
}
