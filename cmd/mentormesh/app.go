package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hupe1980/mentormesh"
	"github.com/hupe1980/mentormesh/core"
	"github.com/hupe1980/mentormesh/internal/config"
	"github.com/hupe1980/mentormesh/logging"
	"github.com/hupe1980/mentormesh/model"
	"github.com/hupe1980/mentormesh/model/anthropic"
	"github.com/hupe1980/mentormesh/model/openai"
	"github.com/hupe1980/mentormesh/retrieval"
	"github.com/hupe1980/mentormesh/retrieval/pgvector"
	"github.com/hupe1980/mentormesh/session"
	"github.com/hupe1980/mentormesh/session/postgres"
	"github.com/hupe1980/mentormesh/session/sqlite"
	"github.com/hupe1980/mentormesh/telemetry"
	"github.com/hupe1980/mentormesh/tool"
	"github.com/hupe1980/mentormesh/tool/tavily"
)

// cleanup runs registered shutdown funcs in reverse order.
type cleanup []func(ctx context.Context) error

func (c *cleanup) add(fn func(ctx context.Context) error) { *c = append(*c, fn) }

func (c cleanup) run(ctx context.Context) error {
	var errs []error

	for i := len(c) - 1; i >= 0; i-- {
		errs = append(errs, c[i](ctx))
	}

	return errors.Join(errs...)
}

func newLogger(cfg config.LogConfig, w io.Writer) logging.Logger {
	level := logging.ParseLevel(cfg.Level)

	if cfg.Format == "zerolog" {
		return logging.NewZerologLogger(w, level)
	}

	return logging.NewMeshLogger(&logging.Config{
		Level:     level,
		Format:    cfg.Format,
		Output:    w,
		Component: "mentormesh",
	})
}

func newModel(cfg config.LLMConfig) model.Model {
	if cfg.Provider == "anthropic" {
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Model != "" {
				o.Model = anthropicsdk.Model(cfg.Model)
			}

			o.APIKey = cfg.APIKey
			o.Temperature = cfg.Temperature
		})
	}

	return openai.NewModel(func(o *openai.Options) {
		if cfg.Model != "" {
			o.Model = cfg.Model
		}

		o.APIKey = cfg.APIKey
		o.BaseURL = cfg.BaseURL
		o.Temperature = cfg.Temperature
	})
}

func newEmbedder(cfg config.EmbeddingConfig) retrieval.Embedder {
	return openai.NewEmbedder(func(o *openai.EmbedderOptions) {
		if cfg.Model != "" {
			o.Model = cfg.Model
		}

		o.Dimensions = int64(cfg.Dimensions)
		o.APIKey = cfg.APIKey
		o.BaseURL = cfg.BaseURL
	})
}

func newVectorStore(ctx context.Context, cfg config.Config, c *cleanup) (retrieval.VectorStore, error) {
	if cfg.Retrieval.Store == "memory" {
		return retrieval.NewMemoryStore(), nil
	}

	pool, err := pgxpool.New(ctx, cfg.Retrieval.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect knowledge base: %w", err)
	}

	c.add(func(context.Context) error { pool.Close(); return nil })

	store, err := pgvector.New(pool, func(o *pgvector.Options) {
		o.Table = cfg.Retrieval.Table
		o.Dimension = cfg.Embedding.Dimensions
	})
	if err != nil {
		return nil, err
	}

	if err := store.Init(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

func newCheckpointStore(ctx context.Context, cfg config.CheckpointConfig, c *cleanup) (core.CheckpointStore, error) {
	switch cfg.Driver {
	case "sqlite":
		store, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, err
		}

		c.add(func(context.Context) error { return store.Close() })

		return store, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect checkpoint database: %w", err)
		}

		c.add(func(context.Context) error { pool.Close(); return nil })

		store := postgres.New(pool)
		if err := store.Init(ctx); err != nil {
			return nil, err
		}

		return store, nil
	default:
		return session.NewInMemoryStore(), nil
	}
}

func newTools(cfg config.Config) *tool.Registry {
	registry := tool.NewRegistry()

	if cfg.SearchEnabled() {
		_ = registry.Register(tavily.New(func(o *tavily.Options) {
			o.APIKey = cfg.Search.TavilyAPIKey
			o.MaxResults = cfg.Search.MaxResults
		}))
	}

	return registry
}

// buildMesh wires every dependency named by cfg. The returned cleanup must
// run even when an error is returned.
func buildMesh(ctx context.Context, cfg config.Config, logger logging.Logger) (*mentormesh.Mesh, cleanup, error) {
	var c cleanup

	if err := cfg.Validate(); err != nil {
		return nil, c, err
	}

	var inst *telemetry.Instruments

	if cfg.Telemetry.Enabled {
		i, shutdown, err := telemetry.Init(ctx, cfg.Telemetry.ServiceName)
		if err != nil {
			return nil, c, fmt.Errorf("init telemetry: %w", err)
		}

		c.add(shutdown)

		inst = i
	}

	vectors, err := newVectorStore(ctx, cfg, &c)
	if err != nil {
		return nil, c, err
	}

	checkpoints, err := newCheckpointStore(ctx, cfg.Checkpoint, &c)
	if err != nil {
		return nil, c, err
	}

	mesh, err := mentormesh.New(func(o *mentormesh.Options) {
		o.Model = newModel(cfg.LLM)
		o.Embedder = newEmbedder(cfg.Embedding)
		o.VectorStore = vectors
		o.Tools = newTools(cfg)
		o.Checkpoints = checkpoints
		o.Logger = logger
		o.Telemetry = inst
		o.MaxLoops = cfg.Agent.MaxLoops
		o.TopK = cfg.Retrieval.TopK
		o.Overfetch = cfg.Retrieval.Overfetch
		o.Temperature = cfg.LLM.Temperature
		o.MaxHistory = cfg.Agent.MaxHistory
		o.MaxParallelTools = cfg.Agent.MaxParallelTools
	})
	if err != nil {
		return nil, c, err
	}

	c.add(func(context.Context) error { mesh.Close(); return nil })

	logger.Info("mentormesh.ready",
		"provider", cfg.LLM.Provider,
		"retrieval_store", cfg.Retrieval.Store,
		"checkpoint_driver", cfg.Checkpoint.Driver,
		"web_search", cfg.SearchEnabled(),
		"telemetry", cfg.Telemetry.Enabled,
	)

	return mesh, c, nil
}
