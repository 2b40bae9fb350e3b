// Package mentormesh provides a high-level façade over the turn engine for
// building an onboarding assistant that answers from a knowledge base, falls
// back to web search, and remembers each conversation. Most applications
// interact with this package by:
//  1. Creating a Mesh via New() with a model and a knowledge source
//  2. Seeding a session with Initialize (optional, turns do it on demand)
//  3. Asking questions with Invoke (streaming) or Run / Ask (blocking)
//
// The façade delegates orchestration to engine.Engine. Unset services default
// to in-memory implementations, which is safe for local development and
// tests; production deployments supply durable stores and a structured logger.
package mentormesh

import (
	"context"
	"iter"
	"strings"

	"github.com/hupe1980/mentormesh/core"
	"github.com/hupe1980/mentormesh/engine"
	"github.com/hupe1980/mentormesh/flow"
	"github.com/hupe1980/mentormesh/logging"
	"github.com/hupe1980/mentormesh/model"
	"github.com/hupe1980/mentormesh/retrieval"
	"github.com/hupe1980/mentormesh/session"
	"github.com/hupe1980/mentormesh/telemetry"
	"github.com/hupe1980/mentormesh/tool"
)

// Options configures the Mesh instance.
type Options struct {
	Model model.Model

	// Knowledge source: either Retriever or Embedder plus VectorStore.
	Retriever   flow.Retriever
	Embedder    retrieval.Embedder
	VectorStore retrieval.VectorStore

	Tools *tool.Registry

	// Checkpoints defaults to an in-memory store.
	Checkpoints core.CheckpointStore

	// Logger defaults to NoOp.
	Logger    logging.Logger
	Telemetry *telemetry.Instruments
	Callbacks []engine.Callback

	MaxLoops         int
	TopK             int
	Overfetch        int
	Temperature      float64
	MaxHistory       int
	MaxParallelTools int
	Instructions     string
	Welcome          string
}

// Mesh is the high-level façade over engine.Engine.
type Mesh struct {
	opts   Options
	engine *engine.Engine
}

// New creates a Mesh. It fails with a *core.ConfigError when the model or the
// knowledge source is missing.
func New(optFns ...func(o *Options)) (*Mesh, error) {
	opts := Options{
		Checkpoints:      session.NewInMemoryStore(),
		Logger:           logging.NoOpLogger{},
		MaxLoops:         flow.DefaultMaxLoops,
		TopK:             5,
		Overfetch:        10,
		Temperature:      flow.DefaultTemperature,
		MaxParallelTools: 1,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	e, err := engine.New(func(o *engine.Options) {
		o.Model = opts.Model
		o.Retriever = opts.Retriever
		o.Embedder = opts.Embedder
		o.VectorStore = opts.VectorStore
		o.Tools = opts.Tools
		o.Checkpoints = opts.Checkpoints
		o.Logger = opts.Logger
		o.Telemetry = opts.Telemetry
		o.Callbacks = opts.Callbacks
		o.MaxLoops = opts.MaxLoops
		o.TopK = opts.TopK
		o.Overfetch = opts.Overfetch
		o.Temperature = opts.Temperature
		o.MaxHistory = opts.MaxHistory
		o.MaxParallelTools = opts.MaxParallelTools
		o.Instructions = opts.Instructions
		o.Welcome = opts.Welcome
	})
	if err != nil {
		return nil, err
	}

	return &Mesh{opts: opts, engine: e}, nil
}

// Engine exposes the underlying engine.
func (m *Mesh) Engine() *engine.Engine { return m.engine }

// Initialize seeds a session with the welcome message once.
func (m *Mesh) Initialize(ctx context.Context, sessionID, userName string) error {
	return m.engine.Initialize(ctx, sessionID, userName)
}

// Invoke streams the answer tokens of a turn; see engine.Engine.Invoke.
func (m *Mesh) Invoke(ctx context.Context, in engine.TurnInput) iter.Seq2[string, error] {
	return m.engine.Invoke(ctx, in)
}

// Run executes a turn without streaming.
func (m *Mesh) Run(ctx context.Context, in engine.TurnInput) (*engine.TurnResult, error) {
	return m.engine.Run(ctx, in)
}

// Ask is a synchronous helper that drains a streaming turn and returns the
// concatenated answer tokens.
func (m *Mesh) Ask(ctx context.Context, sessionID, question string) (string, error) {
	var sb strings.Builder

	for tok, err := range m.engine.Invoke(ctx, engine.TurnInput{SessionID: sessionID, Question: question}) {
		if err != nil {
			return sb.String(), err
		}

		sb.WriteString(tok)
	}

	return sb.String(), nil
}

// History returns the ordered messages of a session.
func (m *Mesh) History(ctx context.Context, sessionID string) ([]core.Message, error) {
	return m.engine.History(ctx, sessionID)
}

// Close cancels running turns and rejects new ones.
func (m *Mesh) Close() { m.engine.Close() }
