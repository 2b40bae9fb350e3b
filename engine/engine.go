package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/mentormesh/core"
	"github.com/hupe1980/mentormesh/flow"
	"github.com/hupe1980/mentormesh/logging"
	"github.com/hupe1980/mentormesh/model"
	"github.com/hupe1980/mentormesh/retrieval"
	"github.com/hupe1980/mentormesh/session"
	"github.com/hupe1980/mentormesh/telemetry"
	"github.com/hupe1980/mentormesh/tool"
)

// OriginInput is the checkpoint origin of the turn input write.
const OriginInput = "input"

// Options configures an Engine using the functional options pattern.
//
// Model, a knowledge source (Retriever, or Embedder plus VectorStore) and
// Checkpoints are required; everything else has a default.
//
// Example:
//
//	eng, err := engine.New(func(o *engine.Options) {
//	    o.Model = openai.NewModel()
//	    o.Embedder = openai.NewEmbedder()
//	    o.VectorStore = store
//	    o.Checkpoints = sqliteStore
//	    o.Tools = tool.NewRegistry(tavily.New())
//	})
type Options struct {
	// Model produces the ai messages of a turn.
	Model model.Model

	// Retriever overrides the embed then search pipeline built from
	// Embedder and VectorStore.
	Retriever   flow.Retriever
	Embedder    retrieval.Embedder
	VectorStore retrieval.VectorStore

	// Tools offered to the model. May be nil for a tool-less assistant.
	Tools *tool.Registry

	// Checkpoints persists session state after every node.
	Checkpoints core.CheckpointStore

	// Logger defaults to NoOp. A *logging.MeshLogger gets session and turn
	// scoped copies per turn.
	Logger logging.Logger

	// Telemetry records spans and metrics. Nil disables it.
	Telemetry *telemetry.Instruments

	// Callbacks are registered in order on the engine's CallbackManager.
	Callbacks []Callback

	// MaxLoops bounds reasoning executions per turn (see flow.Route).
	MaxLoops int

	// TopK and Overfetch tune the built-in retriever.
	TopK      int
	Overfetch int

	Temperature float64

	// MaxHistory bounds prior messages sent to the model; 0 keeps all.
	MaxHistory int

	// Instructions overrides the system prompt template.
	Instructions string

	// Welcome overrides the welcome message template.
	Welcome string

	// MaxParallelTools bounds concurrent tool calls of one ai message.
	MaxParallelTools int

	// MaxConcurrentTurns limits turns running at once across sessions.
	// 0 means unlimited.
	MaxConcurrentTurns int
}

// TurnInput is one user question addressed to a session.
type TurnInput struct {
	SessionID string
	Question  string
	// UserName and UserRole update the profile when non-blank.
	UserName string
	UserRole string
	// TurnID is generated when blank. It can be passed to StopTurn.
	TurnID string
}

// TurnResult is the outcome of a non-streaming turn.
type TurnResult struct {
	TurnID string
	// Answer is the text of the last ai message of the turn.
	Answer string
	State  core.State
}

// Engine orchestrates MentorMesh turns.
//
// A turn runs retrieve → agent → (tools → agent)* against one session. Every
// node's update is persisted through the CheckpointStore as soon as the node
// completes, so an aborted turn leaves the checkpoint at the last completed
// step. Turns on the same session are serialized; turns on different
// sessions run concurrently.
type Engine struct {
	checkpoints core.CheckpointStore
	logger      logging.Logger
	telemetry   *telemetry.Instruments
	callbacks   *CallbackManager
	lanes       *session.Lanes
	sem         chan struct{}

	retrieve flow.Node
	agent    flow.Node
	tools    flow.Node

	maxLoops int
	welcome  string

	activeTurns map[string]context.CancelFunc
	turnsMu     sync.Mutex
}

// New creates an Engine. A missing required dependency yields a
// *core.ConfigError.
func New(optFns ...func(o *Options)) (*Engine, error) {
	opts := Options{
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

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	if opts.Model == nil {
		return nil, core.NewConfigError("model")
	}

	if opts.Checkpoints == nil {
		return nil, core.NewConfigError("checkpoint_store")
	}

	retriever := opts.Retriever
	if retriever == nil {
		if opts.Embedder == nil {
			return nil, core.NewConfigError("embedder")
		}

		if opts.VectorStore == nil {
			return nil, core.NewConfigError("vector_store")
		}

		retriever = retrieval.NewRetriever(opts.Embedder, opts.VectorStore, func(o *retrieval.Options) {
			o.K = opts.TopK
			o.Overfetch = opts.Overfetch
			o.Logger = opts.Logger
		})
	}

	if opts.MaxLoops < 0 {
		return nil, &core.ConfigError{Field: "max_loops", Reason: "must not be negative"}
	}

	callbacks := NewCallbackManager()
	for _, cb := range opts.Callbacks {
		callbacks.RegisterCallback(cb)
	}

	inst := opts.Telemetry

	e := &Engine{
		checkpoints: opts.Checkpoints,
		logger:      opts.Logger,
		telemetry:   inst,
		callbacks:   callbacks,
		lanes:       session.NewLanes(),
		retrieve:    flow.NewRetrieveNode(retriever, opts.Logger),
		agent: flow.NewReasoningNode(opts.Model, opts.Tools, func(o *flow.ReasoningOptions) {
			o.Instructions = opts.Instructions
			o.Temperature = opts.Temperature
			o.MaxHistory = opts.MaxHistory
			o.Logger = opts.Logger
		}),
		tools: flow.NewToolNode(opts.Tools, func(o *flow.ToolNodeOptions) {
			o.MaxParallel = opts.MaxParallelTools
			o.Logger = opts.Logger
			o.OnExecuted = func(name string, dur time.Duration, err error) {
				inst.RecordTool(context.Background(), name, dur, err)
			}
		}),
		maxLoops:    opts.MaxLoops,
		welcome:     opts.Welcome,
		activeTurns: make(map[string]context.CancelFunc),
	}

	if opts.MaxConcurrentTurns > 0 {
		e.sem = make(chan struct{}, opts.MaxConcurrentTurns)
	}

	return e, nil
}

// Invoke streams the answer tokens of the agent node for one turn. The turn
// starts when the sequence is ranged over; range it once. Tokens are yielded
// with a nil error; a failing turn ends with one ("", err) pair.
//
// Breaking out of the loop cancels the turn and returns only after it has
// released its session, so the consumer may simply stop reading. The turn
// never persists a partially streamed node.
//
// Example:
//
//	for tok, err := range eng.Invoke(ctx, engine.TurnInput{SessionID: "s1", Question: "How do I request PTO?"}) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Print(tok)
//	}
func (e *Engine) Invoke(ctx context.Context, in TurnInput) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		tokens, errs, cancel := e.startTurn(ctx, in)

		defer func() {
			cancel()

			for range tokens {
			}

			for range errs {
			}
		}()

		for tok := range tokens {
			if !yield(tok, nil) {
				return
			}
		}

		if err := <-errs; err != nil {
			yield("", err)
		}
	}
}

// startTurn runs a turn in the background. The token channel closes when
// the turn ends; a failure is then sent on the error channel, which closes
// once the session is released.
func (e *Engine) startTurn(ctx context.Context, in TurnInput) (<-chan string, <-chan error, context.CancelFunc) {
	if in.TurnID == "" {
		in.TurnID = core.NewID()
	}

	turnCtx, cancel := context.WithCancel(ctx)
	e.track(in.TurnID, cancel)

	events := make(chan core.StreamEvent)
	errCh := make(chan error, 1)

	emit := func(ev core.StreamEvent) error {
		select {
		case <-turnCtx.Done():
			return turnCtx.Err()
		case events <- ev:
			return nil
		}
	}

	go func() {
		defer close(errCh)
		defer e.untrack(in.TurnID)

		_, err := e.runTurn(turnCtx, in, emit)

		close(events)

		if err != nil {
			errCh <- err
		}
	}()

	// Tokens follows the caller's ctx so deltas accepted before the turn
	// finished are still delivered.
	return Tokens(ctx, events), errCh, cancel
}

// Run executes a turn without streaming and returns the final answer.
func (e *Engine) Run(ctx context.Context, in TurnInput) (*TurnResult, error) {
	if in.TurnID == "" {
		in.TurnID = core.NewID()
	}

	turnCtx, cancel := context.WithCancel(ctx)
	e.track(in.TurnID, cancel)

	defer e.untrack(in.TurnID)

	state, err := e.runTurn(turnCtx, in, nil)
	if err != nil {
		return nil, err
	}

	result := &TurnResult{TurnID: in.TurnID, State: state}
	if last, ok := state.LastAIMessage(); ok {
		result.Answer = last.Text()
	}

	return result, nil
}

// StopTurn cancels a running turn.
func (e *Engine) StopTurn(turnID string) error {
	e.turnsMu.Lock()
	cancel, exists := e.activeTurns[turnID]
	e.turnsMu.Unlock()

	if !exists {
		return fmt.Errorf("turn %s not found", turnID)
	}

	cancel()

	return nil
}

// ActiveTurns reports the number of turns currently running.
func (e *Engine) ActiveTurns() int {
	e.turnsMu.Lock()
	defer e.turnsMu.Unlock()

	return len(e.activeTurns)
}

// Initialize seeds a session with the welcome message. It is a no-op for a
// session that already has messages. A blank userName becomes
// flow.DefaultUserName.
func (e *Engine) Initialize(ctx context.Context, sessionID, userName string) error {
	if strings.TrimSpace(sessionID) == "" {
		return core.ErrSessionIDRequired
	}

	return e.lanes.Do(ctx, sessionID, func(ctx context.Context) error {
		_, err := e.initialize(ctx, sessionID, userName, e.scopedLogger(sessionID, ""))
		return err
	})
}

// History returns the messages of a session in order, or an empty slice for
// an unknown session.
func (e *Engine) History(ctx context.Context, sessionID string) ([]core.Message, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, core.ErrSessionIDRequired
	}

	cp, err := e.checkpoints.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("engine: load session: %w", err)
	}

	if cp == nil || cp.State.Messages == nil {
		return []core.Message{}, nil
	}

	return cp.State.Messages, nil
}

// State returns the persisted state of a session, or nil when unknown.
func (e *Engine) State(ctx context.Context, sessionID string) (*core.State, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, core.ErrSessionIDRequired
	}

	cp, err := e.checkpoints.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("engine: load session: %w", err)
	}

	if cp == nil {
		return nil, nil
	}

	return &cp.State, nil
}

// Close stops accepting turns and cancels running ones.
func (e *Engine) Close() {
	e.lanes.Close()

	e.turnsMu.Lock()
	defer e.turnsMu.Unlock()

	for _, cancel := range e.activeTurns {
		cancel()
	}
}

// initialize must be called while holding the session lane. It returns the
// current checkpoint.
func (e *Engine) initialize(ctx context.Context, sessionID, userName string, logger logging.Logger) (*core.Checkpoint, error) {
	cp, err := e.checkpoints.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("engine: load session: %w", err)
	}

	if cp != nil && len(cp.State.Messages) > 0 {
		return cp, nil
	}

	name := flow.NormalizeUserName(userName)

	welcome, err := flow.RenderWelcome(e.welcome, name)
	if err != nil {
		return nil, fmt.Errorf("engine: render welcome: %w", err)
	}

	cp, err = e.checkpoints.Update(ctx, sessionID, core.Update{
		Messages: []core.Message{core.NewAIMessage(flow.NodeAgent, welcome)},
		UserName: core.String(name),
	}, flow.NodeAgent)
	e.logCheckpoint(logger, flow.NodeAgent, cp, err)

	if err != nil {
		return nil, fmt.Errorf("engine: write welcome: %w", err)
	}

	logger.Info("engine.session.initialized", "session_id", sessionID, "user_name", name)

	return cp, nil
}

func (e *Engine) runTurn(ctx context.Context, in TurnInput, emit flow.EmitFunc) (core.State, error) {
	if strings.TrimSpace(in.SessionID) == "" {
		return core.State{}, core.ErrSessionIDRequired
	}

	question := strings.TrimSpace(in.Question)
	if question == "" {
		return core.State{}, retrieval.ErrEmptyQuestion
	}

	if e.sem != nil {
		select {
		case e.sem <- struct{}{}:
			defer func() { <-e.sem }()
		case <-ctx.Done():
			return core.State{}, ctx.Err()
		}
	}

	ctx = core.WithTurnID(ctx, in.TurnID)

	release, err := e.lanes.Acquire(ctx, in.SessionID)
	if err != nil {
		return core.State{}, err
	}
	defer release()

	logger := e.scopedLogger(in.SessionID, in.TurnID)
	start := time.Now()

	ctx, endTurn := e.telemetry.StartTurn(ctx, in.SessionID, in.TurnID)

	logger.Info("engine.turn.start", "question_length", len(question))

	state, err := e.executeTurn(ctx, in, question, emit, logger)
	if err != nil {
		cbErr := e.callbacks.ExecuteCallbacks(ctx, CallbackOnError, &CallbackContext{
			SessionID: in.SessionID,
			TurnID:    in.TurnID,
			State:     state,
			Err:       err,
		})
		if cbErr != nil {
			err = errors.Join(err, cbErr)
		}

		endTurn(state.LoopCount, err)
		logger.Error("engine.turn.failed",
			"error", err.Error(),
			"loop_count", state.LoopCount,
			"duration_ms", time.Since(start).Milliseconds(),
		)

		return state, err
	}

	endTurn(state.LoopCount, nil)
	logger.Info("engine.turn.done",
		"loop_count", state.LoopCount,
		"messages", len(state.Messages),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return state, nil
}

// executeTurn writes the turn input and drives the node graph. The returned
// state is the last persisted one, also on error.
func (e *Engine) executeTurn(
	ctx context.Context,
	in TurnInput,
	question string,
	emit flow.EmitFunc,
	logger logging.Logger,
) (core.State, error) {
	cp, err := e.initialize(ctx, in.SessionID, in.UserName, logger)
	if err != nil {
		return core.State{}, err
	}

	input := core.Update{
		Messages:       []core.Message{core.NewHumanMessage(question)},
		ResetLoopCount: true,
		Question:       core.String(question),
	}

	if name := strings.TrimSpace(in.UserName); name != "" {
		input.UserName = core.String(name)
	}

	if role := strings.TrimSpace(in.UserRole); role != "" {
		input.UserRole = core.String(role)
	}

	state := cp.State

	cp, err = e.checkpoints.Update(ctx, in.SessionID, input, OriginInput)
	e.logCheckpoint(logger, OriginInput, cp, err)

	if err != nil {
		return state, fmt.Errorf("engine: persist turn input: %w", err)
	}

	state = cp.State

	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackBeforeTurn, &CallbackContext{
		SessionID: in.SessionID,
		TurnID:    in.TurnID,
		State:     state,
	}); err != nil {
		return state, err
	}

	if state, err = e.runNode(ctx, e.retrieve, in, state, emit, logger); err != nil {
		return state, err
	}

	if state, err = e.runNode(ctx, e.agent, in, state, emit, logger); err != nil {
		return state, err
	}

	for {
		decision := flow.Route(state, e.maxLoops)
		logger.Debug("engine.route", "decision", decision.String(), "loop_count", state.LoopCount)

		if decision == flow.Terminate {
			if state, err = e.closeUnansweredCalls(ctx, in, state, logger); err != nil {
				return state, err
			}

			break
		}

		if state, err = e.runNode(ctx, e.tools, in, state, emit, logger); err != nil {
			return state, err
		}

		if state, err = e.runNode(ctx, e.agent, in, state, emit, logger); err != nil {
			return state, err
		}
	}

	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackAfterTurn, &CallbackContext{
		SessionID: in.SessionID,
		TurnID:    in.TurnID,
		State:     state,
	}); err != nil {
		return state, err
	}

	return state, nil
}

// closeUnansweredCalls persists LOOP_LIMIT results for tool calls the loop
// bound cut off, so every stored call has a result.
func (e *Engine) closeUnansweredCalls(ctx context.Context, in TurnInput, state core.State, logger logging.Logger) (core.State, error) {
	msgs := flow.UnansweredCalls(state)
	if len(msgs) == 0 {
		return state, nil
	}

	logger.Warn("engine.loop_limit", "pending_calls", len(msgs), "loop_count", state.LoopCount)

	cp, err := e.checkpoints.Update(ctx, in.SessionID, core.Update{Messages: msgs}, flow.NodeTools)
	e.logCheckpoint(logger, flow.NodeTools, cp, err)

	if err != nil {
		return state, fmt.Errorf("engine: persist %s: %w", flow.NodeTools, err)
	}

	return cp.State, nil
}

// runNode executes node against state and persists its update.
func (e *Engine) runNode(
	ctx context.Context,
	node flow.Node,
	in TurnInput,
	state core.State,
	emit flow.EmitFunc,
	logger logging.Logger,
) (core.State, error) {
	cbCtx := &CallbackContext{
		SessionID: in.SessionID,
		TurnID:    in.TurnID,
		Node:      node.Name(),
		State:     state,
	}

	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackBeforeNode, cbCtx); err != nil {
		return state, err
	}

	nodeCtx, endNode := e.telemetry.StartNode(ctx, node.Name())

	update, err := node.Run(nodeCtx, state, emit)
	if err == nil {
		// A node that raced with cancellation must not be persisted.
		err = ctx.Err()
	}

	if err != nil {
		endNode(err)
		return state, fmt.Errorf("engine: node %s: %w", node.Name(), err)
	}

	cbCtx.Update = &update
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackOnUpdate, cbCtx); err != nil {
		endNode(err)
		return state, err
	}

	cp, err := e.checkpoints.Update(ctx, in.SessionID, update, node.Name())
	e.logCheckpoint(logger, node.Name(), cp, err)
	endNode(err)

	if err != nil {
		return state, fmt.Errorf("engine: persist %s: %w", node.Name(), err)
	}

	cbCtx.State = cp.State
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackAfterNode, cbCtx); err != nil {
		return cp.State, err
	}

	return cp.State, nil
}

func (e *Engine) scopedLogger(sessionID, turnID string) logging.Logger {
	if ml, ok := e.logger.(*logging.MeshLogger); ok {
		return ml.WithComponent("engine").WithSession(sessionID, turnID)
	}

	return e.logger
}

func (e *Engine) logCheckpoint(logger logging.Logger, origin string, cp *core.Checkpoint, err error) {
	step := 0
	if cp != nil {
		step = cp.Step
	}

	if ml, ok := logger.(*logging.MeshLogger); ok {
		ml.LogCheckpoint(origin, step, err)
		return
	}

	if err != nil {
		logger.Error("checkpoint.write", "origin", origin, "error", err.Error())
		return
	}

	logger.Debug("checkpoint.write", "origin", origin, "step", step)
}

func (e *Engine) track(turnID string, cancel context.CancelFunc) {
	e.turnsMu.Lock()
	defer e.turnsMu.Unlock()

	e.activeTurns[turnID] = cancel
}

func (e *Engine) untrack(turnID string) {
	e.turnsMu.Lock()
	cancel, ok := e.activeTurns[turnID]
	delete(e.activeTurns, turnID)
	e.turnsMu.Unlock()

	if ok {
		cancel()
	}
}
