package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/mentormesh/core"
	"github.com/hupe1980/mentormesh/flow"
	"github.com/hupe1980/mentormesh/model"
	"github.com/hupe1980/mentormesh/retrieval"
	"github.com/hupe1980/mentormesh/session"
	"github.com/hupe1980/mentormesh/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRetriever struct {
	passages []retrieval.Passage
	err      error
	delay    time.Duration
	entered  chan struct{}

	calls  atomic.Int32
	active atomic.Int32
	peak   atomic.Int32
}

func (r *stubRetriever) Retrieve(ctx context.Context, _ string) ([]retrieval.Passage, error) {
	r.calls.Add(1)

	n := r.active.Add(1)
	defer r.active.Add(-1)

	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if r.entered != nil {
		r.entered <- struct{}{}
		<-ctx.Done()

		return nil, ctx.Err()
	}

	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	return r.passages, r.err
}

type searchCounter struct {
	calls atomic.Int32
}

func (s *searchCounter) registry() *tool.Registry {
	return tool.NewRegistry(tool.NewFunctionTool("tavily_search", "Search the web",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
		},
		func(*core.ToolContext, map[string]any) (any, error) {
			s.calls.Add(1)
			return "[1] PTO policy\nURL: https://example.com\nRequest PTO in the HR portal.", nil
		}))
}

func ptoPassages() []retrieval.Passage {
	return []retrieval.Passage{
		{Text: "PTO requests are filed in the HR portal.", Score: 0.91, Source: "handbook.md"},
		{Text: "Managers approve PTO within two days.", Score: 0.84, Source: "handbook.md"},
	}
}

func newEngine(t *testing.T, llm model.Model, r flow.Retriever, store core.CheckpointStore, optFns ...func(o *Options)) *Engine {
	t.Helper()

	fns := append([]func(o *Options){func(o *Options) {
		o.Model = llm
		o.Retriever = r
		o.Checkpoints = store
	}}, optFns...)

	eng, err := New(fns...)
	require.NoError(t, err)

	return eng
}

func turnMessages(state core.State) []core.Message {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		if state.Messages[i].Role == core.RoleHuman {
			return state.Messages[i:]
		}
	}

	return nil
}

func countRole(msgs []core.Message, role core.Role) int {
	n := 0

	for _, m := range msgs {
		if m.Role == role {
			n++
		}
	}

	return n
}

func TestNew_ConfigErrors(t *testing.T) {
	llm := model.NewScriptedModel()
	store := session.NewInMemoryStore()

	tests := []struct {
		name  string
		fn    func(o *Options)
		field string
	}{
		{"model", func(o *Options) { o.Checkpoints = store; o.Retriever = &stubRetriever{} }, "model"},
		{"checkpoints", func(o *Options) { o.Model = llm; o.Retriever = &stubRetriever{} }, "checkpoint_store"},
		{"embedder", func(o *Options) { o.Model = llm; o.Checkpoints = store }, "embedder"},
		{"vector store", func(o *Options) {
			o.Model = llm
			o.Checkpoints = store
			o.Embedder = retrieval.EmbedderFunc(func(context.Context, string) ([]float32, error) { return nil, nil })
		}, "vector_store"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.fn)

			var cfgErr *core.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestNew_BuildsRetrieverFromEmbedderAndStore(t *testing.T) {
	store := retrieval.NewMemoryStore(retrieval.Document{Text: "PTO lives in the HR portal.", Source: "hr.md", Embedding: []float32{1, 0}})
	emb := retrieval.EmbedderFunc(func(context.Context, string) ([]float32, error) { return []float32{1, 0}, nil })

	eng, err := New(func(o *Options) {
		o.Model = model.NewScriptedModel(model.ScriptedTurn{Text: "Use the HR portal."})
		o.Embedder = emb
		o.VectorStore = store
		o.Checkpoints = session.NewInMemoryStore()
	})
	require.NoError(t, err)

	res, err := eng.Run(context.Background(), TurnInput{SessionID: "s1", Question: "How do I request PTO?"})
	require.NoError(t, err)
	assert.Contains(t, res.State.Context, "PTO lives in the HR portal.")
}

func TestRun_ScenarioAnswerFromKnowledgeBase(t *testing.T) {
	llm := model.NewScriptedModel(model.ScriptedTurn{Text: "File it in the HR portal. Source: handbook.md"})
	r := &stubRetriever{passages: ptoPassages()}
	searches := &searchCounter{}
	store := session.NewInMemoryStore()

	eng := newEngine(t, llm, r, store, func(o *Options) { o.Tools = searches.registry() })

	res, err := eng.Run(context.Background(), TurnInput{
		SessionID: "s1",
		Question:  "How do I request PTO?",
		UserName:  "Ana",
		UserRole:  "Engineer",
	})
	require.NoError(t, err)

	assert.Equal(t, "File it in the HR portal. Source: handbook.md", res.Answer)
	assert.NotEmpty(t, res.TurnID)
	assert.Equal(t, 1, res.State.LoopCount)
	assert.Equal(t, "Ana", res.State.UserName)
	assert.Equal(t, "Engineer", res.State.UserRole)
	assert.Contains(t, res.State.Context, "PTO requests are filed in the HR portal.")
	assert.Equal(t, int32(0), searches.calls.Load())
	assert.Equal(t, int32(1), r.calls.Load())

	// welcome, question, answer
	require.Len(t, res.State.Messages, 3)
	assert.Equal(t, core.RoleAI, res.State.Messages[0].Role)
	assert.Equal(t, core.RoleHuman, res.State.Messages[1].Role)

	cp, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 4, cp.Step)
	assert.Equal(t, flow.NodeAgent, cp.Origin)
}

func TestRun_ScenarioZeroPassagesSearchesOnce(t *testing.T) {
	llm := model.NewScriptedModel(
		model.ScriptedTurn{ToolCalls: []core.FunctionCall{{Name: "tavily_search", Arguments: `{"query":"PTO policy"}`}}},
		model.ScriptedTurn{Text: "Request PTO in the HR portal. Source: https://example.com"},
	)
	r := &stubRetriever{}
	searches := &searchCounter{}

	eng := newEngine(t, llm, r, session.NewInMemoryStore(), func(o *Options) { o.Tools = searches.registry() })

	res, err := eng.Run(context.Background(), TurnInput{SessionID: "s1", Question: "What is the PTO policy?"})
	require.NoError(t, err)

	assert.Equal(t, retrieval.NoRelevantContext, res.State.Context)
	assert.Equal(t, int32(1), searches.calls.Load())
	assert.Equal(t, 2, res.State.LoopCount)
	assert.Equal(t, "Request PTO in the HR portal. Source: https://example.com", res.Answer)

	turn := turnMessages(res.State)
	assert.Equal(t, 2, countRole(turn, core.RoleAI))
	assert.Equal(t, 1, countRole(turn, core.RoleTool))

	// The follow-up request carries the tool exchange.
	reqs := llm.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, 1, countRole(reqs[1].Messages, core.RoleTool))
}

func TestRun_LoopBoundStopsAlwaysCallingModel(t *testing.T) {
	llm := model.NewScriptedModel().Repeat(model.ScriptedTurn{
		ToolCalls: []core.FunctionCall{{Name: "tavily_search", Arguments: `{"query":"again"}`}},
	})
	searches := &searchCounter{}

	eng := newEngine(t, llm, &stubRetriever{passages: ptoPassages()}, session.NewInMemoryStore(),
		func(o *Options) { o.Tools = searches.registry() })

	res, err := eng.Run(context.Background(), TurnInput{SessionID: "s1", Question: "loop forever"})
	require.NoError(t, err)

	turn := turnMessages(res.State)
	assert.Equal(t, 4, countRole(turn, core.RoleAI))
	// Three executed round-trips plus one closing result for the cut-off call.
	assert.Equal(t, 4, countRole(turn, core.RoleTool))
	assert.Equal(t, 4, res.State.LoopCount)
	assert.Equal(t, 4, llm.Calls())
	assert.Equal(t, int32(3), searches.calls.Load())

	last, ok := res.State.LastMessage()
	require.True(t, ok)
	require.Equal(t, core.RoleTool, last.Role)
	assert.Contains(t, last.ToolResponses()[0].Error, tool.CodeLoopLimit)
}

// assertCallsAnswered checks that every ai tool call is followed by its
// results before anything else.
func assertCallsAnswered(t *testing.T, msgs []core.Message) {
	t.Helper()

	for i, m := range msgs {
		if m.Role != core.RoleAI || !m.HasToolCalls() {
			continue
		}

		answered := map[string]bool{}

		for _, next := range msgs[i+1:] {
			if next.Role != core.RoleTool {
				break
			}

			for _, fr := range next.ToolResponses() {
				answered[fr.ID] = true
			}
		}

		for _, fc := range m.ToolCalls() {
			assert.Truef(t, answered[fc.ID], "message %d: call %s has no result", i, fc.ID)
		}
	}
}

func TestRun_LoopBoundKeepsNextTurnValid(t *testing.T) {
	call := model.ScriptedTurn{ToolCalls: []core.FunctionCall{{Name: "tavily_search", Arguments: `{"query":"again"}`}}}
	llm := model.NewScriptedModel(call, call, call, call, model.ScriptedTurn{Text: "second answer"})
	searches := &searchCounter{}

	eng := newEngine(t, llm, &stubRetriever{}, session.NewInMemoryStore(),
		func(o *Options) { o.Tools = searches.registry() })

	first, err := eng.Run(context.Background(), TurnInput{SessionID: "s1", Question: "loop forever"})
	require.NoError(t, err)
	assert.Empty(t, first.Answer)
	assertCallsAnswered(t, first.State.Messages)

	second, err := eng.Run(context.Background(), TurnInput{SessionID: "s1", Question: "and now?"})
	require.NoError(t, err)
	assert.Equal(t, "second answer", second.Answer)

	reqs := llm.Requests()
	require.Len(t, reqs, 5)
	assertCallsAnswered(t, reqs[4].Messages)
}

func TestRun_LoopCountResetsEachTurn(t *testing.T) {
	llm := model.NewScriptedModel(
		model.ScriptedTurn{ToolCalls: []core.FunctionCall{{Name: "tavily_search", Arguments: `{"query":"a"}`}}},
		model.ScriptedTurn{Text: "first"},
		model.ScriptedTurn{Text: "second"},
	)
	searches := &searchCounter{}

	eng := newEngine(t, llm, &stubRetriever{}, session.NewInMemoryStore(), func(o *Options) { o.Tools = searches.registry() })

	res, err := eng.Run(context.Background(), TurnInput{SessionID: "s1", Question: "one"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.State.LoopCount)

	res, err = eng.Run(context.Background(), TurnInput{SessionID: "s1", Question: "two"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.State.LoopCount)
	assert.Equal(t, "second", res.Answer)
	assert.Equal(t, "two", res.State.Question)
}

func TestRun_ValidatesInput(t *testing.T) {
	eng := newEngine(t, model.NewScriptedModel(), &stubRetriever{}, session.NewInMemoryStore())

	_, err := eng.Run(context.Background(), TurnInput{Question: "hi"})
	require.ErrorIs(t, err, core.ErrSessionIDRequired)

	_, err = eng.Run(context.Background(), TurnInput{SessionID: "s1", Question: "   "})
	require.ErrorIs(t, err, retrieval.ErrEmptyQuestion)
}

func TestRun_ModelErrorKeepsLastCheckpoint(t *testing.T) {
	boom := errors.New("provider unavailable")
	llm := model.NewScriptedModel(model.ScriptedTurn{Err: boom})
	store := session.NewInMemoryStore()

	eng := newEngine(t, llm, &stubRetriever{passages: ptoPassages()}, store)

	_, err := eng.Run(context.Background(), TurnInput{SessionID: "s1", Question: "How do I request PTO?"})
	require.ErrorIs(t, err, boom)

	cp, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, flow.NodeRetrieve, cp.Origin)
	assert.Equal(t, 3, cp.Step)
	assert.Equal(t, 0, cp.State.LoopCount)
}

func TestRun_RetrievalErrorPropagates(t *testing.T) {
	boom := errors.New("vector store down")
	store := session.NewInMemoryStore()

	var seen error

	eng := newEngine(t, model.NewScriptedModel(), &stubRetriever{err: boom}, store, func(o *Options) {
		o.Callbacks = []Callback{NewFunctionCallback(CallbackOnError, func(_ context.Context, c *CallbackContext) error {
			seen = c.Err
			return nil
		})}
	})

	_, err := eng.Run(context.Background(), TurnInput{SessionID: "s1", Question: "q"})
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, seen, boom)

	cp, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, OriginInput, cp.Origin)
}

func TestInvoke_StreamsAgentTokens(t *testing.T) {
	llm := model.NewScriptedModel(
		model.ScriptedTurn{ToolCalls: []core.FunctionCall{{Name: "tavily_search", Arguments: `{"query":"PTO"}`}}},
		model.ScriptedTurn{Text: "Hello Ana, use the portal.", Chunks: []string{"Hello", " Ana,", " use the portal."}},
	)
	searches := &searchCounter{}

	eng := newEngine(t, llm, &stubRetriever{}, session.NewInMemoryStore(), func(o *Options) { o.Tools = searches.registry() })

	var got []string

	for tok, err := range eng.Invoke(context.Background(), TurnInput{SessionID: "s1", Question: "PTO?", UserName: "Ana"}) {
		require.NoError(t, err)

		got = append(got, tok)
	}

	assert.Equal(t, []string{"Hello", " Ana,", " use the portal."}, got)
	assert.Equal(t, 0, eng.ActiveTurns())
}

func TestInvoke_DeliversError(t *testing.T) {
	boom := errors.New("rate limited")
	eng := newEngine(t, model.NewScriptedModel(model.ScriptedTurn{Err: boom}), &stubRetriever{}, session.NewInMemoryStore())

	var errs []error

	for tok, err := range eng.Invoke(context.Background(), TurnInput{SessionID: "s1", Question: "q"}) {
		assert.Empty(t, tok)

		errs = append(errs, err)
	}

	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], boom)
}

func TestInvoke_AbandonedStreamReleasesSession(t *testing.T) {
	llm := model.NewScriptedModel(
		model.ScriptedTurn{Text: "one two three", Chunks: []string{"one", " two", " three"}},
		model.ScriptedTurn{Text: "next answer"},
	)
	store := session.NewInMemoryStore()
	eng := newEngine(t, llm, &stubRetriever{}, store)

	for tok, err := range eng.Invoke(context.Background(), TurnInput{SessionID: "s1", Question: "first"}) {
		require.NoError(t, err)
		assert.Equal(t, "one", tok)

		break
	}

	assert.Equal(t, 0, eng.ActiveTurns())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := eng.Run(ctx, TurnInput{SessionID: "s1", Question: "second"})
	require.NoError(t, err)
	assert.Equal(t, "next answer", res.Answer)

	// The abandoned turn stopped before its agent step was persisted.
	assert.Equal(t, 2, countRole(res.State.Messages, core.RoleHuman))
	assert.Equal(t, 0, countAnswers(res.State.Messages, "one two three"))
}

func countAnswers(msgs []core.Message, text string) int {
	n := 0

	for _, m := range msgs {
		if m.Role == core.RoleAI && m.Text() == text {
			n++
		}
	}

	return n
}

func TestStopTurn_CancelsRunningTurn(t *testing.T) {
	r := &stubRetriever{entered: make(chan struct{}, 1)}
	store := session.NewInMemoryStore()
	eng := newEngine(t, model.NewScriptedModel(), r, store)

	done := make(chan error, 1)

	go func() {
		_, err := eng.Run(context.Background(), TurnInput{SessionID: "s1", Question: "q", TurnID: "turn-1"})
		done <- err
	}()

	<-r.entered
	require.NoError(t, eng.StopTurn("turn-1"))

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not stop")
	}

	cp, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, OriginInput, cp.Origin)

	require.Error(t, eng.StopTurn("turn-1"))
}

func TestRun_SameSessionTurnsAreSerialized(t *testing.T) {
	r := &stubRetriever{passages: ptoPassages(), delay: 20 * time.Millisecond}
	llm := model.NewScriptedModel().Repeat(model.ScriptedTurn{Text: "ok"})
	eng := newEngine(t, llm, r, session.NewInMemoryStore())

	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := eng.Run(context.Background(), TurnInput{SessionID: "shared", Question: "q"})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), r.peak.Load())

	history, err := eng.History(context.Background(), "shared")
	require.NoError(t, err)
	// one welcome plus question and answer per turn
	assert.Len(t, history, 1+4*2)

	for i := 1; i < len(history); i += 2 {
		assert.Equal(t, core.RoleHuman, history[i].Role)
		assert.Equal(t, core.RoleAI, history[i+1].Role)
	}
}

func TestInitialize_IsIdempotent(t *testing.T) {
	store := session.NewInMemoryStore()
	eng := newEngine(t, model.NewScriptedModel(), &stubRetriever{}, store)

	ctx := context.Background()

	require.NoError(t, eng.Initialize(ctx, "s1", "Ana"))
	require.NoError(t, eng.Initialize(ctx, "s1", "Bob"))

	history, err := eng.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, core.RoleAI, history[0].Role)
	assert.Equal(t, flow.NodeAgent, history[0].Origin)
	assert.Contains(t, history[0].Text(), "Ana")

	cp, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, cp.Step)
	assert.Equal(t, "Ana", cp.State.UserName)
}

func TestInitialize_DefaultsUserName(t *testing.T) {
	eng := newEngine(t, model.NewScriptedModel(), &stubRetriever{}, session.NewInMemoryStore())

	require.NoError(t, eng.Initialize(context.Background(), "s1", "  "))

	state, err := eng.State(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, flow.DefaultUserName, state.UserName)
	assert.Contains(t, state.Messages[0].Text(), flow.DefaultUserName)

	require.ErrorIs(t, eng.Initialize(context.Background(), "", "Ana"), core.ErrSessionIDRequired)
}

func TestHistory_UnknownSessionIsEmpty(t *testing.T) {
	eng := newEngine(t, model.NewScriptedModel(), &stubRetriever{}, session.NewInMemoryStore())

	history, err := eng.History(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)

	state, err := eng.State(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestCallbacks_ObserveNodesInOrder(t *testing.T) {
	llm := model.NewScriptedModel(
		model.ScriptedTurn{ToolCalls: []core.FunctionCall{{Name: "tavily_search", Arguments: `{"query":"x"}`}}},
		model.ScriptedTurn{Text: "done"},
	)
	searches := &searchCounter{}

	var (
		mu    sync.Mutex
		nodes []string
		after int
	)

	eng := newEngine(t, llm, &stubRetriever{}, session.NewInMemoryStore(), func(o *Options) {
		o.Tools = searches.registry()
		o.Callbacks = []Callback{
			NewFunctionCallback(CallbackBeforeNode, func(_ context.Context, c *CallbackContext) error {
				mu.Lock()
				defer mu.Unlock()

				nodes = append(nodes, c.Node)

				return nil
			}),
			NewFunctionCallback(CallbackAfterTurn, func(_ context.Context, c *CallbackContext) error {
				after = c.State.LoopCount
				return nil
			}),
		}
	})

	_, err := eng.Run(context.Background(), TurnInput{SessionID: "s1", Question: "q"})
	require.NoError(t, err)

	assert.Equal(t, []string{flow.NodeRetrieve, flow.NodeAgent, flow.NodeTools, flow.NodeAgent}, nodes)
	assert.Equal(t, 2, after)
}

func TestCallbacks_RejectedUpdateIsNotPersisted(t *testing.T) {
	store := session.NewInMemoryStore()
	llm := model.NewScriptedModel(model.ScriptedTurn{Text: "forbidden answer"})

	eng := newEngine(t, llm, &stubRetriever{passages: ptoPassages()}, store, func(o *Options) {
		o.Callbacks = []Callback{NewUpdateValidationCallback(func(node string, u core.Update) error {
			if node == flow.NodeAgent {
				return errors.New("blocked")
			}

			return nil
		})}
	})

	_, err := eng.Run(context.Background(), TurnInput{SessionID: "s1", Question: "q"})
	require.ErrorIs(t, err, ErrUpdateRejected)

	cp, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, flow.NodeRetrieve, cp.Origin)
}

func TestClose_RejectsNewTurns(t *testing.T) {
	eng := newEngine(t, model.NewScriptedModel(), &stubRetriever{}, session.NewInMemoryStore())
	eng.Close()

	_, err := eng.Run(context.Background(), TurnInput{SessionID: "s1", Question: "q"})
	require.ErrorIs(t, err, session.ErrLaneClosed)
}
