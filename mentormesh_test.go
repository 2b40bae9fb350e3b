package mentormesh

import (
	"context"
	"testing"

	"github.com/hupe1980/mentormesh/core"
	"github.com/hupe1980/mentormesh/engine"
	"github.com/hupe1980/mentormesh/model"
	"github.com/hupe1980/mentormesh/retrieval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMesh(t *testing.T, llm model.Model) *Mesh {
	t.Helper()

	kb := retrieval.NewMemoryStore(retrieval.Document{
		Text:      "Laptops are issued by IT on your first day.",
		Source:    "it-onboarding.md",
		Embedding: []float32{1, 0, 0},
	})

	m, err := New(func(o *Options) {
		o.Model = llm
		o.Embedder = retrieval.EmbedderFunc(func(context.Context, string) ([]float32, error) {
			return []float32{1, 0, 0}, nil
		})
		o.VectorStore = kb
	})
	require.NoError(t, err)

	return m
}

func TestNew_RequiresModel(t *testing.T) {
	_, err := New()

	var cfgErr *core.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "model", cfgErr.Field)
}

func TestMesh_AskStreamsAnswer(t *testing.T) {
	llm := model.NewScriptedModel(model.ScriptedTurn{Text: "IT hands out laptops on day one.", Chunks: []string{"IT hands out", " laptops on day one."}})
	m := newMesh(t, llm)

	answer, err := m.Ask(context.Background(), "s1", "When do I get my laptop?")
	require.NoError(t, err)
	assert.Equal(t, "IT hands out laptops on day one.", answer)

	history, err := m.History(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, core.RoleHuman, history[1].Role)

	req := llm.Requests()[0]
	require.NotEmpty(t, req.Messages)
	assert.Contains(t, req.Messages[0].Text(), "Laptops are issued by IT")
}

func TestMesh_RunAndInitialize(t *testing.T) {
	llm := model.NewScriptedModel(model.ScriptedTurn{Text: "Welcome aboard."})
	m := newMesh(t, llm)

	require.NoError(t, m.Initialize(context.Background(), "s1", "Ana"))

	res, err := m.Run(context.Background(), engine.TurnInput{SessionID: "s1", Question: "Hi", UserRole: "Designer"})
	require.NoError(t, err)
	assert.Equal(t, "Welcome aboard.", res.Answer)
	assert.Equal(t, "Ana", res.State.UserName)
	assert.Equal(t, "Designer", res.State.UserRole)
	assert.Equal(t, 1, res.State.LoopCount)
	assert.NotNil(t, m.Engine())

	m.Close()
}
