package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/hupe1980/mentormesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunCheckpointStoreTests exercises the core.CheckpointStore contract. newStore
// must return an empty store for every call.
func RunCheckpointStoreTests(t *testing.T, newStore func(t *testing.T) core.CheckpointStore) {
	t.Helper()

	ctx := context.Background()

	t.Run("absent session", func(t *testing.T) {
		cp, err := newStore(t).Get(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, cp)
	})

	t.Run("round trip", func(t *testing.T) {
		store := newStore(t)

		welcome := NewMessageBuilder().Text("Hello, **Ana**!").Build()

		cp, err := store.Update(ctx, "s1", core.Update{Messages: []core.Message{welcome}}, "agent")
		require.NoError(t, err)
		assert.Equal(t, 1, cp.Step)
		assert.Equal(t, "agent", cp.Origin)
		assert.Equal(t, "s1", cp.State.SessionID)

		call := NewMessageBuilder().Text("searching").Call("tavily_search", `{"query":"pto"}`).Build()

		_, err = store.Update(ctx, "s1", core.Update{
			Messages:       []core.Message{core.NewHumanMessage("How do I request PTO?")},
			ResetLoopCount: true,
			UserName:       core.String("Ana"),
			UserRole:       core.String("Engineer"),
			Question:       core.String("How do I request PTO?"),
		}, "input")
		require.NoError(t, err)

		_, err = store.Update(ctx, "s1", core.Update{Context: core.String("PTO is 20 days.")}, "retrieve")
		require.NoError(t, err)

		_, err = store.Update(ctx, "s1", core.Update{Messages: []core.Message{call}, LoopCount: 1}, "agent")
		require.NoError(t, err)

		_, err = store.Update(ctx, "s1", core.Update{
			Messages: []core.Message{ToolResult("call_1", "tavily_search", map[string]any{"hits": 2.0})},
		}, "tools")
		require.NoError(t, err)

		got, err := store.Get(ctx, "s1")
		require.NoError(t, err)
		require.NotNil(t, got)

		assert.Equal(t, 5, got.Step)
		assert.Equal(t, "tools", got.Origin)
		assert.False(t, got.UpdatedAt.IsZero())

		st := got.State
		assert.Equal(t, "s1", st.SessionID)
		assert.Equal(t, 1, st.LoopCount)
		assert.Equal(t, "Ana", st.UserName)
		assert.Equal(t, "Engineer", st.UserRole)
		assert.Equal(t, "PTO is 20 days.", st.Context)
		assert.Equal(t, "How do I request PTO?", st.Question)

		require.Len(t, st.Messages, 4)
		assert.Equal(t, welcome.ID, st.Messages[0].ID)
		assert.Equal(t, "Hello, **Ana**!", st.Messages[0].Text())
		assert.Equal(t, core.RoleHuman, st.Messages[1].Role)
		assert.Equal(t, []core.FunctionCall{{ID: "call_1", Name: "tavily_search", Arguments: `{"query":"pto"}`}}, st.Messages[2].ToolCalls())
		assert.Equal(t, "searching", st.Messages[2].Text())

		frs := st.Messages[3].ToolResponses()
		require.Len(t, frs, 1)
		assert.Equal(t, "call_1", frs[0].ID)
		assert.Equal(t, `{"hits":2}`, frs[0].Text())
	})

	t.Run("sessions are isolated", func(t *testing.T) {
		store := newStore(t)

		_, err := store.Update(ctx, "a", core.Update{LoopCount: 2}, "agent")
		require.NoError(t, err)
		_, err = store.Update(ctx, "b", core.Update{LoopCount: 1}, "agent")
		require.NoError(t, err)

		a, err := store.Get(ctx, "a")
		require.NoError(t, err)
		b, err := store.Get(ctx, "b")
		require.NoError(t, err)

		assert.Equal(t, 2, a.State.LoopCount)
		assert.Equal(t, 1, b.State.LoopCount)
		assert.Equal(t, 1, b.Step)
	})

	t.Run("concurrent updates are atomic", func(t *testing.T) {
		store := newStore(t)

		var wg sync.WaitGroup

		for i := 0; i < 20; i++ {
			wg.Add(1)

			go func() {
				defer wg.Done()

				_, err := store.Update(ctx, "c", core.Update{LoopCount: 1}, "agent")
				assert.NoError(t, err)
			}()
		}

		wg.Wait()

		cp, err := store.Get(ctx, "c")
		require.NoError(t, err)
		assert.Equal(t, 20, cp.State.LoopCount)
		assert.Equal(t, 20, cp.Step)
	})

	t.Run("empty session id", func(t *testing.T) {
		_, err := newStore(t).Update(ctx, "", core.Update{}, "agent")
		assert.ErrorIs(t, err, core.ErrSessionIDRequired)
	})
}
