package flow

import (
	"testing"

	"github.com/hupe1980/mentormesh/core"
	"github.com/hupe1980/mentormesh/internal/testutil"
	"github.com/hupe1980/mentormesh/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoute(t *testing.T) {
	withCall := testutil.NewMessageBuilder().Call("tavily_search", `{"query":"x"}`).Build()
	plain := core.NewAIMessage(NodeAgent, "done")

	tests := []struct {
		name      string
		loopCount int
		messages  []core.Message
		want      Decision
	}{
		{"no messages", 1, nil, Terminate},
		{"plain answer", 1, []core.Message{plain}, Terminate},
		{"tool call", 1, []core.Message{withCall}, ContinueToTools},
		{"tool call at bound", 3, []core.Message{withCall}, ContinueToTools},
		{"tool call past bound", 4, []core.Message{withCall}, Terminate},
		{"last is human", 1, []core.Message{withCall, core.NewHumanMessage("hi")}, Terminate},
		{"last is tool", 1, []core.Message{withCall, testutil.ToolResult("call_1", "tavily_search", "r")}, Terminate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := testutil.NewStateBuilder("s").LoopCount(tt.loopCount).Messages(tt.messages...).Build()
			assert.Equal(t, tt.want, Route(state, DefaultMaxLoops))
		})
	}
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "tools", ContinueToTools.String())
	assert.Equal(t, "end", Terminate.String())
}

func TestUnansweredCalls(t *testing.T) {
	twoCalls := testutil.NewMessageBuilder().Call("tavily_search", `{"query":"a"}`).Call("lookup", "{}").Build()

	state := testutil.NewStateBuilder("s").Messages(twoCalls).Build()
	msgs := UnansweredCalls(state)

	require.Len(t, msgs, 2)

	for i, want := range []string{"call_1", "call_2"} {
		assert.Equal(t, core.RoleTool, msgs[i].Role)
		assert.Equal(t, NodeTools, msgs[i].Origin)

		fr := msgs[i].ToolResponses()[0]
		assert.Equal(t, want, fr.ID)
		assert.Contains(t, fr.Error, tool.CodeLoopLimit)
	}

	answered := testutil.NewStateBuilder("s").
		Messages(twoCalls, testutil.ToolResult("call_1", "tavily_search", "r")).
		Build()
	assert.Nil(t, UnansweredCalls(answered))

	plain := testutil.NewStateBuilder("s").Messages(core.NewAIMessage(NodeAgent, "done")).Build()
	assert.Nil(t, UnansweredCalls(plain))
}
