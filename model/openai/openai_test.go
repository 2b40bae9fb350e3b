package openai

import (
	"strings"
	"testing"

	"github.com/hupe1980/mentormesh/core"
	"github.com/hupe1980/mentormesh/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ model.Model = (*Model)(nil)

func TestBuildMessages_AttachesToolResultsAfterCalls(t *testing.T) {
	req := model.Request{
		Instructions: "system prompt",
		Messages: []core.Message{
			core.NewHumanMessage("what is new?"),
			core.NewMessage(core.RoleAI, "agent", core.FunctionCallPart{FunctionCall: core.FunctionCall{
				ID: "c1", Name: "tavily_search", Arguments: `{"query":"news"}`,
			}}),
			core.NewToolMessage("tools", "c1", "tavily_search", "headline", nil),
			core.NewAIMessage("agent", "here you go"),
		},
	}

	responses, order := collectToolResponses(req)
	require.Equal(t, []string{"c1"}, order)
	assert.Equal(t, "headline", responses["c1"])

	msgs := buildMessages(req, responses, order)
	require.Len(t, msgs, 5)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	assert.Len(t, msgs[2].OfAssistant.ToolCalls, 1)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "c1", msgs[3].OfTool.ToolCallID)
	assert.NotNil(t, msgs[4].OfAssistant)
}

func TestBuildParams_TemperatureOverride(t *testing.T) {
	m := NewModelFromClient(nil, func(o *Options) { o.Temperature = 0.9 })

	params := m.buildParams(model.Request{Temperature: model.Float(0.3)}, nil)
	assert.InDelta(t, 0.3, params.Temperature.Value, 1e-9)

	params = m.buildParams(model.Request{}, nil)
	assert.InDelta(t, 0.9, params.Temperature.Value, 1e-9)
}

func TestFinalChunk_OrdersToolCallsByIndex(t *testing.T) {
	var b strings.Builder
	agg := map[int64]*aggCall{
		1: {id: "b", name: "second"},
		0: {id: "a", name: "first"},
	}

	r := finalChunk("id", "tool_calls", &b, agg)

	calls := core.Message{Parts: r.Parts}.ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].ID)
	assert.Equal(t, "b", calls[1].ID)
}
