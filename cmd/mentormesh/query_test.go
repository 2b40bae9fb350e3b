package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mentormesh/core"
	"github.com/hupe1980/mentormesh/model"
)

func TestRunQuery_SingleQuestion(t *testing.T) {
	mesh := newTestMesh(t, model.NewScriptedModel(model.ScriptedTurn{Text: "Last business day."}))

	var out bytes.Buffer

	err := runQuery(context.Background(), mesh, queryOptions{
		question:    "When is payday?",
		sessionID:   "cli",
		defaultUser: "Employee",
	}, strings.NewReader(""), &out)
	require.NoError(t, err)
	assert.Equal(t, "Last business day.\n", out.String())
}

func TestRunQuery_REPL(t *testing.T) {
	llm := model.NewScriptedModel(
		model.ScriptedTurn{Text: "First answer."},
		model.ScriptedTurn{Text: "Second answer."},
	)
	mesh := newTestMesh(t, llm)

	var out bytes.Buffer

	in := strings.NewReader("first?\n\nsecond?\nexit\nignored?\n")

	err := runQuery(context.Background(), mesh, queryOptions{
		sessionID:   "cli",
		userName:    "Ana",
		defaultUser: "Employee",
	}, in, &out)
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "**Ana**")
	assert.Contains(t, text, "> First answer.\n")
	assert.Contains(t, text, "> Second answer.\n")
	assert.Equal(t, 2, llm.Calls())
}

func TestRunQuery_REPLReportsFailure(t *testing.T) {
	mesh := newTestMesh(t, model.NewScriptedModel())

	var out bytes.Buffer

	err := runQuery(context.Background(), mesh, queryOptions{sessionID: "cli", defaultUser: "Employee"},
		strings.NewReader("hello?\n"), &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), turnFailedMessage)
}

func TestPrintHistory(t *testing.T) {
	mesh := newTestMesh(t, model.NewScriptedModel(model.ScriptedTurn{Text: "Monthly."}))

	var out bytes.Buffer

	require.NoError(t, printHistory(context.Background(), mesh, "cli", &out))
	assert.Equal(t, "no messages in session \"cli\"\n", out.String())

	out.Reset()

	_, err := mesh.Ask(context.Background(), "cli", "When is payday?")
	require.NoError(t, err)

	require.NoError(t, printHistory(context.Background(), mesh, "cli", &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	assert.True(t, strings.HasPrefix(lines[0], "[ai/agent] Hello"))
	assert.Contains(t, out.String(), "[human/input] When is payday?")
	assert.Contains(t, out.String(), "[ai/agent] Monthly.")
}

func TestDescribe(t *testing.T) {
	call := core.Message{Role: core.RoleAI, Parts: []core.Part{
		core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "1", Name: "tavily_search", Arguments: `{"query":"pto"}`}},
	}}
	assert.Equal(t, `(calls tavily_search {"query":"pto"})`, describe(call))

	resp := core.Message{Role: core.RoleTool, Parts: []core.Part{
		core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{ID: "1", Name: "tavily_search", Error: "EXECUTION_ERROR: timeout"}},
	}}
	assert.Equal(t, "tavily_search failed: EXECUTION_ERROR: timeout", describe(resp))
}

func TestRun_CommandErrors(t *testing.T) {
	noFiles := []string{"--config", "does-not-exist.toml", "--env", "does-not-exist.env"}

	tests := []struct {
		name   string
		args   []string
		errMsg string
	}{
		{name: "missing command", args: nil, errMsg: "missing command"},
		{name: "unknown command", args: append(noFiles, "bogus"), errMsg: `unknown command "bogus" for "mentormesh"`},
		{name: "unknown flag", args: append(noFiles, "query", "--bogus"), errMsg: "unknown flag: --bogus"},
		{name: "unexpected argument", args: append(noFiles, "history", "extra"), errMsg: `unknown command "extra" for "mentormesh history"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer

			err := run(context.Background(), tt.args, strings.NewReader(""), &stdout, &stderr)
			require.EqualError(t, err, tt.errMsg)
		})
	}
}

func TestRun_MissingCommandPrintsUsage(t *testing.T) {
	var stdout bytes.Buffer

	err := run(context.Background(), nil, strings.NewReader(""), &stdout, &bytes.Buffer{})
	require.Error(t, err)

	assert.Contains(t, stdout.String(), "mentormesh [command]")

	for _, name := range []string{"query", "history", "serve"} {
		assert.Contains(t, stdout.String(), name)
	}
}

func TestRun_SubcommandsLoadConfig(t *testing.T) {
	t.Setenv("MENTORMESH_LLM_PROVIDER", "bogus")

	for _, cmd := range [][]string{
		{"query", "-q", "When is payday?", "--session", "s1"},
		{"history", "--session", "s1"},
		{"serve", "--addr", "127.0.0.1:0"},
	} {
		t.Run(cmd[0], func(t *testing.T) {
			args := append([]string{"--config", "does-not-exist.toml", "--env", "does-not-exist.env"}, cmd...)

			err := run(context.Background(), args, strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})

			var cfgErr *core.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, "llm.provider", cfgErr.Field)
		})
	}
}
