package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/mentormesh/core"
)

// ErrScriptExhausted is returned by ScriptedModel when no scripted turn is left.
var ErrScriptExhausted = errors.New("scripted model: script exhausted")

// ScriptedTurn is one canned model reply.
type ScriptedTurn struct {
	Text      string
	Chunks    []string // Streaming deltas; defaults to Text as a single chunk
	ToolCalls []core.FunctionCall
	Err       error
}

// ScriptedModel replays ScriptedTurns in order and records every request.
// It is safe for concurrent use and intended for tests and examples.
type ScriptedModel struct {
	mu       sync.Mutex
	info     Info
	turns    []ScriptedTurn
	repeat   *ScriptedTurn
	requests []Request
}

// NewScriptedModel constructs a model replaying turns in order.
func NewScriptedModel(turns ...ScriptedTurn) *ScriptedModel {
	return &ScriptedModel{
		info:  Info{Name: "scripted", Provider: "scripted", SupportsTools: true},
		turns: turns,
	}
}

// Repeat sets a turn replayed forever once the script is exhausted.
func (m *ScriptedModel) Repeat(turn ScriptedTurn) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repeat = &turn

	return m
}

// Requests returns a copy of the recorded requests.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Request(nil), m.requests...)
}

// Calls returns the number of Generate invocations.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.requests)
}

func (m *ScriptedModel) next(req Request) (ScriptedTurn, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	n := len(m.requests)

	if len(m.turns) > 0 {
		t := m.turns[0]
		m.turns = m.turns[1:]

		return t, n, nil
	}

	if m.repeat != nil {
		return *m.repeat, n, nil
	}

	return ScriptedTurn{}, n, ErrScriptExhausted
}

// Generate implements Model.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		turn, n, err := m.next(req)
		if err != nil {
			errCh <- err
			return
		}

		if turn.Err != nil {
			errCh <- turn.Err
			return
		}

		if req.Stream {
			chunks := turn.Chunks
			if len(chunks) == 0 && turn.Text != "" {
				chunks = []string{turn.Text}
			}

			for _, c := range chunks {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Parts: []core.Part{core.TextPart{Text: c}}}:
				}
			}
		}

		parts := make([]core.Part, 0, len(turn.ToolCalls)+1)
		if turn.Text != "" {
			parts = append(parts, core.TextPart{Text: turn.Text})
		}

		for i, fc := range turn.ToolCalls {
			if fc.ID == "" {
				fc.ID = fmt.Sprintf("call_%d_%d", n, i)
			}

			parts = append(parts, core.FunctionCallPart{FunctionCall: fc})
		}

		finish := "stop"
		if len(turn.ToolCalls) > 0 {
			finish = "tool_calls"
		}

		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Response{Parts: parts, FinishReason: finish}:
		}
	}()

	return respCh, errCh
}

// Info implements Model.
func (m *ScriptedModel) Info() Info { return m.info }
