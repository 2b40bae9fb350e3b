package testutil

import (
	"strconv"

	"github.com/hupe1980/mentormesh/core"
)

// MessageBuilder provides a fluent helper for constructing messages in tests.
// Example:
//
//	msg := NewMessageBuilder().AI().Text("let me search").Call("tavily_search", `{"query":"pto"}`).Build()
//
// Chain only the parts you need; role defaults to ai and origin to agent.
type MessageBuilder struct {
	id     string
	role   core.Role
	origin string
	parts  []core.Part
	calls  int
}

// NewMessageBuilder creates a builder for an ai message from the agent node.
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{role: core.RoleAI, origin: "agent"}
}

// ID overrides the generated message id (chainable).
func (b *MessageBuilder) ID(id string) *MessageBuilder { b.id = id; return b }

// Human sets the role to human and origin to input (chainable).
func (b *MessageBuilder) Human() *MessageBuilder {
	b.role, b.origin = core.RoleHuman, "input"
	return b
}

// AI sets the role to ai and origin to agent (chainable).
func (b *MessageBuilder) AI() *MessageBuilder {
	b.role, b.origin = core.RoleAI, "agent"
	return b
}

// Origin overrides the producing node (chainable).
func (b *MessageBuilder) Origin(o string) *MessageBuilder { b.origin = o; return b }

// Text appends a text part (chainable).
func (b *MessageBuilder) Text(t string) *MessageBuilder {
	b.parts = append(b.parts, core.TextPart{Text: t})
	return b
}

// Call appends a tool call with a deterministic id call_<n> (chainable).
func (b *MessageBuilder) Call(name, args string) *MessageBuilder {
	b.calls++

	return b.CallWithID(callID(b.calls), name, args)
}

// CallWithID appends a tool call with an explicit id (chainable).
func (b *MessageBuilder) CallWithID(id, name, args string) *MessageBuilder {
	b.parts = append(b.parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: id, Name: name, Arguments: args}})
	return b
}

// Build returns the message.
func (b *MessageBuilder) Build() core.Message {
	m := core.NewMessage(b.role, b.origin, b.parts...)
	if b.id != "" {
		m.ID = b.id
	}

	return m
}

// ToolResult builds a tool message answering callID.
func ToolResult(callID, name string, result any) core.Message {
	return core.NewToolMessage("tools", callID, name, result, nil)
}

func callID(n int) string {
	return "call_" + strconv.Itoa(n)
}
