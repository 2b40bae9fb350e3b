package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role tags the variant of a Message.
type Role string

const (
	// RoleHuman marks messages authored by the end user.
	RoleHuman Role = "human"
	// RoleAI marks messages produced by the reasoning node.
	RoleAI Role = "ai"
	// RoleTool marks tool results answering a preceding ai tool call.
	RoleTool Role = "tool"
	// RoleSystem marks prompt instructions. System messages are assembled per
	// request and never stored in State.
	RoleSystem Role = "system"
)

// Message is one entry of the conversation history. Text lives in TextParts;
// ai messages may carry FunctionCallParts and tool messages carry exactly one
// FunctionResponsePart.
type Message struct {
	ID        string    // Unique message id (uuid v7)
	Role      Role      // human | ai | tool | system
	Parts     []Part    // Ordered heterogeneous parts
	Origin    string    // Node that produced the message (agent, tools, input)
	CreatedAt time.Time // UTC creation time
}

// NewMessage creates a message with a fresh id and timestamp.
func NewMessage(role Role, origin string, parts ...Part) Message {
	return Message{
		ID:        NewID(),
		Role:      role,
		Parts:     parts,
		Origin:    origin,
		CreatedAt: time.Now().UTC(),
	}
}

// NewHumanMessage creates a human text message.
func NewHumanMessage(text string) Message {
	return NewMessage(RoleHuman, "input", TextPart{Text: text})
}

// NewAIMessage creates an ai text message attributed to origin.
func NewAIMessage(origin, text string) Message {
	return NewMessage(RoleAI, origin, TextPart{Text: text})
}

// NewToolMessage wraps a tool result (or failure) as a tool message tagged
// with the originating call id.
func NewToolMessage(origin, callID, name string, result any, err error) Message {
	fr := FunctionResponse{ID: callID, Name: name, Response: result}
	if err != nil {
		fr.Error = err.Error()
	}

	return NewMessage(RoleTool, origin, FunctionResponsePart{FunctionResponse: fr})
}

// NewID generates a time ordered unique identifier, falling back to a random
// v4 UUID if the v7 generator fails.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}

// Text concatenates all TextParts.
func (m Message) Text() string {
	var b strings.Builder

	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			b.WriteString(tp.Text)
		}
	}

	return b.String()
}

// ToolCalls returns the FunctionCall parts preserving their original order.
func (m Message) ToolCalls() []FunctionCall {
	var calls []FunctionCall

	for _, p := range m.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}

	return calls
}

// HasToolCalls reports whether the message requests at least one tool call.
func (m Message) HasToolCalls() bool {
	for _, p := range m.Parts {
		if _, ok := p.(FunctionCallPart); ok {
			return true
		}
	}

	return false
}

// ToolResponses returns the FunctionResponse parts of the message.
func (m Message) ToolResponses() []FunctionResponse {
	var out []FunctionResponse

	for _, p := range m.Parts {
		if fr, ok := p.(FunctionResponsePart); ok {
			out = append(out, fr.FunctionResponse)
		}
	}

	return out
}

// Clone returns a copy with its own Parts slice.
func (m Message) Clone() Message {
	c := m
	c.Parts = append([]Part(nil), m.Parts...)

	return c
}

// Text renders the response as plain text for model consumption. Failures
// are prefixed with "error: " so the model can recognise them.
func (fr FunctionResponse) Text() string {
	if fr.Error != "" {
		return "error: " + fr.Error
	}

	switch v := fr.Response.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}

		return string(b)
	}
}
