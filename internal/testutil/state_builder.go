package testutil

import (
	"github.com/hupe1980/mentormesh/core"
)

// StateBuilder helps construct session states with fluent chaining for tests.
// Example:
//
//	st := NewStateBuilder("sess-1").User("Ana", "Engineer").Question("How do I request PTO?").Build()
type StateBuilder struct {
	state core.State
}

// NewStateBuilder creates a new builder for a session with the given id.
func NewStateBuilder(sessionID string) *StateBuilder {
	return &StateBuilder{state: core.State{SessionID: sessionID}}
}

// User sets the profile (chainable).
func (b *StateBuilder) User(name, role string) *StateBuilder {
	b.state.UserName, b.state.UserRole = name, role
	return b
}

// Question sets the current question (chainable).
func (b *StateBuilder) Question(q string) *StateBuilder {
	b.state.Question = q
	return b
}

// Context sets the retrieved context (chainable).
func (b *StateBuilder) Context(c string) *StateBuilder {
	b.state.Context = c
	return b
}

// LoopCount sets the loop counter (chainable).
func (b *StateBuilder) LoopCount(n int) *StateBuilder {
	b.state.LoopCount = n
	return b
}

// Messages appends history (chainable).
func (b *StateBuilder) Messages(msgs ...core.Message) *StateBuilder {
	b.state.Messages = append(b.state.Messages, msgs...)
	return b
}

// Ask appends a human message with q and makes it the current question (chainable).
func (b *StateBuilder) Ask(q string) *StateBuilder {
	b.state.Question = q
	b.state.Messages = append(b.state.Messages, core.NewHumanMessage(q))

	return b
}

// Build returns a copy of the state.
func (b *StateBuilder) Build() core.State {
	return b.state.Clone()
}
