package core

import (
	"context"
	"fmt"

	"github.com/hupe1980/mentormesh/logging"
)

// ToolContext provides a constrained surface for tool implementations invoked
// by the tool execution node. Tools see a read-only snapshot of the session
// state; they cannot mutate it. Their only output is the returned result.
type ToolContext struct {
	ctx            context.Context
	sessionID      string
	turnID         string
	functionCallID string
	state          State
	logger         logging.Logger
}

// NewToolContext constructs a tool context bound to one function call.
func NewToolContext(ctx context.Context, state State, turnID, functionCallID string, logger logging.Logger) *ToolContext {
	return &ToolContext{
		ctx:            ctx,
		sessionID:      state.SessionID,
		turnID:         turnID,
		functionCallID: functionCallID,
		state:          state,
		logger:         logger,
	}
}

// Logger returns the turn scoped logger; never nil.
func (tc *ToolContext) Logger() logging.Logger {
	if tc.logger == nil {
		return logging.NoOpLogger{}
	}

	return tc.logger
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// SessionID returns the session the call belongs to.
func (tc *ToolContext) SessionID() string { return tc.sessionID }

// TurnID returns the id of the turn that requested the call.
func (tc *ToolContext) TurnID() string { return tc.turnID }

// FunctionCallID returns the provider assigned call id.
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }

// UserName returns the profile name of the current user.
func (tc *ToolContext) UserName() string { return tc.state.UserName }

// UserRole returns the profile role of the current user.
func (tc *ToolContext) UserRole() string { return tc.state.UserRole }

// Question returns the question of the current turn.
func (tc *ToolContext) Question() string { return tc.state.Question }

// Validate performs basic sanity checks ensuring required identifiers are set.
func (tc *ToolContext) Validate() error {
	if tc == nil || tc.ctx == nil {
		return fmt.Errorf("invalid ToolContext")
	}

	if tc.functionCallID == "" {
		return fmt.Errorf("tool context: missing function call id")
	}

	return nil
}
