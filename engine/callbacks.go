package engine

import (
	"context"
	"errors"

	"github.com/hupe1980/mentormesh/core"
	"github.com/hupe1980/mentormesh/logging"
)

// CallbackType defines the lifecycle points of a turn where callbacks run.
//
// Callbacks hook into the turn pipeline without modifying core logic. They
// run synchronously on the turn goroutine, in registration order, and can
// abort the turn by returning an error.
//
// Available callback types:
//   - BeforeTurn/AfterTurn: around a complete turn
//   - BeforeNode/AfterNode: around one node execution
//   - OnUpdate: before a node's update is persisted
//   - OnError: when a node or the store fails
type CallbackType string

const (
	// CallbackBeforeTurn is triggered after the turn input was persisted and
	// before the first node runs.
	CallbackBeforeTurn CallbackType = "before_turn"

	// CallbackAfterTurn is triggered when the turn completed successfully.
	CallbackAfterTurn CallbackType = "after_turn"

	// CallbackBeforeNode is triggered before a node runs.
	CallbackBeforeNode CallbackType = "before_node"

	// CallbackAfterNode is triggered after a node's update was persisted.
	CallbackAfterNode CallbackType = "after_node"

	// CallbackOnUpdate is triggered with a node's update before it is
	// written. Returning an error rejects the update and aborts the turn,
	// leaving the checkpoint at the previous step.
	CallbackOnUpdate CallbackType = "on_update"

	// CallbackOnError is triggered when the turn fails. Errors returned by
	// OnError callbacks are joined to the turn error.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext carries what a callback may inspect. Fields that do not
// apply to the callback type are zero.
type CallbackContext struct {
	// CallbackType indicates which lifecycle point triggered the execution.
	CallbackType CallbackType

	SessionID string
	TurnID    string

	// Node is the node identity for node level callbacks.
	Node string

	// State is the snapshot the node ran against, or the final state for
	// AfterTurn.
	State core.State

	// Update is the node output for OnUpdate and AfterNode.
	Update *core.Update

	// Err is set for OnError.
	Err error
}

// Callback defines the interface for turn lifecycle hooks.
//
// Implementations should be fast: they block the turn and therefore the
// token stream.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic. Returning an error terminates
	// the turn.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	cb := NewFunctionCallback(CallbackAfterTurn, func(ctx context.Context, c *CallbackContext) error {
//	    log.Printf("turn %s used %d loops", c.TurnID, c.State.LoopCount)
//	    return nil
//	})
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager routes callbacks by type.
//
// Registration is not synchronized; register everything before the engine
// serves turns. Execution is safe for concurrent use afterwards.
type CallbackManager struct {
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback. Callbacks of the same type run in
// registration order.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks runs all callbacks registered for callbackType and stops
// at the first error.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	if cm == nil {
		return nil
	}

	callbacks, exists := cm.callbacks[callbackType]
	if !exists {
		return nil
	}

	callbackCtx.CallbackType = callbackType

	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return err
		}
	}

	return nil
}

// LoggingCallback writes one debug line per lifecycle event.
type LoggingCallback struct {
	callbackType CallbackType
	logger       logging.Logger
}

// NewLoggingCallback creates a logging callback for callbackType.
func NewLoggingCallback(callbackType CallbackType, logger logging.Logger) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs the event as "engine.callback.<type>".
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.logger == nil {
		return nil
	}

	args := []any{
		"session_id", callbackCtx.SessionID,
		"turn_id", callbackCtx.TurnID,
		"loop_count", callbackCtx.State.LoopCount,
	}

	if callbackCtx.Node != "" {
		args = append(args, "node", callbackCtx.Node)
	}

	if callbackCtx.Err != nil {
		args = append(args, "error", callbackCtx.Err.Error())
	}

	c.logger.Debug("engine.callback."+string(c.callbackType), args...)

	return nil
}

// ErrUpdateRejected wraps errors returned by an UpdateValidationCallback.
var ErrUpdateRejected = errors.New("engine: update rejected")

// UpdateValidationCallback vets node updates before they are persisted, for
// example to enforce a maximum answer length or to block certain tools.
//
// Example:
//
//	cb := NewUpdateValidationCallback(func(node string, u core.Update) error {
//	    for _, m := range u.Messages {
//	        if len(m.Text()) > 8000 {
//	            return errors.New("answer too long")
//	        }
//	    }
//	    return nil
//	})
type UpdateValidationCallback struct {
	validator func(node string, u core.Update) error
}

// NewUpdateValidationCallback creates an OnUpdate callback from validator.
func NewUpdateValidationCallback(validator func(node string, u core.Update) error) *UpdateValidationCallback {
	return &UpdateValidationCallback{validator: validator}
}

// Type returns CallbackOnUpdate.
func (c *UpdateValidationCallback) Type() CallbackType {
	return CallbackOnUpdate
}

// Execute runs the validator and wraps its error with ErrUpdateRejected.
func (c *UpdateValidationCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.validator == nil || callbackCtx.Update == nil {
		return nil
	}

	if err := c.validator(callbackCtx.Node, *callbackCtx.Update); err != nil {
		return errors.Join(ErrUpdateRejected, err)
	}

	return nil
}
