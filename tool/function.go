package tool

import (
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/mentormesh/core"
	"github.com/hupe1980/mentormesh/internal/util"
)

// Func is the signature of a plain Go function exposed as a tool. args have
// already been validated against the tool's parameter schema.
type Func func(toolCtx *core.ToolContext, args map[string]any) (any, error)

// FunctionTool exposes a Func as a Tool. Arguments are validated with
// gojsonschema before fn runs; failures come back as *ToolError with
// CodeValidation, and plain errors from fn as CodeExecution. A *ToolError
// returned by fn is passed through unchanged.
//
// A FunctionTool holds no mutable state and is safe for concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          Func
}

var _ Tool = (*FunctionTool)(nil)

// NewFunctionTool wraps fn. A nil parameters schema accepts any arguments.
//
//	balance := tool.NewFunctionTool("pto_balance", "Look up remaining PTO days",
//	    map[string]any{
//	        "type":       "object",
//	        "properties": map[string]any{"employee": map[string]any{"type": "string"}},
//	        "required":   []string{"employee"},
//	    },
//	    func(tc *core.ToolContext, args map[string]any) (any, error) {
//	        return lookup(args["employee"].(string))
//	    })
func NewFunctionTool(name, description string, parameters map[string]any, fn Func) *FunctionTool {
	return &FunctionTool{name: name, description: description, parameters: parameters, fn: fn}
}

// NewFunctionToolFromStruct derives the parameter schema from the fields of
// args (see util.CreateSchema for the supported tags).
func NewFunctionToolFromStruct(name, description string, args any, fn Func) *FunctionTool {
	return NewFunctionTool(name, description, util.CreateSchema(args), fn)
}

func (t *FunctionTool) Name() string               { return t.name }
func (t *FunctionTool) Description() string        { return t.description }
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call validates args and runs the wrapped function.
func (t *FunctionTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	logger := toolCtx.Logger()
	start := time.Now()

	if err := util.ValidateParameters(args, t.parameters); err != nil {
		logger.Warn("tool.call.invalid", "tool", t.name, "fc_id", toolCtx.FunctionCallID(), "error", err.Error())

		return nil, &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    CodeValidation,
			Details: err,
		}
	}

	result, err := t.fn(toolCtx, args)

	var toolErr *ToolError

	switch {
	case err == nil:
		logger.Debug("tool.call.done", "tool", t.name, "fc_id", toolCtx.FunctionCallID(), "duration_ms", time.Since(start).Milliseconds())
		return result, nil
	case errors.As(err, &toolErr):
	default:
		toolErr = &ToolError{Tool: t.name, Message: err.Error(), Code: CodeExecution}
	}

	logger.Warn("tool.call.failed", "tool", t.name, "fc_id", toolCtx.FunctionCallID(), "code", toolErr.Code, "error", toolErr.Message)

	return nil, toolErr
}
