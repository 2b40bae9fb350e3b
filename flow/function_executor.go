package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hupe1980/mentormesh/core"
	"github.com/hupe1980/mentormesh/logging"
	"github.com/hupe1980/mentormesh/tool"
)

// ToolNodeOptions configure the tool execution node.
type ToolNodeOptions struct {
	MaxParallel    int  // <= 1 runs calls sequentially
	LogStartEvents bool // log a start line per call
	Logger         logging.Logger
	// OnExecuted observes every finished call (metrics hook).
	OnExecuted func(name string, dur time.Duration, err error)
}

// ToolNode executes the tool calls of the last ai message. It emits exactly
// one tool message per call, in call order, and never fails a turn because a
// tool failed: unknown tools, malformed arguments, tool errors and panics all
// become tool messages carrying an error.
type ToolNode struct {
	registry *tool.Registry
	opts     ToolNodeOptions
}

var _ Node = (*ToolNode)(nil)

// NewToolNode creates the tools node.
func NewToolNode(registry *tool.Registry, optFns ...func(o *ToolNodeOptions)) *ToolNode {
	opts := ToolNodeOptions{MaxParallel: 1, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &ToolNode{registry: registry, opts: opts}
}

// Name returns NodeTools.
func (n *ToolNode) Name() string { return NodeTools }

// Run executes pending calls. Cancellation discards all results so no
// partial batch is ever persisted.
func (n *ToolNode) Run(ctx context.Context, state core.State, emit EmitFunc) (core.Update, error) {
	last, ok := state.LastMessage()
	if !ok || last.Role != core.RoleAI {
		return core.Update{}, nil
	}

	calls := last.ToolCalls()
	if len(calls) == 0 {
		return core.Update{}, nil
	}

	batchStart := time.Now()
	msgs := n.execute(ctx, state, calls)

	if err := ctx.Err(); err != nil {
		return core.Update{}, err
	}

	for _, m := range msgs {
		if err := emit.emit(core.StreamEvent{Node: NodeTools, Role: core.RoleTool, Delta: m.Parts}); err != nil {
			return core.Update{}, err
		}
	}

	n.opts.Logger.Debug("flow.tools.batch.complete",
		"count", len(calls),
		"parallelism", n.parallelism(len(calls)),
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return core.Update{Messages: msgs}, nil
}

func (n *ToolNode) parallelism(calls int) int {
	p := n.opts.MaxParallel
	if p <= 1 {
		return 1
	}

	return min(p, calls)
}

// execute runs calls with bounded parallelism and returns results in call order.
func (n *ToolNode) execute(ctx context.Context, state core.State, calls []core.FunctionCall) []core.Message {
	results := make([]core.Message, len(calls))

	maxPar := n.parallelism(len(calls))
	if maxPar == 1 {
		for i, fc := range calls {
			if ctx.Err() != nil {
				break
			}

			results[i] = n.executeOne(ctx, state, fc)
		}

		return results
	}

	var wg sync.WaitGroup

	sem := make(chan struct{}, maxPar)

	for i := range calls {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)

		sem <- struct{}{}

		go func(idx int, fc core.FunctionCall) {
			defer wg.Done()
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}

			results[idx] = n.executeOne(ctx, state, fc)
		}(i, calls[i])
	}

	wg.Wait()

	return results
}

func (n *ToolNode) executeOne(ctx context.Context, state core.State, fc core.FunctionCall) core.Message {
	logger := n.opts.Logger
	toolCtx := core.NewToolContext(ctx, state, core.TurnIDFromContext(ctx), fc.ID, logger)

	if n.opts.LogStartEvents {
		logger.Info("flow.tool.start", "tool", fc.Name, "function_call_id", fc.ID)
	}

	start := time.Now()

	var (
		result any
		err    error
	)

	func() { // panic safety
		defer func() {
			if r := recover(); r != nil {
				err = panicError(fc.Name, r)
				logger.Error("flow.tool.panic", "tool", fc.Name, "recover", fmt.Sprint(r))
			}
		}()

		result, err = executeTool(n.registry, toolCtx, fc.Name, fc.Arguments)
	}()

	dur := time.Since(start)

	logger.Info("flow.tool.executed",
		"tool", fc.Name,
		"function_call_id", fc.ID,
		"duration_ms", dur.Milliseconds(),
		"error", err != nil,
	)

	if n.opts.OnExecuted != nil {
		n.opts.OnExecuted(fc.Name, dur, err)
	}

	return core.NewToolMessage(NodeTools, fc.ID, fc.Name, persistable(result), err)
}

// persistable keeps JSON encodable results as they are and replaces anything
// else (funcs, channels, NaN) with its text, so every checkpoint store can
// write the tool message.
func persistable(result any) any {
	if result == nil {
		return nil
	}

	if _, err := json.Marshal(result); err != nil {
		return core.FunctionResponse{Response: result}.Text()
	}

	return result
}

// panicError converts a recovered panic value to a tool error carrying the stack.
func panicError(name string, r any) error {
	return &tool.ToolError{
		Tool:    name,
		Message: fmt.Sprintf("panic: %v", r),
		Code:    tool.CodePanic,
		Details: string(debug.Stack()),
	}
}

// executeTool centralizes tool lookup, argument decoding and execution.
func executeTool(registry *tool.Registry, toolCtx *core.ToolContext, name, args string) (any, error) {
	impl, ok := registry.Get(name)
	if !ok {
		return nil, tool.NewToolError(name, fmt.Sprintf("tool %s not found", name), tool.CodeNotFound)
	}

	argMap := map[string]any{}
	if args != "" {
		if err := json.Unmarshal([]byte(args), &argMap); err != nil {
			return nil, &tool.ToolError{
				Tool:    name,
				Message: fmt.Sprintf("failed to unmarshal args: %v", err),
				Code:    tool.CodeValidation,
			}
		}
	}

	return impl.Call(toolCtx, argMap)
}
