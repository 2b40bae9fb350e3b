package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/mentormesh/core"
	"github.com/hupe1980/mentormesh/logging"
	"github.com/hupe1980/mentormesh/model"
	"github.com/hupe1980/mentormesh/tool"
)

// DefaultTemperature is the sampling temperature of the reasoning node.
const DefaultTemperature = 0.3

// ErrNoResponse is returned when the model closes its stream without a final response.
var ErrNoResponse = errors.New("flow: model returned no final response")

// ReasoningOptions configure a ReasoningNode.
type ReasoningOptions struct {
	// Instructions overrides DefaultInstructions.
	Instructions string
	Temperature  float64
	// MaxHistory bounds prior messages sent to the model; 0 keeps all.
	MaxHistory int
	// Processors replaces the default request pipeline when non-empty.
	Processors []RequestProcessor
	Logger     logging.Logger
}

// ReasoningNode asks the model for the next ai message. Each execution adds
// one ai message and increments the loop counter by one.
type ReasoningNode struct {
	model      model.Model
	tools      *tool.Registry
	processors []RequestProcessor
	opts       ReasoningOptions
}

var _ Node = (*ReasoningNode)(nil)

// NewReasoningNode creates the agent node. tools may be nil.
func NewReasoningNode(m model.Model, tools *tool.Registry, optFns ...func(o *ReasoningOptions)) *ReasoningNode {
	opts := ReasoningOptions{
		Temperature: DefaultTemperature,
		Logger:      logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	processors := opts.Processors
	if len(processors) == 0 {
		processors = DefaultProcessors(opts.Instructions, opts.MaxHistory)
	}

	return &ReasoningNode{model: m, tools: tools, processors: processors, opts: opts}
}

// Name returns NodeAgent.
func (n *ReasoningNode) Name() string { return NodeAgent }

// BuildRequest runs the request processors against state.
func (n *ReasoningNode) BuildRequest(ctx context.Context, state core.State) (model.Request, error) {
	req := model.Request{
		Stream:      true,
		Temperature: model.Float(n.opts.Temperature),
		Tools:       n.tools.Definitions(),
	}

	for _, p := range n.processors {
		if err := p.ProcessRequest(ctx, state, &req); err != nil {
			return model.Request{}, fmt.Errorf("request processor %s failed: %w", p.Name(), err)
		}
	}

	return req, nil
}

// Run invokes the model, emitting text deltas as they arrive.
func (n *ReasoningNode) Run(ctx context.Context, state core.State, emit EmitFunc) (core.Update, error) {
	req, err := n.BuildRequest(ctx, state)
	if err != nil {
		return core.Update{}, err
	}

	start := time.Now()

	final, err := n.generate(ctx, req, emit)
	if err != nil {
		n.opts.Logger.Error("flow.agent.failed", "error", err.Error())
		return core.Update{}, err
	}

	msg := core.NewMessage(core.RoleAI, NodeAgent, ensureCallIDs(final.Parts)...)

	tokens := 0
	if final.Usage != nil {
		tokens = final.Usage.TotalTokens
	}

	n.opts.Logger.Info("flow.agent.generated",
		"model", n.model.Info().Name,
		"tool_calls", len(msg.ToolCalls()),
		"token_count", tokens,
		"loop_count", state.LoopCount+1,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return core.Update{Messages: []core.Message{msg}, LoopCount: 1}, nil
}

func (n *ReasoningNode) generate(ctx context.Context, req model.Request, emit EmitFunc) (*model.Response, error) {
	respCh, errCh := n.model.Generate(ctx, req)

	var (
		final    *model.Response
		streamed bool
	)

	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}

			if resp.Partial {
				text := resp.Text()
				if text == "" {
					continue
				}

				streamed = true

				if err := emit.emit(core.StreamEvent{Node: NodeAgent, Role: core.RoleAI, Delta: text}); err != nil {
					return nil, err
				}

				continue
			}

			r := resp
			final = &r
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}

			if err != nil {
				return nil, fmt.Errorf("flow: model generate: %w", err)
			}
		}
	}

	if final == nil {
		return nil, ErrNoResponse
	}

	// Non-streaming adapters deliver the whole answer at once.
	if !streamed {
		if text := final.Text(); text != "" {
			if err := emit.emit(core.StreamEvent{Node: NodeAgent, Role: core.RoleAI, Delta: text}); err != nil {
				return nil, err
			}
		}
	}

	return final, nil
}

// ensureCallIDs assigns ids to tool calls the provider left anonymous so
// tool results can always be correlated.
func ensureCallIDs(parts []core.Part) []core.Part {
	out := make([]core.Part, len(parts))

	for i, p := range parts {
		if fc, ok := p.(core.FunctionCallPart); ok && fc.FunctionCall.ID == "" {
			fc.FunctionCall.ID = "call_" + core.NewID()
			p = fc
		}

		out[i] = p
	}

	return out
}
