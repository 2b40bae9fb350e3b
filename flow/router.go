package flow

import (
	"github.com/hupe1980/mentormesh/core"
	"github.com/hupe1980/mentormesh/tool"
)

// DefaultMaxLoops bounds reasoning executions per turn. The router stops once
// the loop counter exceeds it, so the model runs at most DefaultMaxLoops+1 times.
const DefaultMaxLoops = 3

// Decision is the outcome of Route.
type Decision int

const (
	// Terminate ends the turn.
	Terminate Decision = iota
	// ContinueToTools executes the pending tool calls and returns to the agent.
	ContinueToTools
)

// String returns the decision name.
func (d Decision) String() string {
	if d == ContinueToTools {
		return NodeTools
	}

	return "end"
}

// Route decides what follows the agent node. The loop bound wins over
// pending tool calls.
func Route(state core.State, maxLoops int) Decision {
	if state.LoopCount > maxLoops {
		return Terminate
	}

	last, ok := state.LastMessage()
	if ok && last.Role == core.RoleAI && last.HasToolCalls() {
		return ContinueToTools
	}

	return Terminate
}

// UnansweredCalls closes the tool calls of the last message when the turn
// ends before they ran: it returns one LOOP_LIMIT error tool message per
// call, in call order. It returns nil when nothing is pending.
func UnansweredCalls(state core.State) []core.Message {
	last, ok := state.LastMessage()
	if !ok || last.Role != core.RoleAI {
		return nil
	}

	calls := last.ToolCalls()
	if len(calls) == 0 {
		return nil
	}

	msgs := make([]core.Message, 0, len(calls))

	for _, fc := range calls {
		err := tool.NewToolError(fc.Name, "not executed: loop limit reached", tool.CodeLoopLimit)
		msgs = append(msgs, core.NewToolMessage(NodeTools, fc.ID, fc.Name, nil, err))
	}

	return msgs
}
