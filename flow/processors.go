package flow

import (
	"context"
	"fmt"

	"github.com/hupe1980/mentormesh/core"
	"github.com/hupe1980/mentormesh/internal/util"
	"github.com/hupe1980/mentormesh/model"
)

// DefaultProcessors returns the standard request pipeline: instructions,
// context block, history and the current question.
func DefaultProcessors(instructions string, maxHistory int) []RequestProcessor {
	return []RequestProcessor{
		NewInstructionsProcessor(instructions),
		NewContextProcessor(""),
		NewHistoryProcessor(maxHistory),
		NewQuestionProcessor(),
	}
}

// InstructionsProcessor renders the system prompt against the user profile.
type InstructionsProcessor struct {
	template string
}

// NewInstructionsProcessor creates a new instructions processor. An empty
// template selects DefaultInstructions.
func NewInstructionsProcessor(template string) *InstructionsProcessor {
	if template == "" {
		template = DefaultInstructions
	}

	return &InstructionsProcessor{template: template}
}

// Name returns the processor's identifier.
func (p *InstructionsProcessor) Name() string { return "instructions" }

// ProcessRequest sets the request instructions.
func (p *InstructionsProcessor) ProcessRequest(_ context.Context, state core.State, req *model.Request) error {
	instructions, err := util.RenderTemplate(p.template, map[string]any{
		"user_name": state.UserName,
		"user_role": state.UserRole,
	})
	if err != nil {
		return fmt.Errorf("failed to render instructions: %w", err)
	}

	req.Instructions = instructions

	return nil
}

// ContextProcessor adds the retrieved context as a human message.
type ContextProcessor struct {
	template string
}

// NewContextProcessor creates a context processor. An empty template selects
// DefaultContextBlock.
func NewContextProcessor(template string) *ContextProcessor {
	if template == "" {
		template = DefaultContextBlock
	}

	return &ContextProcessor{template: template}
}

// Name returns the processor's identifier.
func (p *ContextProcessor) Name() string { return "context" }

// ProcessRequest appends the context block.
func (p *ContextProcessor) ProcessRequest(_ context.Context, state core.State, req *model.Request) error {
	block, err := util.RenderTemplate(p.template, map[string]any{"context": state.Context})
	if err != nil {
		return fmt.Errorf("failed to render context block: %w", err)
	}

	req.Messages = append(req.Messages, core.Message{
		Role:  core.RoleHuman,
		Parts: []core.Part{core.TextPart{Text: block}},
	})

	return nil
}

// HistoryProcessor adds the conversation preceding the current turn.
type HistoryProcessor struct {
	limit int
}

// NewHistoryProcessor creates a history processor. limit bounds the number
// of messages; 0 keeps everything.
func NewHistoryProcessor(limit int) *HistoryProcessor { return &HistoryProcessor{limit: limit} }

// Name returns the processor's identifier.
func (p *HistoryProcessor) Name() string { return "history" }

// ProcessRequest appends prior messages in their original order.
func (p *HistoryProcessor) ProcessRequest(_ context.Context, state core.State, req *model.Request) error {
	history := dropUnansweredCalls(state.Messages[:turnStart(state)])

	if p.limit > 0 && len(history) > p.limit {
		history = history[len(history)-p.limit:]
		// A window must not open on tool results whose call was cut off.
		for len(history) > 0 && history[0].Role == core.RoleTool {
			history = history[1:]
		}
	}

	req.Messages = append(req.Messages, history...)

	return nil
}

// dropUnansweredCalls strips tool calls that the tool messages directly
// after them do not answer. Providers reject a call without a result, so a
// session interrupted between the agent and tools nodes would otherwise fail
// every later turn. An ai message left without parts is dropped.
func dropUnansweredCalls(msgs []core.Message) []core.Message {
	out := make([]core.Message, 0, len(msgs))

	for i, m := range msgs {
		if m.Role != core.RoleAI || !m.HasToolCalls() {
			out = append(out, m)
			continue
		}

		answered := map[string]bool{}
		results := 0

		for _, next := range msgs[i+1:] {
			if next.Role != core.RoleTool {
				break
			}

			for _, fr := range next.ToolResponses() {
				answered[fr.ID] = true
				results++
			}
		}

		parts := make([]core.Part, 0, len(m.Parts))

		for _, p := range m.Parts {
			fc, ok := p.(core.FunctionCallPart)
			if ok && !answered[fc.FunctionCall.ID] && (fc.FunctionCall.ID != "" || results == 0) {
				continue
			}

			parts = append(parts, p)
		}

		if len(parts) == 0 {
			continue
		}

		m.Parts = parts
		out = append(out, m)
	}

	return out
}

// QuestionProcessor adds the current question followed by the tool
// exchanges already made in this turn.
type QuestionProcessor struct{}

// NewQuestionProcessor creates a question processor.
func NewQuestionProcessor() *QuestionProcessor { return &QuestionProcessor{} }

// Name returns the processor's identifier.
func (p *QuestionProcessor) Name() string { return "question" }

// ProcessRequest appends the question and the current turn's messages.
func (p *QuestionProcessor) ProcessRequest(_ context.Context, state core.State, req *model.Request) error {
	start := turnStart(state)

	if start < len(state.Messages) {
		// The turn's human message is reused so the question appears once.
		req.Messages = append(req.Messages, state.Messages[start:]...)
		return nil
	}

	if state.Question != "" {
		req.Messages = append(req.Messages, core.Message{
			Role:  core.RoleHuman,
			Parts: []core.Part{core.TextPart{Text: state.Question}},
		})
	}

	return nil
}

// turnStart returns the index of the human message that opened the current
// turn, or len(Messages) when the history holds no such message. Only
// ai and tool messages may follow it.
func turnStart(state core.State) int {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		m := state.Messages[i]
		if m.Role != core.RoleHuman {
			continue
		}

		if m.Text() == state.Question {
			return i
		}

		break
	}

	return len(state.Messages)
}
