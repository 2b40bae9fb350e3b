package core

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	partTypeText             = "text"
	partTypeFunctionCall     = "function_call"
	partTypeFunctionResponse = "function_response"
)

type partJSON struct {
	Type             string            `json:"type"`
	Text             string            `json:"text,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
}

type messageJSON struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Parts     []partJSON `json:"parts"`
	Origin    string     `json:"origin,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// MarshalJSON encodes the closed Part set with an explicit type discriminator
// so checkpoints can be decoded back into concrete parts.
func (m Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{
		ID:        m.ID,
		Role:      m.Role,
		Parts:     make([]partJSON, 0, len(m.Parts)),
		Origin:    m.Origin,
		CreatedAt: m.CreatedAt,
	}

	for _, p := range m.Parts {
		switch v := p.(type) {
		case TextPart:
			out.Parts = append(out.Parts, partJSON{Type: partTypeText, Text: v.Text})
		case FunctionCallPart:
			fc := v.FunctionCall
			out.Parts = append(out.Parts, partJSON{Type: partTypeFunctionCall, FunctionCall: &fc})
		case FunctionResponsePart:
			fr := v.FunctionResponse
			out.Parts = append(out.Parts, partJSON{Type: partTypeFunctionResponse, FunctionResponse: &fr})
		default:
			return nil, fmt.Errorf("core: unsupported part type %T", p)
		}
	}

	return json.Marshal(out)
}

// UnmarshalJSON decodes a message produced by MarshalJSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	var in messageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	parts := make([]Part, 0, len(in.Parts))

	for i, p := range in.Parts {
		switch p.Type {
		case partTypeText:
			parts = append(parts, TextPart{Text: p.Text})
		case partTypeFunctionCall:
			if p.FunctionCall == nil {
				return fmt.Errorf("core: part %d: missing function_call payload", i)
			}

			parts = append(parts, FunctionCallPart{FunctionCall: *p.FunctionCall})
		case partTypeFunctionResponse:
			if p.FunctionResponse == nil {
				return fmt.Errorf("core: part %d: missing function_response payload", i)
			}

			parts = append(parts, FunctionResponsePart{FunctionResponse: *p.FunctionResponse})
		default:
			return fmt.Errorf("core: part %d: unknown type %q", i, p.Type)
		}
	}

	*m = Message{
		ID:        in.ID,
		Role:      in.Role,
		Parts:     parts,
		Origin:    in.Origin,
		CreatedAt: in.CreatedAt,
	}

	return nil
}
