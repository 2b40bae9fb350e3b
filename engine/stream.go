package engine

import (
	"context"

	"github.com/hupe1980/mentormesh/core"
	"github.com/hupe1980/mentormesh/flow"
)

// Tokens turns the stream events of a turn into answer tokens. It forwards
// only ai deltas produced by the agent node; retrieval and tool output never
// reach the reader. List deltas are flattened into their text items.
//
// The returned channel closes when events closes or ctx is done.
func Tokens(ctx context.Context, events <-chan core.StreamEvent) <-chan string {
	out := make(chan string)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}

				if ev.Node != flow.NodeAgent || ev.Role != core.RoleAI {
					continue
				}

				for _, tok := range flatten(ev.Delta) {
					select {
					case <-ctx.Done():
						return
					case out <- tok:
					}
				}
			}
		}
	}()

	return out
}

// flatten extracts the non-empty text pieces of a delta.
func flatten(delta any) []string {
	var out []string

	add := func(s string) {
		if s != "" {
			out = append(out, s)
		}
	}

	switch d := delta.(type) {
	case string:
		add(d)
	case []string:
		for _, s := range d {
			add(s)
		}
	case []any:
		for _, item := range d {
			switch v := item.(type) {
			case string:
				add(v)
			case map[string]any:
				if text, ok := v["text"].(string); ok {
					add(text)
				}
			}
		}
	case []core.Part:
		for _, p := range d {
			if tp, ok := p.(core.TextPart); ok {
				add(tp.Text)
			}
		}
	}

	return out
}
