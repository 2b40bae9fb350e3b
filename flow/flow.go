// Package flow provides the nodes of a MentorMesh turn.
//
// A turn is the pipeline retrieve → agent → (tools → agent)* driven by the
// engine. Each node reads an immutable State snapshot and returns a
// core.Update; nodes never persist or mutate state themselves. Partial output
// (token deltas, tool results) is surfaced through an EmitFunc while the
// node runs.
package flow

import (
	"context"

	"github.com/hupe1980/mentormesh/core"
	"github.com/hupe1980/mentormesh/model"
)

// Node identities. They double as checkpoint origins and stream event tags.
const (
	NodeRetrieve = "retrieve"
	NodeAgent    = "agent"
	NodeTools    = "tools"
)

// EmitFunc receives stream events produced while a node runs. A non-nil
// error aborts the node.
type EmitFunc func(ev core.StreamEvent) error

// Node is one step of the turn graph.
type Node interface {
	// Name returns the node identity.
	Name() string
	// Run executes the node against a state snapshot and returns its update.
	Run(ctx context.Context, state core.State, emit EmitFunc) (core.Update, error)
}

// RequestProcessor contributes to the model request built by the reasoning
// node. Processors run in registration order.
type RequestProcessor interface {
	// Name returns the processor's identifier.
	Name() string
	// ProcessRequest modifies the request before model execution.
	ProcessRequest(ctx context.Context, state core.State, req *model.Request) error
}

func (f EmitFunc) emit(ev core.StreamEvent) error {
	if f == nil {
		return nil
	}

	return f(ev)
}
