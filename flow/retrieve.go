package flow

import (
	"context"
	"strings"

	"github.com/hupe1980/mentormesh/core"
	"github.com/hupe1980/mentormesh/logging"
	"github.com/hupe1980/mentormesh/retrieval"
)

// Retriever is the subset of retrieval.Retriever used by RetrieveNode.
type Retriever interface {
	Retrieve(ctx context.Context, question string) ([]retrieval.Passage, error)
}

// RetrieveNode looks up knowledge base passages for the question and stores
// them, formatted, as the turn context.
type RetrieveNode struct {
	retriever Retriever
	logger    logging.Logger
}

var _ Node = (*RetrieveNode)(nil)

// NewRetrieveNode creates the retrieve node.
func NewRetrieveNode(r Retriever, logger logging.Logger) *RetrieveNode {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	return &RetrieveNode{retriever: r, logger: logger}
}

// Name returns NodeRetrieve.
func (n *RetrieveNode) Name() string { return NodeRetrieve }

// Run writes the context field. Zero passages yield NoRelevantContext; a
// context that renders blank yields NoInternalContext.
func (n *RetrieveNode) Run(ctx context.Context, state core.State, _ EmitFunc) (core.Update, error) {
	passages, err := n.retriever.Retrieve(ctx, state.Question)
	if err != nil {
		return core.Update{}, err
	}

	formatted := retrieval.FormatContext(passages, retrieval.NoRelevantContext)
	if strings.TrimSpace(formatted) == "" {
		formatted = retrieval.NoInternalContext
	}

	n.logger.Debug("flow.retrieve.done", "passages", len(passages), "context_length", len(formatted))

	return core.Update{Context: core.String(formatted)}, nil
}
