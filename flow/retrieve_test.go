package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/mentormesh/internal/testutil"
	"github.com/hupe1980/mentormesh/retrieval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRetriever struct {
	passages []retrieval.Passage
	err      error
	question string
}

func (s *stubRetriever) Retrieve(_ context.Context, q string) ([]retrieval.Passage, error) {
	s.question = q
	return s.passages, s.err
}

func TestRetrieveNode(t *testing.T) {
	state := testutil.NewStateBuilder("s").Question("How do I request PTO?").Build()

	t.Run("passages", func(t *testing.T) {
		r := &stubRetriever{passages: []retrieval.Passage{{Text: "PTO is 20 days."}, {Text: "Use the HR portal."}}}

		u, err := NewRetrieveNode(r, nil).Run(context.Background(), state, nil)
		require.NoError(t, err)
		require.NotNil(t, u.Context)
		assert.Equal(t, "PTO is 20 days.\n\nUse the HR portal.", *u.Context)
		assert.Equal(t, "How do I request PTO?", r.question)
		assert.Empty(t, u.Messages)
		assert.Zero(t, u.LoopCount)
	})

	t.Run("zero passages", func(t *testing.T) {
		u, err := NewRetrieveNode(&stubRetriever{}, nil).Run(context.Background(), state, nil)
		require.NoError(t, err)
		assert.Equal(t, retrieval.NoRelevantContext, *u.Context)
	})

	t.Run("blank passages", func(t *testing.T) {
		r := &stubRetriever{passages: []retrieval.Passage{{Text: " "}}}

		u, err := NewRetrieveNode(r, nil).Run(context.Background(), state, nil)
		require.NoError(t, err)
		assert.Equal(t, retrieval.NoInternalContext, *u.Context)
	})

	t.Run("error", func(t *testing.T) {
		boom := errors.New("index offline")

		_, err := NewRetrieveNode(&stubRetriever{err: boom}, nil).Run(context.Background(), state, nil)
		assert.ErrorIs(t, err, boom)
	})
}
