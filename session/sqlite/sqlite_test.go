package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hupe1980/mentormesh/core"
	"github.com/hupe1980/mentormesh/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestStore_Contract(t *testing.T) {
	testutil.RunCheckpointStoreTests(t, func(t *testing.T) core.CheckpointStore { return openTemp(t) })
}

func TestStore_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)

	defer s.Close()

	_, err = s.Update(context.Background(), "s", core.Update{LoopCount: 1}, "agent")
	require.NoError(t, err)

	cp, err := s.Get(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, 1, cp.State.LoopCount)
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cp.db")

	s, err := Open(path)
	require.NoError(t, err)

	_, err = s.Update(context.Background(), "s", core.Update{
		Messages: []core.Message{core.NewAIMessage("agent", "welcome")},
	}, "agent")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)

	defer reopened.Close()

	cp, err := reopened.Get(context.Background(), "s")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "welcome", cp.State.Messages[0].Text())
	assert.Equal(t, 1, cp.Step)
}
