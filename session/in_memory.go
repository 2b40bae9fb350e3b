package session

import (
	"context"
	"sync"

	"github.com/hupe1980/mentormesh/core"
)

// InMemoryStore is a volatile CheckpointStore keeping checkpoints in a process
// local map. It is safe for concurrent access and best suited for tests or
// ephemeral demo servers. Returned checkpoints are deep copies so callers
// cannot mutate stored state.
type InMemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*core.Checkpoint
}

var _ core.CheckpointStore = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory checkpoint store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{checkpoints: make(map[string]*core.Checkpoint)}
}

// Get returns a copy of the session's checkpoint, or nil when absent.
func (s *InMemoryStore) Get(_ context.Context, sessionID string) (*core.Checkpoint, error) {
	if sessionID == "" {
		return nil, core.ErrSessionIDRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[sessionID]
	if !ok {
		return nil, nil
	}

	return cloneCheckpoint(cp), nil
}

// Update merges u into the stored state and returns the new checkpoint.
func (s *InMemoryStore) Update(ctx context.Context, sessionID string, u core.Update, origin string) (*core.Checkpoint, error) {
	if sessionID == "" {
		return nil, core.ErrSessionIDRequired
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := core.Advance(s.checkpoints[sessionID], sessionID, u, origin)
	s.checkpoints[sessionID] = next

	return cloneCheckpoint(next), nil
}

// Sessions returns the ids of all stored sessions.
func (s *InMemoryStore) Sessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.checkpoints))
	for id := range s.checkpoints {
		ids = append(ids, id)
	}

	return ids
}

func cloneCheckpoint(cp *core.Checkpoint) *core.Checkpoint {
	c := *cp
	c.State = cp.State.Clone()

	return &c
}
