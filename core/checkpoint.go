package core

import (
	"context"
	"time"
)

// Checkpoint is the durable snapshot of a session's State after the most
// recently completed node step.
type Checkpoint struct {
	SessionID string    `json:"session_id"`
	State     State     `json:"state"`
	Step      int       `json:"step"`   // Number of completed writes
	Origin    string    `json:"origin"` // Node that produced the last write
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckpointStore persists one Checkpoint per session.
//
// Contract:
//   - Get returns (nil, nil) for a session that was never written
//   - Update folds the partial state into the stored one via Merge, stamps
//     SessionID, increments Step and records origin, all atomically
//   - Implementations must be safe for concurrent use; serializing whole turns
//     per session is the caller's responsibility
type CheckpointStore interface {
	Get(ctx context.Context, sessionID string) (*Checkpoint, error)
	Update(ctx context.Context, sessionID string, u Update, origin string) (*Checkpoint, error)
}

// Advance computes the checkpoint that follows prev (which may be nil) after
// applying u. Stores share it so every backend agrees on Step and Origin.
func Advance(prev *Checkpoint, sessionID string, u Update, origin string) *Checkpoint {
	var (
		state State
		step  int
	)

	if prev != nil {
		state = prev.State
		step = prev.Step
	}

	next := Merge(state, u)
	next.SessionID = sessionID

	return &Checkpoint{
		SessionID: sessionID,
		State:     next,
		Step:      step + 1,
		Origin:    origin,
		UpdatedAt: time.Now().UTC(),
	}
}
