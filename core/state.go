package core

// State is the per-session record threaded through every node of a turn and
// persisted by the CheckpointStore.
//
// Merge rules (see Merge):
//   - Messages accumulate (append, never overwrite)
//   - LoopCount accumulates (sum), reset only by an explicit turn boundary
//   - UserName, UserRole, Context, Question are last-write-wins
type State struct {
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
	LoopCount int       `json:"loop_count"`
	UserName  string    `json:"user_name,omitempty"`
	UserRole  string    `json:"user_role,omitempty"`
	Context   string    `json:"context,omitempty"`
	Question  string    `json:"question,omitempty"`
}

// Update is a partial state produced by a node. Nil pointer fields leave the
// previous value untouched.
type Update struct {
	Messages  []Message
	LoopCount int
	// ResetLoopCount zeroes the counter before LoopCount is added. It marks
	// the start of a turn so the loop bound applies per turn.
	ResetLoopCount bool
	UserName       *string
	UserRole       *string
	Context        *string
	Question       *string
}

// String returns a pointer to s for use in Update literals.
func String(s string) *string { return &s }

// Merge folds u into prev and returns the next state. It is pure: neither
// prev nor u is modified and the result shares no slice with either.
func Merge(prev State, u Update) State {
	next := prev.Clone()

	if len(u.Messages) > 0 {
		for _, m := range u.Messages {
			next.Messages = append(next.Messages, m.Clone())
		}
	}

	if u.ResetLoopCount {
		next.LoopCount = 0
	}

	next.LoopCount += u.LoopCount
	if next.LoopCount < 0 {
		next.LoopCount = 0
	}

	if u.UserName != nil {
		next.UserName = *u.UserName
	}

	if u.UserRole != nil {
		next.UserRole = *u.UserRole
	}

	if u.Context != nil {
		next.Context = *u.Context
	}

	if u.Question != nil {
		next.Question = *u.Question
	}

	return next
}

// Clone returns a deep copy of the message history.
func (s State) Clone() State {
	c := s
	if s.Messages != nil {
		c.Messages = make([]Message, len(s.Messages))
		for i, m := range s.Messages {
			c.Messages[i] = m.Clone()
		}
	}

	return c
}

// LastMessage returns the most recent message, if any.
func (s State) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}

	return s.Messages[len(s.Messages)-1], true
}

// LastAIMessage returns the most recent ai message, if any.
func (s State) LastAIMessage() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAI {
			return s.Messages[i], true
		}
	}

	return Message{}, false
}
