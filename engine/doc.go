// Package engine runs MentorMesh turns.
//
// The Engine owns the turn graph and is the only component that talks to the
// CheckpointStore. A turn is:
//
//	input → retrieve → agent ─┬─> end
//	                ▲         │
//	                └─ tools <┘   (while the last ai message calls tools
//	                               and loop_count <= MaxLoops)
//
// # Persistence
//
// The turn input (human message, question, profile, loop counter reset) is
// written with origin "input". Every node update is written with the node's
// name as origin right after the node returns. A failing node is never
// written, so the checkpoint of an aborted turn is the last completed step.
// A session without messages is seeded with the welcome message first.
//
// # Streaming
//
// Invoke streams the agent's token deltas through Tokens, which drops
// retrieval and tool output. Leaving the range loop early cancels the turn.
// Run executes the same pipeline without streaming and returns the text of
// the last ai message.
//
// # Concurrency
//
// Turns and initializations on the same session are serialized by a
// session.Lanes lock; different sessions run concurrently, optionally bounded
// by Options.MaxConcurrentTurns. Cancelling ctx or calling StopTurn aborts a
// turn at the next node boundary or model delta.
//
// # Callbacks
//
// Callbacks hook into the turn lifecycle (before/after turn and node, update
// validation, errors). They run synchronously and abort the turn by returning
// an error.
//
// Example:
//
//	eng, err := engine.New(func(o *engine.Options) {
//	    o.Model = model
//	    o.Retriever = retriever
//	    o.Checkpoints = session.NewInMemoryStore()
//	})
//	if err != nil {
//	    return err
//	}
//
//	res, err := eng.Run(ctx, engine.TurnInput{SessionID: "s1", Question: "How do I request PTO?"})
package engine
