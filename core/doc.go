// Package core provides the foundational domain types and interfaces shared by
// every MentorMesh component. It defines:
//
//   - Messages (human / ai / tool variants built from ordered Parts)
//   - State (the per-session record threaded through every node) and the
//     Merge reducer that is its only mutation path
//   - Checkpoints and the CheckpointStore contract used to resume sessions
//   - StreamEvents emitted by nodes while a turn executes
//   - ToolContext (the scoped surface handed to tool implementations)
//
// Persistence, retrieval, model access and orchestration live in other
// packages; core only exposes the small interfaces they implement.
package core
