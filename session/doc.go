// Package session houses concrete implementations of core.CheckpointStore and
// the per-session serialization used by the engine.
//
// The contract lives in core so higher level packages never depend on a
// concrete storage. Durable backends live in sub-packages (sqlite, postgres);
// only the wiring layer decides which implementation to instantiate.
package session
