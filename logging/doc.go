// Package logging provides a minimal logging interface and adapters for MentorMesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the engine, flow nodes and stores use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - MeshLogger, a slog based logger with session/turn context and domain helpers
//   - ZerologAdapter for applications standardised on zerolog
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewMeshLogger(&logging.Config{Level: logging.LogLevelInfo, Format: "json"})
//	eng, err := engine.New(func(o *engine.Options) { o.Logger = logger })
//
// Message strings are dot-separated event names ("engine.turn.start"); args are
// alternating key/value pairs.
package logging
