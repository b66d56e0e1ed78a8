// Package logging provides a minimal logging interface and adapters for the
// routing and coordination engine.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that the coordinator, bus and session manager use for
// observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - AgentRouteLogger with contextual session/task helpers and domain
//     helpers for dispatches, routing decisions and aggregation rounds
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	orch := coordinator.New(tree, worker, func(o *coordinator.Options) { o.Logger = logger })
//
// The design intentionally keeps the interface minimal to avoid vendor
// lock-in while supporting structured logging where available.
package logging
