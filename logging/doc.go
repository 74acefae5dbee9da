// Package logging provides a minimal logging interface and adapters for the bridge.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the engine, the liveness cache and the host adapters use for observability.
// This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - BridgeLogger with component/operation context and LogOperation
//   - ZapAdapter and NewZapLogger for the host programs (optional file rotation)
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	bridge := ollamabridge.New(func(o *ollamabridge.Options) { o.Logger = logger })
package logging
