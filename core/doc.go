// Package core provides the foundational domain types shared by every layer of
// the bridge. It defines:
//
//   - Handles (opaque generational references to host continuations)
//   - Continuations (host-side callables resumed exactly once)
//   - Outcomes (tagged success-or-failure results of one operation)
//   - QueuedResults (outcomes waiting in the callback queue for a drain)
//   - The error taxonomy (configuration, validation, transport, resource)
//
// The package intentionally holds no behaviour beyond small helpers so that the
// engine, the operation catalogue and host adapters can depend on it without
// depending on each other.
package core
