// Package engine implements the dispatch and delivery core of the bridge.
//
// The Engine sits between a single-threaded, cooperatively polled host and
// the background workers that perform network I/O. It never blocks the host:
// Dispatch returns as soon as the work is queued, and results only re-enter
// host territory through Drain, which the host calls once per tick.
//
// # Core Responsibilities
//
// Dispatch:
//   - Synchronous validation (missing continuation, unbuilt operation, closed engine)
//   - Client snapshot from the transport factory, fixed for the operation's lifetime
//   - Handle registration in a generational registry
//   - Submission of one background unit per operation to the executor
//
// Background units:
//   - Execution bounded by the configured timeout
//   - Exactly one QueuedResult per unit, success or failure
//
// Delivery:
//   - Drain pops every completed result and resumes its continuation once
//   - Continuation errors and panics are isolated per entry and reported
//   - Results whose handle was discarded are counted as orphaned
//
// # Architecture
//
//	┌──────────────── host goroutine ────────────────┐
//	│ Dispatch ──► Registry.Register ──► Executor    │
//	│                                      │         │
//	│ Drain ◄── Queue.DrainAll ◄── unit ◄──┘ (worker)│
//	│   └──► Registry.Resolve ──► Continuation       │
//	└────────────────────────────────────────────────┘
//
// # Lifecycle Hooks
//
// Hooks observe operations at four points (before/after execution, after
// delivery, on continuation error). A BeforeOperation hook returning an error
// fails the operation without touching the network.
//
// # Shutdown
//
// Close stops accepting dispatches, waits for in-flight units until its
// context ends, delivers everything that completed in a final drain and then
// abandons any handle still pending. Results arriving after Close are dropped.
//
// # Usage Example
//
//	e := engine.New(store, func(o *engine.Options) {
//	    o.Logger = logger
//	})
//	op, _ := operation.Generate("llama3", "Why is the sky blue?")
//	_, err := e.Dispatch(op, core.ContinuationFunc(func(o core.Outcome) error {
//	    fmt.Println(o.Result.(core.GenerateResult).Response)
//	    return nil
//	}))
//
//	for range ticker.C {
//	    e.Drain()
//	}
package engine
