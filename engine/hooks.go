package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/ollamabridge/core"
)

// HookType defines the lifecycle points where hooks run.
//
// Available hook types:
//   - BeforeOperation/AfterOperation: around the network round trip (worker goroutine)
//   - OnDeliver: after a continuation was resumed (host goroutine)
//   - OnError: when a continuation returned an error or panicked (host goroutine)
type HookType string

const (
	// HookBeforeOperation runs on the worker before the request is sent.
	// Returning an error fails the operation.
	HookBeforeOperation HookType = "before_operation"

	// HookAfterOperation runs on the worker once the outcome is known.
	HookAfterOperation HookType = "after_operation"

	// HookOnDeliver runs on the host after a continuation was resumed.
	HookOnDeliver HookType = "on_deliver"

	// HookOnError runs on the host when a continuation failed.
	HookOnError HookType = "on_error"
)

// HookContext describes the operation a hook is observing.
type HookContext struct {
	// OperationID is the correlation id of the operation.
	OperationID string

	// Handle is the continuation handle of the operation.
	Handle core.Handle

	// Kind is the operation kind.
	Kind core.OperationKind

	// Model is the normalized model name, if any.
	Model string

	// Outcome is set for AfterOperation, OnDeliver and OnError.
	Outcome *core.Outcome

	// Duration is the round trip time, set for AfterOperation.
	Duration time.Duration

	// Err is the continuation failure, set for OnError.
	Err error

	// HookType indicates which hook point triggered this execution.
	HookType HookType
}

// Hook is a lifecycle observer.
//
// Hooks run synchronously on the goroutine of their lifecycle point, so they
// should be fast. Only BeforeOperation hooks can influence execution.
type Hook interface {
	// Type returns the hook point this implementation handles.
	Type() HookType

	// Execute performs the hook logic.
	Execute(ctx context.Context, hc *HookContext) error
}

// FunctionHook wraps a function as a Hook.
//
// Example:
//
//	h := NewFunctionHook(HookAfterOperation, func(ctx context.Context, hc *HookContext) error {
//	    metrics.Observe(string(hc.Kind), hc.Duration)
//	    return nil
//	})
type FunctionHook struct {
	hookType HookType
	fn       func(ctx context.Context, hc *HookContext) error
}

// NewFunctionHook creates a new function-based hook.
func NewFunctionHook(hookType HookType, fn func(ctx context.Context, hc *HookContext) error) *FunctionHook {
	return &FunctionHook{hookType: hookType, fn: fn}
}

// Type returns the hook point this function handles.
func (h *FunctionHook) Type() HookType { return h.hookType }

// Execute calls the wrapped function.
func (h *FunctionHook) Execute(ctx context.Context, hc *HookContext) error {
	return h.fn(ctx, hc)
}

// HookManager is a registry of hooks keyed by hook point. Registration and
// execution may happen concurrently.
type HookManager struct {
	mu    sync.RWMutex
	hooks map[HookType][]Hook
}

// NewHookManager creates an empty manager.
func NewHookManager() *HookManager {
	return &HookManager{hooks: make(map[HookType][]Hook)}
}

// Register adds a hook. Hooks of one type run in registration order.
func (m *HookManager) Register(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[h.Type()] = append(m.hooks[h.Type()], h)
}

// Execute runs every hook registered for hookType and stops at the first
// error. A panicking hook is reported as an error.
func (m *HookManager) Execute(ctx context.Context, hookType HookType, hc *HookContext) (err error) {
	m.mu.RLock()
	hooks := m.hooks[hookType]
	m.mu.RUnlock()
	if len(hooks) == 0 {
		return nil
	}

	hc.HookType = hookType
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s hook panicked: %v", hookType, r)
		}
	}()
	for _, h := range hooks {
		if err := h.Execute(ctx, hc); err != nil {
			return err
		}
	}
	return nil
}

// LoggingHook formats lifecycle events and forwards them to a log function.
//
// Example:
//
//	h := NewLoggingHook(HookAfterOperation, func(msg string) { log.Print(msg) })
type LoggingHook struct {
	hookType HookType
	logf     func(message string)
}

// NewLoggingHook creates a new logging hook.
func NewLoggingHook(hookType HookType, logf func(message string)) *LoggingHook {
	return &LoggingHook{hookType: hookType, logf: logf}
}

// Type returns the hook point this logger handles.
func (h *LoggingHook) Type() HookType { return h.hookType }

// Execute logs the lifecycle event.
func (h *LoggingHook) Execute(_ context.Context, hc *HookContext) error {
	if h.logf == nil {
		return nil
	}
	msg := fmt.Sprintf("[%s] op=%s kind=%s handle=%s", hc.HookType, hc.OperationID, hc.Kind, hc.Handle)
	if hc.Outcome != nil && !hc.Outcome.OK() {
		msg += " failure=" + hc.Outcome.ErrorMessage()
	}
	if hc.Duration > 0 {
		msg += " duration=" + hc.Duration.String()
	}
	h.logf(msg)
	return nil
}
