package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/ollamabridge/config"
	"github.com/hupe1980/ollamabridge/core"
	"github.com/hupe1980/ollamabridge/executor"
	"github.com/hupe1980/ollamabridge/handle"
	"github.com/hupe1980/ollamabridge/logging"
	"github.com/hupe1980/ollamabridge/operation"
	"github.com/hupe1980/ollamabridge/queue"
	"github.com/hupe1980/ollamabridge/transport"
)

// ErrEngineClosed is returned by Dispatch after Close.
var ErrEngineClosed = &core.ResourceError{Resource: "engine", Err: errors.New("closed")}

// Config defines tuning parameters for the Engine.
//
// Example:
//
//	cfg := Config{Workers: 1} // serialize every request
type Config struct {
	// Workers bounds the number of requests in flight when the engine builds
	// its own executor. Ignored when Options.Executor is set.
	Workers int
}

// DefaultConfig provides the default engine configuration.
//
// Configuration values:
//   - Workers: executor.DefaultConfig.Workers
var DefaultConfig = Config{
	Workers: executor.DefaultConfig.Workers,
}

// ErrorReporter receives failures of host continuations. It is the host's
// non-fatal error channel and runs on the host goroutine.
type ErrorReporter func(h core.Handle, kind core.OperationKind, err error)

// Options configures an Engine instance using the functional options pattern.
//
// All collaborators have defaults, so the zero Options yields a working
// engine against the store passed to New.
//
// Example:
//
//	e := New(store, func(o *Options) {
//	    o.Config.Workers = 1
//	    o.Logger = logger
//	    o.ErrorReporter = func(h core.Handle, k core.OperationKind, err error) {
//	        log.Printf("callback %s (%s): %v", h, k, err)
//	    }
//	})
type Options struct {
	// Config contains operational parameters for the engine.
	Config Config

	// Factory builds HTTP clients for the current configuration version.
	// Defaults to a factory over the engine's store.
	Factory *transport.Factory

	// Executor runs background units. Defaults to an executor.Pool sized by
	// Config.Workers. An executor implementing Close(ctx) error is closed by
	// Engine.Close.
	Executor executor.Executor

	// Registry holds pending continuations. Defaults to an empty registry.
	Registry *handle.Registry

	// Queue carries completed results to the host. Defaults to an empty queue.
	Queue *queue.Queue

	// Logger provides structured logging. Defaults to NoOpLogger.
	Logger logging.Logger

	// ErrorReporter receives continuation failures. Defaults to logging them
	// at error level.
	ErrorReporter ErrorReporter

	// Hooks observes operation lifecycle events. Defaults to an empty manager.
	Hooks *HookManager

	// Now is the clock used for completion timestamps.
	Now func() time.Time
}

// operationLogger is implemented by loggers that record upstream round trips
// in a dedicated format, such as logging.BridgeLogger.
type operationLogger interface {
	LogOperation(kind, model string, dur time.Duration, success bool, err error)
}

// stackLogger is implemented by loggers that can attach a stack trace.
type stackLogger interface {
	ErrorWithStack(err error, msg string, args ...any)
}

// closer is implemented by executors that own goroutines.
type closer interface {
	Close(ctx context.Context) error
}

// Engine dispatches operations to background workers and delivers their
// outcomes back to host continuations during Drain.
//
// Concurrency Model:
//   - Dispatch, Drain and Close are meant for the host goroutine
//   - Background units only touch their client snapshot, the queue and the hooks
//   - Every dispatched handle is resolved at most once, or abandoned by Close
type Engine struct {
	store    *config.Store
	factory  *transport.Factory
	executor executor.Executor
	registry *handle.Registry
	queue    *queue.Queue
	logger   logging.Logger
	report   ErrorReporter
	hooks    *HookManager
	now      func() time.Time

	mu       sync.Mutex
	closed   bool
	sealed   bool
	inflight sync.WaitGroup
}

// New creates an engine reading connection settings from store.
func New(store *config.Store, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
		Now:    time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Factory == nil {
		opts.Factory = transport.NewFactory(store)
	}
	if opts.Executor == nil {
		opts.Executor = executor.NewPool(
			executor.WithWorkers(opts.Config.Workers),
			executor.WithLogger(opts.Logger),
		)
	}
	if opts.Registry == nil {
		opts.Registry = handle.NewRegistry()
	}
	if opts.Queue == nil {
		opts.Queue = queue.New()
	}
	if opts.Hooks == nil {
		opts.Hooks = NewHookManager()
	}
	if opts.ErrorReporter == nil {
		logger := opts.Logger
		opts.ErrorReporter = func(h core.Handle, kind core.OperationKind, err error) {
			logger.Error("Callback failed", "handle", h.String(), "kind", string(kind), "error", err)
		}
	}

	return &Engine{
		store:    store,
		factory:  opts.Factory,
		executor: opts.Executor,
		registry: opts.Registry,
		queue:    opts.Queue,
		logger:   opts.Logger,
		report:   opts.ErrorReporter,
		hooks:    opts.Hooks,
		now:      opts.Now,
	}
}

// Store returns the configuration store the engine reads from.
func (e *Engine) Store() *config.Store { return e.store }

// Factory returns the client factory shared by all operations.
func (e *Engine) Factory() *transport.Factory { return e.factory }

// Hooks returns the lifecycle hook manager.
func (e *Engine) Hooks() *HookManager { return e.hooks }

// Dispatch validates op and c, registers c and hands op to the executor. It
// never waits for the network.
//
// Synchronous errors:
//   - *core.ValidationError: c is nil or op was not built by a constructor
//   - *core.ResourceError: the engine is closed or the executor rejected the unit
//
// When an error is returned nothing stays registered and c is never invoked.
//
// The client snapshot is taken here, on the caller's goroutine, so a later
// configuration change does not affect operations already dispatched. A
// client build failure is not returned; it is delivered to c as a
// *core.ResourceError failure outcome.
func (e *Engine) Dispatch(op operation.Operation, c core.Continuation) (core.Handle, error) {
	if c == nil {
		return core.Handle{}, core.ErrMissingContinuation
	}
	if !op.Valid() {
		return core.Handle{}, core.NewValidationError("kind", fmt.Sprintf("unknown operation %q", op.Kind))
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return core.Handle{}, ErrEngineClosed
	}
	e.inflight.Add(1)
	e.mu.Unlock()

	client, cerr := e.factory.Client()
	h := e.registry.Register(c)
	id := uuid.NewString()

	if err := e.executor.Submit(func() { e.run(id, h, op, client, cerr) }); err != nil {
		e.inflight.Done()
		e.registry.Discard(h)
		var re *core.ResourceError
		if !errors.As(err, &re) {
			err = &core.ResourceError{Resource: "executor", Err: err}
		}
		return core.Handle{}, err
	}

	e.logger.Debug("Operation dispatched", "operation_id", id, "kind", string(op.Kind), "handle", h.String())
	return h, nil
}

// run is the background unit of one operation. It produces exactly one
// QueuedResult unless the engine was sealed in the meantime.
func (e *Engine) run(id string, h core.Handle, op operation.Operation, client *transport.Client, cerr error) {
	defer e.inflight.Done()

	hc := &HookContext{OperationID: id, Handle: h, Kind: op.Kind, Model: op.Model}
	start := e.now()
	outcome, err := e.execute(hc, op, client, cerr)
	dur := e.now().Sub(start)

	if ol, ok := e.logger.(operationLogger); ok {
		ol.LogOperation(string(op.Kind), op.Model, dur, err == nil, err)
	} else if err != nil {
		e.logger.Warn("Operation failed", "operation_id", id, "kind", string(op.Kind), "duration", dur, "error", err)
	}

	hc.Outcome = &outcome
	hc.Duration = dur
	if herr := e.hooks.Execute(context.Background(), HookAfterOperation, hc); herr != nil {
		e.logger.Warn("After-operation hook failed", "operation_id", id, "error", herr)
	}

	qr := core.QueuedResult{
		Handle:      h,
		OperationID: id,
		Kind:        op.Kind,
		Outcome:     outcome,
		CompletedAt: e.now(),
	}

	e.mu.Lock()
	sealed := e.sealed
	if !sealed {
		e.queue.Push(qr)
	}
	e.mu.Unlock()

	if sealed {
		e.logger.Debug("Result dropped after close", "operation_id", id, "kind", string(op.Kind))
	}
}

func (e *Engine) execute(hc *HookContext, op operation.Operation, client *transport.Client, cerr error) (out core.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", op.Kind, r)
			out = core.Fail(err)
			if sl, ok := e.logger.(stackLogger); ok {
				sl.ErrorWithStack(err, "Operation panicked", "operation_id", hc.OperationID)
			}
		}
	}()

	if err := e.hooks.Execute(context.Background(), HookBeforeOperation, hc); err != nil {
		err = fmt.Errorf("%s rejected: %w", op.Kind, err)
		return core.Fail(err), err
	}

	if cerr != nil {
		return core.Fail(cerr), cerr
	}

	ctx, cancel := context.WithTimeout(context.Background(), client.Timeout)
	defer cancel()

	res, err := op.Execute(ctx, client)
	if err != nil {
		return core.Fail(err), err
	}
	return core.Success(res), nil
}

// DrainReport summarizes one Drain pass.
type DrainReport struct {
	// Delivered counts continuations that were resumed and returned nil.
	Delivered int
	// Failed counts continuations that returned an error or panicked.
	Failed int
	// Orphaned counts results whose handle was no longer registered.
	Orphaned int
}

// Total returns the number of queue entries the pass consumed.
func (r DrainReport) Total() int { return r.Delivered + r.Failed + r.Orphaned }

// Drain delivers every completed result to its continuation. It must be
// called from the host goroutine. A failing continuation is reported and the
// pass continues with the next entry.
func (e *Engine) Drain() DrainReport {
	var report DrainReport

	for _, qr := range e.queue.DrainAll() {
		err := e.registry.Resolve(qr.Handle, qr.Outcome)
		switch {
		case errors.Is(err, handle.ErrStaleHandle):
			report.Orphaned++
			e.logger.Debug("Orphaned result", "operation_id", qr.OperationID, "handle", qr.Handle.String())
			continue
		case err != nil:
			report.Failed++
			e.report(qr.Handle, qr.Kind, err)
			e.runHostHook(HookOnError, qr, err)
		default:
			report.Delivered++
			e.runHostHook(HookOnDeliver, qr, nil)
		}
	}

	return report
}

func (e *Engine) runHostHook(t HookType, qr core.QueuedResult, err error) {
	outcome := qr.Outcome
	hc := &HookContext{
		OperationID: qr.OperationID,
		Handle:      qr.Handle,
		Kind:        qr.Kind,
		Outcome:     &outcome,
		Err:         err,
	}
	if herr := e.hooks.Execute(context.Background(), t, hc); herr != nil {
		e.logger.Warn("Hook failed", "hook", string(t), "operation_id", qr.OperationID, "error", herr)
	}
}

// Pending returns the number of dispatched operations not yet delivered.
func (e *Engine) Pending() int { return e.registry.Len() }

// Queued returns the number of completed results awaiting the next Drain.
func (e *Engine) Queued() int { return e.queue.Len() }

// Close shuts the engine down.
//
// Shutdown sequence:
//  1. Reject further dispatches with ErrEngineClosed
//  2. Wait for in-flight units until ctx is done
//  3. Seal the queue so later completions are dropped
//  4. Deliver everything that completed in a final drain
//  5. Abandon the handles still pending; their requests run to completion
//     and the results are dropped
//  6. Close the executor if it supports it
//
// Close returns ctx.Err() when the wait was cut short. Calling Close again is
// a no-op.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	e.mu.Lock()
	e.sealed = true
	e.mu.Unlock()

	report := e.Drain()

	abandoned := e.registry.Pending()
	e.registry.DiscardAll()

	if len(abandoned) > 0 {
		handles := make([]string, len(abandoned))
		for i, h := range abandoned {
			handles[i] = h.String()
		}
		e.logger.Warn("Abandoned pending operations", "count", len(abandoned), "handles", handles)
	}
	e.logger.Info("Engine closed", "delivered", report.Delivered, "failed", report.Failed, "abandoned", len(abandoned))

	var closeErr error
	if c, ok := e.executor.(closer); ok {
		closeErr = c.Close(ctx)
	}

	return errors.Join(waitErr, closeErr)
}
