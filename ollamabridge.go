// Package ollamabridge provides a high-level façade that lets a
// single-threaded, cooperatively polled host talk to an Ollama server without
// ever blocking its own loop. Most applications interact with this package by:
//  1. Creating a Bridge via New() (optionally overriding workers, logger, reporter)
//  2. Pointing it at a server with SetConfig
//  3. Starting operations (Generate, Chat, ListModels, ...) with a continuation
//  4. Calling Drain once per host tick to deliver completed results
//
// The façade delegates dispatch and delivery to engine.Engine and reachability
// checks to liveness.Cache. Defaults target a local server on port 11434.
package ollamabridge

import (
	"context"
	"time"

	"github.com/hupe1980/ollamabridge/api"
	"github.com/hupe1980/ollamabridge/config"
	"github.com/hupe1980/ollamabridge/core"
	"github.com/hupe1980/ollamabridge/engine"
	"github.com/hupe1980/ollamabridge/executor"
	"github.com/hupe1980/ollamabridge/liveness"
	"github.com/hupe1980/ollamabridge/logging"
	"github.com/hupe1980/ollamabridge/operation"
)

// Options configures the Bridge instance.
type Options struct {
	// Connection is the initial server address and timeout. Defaults to
	// config.DefaultConfig.
	Connection config.Config

	// EngineConfig sizes the worker pool.
	EngineConfig engine.Config

	// LivenessTTL is how long an IsRunning answer stays fresh.
	LivenessTTL time.Duration

	// Executor overrides the background execution context, for example
	// executor.Inline{} in tests.
	Executor executor.Executor

	// ErrorReporter receives continuation failures (the host's non-fatal
	// error channel). Defaults to logging them.
	ErrorReporter engine.ErrorReporter

	// Hooks are registered on the engine at construction.
	Hooks []engine.Hook

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Bridge is the explicit context object owning configuration, the handle
// registry, the result queue, the executor and the liveness cache.
type Bridge struct {
	opts     Options
	engine   *engine.Engine
	liveness *liveness.Cache
}

// New creates a new Bridge with optional overrides.
func New(optFns ...func(o *Options)) *Bridge {
	opts := Options{
		Connection:   config.DefaultConfig,
		EngineConfig: engine.DefaultConfig,
		LivenessTTL:  liveness.DefaultTTL,
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	store := config.NewStore(&opts.Connection)

	e := engine.New(store, func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Executor = opts.Executor
		o.Logger = opts.Logger
		o.ErrorReporter = opts.ErrorReporter
	})
	for _, h := range opts.Hooks {
		e.Hooks().Register(h)
	}

	b := &Bridge{opts: opts, engine: e}
	b.liveness = liveness.New(b.probe, func(o *liveness.Options) {
		o.TTL = opts.LivenessTTL
		o.Logger = opts.Logger
	})

	return b
}

// WithWorkers sets the number of concurrent requests.
func WithWorkers(n int) func(o *Options) {
	return func(o *Options) { o.EngineConfig.Workers = n }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// WithErrorReporter sets the continuation failure channel.
func WithErrorReporter(r engine.ErrorReporter) func(o *Options) {
	return func(o *Options) { o.ErrorReporter = r }
}

// WithExecutor replaces the default worker pool.
func WithExecutor(x executor.Executor) func(o *Options) {
	return func(o *Options) { o.Executor = x }
}

// WithLivenessTTL sets the IsRunning cache window.
func WithLivenessTTL(ttl time.Duration) func(o *Options) {
	return func(o *Options) { o.LivenessTTL = ttl }
}

// Engine exposes the underlying engine for advanced use.
func (b *Bridge) Engine() *engine.Engine { return b.engine }

// SetConfig replaces the server address and, optionally, the request timeout.
// On error (a *core.ConfigurationError) the previous settings stay in place.
// Operations already in flight keep the settings they started with.
func (b *Bridge) SetConfig(address string, timeout ...time.Duration) error {
	if err := b.engine.Store().Set(address, timeout...); err != nil {
		return err
	}
	b.liveness.Invalidate()

	cfg, version := b.engine.Store().Get()
	b.opts.Logger.Info("Configuration updated", "base_url", cfg.BaseURL, "timeout", cfg.Timeout, "version", version)
	return nil
}

// Config returns the current connection settings.
func (b *Bridge) Config() config.Config {
	cfg, _ := b.engine.Store().Get()
	return cfg
}

// Generate starts a single-prompt completion.
func (b *Bridge) Generate(model, prompt string, c core.Continuation, optFns ...func(o *operation.GenerateOptions)) (core.Handle, error) {
	if c == nil {
		return core.Handle{}, core.ErrMissingContinuation
	}
	op, err := operation.Generate(model, prompt, optFns...)
	if err != nil {
		return core.Handle{}, err
	}
	return b.engine.Dispatch(op, c)
}

// Chat starts a chat completion over msgs.
func (b *Bridge) Chat(model string, msgs []api.Message, c core.Continuation, optFns ...func(o *operation.ChatOptions)) (core.Handle, error) {
	if c == nil {
		return core.Handle{}, core.ErrMissingContinuation
	}
	op, err := operation.Chat(model, msgs, optFns...)
	if err != nil {
		return core.Handle{}, err
	}
	return b.engine.Dispatch(op, c)
}

// ListModels lists the locally installed models.
func (b *Bridge) ListModels(c core.Continuation) (core.Handle, error) {
	return b.engine.Dispatch(operation.ListModels(), c)
}

// GetModelInfo fetches license, modelfile, parameters and template of model.
func (b *Bridge) GetModelInfo(model string, c core.Continuation) (core.Handle, error) {
	if c == nil {
		return core.Handle{}, core.ErrMissingContinuation
	}
	op, err := operation.ShowModel(model)
	if err != nil {
		return core.Handle{}, err
	}
	return b.engine.Dispatch(op, c)
}

// IsModelAvailable reports whether model is installed.
func (b *Bridge) IsModelAvailable(model string, c core.Continuation) (core.Handle, error) {
	if c == nil {
		return core.Handle{}, core.ErrMissingContinuation
	}
	op, err := operation.ModelAvailable(model)
	if err != nil {
		return core.Handle{}, err
	}
	return b.engine.Dispatch(op, c)
}

// GenerateEmbeddings embeds one or more inputs.
func (b *Bridge) GenerateEmbeddings(model string, inputs []string, c core.Continuation) (core.Handle, error) {
	if c == nil {
		return core.Handle{}, core.ErrMissingContinuation
	}
	op, err := operation.Embed(model, inputs...)
	if err != nil {
		return core.Handle{}, err
	}
	return b.engine.Dispatch(op, c)
}

// GetRunningModels lists the models currently loaded in memory.
func (b *Bridge) GetRunningModels(c core.Continuation) (core.Handle, error) {
	return b.engine.Dispatch(operation.RunningModels(), c)
}

// ChatCompletion runs msgs through the OpenAI-compatible endpoint.
func (b *Bridge) ChatCompletion(model string, msgs []api.Message, c core.Continuation, optFns ...func(o *operation.CompatOptions)) (core.Handle, error) {
	if c == nil {
		return core.Handle{}, core.ErrMissingContinuation
	}
	op, err := operation.ChatCompletion(model, msgs, optFns...)
	if err != nil {
		return core.Handle{}, err
	}
	return b.engine.Dispatch(op, c)
}

// Messages runs msgs through the Anthropic-compatible endpoint.
func (b *Bridge) Messages(model string, msgs []api.Message, c core.Continuation, optFns ...func(o *operation.CompatOptions)) (core.Handle, error) {
	if c == nil {
		return core.Handle{}, core.ErrMissingContinuation
	}
	op, err := operation.Messages(model, msgs, optFns...)
	if err != nil {
		return core.Handle{}, err
	}
	return b.engine.Dispatch(op, c)
}

// IsRunning reports whether the server answered recently. Only the very
// first call (and the first after SetConfig) waits for the network.
func (b *Bridge) IsRunning() bool {
	return b.liveness.IsRunning(context.Background())
}

func (b *Bridge) probe(ctx context.Context) bool {
	c, err := b.engine.Factory().Client()
	if err != nil {
		b.opts.Logger.Warn("Liveness probe skipped", "error", err)
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	return api.Probe(ctx, c.HTTP, c.BaseURL)
}

// Drain delivers every completed result. Call it once per host tick.
func (b *Bridge) Drain() engine.DrainReport { return b.engine.Drain() }

// Pending returns the number of operations not yet delivered.
func (b *Bridge) Pending() int { return b.engine.Pending() }

// Close waits for in-flight operations until ctx is done, delivers what
// completed and abandons the rest.
func (b *Bridge) Close(ctx context.Context) error { return b.engine.Close(ctx) }
