// Package executor provides the background execution contexts that run
// network operations off the host goroutine.
//
// Pool is the default: a lazily started, bounded set of workers consuming an
// unbounded FIFO. Inline and Detached implement the same Executor interface
// for tests and for fire-and-forget refreshes.
package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/ollamabridge/core"
	"github.com/hupe1980/ollamabridge/logging"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = &core.ResourceError{Resource: "executor", Err: errors.New("closed")}

// Executor runs tasks. Whether a task runs synchronously or on another
// goroutine is up to the implementation. Submit never blocks on the task.
type Executor interface {
	Submit(task func()) error
}

// Config sizes a Pool.
type Config struct {
	// Workers bounds the number of tasks running at once. One worker
	// serializes all tasks in submission order.
	Workers int
}

// DefaultConfig runs up to four requests at a time.
var DefaultConfig = Config{Workers: 4}

// Options configures a Pool.
type Options struct {
	Config Config
	Logger logging.Logger
}

// Pool is a bounded worker pool over an unbounded queue. Workers are started
// on the first Submit.
type Pool struct {
	cfg    Config
	logger logging.Logger

	start sync.Once
	mu    sync.Mutex
	cond  *sync.Cond
	tasks []func()

	closed  bool
	running atomic.Int64
	wg      sync.WaitGroup
}

// NewPool creates a pool; no goroutines are started until the first Submit.
func NewPool(optFns ...func(o *Options)) *Pool {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Config.Workers <= 0 {
		opts.Config.Workers = 1
	}

	p := &Pool{cfg: opts.Config, logger: opts.Logger}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// WithWorkers sets the worker count.
func WithWorkers(n int) func(o *Options) {
	return func(o *Options) { o.Config.Workers = n }
}

// WithLogger sets the pool logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// Submit enqueues task. It returns ErrClosed once Close has been called.
func (p *Pool) Submit(task func()) error {
	p.start.Do(p.spawn)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.tasks = append(p.tasks, task)
	p.cond.Signal()
	return nil
}

func (p *Pool) spawn() {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}

	p.logger.Debug("starting worker pool", "workers", p.cfg.Workers)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.tasks) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.tasks) == 0 {
			p.mu.Unlock()
			return
		}
		task := p.tasks[0]
		p.tasks[0] = nil
		p.tasks = p.tasks[1:]
		p.running.Add(1)
		p.mu.Unlock()

		p.run(task)
	}
}

func (p *Pool) run(task func()) {
	defer p.running.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("executor task panicked", "panic", r)
		}
	}()
	task()
}

// Pending returns the number of tasks queued or running.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks) + int(p.running.Load())
}

// Workers returns the configured worker count.
func (p *Pool) Workers() int { return p.cfg.Workers }

// Close stops accepting tasks and waits until queued tasks have run or ctx is
// done. Close is idempotent.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	// A pool that never started still needs Once consumed so later Submits
	// cannot spawn workers.
	p.start.Do(func() {})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inline runs each task synchronously on the submitting goroutine.
type Inline struct{}

// Submit runs task before returning.
func (Inline) Submit(task func()) error {
	task()
	return nil
}

// Detached runs each task on its own goroutine.
type Detached struct{}

// Submit starts task on a new goroutine.
func (Detached) Submit(task func()) error {
	go task()
	return nil
}
