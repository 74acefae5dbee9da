// Package liveness caches the answer to "is the server reachable" so hosts
// can poll it every tick without paying for a round trip each time.
package liveness

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/ollamabridge/executor"
	"github.com/hupe1980/ollamabridge/logging"
)

// DefaultTTL is how long a probe result stays fresh.
const DefaultTTL = 2 * time.Second

// Prober performs one reachability check. Errors are folded into false.
type Prober func(ctx context.Context) bool

// Options configures a Cache.
type Options struct {
	// TTL is the freshness window of a probe result.
	TTL time.Duration
	// Runner executes background refreshes. Defaults to executor.Detached.
	Runner executor.Executor
	// Now is the clock; tests replace it.
	Now func() time.Time
	// Logger receives refresh diagnostics.
	Logger logging.Logger
}

// Cache is a TTL-bounded reachability flag. The first query probes
// synchronously; later queries never block. A stale query returns the cached
// value and starts at most one background refresh.
type Cache struct {
	probe  Prober
	ttl    time.Duration
	runner executor.Executor
	now    func() time.Time
	logger logging.Logger

	initMu sync.Mutex // serializes the first synchronous probe

	mu             sync.Mutex
	state          bool
	lastCheck      time.Time
	firstCheckDone bool
	refreshing     bool
	epoch          uint64
}

// New creates a cache around probe.
func New(probe Prober, optFns ...func(o *Options)) *Cache {
	opts := Options{
		TTL:    DefaultTTL,
		Runner: executor.Detached{},
		Now:    time.Now,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Cache{
		probe:  probe,
		ttl:    opts.TTL,
		runner: opts.Runner,
		now:    opts.Now,
		logger: opts.Logger,
	}
}

// IsRunning returns the cached reachability, probing synchronously on the
// very first call.
func (c *Cache) IsRunning(ctx context.Context) bool {
	c.mu.Lock()
	if !c.firstCheckDone {
		c.mu.Unlock()
		return c.firstProbe(ctx)
	}

	state := c.state
	stale := c.now().Sub(c.lastCheck) >= c.ttl
	if !stale || c.refreshing {
		c.mu.Unlock()
		return state
	}
	c.refreshing = true
	epoch := c.epoch
	c.mu.Unlock()

	if err := c.runner.Submit(func() { c.refresh(epoch) }); err != nil {
		c.logger.Warn("liveness refresh not started", "error", err)
		c.mu.Lock()
		if epoch == c.epoch {
			c.refreshing = false
		}
		c.mu.Unlock()
	}
	return state
}

func (c *Cache) firstProbe(ctx context.Context) bool {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	c.mu.Lock()
	if c.firstCheckDone {
		state := c.state
		c.mu.Unlock()
		return state
	}
	epoch := c.epoch
	c.mu.Unlock()

	ok := c.probe(ctx)

	c.mu.Lock()
	if epoch != c.epoch {
		// invalidated while probing; the next query probes the new settings
		c.mu.Unlock()
		return ok
	}
	c.state = ok
	c.lastCheck = c.now()
	c.firstCheckDone = true
	c.mu.Unlock()

	c.logger.Debug("liveness initialized", "running", ok)
	return ok
}

func (c *Cache) refresh(epoch uint64) {
	ok := c.probe(context.Background())

	c.mu.Lock()
	if epoch != c.epoch {
		// invalidated while probing; the result belongs to old settings and
		// the refreshing flag to whoever runs under the new epoch
		c.mu.Unlock()
		return
	}
	changed := c.state != ok
	c.state = ok
	c.lastCheck = c.now()
	c.refreshing = false
	c.mu.Unlock()

	if changed {
		c.logger.Info("liveness changed", "running", ok)
	}
}

// Invalidate forgets the cached value so the next query probes synchronously.
// It is used after the connection settings change.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.firstCheckDone = false
	c.refreshing = false
	c.epoch++
}

// Snapshot returns the cached state without triggering any probe.
func (c *Cache) Snapshot() (state bool, lastCheck time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.lastCheck, c.firstCheckDone
}
