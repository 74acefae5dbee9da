package liveness

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/ollamabridge/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProber struct{ mock.Mock }

func (m *mockProber) Probe(ctx context.Context) bool {
	return m.Called().Bool(0)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// manualRunner queues tasks until Run is called.
type manualRunner struct {
	mu    sync.Mutex
	tasks []func()
}

func (r *manualRunner) Submit(task func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return nil
}

func (r *manualRunner) Run() int {
	r.mu.Lock()
	tasks := r.tasks
	r.tasks = nil
	r.mu.Unlock()
	for _, t := range tasks {
		t()
	}
	return len(tasks)
}

func newCache(p Prober, clock *fakeClock, runner executor.Executor) *Cache {
	return New(p, func(o *Options) {
		o.Now = clock.Now
		o.Runner = runner
	})
}

func TestCache_FirstQueryProbesSynchronously(t *testing.T) {
	p := &mockProber{}
	p.On("Probe").Return(true).Once()
	clock := &fakeClock{now: time.Unix(1000, 0)}

	c := newCache(p.Probe, clock, &manualRunner{})

	_, _, initialized := c.Snapshot()
	assert.False(t, initialized)

	assert.True(t, c.IsRunning(context.Background()))
	p.AssertNumberOfCalls(t, "Probe", 1)
}

func TestCache_FreshQueryDoesNoIO(t *testing.T) {
	p := &mockProber{}
	p.On("Probe").Return(true).Once()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	runner := &manualRunner{}
	c := newCache(p.Probe, clock, runner)

	require.True(t, c.IsRunning(context.Background()))
	clock.Advance(DefaultTTL - time.Millisecond)

	for i := 0; i < 10; i++ {
		assert.True(t, c.IsRunning(context.Background()))
	}
	assert.Zero(t, runner.Run())
	p.AssertNumberOfCalls(t, "Probe", 1)
}

func TestCache_StaleReturnsCachedAndRefreshesOnce(t *testing.T) {
	p := &mockProber{}
	p.On("Probe").Return(true).Once()
	p.On("Probe").Return(false).Once()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	runner := &manualRunner{}
	c := newCache(p.Probe, clock, runner)

	require.True(t, c.IsRunning(context.Background()))
	clock.Advance(DefaultTTL)

	// stale: cached value returned immediately, several queries start one refresh
	for i := 0; i < 5; i++ {
		assert.True(t, c.IsRunning(context.Background()))
	}
	assert.Equal(t, 1, runner.Run())

	// refreshed value visible, fresh again
	assert.False(t, c.IsRunning(context.Background()))
	assert.Zero(t, runner.Run())
	p.AssertExpectations(t)
}

func TestCache_DetachedRefreshSingleFlight(t *testing.T) {
	var probes atomic.Int32
	release := make(chan struct{})
	first := true
	probe := func(context.Context) bool {
		probes.Add(1)
		if first {
			first = false
			return true
		}
		<-release
		return true
	}
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := newCache(probe, clock, executor.Detached{})

	require.True(t, c.IsRunning(context.Background()))
	clock.Advance(time.Hour)

	for i := 0; i < 50; i++ {
		c.IsRunning(context.Background())
	}
	close(release)

	assert.Eventually(t, func() bool {
		_, last, _ := c.Snapshot()
		return last.Equal(clock.Now())
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(2), probes.Load())
}

func TestCache_InvalidateForcesSynchronousProbe(t *testing.T) {
	p := &mockProber{}
	p.On("Probe").Return(false).Once()
	p.On("Probe").Return(true).Once()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := newCache(p.Probe, clock, &manualRunner{})

	assert.False(t, c.IsRunning(context.Background()))
	c.Invalidate()
	assert.True(t, c.IsRunning(context.Background()))
	p.AssertExpectations(t)
}

func TestCache_RefreshAfterInvalidateIsDiscarded(t *testing.T) {
	results := []bool{true, false, true}
	var n int
	probe := func(context.Context) bool {
		r := results[n]
		n++
		return r
	}
	clock := &fakeClock{now: time.Unix(1000, 0)}
	runner := &manualRunner{}
	c := newCache(probe, clock, runner)

	require.True(t, c.IsRunning(context.Background()))
	clock.Advance(DefaultTTL)
	c.IsRunning(context.Background()) // schedules a refresh

	c.Invalidate()
	assert.False(t, c.IsRunning(context.Background())) // new settings, sync probe

	runner.Run() // old refresh answers true but must not overwrite
	state, _, _ := c.Snapshot()
	assert.False(t, state)
}

func TestCache_InvalidateDuringRefreshAllowsNewRefresh(t *testing.T) {
	results := []bool{true, true, true, false}
	var n int
	probe := func(context.Context) bool {
		r := results[n]
		n++
		return r
	}
	clock := &fakeClock{now: time.Unix(1000, 0)}
	runner := &manualRunner{}
	c := newCache(probe, clock, runner)

	require.True(t, c.IsRunning(context.Background()))
	clock.Advance(DefaultTTL)
	c.IsRunning(context.Background()) // refresh for the old settings, still queued

	c.Invalidate()
	require.True(t, c.IsRunning(context.Background()))
	clock.Advance(DefaultTTL)
	c.IsRunning(context.Background()) // new settings get their own refresh
	c.IsRunning(context.Background())

	// the old refresh runs first and must not clear the new one's flag
	require.Len(t, runner.tasks, 2)
	old, current := runner.tasks[0], runner.tasks[1]
	runner.tasks = nil

	old()
	c.IsRunning(context.Background())
	assert.Empty(t, runner.tasks)

	current()
	assert.False(t, c.IsRunning(context.Background()))
	assert.Equal(t, 4, n)
}

func TestCache_FirstProbeDiscardedAfterInvalidate(t *testing.T) {
	var c *Cache
	calls := 0
	probe := func(context.Context) bool {
		calls++
		if calls == 1 {
			c.Invalidate() // settings changed while the first probe ran
			return true
		}
		return false
	}
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c = newCache(probe, clock, &manualRunner{})

	assert.True(t, c.IsRunning(context.Background()))
	_, _, initialized := c.Snapshot()
	assert.False(t, initialized)

	assert.False(t, c.IsRunning(context.Background()))
	assert.Equal(t, 2, calls)
}
