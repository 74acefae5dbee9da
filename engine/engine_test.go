package engine

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/ollamabridge/config"
	"github.com/hupe1980/ollamabridge/core"
	"github.com/hupe1980/ollamabridge/executor"
	"github.com/hupe1980/ollamabridge/internal/testutil"
	"github.com/hupe1980/ollamabridge/operation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, baseURL string, optFns ...func(o *Options)) *Engine {
	t.Helper()
	store := config.NewStore(&config.Config{BaseURL: baseURL, Timeout: 5 * time.Second})
	e := New(store, optFns...)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func inline(o *Options) { o.Executor = executor.Inline{} }

func generateOp(t *testing.T) operation.Operation {
	t.Helper()
	op, err := operation.Generate("llama3", "hi")
	require.NoError(t, err)
	return op
}

func TestDispatch_MissingContinuation(t *testing.T) {
	e := newEngine(t, "http://localhost:11434", inline)

	_, err := e.Dispatch(generateOp(t), nil)
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
	assert.ErrorIs(t, err, core.ErrMissingContinuation)
	assert.Zero(t, e.Pending())
}

func TestDispatch_UnbuiltOperation(t *testing.T) {
	e := newEngine(t, "http://localhost:11434", inline)

	_, err := e.Dispatch(operation.Operation{Kind: "bogus"}, testutil.NewRecorder())
	assert.Equal(t, core.KindValidation, core.KindOf(err))
	assert.Zero(t, e.Pending())
}

func TestDispatch_DeliversOnlyOnDrain(t *testing.T) {
	srv := testutil.NewFakeOllama(t).JSON("/api/generate", map[string]any{
		"model": "llama3:latest", "response": "hello", "done": true,
	}).Start()
	e := newEngine(t, srv.URL(), inline)
	rec := testutil.NewRecorder()

	h, err := e.Dispatch(generateOp(t), rec)
	require.NoError(t, err)
	assert.False(t, h.IsZero())

	// the unit ran inline, but nothing is delivered before Drain
	assert.Equal(t, 1, e.Queued())
	assert.Equal(t, 1, e.Pending())
	assert.Zero(t, rec.Len())

	report := e.Drain()
	assert.Equal(t, DrainReport{Delivered: 1}, report)
	require.Equal(t, 1, rec.Len())

	out := rec.Last()
	require.True(t, out.OK())
	gr := out.Result.(core.GenerateResult)
	assert.Equal(t, "hello", gr.Response)
	assert.Equal(t, "llama3:latest", gr.Model)

	assert.Zero(t, e.Pending())
	assert.Equal(t, DrainReport{}, e.Drain())
}

func TestDispatch_PoolCompletesInBackground(t *testing.T) {
	srv := testutil.NewFakeOllama(t).Tags("llama3:latest").Start()
	e := newEngine(t, srv.URL(), func(o *Options) { o.Config.Workers = 2 })

	recs := make([]*testutil.Recorder, 5)
	for i := range recs {
		recs[i] = testutil.NewRecorder()
		_, err := e.Dispatch(operation.ListModels(), recs[i])
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool { return e.Queued() == len(recs) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, len(recs), e.Drain().Delivered)
	for _, r := range recs {
		require.Equal(t, 1, r.Len())
		assert.Len(t, r.Last().Result.(core.ModelList).Models, 1)
	}
}

func TestDispatch_TransportFailure(t *testing.T) {
	srv := testutil.NewFakeOllama(t).Start()
	url := srv.URL()
	srv.Close()

	e := newEngine(t, url, inline)
	rec := testutil.NewRecorder()

	_, err := e.Dispatch(generateOp(t), rec)
	require.NoError(t, err)
	e.Drain()

	out := rec.Last()
	require.False(t, out.OK())
	assert.Equal(t, core.KindTransport, out.Failure.Kind)
	assert.Equal(t, core.CodeConnectionRefused, out.Failure.Code)
	assert.Contains(t, out.ErrorMessage(), "Error: ")
}

func TestDispatch_Timeout(t *testing.T) {
	srv := testutil.NewFakeOllama(t).Tags("llama3:latest").Delay(time.Second).Start()
	store := config.NewStore(&config.Config{BaseURL: srv.URL(), Timeout: 50 * time.Millisecond})
	e := New(store, inline)
	defer func() { _ = e.Close(context.Background()) }()
	rec := testutil.NewRecorder()

	_, err := e.Dispatch(operation.ListModels(), rec)
	require.NoError(t, err)
	e.Drain()

	require.Equal(t, 1, rec.Len())
	assert.Equal(t, core.CodeTimeout, rec.Last().Failure.Code)
}

func TestDrain_IsolatesContinuationFailures(t *testing.T) {
	srv := testutil.NewFakeOllama(t).Tags("llama3:latest").Start()

	var mu sync.Mutex
	var reported []error
	e := newEngine(t, srv.URL(), inline, func(o *Options) {
		o.ErrorReporter = func(_ core.Handle, kind core.OperationKind, err error) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, core.OpListModels, kind)
			reported = append(reported, err)
		}
	})

	failing := testutil.NewRecorder().Failing(errors.New("boom"))
	panicking := core.ContinuationFunc(func(core.Outcome) error { panic("kaboom") })
	ok := testutil.NewRecorder()

	for _, c := range []core.Continuation{failing, panicking, ok} {
		_, err := e.Dispatch(operation.ListModels(), c)
		require.NoError(t, err)
	}

	report := e.Drain()
	assert.Equal(t, DrainReport{Delivered: 1, Failed: 2}, report)
	assert.Equal(t, 3, report.Total())
	assert.Equal(t, 1, failing.Len())
	assert.Equal(t, 1, ok.Len())

	require.Len(t, reported, 2)
	assert.EqualError(t, reported[0], "boom")
	assert.Contains(t, reported[1].Error(), "kaboom")
}

type rejectingExecutor struct{}

func (rejectingExecutor) Submit(func()) error { return errors.New("no capacity") }

func TestDispatch_SubmitFailureDiscardsHandle(t *testing.T) {
	e := newEngine(t, "http://localhost:11434", func(o *Options) { o.Executor = rejectingExecutor{} })
	rec := testutil.NewRecorder()

	_, err := e.Dispatch(generateOp(t), rec)
	require.Error(t, err)
	assert.Equal(t, core.KindResource, core.KindOf(err))
	assert.Zero(t, e.Pending())
	assert.Equal(t, DrainReport{}, e.Drain())
	assert.Zero(t, rec.Len())
}

func TestDispatch_ClientBuildFailureIsDeliveredAsOutcome(t *testing.T) {
	e := newEngine(t, "not a url", inline)
	rec := testutil.NewRecorder()

	_, err := e.Dispatch(operation.ListModels(), rec)
	require.NoError(t, err)

	assert.Equal(t, DrainReport{Delivered: 1}, e.Drain())
	out := rec.Last()
	require.False(t, out.OK())
	assert.Equal(t, core.KindResource, out.Failure.Kind)
	assert.Contains(t, out.ErrorMessage(), "Error: http client unavailable")
}

func TestDispatch_KeepsSettingsOfDispatchTime(t *testing.T) {
	a := testutil.NewFakeOllama(t).Tags("llama3:latest").Start()
	b := testutil.NewFakeOllama(t).Tags("llama3:latest").Start()
	queued := &queuedExecutor{}
	e := newEngine(t, a.URL(), func(o *Options) { o.Executor = queued })
	rec := testutil.NewRecorder()

	_, err := e.Dispatch(operation.ListModels(), rec)
	require.NoError(t, err)
	require.NoError(t, e.Store().Set(b.URL()))
	_, err = e.Dispatch(operation.ListModels(), rec)
	require.NoError(t, err)

	// both units run after the change
	assert.Equal(t, 2, queued.Run())
	assert.Equal(t, 1, a.Hits())
	assert.Equal(t, 1, b.Hits())
	assert.Equal(t, DrainReport{Delivered: 2}, e.Drain())
}

// queuedExecutor holds tasks until Run is called.
type queuedExecutor struct {
	mu    sync.Mutex
	tasks []func()
}

func (q *queuedExecutor) Submit(task func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *queuedExecutor) Run() int {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()
	for _, task := range tasks {
		task()
	}
	return len(tasks)
}

func TestHooks_BeforeOperationRejects(t *testing.T) {
	srv := testutil.NewFakeOllama(t).Tags("llama3:latest").Start()
	e := newEngine(t, srv.URL(), inline)

	e.Hooks().Register(NewFunctionHook(HookBeforeOperation, func(_ context.Context, hc *HookContext) error {
		assert.Equal(t, core.OpListModels, hc.Kind)
		assert.NotEmpty(t, hc.OperationID)
		return errors.New("quota exceeded")
	}))

	var delivered []HookContext
	e.Hooks().Register(NewFunctionHook(HookOnDeliver, func(_ context.Context, hc *HookContext) error {
		delivered = append(delivered, *hc)
		return nil
	}))

	rec := testutil.NewRecorder()
	_, err := e.Dispatch(operation.ListModels(), rec)
	require.NoError(t, err)
	e.Drain()

	assert.Zero(t, srv.Hits())
	require.False(t, rec.Last().OK())
	assert.Contains(t, rec.Last().ErrorMessage(), "quota exceeded")
	require.Len(t, delivered, 1)
	assert.Equal(t, HookOnDeliver, delivered[0].HookType)
}

func TestHooks_AfterOperationSeesDuration(t *testing.T) {
	srv := testutil.NewFakeOllama(t).Tags("llama3:latest").Delay(10 * time.Millisecond).Start()
	e := newEngine(t, srv.URL(), inline)

	var got *HookContext
	e.Hooks().Register(NewFunctionHook(HookAfterOperation, func(_ context.Context, hc *HookContext) error {
		c := *hc
		got = &c
		return nil
	}))

	_, err := e.Dispatch(operation.ListModels(), testutil.NewRecorder())
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.True(t, got.Outcome.OK())
	assert.GreaterOrEqual(t, got.Duration, 10*time.Millisecond)
}

func TestClose_DeliversInFlightAndRejectsNewWork(t *testing.T) {
	srv := testutil.NewFakeOllama(t).Tags("llama3:latest").Delay(50 * time.Millisecond).Start()
	store := config.NewStore(&config.Config{BaseURL: srv.URL(), Timeout: 5 * time.Second})
	e := New(store)

	recs := []*testutil.Recorder{testutil.NewRecorder(), testutil.NewRecorder()}
	for _, r := range recs {
		_, err := e.Dispatch(operation.ListModels(), r)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Close(ctx))

	for _, r := range recs {
		assert.Equal(t, 1, r.Len())
	}
	assert.Zero(t, e.Pending())

	_, err := e.Dispatch(operation.ListModels(), testutil.NewRecorder())
	assert.ErrorIs(t, err, ErrEngineClosed)
	assert.Equal(t, core.KindResource, core.KindOf(err))

	assert.NoError(t, e.Close(ctx))
}

func TestClose_AbandonsAfterDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := testutil.NewFakeOllama(t).Handle("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}).Start()
	defer close(release)

	store := config.NewStore(&config.Config{BaseURL: srv.URL(), Timeout: 5 * time.Second})
	e := New(store)
	rec := testutil.NewRecorder()

	_, err := e.Dispatch(operation.ListModels(), rec)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = e.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Zero(t, e.Pending())
	assert.Zero(t, rec.Len())

	// a later drain finds nothing to deliver
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, DrainReport{}, e.Drain())
	assert.Zero(t, rec.Len())
}

func TestLoggingHook(t *testing.T) {
	var lines []string
	h := NewLoggingHook(HookAfterOperation, func(msg string) { lines = append(lines, msg) })

	m := NewHookManager()
	m.Register(h)

	out := core.Fail(errors.New("down"))
	require.NoError(t, m.Execute(context.Background(), HookAfterOperation, &HookContext{
		OperationID: "op-1",
		Kind:        core.OpChat,
		Outcome:     &out,
		Duration:    time.Second,
	}))

	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "[after_operation] op=op-1 kind=chat")
	assert.Contains(t, lines[0], "failure=Error: down")
	assert.Contains(t, lines[0], "duration=1s")
}

func TestHookManager_RecoversPanics(t *testing.T) {
	m := NewHookManager()
	m.Register(NewFunctionHook(HookOnError, func(context.Context, *HookContext) error { panic("bad hook") }))

	err := m.Execute(context.Background(), HookOnError, &HookContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad hook")
}
