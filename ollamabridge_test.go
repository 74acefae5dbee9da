package ollamabridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/ollamabridge/api"
	"github.com/hupe1980/ollamabridge/config"
	"github.com/hupe1980/ollamabridge/core"
	"github.com/hupe1980/ollamabridge/executor"
	"github.com/hupe1980/ollamabridge/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBridge(t *testing.T, srv *testutil.FakeOllama, optFns ...func(o *Options)) *Bridge {
	t.Helper()
	fns := append([]func(o *Options){
		WithExecutor(executor.Inline{}),
		func(o *Options) {
			o.Connection = config.Config{BaseURL: srv.URL(), Timeout: 5 * time.Second}
		},
	}, optFns...)
	b := New(fns...)
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return b
}

func TestBridge_MissingContinuation(t *testing.T) {
	b := New(WithExecutor(executor.Inline{}))

	calls := []func() (core.Handle, error){
		func() (core.Handle, error) { return b.Generate("llama3", "hi", nil) },
		func() (core.Handle, error) { return b.Chat("llama3", nil, nil) },
		func() (core.Handle, error) { return b.ListModels(nil) },
		func() (core.Handle, error) { return b.GetModelInfo("llama3", nil) },
		func() (core.Handle, error) { return b.IsModelAvailable("llama3", nil) },
		func() (core.Handle, error) { return b.GenerateEmbeddings("llama3", []string{"x"}, nil) },
		func() (core.Handle, error) { return b.GetRunningModels(nil) },
		func() (core.Handle, error) { return b.ChatCompletion("llama3", nil, nil) },
		func() (core.Handle, error) { return b.Messages("llama3", nil, nil) },
	}
	for i, call := range calls {
		_, err := call()
		assert.ErrorIs(t, err, core.ErrMissingContinuation, "call %d", i)
	}
	assert.Zero(t, b.Pending())
}

func TestBridge_GenerateRoundTrip(t *testing.T) {
	srv := testutil.NewFakeOllama(t).JSON("/api/generate", map[string]any{
		"model": "llama3:latest", "response": "blue", "done": true,
	}).Start()
	b := newBridge(t, srv)
	rec := testutil.NewRecorder()

	_, err := b.Generate("llama3", "sky color?", rec)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Pending())

	assert.Equal(t, 1, b.Drain().Delivered)
	assert.Equal(t, "blue", rec.Last().Result.(core.GenerateResult).Response)
	assert.Equal(t, "llama3:latest", srv.Requests()[0].Body["model"])
}

func TestBridge_ArgumentValidationIsSynchronous(t *testing.T) {
	srv := testutil.NewFakeOllama(t).Start()
	b := newBridge(t, srv)
	rec := testutil.NewRecorder()

	_, err := b.Generate("", "hi", rec)
	assert.Equal(t, core.KindValidation, core.KindOf(err))

	_, err = b.GenerateEmbeddings("nomic-embed-text", nil, rec)
	assert.Equal(t, core.KindValidation, core.KindOf(err))

	_, err = b.Chat("llama3", []api.Message{{Role: "robot", Content: "x"}}, rec)
	assert.Equal(t, core.KindValidation, core.KindOf(err))

	assert.Zero(t, srv.Hits())
	assert.Zero(t, b.Pending())
}

func TestBridge_SetConfig(t *testing.T) {
	b := New()

	err := b.SetConfig("not a url")
	assert.Equal(t, core.KindConfiguration, core.KindOf(err))
	assert.Equal(t, config.DefaultBaseURL, b.Config().BaseURL)

	require.NoError(t, b.SetConfig(" http://ollama.internal:11434/ ", 10*time.Second))
	assert.Equal(t, "http://ollama.internal:11434", b.Config().BaseURL)
	assert.Equal(t, 10*time.Second, b.Config().Timeout)

	require.NoError(t, b.SetConfig("http://localhost:11434"))
	assert.Equal(t, config.DefaultTimeout, b.Config().Timeout)
}

func TestBridge_IsRunningInvalidatedBySetConfig(t *testing.T) {
	up := testutil.NewFakeOllama(t).Tags().Start()
	down := testutil.NewFakeOllama(t).Start()
	downURL := down.URL()
	down.Close()

	b := newBridge(t, up)
	assert.True(t, b.IsRunning())
	assert.True(t, b.IsRunning())
	assert.Equal(t, 1, up.Hits())

	require.NoError(t, b.SetConfig(downURL))
	assert.False(t, b.IsRunning())
}

func TestBridge_ReportsContinuationErrors(t *testing.T) {
	srv := testutil.NewFakeOllama(t).JSON("/api/ps", map[string]any{"models": []any{}}).Start()

	var mu sync.Mutex
	var got []error
	b := newBridge(t, srv, WithErrorReporter(func(_ core.Handle, _ core.OperationKind, err error) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, err)
	}))

	_, err := b.GetRunningModels(testutil.NewRecorder().Failing(errors.New("script error")))
	require.NoError(t, err)
	_, err = b.GetRunningModels(testutil.NewRecorder())
	require.NoError(t, err)

	report := b.Drain()
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, got, 1)
	assert.EqualError(t, got[0], "script error")
}

func TestBridge_CloseRejectsDispatch(t *testing.T) {
	srv := testutil.NewFakeOllama(t).Tags("llama3:latest").Start()
	b := newBridge(t, srv)

	require.NoError(t, b.Close(context.Background()))

	_, err := b.ListModels(testutil.NewRecorder())
	assert.Equal(t, core.KindResource, core.KindOf(err))
}

// backlog holds tasks until Run is called, like a saturated pool.
type backlog struct {
	mu    sync.Mutex
	tasks []func()
}

func (b *backlog) Submit(task func()) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks = append(b.tasks, task)
	return nil
}

func (b *backlog) Run() {
	b.mu.Lock()
	tasks := b.tasks
	b.tasks = nil
	b.mu.Unlock()
	for _, task := range tasks {
		task()
	}
}

func TestBridge_SetConfigAppliesToLaterDispatches(t *testing.T) {
	first := testutil.NewFakeOllama(t).Tags("llama3:latest").Start()
	second := testutil.NewFakeOllama(t).Tags("mistral:latest").Start()
	pending := &backlog{}
	b := newBridge(t, first, WithExecutor(pending))

	before := testutil.NewRecorder()
	after := testutil.NewRecorder()

	_, err := b.ListModels(before)
	require.NoError(t, err)
	require.NoError(t, b.SetConfig(second.URL()))
	_, err = b.ListModels(after)
	require.NoError(t, err)

	pending.Run()
	b.Drain()

	assert.Equal(t, 1, first.Hits())
	assert.Equal(t, 1, second.Hits())

	require.True(t, before.Last().OK())
	assert.Equal(t, "llama3:latest", before.Last().Result.(core.ModelList).Models[0].Name)
	require.True(t, after.Last().OK())
	assert.Equal(t, "mistral:latest", after.Last().Result.(core.ModelList).Models[0].Name)
}
