package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/hupe1980/ollamabridge/core"
	"github.com/hupe1980/ollamabridge/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeModel(t *testing.T) {
	assert.Equal(t, "llama3:latest", NormalizeModel("llama3"))
	assert.Equal(t, "llama3:8b", NormalizeModel("llama3:8b"))
	assert.Equal(t, "registry.local/llama3:q4", NormalizeModel("registry.local/llama3:q4"))
}

func TestDo_Success(t *testing.T) {
	srv := testutil.NewFakeOllama(t).
		JSON("/api/generate", map[string]any{"model": "llama3:latest", "response": "hello", "done": true, "eval_count": 3}).
		Start()

	var out GenerateResponse
	err := Do(context.Background(), http.DefaultClient, srv.URL(), core.OpGenerate,
		GenerateRequest{Model: "llama3:latest", Prompt: "hi"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Response)
	assert.Equal(t, 3, out.EvalCount)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, false, reqs[0].Body["stream"])
	assert.Equal(t, "hi", reqs[0].Body["prompt"])
}

func TestDo_HTTPStatus(t *testing.T) {
	srv := testutil.NewFakeOllama(t).
		Status("/api/show", http.StatusNotFound, map[string]any{"error": "model 'nope:latest' not found"}).
		Start()

	err := Do(context.Background(), http.DefaultClient, srv.URL(), core.OpShowModel, ShowRequest{Model: "nope:latest"}, &ShowResponse{})

	var te *core.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, core.CodeHTTPStatus, te.Code)
	assert.Equal(t, http.StatusNotFound, te.StatusCode)
	assert.Contains(t, err.Error(), "model 'nope:latest' not found")
}

func TestDo_DecodeError(t *testing.T) {
	srv := testutil.NewFakeOllama(t).Raw("/api/tags", "{not json").Start()

	err := Do(context.Background(), http.DefaultClient, srv.URL(), core.OpListModels, nil, &TagsResponse{})

	var te *core.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, core.CodeDecode, te.Code)
}

func TestDo_Timeout(t *testing.T) {
	srv := testutil.NewFakeOllama(t).Tags("llama3:latest").Delay(200 * time.Millisecond).Start()

	hc := &http.Client{Timeout: 20 * time.Millisecond}
	err := Do(context.Background(), hc, srv.URL(), core.OpListModels, nil, &TagsResponse{})

	var te *core.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, core.CodeTimeout, te.Code)
	assert.True(t, te.Timeout())
}

func TestDo_ConnectionRefused(t *testing.T) {
	srv := testutil.NewFakeOllama(t).Start()
	url := srv.URL()
	srv.Close()

	err := Do(context.Background(), http.DefaultClient, url, core.OpListModels, nil, nil)

	var te *core.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, core.CodeConnectionRefused, te.Code)
	assert.Equal(t, core.KindTransport, core.KindOf(err))
	assert.True(t, strings.HasPrefix(core.NewFailure(err).Message, "Error: "))
}

func TestDo_UnknownKind(t *testing.T) {
	err := Do(context.Background(), http.DefaultClient, "http://localhost", core.OperationKind("bogus"), nil, nil)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}

func TestProbe(t *testing.T) {
	up := testutil.NewFakeOllama(t).Tags().Start()
	assert.True(t, Probe(context.Background(), http.DefaultClient, up.URL()))

	broken := testutil.NewFakeOllama(t).Status("/api/tags", http.StatusInternalServerError, map[string]any{"error": "boom"}).Start()
	assert.False(t, Probe(context.Background(), http.DefaultClient, broken.URL()))
}

func TestEndpointsCoverEveryKind(t *testing.T) {
	for _, k := range []core.OperationKind{
		core.OpGenerate, core.OpChat, core.OpListModels, core.OpShowModel, core.OpModelAvailable,
		core.OpEmbed, core.OpRunningModels, core.OpChatCompletion, core.OpMessages,
	} {
		_, ok := Endpoints[k]
		assert.True(t, ok, k)
	}
}
