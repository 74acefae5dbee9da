package openai

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/hupe1980/ollamabridge/api"
	"github.com/hupe1980/ollamabridge/core"
	"github.com/hupe1980/ollamabridge/internal/testutil"
	"github.com/hupe1980/ollamabridge/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ model.Model = (*Model)(nil)

func newTestModel(srv *testutil.FakeOllama) *Model {
	c := openai.NewClient(
		option.WithBaseURL(srv.URL()+"/v1/"),
		option.WithAPIKey("ollama"),
		option.WithMaxRetries(0),
	)
	return NewModelFromClient(&c)
}

func TestModel_Generate(t *testing.T) {
	srv := testutil.NewFakeOllama(t).JSON("/v1/chat/completions", map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1715000000,
		"model":   "llama3:latest",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": "Hello there"},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7},
	}).Start()

	resp, err := newTestModel(srv).Generate(context.Background(), model.Request{
		Model: "llama3:latest",
		Messages: []api.Message{
			{Role: api.RoleSystem, Content: "be brief"},
			{Role: api.RoleUser, Content: "hi"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, "Hello there", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, int64(5), resp.Usage.PromptTokens)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	msgs, ok := reqs[0].Body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 2)
}

func TestModel_GenerateHTTPError(t *testing.T) {
	srv := testutil.NewFakeOllama(t).Status("/v1/chat/completions", http.StatusNotFound,
		map[string]any{"error": map[string]any{"message": "model not found", "type": "api_error"}}).Start()

	_, err := newTestModel(srv).Generate(context.Background(), model.Request{
		Model:    "missing",
		Messages: []api.Message{{Role: api.RoleUser, Content: "hi"}},
	})

	var te *core.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, core.CodeHTTPStatus, te.Code)
	assert.Equal(t, http.StatusNotFound, te.StatusCode)
	assert.Equal(t, core.OpChatCompletion, te.Op)
}
