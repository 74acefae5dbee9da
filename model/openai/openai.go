// Package openai provides an implementation of model.Model using the
// OpenAI-compatible Chat Completions endpoint (/v1/chat/completions). It
// adapts normalized messages into the SDK's message format and back.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/ollamabridge/api"
	"github.com/hupe1980/ollamabridge/core"
	"github.com/hupe1980/ollamabridge/model"
	"github.com/openai/openai-go"
)

// Model wraps the Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
}

// NewModelFromClient creates a model from an existing client. The client's
// base URL must point at the server's /v1/ prefix.
func NewModelFromClient(client *openai.Client) *Model {
	return &Model{client: client}
}

// Generate performs one non-streamed chat completion.
func (m *Model) Generate(ctx context.Context, req model.Request) (model.Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: buildMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(req.MaxTokens)
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return model.Response{}, classify(err)
	}
	if len(resp.Choices) == 0 {
		return model.Response{}, &core.TransportError{
			Code: core.CodeDecode,
			Op:   core.OpChatCompletion,
			Err:  errors.New("response contained no choices"),
		}
	}

	choice := resp.Choices[0]
	return model.Response{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: core.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// buildMessages converts normalized messages into OpenAI chat messages.
// Tool messages carry no call id here and are sent as user text.
func buildMessages(msgs []api.Message) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case api.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case api.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	return messages
}

func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &core.TransportError{
			Code:       core.CodeHTTPStatus,
			Op:         core.OpChatCompletion,
			StatusCode: apiErr.StatusCode,
			Err:        fmt.Errorf("openai api error: %w", err),
		}
	}
	return core.NewTransportError(core.OpChatCompletion, err)
}
