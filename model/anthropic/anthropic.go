// Package anthropic provides a model wrapper for the Anthropic-compatible
// Messages endpoint (/v1/messages).
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/hupe1980/ollamabridge/api"
	"github.com/hupe1980/ollamabridge/core"
	"github.com/hupe1980/ollamabridge/model"
)

// DefaultMaxTokens is used when a request does not set MaxTokens; the
// Messages API requires the field.
const DefaultMaxTokens = 1024

// Model wraps the Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
}

// NewModelFromClient creates a new model from an existing client. The
// client's base URL must point at the server root.
func NewModelFromClient(client *anthropic.Client) *Model {
	return &Model{client: client}
}

// Generate performs one non-streamed Messages call.
func (m *Model) Generate(ctx context.Context, req model.Request) (model.Response, error) {
	system, conversation := model.SplitSystem(req.Messages)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  buildMessages(conversation),
		MaxTokens: maxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return model.Response{}, classify(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}

	return model.Response{
		ID:           resp.ID,
		Model:        string(resp.Model),
		Content:      text.String(),
		FinishReason: string(resp.StopReason),
		Usage: core.TokenUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
		},
	}, nil
}

// buildMessages converts normalized messages to Anthropic message format.
// Tool messages are folded into user turns.
func buildMessages(msgs []api.Message) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == api.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
			continue
		}
		messages = append(messages, anthropic.NewUserMessage(block))
	}
	return messages
}

func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &core.TransportError{
			Code:       core.CodeHTTPStatus,
			Op:         core.OpMessages,
			StatusCode: apiErr.StatusCode,
			Err:        fmt.Errorf("anthropic api error: %w", err),
		}
	}
	return core.NewTransportError(core.OpMessages, err)
}
