package model

import (
	"context"
	"strings"

	"github.com/hupe1980/ollamabridge/api"
	"github.com/hupe1980/ollamabridge/core"
)

// Request captures a normalized, non-streamed chat turn.
type Request struct {
	Model       string        `json:"model"`
	Messages    []api.Message `json:"messages"`
	MaxTokens   int64         `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

// Response is the final answer of a compatible endpoint.
type Response struct {
	ID           string          `json:"id"`
	Model        string          `json:"model"`
	Content      string          `json:"content"`
	FinishReason string          `json:"finish_reason"` // "stop", "length", "end_turn", etc.
	Usage        core.TokenUsage `json:"usage"`
}

// Model is the minimal interface the SDK-backed operations drive. One is
// built per client snapshot.
type Model interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// SplitSystem separates system messages from the conversation, joining their
// contents with blank lines.
func SplitSystem(msgs []api.Message) (string, []api.Message) {
	var system []string
	rest := make([]api.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == api.RoleSystem {
			if m.Content != "" {
				system = append(system, m.Content)
			}
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}
