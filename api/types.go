// Package api contains the Ollama wire types, the endpoint table and the
// single non-streamed HTTP round trip every operation goes through.
package api

import (
	"encoding/json"
	"time"
)

// Common message roles. Other roles are forwarded unchanged.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a chat conversation.
type Message struct {
	Role    string   `json:"role" validate:"required"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// GenerateRequest is the body of POST /api/generate.
type GenerateRequest struct {
	Model     string          `json:"model"`
	Prompt    string          `json:"prompt"`
	System    string          `json:"system,omitempty"`
	Format    json.RawMessage `json:"format,omitempty"`
	Options   map[string]any  `json:"options,omitempty"`
	KeepAlive string          `json:"keep_alive,omitempty"`
	Stream    bool            `json:"stream"`
}

// Metrics are the optional timing fields of generate and chat responses.
// Durations are reported in nanoseconds.
type Metrics struct {
	TotalDuration      time.Duration `json:"total_duration,omitempty"`
	LoadDuration       time.Duration `json:"load_duration,omitempty"`
	PromptEvalCount    int           `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration time.Duration `json:"prompt_eval_duration,omitempty"`
	EvalCount          int           `json:"eval_count,omitempty"`
	EvalDuration       time.Duration `json:"eval_duration,omitempty"`
}

// GenerateResponse is the body returned by /api/generate.
type GenerateResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	Context   []int  `json:"context,omitempty"`
	Metrics
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Model     string          `json:"model"`
	Messages  []Message       `json:"messages"`
	Format    json.RawMessage `json:"format,omitempty"`
	Options   map[string]any  `json:"options,omitempty"`
	KeepAlive string          `json:"keep_alive,omitempty"`
	Stream    bool            `json:"stream"`
}

// ChatResponse is the body returned by /api/chat.
type ChatResponse struct {
	Model     string  `json:"model"`
	CreatedAt string  `json:"created_at"`
	Message   Message `json:"message"`
	Done      bool    `json:"done"`
	Metrics
}

// ModelEntry is one element of the /api/tags list.
type ModelEntry struct {
	Name       string `json:"name"`
	Model      string `json:"model"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
}

// TagsResponse is the body returned by /api/tags.
type TagsResponse struct {
	Models []ModelEntry `json:"models"`
}

// ShowRequest is the body of POST /api/show.
type ShowRequest struct {
	Model string `json:"model"`
}

// ShowResponse is the body returned by /api/show. Fields the server omits
// decode to empty strings.
type ShowResponse struct {
	License    string `json:"license"`
	Modelfile  string `json:"modelfile"`
	Parameters string `json:"parameters"`
	Template   string `json:"template"`
}

// EmbedRequest is the body of POST /api/embed. Input is either a string or a
// list of strings.
type EmbedRequest struct {
	Model    string `json:"model"`
	Input    any    `json:"input"`
	Truncate bool   `json:"truncate"`
}

// EmbedResponse is the body returned by /api/embed.
type EmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// ProcessEntry is one element of the /api/ps list.
type ProcessEntry struct {
	Name      string `json:"name"`
	Model     string `json:"model"`
	Size      int64  `json:"size"`
	Digest    string `json:"digest"`
	ExpiresAt string `json:"expires_at,omitempty"`
	SizeVRAM  int64  `json:"size_vram,omitempty"`
}

// ProcessResponse is the body returned by /api/ps.
type ProcessResponse struct {
	Models []ProcessEntry `json:"models"`
}

// ErrorResponse is the error envelope Ollama returns on non-2xx statuses.
type ErrorResponse struct {
	Error string `json:"error"`
}
