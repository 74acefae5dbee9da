package core

import (
	"errors"
	"time"
)

// OperationKind names one row of the upstream endpoint table.
type OperationKind string

const (
	// OpGenerate is a single-shot, non-streamed text completion.
	OpGenerate OperationKind = "generate"
	// OpChat is a chat turn over an ordered message list.
	OpChat OperationKind = "chat"
	// OpListModels lists locally available models.
	OpListModels OperationKind = "list_models"
	// OpShowModel fetches details (license, modelfile, ...) of one model.
	OpShowModel OperationKind = "show_model"
	// OpModelAvailable checks whether a model is present locally.
	OpModelAvailable OperationKind = "model_available"
	// OpEmbed computes embeddings for one or more inputs.
	OpEmbed OperationKind = "embed"
	// OpRunningModels lists models currently loaded in memory.
	OpRunningModels OperationKind = "running_models"
	// OpChatCompletion is a chat turn through the OpenAI-compatible endpoint.
	OpChatCompletion OperationKind = "chat_completion"
	// OpMessages is a chat turn through the Anthropic-compatible endpoint.
	OpMessages OperationKind = "messages"
)

// Result is the success payload of an operation. There is exactly one
// concrete Result type per OperationKind.
type Result interface {
	// Kind reports which operation produced the result.
	Kind() OperationKind
}

// Timings captures the optional server-side durations reported by Ollama.
type Timings struct {
	TotalDuration      time.Duration `json:"total_duration,omitempty"`
	LoadDuration       time.Duration `json:"load_duration,omitempty"`
	PromptEvalCount    int           `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration time.Duration `json:"prompt_eval_duration,omitempty"`
	EvalCount          int           `json:"eval_count,omitempty"`
	EvalDuration       time.Duration `json:"eval_duration,omitempty"`
}

// GenerateResult is the outcome of OpGenerate.
type GenerateResult struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Context  []int  `json:"context,omitempty"`
	Timings
}

// Kind implements Result.
func (GenerateResult) Kind() OperationKind { return OpGenerate }

// ChatResult is the outcome of OpChat.
type ChatResult struct {
	Model   string `json:"model"`
	Role    string `json:"role"`
	Content string `json:"content"`
	Timings
}

// Kind implements Result.
func (ChatResult) Kind() OperationKind { return OpChat }

// ModelSummary describes one entry of the local model list.
type ModelSummary struct {
	Name       string `json:"name"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
}

// ModelList is the outcome of OpListModels.
type ModelList struct {
	Models []ModelSummary `json:"models"`
}

// Kind implements Result.
func (ModelList) Kind() OperationKind { return OpListModels }

// ModelDetails is the outcome of OpShowModel. Missing upstream fields are
// delivered as empty strings.
type ModelDetails struct {
	License    string `json:"license"`
	Modelfile  string `json:"modelfile"`
	Parameters string `json:"parameters"`
	Template   string `json:"template"`
}

// Kind implements Result.
func (ModelDetails) Kind() OperationKind { return OpShowModel }

// Availability is the outcome of OpModelAvailable.
type Availability struct {
	Model     string `json:"model"`
	Available bool   `json:"available"`
}

// Kind implements Result.
func (Availability) Kind() OperationKind { return OpModelAvailable }

// Embeddings is the outcome of OpEmbed.
type Embeddings struct {
	Model   string      `json:"model"`
	Vectors [][]float64 `json:"embeddings"`
}

// Kind implements Result.
func (Embeddings) Kind() OperationKind { return OpEmbed }

// RunningModel describes a model currently loaded by the server.
// ExpiresAt and SizeVRAM are optional upstream and left zero when absent.
type RunningModel struct {
	Name      string `json:"name"`
	Model     string `json:"model"`
	Size      int64  `json:"size"`
	Digest    string `json:"digest"`
	ExpiresAt string `json:"expires_at,omitempty"`
	SizeVRAM  int64  `json:"size_vram,omitempty"`
}

// RunningModelList is the outcome of OpRunningModels.
type RunningModelList struct {
	Models []RunningModel `json:"models"`
}

// Kind implements Result.
func (RunningModelList) Kind() OperationKind { return OpRunningModels }

// TokenUsage reports token counts for the SDK-backed chat kinds.
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// ChatCompletionResult is the outcome of OpChatCompletion.
type ChatCompletionResult struct {
	ID           string     `json:"id"`
	Model        string     `json:"model"`
	Content      string     `json:"content"`
	FinishReason string     `json:"finish_reason"`
	Usage        TokenUsage `json:"usage"`
}

// Kind implements Result.
func (ChatCompletionResult) Kind() OperationKind { return OpChatCompletion }

// MessagesResult is the outcome of OpMessages.
type MessagesResult struct {
	ID         string     `json:"id"`
	Model      string     `json:"model"`
	Content    string     `json:"content"`
	StopReason string     `json:"stop_reason"`
	Usage      TokenUsage `json:"usage"`
}

// Kind implements Result.
func (MessagesResult) Kind() OperationKind { return OpMessages }

// Failure is the single generic failure payload. Message is human readable and
// is what a host continuation receives as its error argument.
type Failure struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message"`
}

// NewFailure converts an error captured in a background unit into a Failure.
func NewFailure(err error) *Failure {
	f := &Failure{Kind: KindOf(err), Message: "Error: " + err.Error()}
	var te *TransportError
	if errors.As(err, &te) {
		f.Code = te.Code
	}
	return f
}

// Outcome is the tagged success-or-failure result of one operation. Exactly
// one of Result and Failure is set.
type Outcome struct {
	Result  Result
	Failure *Failure
}

// Success wraps a result into an Outcome.
func Success(r Result) Outcome { return Outcome{Result: r} }

// Fail wraps an error into a failed Outcome.
func Fail(err error) Outcome { return Outcome{Failure: NewFailure(err)} }

// OK reports whether the outcome carries a result.
func (o Outcome) OK() bool { return o.Failure == nil }

// ErrorMessage returns the failure message, or "" on success.
func (o Outcome) ErrorMessage() string {
	if o.Failure == nil {
		return ""
	}
	return o.Failure.Message
}

// QueuedResult pairs a completed outcome with the handle it must be delivered
// to. It is produced by exactly one background unit and consumed by exactly
// one drain pass.
type QueuedResult struct {
	Handle      Handle
	OperationID string
	Kind        OperationKind
	Outcome     Outcome
	CompletedAt time.Time
}
