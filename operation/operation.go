// Package operation builds the stateless, per-call descriptions of upstream
// requests. Constructors validate their arguments synchronously; the
// returned Operation is executed exactly once on a background worker.
package operation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/hupe1980/ollamabridge/api"
	"github.com/hupe1980/ollamabridge/core"
	"github.com/hupe1980/ollamabridge/internal/util"
	"github.com/hupe1980/ollamabridge/model"
	"github.com/hupe1980/ollamabridge/model/anthropic"
	"github.com/hupe1980/ollamabridge/model/openai"
	"github.com/hupe1980/ollamabridge/transport"
)

var validate = validator.New()

// Runner executes an operation against a client snapshot.
type Runner func(ctx context.Context, c *transport.Client) (core.Result, error)

// Operation is a fully validated request ready to run.
type Operation struct {
	// Kind identifies the endpoint row.
	Kind core.OperationKind
	// Model is the normalized model name, empty for model-less kinds.
	Model string
	// Endpoint is the upstream method and path.
	Endpoint api.Endpoint
	// Payload is the request body, nil for GET endpoints.
	Payload any

	run Runner
}

// Execute runs the operation. It must be called at most once.
func (op Operation) Execute(ctx context.Context, c *transport.Client) (core.Result, error) {
	if op.run == nil {
		return nil, core.NewValidationError("kind", fmt.Sprintf("unknown operation %q", op.Kind))
	}
	return op.run(ctx, c)
}

// Valid reports whether the operation was built by a constructor.
func (op Operation) Valid() bool { return op.run != nil }

func newOperation(kind core.OperationKind, modelName string, payload any, run Runner) Operation {
	return Operation{
		Kind:     kind,
		Model:    modelName,
		Endpoint: api.Endpoints[kind],
		Payload:  payload,
		run:      run,
	}
}

// do is the runner shared by all plain-HTTP kinds.
func do[T any](kind core.OperationKind, payload any, decode func(T) core.Result) Runner {
	return func(ctx context.Context, c *transport.Client) (core.Result, error) {
		var out T
		if err := api.Do(ctx, c.HTTP, c.BaseURL, kind, payload, &out); err != nil {
			return nil, err
		}
		return decode(out), nil
	}
}

// FormatFor derives a structured-output JSON schema from v's Go type.
func FormatFor(v any) (json.RawMessage, error) {
	return util.Schema(v)
}

// GenerateOptions carries the optional generate parameters.
type GenerateOptions struct {
	System    string
	Format    json.RawMessage
	Options   map[string]any
	KeepAlive string
}

type generateArgs struct {
	Model  string `validate:"required"`
	Prompt string `validate:"required"`
}

// Generate builds a single-shot completion of prompt.
func Generate(modelName, prompt string, optFns ...func(o *GenerateOptions)) (Operation, error) {
	if err := check(generateArgs{Model: modelName, Prompt: prompt}); err != nil {
		return Operation{}, err
	}
	opts := GenerateOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	req := api.GenerateRequest{
		Model:     api.NormalizeModel(modelName),
		Prompt:    prompt,
		System:    opts.System,
		Format:    opts.Format,
		Options:   opts.Options,
		KeepAlive: opts.KeepAlive,
	}
	return newOperation(core.OpGenerate, req.Model, req, do(core.OpGenerate, req, func(r api.GenerateResponse) core.Result {
		return core.GenerateResult{
			Model:    r.Model,
			Response: r.Response,
			Context:  r.Context,
			Timings:  timings(r.Metrics),
		}
	})), nil
}

// WithSystem sets the system prompt of a generate call.
func WithSystem(system string) func(o *GenerateOptions) {
	return func(o *GenerateOptions) { o.System = system }
}

// WithFormat requests structured output matching the given JSON schema.
func WithFormat(format json.RawMessage) func(o *GenerateOptions) {
	return func(o *GenerateOptions) { o.Format = format }
}

// ChatOptions carries the optional chat parameters.
type ChatOptions struct {
	Format    json.RawMessage
	Options   map[string]any
	KeepAlive string
}

type chatArgs struct {
	Model    string        `validate:"required"`
	Messages []api.Message `validate:"required,min=1,dive"`
}

// Chat builds a chat turn over msgs.
func Chat(modelName string, msgs []api.Message, optFns ...func(o *ChatOptions)) (Operation, error) {
	if err := check(chatArgs{Model: modelName, Messages: msgs}); err != nil {
		return Operation{}, err
	}
	opts := ChatOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	req := api.ChatRequest{
		Model:     api.NormalizeModel(modelName),
		Messages:  append([]api.Message(nil), msgs...),
		Format:    opts.Format,
		Options:   opts.Options,
		KeepAlive: opts.KeepAlive,
	}
	return newOperation(core.OpChat, req.Model, req, do(core.OpChat, req, func(r api.ChatResponse) core.Result {
		return core.ChatResult{
			Model:   r.Model,
			Role:    r.Message.Role,
			Content: r.Message.Content,
			Timings: timings(r.Metrics),
		}
	})), nil
}

// ListModels builds a listing of locally available models.
func ListModels() Operation {
	return newOperation(core.OpListModels, "", nil, do(core.OpListModels, nil, func(r api.TagsResponse) core.Result {
		out := core.ModelList{Models: make([]core.ModelSummary, 0, len(r.Models))}
		for _, m := range r.Models {
			out.Models = append(out.Models, core.ModelSummary{
				Name:       m.Name,
				ModifiedAt: m.ModifiedAt,
				Size:       m.Size,
				Digest:     m.Digest,
			})
		}
		return out
	}))
}

type modelArgs struct {
	Model string `validate:"required"`
}

// ShowModel builds a details lookup for one model.
func ShowModel(modelName string) (Operation, error) {
	if err := check(modelArgs{Model: modelName}); err != nil {
		return Operation{}, err
	}
	req := api.ShowRequest{Model: api.NormalizeModel(modelName)}
	return newOperation(core.OpShowModel, req.Model, req, do(core.OpShowModel, req, func(r api.ShowResponse) core.Result {
		return core.ModelDetails{
			License:    r.License,
			Modelfile:  r.Modelfile,
			Parameters: r.Parameters,
			Template:   r.Template,
		}
	})), nil
}

// ModelAvailable builds a check whether the normalized model name appears in
// the local model list.
func ModelAvailable(modelName string) (Operation, error) {
	if err := check(modelArgs{Model: modelName}); err != nil {
		return Operation{}, err
	}
	name := api.NormalizeModel(modelName)
	return newOperation(core.OpModelAvailable, name, nil, do(core.OpModelAvailable, nil, func(r api.TagsResponse) core.Result {
		for _, m := range r.Models {
			if m.Name == name {
				return core.Availability{Model: name, Available: true}
			}
		}
		return core.Availability{Model: name}
	})), nil
}

type embedArgs struct {
	Model  string   `validate:"required"`
	Inputs []string `validate:"required,min=1"`
}

// Embed builds an embedding request. A single input is sent as a string,
// several as a list.
func Embed(modelName string, inputs ...string) (Operation, error) {
	if err := check(embedArgs{Model: modelName, Inputs: inputs}); err != nil {
		return Operation{}, err
	}
	req := api.EmbedRequest{Model: api.NormalizeModel(modelName), Truncate: true}
	if len(inputs) == 1 {
		req.Input = inputs[0]
	} else {
		req.Input = append([]string(nil), inputs...)
	}
	return newOperation(core.OpEmbed, req.Model, req, do(core.OpEmbed, req, func(r api.EmbedResponse) core.Result {
		return core.Embeddings{Model: r.Model, Vectors: r.Embeddings}
	})), nil
}

// RunningModels builds a listing of models loaded in memory.
func RunningModels() Operation {
	return newOperation(core.OpRunningModels, "", nil, do(core.OpRunningModels, nil, func(r api.ProcessResponse) core.Result {
		out := core.RunningModelList{Models: make([]core.RunningModel, 0, len(r.Models))}
		for _, m := range r.Models {
			out.Models = append(out.Models, core.RunningModel{
				Name:      m.Name,
				Model:     m.Model,
				Size:      m.Size,
				Digest:    m.Digest,
				ExpiresAt: m.ExpiresAt,
				SizeVRAM:  m.SizeVRAM,
			})
		}
		return out
	}))
}

// CompatOptions carries the optional parameters of the compatible endpoints.
type CompatOptions struct {
	MaxTokens   int64
	Temperature *float64
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int64) func(o *CompatOptions) {
	return func(o *CompatOptions) { o.MaxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) func(o *CompatOptions) {
	return func(o *CompatOptions) { o.Temperature = &t }
}

// ChatCompletion builds a chat turn through the OpenAI-compatible endpoint.
func ChatCompletion(modelName string, msgs []api.Message, optFns ...func(o *CompatOptions)) (Operation, error) {
	req, err := compatRequest(modelName, msgs, optFns)
	if err != nil {
		return Operation{}, err
	}
	build := func(c *transport.Client) model.Model { return openai.NewModelFromClient(&c.OpenAI) }
	return compat(core.OpChatCompletion, req, build, func(resp model.Response) core.Result {
		return core.ChatCompletionResult{
			ID:           resp.ID,
			Model:        resp.Model,
			Content:      resp.Content,
			FinishReason: resp.FinishReason,
			Usage:        resp.Usage,
		}
	}), nil
}

// Messages builds a chat turn through the Anthropic-compatible endpoint.
func Messages(modelName string, msgs []api.Message, optFns ...func(o *CompatOptions)) (Operation, error) {
	req, err := compatRequest(modelName, msgs, optFns)
	if err != nil {
		return Operation{}, err
	}
	build := func(c *transport.Client) model.Model { return anthropic.NewModelFromClient(&c.Anthropic) }
	return compat(core.OpMessages, req, build, func(resp model.Response) core.Result {
		return core.MessagesResult{
			ID:         resp.ID,
			Model:      resp.Model,
			Content:    resp.Content,
			StopReason: resp.FinishReason,
			Usage:      resp.Usage,
		}
	}), nil
}

// compat runs req through the Model that build derives from the client
// snapshot.
func compat(kind core.OperationKind, req model.Request, build func(c *transport.Client) model.Model, decode func(model.Response) core.Result) Operation {
	return newOperation(kind, req.Model, req, func(ctx context.Context, c *transport.Client) (core.Result, error) {
		resp, err := build(c).Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		return decode(resp), nil
	})
}

func compatRequest(modelName string, msgs []api.Message, optFns []func(o *CompatOptions)) (model.Request, error) {
	if err := check(chatArgs{Model: modelName, Messages: msgs}); err != nil {
		return model.Request{}, err
	}
	opts := CompatOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxTokens < 0 {
		return model.Request{}, core.NewValidationError("max_tokens", "must not be negative")
	}
	return model.Request{
		Model:       api.NormalizeModel(modelName),
		Messages:    append([]api.Message(nil), msgs...),
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}, nil
}

func timings(m api.Metrics) core.Timings {
	return core.Timings{
		TotalDuration:      m.TotalDuration,
		LoadDuration:       m.LoadDuration,
		PromptEvalCount:    m.PromptEvalCount,
		PromptEvalDuration: m.PromptEvalDuration,
		EvalCount:          m.EvalCount,
		EvalDuration:       m.EvalDuration,
	}
}

// check runs the struct validator and converts the first failure into a
// *core.ValidationError.
func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return core.NewValidationError(fieldName(fe), validationMessage(fe))
	}
	return core.NewValidationError("", err.Error())
}

func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	// drop the unexported args struct prefix
	for i := 0; i < len(ns); i++ {
		if ns[i] == '.' {
			return ns[i+1:]
		}
	}
	return fe.Field()
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must not be empty"
	default:
		return fmt.Sprintf("failed on %q rule", fe.Tag())
	}
}
