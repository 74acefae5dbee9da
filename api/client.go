package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hupe1980/ollamabridge/core"
)

// MaxResponseBytes caps how much of a response body is read.
const MaxResponseBytes = 32 << 20

// Endpoint is a method and path relative to the server base address.
type Endpoint struct {
	Method string
	Path   string
}

// Endpoints maps every plain-HTTP operation kind to its upstream endpoint.
// The SDK-backed kinds resolve their paths inside the vendor clients.
var Endpoints = map[core.OperationKind]Endpoint{
	core.OpGenerate:       {http.MethodPost, "/api/generate"},
	core.OpChat:           {http.MethodPost, "/api/chat"},
	core.OpListModels:     {http.MethodGet, "/api/tags"},
	core.OpShowModel:      {http.MethodPost, "/api/show"},
	core.OpModelAvailable: {http.MethodGet, "/api/tags"},
	core.OpEmbed:          {http.MethodPost, "/api/embed"},
	core.OpRunningModels:  {http.MethodGet, "/api/ps"},
	core.OpChatCompletion: {http.MethodPost, "/v1/chat/completions"},
	core.OpMessages:       {http.MethodPost, "/v1/messages"},
}

// NormalizeModel appends the ":latest" tag to names without an explicit tag.
func NormalizeModel(name string) string {
	if strings.Contains(name, ":") {
		return name
	}
	return name + ":latest"
}

// Do performs one non-streamed round trip. in is JSON encoded as the request
// body when non-nil; a 2xx body is decoded into out when non-nil. Failures
// are returned as *core.TransportError.
func Do(ctx context.Context, hc *http.Client, baseURL string, kind core.OperationKind, in, out any) error {
	ep, ok := Endpoints[kind]
	if !ok {
		return core.NewValidationError("kind", fmt.Sprintf("unknown operation %q", kind))
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &core.TransportError{Code: core.CodeRequestFailed, Op: kind, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, ep.Method, baseURL+ep.Path, body)
	if err != nil {
		return &core.TransportError{Code: core.CodeRequestFailed, Op: kind, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return core.NewTransportError(kind, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes))
	if err != nil {
		return core.NewTransportError(kind, fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &core.TransportError{
			Code:       core.CodeHTTPStatus,
			Op:         kind,
			StatusCode: resp.StatusCode,
			Err:        errors.New(statusMessage(resp.Status, data)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &core.TransportError{Code: core.CodeDecode, Op: kind, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func statusMessage(status string, body []byte) string {
	var er ErrorResponse
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		return er.Error
	}
	if s := strings.TrimSpace(string(body)); s != "" && len(s) < 512 {
		return s
	}
	return status
}

// Probe reports whether GET /api/tags answers with a 2xx status.
func Probe(ctx context.Context, hc *http.Client, baseURL string) bool {
	return Do(ctx, hc, baseURL, core.OpListModels, nil, nil) == nil
}
