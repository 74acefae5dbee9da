package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"
)

// Request is a request recorded by FakeOllama.
type Request struct {
	Method string
	Path   string
	Body   map[string]any
}

// FakeOllama is an httptest server answering a configurable subset of the
// Ollama API. Unconfigured paths answer 404 with an Ollama style error body.
// Example:
//
//	srv := testutil.NewFakeOllama(t).
//	    JSON("/api/generate", map[string]any{"model": "llama3:latest", "response": "hi"}).
//	    Start()
type FakeOllama struct {
	t        testingT
	mu       sync.Mutex
	routes   map[string]http.HandlerFunc
	requests []Request
	delay    time.Duration
	hits     atomic.Int64
	server   *httptest.Server
}

type testingT interface {
	Helper()
	Cleanup(func())
}

// NewFakeOllama creates a builder; call Start to launch the server.
func NewFakeOllama(t testingT) *FakeOllama {
	return &FakeOllama{t: t, routes: map[string]http.HandlerFunc{}}
}

// JSON answers path with status 200 and v encoded as JSON (chainable).
func (f *FakeOllama) JSON(path string, v any) *FakeOllama {
	return f.Status(path, http.StatusOK, v)
}

// Status answers path with the given status and JSON body (chainable).
func (f *FakeOllama) Status(path string, status int, v any) *FakeOllama {
	return f.Handle(path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	})
}

// Raw answers path with status 200 and the literal body (chainable).
func (f *FakeOllama) Raw(path, body string) *FakeOllama {
	return f.Handle(path, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, body)
	})
}

// Handle installs a custom handler for path (chainable).
func (f *FakeOllama) Handle(path string, h http.HandlerFunc) *FakeOllama {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[path] = h
	return f
}

// Delay makes every response wait d before being written (chainable).
func (f *FakeOllama) Delay(d time.Duration) *FakeOllama {
	f.delay = d
	return f
}

// Tags installs a /api/tags response listing the given model names (chainable).
func (f *FakeOllama) Tags(names ...string) *FakeOllama {
	models := make([]map[string]any, 0, len(names))
	for _, n := range names {
		models = append(models, map[string]any{
			"name":        n,
			"model":       n,
			"modified_at": "2024-05-01T10:00:00Z",
			"size":        4661224676,
			"digest":      "sha256:" + n,
		})
	}
	return f.JSON("/api/tags", map[string]any{"models": models})
}

// Start launches the server; it is closed automatically on test cleanup.
func (f *FakeOllama) Start() *FakeOllama {
	f.t.Helper()
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	f.t.Cleanup(f.server.Close)
	return f
}

// URL returns the server base address.
func (f *FakeOllama) URL() string { return f.server.URL }

// Hits returns the number of requests served.
func (f *FakeOllama) Hits() int { return int(f.hits.Load()) }

// Requests returns a copy of the recorded requests.
func (f *FakeOllama) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}

func (f *FakeOllama) serve(w http.ResponseWriter, r *http.Request) {
	f.hits.Add(1)

	var body map[string]any
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
	}

	f.mu.Lock()
	f.requests = append(f.requests, Request{Method: r.Method, Path: r.URL.Path, Body: body})
	h, ok := f.routes[r.URL.Path]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-r.Context().Done():
			return
		}
	}

	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"not found"}`)
		return
	}
	h(w, r)
}

// Close shuts the server down before test cleanup runs.
func (f *FakeOllama) Close() { f.server.Close() }
