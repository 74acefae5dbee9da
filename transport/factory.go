// Package transport builds the HTTP and vendor SDK clients operations use to
// reach the server. Clients are cached per configuration version and rebuilt
// lazily after the configuration changes.
package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/hupe1980/ollamabridge/config"
	"github.com/hupe1980/ollamabridge/core"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"golang.org/x/net/http2"
)

// placeholderKey satisfies the SDKs' API key requirement; Ollama ignores it.
const placeholderKey = "ollama"

// Client is an immutable snapshot of everything an operation needs to talk to
// the server. In-flight operations keep using the snapshot they captured even
// after the configuration is replaced.
type Client struct {
	HTTP      *http.Client
	BaseURL   string
	Timeout   time.Duration
	Version   uint64
	OpenAI    openai.Client
	Anthropic anthropic.Client
}

// Options configures a Factory.
type Options struct {
	// RoundTripper overrides the transport of every built client. Tests use
	// it to inject failures.
	RoundTripper http.RoundTripper
}

// Factory lazily builds a Client for the current configuration version.
type Factory struct {
	store *config.Store
	rt    http.RoundTripper

	mu     sync.RWMutex
	client *Client
}

// NewFactory creates a factory reading settings from store.
func NewFactory(store *config.Store, optFns ...func(o *Options)) *Factory {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Factory{store: store, rt: opts.RoundTripper}
}

// Client returns the shared client, rebuilding it when the configuration
// version changed since it was built. A build failure is a
// *core.ResourceError.
func (f *Factory) Client() (*Client, error) {
	cfg, version := f.store.Get()

	f.mu.RLock()
	c := f.client
	f.mu.RUnlock()
	if c != nil && c.Version == version {
		return c, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client != nil && f.client.Version == version {
		return f.client, nil
	}

	c, err := f.build(cfg, version)
	if err != nil {
		return nil, &core.ResourceError{Resource: "http client", Err: err}
	}
	f.client = c
	return c, nil
}

func (f *Factory) build(cfg config.Config, version uint64) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rt := f.rt
	if rt == nil {
		tr, err := newTransport(cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		rt = tr
	}

	hc := &http.Client{Transport: rt, Timeout: cfg.Timeout}

	return &Client{
		HTTP:    hc,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Version: version,
		OpenAI: openai.NewClient(
			openaioption.WithBaseURL(cfg.BaseURL+"/v1/"),
			openaioption.WithAPIKey(placeholderKey),
			openaioption.WithHTTPClient(hc),
			openaioption.WithMaxRetries(0),
		),
		Anthropic: anthropic.NewClient(
			anthropicoption.WithBaseURL(cfg.BaseURL+"/"),
			anthropicoption.WithAPIKey(placeholderKey),
			anthropicoption.WithHTTPClient(hc),
			anthropicoption.WithMaxRetries(0),
		),
	}, nil
}

func newTransport(baseURL string) (*http.Transport, error) {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}
	if strings.HasPrefix(baseURL, "https://") {
		tr.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		if err := http2.ConfigureTransport(tr); err != nil {
			return nil, fmt.Errorf("configure http2: %w", err)
		}
	}
	return tr, nil
}
