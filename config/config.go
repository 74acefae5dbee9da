// Package config holds the connection settings shared by every bridge
// operation and the file/env loader used by the bundled host programs.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hupe1980/ollamabridge/core"
)

const (
	// DefaultBaseURL is the address of a locally running Ollama server.
	DefaultBaseURL = "http://localhost:11434"
	// DefaultTimeout bounds every network round trip.
	DefaultTimeout = 30 * time.Second
)

// validate is a package-level singleton; building a validator is expensive.
var validate = validator.New()

// Config defines how the bridge reaches the upstream server.
type Config struct {
	// BaseURL is the scheme://host:port of the server, without trailing slash.
	BaseURL string `validate:"required,http_url"`

	// Timeout bounds a single request including reading the body.
	Timeout time.Duration `validate:"gt=0"`
}

// DefaultConfig is used until Set is called.
var DefaultConfig = Config{
	BaseURL: DefaultBaseURL,
	Timeout: DefaultTimeout,
}

// Validate checks the config and returns a *core.ConfigurationError on the
// first offending field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &core.ConfigurationError{
				Field: fe.Field(),
				Err:   fmt.Errorf("failed on %q rule (value %v)", fe.Tag(), fe.Value()),
			}
		}
		return &core.ConfigurationError{Err: err}
	}
	return nil
}

// Store is a single-writer, many-reader holder for the current Config. Every
// successful Set bumps a monotonically increasing version which downstream
// caches use to detect replacement.
type Store struct {
	mu      sync.RWMutex
	cfg     Config
	version uint64
}

// NewStore creates a store seeded with cfg, or DefaultConfig when cfg is nil.
func NewStore(cfg *Config) *Store {
	c := DefaultConfig
	if cfg != nil {
		c = *cfg
	}
	return &Store{cfg: c, version: 1}
}

// Set validates and replaces the current configuration. The timeout is
// optional; DefaultTimeout applies when omitted. On error the previous
// configuration stays in place.
func (s *Store) Set(address string, timeout ...time.Duration) error {
	cfg := Config{
		BaseURL: strings.TrimRight(strings.TrimSpace(address), "/"),
		Timeout: DefaultTimeout,
	}
	if len(timeout) > 0 {
		cfg.Timeout = timeout[0]
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.version++
	return nil
}

// Get returns a copy of the current configuration and its version.
func (s *Store) Get() (Config, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.version
}

// Version returns the current configuration version.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
