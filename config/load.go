package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// HostConfig is the root configuration of the bundled host programs.
type HostConfig struct {
	// Ollama holds the connection settings applied to the bridge at startup.
	Ollama OllamaConfig `mapstructure:"ollama"`

	// Executor sizes the background worker pool.
	Executor ExecutorConfig `mapstructure:"executor"`

	// Liveness tunes the reachability cache.
	Liveness LivenessConfig `mapstructure:"liveness"`

	// Tick is the host poll interval; results are delivered once per tick.
	Tick time.Duration `mapstructure:"tick"`

	// Log holds logging configuration.
	Log LogConfig `mapstructure:"log"`
}

// OllamaConfig mirrors Config in file form.
type OllamaConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ExecutorConfig sizes the worker pool. One worker serializes all requests.
type ExecutorConfig struct {
	Workers int `mapstructure:"workers"`
}

// LivenessConfig tunes the reachability cache.
type LivenessConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`
	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DefaultHostConfig returns a HostConfig populated with defaults.
func DefaultHostConfig() *HostConfig {
	return &HostConfig{
		Ollama:   OllamaConfig{BaseURL: DefaultBaseURL, Timeout: DefaultTimeout},
		Executor: ExecutorConfig{Workers: 4},
		Liveness: LivenessConfig{TTL: 2 * time.Second},
		Tick:     50 * time.Millisecond,
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Filename:   "logs/ollamabridge.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from path (if non-empty), otherwise it searches
// common locations. Environment variables use the prefix OLLAMA_BRIDGE and
// `.`/`-` are replaced with `_`, e.g. OLLAMA_BRIDGE_OLLAMA_BASE_URL.
func Load(path string) (*HostConfig, error) {
	cfg := DefaultHostConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("OLLAMA_BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	v.SetDefault("ollama.base_url", cfg.Ollama.BaseURL)
	v.SetDefault("ollama.timeout", cfg.Ollama.Timeout)
	v.SetDefault("executor.workers", cfg.Executor.Workers)
	v.SetDefault("liveness.ttl", cfg.Liveness.TTL)
	v.SetDefault("tick", cfg.Tick)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if path == "" {
		path = os.Getenv("OLLAMA_BRIDGE_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ollamabridge")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".ollamabridge"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Connection returns the connection settings as a validated Config.
func (c *HostConfig) Connection() (Config, error) {
	cfg := Config{
		BaseURL: strings.TrimRight(strings.TrimSpace(c.Ollama.BaseURL), "/"),
		Timeout: c.Ollama.Timeout,
	}
	return cfg, cfg.Validate()
}

func (c *HostConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}
	if c.Executor.Workers <= 0 {
		return fmt.Errorf("invalid executor.workers: %d", c.Executor.Workers)
	}
	if c.Tick <= 0 {
		return fmt.Errorf("invalid tick: %s", c.Tick)
	}
	if c.Liveness.TTL <= 0 {
		return fmt.Errorf("invalid liveness.ttl: %s", c.Liveness.TTL)
	}
	if _, err := c.Connection(); err != nil {
		return err
	}
	return nil
}
