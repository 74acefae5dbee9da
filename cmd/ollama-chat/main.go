// Command ollama-chat is a terminal chat client. It drives the bridge from the
// bubbletea update loop: every tick drains completed requests, so replies are
// applied on the same goroutine that renders the UI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hupe1980/ollamabridge"
	"github.com/hupe1980/ollamabridge/config"
	"github.com/hupe1980/ollamabridge/logging"
)

func main() {
	cfgPath := flag.String("config", "", "path to config file (yaml)")
	model := flag.String("model", "llama3", "model to chat with")
	system := flag.String("system", "", "optional system prompt")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	conn, err := cfg.Connection()
	if err != nil {
		fatalf("connection settings: %v", err)
	}

	// the TUI owns the terminal; log to files only
	if !hasFileOutput(cfg.Log) {
		cfg.Log.Outputs = []string{cfg.Log.Rotation.Filename}
		cfg.Log.Rotation.Enable = true
	}
	zl, err := logging.NewZapLogger(cfg.Log)
	if err != nil {
		fatalf("logger: %v", err)
	}
	logger := logging.NewZapAdapter(zl)
	defer func() { _ = logger.Sync() }()

	bridge := ollamabridge.New(
		ollamabridge.WithWorkers(cfg.Executor.Workers),
		ollamabridge.WithLivenessTTL(cfg.Liveness.TTL),
		ollamabridge.WithLogger(logger),
		func(o *ollamabridge.Options) { o.Connection = conn },
	)

	m := newChatModel(bridge, *model, *system, cfg.Tick)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		fatalf("ui: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := bridge.Close(ctx); err != nil {
		logger.Warn("Shutdown incomplete", "error", err)
	}
}

func hasFileOutput(c config.LogConfig) bool {
	for _, o := range c.Outputs {
		if o != "stdout" && o != "stderr" {
			return true
		}
	}
	return false
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
