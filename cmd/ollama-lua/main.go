// Command ollama-lua runs a Lua script against an Ollama server. The script
// sees the global Ollama table; results are delivered once per tick, after
// which the script's optional global Think function is called.
//
// Usage:
//
//	ollama-lua [-config ollamabridge.yaml] [-keep-alive] script.lua
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hupe1980/ollamabridge"
	"github.com/hupe1980/ollamabridge/config"
	"github.com/hupe1980/ollamabridge/logging"
	"github.com/hupe1980/ollamabridge/luahost"
	lua "github.com/yuin/gopher-lua"
)

const thinkFunc = "Think"

func main() {
	cfgPath := flag.String("config", "", "path to config file (yaml)")
	keepAlive := flag.Bool("keep-alive", false, "keep ticking after all callbacks were delivered")
	shutdown := flag.Duration("shutdown-timeout", 5*time.Second, "how long to wait for in-flight requests on exit")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: ollama-lua [flags] script.lua")
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	conn, err := cfg.Connection()
	if err != nil {
		fatalf("connection settings: %v", err)
	}

	zl, err := logging.NewZapLogger(cfg.Log)
	if err != nil {
		fatalf("logger: %v", err)
	}
	logger := logging.NewZapAdapter(zl)
	defer func() { _ = logger.Sync() }()

	L := lua.NewState()
	defer L.Close()

	host := luahost.New(L, func(o *luahost.Options) {
		o.Logger = logger
		o.Bridge = append(o.Bridge,
			ollamabridge.WithWorkers(cfg.Executor.Workers),
			ollamabridge.WithLivenessTTL(cfg.Liveness.TTL),
			ollamabridge.WithLogger(logger),
			func(o *ollamabridge.Options) { o.Connection = conn },
		)
	})

	if err := L.DoFile(flag.Arg(0)); err != nil {
		fatalf("run script: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(cfg.Tick)
	defer ticker.Stop()

	logger.Info("Host loop started", "tick", cfg.Tick, "base_url", conn.BaseURL)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			host.ProcessCallbacks()

			think, hasThink := L.GetGlobal(thinkFunc).(*lua.LFunction)
			if hasThink {
				if err := L.CallByParam(lua.P{Fn: think, NRet: 0, Protect: true}); err != nil {
					logger.Error("Think failed", "error", err)
				}
			}

			if !*keepAlive && !hasThink && host.Bridge().Pending() == 0 {
				break loop
			}
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), *shutdown)
	defer cancel()
	if err := host.Close(sctx); err != nil {
		logger.Warn("Shutdown incomplete", "error", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
