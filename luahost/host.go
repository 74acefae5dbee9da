// Package luahost exposes a Bridge to Lua scripts running in a gopher-lua
// state. It installs a global Ollama table and a global ProcessCallbacks
// function that the embedding program calls once per tick.
//
// Callbacks receive (err, result): err is nil on success and a message
// starting with "Error: " on failure. All Lua code runs on the goroutine
// that owns the LState; background workers never touch it.
package luahost

import (
	"context"
	"time"

	"github.com/hupe1980/ollamabridge"
	"github.com/hupe1980/ollamabridge/api"
	"github.com/hupe1980/ollamabridge/core"
	"github.com/hupe1980/ollamabridge/engine"
	"github.com/hupe1980/ollamabridge/logging"
	"github.com/hupe1980/ollamabridge/operation"
	lua "github.com/yuin/gopher-lua"
)

const (
	// TableName is the global the API table is installed as.
	TableName = "Ollama"
	// DrainFunc is the global drain function.
	DrainFunc = "ProcessCallbacks"
	// ErrorHandler is the optional script-defined global that receives
	// callback failures.
	ErrorHandler = "ErrorNoHaltWithStack"

	errMissingCallback = "Callback function is required"
)

// Options configures a Host.
type Options struct {
	// Bridge options applied when the host builds its bridge. The error
	// reporter is always replaced by the host's own.
	Bridge []func(o *ollamabridge.Options)

	// Logger receives callback failures when the script defines no handler.
	Logger logging.Logger
}

// Host binds one Bridge to one Lua state.
type Host struct {
	L      *lua.LState
	bridge *ollamabridge.Bridge
	logger logging.Logger
}

// New installs the Ollama table and ProcessCallbacks into L.
func New(L *lua.LState, optFns ...func(o *Options)) *Host {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &Host{L: L, logger: opts.Logger}

	bridgeOpts := append([]func(o *ollamabridge.Options){}, opts.Bridge...)
	bridgeOpts = append(bridgeOpts, func(o *ollamabridge.Options) {
		if _, unset := o.Logger.(logging.NoOpLogger); unset {
			o.Logger = opts.Logger
		}
		o.ErrorReporter = h.reportError
	})
	h.bridge = ollamabridge.New(bridgeOpts...)

	tbl := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"SetConfig":          h.setConfig,
		"Generate":           h.generate,
		"Chat":               h.chat,
		"ListModels":         h.listModels,
		"IsRunning":          h.isRunning,
		"GetModelInfo":       h.getModelInfo,
		"IsModelAvailable":   h.isModelAvailable,
		"GenerateEmbeddings": h.generateEmbeddings,
		"GetRunningModels":   h.getRunningModels,
		"ChatCompletion":     h.chatCompletion,
		"Messages":           h.messages,
	})
	L.SetGlobal(TableName, tbl)
	L.SetGlobal(DrainFunc, L.NewFunction(func(*lua.LState) int {
		h.ProcessCallbacks()
		return 0
	}))

	return h
}

// Bridge returns the underlying bridge.
func (h *Host) Bridge() *ollamabridge.Bridge { return h.bridge }

// ProcessCallbacks delivers completed results to their Lua callbacks.
func (h *Host) ProcessCallbacks() engine.DrainReport { return h.bridge.Drain() }

// Close shuts the bridge down; see ollamabridge.Bridge.Close.
func (h *Host) Close(ctx context.Context) error { return h.bridge.Close(ctx) }

// reportError hands a callback failure to ErrorNoHaltWithStack when the
// script defines it, otherwise to the logger.
func (h *Host) reportError(hd core.Handle, kind core.OperationKind, err error) {
	if fn, ok := h.L.GetGlobal(ErrorHandler).(*lua.LFunction); ok {
		perr := h.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, lua.LString(err.Error()))
		if perr == nil {
			return
		}
		h.logger.Error("Error handler failed", "error", perr)
	}
	h.logger.Error("Lua callback failed", "handle", hd.String(), "kind", string(kind), "error", err)
}

// callback is the continuation wrapping a Lua function.
type callback struct {
	L  *lua.LState
	fn *lua.LFunction
}

func (c *callback) Resume(o core.Outcome) error {
	errArg, resArg := lua.LValue(lua.LNil), lua.LValue(lua.LNil)
	if o.OK() {
		resArg = toLua(c.L, o.Result)
	} else {
		errArg = lua.LString(o.ErrorMessage())
	}
	return c.L.CallByParam(lua.P{Fn: c.fn, NRet: 0, Protect: true}, errArg, resArg)
}

// checkCallback returns the callback at n or raises the standard error.
func checkCallback(L *lua.LState, n int) *callback {
	fn, ok := L.Get(n).(*lua.LFunction)
	if !ok {
		L.RaiseError(errMissingCallback)
	}
	return &callback{L: L, fn: fn}
}

// trailingCallback finds the callback either at n or, when optional
// arguments were omitted, at the last position.
func trailingCallback(L *lua.LState, n int) (*callback, int) {
	if top := L.GetTop(); top < n && top > 0 {
		if _, ok := L.Get(top).(*lua.LFunction); ok {
			return checkCallback(L, top), top
		}
	}
	return checkCallback(L, n), n
}

func raise(L *lua.LState, err error) int {
	L.RaiseError("%s", err.Error())
	return 0
}

func (h *Host) dispatched(L *lua.LState, _ core.Handle, err error) int {
	if err != nil {
		return raise(L, err)
	}
	return 0
}

// Ollama.SetConfig(url[, timeoutSeconds])
func (h *Host) setConfig(L *lua.LState) int {
	url := L.CheckString(1)
	var timeout []time.Duration
	if L.GetTop() >= 2 && L.Get(2) != lua.LNil {
		secs := float64(L.CheckNumber(2))
		timeout = append(timeout, time.Duration(secs*float64(time.Second)))
	}
	if err := h.bridge.SetConfig(url, timeout...); err != nil {
		return raise(L, err)
	}
	return 0
}

// Ollama.Generate(model, prompt[, system], cb)
func (h *Host) generate(L *lua.LState) int {
	model := L.CheckString(1)
	prompt := L.CheckString(2)
	cb, at := trailingCallback(L, 4)

	var optFns []func(o *operation.GenerateOptions)
	if at == 4 && L.Get(3) != lua.LNil {
		optFns = append(optFns, operation.WithSystem(L.CheckString(3)))
	}

	hd, err := h.bridge.Generate(model, prompt, cb, optFns...)
	return h.dispatched(L, hd, err)
}

// Ollama.Chat(model, messages, cb)
func (h *Host) chat(L *lua.LState) int {
	model := L.CheckString(1)
	msgs := checkMessages(L, 2)
	cb := checkCallback(L, 3)

	hd, err := h.bridge.Chat(model, msgs, cb)
	return h.dispatched(L, hd, err)
}

// Ollama.ListModels(cb)
func (h *Host) listModels(L *lua.LState) int {
	hd, err := h.bridge.ListModels(checkCallback(L, 1))
	return h.dispatched(L, hd, err)
}

// Ollama.IsRunning() -> bool
func (h *Host) isRunning(L *lua.LState) int {
	L.Push(lua.LBool(h.bridge.IsRunning()))
	return 1
}

// Ollama.GetModelInfo(model, cb)
func (h *Host) getModelInfo(L *lua.LState) int {
	model := L.CheckString(1)
	hd, err := h.bridge.GetModelInfo(model, checkCallback(L, 2))
	return h.dispatched(L, hd, err)
}

// Ollama.IsModelAvailable(model, cb)
func (h *Host) isModelAvailable(L *lua.LState) int {
	model := L.CheckString(1)
	hd, err := h.bridge.IsModelAvailable(model, checkCallback(L, 2))
	return h.dispatched(L, hd, err)
}

// Ollama.GenerateEmbeddings(model, input, cb) where input is a string or a
// list of strings.
func (h *Host) generateEmbeddings(L *lua.LState) int {
	model := L.CheckString(1)

	var inputs []string
	switch v := L.Get(2).(type) {
	case *lua.LTable:
		for i := 1; i <= v.Len(); i++ {
			if s, ok := v.RawGetInt(i).(lua.LString); ok {
				inputs = append(inputs, string(s))
			}
		}
	default:
		inputs = []string{L.CheckString(2)}
	}

	hd, err := h.bridge.GenerateEmbeddings(model, inputs, checkCallback(L, 3))
	return h.dispatched(L, hd, err)
}

// Ollama.GetRunningModels(cb)
func (h *Host) getRunningModels(L *lua.LState) int {
	hd, err := h.bridge.GetRunningModels(checkCallback(L, 1))
	return h.dispatched(L, hd, err)
}

// Ollama.ChatCompletion(model, messages, cb)
func (h *Host) chatCompletion(L *lua.LState) int {
	model := L.CheckString(1)
	msgs := checkMessages(L, 2)
	cb := checkCallback(L, 3)

	hd, err := h.bridge.ChatCompletion(model, msgs, cb)
	return h.dispatched(L, hd, err)
}

// Ollama.Messages(model, messages[, maxTokens], cb)
func (h *Host) messages(L *lua.LState) int {
	model := L.CheckString(1)
	msgs := checkMessages(L, 2)
	cb, at := trailingCallback(L, 4)

	var optFns []func(o *operation.CompatOptions)
	if at == 4 && L.Get(3) != lua.LNil {
		optFns = append(optFns, operation.WithMaxTokens(int64(L.CheckInt(3))))
	}

	hd, err := h.bridge.Messages(model, msgs, cb, optFns...)
	return h.dispatched(L, hd, err)
}

// checkMessages reads an array of {role=..., content=...} tables. Entries
// lacking either string field are skipped.
func checkMessages(L *lua.LState, n int) []api.Message {
	tbl, ok := L.Get(n).(*lua.LTable)
	if !ok {
		L.ArgError(n, "Second argument must be a table of messages")
		return nil
	}

	msgs := make([]api.Message, 0, tbl.Len())
	for i := 1; i <= tbl.Len(); i++ {
		entry, ok := tbl.RawGetInt(i).(*lua.LTable)
		if !ok {
			continue
		}
		role, rok := entry.RawGetString("role").(lua.LString)
		content, cok := entry.RawGetString("content").(lua.LString)
		if !rok || !cok {
			continue
		}
		msgs = append(msgs, api.Message{Role: string(role), Content: string(content)})
	}
	return msgs
}
