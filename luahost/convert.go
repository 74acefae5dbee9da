package luahost

import (
	"github.com/hupe1980/ollamabridge/core"
	lua "github.com/yuin/gopher-lua"
)

// toLua converts a result into the value handed to a Lua callback.
func toLua(L *lua.LState, r core.Result) lua.LValue {
	switch v := r.(type) {
	case core.GenerateResult:
		t := L.NewTable()
		t.RawSetString("response", lua.LString(v.Response))
		t.RawSetString("model", lua.LString(v.Model))
		setTimings(t, v.Timings)
		return t

	case core.ChatResult:
		t := L.NewTable()
		t.RawSetString("content", lua.LString(v.Content))
		t.RawSetString("role", lua.LString(v.Role))
		t.RawSetString("model", lua.LString(v.Model))
		setTimings(t, v.Timings)
		return t

	case core.ModelList:
		t := L.CreateTable(len(v.Models), 0)
		for _, m := range v.Models {
			e := L.CreateTable(0, 4)
			e.RawSetString("name", lua.LString(m.Name))
			e.RawSetString("modified_at", lua.LString(m.ModifiedAt))
			e.RawSetString("size", lua.LNumber(m.Size))
			e.RawSetString("digest", lua.LString(m.Digest))
			t.Append(e)
		}
		return t

	case core.ModelDetails:
		t := L.CreateTable(0, 4)
		t.RawSetString("license", lua.LString(v.License))
		t.RawSetString("modelfile", lua.LString(v.Modelfile))
		t.RawSetString("parameters", lua.LString(v.Parameters))
		t.RawSetString("template", lua.LString(v.Template))
		return t

	case core.Availability:
		return lua.LBool(v.Available)

	case core.Embeddings:
		t := L.CreateTable(0, 2)
		t.RawSetString("model", lua.LString(v.Model))
		vecs := L.CreateTable(len(v.Vectors), 0)
		for _, vec := range v.Vectors {
			row := L.CreateTable(len(vec), 0)
			for _, f := range vec {
				row.Append(lua.LNumber(f))
			}
			vecs.Append(row)
		}
		t.RawSetString("embeddings", vecs)
		return t

	case core.RunningModelList:
		t := L.CreateTable(len(v.Models), 0)
		for _, m := range v.Models {
			e := L.CreateTable(0, 6)
			e.RawSetString("name", lua.LString(m.Name))
			e.RawSetString("model", lua.LString(m.Model))
			e.RawSetString("size", lua.LNumber(m.Size))
			e.RawSetString("digest", lua.LString(m.Digest))
			if m.ExpiresAt != "" {
				e.RawSetString("expires_at", lua.LString(m.ExpiresAt))
			}
			if m.SizeVRAM != 0 {
				e.RawSetString("size_vram", lua.LNumber(m.SizeVRAM))
			}
			t.Append(e)
		}
		return t

	case core.ChatCompletionResult:
		t := L.NewTable()
		t.RawSetString("id", lua.LString(v.ID))
		t.RawSetString("model", lua.LString(v.Model))
		t.RawSetString("content", lua.LString(v.Content))
		t.RawSetString("finish_reason", lua.LString(v.FinishReason))
		t.RawSetString("usage", usage(L, v.Usage))
		return t

	case core.MessagesResult:
		t := L.NewTable()
		t.RawSetString("id", lua.LString(v.ID))
		t.RawSetString("model", lua.LString(v.Model))
		t.RawSetString("content", lua.LString(v.Content))
		t.RawSetString("stop_reason", lua.LString(v.StopReason))
		t.RawSetString("usage", usage(L, v.Usage))
		return t
	}
	return lua.LNil
}

func usage(L *lua.LState, u core.TokenUsage) *lua.LTable {
	t := L.CreateTable(0, 2)
	t.RawSetString("prompt_tokens", lua.LNumber(u.PromptTokens))
	t.RawSetString("completion_tokens", lua.LNumber(u.CompletionTokens))
	return t
}

// setTimings adds the optional server durations in nanoseconds.
func setTimings(t *lua.LTable, tm core.Timings) {
	if tm.TotalDuration > 0 {
		t.RawSetString("total_duration", lua.LNumber(tm.TotalDuration.Nanoseconds()))
	}
	if tm.EvalCount > 0 {
		t.RawSetString("eval_count", lua.LNumber(tm.EvalCount))
	}
}
