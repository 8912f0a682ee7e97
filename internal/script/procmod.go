package script

import (
	"syscall"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/luaflow/internal/proc"
)

// procHandleTypeName is the metatable name for process handle userdata.
const procHandleTypeName = "luaflow.process"

// procHandle is the script-facing view of one spawned process.
type procHandle struct {
	id   uint64
	pid  int
	text bool
}

// installProcModule registers the proc module and the process handle
// metatable.
func (r *Runtime) installProcModule() {
	L := r.state.L

	methods := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"wait":        r.handleWait,
		"kill":        r.handleKill,
		"write":       r.handleWrite,
		"close_stdin": r.handleCloseStdin,
		"is_closing":  r.handleIsClosing,
	})

	mt := L.NewTypeMetatable(procHandleTypeName)
	L.SetField(mt, "__index", L.NewFunction(func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		key := L.CheckString(2)
		if key == "pid" {
			h, ok := ud.Value.(*procHandle)
			if !ok {
				L.ArgError(1, "expected process handle")
				return 0
			}
			L.Push(lua.LNumber(h.pid))
			return 1
		}
		L.Push(methods.RawGetString(key))
		return 1
	}))

	r.state.RegisterModule("proc", map[string]lua.LGFunction{
		"spawn": r.luaSpawn,
	})
}

// checkHandle extracts the process handle from the method receiver.
func (r *Runtime) checkHandle(L *lua.LState) *procHandle {
	ud := L.CheckUserData(1)
	h, ok := ud.Value.(*procHandle)
	if !ok {
		L.ArgError(1, "expected process handle")
		return nil
	}
	return h
}

// luaSpawn implements proc.spawn(command [, options]).
//
// command is either an argv table or a string run through the shell.
// On success it returns a process handle, or the pid when the detach
// option is set. On spawn failure it returns nil plus an error string and
// no resources are retained.
func (r *Runtime) luaSpawn(L *lua.LState) int {
	var command []string
	switch arg := L.CheckAny(1).(type) {
	case lua.LString:
		command = []string{"/bin/sh", "-c", string(arg)}
	case *lua.LTable:
		arg.ForEach(func(_, v lua.LValue) {
			command = append(command, v.String())
		})
	default:
		L.ArgError(1, "command must be a string or a table of strings")
		return 0
	}

	opts := proc.Options{Text: true}
	var registered []int
	if optTable := L.OptTable(2, nil); optTable != nil {
		opts, registered = r.parseSpawnOptions(optTable)
	}

	id, pid, err := r.procs.Spawn(command, opts)
	if err != nil {
		// Spawn failed synchronously; undo callback registrations.
		for _, cb := range registered {
			r.registry.Unregister(cb)
		}
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}

	if opts.Detach {
		L.Push(lua.LNumber(pid))
		return 1
	}

	ud := L.NewUserData()
	ud.Value = &procHandle{id: id, pid: pid, text: opts.Text}
	L.SetMetatable(ud, L.GetTypeMetatable(procHandleTypeName))
	L.Push(ud)
	return 1
}

// parseSpawnOptions converts a spawn options table into proc.Options,
// registering any callback functions it finds. The returned slice lists
// the registered ids so a failed spawn can undo them.
func (r *Runtime) parseSpawnOptions(t *lua.LTable) (proc.Options, []int) {
	opts := proc.Options{Text: true}
	var registered []int

	if cwd, ok := r.bridge.GetTableString(t, "cwd"); ok {
		opts.Dir = cwd
	}
	if env, ok := r.bridge.GetTableStringMap(t, "env"); ok {
		opts.Env = env
	}
	if clear, ok := r.bridge.GetTableBool(t, "clear_env"); ok {
		opts.ClearEnv = clear
	}
	if text, ok := r.bridge.GetTableBool(t, "text"); ok {
		opts.Text = text
	}
	if capture, ok := r.bridge.GetTableBool(t, "capture_stdout"); ok {
		opts.CaptureStdout = capture
	}
	if capture, ok := r.bridge.GetTableBool(t, "capture_stderr"); ok {
		opts.CaptureStderr = capture
	}

	// stdin: "closed", "pipe", or a literal data string.
	if stdin, ok := r.bridge.GetTableString(t, "stdin"); ok {
		switch stdin {
		case "closed":
			opts.Stdin = proc.StdinClosed
		case "pipe":
			opts.Stdin = proc.StdinPipe
		default:
			opts.Stdin = proc.StdinData
			opts.StdinData = []byte(stdin)
		}
	}

	// stdout/stderr accept a bool (capture flag) or a callable, which
	// forces capture on and registers a streaming callback.
	switch v := t.RawGetString("stdout").(type) {
	case lua.LBool:
		opts.CaptureStdout = bool(v)
	case *lua.LFunction:
		opts.CaptureStdout = true
		opts.StdoutCallback = r.registry.Register(v)
		registered = append(registered, opts.StdoutCallback)
	}
	switch v := t.RawGetString("stderr").(type) {
	case lua.LBool:
		opts.CaptureStderr = bool(v)
	case *lua.LFunction:
		opts.CaptureStderr = true
		opts.StderrCallback = r.registry.Register(v)
		registered = append(registered, opts.StderrCallback)
	}

	if fn, ok := r.bridge.GetTableFunc(t, "on_exit"); ok {
		opts.ExitCallback = r.registry.Register(fn)
		registered = append(registered, opts.ExitCallback)
	}

	if detach, ok := r.bridge.GetTableBool(t, "detach"); ok {
		opts.Detach = detach
	}

	return opts, registered
}

// handleWait implements handle:wait([timeout_ms]) -> result table.
func (r *Runtime) handleWait(L *lua.LState) int {
	h := r.checkHandle(L)

	var timeout time.Duration
	if ms := L.OptInt(2, 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	res, err := r.procs.Wait(h.id, timeout)
	if err != nil {
		L.RaiseError("wait: %s", err.Error())
		return 0
	}
	L.Push(r.resultToTable(res, h.text))
	return 1
}

// handleKill implements handle:kill([signal]) -> bool. The default signal
// is the graceful terminate; names and numbers are accepted.
func (r *Runtime) handleKill(L *lua.LState) int {
	h := r.checkHandle(L)

	sig := syscall.SIGTERM
	switch v := L.Get(2).(type) {
	case *lua.LNilType:
	case lua.LNumber:
		sig = syscall.Signal(int(v))
	case lua.LString:
		parsed, err := proc.ParseSignal(string(v))
		if err != nil {
			L.ArgError(2, err.Error())
			return 0
		}
		sig = parsed
	default:
		L.ArgError(2, "signal must be a number or name")
		return 0
	}

	ok, err := r.procs.Kill(h.id, sig)
	if err != nil {
		L.RaiseError("kill: %s", err.Error())
		return 0
	}
	L.Push(lua.LBool(ok))
	return 1
}

// handleWrite implements handle:write(data) -> true | nil, error.
func (r *Runtime) handleWrite(L *lua.LState) int {
	h := r.checkHandle(L)
	data := L.CheckString(2)

	if err := r.procs.WriteStdin(h.id, []byte(data)); err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// handleCloseStdin implements handle:close_stdin() -> true. Idempotent.
func (r *Runtime) handleCloseStdin(L *lua.LState) int {
	h := r.checkHandle(L)

	if err := r.procs.CloseStdin(h.id); err != nil {
		L.RaiseError("close_stdin: %s", err.Error())
		return 0
	}
	L.Push(lua.LTrue)
	return 1
}

// handleIsClosing implements handle:is_closing() -> bool.
func (r *Runtime) handleIsClosing(L *lua.LState) int {
	h := r.checkHandle(L)

	closing, err := r.procs.IsClosing(h.id)
	if err != nil {
		L.RaiseError("is_closing: %s", err.Error())
		return 0
	}
	L.Push(lua.LBool(closing))
	return 1
}
