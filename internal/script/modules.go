package script

import (
	"time"

	lua "github.com/yuin/gopher-lua"
)

// installSchedModule registers the sched module.
//
//	sched.defer(fn) -> true | nil, error
func (r *Runtime) installSchedModule() {
	r.state.RegisterModule("sched", map[string]lua.LGFunction{
		"defer": func(L *lua.LState) int {
			fn := L.CheckFunction(1)
			if err := r.sched.Schedule(fn); err != nil {
				L.Push(lua.LNil)
				L.Push(lua.LString(err.Error()))
				return 2
			}
			L.Push(lua.LTrue)
			return 1
		},
	})
}

// installTimerModule registers the timer module.
//
//	timer.after(ms, fn) -> id
//	timer.every(ms, fn) -> id
//	timer.cron(expr, fn) -> id | nil, error
//	timer.cancel(id) -> bool
func (r *Runtime) installTimerModule() {
	r.state.RegisterModule("timer", map[string]lua.LGFunction{
		"after": func(L *lua.LState) int {
			ms := L.CheckInt(1)
			fn := L.CheckFunction(2)
			id := r.timers.After(time.Duration(ms)*time.Millisecond, fn)
			L.Push(lua.LNumber(id))
			return 1
		},
		"every": func(L *lua.LState) int {
			ms := L.CheckInt(1)
			fn := L.CheckFunction(2)
			id, err := r.timers.Every(time.Duration(ms)*time.Millisecond, fn)
			if err != nil {
				L.ArgError(1, err.Error())
				return 0
			}
			L.Push(lua.LNumber(id))
			return 1
		},
		"cron": func(L *lua.LState) int {
			expr := L.CheckString(1)
			fn := L.CheckFunction(2)
			id, err := r.timers.Cron(expr, fn)
			if err != nil {
				L.Push(lua.LNil)
				L.Push(lua.LString(err.Error()))
				return 2
			}
			L.Push(lua.LNumber(id))
			return 1
		},
		"cancel": func(L *lua.LState) int {
			id := L.CheckInt(1)
			L.Push(lua.LBool(r.timers.Cancel(id)))
			return 1
		},
	})
}
