package script

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/luaflow/internal/proc"
)

// Runtime ties the Lua state, deadline guard, callback registry,
// scheduler, timers, and process manager into one cycle-driven engine.
//
// Runtime is confined to a single owning goroutine. The host calls
// RunCycle once per tick; everything else reaches script code through that
// same goroutine.
type Runtime struct {
	state    *State
	bridge   *Bridge
	guard    *Guard
	registry *Registry
	sched    *Scheduler
	timers   *Timers

	procs *proc.Manager

	flushLimit int
	now        func() time.Time
	log        *slog.Logger
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithExecTimeout sets the per-call deadline enforced by the guard.
// Zero disables the guard.
func WithExecTimeout(d time.Duration) RuntimeOption {
	return func(r *Runtime) {
		r.guard = NewGuard(r.state.L, d)
	}
}

// WithSchedulerCapacity sets the deferred-work queue capacity.
func WithSchedulerCapacity(n int) RuntimeOption {
	return func(r *Runtime) {
		r.sched = NewScheduler(n)
	}
}

// WithFlushLimit sets the per-cycle cap for scheduled callables.
func WithFlushLimit(n int) RuntimeOption {
	return func(r *Runtime) {
		if n > 0 {
			r.flushLimit = n
		}
	}
}

// WithRuntimeLogger sets the runtime logger.
func WithRuntimeLogger(log *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		if log != nil {
			r.log = log
		}
	}
}

// WithRuntimeClock overrides the time source, for tests.
func WithRuntimeClock(now func() time.Time) RuntimeOption {
	return func(r *Runtime) {
		if now != nil {
			r.now = now
			r.timers = NewTimers(WithClock(now))
		}
	}
}

// NewRuntime creates a runtime and installs the script-facing modules
// (proc, sched, timer) into a fresh sandboxed state.
func NewRuntime(opts ...RuntimeOption) *Runtime {
	state := NewState()
	r := &Runtime{
		state:      state,
		bridge:     NewBridge(state.L),
		guard:      NewGuard(state.L, 0),
		registry:   NewRegistry(),
		sched:      NewScheduler(DefaultSchedulerCapacity),
		timers:     NewTimers(),
		flushLimit: DefaultFlushLimit,
		now:        time.Now,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.procs = proc.NewManager(proc.WithLogger(r.log))

	r.installProcModule()
	r.installSchedModule()
	r.installTimerModule()

	return r
}

// Close shuts the runtime down and releases the Lua state.
func (r *Runtime) Close() {
	r.state.Close()
}

// State returns the underlying Lua state wrapper.
func (r *Runtime) State() *State { return r.state }

// Registry returns the callback registry.
func (r *Runtime) Registry() *Registry { return r.registry }

// Scheduler returns the deferred-work scheduler.
func (r *Runtime) Scheduler() *Scheduler { return r.sched }

// Timers returns the timer set.
func (r *Runtime) Timers() *Timers { return r.timers }

// Manager returns the process manager.
func (r *Runtime) Manager() *proc.Manager { return r.procs }

// DoFile evaluates a script file under the deadline guard.
func (r *Runtime) DoFile(path string) error {
	return r.guard.Do(func() error {
		return r.state.DoFile(path)
	})
}

// DoString evaluates script source under the deadline guard.
func (r *Runtime) DoString(code string) error {
	return r.guard.Do(func() error {
		return r.state.DoString(code)
	})
}

// CycleStats reports what one host cycle executed.
type CycleStats struct {
	// TimersFired counts due timer callables invoked.
	TimersFired int

	// ScheduledExecuted counts scheduler callables invoked, including
	// failed ones.
	ScheduledExecuted int

	// ProcessEventsExecuted counts process pending callbacks dispatched.
	ProcessEventsExecuted int

	// Errors aggregates callback failures. Nothing here aborts a cycle.
	Errors []error
}

// RunCycle runs one bounded host cycle: due timers first, then the
// scheduler flush, then process events.
//
// The ordering is a contract. Timers may schedule work that must be
// eligible for the same cycle's flush, and process callbacks should
// observe the most recently flushed script state.
func (r *Runtime) RunCycle() CycleStats {
	var stats CycleStats

	for _, fn := range r.timers.Due(r.now(), r.flushLimit) {
		if err := r.invoke(fn); err != nil {
			stats.Errors = append(stats.Errors, fmt.Errorf("timer: %w", err))
		}
		stats.TimersFired++
	}

	executed, errs := r.sched.Flush(r.flushLimit, func(fn *lua.LFunction) error {
		return r.invoke(fn)
	})
	stats.ScheduledExecuted = executed
	for _, err := range errs {
		stats.Errors = append(stats.Errors, fmt.Errorf("scheduled: %w", err))
	}

	for _, pending := range r.procs.ProcessEvents() {
		if err := r.dispatch(pending); err != nil {
			stats.Errors = append(stats.Errors, fmt.Errorf("process callback: %w", err))
		}
		stats.ProcessEventsExecuted++
	}

	return stats
}

// invoke calls a script function under the deadline guard with panic
// recovery. Arguments are pushed as-is; no return values are collected.
func (r *Runtime) invoke(fn *lua.LFunction, args ...lua.LValue) error {
	return r.guard.Do(func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("lua panic: %v", rec)
			}
		}()
		L := r.state.L
		L.Push(fn)
		for _, arg := range args {
			L.Push(arg)
		}
		return L.PCall(len(args), 0, nil)
	})
}

// dispatch resolves one pending process callback through the registry and
// invokes it. Exit callbacks also trigger the one-time cleanup of the
// process's three callback registrations.
func (r *Runtime) dispatch(p proc.PendingCallback) error {
	fn := r.registry.Get(p.CallbackID)

	var err error
	switch {
	case fn != nil && p.IsExit():
		err = r.invoke(fn, r.resultToTable(p.Exit, p.Text))
	case fn != nil:
		err = r.invoke(fn, lua.LString(decodeChunk(p.Data, p.Text)))
	case p.CallbackID != 0:
		r.log.Warn("pending callback has no registered callable",
			"callback", p.CallbackID, "handle", p.HandleID)
	}

	if p.IsExit() {
		r.cleanupProcess(p)
	}
	return err
}

// cleanupProcess unregisters a finalized process's callback ids. The ids
// ride on the exit pending rather than being looked up from manager state,
// which is already gone for detached processes.
func (r *Runtime) cleanupProcess(p proc.PendingCallback) {
	r.registry.Unregister(p.StdoutCB)
	r.registry.Unregister(p.StderrCB)
	r.registry.Unregister(p.CallbackID)
}

// resultToTable builds the script-facing result record:
// {code, signal, stdout, stderr}. Exactly one of code and signal is set.
func (r *Runtime) resultToTable(res *proc.Result, text bool) *lua.LTable {
	rec := map[string]any{
		"stdout": decodeChunk(res.Stdout, text),
		"stderr": decodeChunk(res.Stderr, text),
	}
	if res.Code != nil {
		rec["code"] = *res.Code
	}
	if res.Signal != nil {
		rec["signal"] = *res.Signal
	}
	return r.bridge.ToLuaValue(rec).(*lua.LTable)
}

// decodeChunk applies text-mode decoding: invalid UTF-8 sequences are
// replaced. Binary mode passes bytes through untouched.
func decodeChunk(data []byte, text bool) string {
	if !text {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}
