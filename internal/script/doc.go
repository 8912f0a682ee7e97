// Package script hosts the embedded Lua runtime and its cooperative
// scheduling machinery.
//
// The package wraps gopher-lua and adds everything the host needs to run
// script code one bounded slice at a time:
//
//   - State: a sandboxed Lua state (selective stdlib, dangerous loaders
//     removed)
//   - Guard: the execution deadline enforced around every script entry
//     point via the engine's cooperative context check
//   - Registry: opaque integer handles for script callables, so worker
//     messages can reference callbacks without crossing goroutine
//     boundaries with Lua values
//   - Scheduler: a bounded FIFO of deferred callables
//   - Timers: one-shot, interval, and cron-expression timers fired on the
//     cycle
//   - Runtime: ties the pieces to the process manager and drives one host
//     cycle at a time (timers, then scheduler, then process events)
//
// Everything in this package is confined to a single owning goroutine.
// gopher-lua's LState is not goroutine-safe, and neither are the Registry,
// Scheduler, or Timers; correctness rests on the discipline that only the
// owning goroutine touches them, not on locking.
package script
