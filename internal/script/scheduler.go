package script

import lua "github.com/yuin/gopher-lua"

// Scheduler defaults.
const (
	// DefaultSchedulerCapacity bounds the deferred-work queue. Schedule
	// fails rather than letting a misbehaving script grow it unbounded.
	DefaultSchedulerCapacity = 1000

	// DefaultFlushLimit bounds how many callables one flush executes.
	DefaultFlushLimit = 16
)

// Scheduler is a bounded FIFO queue of deferred script callables.
//
// Confined to the owning goroutine; no locking.
type Scheduler struct {
	queue    []*lua.LFunction
	capacity int
}

// NewScheduler creates a scheduler with the given capacity. Non-positive
// values fall back to the default.
func NewScheduler(capacity int) *Scheduler {
	if capacity <= 0 {
		capacity = DefaultSchedulerCapacity
	}
	return &Scheduler{capacity: capacity}
}

// Schedule appends a callable to the queue. Returns ErrQueueFull once the
// queue has reached capacity.
func (s *Scheduler) Schedule(fn *lua.LFunction) error {
	if len(s.queue) >= s.capacity {
		return ErrQueueFull
	}
	s.queue = append(s.queue, fn)
	return nil
}

// Len returns the number of queued callables.
func (s *Scheduler) Len() int {
	return len(s.queue)
}

// Capacity returns the queue capacity.
func (s *Scheduler) Capacity() int {
	return s.capacity
}

// Flush pops and invokes callables one at a time until the queue is empty
// or max callables have run. Work scheduled by an invoked callable is
// eligible within the same flush, up to the same cap; that chaining lets a
// script decompose long deferred work into cooperative steps without
// waiting for the next host cycle.
//
// Errors from invoked callables are collected, not propagated, and the
// failing callable still counts toward the executed total.
func (s *Scheduler) Flush(max int, invoke func(*lua.LFunction) error) (int, []error) {
	if max <= 0 {
		max = DefaultFlushLimit
	}

	executed := 0
	var errs []error
	for executed < max && len(s.queue) > 0 {
		fn := s.queue[0]
		s.queue = s.queue[1:]
		if len(s.queue) == 0 {
			s.queue = nil
		}

		if err := invoke(fn); err != nil {
			errs = append(errs, err)
		}
		executed++
	}
	return executed, errs
}
