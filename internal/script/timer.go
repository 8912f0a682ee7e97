package script

import (
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	lua "github.com/yuin/gopher-lua"
)

// timerKind distinguishes timer re-arming behavior.
type timerKind uint8

const (
	timerOneShot timerKind = iota
	timerInterval
	timerCron
)

// timer is one armed entry. at is the next due instant.
type timer struct {
	id    int
	kind  timerKind
	at    time.Time
	every time.Duration
	sched cron.Schedule
	fn    *lua.LFunction
}

// Timers holds armed script timers and yields the due callables each host
// cycle. It performs no invocation itself; the Runtime fires the returned
// callables under the deadline guard.
//
// Confined to the owning goroutine; no locking.
type Timers struct {
	nextID int
	armed  []*timer
	now    func() time.Time
}

// TimersOption configures a Timers instance.
type TimersOption func(*Timers)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) TimersOption {
	return func(t *Timers) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTimers creates an empty timer set.
func NewTimers(opts ...TimersOption) *Timers {
	t := &Timers{now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// After arms a one-shot timer firing once d from now. Returns the timer id.
func (t *Timers) After(d time.Duration, fn *lua.LFunction) int {
	return t.arm(&timer{kind: timerOneShot, at: t.now().Add(d), fn: fn})
}

// Every arms a repeating timer firing every d.
func (t *Timers) Every(d time.Duration, fn *lua.LFunction) (int, error) {
	if d <= 0 {
		return 0, ErrInvalidInterval
	}
	return t.arm(&timer{kind: timerInterval, at: t.now().Add(d), every: d, fn: fn}), nil
}

// Cron arms a timer driven by a standard five-field cron expression.
func (t *Timers) Cron(expr string, fn *lua.LFunction) (int, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return 0, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return t.arm(&timer{kind: timerCron, at: sched.Next(t.now()), sched: sched, fn: fn}), nil
}

func (t *Timers) arm(tm *timer) int {
	t.nextID++
	tm.id = t.nextID
	t.armed = append(t.armed, tm)
	return tm.id
}

// Cancel disarms a timer. Returns false if the id is unknown or already
// fired.
func (t *Timers) Cancel(id int) bool {
	for i, tm := range t.armed {
		if tm.id == id {
			t.armed = append(t.armed[:i], t.armed[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of armed timers.
func (t *Timers) Len() int {
	return len(t.armed)
}

// Due returns up to max callables due at or before now, ordered by due
// time. Zero or negative max means no cap. Due timers beyond the cap stay
// armed untouched and surface on the next call, so one call never yields an
// unbounded list. One-shot timers that fire are disarmed; interval and cron
// timers re-arm relative to now, so a stalled host does not produce a burst
// of catch-up firings.
func (t *Timers) Due(now time.Time, max int) []*lua.LFunction {
	var due []*timer
	for _, tm := range t.armed {
		if !tm.at.After(now) {
			due = append(due, tm)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].at.Before(due[j].at)
	})
	if max > 0 && len(due) > max {
		due = due[:max]
	}

	fired := make(map[int]bool, len(due))
	fns := make([]*lua.LFunction, len(due))
	for i, tm := range due {
		fired[tm.id] = true
		fns[i] = tm.fn
	}

	remaining := t.armed[:0]
	for _, tm := range t.armed {
		if !fired[tm.id] {
			remaining = append(remaining, tm)
			continue
		}
		switch tm.kind {
		case timerInterval:
			tm.at = now.Add(tm.every)
			remaining = append(remaining, tm)
		case timerCron:
			tm.at = tm.sched.Next(now)
			remaining = append(remaining, tm)
		}
	}
	t.armed = remaining

	return fns
}
