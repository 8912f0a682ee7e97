package script

import (
	"errors"
	"fmt"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func TestSchedulerFIFO(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	s := NewScheduler(10)

	fns := make([]*lua.LFunction, 3)
	for i := range fns {
		fns[i] = testFunc(t, L, fmt.Sprintf("f%d", i))
		if err := s.Schedule(fns[i]); err != nil {
			t.Fatalf("Schedule %d: %v", i, err)
		}
	}

	var order []*lua.LFunction
	executed, errs := s.Flush(16, func(fn *lua.LFunction) error {
		order = append(order, fn)
		return nil
	})
	if executed != 3 || len(errs) != 0 {
		t.Fatalf("Flush = (%d, %v), want (3, none)", executed, errs)
	}
	for i, fn := range fns {
		if order[i] != fn {
			t.Errorf("position %d: wrong callable (FIFO violated)", i)
		}
	}
}

func TestSchedulerQueueFull(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	s := NewScheduler(2)
	fn := testFunc(t, L, "f")

	if err := s.Schedule(fn); err != nil {
		t.Fatalf("Schedule 1: %v", err)
	}
	if err := s.Schedule(fn); err != nil {
		t.Fatalf("Schedule 2: %v", err)
	}
	if err := s.Schedule(fn); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}

func TestSchedulerFlushCap(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	s := NewScheduler(100)
	fn := testFunc(t, L, "f")

	// 20 callables with a per-cycle cap of 16: first flush executes 16,
	// second flush the remaining 4.
	for i := 0; i < 20; i++ {
		if err := s.Schedule(fn); err != nil {
			t.Fatalf("Schedule %d: %v", i, err)
		}
	}

	count := 0
	invoke := func(*lua.LFunction) error { count++; return nil }

	executed, _ := s.Flush(16, invoke)
	if executed != 16 {
		t.Errorf("first flush executed %d, want 16", executed)
	}
	executed, _ = s.Flush(16, invoke)
	if executed != 4 {
		t.Errorf("second flush executed %d, want 4", executed)
	}
	if count != 20 {
		t.Errorf("total executed %d, want 20 (each exactly once)", count)
	}
	if s.Len() != 0 {
		t.Errorf("queue not empty after flushes: %d", s.Len())
	}
}

func TestSchedulerChaining(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	s := NewScheduler(100)
	fn := testFunc(t, L, "f")

	// A callable that schedules a successor: the successor runs within
	// the same flush, up to the cap.
	depth := 0
	var invoke func(*lua.LFunction) error
	invoke = func(*lua.LFunction) error {
		depth++
		if depth < 5 {
			if err := s.Schedule(fn); err != nil {
				t.Fatalf("chained Schedule: %v", err)
			}
		}
		return nil
	}

	if err := s.Schedule(fn); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	executed, _ := s.Flush(16, invoke)
	if executed != 5 {
		t.Errorf("chained flush executed %d, want 5 within one flush", executed)
	}
}

func TestSchedulerChainingHitsCap(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	s := NewScheduler(1000)
	fn := testFunc(t, L, "f")

	// An endlessly self-rescheduling callable is stopped by the cap.
	invoke := func(*lua.LFunction) error {
		_ = s.Schedule(fn)
		return nil
	}
	if err := s.Schedule(fn); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	executed, _ := s.Flush(16, invoke)
	if executed != 16 {
		t.Errorf("flush executed %d, want cap of 16", executed)
	}
}

func TestSchedulerErrorsCollected(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	s := NewScheduler(10)
	fn := testFunc(t, L, "f")

	for i := 0; i < 3; i++ {
		if err := s.Schedule(fn); err != nil {
			t.Fatalf("Schedule %d: %v", i, err)
		}
	}

	calls := 0
	executed, errs := s.Flush(16, func(*lua.LFunction) error {
		calls++
		if calls == 2 {
			return errors.New("callable failed")
		}
		return nil
	})
	if executed != 3 {
		t.Errorf("failing callables must still count as executed: %d, want 3", executed)
	}
	if len(errs) != 1 {
		t.Errorf("errors collected = %d, want 1", len(errs))
	}
}
