package proc

import (
	"errors"
	"syscall"
	"testing"
	"time"
)

// drainUntil runs ProcessEvents until cond returns true or the deadline
// passes, collecting every pending callback seen along the way.
func drainUntil(t *testing.T, m *Manager, timeout time.Duration, cond func([]PendingCallback) bool) []PendingCallback {
	t.Helper()
	var all []PendingCallback
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		all = append(all, m.ProcessEvents()...)
		if cond(all) {
			return all
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v (saw %d callbacks)", timeout, len(all))
	return nil
}

func hasExit(pending []PendingCallback) bool {
	for _, p := range pending {
		if p.IsExit() {
			return true
		}
	}
	return false
}

func TestSpawnEmptyCommand(t *testing.T) {
	m := NewManager()
	_, _, err := m.Spawn(nil, Options{})
	if !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("expected ErrEmptyCommand, got %v", err)
	}
	if m.Count() != 0 {
		t.Errorf("failed spawn should not retain state, count = %d", m.Count())
	}
}

func TestSpawnBadExecutable(t *testing.T) {
	m := NewManager()
	_, _, err := m.Spawn([]string{"/nonexistent/definitely-not-here"}, Options{})
	if err == nil {
		t.Fatal("expected spawn error for missing executable")
	}
	if m.Count() != 0 {
		t.Errorf("failed spawn should not retain state, count = %d", m.Count())
	}
}

func TestSpawnEchoCaptured(t *testing.T) {
	m := NewManager()
	id, pid, err := m.Spawn([]string{"echo", "hello"}, Options{
		CaptureStdout: true,
		CaptureStderr: true,
		Text:          true,
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if pid <= 0 {
		t.Errorf("expected positive pid, got %d", pid)
	}

	res, err := m.Wait(id, 0)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Code == nil || *res.Code != 0 {
		t.Errorf("expected code 0, got %v", res.Code)
	}
	if res.Signal != nil {
		t.Errorf("expected nil signal, got %d", *res.Signal)
	}
	if string(res.Stdout) != "hello\n" {
		t.Errorf("stdout = %q, want %q", res.Stdout, "hello\n")
	}
	if len(res.Stderr) != 0 {
		t.Errorf("stderr = %q, want empty", res.Stderr)
	}
}

func TestSpawnShellExitCode(t *testing.T) {
	m := NewManager()
	id, _, err := m.Spawn([]string{"/bin/sh", "-c", "exit 42"}, Options{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	res, err := m.Wait(id, 0)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Code == nil || *res.Code != 42 {
		t.Errorf("expected code 42, got %v", res.Code)
	}
	if res.Signal != nil {
		t.Errorf("expected nil signal, got %d", *res.Signal)
	}
}

func TestWaitRepeatable(t *testing.T) {
	m := NewManager()
	id, _, err := m.Spawn([]string{"echo", "x"}, Options{CaptureStdout: true, Text: true})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	first, err := m.Wait(id, 0)
	if err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	second, err := m.Wait(id, 0)
	if err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if string(first.Stdout) != string(second.Stdout) {
		t.Errorf("repeated Wait returned different stdout: %q vs %q", first.Stdout, second.Stdout)
	}
}

func TestWaitTimeoutEscalation(t *testing.T) {
	if testing.Short() {
		t.Skip("escalation test sleeps through the grace period")
	}

	m := NewManager()
	// The child ignores SIGTERM, so only the SIGKILL escalation ends it.
	id, _, err := m.Spawn([]string{"/bin/sh", "-c", `trap "" TERM; sleep 60`}, Options{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	start := time.Now()
	res, err := m.Wait(id, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	elapsed := time.Since(start)

	if res.Signal == nil || *res.Signal != int(syscall.SIGKILL) {
		t.Errorf("expected SIGKILL signal result, got code=%v signal=%v", res.Code, res.Signal)
	}
	if res.Code != nil {
		t.Errorf("expected nil code when signaled, got %d", *res.Code)
	}
	if elapsed < termGracePeriod {
		t.Errorf("wait returned before grace period elapsed: %v", elapsed)
	}
}

func TestWaitTimeoutCooperativeTerm(t *testing.T) {
	m := NewManager()
	// The child honors SIGTERM, so escalation stops at the first stage.
	id, _, err := m.Spawn([]string{"sleep", "60"}, Options{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	res, err := m.Wait(id, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Signal == nil || *res.Signal != int(syscall.SIGTERM) {
		t.Errorf("expected SIGTERM signal result, got code=%v signal=%v", res.Code, res.Signal)
	}
}

func TestStdinOneShotData(t *testing.T) {
	m := NewManager()
	id, _, err := m.Spawn([]string{"cat"}, Options{
		Stdin:         StdinData,
		StdinData:     []byte("one-shot"),
		CaptureStdout: true,
		Text:          true,
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	// One-shot data marks stdin closed immediately.
	if err := m.WriteStdin(id, []byte("more")); !errors.Is(err, ErrStdinClosed) {
		t.Errorf("expected ErrStdinClosed after one-shot data, got %v", err)
	}

	res, err := m.Wait(id, 0)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if string(res.Stdout) != "one-shot" {
		t.Errorf("stdout = %q, want %q", res.Stdout, "one-shot")
	}
}

func TestStdinInteractivePipe(t *testing.T) {
	m := NewManager()
	id, _, err := m.Spawn([]string{"cat"}, Options{
		Stdin:         StdinPipe,
		CaptureStdout: true,
		Text:          true,
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := m.WriteStdin(id, []byte("line one\n")); err != nil {
		t.Fatalf("WriteStdin: %v", err)
	}
	if err := m.WriteStdin(id, []byte("line two\n")); err != nil {
		t.Fatalf("WriteStdin: %v", err)
	}
	if err := m.CloseStdin(id); err != nil {
		t.Fatalf("CloseStdin: %v", err)
	}
	// Idempotent.
	if err := m.CloseStdin(id); err != nil {
		t.Fatalf("second CloseStdin: %v", err)
	}
	if err := m.WriteStdin(id, []byte("late")); !errors.Is(err, ErrStdinClosed) {
		t.Errorf("expected ErrStdinClosed after close, got %v", err)
	}

	res, err := m.Wait(id, 0)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	want := "line one\nline two\n"
	if string(res.Stdout) != want {
		t.Errorf("stdout = %q, want %q", res.Stdout, want)
	}
}

func TestStdinClosedMode(t *testing.T) {
	m := NewManager()
	id, _, err := m.Spawn([]string{"cat"}, Options{Stdin: StdinClosed, CaptureStdout: true})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := m.WriteStdin(id, []byte("x")); !errors.Is(err, ErrStdinClosed) {
		t.Errorf("expected ErrStdinClosed, got %v", err)
	}
	if _, err := m.Wait(id, 0); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestUnknownHandle(t *testing.T) {
	m := NewManager()

	if err := m.WriteStdin(99, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("WriteStdin: expected ErrNotFound, got %v", err)
	}
	if err := m.CloseStdin(99); !errors.Is(err, ErrNotFound) {
		t.Errorf("CloseStdin: expected ErrNotFound, got %v", err)
	}
	if _, err := m.Kill(99, syscall.SIGTERM); !errors.Is(err, ErrNotFound) {
		t.Errorf("Kill: expected ErrNotFound, got %v", err)
	}
	if _, err := m.Wait(99, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("Wait: expected ErrNotFound, got %v", err)
	}
	if _, _, _, err := m.Remove(99); !errors.Is(err, ErrNotFound) {
		t.Errorf("Remove: expected ErrNotFound, got %v", err)
	}
	if _, err := m.IsClosing(99); !errors.Is(err, ErrNotFound) {
		t.Errorf("IsClosing: expected ErrNotFound, got %v", err)
	}
}

func TestExitCallbackAfterStreams(t *testing.T) {
	m := NewManager()
	id, _, err := m.Spawn([]string{"/bin/sh", "-c", "echo out; echo err 1>&2"}, Options{
		CaptureStdout:  true,
		CaptureStderr:  true,
		Text:           true,
		StdoutCallback: 11,
		StderrCallback: 12,
		ExitCallback:   13,
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	all := drainUntil(t, m, 5*time.Second, hasExit)

	exits := 0
	exitIndex := -1
	for i, p := range all {
		if p.HandleID != id {
			t.Errorf("callback for wrong handle: %d", p.HandleID)
		}
		if p.IsExit() {
			exits++
			exitIndex = i
			if p.CallbackID != 13 {
				t.Errorf("exit callback id = %d, want 13", p.CallbackID)
			}
		}
	}
	if exits != 1 {
		t.Fatalf("expected exactly one exit callback, got %d", exits)
	}
	for i, p := range all {
		if !p.IsExit() && i > exitIndex {
			t.Errorf("stream callback at %d delivered after exit at %d", i, exitIndex)
		}
	}

	exit := all[exitIndex]
	if string(exit.Exit.Stdout) != "out\n" {
		t.Errorf("exit stdout = %q, want %q", exit.Exit.Stdout, "out\n")
	}
	if string(exit.Exit.Stderr) != "err\n" {
		t.Errorf("exit stderr = %q, want %q", exit.Exit.Stderr, "err\n")
	}
}

func TestStreamCallbackWithoutExitCallback(t *testing.T) {
	m := NewManager()
	id, _, err := m.Spawn([]string{"echo", "only streams"}, Options{
		Text:           true,
		StdoutCallback: 21,
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	// Even without an exit callback the exit pending is emitted as the
	// cleanup trigger, carrying callback id 0.
	all := drainUntil(t, m, 5*time.Second, hasExit)
	for _, p := range all {
		if p.HandleID != id {
			t.Errorf("callback for wrong handle: %d", p.HandleID)
		}
		if p.IsExit() && p.CallbackID != 0 {
			t.Errorf("exit callback id = %d, want 0", p.CallbackID)
		}
	}
}

func TestHandleCorrelation(t *testing.T) {
	m := NewManager()
	idA, _, err := m.Spawn([]string{"echo", "alpha"}, Options{Text: true, StdoutCallback: 1, ExitCallback: 2})
	if err != nil {
		t.Fatalf("Spawn A: %v", err)
	}
	idB, _, err := m.Spawn([]string{"echo", "beta"}, Options{Text: true, StdoutCallback: 3, ExitCallback: 4})
	if err != nil {
		t.Fatalf("Spawn B: %v", err)
	}
	if idA == idB {
		t.Fatalf("handle ids must be unique, both %d", idA)
	}

	all := drainUntil(t, m, 5*time.Second, func(p []PendingCallback) bool {
		exits := 0
		for _, pc := range p {
			if pc.IsExit() {
				exits++
			}
		}
		return exits == 2
	})

	for _, p := range all {
		switch p.CallbackID {
		case 1:
			if p.HandleID != idA || string(p.Data) != "alpha\n" {
				t.Errorf("callback 1 got handle=%d data=%q", p.HandleID, p.Data)
			}
		case 3:
			if p.HandleID != idB || string(p.Data) != "beta\n" {
				t.Errorf("callback 3 got handle=%d data=%q", p.HandleID, p.Data)
			}
		case 2:
			if p.HandleID != idA {
				t.Errorf("exit callback 2 got handle %d, want %d", p.HandleID, idA)
			}
		case 4:
			if p.HandleID != idB {
				t.Errorf("exit callback 4 got handle %d, want %d", p.HandleID, idB)
			}
		}
	}
}

func TestKillDelivery(t *testing.T) {
	m := NewManager()
	id, _, err := m.Spawn([]string{"sleep", "60"}, Options{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	ok, err := m.Kill(id, syscall.SIGKILL)
	if err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if !ok {
		t.Error("expected signal delivery to succeed")
	}

	res, err := m.Wait(id, 0)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Signal == nil || *res.Signal != int(syscall.SIGKILL) {
		t.Errorf("expected SIGKILL result, got code=%v signal=%v", res.Code, res.Signal)
	}
}

func TestIsClosing(t *testing.T) {
	m := NewManager()
	id, _, err := m.Spawn([]string{"echo", "x"}, Options{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if _, err := m.Wait(id, 0); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	closing, err := m.IsClosing(id)
	if err != nil {
		t.Fatalf("IsClosing: %v", err)
	}
	if !closing {
		t.Error("expected IsClosing true after exit")
	}
}

func TestRemoveReturnsCallbackIDs(t *testing.T) {
	m := NewManager()
	id, _, err := m.Spawn([]string{"echo", "x"}, Options{
		StdoutCallback: 7, StderrCallback: 8, ExitCallback: 9,
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	so, se, ex, err := m.CallbackIDs(id)
	if err != nil {
		t.Fatalf("CallbackIDs: %v", err)
	}
	if so != 7 || se != 8 || ex != 9 {
		t.Errorf("CallbackIDs = (%d,%d,%d), want (7,8,9)", so, se, ex)
	}

	so, se, ex, err = m.Remove(id)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if so != 7 || se != 8 || ex != 9 {
		t.Errorf("Remove = (%d,%d,%d), want (7,8,9)", so, se, ex)
	}
	if m.Count() != 0 {
		t.Errorf("count after Remove = %d, want 0", m.Count())
	}
}

func TestDetachAutoRemoves(t *testing.T) {
	m := NewManager()
	_, _, err := m.Spawn([]string{"echo", "x"}, Options{Detach: true})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for m.Count() > 0 && time.Now().Before(deadline) {
		m.ProcessEvents()
		time.Sleep(5 * time.Millisecond)
	}
	if m.Count() != 0 {
		t.Errorf("detached process state was not removed, count = %d", m.Count())
	}
}

func TestEnvironmentComposition(t *testing.T) {
	t.Setenv("DISPLAY", ":9")
	t.Setenv("LUAFLOW_TEST_LEAK", "should-not-survive-clear")

	m := NewManager()
	id, _, err := m.Spawn(
		[]string{"/bin/sh", "-c", `printf "%s|%s|%s" "$FOO" "$DISPLAY" "$LUAFLOW_TEST_LEAK"`},
		Options{
			ClearEnv:      true,
			Env:           map[string]string{"FOO": "bar"},
			CaptureStdout: true,
			Text:          true,
		})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	res, err := m.Wait(id, 0)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := string(res.Stdout); got != "bar|:9|" {
		t.Errorf("environment = %q, want %q", got, "bar|:9|")
	}
}

func TestEnvironmentOverridesWin(t *testing.T) {
	t.Setenv("DISPLAY", ":9")

	m := NewManager()
	id, _, err := m.Spawn(
		[]string{"/bin/sh", "-c", `printf "%s" "$DISPLAY"`},
		Options{
			ClearEnv:      true,
			Env:           map[string]string{"DISPLAY": ":7"},
			CaptureStdout: true,
			Text:          true,
		})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	res, err := m.Wait(id, 0)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := string(res.Stdout); got != ":7" {
		t.Errorf("DISPLAY = %q, want %q (caller override must win)", got, ":7")
	}
}

func TestBinaryModeChunks(t *testing.T) {
	m := NewManager()
	// 10000 zero bytes forces multiple 4 KiB chunks in binary mode.
	id, _, err := m.Spawn(
		[]string{"/bin/sh", "-c", "head -c 10000 /dev/zero"},
		Options{CaptureStdout: true, Text: false},
	)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	res, err := m.Wait(id, 0)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(res.Stdout) != 10000 {
		t.Errorf("captured %d bytes, want 10000", len(res.Stdout))
	}
}
