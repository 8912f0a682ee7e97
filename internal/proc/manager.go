package proc

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Tunables for the event-drain and wait loops.
const (
	// eventChanSize bounds the worker message channel.
	eventChanSize = 256

	// maxEventsPerDrain bounds how many messages one drain pass consumes.
	maxEventsPerDrain = 16

	// termGracePeriod is the delay between SIGTERM and SIGKILL when a Wait
	// timeout escalates.
	termGracePeriod = 1000 * time.Millisecond

	// waitPollInterval is the sleep between Wait poll attempts.
	waitPollInterval = 10 * time.Millisecond
)

// procState is the per-process record. It belongs exclusively to the
// Manager's owning goroutine.
type procState struct {
	pid int

	stdin       *os.File
	stdinClosed bool

	text          bool
	captureStdout bool
	captureStderr bool

	stdoutBuf bytes.Buffer
	stderrBuf bytes.Buffer

	stdoutCb int
	stderrCb int
	exitCb   int

	stdoutDone bool
	stderrDone bool

	pendingExit *ExitStatus
	final       *Result

	detach bool
}

// Manager owns all process state and converts worker messages into
// pending callbacks.
//
// Manager is NOT safe for concurrent use. All methods must be called from
// the single goroutine that also runs script code; worker goroutines only
// ever touch the event channel.
type Manager struct {
	events  chan message
	procs   map[uint64]*procState
	pending []PendingCallback
	nextID  uint64
	log     *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for worker I/O errors and lifecycle
// events.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager creates an empty process manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		events: make(chan message, eventChanSize),
		procs:  make(map[uint64]*procState),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Count returns the number of tracked processes.
func (m *Manager) Count() int {
	return len(m.procs)
}

// Spawn starts command with the given options and begins supervising it.
// It returns the new handle id and OS pid. On failure no state is retained
// and no goroutines are started.
func (m *Manager) Spawn(command []string, opts Options) (uint64, int, error) {
	if len(command) == 0 {
		return 0, 0, ErrEmptyCommand
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = buildEnv(opts)

	// childEnds are the descriptors that belong to the child; the parent
	// closes them right after a successful start so stream EOF tracks the
	// child's lifetime, and the waiter's blocking Wait never races the
	// readers.
	var childEnds []*os.File
	var parentEnds []*os.File
	closeAll := func(files []*os.File) {
		for _, f := range files {
			_ = f.Close()
		}
	}

	st := &procState{
		text:          opts.Text,
		captureStdout: opts.CaptureStdout,
		captureStderr: opts.CaptureStderr,
		stdoutCb:      opts.StdoutCallback,
		stderrCb:      opts.StderrCallback,
		exitCb:        opts.ExitCallback,
		detach:        opts.Detach,
	}

	var stdinW *os.File
	switch opts.Stdin {
	case StdinClosed:
		st.stdinClosed = true
	case StdinData, StdinPipe:
		r, w, err := os.Pipe()
		if err != nil {
			return 0, 0, fmt.Errorf("stdin pipe: %w", err)
		}
		cmd.Stdin = r
		childEnds = append(childEnds, r)
		parentEnds = append(parentEnds, w)
		stdinW = w
	}

	var stdoutR, stderrR *os.File
	if opts.wantsStdout() {
		r, w, err := os.Pipe()
		if err != nil {
			closeAll(childEnds)
			closeAll(parentEnds)
			return 0, 0, fmt.Errorf("stdout pipe: %w", err)
		}
		cmd.Stdout = w
		childEnds = append(childEnds, w)
		parentEnds = append(parentEnds, r)
		stdoutR = r
	} else {
		st.stdoutDone = true
	}
	if opts.wantsStderr() {
		r, w, err := os.Pipe()
		if err != nil {
			closeAll(childEnds)
			closeAll(parentEnds)
			return 0, 0, fmt.Errorf("stderr pipe: %w", err)
		}
		cmd.Stderr = w
		childEnds = append(childEnds, w)
		parentEnds = append(parentEnds, r)
		stderrR = r
	} else {
		st.stderrDone = true
	}

	if err := cmd.Start(); err != nil {
		closeAll(childEnds)
		closeAll(parentEnds)
		return 0, 0, fmt.Errorf("spawn %s: %w", command[0], err)
	}
	closeAll(childEnds)

	m.nextID++
	id := m.nextID
	st.pid = cmd.Process.Pid
	m.procs[id] = st

	if stdoutR != nil {
		if st.text {
			go readLines(id, StreamStdout, stdoutR, m.events)
		} else {
			go readChunks(id, StreamStdout, stdoutR, m.events)
		}
	}
	if stderrR != nil {
		if st.text {
			go readLines(id, StreamStderr, stderrR, m.events)
		} else {
			go readChunks(id, StreamStderr, stderrR, m.events)
		}
	}
	go waitProcess(id, cmd, m.events)

	switch opts.Stdin {
	case StdinData:
		st.stdinClosed = true
		data := append([]byte(nil), opts.StdinData...)
		go func(w *os.File) {
			_, _ = w.Write(data)
			_ = w.Close()
		}(stdinW)
	case StdinPipe:
		st.stdin = stdinW
	}

	m.log.Debug("spawned process",
		"handle", id, "pid", st.pid, "command", command[0], "detach", st.detach)

	return id, st.pid, nil
}

// WriteStdin writes data to a process's interactive stdin pipe. It fails
// closed: once stdin has been marked closed no further writes are accepted.
func (m *Manager) WriteStdin(id uint64, data []byte) error {
	st, ok := m.procs[id]
	if !ok {
		return ErrNotFound
	}
	if st.stdinClosed {
		return ErrStdinClosed
	}
	if st.stdin == nil {
		return ErrStdinNotPiped
	}
	if _, err := st.stdin.Write(data); err != nil {
		return fmt.Errorf("write stdin: %w", err)
	}
	return nil
}

// CloseStdin closes a process's stdin pipe. Closing twice is not an error.
func (m *Manager) CloseStdin(id uint64) error {
	st, ok := m.procs[id]
	if !ok {
		return ErrNotFound
	}
	if st.stdinClosed {
		return nil
	}
	st.stdinClosed = true
	if st.stdin != nil {
		_ = st.stdin.Close()
		st.stdin = nil
	}
	return nil
}

// Kill sends a raw signal to the process. The boolean reports whether the
// signal delivery syscall succeeded, not whether the process has exited.
func (m *Manager) Kill(id uint64, sig syscall.Signal) (bool, error) {
	st, ok := m.procs[id]
	if !ok {
		return false, ErrNotFound
	}
	err := syscall.Kill(st.pid, sig)
	return err == nil, nil
}

// IsClosing reports whether the process has begun shutting down: an exit
// status has been observed, pending or final.
func (m *Manager) IsClosing(id uint64) (bool, error) {
	st, ok := m.procs[id]
	if !ok {
		return false, ErrNotFound
	}
	return st.pendingExit != nil || st.final != nil, nil
}

// Pid returns the process's OS pid.
func (m *Manager) Pid(id uint64) (int, error) {
	st, ok := m.procs[id]
	if !ok {
		return 0, ErrNotFound
	}
	return st.pid, nil
}

// Wait blocks until the process finalizes and returns a copy of its final
// result. It makes progress by repeatedly draining the event channel and
// sleeping briefly between attempts.
//
// If timeout is positive and elapses first, Wait sends SIGTERM, waits the
// fixed grace period, re-checks, escalates to SIGKILL, and then blocks
// indefinitely until the final result appears.
func (m *Manager) Wait(id uint64, timeout time.Duration) (*Result, error) {
	st, ok := m.procs[id]
	if !ok {
		return nil, ErrNotFound
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		m.drain(maxEventsPerDrain)
		if st.final != nil {
			return st.final.clone(), nil
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			deadline = time.Time{}
			m.escalate(st)
			continue
		}
		time.Sleep(waitPollInterval)
	}
}

// escalate drives the terminate -> grace -> kill shutdown of an
// uncooperative child. The caller keeps polling for the final result.
func (m *Manager) escalate(st *procState) {
	m.log.Debug("wait timeout, sending SIGTERM", "pid", st.pid)
	_ = syscall.Kill(st.pid, syscall.SIGTERM)

	graceEnd := time.Now().Add(termGracePeriod)
	for time.Now().Before(graceEnd) {
		m.drain(maxEventsPerDrain)
		if st.final != nil || st.pendingExit != nil {
			return
		}
		time.Sleep(waitPollInterval)
	}

	m.drain(maxEventsPerDrain)
	if st.final == nil && st.pendingExit == nil {
		m.log.Debug("grace period elapsed, sending SIGKILL", "pid", st.pid)
		_ = syscall.Kill(st.pid, syscall.SIGKILL)
	}
}

// ProcessEvents drains up to a fixed number of worker messages and returns
// the pending callbacks they produced, including any accumulated by Wait's
// internal drains.
func (m *Manager) ProcessEvents() []PendingCallback {
	m.drain(maxEventsPerDrain)
	pending := m.pending
	m.pending = nil
	return pending
}

// drain consumes up to max messages from the event channel without
// blocking.
func (m *Manager) drain(max int) int {
	n := 0
	for n < max {
		select {
		case msg := <-m.events:
			m.route(msg)
			n++
		default:
			return n
		}
	}
	return n
}

// route applies one worker message to its process state.
func (m *Manager) route(msg message) {
	st, ok := m.procs[msg.id]
	if !ok {
		// State was removed; late messages are dropped.
		return
	}

	switch msg.kind {
	case msgChunk:
		switch msg.stream {
		case StreamStdout:
			if st.captureStdout {
				st.stdoutBuf.Write(msg.data)
			}
			if st.stdoutCb != 0 {
				m.pending = append(m.pending, PendingCallback{
					CallbackID: st.stdoutCb,
					HandleID:   msg.id,
					Data:       msg.data,
					Stream:     StreamStdout,
					Text:       st.text,
				})
			}
		case StreamStderr:
			if st.captureStderr {
				st.stderrBuf.Write(msg.data)
			}
			if st.stderrCb != 0 {
				m.pending = append(m.pending, PendingCallback{
					CallbackID: st.stderrCb,
					HandleID:   msg.id,
					Data:       msg.data,
					Stream:     StreamStderr,
					Text:       st.text,
				})
			}
		}

	case msgStreamClosed:
		if msg.stream == StreamStdout {
			st.stdoutDone = true
		} else {
			st.stderrDone = true
		}
		m.finalize(msg.id, st)

	case msgExit:
		status := msg.status
		st.pendingExit = &status
		m.finalize(msg.id, st)

	case msgError:
		m.log.Warn("stream read error",
			"handle", msg.id, "stream", msg.stream.String(), "error", msg.errText)
	}
}

// finalize transitions a process to its terminal state. It fires at most
// once, and only after both streams have closed and an exit status exists,
// so exit callbacks never precede buffered output.
func (m *Manager) finalize(id uint64, st *procState) {
	if st.final != nil || st.pendingExit == nil || !st.stdoutDone || !st.stderrDone {
		return
	}

	st.final = &Result{
		ExitStatus: *st.pendingExit,
		Stdout:     append([]byte(nil), st.stdoutBuf.Bytes()...),
		Stderr:     append([]byte(nil), st.stderrBuf.Bytes()...),
	}

	if st.stdin != nil {
		_ = st.stdin.Close()
		st.stdin = nil
		st.stdinClosed = true
	}

	// The exit pending is also the cleanup trigger for the invoking layer,
	// so it is emitted whenever any callback id is registered even if the
	// exit callback itself is absent.
	if st.exitCb != 0 || st.stdoutCb != 0 || st.stderrCb != 0 {
		m.pending = append(m.pending, PendingCallback{
			CallbackID: st.exitCb,
			HandleID:   id,
			Text:       st.text,
			Exit:       st.final.clone(),
			StdoutCB:   st.stdoutCb,
			StderrCB:   st.stderrCb,
		})
	}

	if st.detach {
		delete(m.procs, id)
	}
}

// CallbackIDs returns the process's registered callback ids (stdout,
// stderr, exit) without removing its state.
func (m *Manager) CallbackIDs(id uint64) (stdout, stderr, exit int, err error) {
	st, ok := m.procs[id]
	if !ok {
		return 0, 0, 0, ErrNotFound
	}
	return st.stdoutCb, st.stderrCb, st.exitCb, nil
}

// Remove drops the process state and returns its callback ids so the
// invoking layer can unregister them. Pending stdin pipes are closed.
func (m *Manager) Remove(id uint64) (stdout, stderr, exit int, err error) {
	st, ok := m.procs[id]
	if !ok {
		return 0, 0, 0, ErrNotFound
	}
	if st.stdin != nil {
		_ = st.stdin.Close()
	}
	delete(m.procs, id)
	return st.stdoutCb, st.stderrCb, st.exitCb, nil
}
