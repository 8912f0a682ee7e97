package proc

import "fmt"

// Stream identifies one of a process's captured output streams.
type Stream uint8

const (
	// StreamStdout is the child's standard output.
	StreamStdout Stream = iota
	// StreamStderr is the child's standard error.
	StreamStderr
)

// String returns the stream name.
func (s Stream) String() string {
	switch s {
	case StreamStdout:
		return "stdout"
	case StreamStderr:
		return "stderr"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// msgKind tags a worker message.
type msgKind uint8

const (
	// msgChunk carries output bytes from a stream.
	msgChunk msgKind = iota
	// msgStreamClosed reports end-of-stream. Emitted exactly once per stream.
	msgStreamClosed
	// msgExit reports the OS wait result. Emitted exactly once per process.
	msgExit
	// msgError reports a stream read failure.
	msgError
)

// message is the unit of communication from worker goroutines to the
// Manager. Messages are produced by workers, handed over through the event
// channel, and never shared afterwards.
type message struct {
	id      uint64
	kind    msgKind
	stream  Stream
	data    []byte
	status  ExitStatus
	errText string
}

// ExitStatus describes how a process ended. Exactly one of Code and Signal
// is non-nil.
type ExitStatus struct {
	// Code is the exit code if the process exited normally.
	Code *int

	// Signal is the signal number if the process was killed by a signal.
	Signal *int
}

// Result is the final outcome of a spawned process, available once the
// process has finalized.
type Result struct {
	ExitStatus

	// Stdout holds captured standard output, if capture was requested.
	Stdout []byte

	// Stderr holds captured standard error, if capture was requested.
	Stderr []byte
}

// clone returns a deep copy of the result so callers cannot alias the
// Manager's buffers.
func (r *Result) clone() *Result {
	out := &Result{ExitStatus: r.ExitStatus}
	if r.Code != nil {
		c := *r.Code
		out.Code = &c
	}
	if r.Signal != nil {
		s := *r.Signal
		out.Signal = &s
	}
	out.Stdout = append([]byte(nil), r.Stdout...)
	out.Stderr = append([]byte(nil), r.Stderr...)
	return out
}

// PendingCallback is one unit of callback-dispatch work produced by
// draining process events. The Manager resolves messages into these; the
// invoking layer resolves CallbackID through its registry and calls the
// script function.
type PendingCallback struct {
	// CallbackID identifies the registered script callable.
	CallbackID int

	// HandleID identifies the process the callback belongs to.
	HandleID uint64

	// Data is the output chunk for stream callbacks. Nil for exit callbacks.
	Data []byte

	// Stream tags which stream produced Data.
	Stream Stream

	// Text reports whether the process runs in text mode, governing how
	// the invoking layer decodes Data and captured buffers.
	Text bool

	// Exit is the final result for exit callbacks, nil otherwise.
	Exit *Result

	// StdoutCB and StderrCB carry the process's stream callback ids on
	// exit pendings. Detached process state is dropped at finalization, so
	// the invoking layer needs the ids here to reclaim its registrations.
	StdoutCB int
	StderrCB int
}

// IsExit reports whether this is an exit callback.
func (p *PendingCallback) IsExit() bool {
	return p.Exit != nil
}
