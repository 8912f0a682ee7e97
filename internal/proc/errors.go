package proc

import "errors"

// Errors for process manager operations.
var (
	// ErrEmptyCommand is returned when Spawn is called with no command.
	ErrEmptyCommand = errors.New("empty command")

	// ErrNotFound is returned when an operation references an unknown handle id.
	ErrNotFound = errors.New("process not found")

	// ErrStdinClosed is returned when writing to a closed stdin.
	ErrStdinClosed = errors.New("stdin is closed")

	// ErrStdinNotPiped is returned when the process was not spawned with an
	// interactive stdin pipe.
	ErrStdinNotPiped = errors.New("stdin is not piped")

	// ErrUnknownSignal is returned when a signal name cannot be resolved.
	ErrUnknownSignal = errors.New("unknown signal")
)
