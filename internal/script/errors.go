package script

import "errors"

// Errors for script runtime operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("script state is closed")

	// ErrExecutionTimeout is returned when the deadline guard aborts a
	// script call. The "timeout" marker distinguishes it from ordinary
	// script errors.
	ErrExecutionTimeout = errors.New("script execution timeout")

	// ErrQueueFull is returned when the scheduler rejects new work.
	ErrQueueFull = errors.New("scheduler queue is full")

	// ErrInvalidInterval is returned for non-positive timer intervals.
	ErrInvalidInterval = errors.New("timer interval must be positive")
)
