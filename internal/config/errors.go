package config

import "errors"

var (
	// ErrInvalidTick indicates a non-positive cycle tick interval.
	ErrInvalidTick = errors.New("config: tick interval must be positive")

	// ErrInvalidTimeout indicates a negative execution timeout.
	ErrInvalidTimeout = errors.New("config: execution timeout must not be negative")

	// ErrInvalidCapacity indicates a non-positive scheduler capacity.
	ErrInvalidCapacity = errors.New("config: scheduler capacity must be positive")

	// ErrInvalidFlushLimit indicates a non-positive per-cycle flush limit.
	ErrInvalidFlushLimit = errors.New("config: flush limit must be positive")

	// ErrInvalidLogLevel indicates an unrecognized log level name.
	ErrInvalidLogLevel = errors.New("config: unknown log level")
)
