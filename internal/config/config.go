package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Runtime configures the script engine and its host cycle.
type Runtime struct {
	// TickMS is the host cycle interval in milliseconds.
	TickMS int `toml:"tick_ms"`

	// ExecTimeoutMS bounds any single script execution, in milliseconds.
	// Zero disables the deadline guard.
	ExecTimeoutMS int `toml:"exec_timeout_ms"`

	// SchedulerCapacity bounds the deferred-work queue.
	SchedulerCapacity int `toml:"scheduler_capacity"`

	// FlushLimit caps scheduled callables executed per cycle.
	FlushLimit int `toml:"flush_limit"`
}

// Script configures the entry script.
type Script struct {
	// Path is the Lua script evaluated at startup.
	Path string `toml:"path"`
}

// Log configures logging.
type Log struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level"`
}

// Config is the root configuration.
type Config struct {
	Runtime Runtime `toml:"runtime"`
	Script  Script  `toml:"script"`
	Log     Log     `toml:"log"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Runtime: Runtime{
			TickMS:            10,
			ExecTimeoutMS:     5000,
			SchedulerCapacity: 1000,
			FlushLimit:        16,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads a TOML configuration file. Values not present in the file
// keep their defaults. A missing file yields the defaults without error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the runtime cannot accept.
func (c Config) Validate() error {
	if c.Runtime.TickMS <= 0 {
		return ErrInvalidTick
	}
	if c.Runtime.ExecTimeoutMS < 0 {
		return ErrInvalidTimeout
	}
	if c.Runtime.SchedulerCapacity <= 0 {
		return ErrInvalidCapacity
	}
	if c.Runtime.FlushLimit <= 0 {
		return ErrInvalidFlushLimit
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// Tick returns the cycle interval as a duration.
func (c Config) Tick() time.Duration {
	return time.Duration(c.Runtime.TickMS) * time.Millisecond
}

// ExecTimeout returns the script deadline as a duration.
func (c Config) ExecTimeout() time.Duration {
	return time.Duration(c.Runtime.ExecTimeoutMS) * time.Millisecond
}

// SlogLevel maps the configured level name to a slog level.
func (l Log) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLogLevel, l.Level)
	}
}

// Section identifies a configuration section for change reporting.
type Section string

const (
	SectionRuntime Section = "runtime"
	SectionScript  Section = "script"
	SectionLog     Section = "log"
)

// Diff reports which sections differ between two configurations.
func Diff(old, new Config) []Section {
	var dirty []Section
	if old.Runtime != new.Runtime {
		dirty = append(dirty, SectionRuntime)
	}
	if old.Script != new.Script {
		dirty = append(dirty, SectionScript)
	}
	if old.Log != new.Log {
		dirty = append(dirty, SectionLog)
	}
	return dirty
}
