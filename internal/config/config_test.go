package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "luaflow.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Errorf("missing file should yield defaults, got %+v", cfg)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
[runtime]
tick_ms = 25

[script]
path = "init.lua"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Runtime.TickMS != 25 {
		t.Errorf("TickMS = %d, want 25", cfg.Runtime.TickMS)
	}
	if cfg.Script.Path != "init.lua" {
		t.Errorf("Script.Path = %q", cfg.Script.Path)
	}
	// Unspecified values keep their defaults.
	def := Default()
	if cfg.Runtime.SchedulerCapacity != def.Runtime.SchedulerCapacity {
		t.Errorf("SchedulerCapacity = %d, want default %d",
			cfg.Runtime.SchedulerCapacity, def.Runtime.SchedulerCapacity)
	}
	if cfg.Log.Level != def.Log.Level {
		t.Errorf("Log.Level = %q, want default %q", cfg.Log.Level, def.Log.Level)
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	path := writeConfig(t, `[runtime`)
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"defaults", func(*Config) {}, nil},
		{"zero tick", func(c *Config) { c.Runtime.TickMS = 0 }, ErrInvalidTick},
		{"negative timeout", func(c *Config) { c.Runtime.ExecTimeoutMS = -1 }, ErrInvalidTimeout},
		{"zero timeout ok", func(c *Config) { c.Runtime.ExecTimeoutMS = 0 }, nil},
		{"zero capacity", func(c *Config) { c.Runtime.SchedulerCapacity = 0 }, ErrInvalidCapacity},
		{"zero flush limit", func(c *Config) { c.Runtime.FlushLimit = 0 }, ErrInvalidFlushLimit},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, ErrInvalidLogLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := Log{Level: tt.in}.SlogLevel()
		if err != nil {
			t.Errorf("SlogLevel(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := (Log{Level: "noisy"}).SlogLevel(); !errors.Is(err, ErrInvalidLogLevel) {
		t.Errorf("expected ErrInvalidLogLevel, got %v", err)
	}
}

func TestDurations(t *testing.T) {
	cfg := Default()
	cfg.Runtime.TickMS = 20
	cfg.Runtime.ExecTimeoutMS = 1500

	if got := cfg.Tick(); got != 20*time.Millisecond {
		t.Errorf("Tick = %v", got)
	}
	if got := cfg.ExecTimeout(); got != 1500*time.Millisecond {
		t.Errorf("ExecTimeout = %v", got)
	}
}

func TestDiff(t *testing.T) {
	base := Default()

	if dirty := Diff(base, base); len(dirty) != 0 {
		t.Errorf("identical configs reported dirty: %v", dirty)
	}

	changed := base
	changed.Runtime.TickMS = 99
	changed.Script.Path = "other.lua"
	dirty := Diff(base, changed)
	want := []Section{SectionRuntime, SectionScript}
	if !reflect.DeepEqual(dirty, want) {
		t.Errorf("Diff = %v, want %v", dirty, want)
	}
}
