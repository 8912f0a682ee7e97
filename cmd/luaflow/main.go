// Package main is the entry point for the luaflow script host.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/luaflow/internal/config"
	"github.com/dshills/luaflow/internal/script"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.tickMS > 0 {
		cfg.Runtime.TickMS = opts.tickMS
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	level, _ := cfg.Log.SlogLevel()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).
		With("session", uuid.NewString())
	slog.SetDefault(log)

	scriptPath := cfg.Script.Path
	if flag.NArg() > 0 {
		scriptPath = flag.Arg(0)
	}
	if scriptPath == "" {
		fmt.Fprintln(os.Stderr, "Error: no script given (argument or script.path in config)")
		return 1
	}

	rt := script.NewRuntime(
		script.WithExecTimeout(cfg.ExecTimeout()),
		script.WithSchedulerCapacity(cfg.Runtime.SchedulerCapacity),
		script.WithFlushLimit(cfg.Runtime.FlushLimit),
		script.WithRuntimeLogger(log),
	)
	defer rt.Close()

	log.Info("starting", "version", version, "script", scriptPath, "tick", cfg.Tick())

	if err := rt.DoFile(scriptPath); err != nil {
		log.Error("script failed", "path", scriptPath, "error", err)
		return 1
	}

	// Live reload of the runtime-tunable configuration.
	tick := make(chan time.Duration, 1)
	if opts.configPath != "" {
		watcher, err := config.NewWatcher(opts.configPath, cfg, config.WithWatcherLogger(log))
		if err != nil {
			log.Warn("config watch unavailable", "error", err)
		} else {
			defer watcher.Close()
			watcher.OnReload(func(r config.Reload) {
				for _, s := range r.Dirty {
					if s == config.SectionRuntime {
						select {
						case tick <- r.Config.Tick():
						default:
						}
					}
				}
			})
		}
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Tick())
	defer ticker.Stop()

	for {
		select {
		case sig := <-signals:
			log.Info("shutting down", "signal", sig.String())
			return 0

		case d := <-tick:
			ticker.Reset(d)
			log.Info("tick interval updated", "tick", d)

		case <-ticker.C:
			stats := rt.RunCycle()
			for _, err := range stats.Errors {
				log.Warn("cycle error", "error", err)
			}
			if opts.oneshot && idle(rt, stats) {
				log.Info("all work drained, exiting")
				return 0
			}
		}
	}
}

// idle reports whether nothing remains to run: no armed timers, no queued
// work, and no tracked processes.
func idle(rt *script.Runtime, stats script.CycleStats) bool {
	if stats.TimersFired > 0 || stats.ScheduledExecuted > 0 || stats.ProcessEventsExecuted > 0 {
		return false
	}
	return rt.Timers().Len() == 0 && rt.Scheduler().Len() == 0 && rt.Manager().Count() == 0
}

type options struct {
	configPath string
	logLevel   string
	tickMS     int
	oneshot    bool
}

func parseFlags() options {
	var opts options
	var showVersion bool

	flag.StringVar(&opts.configPath, "config", "luaflow.toml", "Path to configuration file")
	flag.StringVar(&opts.configPath, "c", "luaflow.toml", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.IntVar(&opts.tickMS, "tick", 0, "Cycle interval in milliseconds (overrides config)")
	flag.BoolVar(&opts.oneshot, "oneshot", false, "Exit when all timers, deferred work, and processes finish")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "luaflow - Lua script host with process and timer scheduling\n\n")
		fmt.Fprintf(os.Stderr, "Usage: luaflow [options] [script.lua]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  luaflow init.lua              Run a script\n")
		fmt.Fprintf(os.Stderr, "  luaflow -oneshot task.lua     Run until all work drains\n")
		fmt.Fprintf(os.Stderr, "  luaflow -c app.toml           Use an explicit config file\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("luaflow %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	return opts
}
