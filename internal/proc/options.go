package proc

import (
	"os"
	"sort"
	"strings"
)

// StdinMode selects how the child's standard input is wired.
type StdinMode int

const (
	// StdinClosed gives the child no standard input.
	StdinClosed StdinMode = iota

	// StdinData writes Options.StdinData to the child once and then closes
	// the pipe. No further writes are accepted.
	StdinData

	// StdinPipe keeps an interactive pipe open for WriteStdin/CloseStdin.
	StdinPipe
)

// managedEnvVars are re-applied after a requested environment clear so
// children can still reach the compositor's sockets. Caller-supplied
// overrides take precedence over these.
var managedEnvVars = []string{"WAYLAND_DISPLAY", "DISPLAY"}

// Options configures a spawned process.
type Options struct {
	// Dir is the working directory. Empty means inherit.
	Dir string

	// Env holds environment overrides, applied last.
	Env map[string]string

	// ClearEnv drops the host environment before applying managed
	// variables and Env.
	ClearEnv bool

	// Stdin selects the stdin wiring mode.
	Stdin StdinMode

	// StdinData is the one-shot payload for StdinData mode.
	StdinData []byte

	// CaptureStdout and CaptureStderr accumulate output into the final
	// result.
	CaptureStdout bool
	CaptureStderr bool

	// Text selects line-buffered text reads over fixed-size binary reads.
	Text bool

	// StdoutCallback, StderrCallback, and ExitCallback are registry ids of
	// script callables. Zero means no callback. A stream callback implies
	// a pipe for that stream.
	StdoutCallback int
	StderrCallback int
	ExitCallback   int

	// Detach drops the process state as soon as it finalizes; no handle
	// surface is kept for it.
	Detach bool
}

// wantsStdout reports whether a stdout pipe is needed.
func (o Options) wantsStdout() bool {
	return o.CaptureStdout || o.StdoutCallback != 0
}

// wantsStderr reports whether a stderr pipe is needed.
func (o Options) wantsStderr() bool {
	return o.CaptureStderr || o.StderrCallback != 0
}

// buildEnv composes the child environment. Order of application: host
// environment (unless cleared), compositor-managed variables, then caller
// overrides last so they take precedence.
func buildEnv(o Options) []string {
	env := make(map[string]string)

	if !o.ClearEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				env[kv[:i]] = kv[i+1:]
			}
		}
	} else {
		for _, name := range managedEnvVars {
			if v, ok := os.LookupEnv(name); ok {
				env[name] = v
			}
		}
	}

	for k, v := range o.Env {
		env[k] = v
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
