package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Guard enforces a wall-clock deadline around every script entry point.
//
// The deadline is cooperative: gopher-lua polls the state's context at safe
// points (function calls and loop back-edges) and aborts the running call
// once the deadline passes.
//
// The deadline is strictly per-call. Set installs it, Clear removes it on
// every path, so a later unrelated call always starts fresh. A zero timeout
// disables the guard entirely.
type Guard struct {
	L       *lua.LState
	timeout time.Duration
	cancel  context.CancelFunc
}

// NewGuard creates a guard for the given state. A timeout of zero disables
// deadline enforcement.
func NewGuard(L *lua.LState, timeout time.Duration) *Guard {
	return &Guard{L: L, timeout: timeout}
}

// Timeout returns the configured timeout.
func (g *Guard) Timeout() time.Duration {
	return g.timeout
}

// SetDeadline installs now+timeout as the current deadline. No-op when the
// guard is disabled.
func (g *Guard) SetDeadline() {
	if g.timeout <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	g.cancel = cancel
	g.L.SetContext(ctx)
}

// ClearDeadline removes the current deadline.
func (g *Guard) ClearDeadline() {
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	g.L.RemoveContext()
}

// Do brackets fn with SetDeadline/ClearDeadline, including on error paths,
// and normalizes engine deadline aborts into ErrExecutionTimeout.
func (g *Guard) Do(fn func() error) error {
	g.SetDeadline()
	defer g.ClearDeadline()

	err := fn()
	if err != nil && isDeadlineExceeded(err) {
		return fmt.Errorf("%w: %v", ErrExecutionTimeout, err)
	}
	return err
}

// isDeadlineExceeded recognizes the engine's deadline abort. gopher-lua
// surfaces the context error through its own error type, so the message is
// checked as well as the error chain.
func isDeadlineExceeded(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(err.Error(), context.DeadlineExceeded.Error())
}
