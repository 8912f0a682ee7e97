package proc

import (
	"fmt"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// ParseSignal resolves a signal given by name or number.
//
// Accepted forms: "SIGTERM", "TERM", "term", "15". Name lookup goes through
// the platform signal table, so any signal the OS knows is accepted.
func ParseSignal(s string) (syscall.Signal, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty name", ErrUnknownSignal)
	}

	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("%w: %d", ErrUnknownSignal, n)
		}
		return syscall.Signal(n), nil
	}

	name := strings.ToUpper(s)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}

	sig := unix.SignalNum(name)
	if sig == 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSignal, s)
	}
	return sig, nil
}
