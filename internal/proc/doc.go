// Package proc manages external OS processes spawned on behalf of scripts.
//
// The package is built around a single-consumer event model. A Manager owns
// all process state and must only be used from one goroutine (the same
// goroutine that runs script code). Each spawned process gets:
//
//   - one reader goroutine per captured output stream
//   - exactly one waiter goroutine that blocks on process completion
//
// Workers never touch Manager state. They communicate exclusively through a
// buffered multi-producer/single-consumer channel of immutable messages,
// which the Manager drains in bounded batches via ProcessEvents.
//
// A process finalizes only after both of its streams have reported closed
// and the OS exit status has been observed. This guarantees that all output
// is attributed (to capture buffers or streaming callbacks) before any exit
// callback becomes visible.
//
// Wait implements cooperative shutdown of uncooperative children: on
// timeout it sends SIGTERM, waits a fixed grace period, then escalates to
// SIGKILL and blocks until the process reports completion.
package proc
