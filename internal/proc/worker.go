package proc

import (
	"bufio"
	"io"
	"os/exec"
	"syscall"
)

// readChunkSize is the read size for binary-mode streams.
const readChunkSize = 4096

// readLines reads a stream line by line (terminators included) and pushes
// each line as a chunk message. On end-of-stream it emits exactly one
// stream-closed message. A read error emits an error message and still
// emits the closed message so finalization is never starved.
func readLines(id uint64, stream Stream, r io.ReadCloser, events chan<- message) {
	defer r.Close()

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			events <- message{id: id, kind: msgChunk, stream: stream, data: []byte(line)}
		}
		if err != nil {
			if err != io.EOF {
				events <- message{id: id, kind: msgError, stream: stream, errText: err.Error()}
			}
			events <- message{id: id, kind: msgStreamClosed, stream: stream}
			return
		}
	}
}

// readChunks reads a stream in fixed-size binary chunks. Same termination
// discipline as readLines.
func readChunks(id uint64, stream Stream, r io.ReadCloser, events chan<- message) {
	defer r.Close()

	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			events <- message{id: id, kind: msgChunk, stream: stream, data: chunk}
		}
		if err != nil {
			if err != io.EOF {
				events <- message{id: id, kind: msgError, stream: stream, errText: err.Error()}
			}
			events <- message{id: id, kind: msgStreamClosed, stream: stream}
			return
		}
	}
}

// waitProcess performs the single blocking OS wait for a process and emits
// exactly one exit message. It never retries.
func waitProcess(id uint64, cmd *exec.Cmd, events chan<- message) {
	err := cmd.Wait()
	events <- message{id: id, kind: msgExit, status: exitStatusFromError(err)}
}

// exitStatusFromError converts a Wait error into an ExitStatus. Exactly one
// of Code and Signal is populated.
func exitStatusFromError(err error) ExitStatus {
	if err == nil {
		code := 0
		return ExitStatus{Code: &code}
	}

	if ee, ok := err.(*exec.ExitError); ok {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				sig := int(ws.Signal())
				return ExitStatus{Signal: &sig}
			}
			code := ws.ExitStatus()
			return ExitStatus{Code: &code}
		}
		code := ee.ExitCode()
		return ExitStatus{Code: &code}
	}

	// Wait failed for a reason other than a non-zero exit.
	code := -1
	return ExitStatus{Code: &code}
}
