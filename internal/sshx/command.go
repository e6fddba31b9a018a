// internal/sshx/command.go
package sshx

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"sessionbridge-service/internal/pkg/xerrors"
)

const pollInterval = 100 * time.Millisecond

// execSession is the slice of an SSH exec channel that RunCommand drives.
type execSession interface {
	Start(cmd string) error
	Wait() error
	Close() error
	attachOutput(w io.Writer)
}

type sshExecSession struct {
	*ssh.Session
}

func (s sshExecSession) attachOutput(w io.Writer) {
	s.Stdout = w
	s.Stderr = w
}

// CommandResult carries combined stdout+stderr and the exit status of a
// synchronous command. ExitCode -1 means the command timed out; Output then
// holds whatever was produced up to the deadline plus a timeout marker.
type CommandResult struct {
	Output   string
	ExitCode int
	Duration time.Duration
}

// lockedBuffer collects output from the session's stdout/stderr writers,
// which run on the transport's goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// RunCommand executes cmd over the wrapper's transport and waits up to
// timeout for it to finish, checking on a fixed poll interval. Timing out is
// a normal result, not an error: the caller gets the partial output and exit
// code -1.
func RunCommand(w *Wrapper, cmd string, timeout time.Duration) (CommandResult, error) {
	sess, err := w.newSession()
	if err != nil {
		return CommandResult{}, xerrors.Wrap(xerrors.ErrRemoteOperation,
			fmt.Sprintf("open exec channel: %v", err))
	}
	defer sess.Close()

	out := &lockedBuffer{}
	sess.attachOutput(out)

	start := time.Now()
	if err := sess.Start(cmd); err != nil {
		return CommandResult{}, xerrors.Wrap(xerrors.ErrRemoteOperation,
			fmt.Sprintf("start command: %v", err))
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()

	for {
		select {
		case waitErr := <-done:
			elapsed := time.Since(start)
			output := out.String()
			if waitErr == nil {
				return CommandResult{Output: output, ExitCode: 0, Duration: elapsed}, nil
			}
			var exitErr *ssh.ExitError
			if errors.As(waitErr, &exitErr) {
				return CommandResult{Output: output, ExitCode: exitErr.ExitStatus(), Duration: elapsed}, nil
			}
			return CommandResult{}, xerrors.Wrap(xerrors.ErrRemoteOperation,
				fmt.Sprintf("command failed: %v", waitErr))

		case <-deadline.C:
			// Kill the channel, keep the partial output.
			sess.Close()
			marker := fmt.Sprintf("\n--- command timed out after %s ---", timeout)
			return CommandResult{
				Output:   out.String() + marker,
				ExitCode: -1,
				Duration: time.Since(start),
			}, nil

		case <-tick.C:
			// Output accumulates in the background writers; the tick just
			// bounds how long we sleep between checks.
		}
	}
}
