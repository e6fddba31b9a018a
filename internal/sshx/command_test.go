package sshx

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionbridge-service/internal/pkg/xerrors"
)

// fakeExecSession stands in for an SSH exec channel. Start writes output to
// the attached writer; Wait blocks until Close when block is set.
type fakeExecSession struct {
	output  string
	waitErr error
	block   chan struct{}

	closeOnce sync.Once
	attached  io.Writer
}

func (f *fakeExecSession) attachOutput(w io.Writer) { f.attached = w }

func (f *fakeExecSession) Start(cmd string) error {
	if f.output != "" {
		_, _ = f.attached.Write([]byte(f.output))
	}
	return nil
}

func (f *fakeExecSession) Wait() error {
	if f.block != nil {
		<-f.block
	}
	return f.waitErr
}

func (f *fakeExecSession) Close() error {
	if f.block != nil {
		f.closeOnce.Do(func() { close(f.block) })
	}
	return nil
}

func wrapperWithSession(sess execSession) *Wrapper {
	w := NewWrapper(nil)
	w.newSession = func() (execSession, error) { return sess, nil }
	return w
}

func TestRunCommandReturnsOutputOnCompletion(t *testing.T) {
	w := wrapperWithSession(&fakeExecSession{output: "hello\n"})

	result, err := RunCommand(w, "echo hello", 5*time.Second)
	require.NoError(t, err)

	assert.Equal(t, "hello\n", result.Output)
	assert.Equal(t, 0, result.ExitCode)
}

func TestRunCommandTimeoutKeepsPartialOutputAndMarker(t *testing.T) {
	sess := &fakeExecSession{
		output:  "partial line\n",
		waitErr: errors.New("channel closed"),
		block:   make(chan struct{}),
	}
	w := wrapperWithSession(sess)

	start := time.Now()
	result, err := RunCommand(w, "sleep 3600", 300*time.Millisecond)
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.Equal(t, -1, result.ExitCode)
	assert.Contains(t, result.Output, "partial line")
	assert.Contains(t, result.Output, "--- command timed out after 300ms ---")
	assert.Less(t, elapsed, 2*time.Second, "must return shortly after the deadline")
}

func TestRunCommandReportsTransportFailure(t *testing.T) {
	w := wrapperWithSession(&fakeExecSession{waitErr: errors.New("connection lost")})

	_, err := RunCommand(w, "uptime", time.Second)
	assert.ErrorIs(t, err, xerrors.ErrRemoteOperation)
}
