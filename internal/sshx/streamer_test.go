package sshx

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"sessionbridge-service/internal/session"
)

type rejectingSink struct{}

func (rejectingSink) Send(StreamMessage) error { return errors.New("client gone") }

type recordingCloser struct {
	mu     sync.Mutex
	closed bool
}

func (c *recordingCloser) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *recordingCloser) wasClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestCancelUnknownCommandReturnsFalse(t *testing.T) {
	s := NewStreamer(zap.NewNop())
	key := session.Key{UserID: "u1", ResourceID: "r1", Kind: session.KindSSH}

	assert.False(t, s.Cancel(key, "no-such-command"))
}

func TestPumpDrainsReaderAfterSinkFailure(t *testing.T) {
	s := NewStreamer(zap.NewNop())
	payload := bytes.Repeat([]byte("x"), 100*1024)
	r := bytes.NewReader(payload)

	var wg sync.WaitGroup
	wg.Add(1)
	s.pump(&wg, r, StreamStdout, "cmd-1", rejectingSink{})
	wg.Wait()

	// The reader must be consumed to EOF even though every send failed,
	// otherwise the remote command blocks on a full channel window.
	assert.Zero(t, r.Len())
}

func TestCancelAllInterruptsOnlyThisSessionsCommands(t *testing.T) {
	s := NewStreamer(zap.NewNop())
	mine := session.Key{UserID: "u1", ResourceID: "r1", Kind: session.KindSSH}
	other := session.Key{UserID: "u2", ResourceID: "r1", Kind: session.KindSSH}

	first := &recordingCloser{}
	second := &recordingCloser{}
	foreign := &recordingCloser{}
	s.inFlight[registryKey(mine, "cmd-1")] = &runningCommand{closer: first}
	s.inFlight[registryKey(mine, "cmd-2")] = &runningCommand{closer: second}
	s.inFlight[registryKey(other, "cmd-1")] = &runningCommand{closer: foreign}

	assert.Equal(t, 2, s.CancelAll(mine))
	assert.True(t, first.wasClosed())
	assert.True(t, second.wasClosed())
	assert.False(t, foreign.wasClosed())

	// Already-cancelled commands are not counted twice.
	assert.Zero(t, s.CancelAll(mine))
}

func TestRegistryKeyIsScopedToSessionAndCommand(t *testing.T) {
	a := session.Key{UserID: "u1", ResourceID: "r1", Kind: session.KindSSH}
	b := session.Key{UserID: "u2", ResourceID: "r1", Kind: session.KindSSH}

	assert.NotEqual(t, registryKey(a, "cmd-1"), registryKey(b, "cmd-1"))
	assert.NotEqual(t, registryKey(a, "cmd-1"), registryKey(a, "cmd-2"))
}
