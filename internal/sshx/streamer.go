// internal/sshx/streamer.go
package sshx

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"sessionbridge-service/internal/session"
)

// Stream message types, in the order a client can expect them.
const (
	StreamStart     = "start"
	StreamStdout    = "stdout"
	StreamStderr    = "stderr"
	StreamExit      = "exit"
	StreamError     = "error"
	StreamCancelled = "cancelled"
)

// StreamMessage is one unit pushed to the client while a streamed command
// runs. Exactly one terminal message (exit, error or cancelled) ends the
// stream.
type StreamMessage struct {
	Type      string `json:"type"`
	CommandID string `json:"commandId"`
	Data      string `json:"data,omitempty"`
	ExitCode  *int   `json:"exitCode,omitempty"`
}

// Sink receives stream messages. The websocket handler adapts a connection
// into one; tests use a channel-backed fake.
type Sink interface {
	Send(msg StreamMessage) error
}

type runningCommand struct {
	closer    io.Closer
	cancelled bool
	mu        sync.Mutex
}

func (rc *runningCommand) markCancelled() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.cancelled {
		return false
	}
	rc.cancelled = true
	rc.closer.Close()
	return true
}

func (rc *runningCommand) wasCancelled() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.cancelled
}

// Streamer runs commands over SSH pushing output chunks to a sink as they
// arrive, and supports cancelling an in-flight command by session key and
// command id.
type Streamer struct {
	logger *zap.Logger

	mu       sync.Mutex
	inFlight map[string]*runningCommand
}

func NewStreamer(logger *zap.Logger) *Streamer {
	return &Streamer{
		logger:   logger,
		inFlight: make(map[string]*runningCommand),
	}
}

func registryKey(key session.Key, commandID string) string {
	return key.String() + "#" + commandID
}

// Start launches cmd on the wrapper's transport and blocks until the command
// ends, the sink fails, or the command is cancelled. It generates a command
// id when the caller did not supply one and returns it.
func (s *Streamer) Start(key session.Key, w *Wrapper, commandID, cmd string, sink Sink) (string, error) {
	if commandID == "" {
		commandID = ulid.Make().String()
	}

	sess, err := w.Client().NewSession()
	if err != nil {
		_ = sink.Send(StreamMessage{Type: StreamError, CommandID: commandID,
			Data: fmt.Sprintf("open exec channel: %v", err)})
		return commandID, err
	}

	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		_ = sink.Send(StreamMessage{Type: StreamError, CommandID: commandID, Data: err.Error()})
		return commandID, err
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		sess.Close()
		_ = sink.Send(StreamMessage{Type: StreamError, CommandID: commandID, Data: err.Error()})
		return commandID, err
	}

	rc := &runningCommand{closer: sess}
	rk := registryKey(key, commandID)

	s.mu.Lock()
	if _, exists := s.inFlight[rk]; exists {
		s.mu.Unlock()
		sess.Close()
		err := fmt.Errorf("command %s already running for this session", commandID)
		_ = sink.Send(StreamMessage{Type: StreamError, CommandID: commandID, Data: err.Error()})
		return commandID, err
	}
	s.inFlight[rk] = rc
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inFlight, rk)
		s.mu.Unlock()
		sess.Close()
	}()

	if err := sess.Start(cmd); err != nil {
		_ = sink.Send(StreamMessage{Type: StreamError, CommandID: commandID,
			Data: fmt.Sprintf("start command: %v", err)})
		return commandID, err
	}

	_ = sink.Send(StreamMessage{Type: StreamStart, CommandID: commandID})

	var wg sync.WaitGroup
	wg.Add(2)
	go s.pump(&wg, stdout, StreamStdout, commandID, sink)
	go s.pump(&wg, stderr, StreamStderr, commandID, sink)
	wg.Wait()

	waitErr := sess.Wait()
	w.Touch()

	if rc.wasCancelled() {
		_ = sink.Send(StreamMessage{Type: StreamCancelled, CommandID: commandID})
		return commandID, nil
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitStatus()
		} else {
			_ = sink.Send(StreamMessage{Type: StreamError, CommandID: commandID, Data: waitErr.Error()})
			return commandID, waitErr
		}
	}

	_ = sink.Send(StreamMessage{Type: StreamExit, CommandID: commandID, ExitCode: &exitCode})
	return commandID, nil
}

func (s *Streamer) pump(wg *sync.WaitGroup, r io.Reader, msgType, commandID string, sink Sink) {
	defer wg.Done()
	buf := make([]byte, 4096)
	sinkDown := false
	for {
		n, err := r.Read(buf)
		if n > 0 && !sinkDown {
			if sendErr := sink.Send(StreamMessage{
				Type: msgType, CommandID: commandID, Data: string(buf[:n]),
			}); sendErr != nil {
				s.logger.Warn("stream sink rejected output chunk, draining remainder",
					zap.String("commandId", commandID), zap.Error(sendErr))
				// Keep reading so the remote side never blocks on a full
				// channel window once the client is gone.
				sinkDown = true
			}
		}
		if err != nil {
			return
		}
	}
}

// Cancel interrupts an in-flight streamed command. Returns false when no
// such command is running.
func (s *Streamer) Cancel(key session.Key, commandID string) bool {
	s.mu.Lock()
	rc, ok := s.inFlight[registryKey(key, commandID)]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return rc.markCancelled()
}

// CancelAll interrupts every in-flight streamed command for a session and
// returns how many it cancelled. Called when the client that started them
// disconnects.
func (s *Streamer) CancelAll(key session.Key) int {
	prefix := key.String() + "#"
	s.mu.Lock()
	matched := make([]*runningCommand, 0, len(s.inFlight))
	for rk, rc := range s.inFlight {
		if strings.HasPrefix(rk, prefix) {
			matched = append(matched, rc)
		}
	}
	s.mu.Unlock()

	cancelled := 0
	for _, rc := range matched {
		if rc.markCancelled() {
			cancelled++
		}
	}
	return cancelled
}
