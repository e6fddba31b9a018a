// internal/sshx/wrapper.go
package sshx

import (
	"context"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Wrapper owns a live SSH transport. It lives only in the local session
// table and is never serialized.
type Wrapper struct {
	client     *ssh.Client
	newSession func() (execSession, error)
	probe      func(ctx context.Context) bool

	mu             sync.Mutex
	createdAt      time.Time
	lastAccessedAt time.Time
}

func NewWrapper(client *ssh.Client) *Wrapper {
	now := time.Now()
	w := &Wrapper{
		client:         client,
		createdAt:      now,
		lastAccessedAt: now,
	}
	w.newSession = func() (execSession, error) {
		sess, err := client.NewSession()
		if err != nil {
			return nil, err
		}
		return sshExecSession{sess}, nil
	}
	return w
}

// SetProbe overrides the liveness probe. Tests only.
func (w *Wrapper) SetProbe(probe func(ctx context.Context) bool) { w.probe = probe }

func (w *Wrapper) Client() *ssh.Client { return w.client }

func (w *Wrapper) CreatedAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.createdAt
}

func (w *Wrapper) LastAccessedAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastAccessedAt
}

func (w *Wrapper) Touch() {
	w.mu.Lock()
	w.lastAccessedAt = time.Now()
	w.mu.Unlock()
}

// IsValid probes the transport with an SSH keepalive request under a short
// deadline. A transport that cannot answer is treated as dead.
func (w *Wrapper) IsValid(ctx context.Context) bool {
	if w.probe != nil {
		return w.probe(ctx)
	}
	if w.client == nil {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, _, err := w.client.SendRequest("keepalive@openssh.com", true, nil)
		done <- err
	}()

	select {
	case err := <-done:
		return err == nil
	case <-probeCtx.Done():
		return false
	}
}

func (w *Wrapper) Close() error {
	if w.client == nil {
		return nil
	}
	return w.client.Close()
}
