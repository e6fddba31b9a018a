// internal/hostkeys/verifier.go
package hostkeys

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// Verifier decides whether to trust a host key presented during an SSH
// handshake, according to the current policy. The policy is mutable at
// runtime via the management API.
type Verifier struct {
	store  Store
	logger *zap.Logger

	mu     sync.RWMutex
	policy Policy
}

func NewVerifier(store Store, policy Policy, logger *zap.Logger) *Verifier {
	return &Verifier{store: store, policy: policy, logger: logger}
}

func (v *Verifier) Policy() Policy {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.policy
}

func (v *Verifier) SetPolicy(p Policy) {
	v.mu.Lock()
	v.policy = p
	v.mu.Unlock()
	v.logger.Info("host key policy changed", zap.String("policy", string(p)))
}

// Callback returns an ssh.HostKeyCallback backed by the store and policy.
func (v *Verifier) Callback() ssh.HostKeyCallback {
	return func(addr string, remote net.Addr, key ssh.PublicKey) error {
		hostname, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			hostname, portStr = addr, "22"
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			port = 22
		}
		return v.Verify(context.Background(), hostname, port, key)
	}
}

// Verify applies the current policy to the key a host presented.
func (v *Verifier) Verify(ctx context.Context, hostname string, port int, key ssh.PublicKey) error {
	known, err := v.store.Find(ctx, hostname, port)
	if err != nil {
		return fmt.Errorf("host key lookup for %s:%d: %w", hostname, port, err)
	}

	fp := Fingerprint(key)
	for _, rec := range known {
		if rec.Fingerprint == fp {
			// Known good key. Bump last_verified, best effort.
			_ = v.store.Save(ctx, NewRecord(hostname, port, key))
			return nil
		}
	}

	switch v.Policy() {
	case PolicyStrict:
		if len(known) == 0 {
			return fmt.Errorf("host %s:%d is not in the trust store", hostname, port)
		}
		return fmt.Errorf("host key for %s:%d changed, fingerprint %s not trusted", hostname, port, fp)

	case PolicyAsk:
		if len(known) > 0 {
			return fmt.Errorf("host key for %s:%d changed, fingerprint %s not trusted", hostname, port, fp)
		}
		if err := v.store.Save(ctx, NewRecord(hostname, port, key)); err != nil {
			return fmt.Errorf("record host key for %s:%d: %w", hostname, port, err)
		}
		v.logger.Info("recorded host key on first sight",
			zap.String("host", hostname), zap.Int("port", port), zap.String("fingerprint", fp))
		return nil

	case PolicyAutoAccept:
		if err := v.store.Save(ctx, NewRecord(hostname, port, key)); err != nil {
			return fmt.Errorf("record host key for %s:%d: %w", hostname, port, err)
		}
		return nil

	default:
		return fmt.Errorf("unknown host key policy %q", v.Policy())
	}
}
