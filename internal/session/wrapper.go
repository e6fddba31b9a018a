// internal/session/wrapper.go
package session

import (
	"context"
	"time"
)

// Wrapper is the process-local handle to a live connection. It is never
// serialized; exactly one wrapper per Key exists on at most one instance at
// a time.
type Wrapper interface {
	// IsValid runs a protocol-level liveness probe (SSH keepalive, SQL ping)
	// with a short internal timeout. A wrapper that fails the probe is
	// treated as absent and released.
	IsValid(ctx context.Context) bool

	// Close tears down the live connection. Idempotent.
	Close() error

	CreatedAt() time.Time
	LastAccessedAt() time.Time

	// Touch bumps LastAccessedAt to now.
	Touch()
}
