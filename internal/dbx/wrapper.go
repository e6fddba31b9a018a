// internal/dbx/wrapper.go
package dbx

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// Wrapper owns one live SQL connection. The pool underneath is capped at a
// single conn so the wrapper models one logical connection the way an SSH
// transport does.
type Wrapper struct {
	db       *sql.DB
	engine   Engine
	driver   string
	redacted string // DSN with credentials stripped, for diagnostics
	probe    func(ctx context.Context) bool

	mu             sync.Mutex
	createdAt      time.Time
	lastAccessedAt time.Time
}

func newWrapper(db *sql.DB, engine Engine, driver, redactedDSN string) *Wrapper {
	now := time.Now()
	return &Wrapper{
		db:             db,
		engine:         engine,
		driver:         driver,
		redacted:       redactedDSN,
		createdAt:      now,
		lastAccessedAt: now,
	}
}

func (w *Wrapper) DB() *sql.DB         { return w.db }
func (w *Wrapper) Engine() Engine      { return w.engine }
func (w *Wrapper) Driver() string      { return w.driver }
func (w *Wrapper) RedactedDSN() string { return w.redacted }

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

// SetProbe overrides the liveness probe. Tests only.
func (w *Wrapper) SetProbe(probe func(ctx context.Context) bool) { w.probe = probe }

// IsValid pings the connection with a short deadline.
func (w *Wrapper) IsValid(ctx context.Context) bool {
	if w.probe != nil {
		return w.probe(ctx)
	}
	if w.db == nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return w.db.PingContext(probeCtx) == nil
}

func (w *Wrapper) Close() error {
	if w.db == nil {
		return nil
	}
	return w.db.Close()
}
