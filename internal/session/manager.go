// internal/session/manager.go
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Factory opens a live connection for a key. It is invoked by Create and is
// the only code path that sees raw credential material; errors are
// propagated, not retried.
type Factory[W Wrapper] func(ctx context.Context) (W, error)

// Manager owns the local table of live connection wrappers for one resource
// kind and keeps the shared Directory in step with it. It is safe for
// concurrent use by request goroutines and the reaper.
type Manager[W Wrapper] struct {
	instanceID  string
	directory   Directory
	idleTimeout time.Duration
	metaTTL     time.Duration
	logger      *zap.Logger
	now         func() time.Time

	mu    sync.Mutex
	local map[Key]W
}

// ManagerConfig bundles the construction-time knobs, so tests can inject
// deterministic clocks and short timeouts.
type ManagerConfig struct {
	InstanceID  string
	IdleTimeout time.Duration
	MetadataTTL time.Duration
	Clock       func() time.Time
}

func NewManager[W Wrapper](cfg ManagerConfig, directory Directory, logger *zap.Logger) *Manager[W] {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Manager[W]{
		instanceID:  cfg.InstanceID,
		directory:   directory,
		idleTimeout: cfg.IdleTimeout,
		metaTTL:     cfg.MetadataTTL,
		logger:      logger,
		now:         now,
		local:       make(map[Key]W),
	}
}

// InstanceID returns the id this manager publishes as the session owner.
func (m *Manager[W]) InstanceID() string { return m.instanceID }

// Create evicts and disconnects any pre-existing local wrapper for key, then
// invokes the factory to obtain a live connection. A factory result that
// reports itself invalid is disconnected and rejected. Only one local
// wrapper per key exists after this call returns.
func (m *Manager[W]) Create(ctx context.Context, key Key, factory Factory[W]) (W, error) {
	var zero W

	m.mu.Lock()
	old, existed := m.local[key]
	if existed {
		delete(m.local, key)
	}
	m.mu.Unlock()
	if existed {
		m.logger.Warn("evicting pre-existing local session before create",
			zap.String("key", key.String()))
		_ = old.Close()
		if err := m.directory.Delete(ctx, key); err != nil {
			m.logger.Warn("failed to delete stale directory entry", zap.String("key", key.String()), zap.Error(err))
		}
	}

	wrapper, err := factory(ctx)
	if err != nil {
		return zero, err
	}
	if !wrapper.IsValid(ctx) {
		_ = wrapper.Close()
		return zero, fmt.Errorf("connection factory produced an invalid connection for key %s", key)
	}

	m.mu.Lock()
	// A concurrent Create for the same key may have won the race while the
	// factory was connecting; last writer wins, loser is disconnected.
	if racer, ok := m.local[key]; ok {
		_ = racer.Close()
	}
	m.local[key] = wrapper
	m.mu.Unlock()

	m.logger.Info("created local session", zap.String("key", key.String()),
		zap.String("instance", m.instanceID))
	return wrapper, nil
}

// Get returns the local wrapper iff present and live. A wrapper that fails
// the liveness probe is released and reported as absent.
func (m *Manager[W]) Get(ctx context.Context, key Key) (W, bool) {
	var zero W

	m.mu.Lock()
	wrapper, ok := m.local[key]
	m.mu.Unlock()
	if !ok {
		return zero, false
	}

	if !wrapper.IsValid(ctx) {
		m.logger.Warn("local session failed liveness probe, releasing",
			zap.String("key", key.String()))
		m.Release(ctx, key)
		return zero, false
	}

	wrapper.Touch()
	return wrapper, true
}

// Store upserts the local entry; used after mutating a wrapper in place.
func (m *Manager[W]) Store(key Key, wrapper W) {
	m.mu.Lock()
	m.local[key] = wrapper
	m.mu.Unlock()
}

// Release disconnects and removes the local wrapper, and always deletes the
// directory entry regardless of whether a local wrapper existed, so the
// last-issued token dies even when it points at another instance's session.
func (m *Manager[W]) Release(ctx context.Context, key Key) bool {
	m.mu.Lock()
	wrapper, existed := m.local[key]
	if existed {
		delete(m.local, key)
	}
	m.mu.Unlock()

	if existed {
		_ = wrapper.Close()
		m.logger.Info("released local session", zap.String("key", key.String()))
	}
	if err := m.directory.Delete(ctx, key); err != nil {
		m.logger.Warn("failed to delete directory entry on release",
			zap.String("key", key.String()), zap.Error(err))
	}
	return existed
}

// Cleanup iterates the local table once, evicting every entry whose
// connection fails the liveness probe or whose idle time exceeds the
// configured timeout. Both the local entry and the directory entry go.
func (m *Manager[W]) Cleanup(ctx context.Context) int {
	m.mu.Lock()
	snapshot := make(map[Key]W, len(m.local))
	for k, w := range m.local {
		snapshot[k] = w
	}
	m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, wrapper := range snapshot {
		idle := now.Sub(wrapper.LastAccessedAt())
		switch {
		case !wrapper.IsValid(ctx):
			m.logger.Info("cleanup: session failed liveness probe",
				zap.String("key", key.String()))
		case idle > m.idleTimeout:
			m.logger.Info("cleanup: session exceeded idle timeout",
				zap.String("key", key.String()), zap.Duration("idle", idle))
		default:
			continue
		}
		if m.releaseExact(ctx, key, wrapper) {
			removed++
		}
	}
	return removed
}

// releaseExact releases key only while the table still holds this exact
// wrapper, so a session recreated between the sweep's snapshot and its
// eviction is left alone.
func (m *Manager[W]) releaseExact(ctx context.Context, key Key, wrapper W) bool {
	m.mu.Lock()
	current, ok := m.local[key]
	if !ok || any(current) != any(wrapper) {
		m.mu.Unlock()
		return false
	}
	delete(m.local, key)
	m.mu.Unlock()

	_ = wrapper.Close()
	m.logger.Info("released local session", zap.String("key", key.String()))
	if err := m.directory.Delete(ctx, key); err != nil {
		m.logger.Warn("failed to delete directory entry on release",
			zap.String("key", key.String()), zap.Error(err))
	}
	return true
}

// PublishMetadata writes the directory entry for key with a fresh TTL.
func (m *Manager[W]) PublishMetadata(ctx context.Context, key Key, md *Metadata) error {
	md.OwnerInstanceID = m.instanceID
	return m.directory.Put(ctx, key, md, m.metaTTL)
}

// Metadata reads the directory entry for key ((nil, nil) when absent).
func (m *Manager[W]) Metadata(ctx context.Context, key Key) (*Metadata, error) {
	return m.directory.Get(ctx, key)
}

// Len reports the size of the local table.
func (m *Manager[W]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.local)
}
