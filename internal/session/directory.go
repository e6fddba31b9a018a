// internal/session/directory.go
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"sessionbridge-service/internal/pkg/xerrors"

	"github.com/redis/go-redis/v9"
)

// Directory is the shared, TTL-based store that makes session ownership
// visible across instances. Entries are addressed by the SessionKey, not the
// token, so the same logical session always resolves to one slot regardless
// of which token is current. Get returns (nil, nil) when no entry exists.
type Directory interface {
	Put(ctx context.Context, key Key, md *Metadata, ttl time.Duration) error
	Get(ctx context.Context, key Key) (*Metadata, error)
	Delete(ctx context.Context, key Key) error
}

// RedisDirectory implements Directory on a shared Redis instance.
type RedisDirectory struct {
	client *redis.Client
}

func NewRedisDirectory(client *redis.Client) *RedisDirectory {
	return &RedisDirectory{client: client}
}

func directoryKey(key Key) string {
	return fmt.Sprintf("session:meta:%s:%s:%s", key.UserID, key.ResourceID, key.Kind)
}

func (d *RedisDirectory) Put(ctx context.Context, key Key, md *Metadata, ttl time.Duration) error {
	data, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("failed to marshal session metadata: %w", err)
	}
	if err := d.client.Set(ctx, directoryKey(key), data, ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.ErrInfrastructure, err.Error())
	}
	return nil
}

func (d *RedisDirectory) Get(ctx context.Context, key Key) (*Metadata, error) {
	data, err := d.client.Get(ctx, directoryKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrInfrastructure, err.Error())
	}
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session metadata: %w", err)
	}
	return &md, nil
}

func (d *RedisDirectory) Delete(ctx context.Context, key Key) error {
	if err := d.client.Del(ctx, directoryKey(key)).Err(); err != nil {
		return xerrors.Wrap(xerrors.ErrInfrastructure, err.Error())
	}
	return nil
}

// MemoryDirectory is an in-process Directory with TTL semantics, for tests
// and single-instance deployments without Redis.
type MemoryDirectory struct {
	mu      sync.RWMutex
	entries map[Key]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	md        Metadata
	expiresAt time.Time
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		entries: make(map[Key]memoryEntry),
		now:     time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (d *MemoryDirectory) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

func (d *MemoryDirectory) Put(_ context.Context, key Key, md *Metadata, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[key] = memoryEntry{md: *md, expiresAt: d.now().Add(ttl)}
	return nil
}

func (d *MemoryDirectory) Get(_ context.Context, key Key) (*Metadata, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.entries[key]
	if !ok {
		return nil, nil
	}
	if d.now().After(entry.expiresAt) {
		delete(d.entries, key)
		return nil, nil
	}
	md := entry.md
	return &md, nil
}

func (d *MemoryDirectory) Delete(_ context.Context, key Key) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, key)
	return nil
}
