package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeConn is a controllable Wrapper for manager tests.
type fakeConn struct {
	mu             sync.Mutex
	valid          bool
	closed         bool
	createdAt      time.Time
	lastAccessedAt time.Time

	// onProbe, when set, runs once before the next liveness answer.
	onProbe func()
}

func newFakeConn(now time.Time) *fakeConn {
	return &fakeConn{valid: true, createdAt: now, lastAccessedAt: now}
}

func (f *fakeConn) IsValid(context.Context) bool {
	f.mu.Lock()
	hook := f.onProbe
	f.onProbe = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.valid && !f.closed
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) CreatedAt() time.Time { return f.createdAt }

func (f *fakeConn) LastAccessedAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAccessedAt
}

func (f *fakeConn) Touch() {
	f.mu.Lock()
	f.lastAccessedAt = time.Now()
	f.mu.Unlock()
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func testKey(user string) Key {
	return Key{UserID: user, ResourceID: "res-1", Kind: KindSSH}
}

func newTestManager(t *testing.T, idle time.Duration, clock func() time.Time) (*Manager[*fakeConn], *MemoryDirectory) {
	t.Helper()
	dir := NewMemoryDirectory()
	m := NewManager[*fakeConn](ManagerConfig{
		InstanceID:  "instance-a",
		IdleTimeout: idle,
		MetadataTTL: idle,
		Clock:       clock,
	}, dir, zap.NewNop())
	return m, dir
}

func TestCreateEvictsPreviousWrapper(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, time.Minute, nil)
	key := testKey("u1")

	first := newFakeConn(time.Now())
	_, err := m.Create(ctx, key, func(context.Context) (*fakeConn, error) { return first, nil })
	require.NoError(t, err)

	second := newFakeConn(time.Now())
	got, err := m.Create(ctx, key, func(context.Context) (*fakeConn, error) { return second, nil })
	require.NoError(t, err)

	assert.Same(t, second, got)
	assert.True(t, first.isClosed(), "evicted wrapper must be disconnected")
	assert.Equal(t, 1, m.Len())
}

func TestCreatePropagatesFactoryError(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, time.Minute, nil)

	boom := errors.New("connect refused")
	_, err := m.Create(ctx, testKey("u1"), func(context.Context) (*fakeConn, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, m.Len())
}

func TestCreateRejectsInvalidFactoryResult(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, time.Minute, nil)

	dead := newFakeConn(time.Now())
	dead.valid = false

	_, err := m.Create(ctx, testKey("u1"), func(context.Context) (*fakeConn, error) { return dead, nil })
	require.Error(t, err)
	assert.True(t, dead.isClosed())
	assert.Equal(t, 0, m.Len())
}

func TestGetReleasesWrapperThatFailsProbe(t *testing.T) {
	ctx := context.Background()
	m, dir := newTestManager(t, time.Minute, nil)
	key := testKey("u1")

	conn := newFakeConn(time.Now())
	_, err := m.Create(ctx, key, func(context.Context) (*fakeConn, error) { return conn, nil })
	require.NoError(t, err)
	require.NoError(t, m.PublishMetadata(ctx, key, &Metadata{Key: key}))

	conn.mu.Lock()
	conn.valid = false
	conn.mu.Unlock()

	_, ok := m.Get(ctx, key)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())

	md, err := dir.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, md, "directory entry must be gone after probe-failure release")
}

func TestGetBumpsAccessTime(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, time.Minute, nil)
	key := testKey("u1")

	conn := newFakeConn(time.Now().Add(-time.Hour))
	_, err := m.Create(ctx, key, func(context.Context) (*fakeConn, error) { return conn, nil })
	require.NoError(t, err)

	before := conn.LastAccessedAt()
	got, ok := m.Get(ctx, key)
	require.True(t, ok)
	assert.True(t, got.LastAccessedAt().After(before))
}

func TestReleaseIsIdempotentAndAlwaysDeletesDirectoryEntry(t *testing.T) {
	ctx := context.Background()
	m, dir := newTestManager(t, time.Minute, nil)
	key := testKey("u1")

	// No local wrapper, but a directory entry pointing elsewhere.
	require.NoError(t, dir.Put(ctx, key, &Metadata{Key: key, OwnerInstanceID: "instance-b"}, time.Minute))

	released := m.Release(ctx, key)
	assert.False(t, released, "nothing local to release")

	md, err := dir.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, md, "directory entry deleted even without a local wrapper")

	// Releasing again is fine.
	assert.False(t, m.Release(ctx, key))
}

func TestCleanupEvictsIdleAndDeadSessionsOnly(t *testing.T) {
	ctx := context.Background()

	now := time.Now()
	clock := func() time.Time { return now }
	m, _ := newTestManager(t, 10*time.Minute, clock)

	fresh := newFakeConn(now)
	idle := newFakeConn(now)
	idle.lastAccessedAt = now.Add(-11 * time.Minute)
	dead := newFakeConn(now)
	dead.valid = false

	keys := map[string]*fakeConn{"fresh": fresh, "idle": idle, "dead": dead}
	for name, conn := range keys {
		k := Key{UserID: name, ResourceID: "r", Kind: KindSSH}
		m.Store(k, conn)
	}

	removed := m.Cleanup(ctx)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, m.Len())

	_, ok := m.Get(ctx, Key{UserID: "fresh", ResourceID: "r", Kind: KindSSH})
	assert.True(t, ok, "session accessed within the window must survive")
	assert.True(t, idle.isClosed())
	assert.True(t, dead.isClosed())
}

func TestCleanupSparesWrapperReplacedMidSweep(t *testing.T) {
	ctx := context.Background()

	now := time.Now()
	m, dir := newTestManager(t, 10*time.Minute, func() time.Time { return now })
	key := testKey("u1")

	stale := newFakeConn(now)
	stale.valid = false
	m.Store(key, stale)

	// While the sweep probes the stale wrapper, a new session for the same
	// key lands in the table. The sweep must not evict the newcomer.
	fresh := newFakeConn(now)
	stale.onProbe = func() {
		m.Store(key, fresh)
		_ = dir.Put(ctx, key, &Metadata{Key: key}, time.Minute)
	}

	removed := m.Cleanup(ctx)
	assert.Zero(t, removed)
	assert.Equal(t, 1, m.Len())
	assert.False(t, fresh.isClosed())

	got, ok := m.Get(ctx, key)
	require.True(t, ok)
	assert.Same(t, fresh, got)

	md, err := dir.Get(ctx, key)
	require.NoError(t, err)
	assert.NotNil(t, md, "replacement's directory entry must survive the sweep")
}

func TestPublishMetadataStampsOwner(t *testing.T) {
	ctx := context.Background()
	m, dir := newTestManager(t, time.Minute, nil)
	key := testKey("u1")

	require.NoError(t, m.PublishMetadata(ctx, key, &Metadata{Key: key}))

	md, err := dir.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.Equal(t, "instance-a", md.OwnerInstanceID)
}
