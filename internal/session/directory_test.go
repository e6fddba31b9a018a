package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDirectoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()
	key := Key{UserID: "u1", ResourceID: "r1", Kind: DBKind("postgresql")}

	md := &Metadata{
		Key:          key,
		CreatedAt:    time.Now().UTC(),
		CurrentToken: "tok-1",
		Descriptor:   ConnectionDescriptor{Host: "db.internal", Port: 5432, Engine: "POSTGRESQL"},
	}
	require.NoError(t, dir.Put(ctx, key, md, time.Minute))

	got, err := dir.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "tok-1", got.CurrentToken)
	assert.Equal(t, "db.internal", got.Descriptor.Host)

	require.NoError(t, dir.Delete(ctx, key))
	got, err = dir.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryDirectoryEntriesExpire(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()
	key := Key{UserID: "u1", ResourceID: "r1", Kind: KindSSH}

	now := time.Now()
	dir.SetClock(func() time.Time { return now })

	require.NoError(t, dir.Put(ctx, key, &Metadata{Key: key}, time.Minute))

	now = now.Add(59 * time.Second)
	got, err := dir.Get(ctx, key)
	require.NoError(t, err)
	assert.NotNil(t, got)

	now = now.Add(2 * time.Second)
	got, err = dir.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got, "entry past its TTL must read as absent")
}

func TestDeriveResourceIDIsStable(t *testing.T) {
	a := DeriveResourceID("user-1", "prod-postgres")
	b := DeriveResourceID("user-1", "prod-postgres")
	c := DeriveResourceID("user-2", "prod-postgres")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-5[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`, a)
}

func TestKindHelpers(t *testing.T) {
	assert.Equal(t, Kind("DB:MYSQL"), DBKind("mysql"))
	assert.True(t, DBKind("POSTGRESQL").IsDB())
	assert.False(t, KindSSH.IsDB())
	assert.Equal(t, "SQLSERVER", DBKind("sqlserver").Engine())
	assert.Equal(t, "", KindSSH.Engine())
}
