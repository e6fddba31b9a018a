package hostkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionbridge-service/internal/pkg/xerrors"
)

func TestMemoryStoreSaveIsIdempotentPerFingerprint(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	key := generateKey(t)

	require.NoError(t, store.Save(ctx, NewRecord("h", 22, key)))
	require.NoError(t, store.Save(ctx, NewRecord("h", 22, key)))

	recs, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestMemoryStoreDeleteUnknownIDFails(t *testing.T) {
	store := NewMemoryStore()

	err := store.Delete(context.Background(), 42)
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
}

func TestMemoryStoreFindIsScopedToHostAndPort(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Save(ctx, NewRecord("a", 22, generateKey(t))))
	require.NoError(t, store.Save(ctx, NewRecord("a", 2222, generateKey(t))))
	require.NoError(t, store.Save(ctx, NewRecord("b", 22, generateKey(t))))

	recs, err := store.Find(ctx, "a", 22)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].Hostname)
	assert.Equal(t, 22, recs[0].Port)
}
