package hostkeys

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

func generateKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return key
}

func TestStrictRejectsUnknownHost(t *testing.T) {
	v := NewVerifier(NewMemoryStore(), PolicyStrict, zap.NewNop())

	err := v.Verify(context.Background(), "unknown.example", 22, generateKey(t))
	assert.Error(t, err)
}

func TestStrictAcceptsRecordedKeyAndRejectsChangedKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	v := NewVerifier(store, PolicyStrict, zap.NewNop())

	trusted := generateKey(t)
	require.NoError(t, store.Save(ctx, NewRecord("host.example", 22, trusted)))

	assert.NoError(t, v.Verify(ctx, "host.example", 22, trusted))
	assert.Error(t, v.Verify(ctx, "host.example", 22, generateKey(t)),
		"a changed key for a known host must be rejected")
}

func TestAskRecordsFirstSightThenPinsIt(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	v := NewVerifier(store, PolicyAsk, zap.NewNop())

	first := generateKey(t)
	require.NoError(t, v.Verify(ctx, "host.example", 22, first))

	recs, err := store.Find(ctx, "host.example", 22)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, Fingerprint(first), recs[0].Fingerprint)

	// Same key again is fine, a different one is not.
	assert.NoError(t, v.Verify(ctx, "host.example", 22, first))
	assert.Error(t, v.Verify(ctx, "host.example", 22, generateKey(t)))
}

func TestAutoAcceptRecordsEverything(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	v := NewVerifier(store, PolicyAutoAccept, zap.NewNop())

	require.NoError(t, v.Verify(ctx, "host.example", 22, generateKey(t)))
	require.NoError(t, v.Verify(ctx, "host.example", 22, generateKey(t)))

	recs, err := store.Find(ctx, "host.example", 22)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestPolicyIsMutableAtRuntime(t *testing.T) {
	ctx := context.Background()
	v := NewVerifier(NewMemoryStore(), PolicyStrict, zap.NewNop())
	key := generateKey(t)

	require.Error(t, v.Verify(ctx, "host.example", 22, key))

	v.SetPolicy(PolicyAutoAccept)
	assert.Equal(t, PolicyAutoAccept, v.Policy())
	assert.NoError(t, v.Verify(ctx, "host.example", 22, key))
}

func TestFingerprintFormat(t *testing.T) {
	fp := Fingerprint(generateKey(t))
	assert.True(t, strings.HasPrefix(fp, "SHA256:"))
	assert.NotContains(t, fp, "=", "fingerprint uses raw base64")
}

func TestParsePolicy(t *testing.T) {
	for _, s := range []string{"STRICT", "ASK", "AUTO_ACCEPT"} {
		_, ok := ParsePolicy(s)
		assert.True(t, ok, s)
	}
	_, ok := ParsePolicy("YOLO")
	assert.False(t, ok)
}
