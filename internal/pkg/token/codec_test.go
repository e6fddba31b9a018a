package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionbridge-service/internal/pkg/xerrors"
	"sessionbridge-service/internal/session"
)

func newTestCodec() *Codec {
	return NewCodec([]byte("test-secret-test-secret-test-secret!"), "sessionbridge", 30*time.Minute)
}

func TestMintAndValidateRoundTrip(t *testing.T) {
	codec := newTestCodec()
	key := session.Key{UserID: "u1", ResourceID: "r1", Kind: session.DBKind("postgresql")}

	tok, expiresAt, err := codec.Mint(key)
	require.NoError(t, err)
	assert.NotEmpty(t, tok)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), expiresAt, 5*time.Second)

	got, err := codec.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestValidateRejectsMalformedTokens(t *testing.T) {
	codec := newTestCodec()

	for _, raw := range []string{"", "garbage", "a.b.c", "eyJhbGciOiJub25lIn0..e30"} {
		_, err := codec.Validate(raw)
		assert.ErrorIs(t, err, xerrors.ErrAccessDenied, "input %q", raw)
	}
}

func TestValidateRejectsForgedSignature(t *testing.T) {
	codec := newTestCodec()
	other := NewCodec([]byte("a-completely-different-signing-secret"), "sessionbridge", 30*time.Minute)

	tok, _, err := other.Mint(session.Key{UserID: "u1", ResourceID: "r1", Kind: session.KindSSH})
	require.NoError(t, err)

	_, err = codec.Validate(tok)
	assert.ErrorIs(t, err, xerrors.ErrAccessDenied)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	codec := newTestCodec()
	key := session.Key{UserID: "u1", ResourceID: "r1", Kind: session.KindSSH}

	past := time.Now().Add(-2 * time.Hour)
	codec.SetClock(func() time.Time { return past })
	tok, _, err := codec.Mint(key)
	require.NoError(t, err)

	codec.SetClock(time.Now)
	_, err = codec.Validate(tok)
	assert.ErrorIs(t, err, xerrors.ErrAccessDenied)
}

func TestValidateRejectsWrongIssuer(t *testing.T) {
	secret := []byte("shared-secret-shared-secret-shared!!")
	minter := NewCodec(secret, "some-other-service", 30*time.Minute)
	codec := NewCodec(secret, "sessionbridge", 30*time.Minute)

	tok, _, err := minter.Mint(session.Key{UserID: "u1", ResourceID: "r1", Kind: session.KindSSH})
	require.NoError(t, err)

	_, err = codec.Validate(tok)
	assert.ErrorIs(t, err, xerrors.ErrAccessDenied)
}

func TestEveryMintIsUnique(t *testing.T) {
	codec := newTestCodec()
	key := session.Key{UserID: "u1", ResourceID: "r1", Kind: session.KindSSH}

	a, _, err := codec.Mint(key)
	require.NoError(t, err)
	b, _, err := codec.Mint(key)
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "rotation depends on fresh tokens differing")
}
