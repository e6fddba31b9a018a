// internal/pkg/token/codec.go
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"sessionbridge-service/internal/pkg/xerrors"
	"sessionbridge-service/internal/session"
)

// Codec mints and validates the bearer tokens handed to clients after a
// session is opened. The token carries the full session key so any handler
// can recover it without a lookup.
type Codec struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  func() time.Time
}

type claims struct {
	ResourceID   string `json:"rid"`
	ResourceKind string `json:"rtype"`
	jwt.RegisteredClaims
}

func NewCodec(secret []byte, issuer string, ttl time.Duration) *Codec {
	return &Codec{
		secret: secret,
		issuer: issuer,
		ttl:    ttl,
		clock:  time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (c *Codec) SetClock(now func() time.Time) { c.clock = now }

// TTL reports the configured token lifetime.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Mint signs a fresh token for the given session key.
func (c *Codec) Mint(key session.Key) (string, time.Time, error) {
	if len(c.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("token codec has empty secret")
	}

	now := c.clock()
	expiresAt := now.Add(c.ttl)

	cl := &claims{
		ResourceID:   key.ResourceID,
		ResourceKind: string(key.Kind),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   key.UserID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        ulid.Make().String(),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS512, cl)
	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate parses and verifies a presented token and returns the session key
// it encodes. Every failure mode (malformed, expired, bad signature, wrong
// algorithm) collapses into ErrAccessDenied so callers cannot distinguish
// them.
func (c *Codec) Validate(raw string) (session.Key, error) {
	cl := &claims{}
	parsed, err := jwt.ParseWithClaims(raw, cl, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS512 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.clock), jwt.WithIssuer(c.issuer))
	if err != nil || !parsed.Valid {
		return session.Key{}, xerrors.ErrAccessDenied
	}
	if cl.Subject == "" || cl.ResourceID == "" || cl.ResourceKind == "" {
		return session.Key{}, xerrors.ErrAccessDenied
	}

	return session.Key{
		UserID:     cl.Subject,
		ResourceID: cl.ResourceID,
		Kind:       session.Kind(cl.ResourceKind),
	}, nil
}
