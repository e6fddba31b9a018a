// internal/service/sshsession/service.go
package sshsession

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sessionbridge-service/internal/access"
	"sessionbridge-service/internal/hostkeys"
	"sessionbridge-service/internal/pkg/token"
	"sessionbridge-service/internal/pkg/xerrors"
	"sessionbridge-service/internal/session"
	"sessionbridge-service/internal/sshx"
)

// TokenGrant is what init and keepalive hand back to the client.
type TokenGrant struct {
	SessionToken string `json:"sessionToken"`
	ExpiresInMs  int64  `json:"expiresInMs"`
}

// Connector opens the SSH transport. Tests substitute a fake.
type Connector func(ctx context.Context, params access.ConnectionParams,
	material access.SecretMaterial) (*sshx.Wrapper, error)

// Service drives the lifecycle of SSH sessions: init, keepalive, release,
// and resolution of a presented token to a live local wrapper.
type Service struct {
	manager *session.Manager[*sshx.Wrapper]
	codec   *token.Codec
	control access.Control
	creds   access.CredentialResolver
	connect Connector
	logger  *zap.Logger
}

func NewService(
	manager *session.Manager[*sshx.Wrapper],
	codec *token.Codec,
	control access.Control,
	creds access.CredentialResolver,
	verifier *hostkeys.Verifier,
	connectTimeout time.Duration,
	logger *zap.Logger,
) *Service {
	return &Service{
		manager: manager,
		codec:   codec,
		control: control,
		creds:   creds,
		connect: func(ctx context.Context, params access.ConnectionParams,
			material access.SecretMaterial) (*sshx.Wrapper, error) {
			return sshx.Connect(ctx, params, material, verifier.Callback(), connectTimeout)
		},
		logger: logger,
	}
}

// SetConnector overrides the transport opener. Tests only.
func (s *Service) SetConnector(c Connector) { s.connect = c }

// Init authorizes the user against the resource, opens the transport, stores
// the wrapper locally, publishes directory metadata and mints the first
// token.
func (s *Service) Init(ctx context.Context, userID, resourceID string) (TokenGrant, error) {
	params, err := s.control.AuthorizeAndResolve(ctx, userID, resourceID)
	if err != nil {
		return TokenGrant{}, err
	}

	material, err := s.creds.Decrypt(ctx, params.CredentialRef)
	if err != nil {
		return TokenGrant{}, err
	}

	key := session.Key{UserID: userID, ResourceID: params.ResourceID, Kind: session.KindSSH}

	wrapper, err := s.manager.Create(ctx, key, func(ctx context.Context) (*sshx.Wrapper, error) {
		return s.connect(ctx, params, material)
	})
	if err != nil {
		return TokenGrant{}, err
	}

	grant, err := s.mintAndPublish(ctx, key, wrapper, session.ConnectionDescriptor{
		Host:       params.Host,
		Port:       params.Port,
		RemoteUser: params.RemoteUser,
	})
	if err != nil {
		// A session nobody holds a token for is unreachable; tear it down.
		s.manager.Release(ctx, key)
		return TokenGrant{}, err
	}

	s.logger.Info("ssh session initialized",
		zap.String("key", key.String()), zap.String("host", params.Host))
	return grant, nil
}

// Keepalive rotates the token and bumps timestamps locally and in the
// directory. The presented token dies with the rotation.
func (s *Service) Keepalive(ctx context.Context, rawToken string) (TokenGrant, error) {
	key, wrapper, md, err := s.resolve(ctx, rawToken)
	if err != nil {
		return TokenGrant{}, err
	}

	wrapper.Touch()
	return s.mintAndPublish(ctx, key, wrapper, md.Descriptor)
}

// Release tears the session down. Idempotent: releasing a session that is
// already gone is not an error. The directory entry is deleted even when no
// local wrapper exists.
func (s *Service) Release(ctx context.Context, rawToken string) error {
	key, err := s.codec.Validate(rawToken)
	if err != nil {
		return err
	}
	s.manager.Release(ctx, key)
	return nil
}

// Resolve maps a presented token to the live local wrapper, bumping access
// time on success. Foreign ownership (directory names another instance) is
// a distinct error so the caller knows retrying here will not help.
func (s *Service) Resolve(ctx context.Context, rawToken string) (session.Key, *sshx.Wrapper, error) {
	key, wrapper, md, err := s.resolve(ctx, rawToken)
	if err != nil {
		return session.Key{}, nil, err
	}

	// Successful operations refresh timestamps and TTL but keep the current
	// token; rotation happens only on keepalive.
	wrapper.Touch()
	md.LastAccessedAt = wrapper.LastAccessedAt()
	if err := s.manager.PublishMetadata(ctx, key, md); err != nil {
		s.logger.Warn("failed to refresh directory entry",
			zap.String("key", key.String()), zap.Error(err))
	}
	return key, wrapper, nil
}

// ReleaseIfUnusable probes the session's transport after a failed operation
// and releases it when the probe fails, forcing the client to reinitialize
// instead of reusing a possibly corrupted connection.
func (s *Service) ReleaseIfUnusable(ctx context.Context, key session.Key) bool {
	wrapper, ok := s.manager.Get(ctx, key)
	if !ok {
		return true // Get already released it
	}
	if wrapper.IsValid(ctx) {
		return false
	}
	s.logger.Warn("releasing unusable ssh session after operation failure",
		zap.String("key", key.String()))
	s.manager.Release(ctx, key)
	return true
}

func (s *Service) resolve(ctx context.Context, rawToken string) (session.Key, *sshx.Wrapper, *session.Metadata, error) {
	key, err := s.codec.Validate(rawToken)
	if err != nil {
		return session.Key{}, nil, nil, err
	}
	if key.Kind != session.KindSSH {
		return session.Key{}, nil, nil, xerrors.ErrAccessDenied
	}

	md, err := s.manager.Metadata(ctx, key)
	if err != nil {
		return session.Key{}, nil, nil, err
	}

	wrapper, ok := s.manager.Get(ctx, key)
	if !ok {
		if md != nil && md.OwnerInstanceID != "" && md.OwnerInstanceID != s.manager.InstanceID() {
			return session.Key{}, nil, nil, xerrors.Wrap(xerrors.ErrSessionNotFoundLocally,
				fmt.Sprintf("session is owned by instance %s", md.OwnerInstanceID))
		}
		if md != nil {
			// Stale entry for a wrapper this instance no longer holds.
			s.manager.Release(ctx, key)
		}
		return session.Key{}, nil, nil, xerrors.ErrSessionNotFound
	}

	// A rotated-out token must not keep working even though its signature
	// and expiry still check out.
	if md != nil && md.CurrentToken != "" && md.CurrentToken != rawToken {
		return session.Key{}, nil, nil, xerrors.ErrAccessDenied
	}

	if md == nil {
		// Directory entry lapsed while the wrapper survived. Rebuild it
		// pinned to the presented token so earlier rotated-out tokens stay
		// dead once the caller republishes.
		md = &session.Metadata{Key: key, CreatedAt: wrapper.CreatedAt(), CurrentToken: rawToken}
	}
	return key, wrapper, md, nil
}

func (s *Service) mintAndPublish(ctx context.Context, key session.Key, wrapper *sshx.Wrapper,
	desc session.ConnectionDescriptor) (TokenGrant, error) {

	tok, expiresAt, err := s.codec.Mint(key)
	if err != nil {
		return TokenGrant{}, xerrors.Wrap(xerrors.ErrInfrastructure, err.Error())
	}

	md := &session.Metadata{
		Key:            key,
		CreatedAt:      wrapper.CreatedAt(),
		LastAccessedAt: wrapper.LastAccessedAt(),
		CurrentToken:   tok,
		Descriptor:     desc,
	}
	if err := s.manager.PublishMetadata(ctx, key, md); err != nil {
		return TokenGrant{}, err
	}

	return TokenGrant{
		SessionToken: tok,
		ExpiresInMs:  time.Until(expiresAt).Milliseconds(),
	}, nil
}
