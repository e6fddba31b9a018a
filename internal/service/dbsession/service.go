// internal/service/dbsession/service.go
package dbsession

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sessionbridge-service/internal/access"
	"sessionbridge-service/internal/dbx"
	"sessionbridge-service/internal/pkg/token"
	"sessionbridge-service/internal/pkg/xerrors"
	"sessionbridge-service/internal/session"
)

// TokenGrant is what init and keepalive hand back to the client.
type TokenGrant struct {
	SessionToken string `json:"sessionToken"`
	ExpiresInMs  int64  `json:"expiresInMs"`
}

// InitRequest selects the target database. Either ResourceID names a
// registered resource directly, or Alias is a caller-side name from which a
// stable resource id is derived.
type InitRequest struct {
	ResourceID string `json:"resourceId"`
	Alias      string `json:"alias"`
}

// Connector opens the SQL connection. Tests substitute a fake.
type Connector func(ctx context.Context, params access.ConnectionParams,
	material access.SecretMaterial) (*dbx.Wrapper, error)

// Service drives the lifecycle of database sessions. It mirrors the SSH
// lifecycle but republishes owner and descriptor metadata on every local
// mutation so other instances can detect foreign ownership.
type Service struct {
	manager *session.Manager[*dbx.Wrapper]
	codec   *token.Codec
	control access.Control
	creds   access.CredentialResolver
	connect Connector
	logger  *zap.Logger
}

func NewService(
	manager *session.Manager[*dbx.Wrapper],
	codec *token.Codec,
	control access.Control,
	creds access.CredentialResolver,
	loginTimeout time.Duration,
	logger *zap.Logger,
) *Service {
	return &Service{
		manager: manager,
		codec:   codec,
		control: control,
		creds:   creds,
		connect: func(ctx context.Context, params access.ConnectionParams,
			material access.SecretMaterial) (*dbx.Wrapper, error) {
			return dbx.Connect(ctx, params, material, loginTimeout)
		},
		logger: logger,
	}
}

// SetConnector overrides the connection opener. Tests only.
func (s *Service) SetConnector(c Connector) { s.connect = c }

// Init authorizes the user, opens the connection, stores the wrapper locally,
// publishes directory metadata and mints the first token.
func (s *Service) Init(ctx context.Context, userID string, req InitRequest) (TokenGrant, error) {
	resourceID := req.ResourceID
	if resourceID == "" {
		if req.Alias == "" {
			return TokenGrant{}, xerrors.Wrap(xerrors.ErrInvalidInput,
				"either resourceId or alias is required")
		}
		resourceID = session.DeriveResourceID(userID, req.Alias)
	}

	params, err := s.control.AuthorizeAndResolve(ctx, userID, resourceID)
	if err != nil {
		return TokenGrant{}, err
	}

	engine, ok := dbx.ParseEngine(params.Engine)
	if !ok {
		return TokenGrant{}, xerrors.Wrap(xerrors.ErrInvalidInput,
			fmt.Sprintf("unsupported database engine %q", params.Engine))
	}

	material, err := s.creds.Decrypt(ctx, params.CredentialRef)
	if err != nil {
		return TokenGrant{}, err
	}

	key := session.Key{
		UserID:     userID,
		ResourceID: params.ResourceID,
		Kind:       session.DBKind(string(engine)),
	}

	wrapper, err := s.manager.Create(ctx, key, func(ctx context.Context) (*dbx.Wrapper, error) {
		return s.connect(ctx, params, material)
	})
	if err != nil {
		return TokenGrant{}, err
	}

	grant, err := s.mintAndPublish(ctx, key, wrapper, session.ConnectionDescriptor{
		Host:       params.Host,
		Port:       params.Port,
		Database:   params.Database,
		RemoteUser: params.RemoteUser,
		Engine:     string(engine),
	})
	if err != nil {
		s.manager.Release(ctx, key)
		return TokenGrant{}, err
	}

	s.logger.Info("db session initialized", zap.String("key", key.String()),
		zap.String("engine", string(engine)), zap.String("host", params.Host))
	return grant, nil
}

// Keepalive rotates the token and bumps timestamps locally and in the
// directory.
func (s *Service) Keepalive(ctx context.Context, rawToken string) (TokenGrant, error) {
	key, wrapper, md, err := s.resolve(ctx, rawToken)
	if err != nil {
		return TokenGrant{}, err
	}

	wrapper.Touch()
	return s.mintAndPublish(ctx, key, wrapper, md.Descriptor)
}

// Release tears the session down. Idempotent; the directory entry is
// deleted even when no local wrapper exists.
func (s *Service) Release(ctx context.Context, rawToken string) error {
	key, err := s.codec.Validate(rawToken)
	if err != nil {
		return err
	}
	s.manager.Release(ctx, key)
	return nil
}

// Resolve maps a presented token to the live local wrapper, bumping access
// time and republishing metadata with a fresh TTL on success.
func (s *Service) Resolve(ctx context.Context, rawToken string) (session.Key, *dbx.Wrapper, error) {
	key, wrapper, md, err := s.resolve(ctx, rawToken)
	if err != nil {
		return session.Key{}, nil, err
	}

	wrapper.Touch()
	md.LastAccessedAt = wrapper.LastAccessedAt()
	if err := s.manager.PublishMetadata(ctx, key, md); err != nil {
		s.logger.Warn("failed to refresh directory entry",
			zap.String("key", key.String()), zap.Error(err))
	}
	return key, wrapper, nil
}

// ReleaseIfUnusable probes the session's connection after a failed operation
// and releases it when the probe fails.
func (s *Service) ReleaseIfUnusable(ctx context.Context, key session.Key) bool {
	wrapper, ok := s.manager.Get(ctx, key)
	if !ok {
		return true
	}
	if wrapper.IsValid(ctx) {
		return false
	}
	s.logger.Warn("releasing unusable db session after operation failure",
		zap.String("key", key.String()))
	s.manager.Release(ctx, key)
	return true
}

func (s *Service) resolve(ctx context.Context, rawToken string) (session.Key, *dbx.Wrapper, *session.Metadata, error) {
	key, err := s.codec.Validate(rawToken)
	if err != nil {
		return session.Key{}, nil, nil, err
	}
	if !key.Kind.IsDB() {
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
			s.manager.Release(ctx, key)
		}
		return session.Key{}, nil, nil, xerrors.ErrSessionNotFound
	}

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

func (s *Service) mintAndPublish(ctx context.Context, key session.Key, wrapper *dbx.Wrapper,
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
