// internal/app/server.go
package app

import (
	"context"
	"fmt"
	"log"

	"sessionbridge-service/internal/access"
	"sessionbridge-service/internal/config"
	"sessionbridge-service/internal/db"
	"sessionbridge-service/internal/dbx"
	hostkeyHandler "sessionbridge-service/internal/handlers/hostkeys"
	lifecycleHandler "sessionbridge-service/internal/handlers/lifecycle"
	opsHandler "sessionbridge-service/internal/handlers/ops"
	streamHandler "sessionbridge-service/internal/handlers/stream"
	"sessionbridge-service/internal/hostkeys"
	"sessionbridge-service/internal/middleware"
	"sessionbridge-service/internal/pkg/token"
	dbsessionService "sessionbridge-service/internal/service/dbsession"
	sshsessionService "sessionbridge-service/internal/service/sshsession"
	"sessionbridge-service/internal/session"
	"sessionbridge-service/internal/sshx"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	cfg    config.AppConfig
	engine *gin.Engine
	logger *zap.Logger
}

func NewServer() *Server {
	cfg := config.Load()
	engine := gin.New()
	return &Server{cfg: cfg, engine: engine}
}

// Start wires the whole service and blocks serving HTTP until ctx is
// cancelled via the reaper's shutdown path.
func (s *Server) Start(ctx context.Context) error {
	// ----- Logger -----
	logger, _ := zap.NewProduction()
	defer logger.Sync()
	s.logger = logger

	if s.cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}

	// ----- Redis (session directory) -----
	redisClient, err := db.NewRedisClient(db.RedisConfig{
		Addr:     s.cfg.RedisAddr,
		Password: s.cfg.RedisPass,
		DB:       s.cfg.RedisDB,
		PoolSize: 10,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Println("[REDIS] connected")

	// ----- PostgreSQL (host key trust store) -----
	pool, err := db.NewPostgresPool(ctx, s.cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	log.Println("[POSTGRES] connected")

	// ----- Token codec -----
	codec := token.NewCodec([]byte(s.cfg.JWTSecret), s.cfg.JWTIssuer, s.cfg.TokenTTL)

	// ----- Host key trust store -----
	policy, ok := hostkeys.ParsePolicy(s.cfg.HostKeyPolicy)
	if !ok {
		return fmt.Errorf("invalid HOST_KEY_POLICY %q", s.cfg.HostKeyPolicy)
	}
	hostKeyStore := hostkeys.NewPostgresStore(pool)
	verifier := hostkeys.NewVerifier(hostKeyStore, policy, logger)

	// ----- Session directory & managers -----
	directory := session.NewRedisDirectory(redisClient)

	sshManager := session.NewManager[*sshx.Wrapper](session.ManagerConfig{
		InstanceID:  s.cfg.InstanceID,
		IdleTimeout: s.cfg.SSHIdleTimeout,
		MetadataTTL: s.cfg.SSHIdleTimeout,
	}, directory, logger)

	dbManager := session.NewManager[*dbx.Wrapper](session.ManagerConfig{
		InstanceID:  s.cfg.InstanceID,
		IdleTimeout: s.cfg.DBIdleTimeout,
		MetadataTTL: s.cfg.DBIdleTimeout,
	}, directory, logger)

	// ----- Access control boundary -----
	accessClient := access.NewClient(s.cfg.AccessBaseURL, s.cfg.AccessTimeout)

	// ----- Services -----
	sshService := sshsessionService.NewService(
		sshManager, codec, accessClient, accessClient, verifier,
		s.cfg.SSHConnectTimeout, logger)
	dbService := dbsessionService.NewService(
		dbManager, codec, accessClient, accessClient,
		s.cfg.DBLoginTimeout, logger)

	// ----- Reaper -----
	reaper := session.NewReaper(s.cfg.ReaperInterval, logger, sshManager, dbManager)
	go reaper.Run(ctx)

	// ----- Handlers -----
	transfer := sshx.NewTransfer()
	streamer := sshx.NewStreamer(logger)

	handlers := &Handlers{
		SSHLifecycle: lifecycleHandler.NewSSHHandler(sshService),
		DBLifecycle:  lifecycleHandler.NewDBHandler(dbService),
		SSHOps:       opsHandler.NewSSHHandler(sshService, transfer, s.cfg.SSHCommandTimeout),
		DBOps:        opsHandler.NewDBHandler(dbService),
		HostKeys:     hostkeyHandler.NewHandler(hostKeyStore, verifier),
		Stream:       streamHandler.NewHandler(sshService, streamer, logger),

		PrincipalMatch: middleware.PrincipalMatch(codec),
	}

	// ----- Middlewares -----
	s.engine.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
		middleware.CORSMiddleware(),
	)

	SetupRouter(s.engine, logger, handlers)

	log.Printf("server running on %s (instance %s)", s.cfg.HTTPAddr, s.cfg.InstanceID)
	return s.engine.Run(s.cfg.HTTPAddr)
}
