// internal/app/router.go
package app

import (
	hostkeyHandler "sessionbridge-service/internal/handlers/hostkeys"
	lifecycleHandler "sessionbridge-service/internal/handlers/lifecycle"
	opsHandler "sessionbridge-service/internal/handlers/ops"
	streamHandler "sessionbridge-service/internal/handlers/stream"
	"sessionbridge-service/internal/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handlers struct {
	SSHLifecycle *lifecycleHandler.SSHHandler
	DBLifecycle  *lifecycleHandler.DBHandler
	SSHOps       *opsHandler.SSHHandler
	DBOps        *opsHandler.DBHandler
	HostKeys     *hostkeyHandler.Handler
	Stream       *streamHandler.Handler

	// PrincipalMatch guards every token-addressed route.
	PrincipalMatch gin.HandlerFunc
}

func SetupRouter(r *gin.Engine, logger *zap.Logger, h *Handlers) {
	api := r.Group("/api/v1")

	// ==================== Health Check ====================
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "version": "1.0.0"})
	})

	// ==================== Session Lifecycle ====================
	sshSessions := api.Group("/sessions/ssh")
	{
		sshSessions.POST("/init", middleware.Principal(), h.SSHLifecycle.Init)
		sshSessions.POST("/:token/keepalive", h.PrincipalMatch, h.SSHLifecycle.Keepalive)
		sshSessions.POST("/:token/release", h.PrincipalMatch, h.SSHLifecycle.Release)
	}

	dbSessions := api.Group("/sessions/db")
	{
		dbSessions.POST("/init", middleware.Principal(), h.DBLifecycle.Init)
		dbSessions.POST("/:token/keepalive", h.PrincipalMatch, h.DBLifecycle.Keepalive)
		dbSessions.POST("/:token/release", h.PrincipalMatch, h.DBLifecycle.Release)
	}

	// ==================== Remote Operations ====================
	sshOps := api.Group("/ops/ssh/:token")
	sshOps.Use(h.PrincipalMatch)
	{
		sshOps.POST("/command", h.SSHOps.Command)
		sshOps.GET("/sftp/list", h.SSHOps.SFTPList)
		sshOps.POST("/sftp/chunked/upload", h.SSHOps.SFTPUpload)
		sshOps.GET("/sftp/chunked/download", h.SSHOps.SFTPDownload)
	}

	dbOps := api.Group("/ops/db/:token")
	dbOps.Use(h.PrincipalMatch)
	{
		dbOps.GET("/get-schema-info", h.DBOps.GetSchemaInfo)
		dbOps.POST("/test-connection", h.DBOps.TestConnection)
		dbOps.POST("/execute-sql", h.DBOps.ExecuteSQL)
	}

	// ==================== Host Key Trust Store ====================
	hostKeys := api.Group("/host-keys")
	{
		hostKeys.GET("", h.HostKeys.List)
		hostKeys.DELETE("/:id", h.HostKeys.Delete)
		hostKeys.GET("/policy", h.HostKeys.GetPolicy)
		hostKeys.PUT("/policy", h.HostKeys.SetPolicy)
	}

	// ==================== WebSocket ====================
	r.GET("/ws/ssh/:token/commands", h.PrincipalMatch, h.Stream.Commands)
}
