// internal/handlers/lifecycle/ssh.go
package lifecycle

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sessionbridge-service/internal/middleware"
	"sessionbridge-service/internal/pkg/response"
	service "sessionbridge-service/internal/service/sshsession"
)

type SSHHandler struct {
	sessions *service.Service
}

func NewSSHHandler(sessions *service.Service) *SSHHandler {
	return &SSHHandler{sessions: sessions}
}

type initSSHRequest struct {
	ResourceID string `json:"resourceId" binding:"required"`
}

// Init opens an SSH session and returns the first bearer token.
func (h *SSHHandler) Init(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var req initSSHRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	grant, err := h.sessions.Init(c.Request.Context(), userID, req.ResourceID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, "session initialized", grant)
}

// Keepalive rotates the session token.
func (h *SSHHandler) Keepalive(c *gin.Context) {
	grant, err := h.sessions.Keepalive(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, "session refreshed", grant)
}

// Release tears the session down. 204 even when the session is already gone.
func (h *SSHHandler) Release(c *gin.Context) {
	if err := h.sessions.Release(c.Request.Context(), c.Param("token")); err != nil {
		response.FromError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
