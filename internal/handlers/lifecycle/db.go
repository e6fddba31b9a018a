// internal/handlers/lifecycle/db.go
package lifecycle

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sessionbridge-service/internal/middleware"
	"sessionbridge-service/internal/pkg/response"
	service "sessionbridge-service/internal/service/dbsession"
)

type DBHandler struct {
	sessions *service.Service
}

func NewDBHandler(sessions *service.Service) *DBHandler {
	return &DBHandler{sessions: sessions}
}

// Init opens a database session and returns the first bearer token.
func (h *DBHandler) Init(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var req service.InitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	grant, err := h.sessions.Init(c.Request.Context(), userID, req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, "session initialized", grant)
}

// Keepalive rotates the session token.
func (h *DBHandler) Keepalive(c *gin.Context) {
	grant, err := h.sessions.Keepalive(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, "session refreshed", grant)
}

// Release tears the session down. 204 even when the session is already gone.
func (h *DBHandler) Release(c *gin.Context) {
	if err := h.sessions.Release(c.Request.Context(), c.Param("token")); err != nil {
		response.FromError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
