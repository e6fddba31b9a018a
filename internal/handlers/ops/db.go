// internal/handlers/ops/db.go
package ops

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sessionbridge-service/internal/dbx"
	"sessionbridge-service/internal/pkg/response"
	"sessionbridge-service/internal/pkg/xerrors"
	service "sessionbridge-service/internal/service/dbsession"
)

type DBHandler struct {
	sessions *service.Service
}

func NewDBHandler(sessions *service.Service) *DBHandler {
	return &DBHandler{sessions: sessions}
}

// GetSchemaInfo returns engine/driver/user/URL metadata for the session.
func (h *DBHandler) GetSchemaInfo(c *gin.Context) {
	key, wrapper, err := h.sessions.Resolve(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	info, err := dbx.GetSchemaInfo(c.Request.Context(), wrapper)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrRemoteOperation) {
			h.sessions.ReleaseIfUnusable(c.Request.Context(), key)
		}
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, "schema info retrieved", info)
}

// TestConnection probes the session's connection.
func (h *DBHandler) TestConnection(c *gin.Context) {
	_, wrapper, err := h.sessions.Resolve(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	alive := dbx.TestConnection(c.Request.Context(), wrapper)
	response.Success(c, http.StatusOK, "connection tested", gin.H{"alive": alive})
}

type executeSQLRequest struct {
	Query    string `json:"query" binding:"required"`
	ReadOnly bool   `json:"readOnly"`
}

// ExecuteSQL runs a statement on the session's connection.
func (h *DBHandler) ExecuteSQL(c *gin.Context) {
	var req executeSQLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	key, wrapper, err := h.sessions.Resolve(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	result, err := dbx.ExecuteSQL(c.Request.Context(), wrapper, req.Query, req.ReadOnly)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrRemoteOperation) {
			h.sessions.ReleaseIfUnusable(c.Request.Context(), key)
		}
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, "query executed", result)
}
