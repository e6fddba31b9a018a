// internal/handlers/hostkeys/handler.go
package hostkeys

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"sessionbridge-service/internal/hostkeys"
	"sessionbridge-service/internal/pkg/response"
)

type Handler struct {
	store    hostkeys.Store
	verifier *hostkeys.Verifier
}

func NewHandler(store hostkeys.Store, verifier *hostkeys.Verifier) *Handler {
	return &Handler{store: store, verifier: verifier}
}

// List returns all trusted host keys.
func (h *Handler) List(c *gin.Context) {
	records, err := h.store.List(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, "host keys listed", records)
}

// Delete removes a trusted host key by id.
func (h *Handler) Delete(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ValidationError(c, "invalid host key id", err)
		return
	}

	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		response.FromError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetPolicy returns the current verification policy.
func (h *Handler) GetPolicy(c *gin.Context) {
	response.Success(c, http.StatusOK, "policy retrieved", gin.H{
		"policy": string(h.verifier.Policy()),
	})
}

type setPolicyRequest struct {
	Policy string `json:"policy" binding:"required"`
}

// SetPolicy switches the verification policy at runtime.
func (h *Handler) SetPolicy(c *gin.Context) {
	var req setPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	policy, ok := hostkeys.ParsePolicy(req.Policy)
	if !ok {
		response.ValidationError(c, "policy must be STRICT, ASK or AUTO_ACCEPT", nil)
		return
	}

	h.verifier.SetPolicy(policy)
	response.Success(c, http.StatusOK, "policy updated", gin.H{"policy": string(policy)})
}
