// internal/middleware/principal_middleware.go
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sessionbridge-service/internal/pkg/response"
	"sessionbridge-service/internal/pkg/token"
)

const principalKey = "principal_user_id"

// Principal extracts the authenticated user id the API gateway forwards in
// X-User-ID. Authentication itself happens upstream; this service only
// refuses requests that arrive without a principal.
func Principal() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			response.Unauthorized(c, "missing authenticated principal")
			return
		}
		c.Set(principalKey, userID)
		c.Next()
	}
}

// PrincipalMatch guards token-addressed routes: when the gateway forwards an
// X-User-ID header, the session named by the :token parameter must belong to
// that user. Requests without the header pass through, the token alone then
// carries the identity.
func PrincipalMatch(codec *token.Codec) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			c.Next()
			return
		}
		key, err := codec.Validate(c.Param("token"))
		if err != nil {
			response.Unauthorized(c, "invalid session token")
			return
		}
		if key.UserID != userID {
			response.Error(c, http.StatusForbidden, "principal does not own this session", nil)
			return
		}
		c.Set(principalKey, userID)
		c.Next()
	}
}

// MustGetUserID returns the principal set by Principal(). It panics when the
// middleware did not run, which is a routing bug.
func MustGetUserID(c *gin.Context) string {
	v, ok := c.Get(principalKey)
	if !ok {
		panic("principal middleware not applied to route")
	}
	return v.(string)
}
