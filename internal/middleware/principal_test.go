package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionbridge-service/internal/pkg/token"
	"sessionbridge-service/internal/session"
)

func principalMatchRouter(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	codec := token.NewCodec([]byte("test-secret-at-least-32-bytes-long"), "sessionbridge", time.Minute)
	raw, _, err := codec.Mint(session.Key{UserID: "u1", ResourceID: "r1", Kind: session.KindSSH})
	require.NoError(t, err)

	r := gin.New()
	r.POST("/s/:token", PrincipalMatch(codec), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r, raw
}

func TestPrincipalMatchAcceptsOwningUser(t *testing.T) {
	r, raw := principalMatchRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/s/"+raw, nil)
	req.Header.Set("X-User-ID", "u1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPrincipalMatchRejectsForeignUser(t *testing.T) {
	r, raw := principalMatchRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/s/"+raw, nil)
	req.Header.Set("X-User-ID", "u2")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPrincipalMatchPassesWithoutHeader(t *testing.T) {
	r, raw := principalMatchRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/s/"+raw, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPrincipalMatchRejectsGarbageTokenWhenHeaderPresent(t *testing.T) {
	r, _ := principalMatchRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/s/not-a-token", nil)
	req.Header.Set("X-User-ID", "u1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
