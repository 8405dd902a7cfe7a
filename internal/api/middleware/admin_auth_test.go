package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestAdminAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	hash, err := bcrypt.GenerateFromPassword([]byte("super-secret"), bcrypt.MinCost)
	require.NoError(t, err)

	serve := func(tokenHash, authHeader string) *httptest.ResponseRecorder {
		r := gin.New()
		r.Use(AdminAuth(tokenHash))
		r.GET("/admin", func(c *gin.Context) { c.Status(http.StatusOK) })
		req, _ := http.NewRequest("GET", "/admin", nil)
		if authHeader != "" {
			req.Header.Set("Authorization", authHeader)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	t.Run("valid token", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serve(string(hash), "Bearer super-secret").Code)
	})

	t.Run("wrong token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, serve(string(hash), "Bearer guess").Code)
	})

	t.Run("missing header", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, serve(string(hash), "").Code)
	})

	t.Run("no hash configured disables the surface", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, serve("", "Bearer super-secret").Code)
	})
}
