package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestSecurityHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	serve := func(dev bool) *httptest.ResponseRecorder {
		r := gin.New()
		r.Use(SecurityHeaders(SecurityHeadersConfig{IsDevelopment: dev}))
		r.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		r.ServeHTTP(w, req)
		return w
	}

	t.Run("production sets HSTS", func(t *testing.T) {
		w := serve(false)
		assert.Contains(t, w.Header().Get("Strict-Transport-Security"), "max-age=31536000")
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
		assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	})

	t.Run("development skips HSTS", func(t *testing.T) {
		w := serve(true)
		assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	})
}
