package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "socket address when no proxy headers",
			remoteAddr: "203.0.113.1:54321",
			want:       "203.0.113.1",
		},
		{
			name:       "first hop of X-Forwarded-For wins",
			remoteAddr: "10.0.0.1:443",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.7, 10.0.0.2, 10.0.0.1"},
			want:       "198.51.100.7",
		},
		{
			name:       "X-Real-IP when forwarded-for absent",
			remoteAddr: "10.0.0.1:443",
			headers:    map[string]string{"X-Real-IP": "198.51.100.8"},
			want:       "198.51.100.8",
		},
		{
			name:       "garbage forwarded-for falls through",
			remoteAddr: "203.0.113.2:1234",
			headers:    map[string]string{"X-Forwarded-For": "not-an-ip"},
			want:       "203.0.113.2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			r := gin.New()
			r.Use(ClientIP())
			r.GET("/test", func(c *gin.Context) {
				got = GetClientIP(c)
				c.Status(http.StatusOK)
			})

			req, _ := http.NewRequest("GET", "/test", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			r.ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.want, got)
		})
	}
}
