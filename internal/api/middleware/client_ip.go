package middleware

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

const ClientIPKey = "clientIP"

// ClientIP resolves the requester's address once per request and stores
// it in the context. Resolution order: first hop of X-Forwarded-For,
// then X-Real-IP, then the socket peer address. Values that do not
// parse as an IP fall through to the next source.
func ClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ClientIPKey, resolveClientIP(c))
		c.Next()
	}
}

// GetClientIP returns the address resolved by ClientIP, falling back to
// direct resolution when the middleware did not run.
func GetClientIP(c *gin.Context) string {
	if v, ok := c.Get(ClientIPKey); ok {
		if ip, ok := v.(string); ok {
			return ip
		}
	}
	return resolveClientIP(c)
}

func resolveClientIP(c *gin.Context) string {
	if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if real := strings.TrimSpace(c.GetHeader("X-Real-IP")); real != "" {
		if net.ParseIP(real) != nil {
			return real
		}
	}
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return host
}
