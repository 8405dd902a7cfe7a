package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aegis-sec/aegis/internal/services"
)

// Context keys populated by the guard chain.
const (
	UserIDKey  = "userID"
	SessionKey = "session"
)

// Guard enforces the security pipeline on incoming requests: IP
// reputation first, then the rate limiter, then (where required)
// session integrity.
type Guard struct {
	Reputation *services.ReputationService
	RateLimit  *services.RateLimitService
	Sessions   *services.SessionService
}

// Enforce rejects requests from blocked IPs and over-budget clients.
// Rate limiting keys on the authenticated user so clients behind a
// shared NAT do not throttle each other; the bearer token is resolved
// here (cached lookup, no validation side effects) because session
// validation proper runs later in the chain.
func (g *Guard) Enforce() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := GetClientIP(c)

		verdict := g.Reputation.CheckAccess(c.Request.Context(), ip)
		if verdict.Blocked {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":  "access denied",
				"reason": services.ReasonIPBlocked,
			})
			return
		}

		userID := c.GetUint(UserIDKey)
		if userID == 0 {
			if token := bearerToken(c); token != "" {
				if id, ok := g.Sessions.UserIDForToken(c.Request.Context(), token); ok {
					userID = id
				}
			}
		}

		res := g.RateLimit.Allow(c.Request.Context(), userID, ip, c.FullPath())
		if !res.Allowed {
			if res.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
			}
			c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			c.Header("X-RateLimit-Remaining", "0")
			status := http.StatusTooManyRequests
			if res.Reason == services.ReasonIPBlocked {
				status = http.StatusForbidden
			}
			c.AbortWithStatusJSON(status, gin.H{
				"error":  "rate limit exceeded",
				"reason": res.Reason,
			})
			return
		}
		if res.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			c.Header("X-RateLimit-Reset", strconv.Itoa(int(time.Now().Add(res.Reset).Unix())))
		}

		c.Next()
	}
}

// RequireSession validates the bearer token against the session
// monitor. Valid sessions expose the user and session to handlers;
// anything else is a 401 with the monitor's reason.
func (g *Guard) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}

		res := g.Sessions.Validate(c.Request.Context(), token, GetClientIP(c), c.Request.UserAgent())
		if !res.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":  "invalid session",
				"reason": res.Reason,
			})
			return
		}

		c.Set(UserIDKey, res.Session.UserID)
		c.Set(SessionKey, res.Session)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
