package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aegis-sec/aegis/internal/api/middleware"
	"github.com/aegis-sec/aegis/internal/models"
	"github.com/aegis-sec/aegis/internal/services"
)

// SessionHandler exposes session lifecycle operations. Creation is
// called by the upstream auth layer after it has verified credentials;
// the admin endpoints manage sessions on a user's behalf.
type SessionHandler struct {
	service *services.SessionService
}

func NewSessionHandler(service *services.SessionService) *SessionHandler {
	return &SessionHandler{service: service}
}

type createSessionRequest struct {
	UserID   uint   `json:"user_id" binding:"required"`
	Location string `json:"location"`
	Device   *struct {
		FingerprintHash string `json:"fingerprint_hash" binding:"required"`
		Name            string `json:"name"`
		Type            string `json:"type"`
		OS              string `json:"os"`
		Browser         string `json:"browser"`
	} `json:"device"`
}

func (h *SessionHandler) Create(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var device *services.DeviceInfo
	if req.Device != nil {
		device = &services.DeviceInfo{
			FingerprintHash: req.Device.FingerprintHash,
			Name:            req.Device.Name,
			Type:            req.Device.Type,
			OS:              req.Device.OS,
			Browser:         req.Device.Browser,
		}
	}

	sess, err := h.service.Create(c.Request.Context(), req.UserID,
		middleware.GetClientIP(c), c.Request.UserAgent(), device, req.Location)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	// The token is returned exactly once, at creation.
	c.JSON(http.StatusCreated, gin.H{
		"token":      sess.Token,
		"session_id": sess.ID,
		"expires_at": sess.ExpiresAt,
	})
}

// Logout invalidates the caller's own session.
func (h *SessionHandler) Logout(c *gin.Context) {
	v, ok := c.Get(middleware.SessionKey)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no active session"})
		return
	}
	sess := v.(*models.Session)

	if err := h.service.Invalidate(c.Request.Context(), sess.Token, models.InvalidationLogout); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to invalidate session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func userIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("userID"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return uint(id), true
}

func (h *SessionHandler) List(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	sessions, err := h.service.ListSessions(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// InvalidateAll terminates every active session for a user, typically
// after a password reset or account compromise.
func (h *SessionHandler) InvalidateAll(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	if err := h.service.InvalidateAllUserSessions(c.Request.Context(), userID, models.InvalidationAdmin, ""); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to invalidate sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "All sessions invalidated"})
}

func (h *SessionHandler) TrustDevice(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	deviceID, err := strconv.ParseUint(c.Param("deviceID"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid device id"})
		return
	}

	if err := h.service.TrustDevice(c.Request.Context(), userID, uint(deviceID)); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Device trusted"})
}
