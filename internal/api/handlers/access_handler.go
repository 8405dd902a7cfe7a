package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aegis-sec/aegis/internal/models"
	"github.com/aegis-sec/aegis/internal/services"
)

// AccessHandler exposes the IP reputation engine over the admin API.
type AccessHandler struct {
	service *services.ReputationService
}

func NewAccessHandler(service *services.ReputationService) *AccessHandler {
	return &AccessHandler{service: service}
}

type ipRuleRequest struct {
	IPOrRange       string `json:"ip_or_range" binding:"required"`
	Reason          string `json:"reason"`
	DurationMinutes int    `json:"duration_minutes"`
}

// actor resolves the audit identity for an admin mutation.
func actor(c *gin.Context) string {
	if a := c.GetHeader("X-Admin-Actor"); a != "" {
		return a
	}
	return "admin"
}

func (h *AccessHandler) List(c *gin.Context) {
	rules, err := h.service.ListRules(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list rules"})
		return
	}
	c.JSON(http.StatusOK, rules)
}

func (h *AccessHandler) Block(c *gin.Context) {
	var req ipRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule, err := h.service.BlockIP(c.Request.Context(), req.IPOrRange, req.Reason,
		time.Duration(req.DurationMinutes)*time.Minute, actor(c))
	if err != nil {
		if errors.Is(err, services.ErrInvalidIPRule) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to block IP"})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *AccessHandler) Allow(c *gin.Context) {
	var req ipRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule, err := h.service.AllowIP(c.Request.Context(), req.IPOrRange, req.Reason, actor(c))
	if err != nil {
		if errors.Is(err, services.ErrInvalidIPRule) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to allow IP"})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *AccessHandler) Unblock(c *gin.Context) {
	var req ipRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.UnblockIP(c.Request.Context(), req.IPOrRange, actor(c)); err != nil {
		if errors.Is(err, services.ErrInvalidIPRule) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to unblock IP"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "IP unblocked"})
}

type geoRestrictionRequest struct {
	CountryCode string `json:"country_code" binding:"required"`
	RegionCode  string `json:"region_code"`
	Type        string `json:"type" binding:"required"`
	Reason      string `json:"reason"`
}

func (h *AccessHandler) AddGeoRestriction(c *gin.Context) {
	var req geoRestrictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	restriction, err := h.service.AddGeoRestriction(c.Request.Context(), req.CountryCode,
		models.AccessType(req.Type), req.RegionCode, req.Reason, actor(c))
	if err != nil {
		if errors.Is(err, services.ErrInvalidCountryCode) || errors.Is(err, services.ErrInvalidRestrictType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add geo restriction"})
		return
	}
	c.JSON(http.StatusCreated, restriction)
}

// Check reports the current verdict for an IP. Diagnostic only; the
// enforcement path runs inside the request middleware.
func (h *AccessHandler) Check(c *gin.Context) {
	ip := c.Param("ip")
	verdict := h.service.CheckAccess(c.Request.Context(), ip)
	c.JSON(http.StatusOK, verdict)
}

type failedAttemptRequest struct {
	IP string `json:"ip" binding:"required"`
}

// RecordFailedAttempt lets the upstream auth layer feed the auto-block
// window.
func (h *AccessHandler) RecordFailedAttempt(c *gin.Context) {
	var req failedAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.RecordFailedAttempt(c.Request.Context(), req.IP); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record attempt"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Attempt recorded"})
}
