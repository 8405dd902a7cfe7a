package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Severity levels for security events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Well-known event types emitted by the enforcement core.
const (
	EventIPBlocked          = "ip_blocked"
	EventIPAllowed          = "ip_allowed"
	EventIPUnblocked        = "ip_unblocked"
	EventIPAutoBlocked      = "ip_auto_blocked"
	EventGeoRestrictionSet  = "geo_restriction_set"
	EventRateLimitExceeded  = "rate_limit_exceeded"
	EventRateLimitEscalated = "rate_limit_escalated"
	EventSessionCreated     = "session_created"
	EventSessionInvalidated = "session_invalidated"
	EventHijackDetected     = "session_hijack_detected"
	EventGeoAnomaly         = "geo_anomaly_detected"
	EventNewDevice          = "new_device_registered"
)

// SecurityEvent is an append-only record of a security-relevant
// occurrence. The core only ever creates rows; it never mutates or
// deletes them.
type SecurityEvent struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	UUID        string    `json:"uuid" gorm:"uniqueIndex"`
	EventType   string    `json:"event_type" gorm:"index"`
	Severity    Severity  `json:"severity" gorm:"index"`
	UserID      *uint     `json:"user_id,omitempty" gorm:"index"`
	IP          string    `json:"ip,omitempty"`
	Description string    `json:"description"`
	Metadata    string    `json:"metadata,omitempty" gorm:"type:text"` // JSON object
	CreatedAt   time.Time `json:"created_at" gorm:"index"`
}

func (SecurityEvent) TableName() string { return "security_events" }

func (e *SecurityEvent) BeforeCreate(tx *gorm.DB) error {
	if e.UUID == "" {
		e.UUID = uuid.NewString()
	}
	return nil
}
