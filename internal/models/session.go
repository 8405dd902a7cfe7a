package models

import "time"

// Invalidation reasons form the terminal states of the session lifecycle.
const (
	InvalidationTimeout        = "timeout"
	InvalidationHijackDetected = "hijack_detected"
	// Reserved: the travel-speed heuristic currently flags without
	// invalidating, so no automatic path uses this reason. It names the
	// terminal state operators get if that policy is ever hardened.
	InvalidationGeoAnomaly     = "geo_anomaly_flagged"
	InvalidationLogout         = "explicit_logout"
	InvalidationEvicted        = "evicted_by_limit"
	InvalidationAdmin          = "all_sessions_invalidated"
)

// Session is an authenticated user session. The token is an opaque
// 256-bit random value and is never reused. Invalidation is terminal.
type Session struct {
	ID                 uint      `json:"id" gorm:"primaryKey"`
	UserID             uint      `json:"user_id" gorm:"index:idx_session_user_active"`
	Token              string    `json:"-" gorm:"uniqueIndex"`
	IP                 string    `json:"ip"`
	UserAgent          string    `json:"user_agent"`
	DeviceID           *uint     `json:"device_id,omitempty"`
	Location           string    `json:"location,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	LastActivity       time.Time `json:"last_activity"`
	ExpiresAt          time.Time `json:"expires_at"`
	Active             bool      `json:"active" gorm:"index:idx_session_user_active"`
	InvalidationReason string    `json:"invalidation_reason,omitempty"`
}

func (Session) TableName() string { return "user_sessions" }

// Usable reports whether the session can still validate requests.
func (s *Session) Usable(now time.Time) bool {
	return s.Active && now.Before(s.ExpiresAt)
}
