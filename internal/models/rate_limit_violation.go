package models

import "time"

// RateLimitViolation is a raw over-budget event. Rows are counted over a
// rolling window to drive progressive penalties and auto-blocking.
type RateLimitViolation struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	Identifier    string    `json:"identifier" gorm:"index"` // user key or ip key
	IP            string    `json:"ip" gorm:"index:idx_violation_ip_time"`
	Endpoint      string    `json:"endpoint"`
	ViolationType string    `json:"violation_type"` // limit_exceeded, penalty_blocked
	WindowSeconds int       `json:"window_seconds"`
	CreatedAt     time.Time `json:"created_at" gorm:"index:idx_violation_ip_time"`
}

func (RateLimitViolation) TableName() string { return "rate_limit_violations" }
