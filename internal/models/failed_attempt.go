package models

import "time"

// FailedAttempt is a raw failed-authentication event. Rows are counted
// over a rolling window to drive automatic IP blocking.
type FailedAttempt struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	IP        string    `json:"ip" gorm:"index:idx_failed_ip_time"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_failed_ip_time"`
}

func (FailedAttempt) TableName() string { return "failed_login_attempts" }
