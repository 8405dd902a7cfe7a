package models

import "time"

// DeviceFingerprint recognizes a returning client device by a derived,
// stable hash. Trusted devices are never auto-evicted when the per-user
// device cap is reached.
type DeviceFingerprint struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	UserID          uint      `json:"user_id" gorm:"index:idx_device_user_hash"`
	FingerprintHash string    `json:"fingerprint_hash" gorm:"index:idx_device_user_hash"`
	Name            string    `json:"name"`
	Type            string    `json:"type"` // desktop, mobile, tablet
	OS              string    `json:"os"`
	Browser         string    `json:"browser"`
	Trusted         bool      `json:"trusted" gorm:"default:false"`
	LastSeenAt      time.Time `json:"last_seen_at"`
	CreatedAt       time.Time `json:"created_at"`
}

func (DeviceFingerprint) TableName() string { return "device_fingerprints" }
