package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AccessType describes the effect of an IP rule.
type AccessType string

const (
	AccessAllow AccessType = "allow"
	AccessBlock AccessType = "block"
)

// IPRule is an explicit allow/block entry for a single IP, a CIDR block
// ("10.0.0.0/8") or an inclusive range ("10.0.0.1-10.0.0.50").
// Exact-IP rules take precedence over CIDR/range rules at evaluation time.
type IPRule struct {
	ID         uint       `json:"id" gorm:"primaryKey"`
	UUID       string     `json:"uuid" gorm:"uniqueIndex"`
	IPOrRange  string     `json:"ip_or_range" gorm:"index"`
	AccessType AccessType `json:"access_type" gorm:"index"`
	Reason     string     `json:"reason"`
	CreatedBy  string     `json:"created_by"` // actor: admin email or "system"
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Active     bool       `json:"active" gorm:"index;default:true"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName maps to the access control table.
func (IPRule) TableName() string { return "ip_access_control" }

func (r *IPRule) BeforeCreate(tx *gorm.DB) error {
	if r.UUID == "" {
		r.UUID = uuid.NewString()
	}
	return nil
}

// Expired reports whether the rule has an expiry in the past.
func (r *IPRule) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}
