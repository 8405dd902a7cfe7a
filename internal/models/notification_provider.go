package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NotificationProvider is an out-of-band delivery target (shoutrrr URL:
// discord, slack, smtp, gotify, ...). MinSeverity filters which events
// reach the provider; critical alerts always qualify.
type NotificationProvider struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name"`
	Type        string    `json:"type"` // discord, slack, smtp, webhook, ...
	URL         string    `json:"url"`
	MinSeverity Severity  `json:"min_severity" gorm:"default:'warning'"`
	Enabled     bool      `json:"enabled" gorm:"default:true"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (n *NotificationProvider) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}
