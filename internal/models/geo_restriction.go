package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GeoRestriction allows or blocks traffic by country, optionally narrowed
// to a region. A region-level rule overrides the country-level rule for
// the same country.
type GeoRestriction struct {
	ID              uint       `json:"id" gorm:"primaryKey"`
	UUID            string     `json:"uuid" gorm:"uniqueIndex"`
	CountryCode     string     `json:"country_code" gorm:"index"` // ISO 3166-1 alpha-2
	RegionCode      string     `json:"region_code,omitempty" gorm:"index"`
	RestrictionType AccessType `json:"restriction_type"`
	Reason          string     `json:"reason"`
	CreatedBy       string     `json:"created_by"`
	Active          bool       `json:"active" gorm:"index;default:true"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (GeoRestriction) TableName() string { return "geo_restrictions" }

func (g *GeoRestriction) BeforeCreate(tx *gorm.DB) error {
	if g.UUID == "" {
		g.UUID = uuid.NewString()
	}
	return nil
}
