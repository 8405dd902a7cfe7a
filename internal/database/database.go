package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/aegis-sec/aegis/internal/models"
)

// Open bootstraps a SQLite database using the provided filesystem path.
func Open(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	return db, nil
}

// Migrate creates or updates the enforcement tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.IPRule{},
		&models.GeoRestriction{},
		&models.FailedAttempt{},
		&models.RateLimitViolation{},
		&models.Session{},
		&models.DeviceFingerprint{},
		&models.SecurityEvent{},
		&models.NotificationProvider{},
	)
}
