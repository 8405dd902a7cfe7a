package services

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/aegis-sec/aegis/internal/models"
)

// EventService is the append-only security event sink. Events are
// write-once: nothing here mutates or deletes a recorded row.
type EventService struct {
	db *gorm.DB
}

// NewEventService returns an EventService using the provided DB.
func NewEventService(db *gorm.DB) *EventService {
	return &EventService{db: db}
}

// Record persists a security event.
func (s *EventService) Record(ctx context.Context, e *models.SecurityEvent) error {
	if e == nil {
		return nil
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(e).Error
}

// RecordEvent builds and persists an event in one call. Metadata is
// marshalled to JSON; a marshalling failure drops the metadata, never
// the event.
func (s *EventService) RecordEvent(ctx context.Context, eventType string, severity models.Severity, userID *uint, ip, description string, metadata map[string]interface{}) error {
	e := &models.SecurityEvent{
		EventType:   eventType,
		Severity:    severity,
		UserID:      userID,
		IP:          ip,
		Description: description,
	}
	if metadata != nil {
		if raw, err := json.Marshal(metadata); err == nil {
			e.Metadata = string(raw)
		}
	}
	return s.Record(ctx, e)
}

// List returns recent events ordered by created_at desc, optionally
// filtered by severity.
func (s *EventService) List(ctx context.Context, limit int, severity models.Severity) ([]models.SecurityEvent, error) {
	var events []models.SecurityEvent
	q := s.db.WithContext(ctx).Order("created_at desc")
	if severity != "" {
		q = q.Where("severity = ?", severity)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
