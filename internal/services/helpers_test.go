package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/aegis-sec/aegis/internal/cache"
	"github.com/aegis-sec/aegis/internal/config"
	"github.com/aegis-sec/aegis/internal/geo"
	"github.com/aegis-sec/aegis/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.IPRule{},
		&models.GeoRestriction{},
		&models.FailedAttempt{},
		&models.RateLimitViolation{},
		&models.Session{},
		&models.DeviceFingerprint{},
		&models.SecurityEvent{},
		&models.NotificationProvider{},
	)
	require.NoError(t, err)

	return db
}

// recordingNotifier captures notifications instead of delivering them.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *recordingNotifier) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingNotifier) byType(eventType string) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notification
	for _, n := range r.sent {
		if n.Type == eventType {
			out = append(out, n)
		}
	}
	return out
}

// testEnv bundles the engines with their fakes for one test.
type testEnv struct {
	db         *gorm.DB
	cache      *cache.Memory
	events     *EventService
	notifier   *recordingNotifier
	resolver   *geo.Static
	cfg        config.SecurityConfig
	reputation *ReputationService
	ratelimit  *RateLimitService
	sessions   *SessionService
}

func newTestEnv(t *testing.T, mutate func(*config.SecurityConfig)) *testEnv {
	t.Helper()
	db := setupTestDB(t)
	mem := cache.NewMemory()
	events := NewEventService(db)
	notifier := &recordingNotifier{}
	resolver := &geo.Static{Locations: map[string]geo.Location{}}

	cfg := config.DefaultSecurityConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	reputation := NewReputationService(db, mem, events, notifier, resolver, cfg)
	ratelimit := NewRateLimitService(db, mem, events, reputation, nil, cfg)
	sessions := NewSessionService(db, mem, events, notifier, resolver, cfg)

	return &testEnv{
		db: db, cache: mem, events: events, notifier: notifier, resolver: resolver,
		cfg: cfg, reputation: reputation, ratelimit: ratelimit, sessions: sessions,
	}
}

func (e *testEnv) eventsOfType(t *testing.T, eventType string) []models.SecurityEvent {
	t.Helper()
	var out []models.SecurityEvent
	require.NoError(t, e.db.Where("event_type = ?", eventType).Find(&out).Error)
	return out
}
