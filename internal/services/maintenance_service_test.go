package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-sec/aegis/internal/models"
)

func TestMaintenance_SweepExpiresRulesAndSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	maint := NewMaintenanceService(env.db, env.sessions, env.cfg)

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	require.NoError(t, env.db.Create(&models.IPRule{
		IPOrRange: "203.0.113.1", AccessType: models.AccessBlock,
		Reason: "stale", Active: true, ExpiresAt: &past,
	}).Error)
	require.NoError(t, env.db.Create(&models.IPRule{
		IPOrRange: "203.0.113.2", AccessType: models.AccessBlock,
		Reason: "current", Active: true, ExpiresAt: &future,
	}).Error)

	sess, err := env.sessions.Create(ctx, 1, "203.0.113.3", "ua", nil, "")
	require.NoError(t, err)
	require.NoError(t, env.db.Model(&models.Session{}).Where("id = ?", sess.ID).
		Update("expires_at", past).Error)

	maint.Sweep(ctx)

	var stale models.IPRule
	require.NoError(t, env.db.Where("ip_or_range = ?", "203.0.113.1").First(&stale).Error)
	assert.False(t, stale.Active)

	var current models.IPRule
	require.NoError(t, env.db.Where("ip_or_range = ?", "203.0.113.2").First(&current).Error)
	assert.True(t, current.Active)

	var swept models.Session
	require.NoError(t, env.db.First(&swept, sess.ID).Error)
	assert.False(t, swept.Active)
	assert.Equal(t, models.InvalidationTimeout, swept.InvalidationReason)
}

func TestMaintenance_SweepPrunesAgedRows(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	maint := NewMaintenanceService(env.db, env.sessions, env.cfg)

	old := time.Now().Add(-3 * 24 * time.Hour)
	recent := time.Now().Add(-10 * time.Minute)

	require.NoError(t, env.db.Create(&models.FailedAttempt{IP: "203.0.113.4", CreatedAt: old}).Error)
	require.NoError(t, env.db.Create(&models.FailedAttempt{IP: "203.0.113.4", CreatedAt: recent}).Error)
	require.NoError(t, env.db.Create(&models.RateLimitViolation{
		Identifier: "ip:203.0.113.4", IP: "203.0.113.4", Endpoint: "/x",
		ViolationType: "limit_exceeded", CreatedAt: old,
	}).Error)

	maint.Sweep(ctx)

	var attempts int64
	require.NoError(t, env.db.Model(&models.FailedAttempt{}).Count(&attempts).Error)
	assert.Equal(t, int64(1), attempts, "rows inside the retention window survive")

	var violations int64
	require.NoError(t, env.db.Model(&models.RateLimitViolation{}).Count(&violations).Error)
	assert.Equal(t, int64(0), violations)
}
