package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/aegis-sec/aegis/internal/config"
	"github.com/aegis-sec/aegis/internal/logger"
	"github.com/aegis-sec/aegis/internal/models"
)

// retainRawEvents bounds how long raw failure/violation rows are kept
// beyond what the rolling-window counts need.
const retainRawEvents = 24 * time.Hour

// MaintenanceService runs scheduled hygiene: deactivating expired IP
// rules, timing out overdue sessions and pruning aged raw event rows so
// the rolling-window COUNT queries stay bounded.
type MaintenanceService struct {
	db       *gorm.DB
	sessions *SessionService
	cfg      config.SecurityConfig
	cron     *cron.Cron
}

// NewMaintenanceService returns a sweeper; call Start to schedule it.
func NewMaintenanceService(db *gorm.DB, sessions *SessionService, cfg config.SecurityConfig) *MaintenanceService {
	return &MaintenanceService{db: db, sessions: sessions, cfg: cfg, cron: cron.New()}
}

// Start schedules the sweep every five minutes.
func (s *MaintenanceService) Start() error {
	if _, err := s.cron.AddFunc("@every 5m", func() {
		s.Sweep(context.Background())
	}); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for a running sweep to finish.
func (s *MaintenanceService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep runs one maintenance pass. Each step logs and continues on
// error; hygiene must never take the enforcement path down.
func (s *MaintenanceService) Sweep(ctx context.Context) {
	now := time.Now()

	res := s.db.WithContext(ctx).Model(&models.IPRule{}).
		Where("active = ? AND expires_at IS NOT NULL AND expires_at < ?", true, now).
		Update("active", false)
	if res.Error != nil {
		logger.Log().WithError(res.Error).Warn("maintenance: expiring IP rules failed")
	} else if res.RowsAffected > 0 {
		logger.WithFields(map[string]interface{}{"count": res.RowsAffected}).Info("maintenance: deactivated expired IP rules")
	}

	var overdue []models.Session
	if err := s.db.WithContext(ctx).
		Where("active = ? AND expires_at < ?", true, now).
		Find(&overdue).Error; err != nil {
		logger.Log().WithError(err).Warn("maintenance: loading overdue sessions failed")
	} else {
		for i := range overdue {
			if err := s.sessions.invalidate(ctx, &overdue[i], models.InvalidationTimeout); err != nil {
				logger.Log().WithError(err).Warn("maintenance: session timeout failed")
			}
		}
	}

	cutoff := now.Add(-s.cfg.FailedAttemptWindow - retainRawEvents)
	if err := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.FailedAttempt{}).Error; err != nil {
		logger.Log().WithError(err).Warn("maintenance: pruning failed attempts failed")
	}

	cutoff = now.Add(-s.cfg.ViolationWindow - retainRawEvents)
	if err := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.RateLimitViolation{}).Error; err != nil {
		logger.Log().WithError(err).Warn("maintenance: pruning violations failed")
	}
}
