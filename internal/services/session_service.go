package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/aegis-sec/aegis/internal/cache"
	"github.com/aegis-sec/aegis/internal/config"
	"github.com/aegis-sec/aegis/internal/geo"
	"github.com/aegis-sec/aegis/internal/logger"
	"github.com/aegis-sec/aegis/internal/metrics"
	"github.com/aegis-sec/aegis/internal/models"
)

var ErrSessionNotFound = errors.New("session not found or expired")

// Validation failure reasons returned to the middleware boundary.
const (
	ValidationNotFound = "not_found_or_expired"
	ValidationTimeout  = models.InvalidationTimeout
	ValidationHijack   = models.InvalidationHijackDetected
)

// DeviceInfo is the fingerprint material supplied at session creation.
type DeviceInfo struct {
	FingerprintHash string
	Name            string
	Type            string
	OS              string
	Browser         string
}

// ValidationResult is the session monitor's answer for one request.
type ValidationResult struct {
	Valid   bool
	Reason  string
	Session *models.Session
}

// SessionService owns the session lifecycle: creation under the
// concurrent-session cap, per-request integrity validation (inactivity,
// hijack, implausible travel), and terminal invalidation.
type SessionService struct {
	db       *gorm.DB
	cache    cache.Cache
	events   *EventService
	notifier Notifier
	resolver geo.Resolver
	cfg      config.SecurityConfig
}

// NewSessionService wires the monitor with its collaborators.
func NewSessionService(db *gorm.DB, c cache.Cache, events *EventService, notifier Notifier, resolver geo.Resolver, cfg config.SecurityConfig) *SessionService {
	return &SessionService{db: db, cache: c, events: events, notifier: notifier, resolver: resolver, cfg: cfg}
}

// cachedSession re-exposes the token, which the model deliberately
// hides from JSON serialization.
type cachedSession struct {
	models.Session
	Token string `json:"token"`
}

// Create opens a session for userID. When the user is at the concurrent
// cap, the oldest sessions are evicted first. The returned session
// carries the opaque token; it is shown to the client exactly once.
func (s *SessionService) Create(ctx context.Context, userID uint, ip, userAgent string, device *DeviceInfo, location string) (*models.Session, error) {
	if err := s.enforceSessionCap(ctx, userID); err != nil {
		return nil, err
	}

	var deviceID *uint
	if device != nil && device.FingerprintHash != "" {
		id, err := s.upsertDevice(ctx, userID, device)
		if err != nil {
			return nil, err
		}
		deviceID = id
	}

	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &models.Session{
		UserID:       userID,
		Token:        token,
		IP:           ip,
		UserAgent:    userAgent,
		DeviceID:     deviceID,
		Location:     location,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(s.cfg.SessionDuration),
		Active:       true,
	}
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.cacheSession(ctx, sess)
	metrics.IncSessionCreated()

	if err := s.events.RecordEvent(ctx, models.EventSessionCreated, models.SeverityInfo, &userID, ip,
		"session created", map[string]interface{}{"session_id": sess.ID}); err != nil {
		logger.Log().WithError(err).Warn("failed to record session event")
	}
	return sess, nil
}

// enforceSessionCap invalidates the oldest active sessions (FIFO) until
// a slot is free.
func (s *SessionService) enforceSessionCap(ctx context.Context, userID uint) error {
	var active []models.Session
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Order("created_at asc").
		Find(&active).Error; err != nil {
		return err
	}
	for len(active) >= s.cfg.MaxSessionsPerUser {
		oldest := active[0]
		active = active[1:]
		if err := s.invalidate(ctx, &oldest, models.InvalidationEvicted); err != nil {
			return err
		}
	}
	return nil
}

// upsertDevice records a sighting of the fingerprint, creating it
// untrusted on first sight. Over the device cap, the least-recently
// seen untrusted device is evicted; trusted devices never are.
func (s *SessionService) upsertDevice(ctx context.Context, userID uint, info *DeviceInfo) (*uint, error) {
	now := time.Now()

	var device models.DeviceFingerprint
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND fingerprint_hash = ?", userID, info.FingerprintHash).
		First(&device).Error
	if err == nil {
		device.LastSeenAt = now
		if err := s.db.WithContext(ctx).Save(&device).Error; err != nil {
			return nil, err
		}
		return &device.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	device = models.DeviceFingerprint{
		UserID:          userID,
		FingerprintHash: info.FingerprintHash,
		Name:            info.Name,
		Type:            info.Type,
		OS:              info.OS,
		Browser:         info.Browser,
		Trusted:         false,
		LastSeenAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(&device).Error; err != nil {
		return nil, err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.DeviceFingerprint{}).
		Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > int64(s.cfg.MaxDevicesPerUser) {
		var stale models.DeviceFingerprint
		err := s.db.WithContext(ctx).
			Where("user_id = ? AND trusted = ?", userID, false).
			Order("last_seen_at asc").
			First(&stale).Error
		if err == nil {
			if err := s.db.WithContext(ctx).Delete(&stale).Error; err != nil {
				return nil, err
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		// All remaining devices trusted: stay over cap rather than
		// evicting a trusted device.
	}

	if err := s.events.RecordEvent(ctx, models.EventNewDevice, models.SeverityInfo, &userID, "",
		"new device registered", map[string]interface{}{"device_id": device.ID, "name": info.Name}); err != nil {
		logger.Log().WithError(err).Warn("failed to record device event")
	}
	s.notifier.Notify(Notification{
		Type:     models.EventNewDevice,
		Severity: models.SeverityInfo,
		Title:    "New device",
		Message:  fmt.Sprintf("A new device %q was used to sign in", info.Name),
		Metadata: map[string]interface{}{"user_id": userID},
	})

	return &device.ID, nil
}

// Validate checks the session behind token against the requesting IP
// and user agent. Hijack detection fails closed unconditionally; the
// geographic-anomaly heuristic flags and notifies but does not force
// invalidation.
func (s *SessionService) Validate(ctx context.Context, token, ip, userAgent string) ValidationResult {
	sess, err := s.resolveSession(ctx, token)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			logger.Log().WithError(err).Warn("session resolution failed")
		}
		return ValidationResult{Reason: ValidationNotFound}
	}

	now := time.Now()
	if !sess.Usable(now) {
		return ValidationResult{Reason: ValidationNotFound}
	}

	if now.Sub(sess.LastActivity) > s.cfg.InactivityTimeout {
		if err := s.invalidate(ctx, sess, models.InvalidationTimeout); err != nil {
			logger.Log().WithError(err).Warn("failed to invalidate timed-out session")
		}
		return ValidationResult{Reason: ValidationTimeout}
	}

	ipChanged := ip != sess.IP
	uaChanged := userAgent != sess.UserAgent

	if ipChanged && uaChanged {
		s.handleHijack(ctx, sess, ip, userAgent)
		return ValidationResult{Reason: ValidationHijack}
	}

	if ipChanged && !s.deviceTrusted(ctx, sess) {
		s.checkTravelSpeed(ctx, sess, ip, now)
	}

	// lastActivity is monotonically non-decreasing; last-write-wins is
	// acceptable at minute-scale clock skew.
	updates := map[string]interface{}{"ip": ip}
	if now.After(sess.LastActivity) {
		sess.LastActivity = now
		updates["last_activity"] = now
	}
	sess.IP = ip
	if err := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", sess.ID).Updates(updates).Error; err != nil {
		logger.Log().WithError(err).Warn("failed to update session activity")
	}
	s.cacheSession(ctx, sess)

	return ValidationResult{Valid: true, Session: sess}
}

// UserIDForToken resolves the user behind a still-usable session token.
// Pure lookup for rate-limit keying: no activity bump, no integrity
// checks, no invalidation side effects.
func (s *SessionService) UserIDForToken(ctx context.Context, token string) (uint, bool) {
	sess, err := s.resolveSession(ctx, token)
	if err != nil || !sess.Usable(time.Now()) {
		return 0, false
	}
	return sess.UserID, true
}

// resolveSession loads the session from cache, falling back to the
// store and repopulating the cache on a miss.
func (s *SessionService) resolveSession(ctx context.Context, token string) (*models.Session, error) {
	key := cache.PrefixSession + token
	if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var cs cachedSession
		if json.Unmarshal([]byte(raw), &cs) == nil {
			sess := cs.Session
			sess.Token = cs.Token
			return &sess, nil
		}
	} else if err != nil {
		logger.Log().WithError(err).Warn("session cache read failed")
	}

	var sess models.Session
	if err := s.db.WithContext(ctx).Where("token = ?", token).First(&sess).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	s.cacheSession(ctx, &sess)
	return &sess, nil
}

// handleHijack is the unconditional fail-closed path: every active
// session for the user is invalidated regardless of downstream errors.
func (s *SessionService) handleHijack(ctx context.Context, sess *models.Session, ip, userAgent string) {
	metrics.IncHijackDetected()

	if err := s.InvalidateAllUserSessions(ctx, sess.UserID, models.InvalidationHijackDetected, ""); err != nil {
		logger.WithFields(map[string]interface{}{"user_id": sess.UserID}).WithError(err).Error("failed to invalidate sessions after hijack")
	}

	if err := s.events.RecordEvent(ctx, models.EventHijackDetected, models.SeverityCritical, &sess.UserID, ip,
		"session hijack detected: IP and user agent both changed",
		map[string]interface{}{
			"session_id":  sess.ID,
			"original_ip": sess.IP,
			"new_ip":      ip,
		}); err != nil {
		logger.Log().WithError(err).Error("failed to record hijack event")
	}

	s.notifier.Notify(Notification{
		Type:     models.EventHijackDetected,
		Severity: models.SeverityCritical,
		Title:    "Possible session hijack",
		Message:  fmt.Sprintf("All sessions for user %d were terminated after a hijack signature", sess.UserID),
		Metadata: map[string]interface{}{"user_id": sess.UserID, "ip": ip},
	})
}

// deviceTrusted reports whether the session is bound to a trusted
// device, which tolerates IP-only changes.
func (s *SessionService) deviceTrusted(ctx context.Context, sess *models.Session) bool {
	if sess.DeviceID == nil {
		return false
	}
	var device models.DeviceFingerprint
	if err := s.db.WithContext(ctx).First(&device, *sess.DeviceID).Error; err != nil {
		return false
	}
	return device.Trusted
}

// checkTravelSpeed flags physically implausible movement between the
// session's last-known IP and the new one. Flag-and-allow: the session
// stays valid.
func (s *SessionService) checkTravelSpeed(ctx context.Context, sess *models.Session, newIP string, now time.Time) {
	from, err := geo.Lookup(ctx, s.resolver, sess.IP)
	if err != nil || from == nil {
		return
	}
	to, err := geo.Lookup(ctx, s.resolver, newIP)
	if err != nil || to == nil {
		return
	}

	miles := geo.DistanceMiles(from, to)
	if miles < 50 {
		// Below coordinate resolution; never flag.
		return
	}

	hours := now.Sub(sess.LastActivity).Hours()
	if hours <= 0 {
		hours = 1.0 / 3600 // floor at one second
	}
	speed := miles / hours
	if speed <= s.cfg.MaxTravelSpeedMPH {
		return
	}

	metrics.IncGeoAnomaly()
	if err := s.events.RecordEvent(ctx, models.EventGeoAnomaly, models.SeverityHigh, &sess.UserID, newIP,
		"implausible travel speed between session activities",
		map[string]interface{}{
			"from_country": from.CountryCode,
			"to_country":   to.CountryCode,
			"miles":        miles,
			"speed_mph":    speed,
		}); err != nil {
		logger.Log().WithError(err).Warn("failed to record geo anomaly event")
	}
	s.notifier.Notify(Notification{
		Type:     models.EventGeoAnomaly,
		Severity: models.SeverityHigh,
		Title:    "Implausible travel detected",
		Message:  fmt.Sprintf("User %d moved %.0f miles at an implied %.0f mph", sess.UserID, miles, speed),
		Metadata: map[string]interface{}{"user_id": sess.UserID, "ip": newIP},
	})
}

// Invalidate terminates the session behind token. Invalidating an
// already-inactive session is a no-op.
func (s *SessionService) Invalidate(ctx context.Context, token, reason string) error {
	var sess models.Session
	if err := s.db.WithContext(ctx).Where("token = ?", token).First(&sess).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if !sess.Active {
		return nil
	}
	return s.invalidate(ctx, &sess, reason)
}

func (s *SessionService) invalidate(ctx context.Context, sess *models.Session, reason string) error {
	if err := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", sess.ID).
		Updates(map[string]interface{}{"active": false, "invalidation_reason": reason}).Error; err != nil {
		return err
	}
	sess.Active = false
	sess.InvalidationReason = reason
	metrics.IncSessionInvalidated()

	if err := s.cache.Delete(ctx, cache.PrefixSession+sess.Token); err != nil {
		logger.Log().WithError(err).Warn("failed to purge session cache entry")
	}

	if securityReason(reason) {
		if err := s.events.RecordEvent(ctx, models.EventSessionInvalidated, models.SeverityWarning, &sess.UserID, sess.IP,
			"session invalidated: "+reason, map[string]interface{}{"session_id": sess.ID}); err != nil {
			logger.Log().WithError(err).Warn("failed to record invalidation event")
		}
	}
	return nil
}

func securityReason(reason string) bool {
	return reason == models.InvalidationHijackDetected || reason == models.InvalidationAdmin
}

// InvalidateAllUserSessions terminates every active session for the
// user, optionally sparing exceptToken. Idempotent.
func (s *SessionService) InvalidateAllUserSessions(ctx context.Context, userID uint, reason, exceptToken string) error {
	var sessions []models.Session
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Find(&sessions).Error; err != nil {
		return err
	}

	var firstErr error
	for i := range sessions {
		if exceptToken != "" && sessions[i].Token == exceptToken {
			continue
		}
		if err := s.invalidate(ctx, &sessions[i], reason); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// TrustDevice marks a device as trusted so it is exempt from automatic
// eviction and tolerates IP-only changes.
func (s *SessionService) TrustDevice(ctx context.Context, userID, deviceID uint) error {
	res := s.db.WithContext(ctx).Model(&models.DeviceFingerprint{}).
		Where("id = ? AND user_id = ?", deviceID, userID).
		Update("trusted", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListSessions returns the user's active sessions, newest first.
func (s *SessionService) ListSessions(ctx context.Context, userID uint) ([]models.Session, error) {
	var sessions []models.Session
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Order("created_at desc").
		Find(&sessions).Error
	return sessions, err
}

func (s *SessionService) cacheSession(ctx context.Context, sess *models.Session) {
	raw, err := json.Marshal(cachedSession{Session: *sess, Token: sess.Token})
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cache.PrefixSession+sess.Token, string(raw), s.cfg.CacheTTL); err != nil {
		logger.Log().WithError(err).Warn("session cache write failed")
	}
}

// generateToken returns a 256-bit random opaque token.
func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
