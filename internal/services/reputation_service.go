package services

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/aegis-sec/aegis/internal/cache"
	"github.com/aegis-sec/aegis/internal/config"
	"github.com/aegis-sec/aegis/internal/geo"
	"github.com/aegis-sec/aegis/internal/logger"
	"github.com/aegis-sec/aegis/internal/metrics"
	"github.com/aegis-sec/aegis/internal/models"
	"github.com/aegis-sec/aegis/internal/util"
)

var (
	ErrInvalidIPRule       = errors.New("invalid IP address, CIDR or range")
	ErrInvalidCountryCode  = errors.New("invalid country code")
	ErrInvalidRestrictType = errors.New("restriction type must be allow or block")
)

var countryCodeRegex = regexp.MustCompile(`^[A-Z]{2}$`)

// AccessVerdict is the reputation engine's answer for one IP.
type AccessVerdict struct {
	Allowed bool   `json:"allowed"`
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason,omitempty"`
	Source  string `json:"source,omitempty"`
}

// ReputationService resolves explicit rules, geographic restrictions and
// failure history into a single allow/deny verdict per IP. Read-path
// infrastructure errors fail open: availability is prioritized over
// blocking when the store or cache is unreachable.
type ReputationService struct {
	db       *gorm.DB
	cache    cache.Cache
	events   *EventService
	notifier Notifier
	resolver geo.Resolver
	cfg      config.SecurityConfig
}

// NewReputationService wires the engine with its collaborators.
func NewReputationService(db *gorm.DB, c cache.Cache, events *EventService, notifier Notifier, resolver geo.Resolver, cfg config.SecurityConfig) *ReputationService {
	return &ReputationService{db: db, cache: c, events: events, notifier: notifier, resolver: resolver, cfg: cfg}
}

// CheckAccess evaluates ip in fixed order, short-circuiting on the
// first definitive verdict: cache, exact rule, CIDR rule, range rule,
// geographic restriction, auto-block from failure history, default
// allow. Every computed verdict is cached before returning.
func (s *ReputationService) CheckAccess(ctx context.Context, ip string) AccessVerdict {
	ip = strings.TrimSpace(ip)
	if net.ParseIP(ip) == nil {
		logger.WithFields(map[string]interface{}{"ip": util.SanitizeForLog(ip)}).Warn("reputation check on unparseable IP, allowing")
		return AccessVerdict{Allowed: true, Source: "default"}
	}

	cacheKey := cache.PrefixIPAccess + ip
	if raw, ok, err := s.cache.Get(ctx, cacheKey); err == nil && ok {
		var v AccessVerdict
		if json.Unmarshal([]byte(raw), &v) == nil {
			s.count(v)
			return v
		}
	} else if err != nil {
		logger.Log().WithError(err).Warn("reputation cache read failed")
	}

	v, err := s.evaluate(ctx, ip)
	if err != nil {
		// Fail open: an unreachable store must degrade availability of
		// blocking, never availability of the platform.
		logger.WithFields(map[string]interface{}{"ip": ip}).WithError(err).Warn("reputation evaluation failed, allowing")
		return AccessVerdict{Allowed: true, Source: "fail_open"}
	}

	s.cacheVerdict(ctx, cacheKey, v)
	s.count(v)
	return v
}

func (s *ReputationService) count(v AccessVerdict) {
	if v.Blocked {
		metrics.IncIPCheckBlocked()
	} else {
		metrics.IncIPCheckAllowed()
	}
}

func (s *ReputationService) evaluate(ctx context.Context, ip string) (AccessVerdict, error) {
	now := time.Now()

	// Explicit exact-match rules take precedence over everything.
	var exact []models.IPRule
	if err := s.db.WithContext(ctx).
		Where("ip_or_range = ? AND active = ?", ip, true).
		Find(&exact).Error; err != nil {
		return AccessVerdict{}, err
	}
	if v, ok := verdictFromRules(exact, now, "exact_rule"); ok {
		return v, nil
	}

	// CIDR blocks, then inclusive ranges. A malformed stored rule skips
	// that rule only.
	var ranged []models.IPRule
	if err := s.db.WithContext(ctx).
		Where("active = ? AND (ip_or_range LIKE '%/%' OR ip_or_range LIKE '%-%')", true).
		Find(&ranged).Error; err != nil {
		return AccessVerdict{}, err
	}
	if v, ok := s.matchRanged(ranged, ip, now, util.IsCIDR, util.CIDRContains, "cidr_rule"); ok {
		return v, nil
	}
	if v, ok := s.matchRanged(ranged, ip, now, util.IsRange, util.RangeContains, "range_rule"); ok {
		return v, nil
	}

	if v, ok := s.checkGeo(ctx, ip); ok {
		return v, nil
	}

	if v, ok, err := s.checkAutoBlock(ctx, ip, now); err != nil {
		return AccessVerdict{}, err
	} else if ok {
		return v, nil
	}

	return AccessVerdict{Allowed: true, Source: "default"}, nil
}

// verdictFromRules picks the applicable rule: a block rule wins when
// both types somehow exist for the same IP.
func verdictFromRules(rules []models.IPRule, now time.Time, source string) (AccessVerdict, bool) {
	var allow *models.IPRule
	for i := range rules {
		r := &rules[i]
		if r.Expired(now) {
			continue
		}
		switch r.AccessType {
		case models.AccessBlock:
			return AccessVerdict{Blocked: true, Reason: r.Reason, Source: source}, true
		case models.AccessAllow:
			allow = r
		}
	}
	if allow != nil {
		return AccessVerdict{Allowed: true, Reason: allow.Reason, Source: source}, true
	}
	return AccessVerdict{}, false
}

type matchFunc func(rule, ip string) (bool, error)

func (s *ReputationService) matchRanged(rules []models.IPRule, ip string, now time.Time, selects func(string) bool, matches matchFunc, source string) (AccessVerdict, bool) {
	var applicable []models.IPRule
	for _, r := range rules {
		if !selects(r.IPOrRange) || r.Expired(now) {
			continue
		}
		ok, err := matches(r.IPOrRange, ip)
		if err != nil {
			logger.WithFields(map[string]interface{}{"rule": r.IPOrRange}).WithError(err).Warn("skipping malformed IP rule")
			continue
		}
		if ok {
			applicable = append(applicable, r)
		}
	}
	return verdictFromRules(applicable, now, source)
}

// checkGeo applies the region-specific rule if present, else the
// country-level rule, else the configured default allow-list. A failed
// geolocation lookup degrades to "no geographic verdict".
func (s *ReputationService) checkGeo(ctx context.Context, ip string) (AccessVerdict, bool) {
	loc, err := geo.Lookup(ctx, s.resolver, ip)
	if err != nil {
		logger.WithFields(map[string]interface{}{"ip": ip}).WithError(err).Warn("geolocation lookup failed, skipping geographic check")
		return AccessVerdict{}, false
	}
	if loc == nil || loc.CountryCode == "" || loc.CountryCode == "LOCAL" {
		return AccessVerdict{}, false
	}

	var restrictions []models.GeoRestriction
	if err := s.db.WithContext(ctx).
		Where("country_code = ? AND active = ?", loc.CountryCode, true).
		Find(&restrictions).Error; err != nil {
		logger.Log().WithError(err).Warn("geo restriction load failed, skipping geographic check")
		return AccessVerdict{}, false
	}

	var countryRule *models.GeoRestriction
	for i := range restrictions {
		r := &restrictions[i]
		if r.RegionCode != "" {
			if loc.RegionCode != "" && r.RegionCode == loc.RegionCode {
				return geoVerdict(r), true
			}
			continue
		}
		countryRule = r
	}
	if countryRule != nil {
		return geoVerdict(countryRule), true
	}

	if len(s.cfg.AllowedCountries) > 0 {
		for _, cc := range s.cfg.AllowedCountries {
			if strings.EqualFold(cc, loc.CountryCode) {
				return AccessVerdict{Allowed: true, Source: "geo_default"}, true
			}
		}
		return AccessVerdict{Blocked: true, Reason: "country not in allowed list", Source: "geo_default"}, true
	}
	return AccessVerdict{}, false
}

func geoVerdict(r *models.GeoRestriction) AccessVerdict {
	if r.RestrictionType == models.AccessBlock {
		return AccessVerdict{Blocked: true, Reason: r.Reason, Source: "geo_rule"}
	}
	return AccessVerdict{Allowed: true, Reason: r.Reason, Source: "geo_rule"}
}

// checkAutoBlock counts failed attempts in the rolling window and, at
// the threshold, synthesizes a block rule. The synthesized rule is what
// short-circuits subsequent checks, so repeated calls cannot create
// duplicates.
func (s *ReputationService) checkAutoBlock(ctx context.Context, ip string, now time.Time) (AccessVerdict, bool, error) {
	var count int64
	since := now.Add(-s.cfg.FailedAttemptWindow)
	if err := s.db.WithContext(ctx).Model(&models.FailedAttempt{}).
		Where("ip = ? AND created_at > ?", ip, since).
		Count(&count).Error; err != nil {
		return AccessVerdict{}, false, err
	}
	if count < int64(s.cfg.FailedAttemptThreshold) {
		return AccessVerdict{}, false, nil
	}

	expires := now.Add(s.cfg.AutoBlockDuration)
	rule := &models.IPRule{
		IPOrRange:  ip,
		AccessType: models.AccessBlock,
		Reason:     "automatic block: repeated authentication failures",
		CreatedBy:  "system",
		ExpiresAt:  &expires,
		Active:     true,
	}
	// The block itself is a security verdict: it fails closed even when
	// the event, notification or cache write below errors.
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		logger.WithFields(map[string]interface{}{"ip": ip}).WithError(err).Error("failed to persist auto-block rule")
	}
	metrics.IncAutoBlock()

	if err := s.events.RecordEvent(ctx, models.EventIPAutoBlocked, models.SeverityHigh, nil, ip,
		"IP automatically blocked after repeated failed attempts",
		map[string]interface{}{"failed_attempts": count, "window": s.cfg.FailedAttemptWindow.String(), "expires_at": expires}); err != nil {
		logger.Log().WithError(err).Warn("failed to record auto-block event")
	}
	s.notifier.Notify(Notification{
		Type:     models.EventIPAutoBlocked,
		Severity: models.SeverityHigh,
		Title:    "IP automatically blocked",
		Message:  "Repeated authentication failures triggered an automatic block for " + ip,
		Metadata: map[string]interface{}{"ip": ip, "failed_attempts": count},
	})

	return AccessVerdict{Blocked: true, Reason: "too many failed attempts", Source: "auto_block"}, true, nil
}

func (s *ReputationService) cacheVerdict(ctx context.Context, key string, v AccessVerdict) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, string(raw), s.cfg.CacheTTL); err != nil {
		logger.Log().WithError(err).Warn("reputation cache write failed")
	}
}

// RecordFailedAttempt appends one failure for ip to the rolling window
// that drives auto-blocking.
func (s *ReputationService) RecordFailedAttempt(ctx context.Context, ip string) error {
	return s.db.WithContext(ctx).Create(&models.FailedAttempt{IP: ip, CreatedAt: time.Now()}).Error
}

// BlockIP writes (or extends) a block rule for an IP, CIDR or range,
// invalidates the affected cache entries before returning, and emits a
// warning event.
func (s *ReputationService) BlockIP(ctx context.Context, ipOrRange, reason string, duration time.Duration, actor string) (*models.IPRule, error) {
	return s.upsertRule(ctx, ipOrRange, models.AccessBlock, reason, duration, actor, models.EventIPBlocked, models.SeverityWarning)
}

// AllowIP writes (or refreshes) an allow rule and emits an info event.
func (s *ReputationService) AllowIP(ctx context.Context, ipOrRange, reason string, actor string) (*models.IPRule, error) {
	return s.upsertRule(ctx, ipOrRange, models.AccessAllow, reason, 0, actor, models.EventIPAllowed, models.SeverityInfo)
}

func (s *ReputationService) upsertRule(ctx context.Context, ipOrRange string, accessType models.AccessType, reason string, duration time.Duration, actor, eventType string, severity models.Severity) (*models.IPRule, error) {
	ipOrRange = strings.TrimSpace(ipOrRange)
	if !util.ValidIPOrRange(ipOrRange) {
		return nil, ErrInvalidIPRule
	}

	var expires *time.Time
	if duration > 0 {
		t := time.Now().Add(duration)
		expires = &t
	}

	// Reapplying an equivalent rule extends/overwrites instead of
	// duplicating.
	rule := &models.IPRule{}
	err := s.db.WithContext(ctx).
		Where("ip_or_range = ? AND access_type = ? AND active = ?", ipOrRange, accessType, true).
		First(rule).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		rule = &models.IPRule{
			IPOrRange:  ipOrRange,
			AccessType: accessType,
			Reason:     reason,
			CreatedBy:  actor,
			ExpiresAt:  expires,
			Active:     true,
		}
		if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		rule.Reason = reason
		rule.CreatedBy = actor
		rule.ExpiresAt = expires
		if err := s.db.WithContext(ctx).Save(rule).Error; err != nil {
			return nil, err
		}
	}

	s.invalidateFor(ctx, ipOrRange)

	if err := s.events.RecordEvent(ctx, eventType, severity, nil, ipOrRange,
		string(accessType)+" rule applied by "+actor,
		map[string]interface{}{"reason": reason, "actor": actor}); err != nil {
		logger.Log().WithError(err).Warn("failed to record rule event")
	}
	return rule, nil
}

// UnblockIP deactivates any active block rule for the exact value.
// Calling it with nothing to unblock is a no-op.
func (s *ReputationService) UnblockIP(ctx context.Context, ipOrRange, actor string) error {
	res := s.db.WithContext(ctx).Model(&models.IPRule{}).
		Where("ip_or_range = ? AND access_type = ? AND active = ?", ipOrRange, models.AccessBlock, true).
		Update("active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}

	s.invalidateFor(ctx, ipOrRange)

	if err := s.events.RecordEvent(ctx, models.EventIPUnblocked, models.SeverityInfo, nil, ipOrRange,
		"block rule removed by "+actor, map[string]interface{}{"actor": actor}); err != nil {
		logger.Log().WithError(err).Warn("failed to record unblock event")
	}
	return nil
}

// AddGeoRestriction writes (or overwrites) a country/region restriction
// and purges the whole IP verdict namespace, since a geographic rule
// affects every IP.
func (s *ReputationService) AddGeoRestriction(ctx context.Context, countryCode string, restrictionType models.AccessType, regionCode, reason, actor string) (*models.GeoRestriction, error) {
	countryCode = strings.ToUpper(strings.TrimSpace(countryCode))
	if !countryCodeRegex.MatchString(countryCode) {
		return nil, ErrInvalidCountryCode
	}
	if restrictionType != models.AccessAllow && restrictionType != models.AccessBlock {
		return nil, ErrInvalidRestrictType
	}
	regionCode = strings.ToUpper(strings.TrimSpace(regionCode))

	restriction := &models.GeoRestriction{}
	err := s.db.WithContext(ctx).
		Where("country_code = ? AND region_code = ? AND active = ?", countryCode, regionCode, true).
		First(restriction).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		restriction = &models.GeoRestriction{
			CountryCode:     countryCode,
			RegionCode:      regionCode,
			RestrictionType: restrictionType,
			Reason:          reason,
			CreatedBy:       actor,
			Active:          true,
		}
		if err := s.db.WithContext(ctx).Create(restriction).Error; err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		restriction.RestrictionType = restrictionType
		restriction.Reason = reason
		restriction.CreatedBy = actor
		if err := s.db.WithContext(ctx).Save(restriction).Error; err != nil {
			return nil, err
		}
	}

	if err := s.cache.DeletePattern(ctx, cache.PrefixIPAccess); err != nil {
		logger.Log().WithError(err).Warn("failed to purge IP verdict cache after geo change")
	}

	if err := s.events.RecordEvent(ctx, models.EventGeoRestrictionSet, models.SeverityWarning, nil, "",
		"geographic restriction for "+countryCode+" set by "+actor,
		map[string]interface{}{"country": countryCode, "region": regionCode, "type": restrictionType, "actor": actor}); err != nil {
		logger.Log().WithError(err).Warn("failed to record geo restriction event")
	}
	return restriction, nil
}

// invalidateFor removes the cached verdicts a rule write affects: one
// key for an exact IP, the whole namespace for a CIDR or range.
func (s *ReputationService) invalidateFor(ctx context.Context, ipOrRange string) {
	var err error
	if util.IsCIDR(ipOrRange) || util.IsRange(ipOrRange) {
		err = s.cache.DeletePattern(ctx, cache.PrefixIPAccess)
	} else {
		err = s.cache.Delete(ctx, cache.PrefixIPAccess+ipOrRange)
	}
	if err != nil {
		logger.WithFields(map[string]interface{}{"rule": ipOrRange}).WithError(err).Warn("cache invalidation failed")
	}
}

// ListRules returns active IP rules for the admin surface.
func (s *ReputationService) ListRules(ctx context.Context) ([]models.IPRule, error) {
	var rules []models.IPRule
	err := s.db.WithContext(ctx).Where("active = ?", true).Order("created_at desc").Find(&rules).Error
	return rules, err
}
