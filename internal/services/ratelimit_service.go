package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/aegis-sec/aegis/internal/cache"
	"github.com/aegis-sec/aegis/internal/config"
	"github.com/aegis-sec/aegis/internal/logger"
	"github.com/aegis-sec/aegis/internal/metrics"
	"github.com/aegis-sec/aegis/internal/models"
	"github.com/aegis-sec/aegis/internal/util"
)

// Machine-readable denial reasons carried on rejected responses.
const (
	ReasonRateLimitExceeded = "rate_limit_exceeded"
	ReasonBlockedByPenalty  = "blocked_by_penalty"
	ReasonIPBlocked         = "ip_blocked"
)

// Budget is a per-endpoint request allowance.
type Budget struct {
	Points int
	Window time.Duration
}

// BudgetRegistry maps endpoints to budgets, falling back to a global
// default. It is safe for concurrent use, so multiple configurations
// can coexist without ambient module state.
type BudgetRegistry struct {
	mu       sync.RWMutex
	budgets  map[string]Budget
	fallback Budget
}

// NewBudgetRegistry returns a registry with the given default budget.
func NewBudgetRegistry(fallback Budget) *BudgetRegistry {
	return &BudgetRegistry{budgets: make(map[string]Budget), fallback: fallback}
}

// Set installs or replaces the budget for an endpoint.
func (r *BudgetRegistry) Set(endpoint string, b Budget) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.budgets[endpoint] = b
}

// Resolve returns the endpoint's budget, or the default.
func (r *BudgetRegistry) Resolve(endpoint string) Budget {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.budgets[endpoint]; ok {
		return b
	}
	return r.fallback
}

// penaltyTier shrinks the effective budget as violations accumulate.
// Tiers are ordered ascending; the highest matching tier wins.
type penaltyTier struct {
	minViolations int64
	multiplier    float64
	duration      time.Duration
}

var penaltyTiers = []penaltyTier{
	{minViolations: 3, multiplier: 0.5, duration: 5 * time.Minute},
	{minViolations: 5, multiplier: 0.25, duration: 15 * time.Minute},
	{minViolations: 10, multiplier: 0, duration: 60 * time.Minute},
}

// RateLimitResult reports the limiter's decision plus the metadata the
// response contract requires (limit/remaining/reset on success,
// retry-after and a typed reason on rejection).
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Duration
	RetryAfter time.Duration
	Reason     string
}

// RateLimitService enforces per-key, per-endpoint budgets with
// progressive penalties, escalating chronic abusers to the reputation
// engine for an outright IP block.
type RateLimitService struct {
	db         *gorm.DB
	cache      cache.Cache
	events     *EventService
	reputation *ReputationService
	registry   *BudgetRegistry
	cfg        config.SecurityConfig
}

// NewRateLimitService wires the limiter with its collaborators.
func NewRateLimitService(db *gorm.DB, c cache.Cache, events *EventService, reputation *ReputationService, registry *BudgetRegistry, cfg config.SecurityConfig) *RateLimitService {
	if registry == nil {
		registry = NewBudgetRegistry(Budget{Points: cfg.RateLimitPoints, Window: cfg.RateLimitWindow})
	}
	return &RateLimitService{db: db, cache: c, events: events, reputation: reputation, registry: registry, cfg: cfg}
}

// Registry exposes the endpoint budget registry for configuration.
func (s *RateLimitService) Registry() *BudgetRegistry { return s.registry }

// limitKey prefers authenticated identity over IP so users behind a
// shared NAT do not throttle each other.
func limitKey(userID uint, ip string) string {
	if userID != 0 {
		return fmt.Sprintf("user:%d", userID)
	}
	return "ip:" + ip
}

// trusted reports whether ip is on the configured bypass list (exact
// IPs or CIDR blocks).
func (s *RateLimitService) trusted(ip string) bool {
	for _, t := range s.cfg.TrustedIPs {
		if t == ip {
			return true
		}
		if util.IsCIDR(t) {
			if ok, err := util.CIDRContains(t, ip); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// Allow consumes one unit of the requester's budget for endpoint.
// userID zero means unauthenticated. Infrastructure errors fail open.
func (s *RateLimitService) Allow(ctx context.Context, userID uint, ip, endpoint string) RateLimitResult {
	if s.trusted(ip) {
		return RateLimitResult{Allowed: true, Reason: "trusted_ip"}
	}

	budget := s.registry.Resolve(endpoint)
	key := limitKey(userID, ip)

	violations, err := s.countViolations(ctx, ip)
	if err != nil {
		logger.WithFields(map[string]interface{}{"ip": ip}).WithError(err).Warn("violation count failed, skipping penalty")
		violations = 0
	}

	adjusted := budget.Points
	var penalty *penaltyTier
	for i := range penaltyTiers {
		if violations >= penaltyTiers[i].minViolations {
			penalty = &penaltyTiers[i]
		}
	}
	if penalty != nil {
		adjusted = int(math.Floor(float64(budget.Points) * penalty.multiplier))
	}

	// A hard penalty rejects before any token consumption. Chronic
	// abusers keep accumulating violations here, so the auto-block
	// threshold is checked on this path as well.
	if penalty != nil && adjusted == 0 {
		s.recordViolation(ctx, key, ip, endpoint, "penalty_blocked", budget)
		metrics.IncRateLimitPenalized()
		if total, err := s.countViolations(ctx, ip); err == nil && total >= int64(s.cfg.ViolationAutoBlockAt) {
			return s.escalate(ctx, ip, total)
		}
		return RateLimitResult{
			Allowed:    false,
			Limit:      budget.Points,
			Reason:     ReasonBlockedByPenalty,
			RetryAfter: penalty.duration,
		}
	}

	counterKey := cache.PrefixRateLimit + key + ":" + sanitizeEndpoint(endpoint)
	count, err := s.cache.Increment(ctx, counterKey, budget.Window)
	if err != nil {
		logger.WithFields(map[string]interface{}{"key": key}).WithError(err).Warn("rate limit counter failed, allowing")
		return RateLimitResult{Allowed: true, Limit: adjusted, Reason: "fail_open"}
	}

	reset := s.counterReset(ctx, counterKey, budget.Window)

	if count <= int64(adjusted) {
		metrics.IncRateLimitAllowed()
		return RateLimitResult{
			Allowed:   true,
			Limit:     adjusted,
			Remaining: adjusted - int(count),
			Reset:     reset,
		}
	}

	// Budget exhausted: record the violation, then decide between a
	// retryable rejection and escalation to an IP block.
	s.recordViolation(ctx, key, ip, endpoint, "limit_exceeded", budget)
	metrics.IncRateLimitRejected()

	if total, err := s.countViolations(ctx, ip); err == nil && total >= int64(s.cfg.ViolationAutoBlockAt) {
		return s.escalate(ctx, ip, total)
	}

	return RateLimitResult{
		Allowed:    false,
		Limit:      adjusted,
		Reason:     ReasonRateLimitExceeded,
		RetryAfter: reset,
	}
}

func (s *RateLimitService) countViolations(ctx context.Context, ip string) (int64, error) {
	var count int64
	since := time.Now().Add(-s.cfg.ViolationWindow)
	err := s.db.WithContext(ctx).Model(&models.RateLimitViolation{}).
		Where("ip = ? AND created_at > ?", ip, since).
		Count(&count).Error
	return count, err
}

func (s *RateLimitService) recordViolation(ctx context.Context, identifier, ip, endpoint, violationType string, budget Budget) {
	v := &models.RateLimitViolation{
		Identifier:    identifier,
		IP:            ip,
		Endpoint:      endpoint,
		ViolationType: violationType,
		WindowSeconds: int(budget.Window.Seconds()),
		CreatedAt:     time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(v).Error; err != nil {
		logger.WithFields(map[string]interface{}{"ip": ip}).WithError(err).Warn("failed to record rate limit violation")
	}
}

// escalate delegates chronic abuse to the reputation engine. The deny
// is a security verdict: it stands even if the block write errors.
func (s *RateLimitService) escalate(ctx context.Context, ip string, total int64) RateLimitResult {
	if _, err := s.reputation.BlockIP(ctx, ip, "chronic rate limit abuse", s.cfg.AutoBlockDuration, "system"); err != nil {
		logger.WithFields(map[string]interface{}{"ip": ip}).WithError(err).Error("rate limit escalation block failed")
	}
	if err := s.events.RecordEvent(ctx, models.EventRateLimitEscalated, models.SeverityHigh, nil, ip,
		"IP blocked after chronic rate limit violations",
		map[string]interface{}{"violations": total, "window": s.cfg.ViolationWindow.String()}); err != nil {
		logger.Log().WithError(err).Warn("failed to record escalation event")
	}
	return RateLimitResult{Allowed: false, Reason: ReasonIPBlocked}
}

func (s *RateLimitService) counterReset(ctx context.Context, key string, window time.Duration) time.Duration {
	ttl, err := s.cache.TTL(ctx, key)
	if err != nil || ttl <= 0 {
		return window
	}
	return ttl
}

func sanitizeEndpoint(endpoint string) string {
	return strings.ReplaceAll(strings.TrimPrefix(endpoint, "/"), "/", "_")
}
