package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment  string
	HTTPPort     string
	DatabasePath string

	// Decision cache. Empty RedisAddr degrades to the in-process cache.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Geolocation database. Empty path disables geographic checks.
	GeoIPDBPath string

	// bcrypt hash of the bearer token guarding the admin API.
	AdminTokenHash string

	Security SecurityConfig
}

// SecurityConfig holds the enforcement thresholds. Defaults match the
// documented policy; every knob is overridable per deployment.
type SecurityConfig struct {
	// IP reputation
	FailedAttemptThreshold int           // auto-block after N failures
	FailedAttemptWindow    time.Duration // rolling window for the count
	AutoBlockDuration      time.Duration
	AllowedCountries       []string // default allow-list when no geo rule matches

	// Rate limiting
	RateLimitPoints        int
	RateLimitWindow        time.Duration
	ViolationWindow        time.Duration
	ViolationAutoBlockAt   int
	TrustedIPs             []string // bypass rate limiting entirely

	// Sessions
	MaxSessionsPerUser int
	MaxDevicesPerUser  int
	SessionDuration    time.Duration
	InactivityTimeout  time.Duration
	MaxTravelSpeedMPH  float64

	CacheTTL time.Duration
}

// Load reads env vars and falls back to defaults so the server can boot
// with zero configuration.
func Load() (Config, error) {
	cfg := Config{
		Environment:    getEnv("AEGIS_ENV", "development"),
		HTTPPort:       getEnv("AEGIS_HTTP_PORT", "8080"),
		DatabasePath:   getEnv("AEGIS_DB_PATH", "data/aegis.db"),
		RedisAddr:      getEnv("AEGIS_REDIS_ADDR", ""),
		RedisPassword:  getEnv("AEGIS_REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("AEGIS_REDIS_DB", 0),
		GeoIPDBPath:    getEnv("AEGIS_GEOIP_DB", ""),
		AdminTokenHash: getEnv("AEGIS_ADMIN_TOKEN_HASH", ""),
		Security:       DefaultSecurityConfig(),
	}

	sec := &cfg.Security
	sec.FailedAttemptThreshold = getEnvInt("AEGIS_FAILED_ATTEMPT_THRESHOLD", sec.FailedAttemptThreshold)
	sec.FailedAttemptWindow = getEnvDuration("AEGIS_FAILED_ATTEMPT_WINDOW", sec.FailedAttemptWindow)
	sec.AutoBlockDuration = getEnvDuration("AEGIS_AUTO_BLOCK_DURATION", sec.AutoBlockDuration)
	sec.AllowedCountries = getEnvList("AEGIS_ALLOWED_COUNTRIES", sec.AllowedCountries)
	sec.RateLimitPoints = getEnvInt("AEGIS_RATE_LIMIT_POINTS", sec.RateLimitPoints)
	sec.RateLimitWindow = getEnvDuration("AEGIS_RATE_LIMIT_WINDOW", sec.RateLimitWindow)
	sec.ViolationWindow = getEnvDuration("AEGIS_VIOLATION_WINDOW", sec.ViolationWindow)
	sec.ViolationAutoBlockAt = getEnvInt("AEGIS_VIOLATION_AUTO_BLOCK", sec.ViolationAutoBlockAt)
	sec.TrustedIPs = getEnvList("AEGIS_TRUSTED_IPS", sec.TrustedIPs)
	sec.MaxSessionsPerUser = getEnvInt("AEGIS_MAX_SESSIONS_PER_USER", sec.MaxSessionsPerUser)
	sec.MaxDevicesPerUser = getEnvInt("AEGIS_MAX_DEVICES_PER_USER", sec.MaxDevicesPerUser)
	sec.SessionDuration = getEnvDuration("AEGIS_SESSION_DURATION", sec.SessionDuration)
	sec.InactivityTimeout = getEnvDuration("AEGIS_INACTIVITY_TIMEOUT", sec.InactivityTimeout)
	sec.MaxTravelSpeedMPH = getEnvFloat("AEGIS_MAX_TRAVEL_SPEED_MPH", sec.MaxTravelSpeedMPH)
	sec.CacheTTL = getEnvDuration("AEGIS_CACHE_TTL", sec.CacheTTL)

	return cfg, nil
}

// DefaultSecurityConfig returns the documented default policy.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		FailedAttemptThreshold: 10,
		FailedAttemptWindow:    time.Hour,
		AutoBlockDuration:      24 * time.Hour,
		AllowedCountries:       nil, // empty list means "no default restriction"
		RateLimitPoints:        100,
		RateLimitWindow:        60 * time.Second,
		ViolationWindow:        time.Hour,
		ViolationAutoBlockAt:   15,
		MaxSessionsPerUser:     5,
		MaxDevicesPerUser:      10,
		SessionDuration:        24 * time.Hour,
		InactivityTimeout:      30 * time.Minute,
		MaxTravelSpeedMPH:      500,
		CacheTTL:               5 * time.Minute,
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
