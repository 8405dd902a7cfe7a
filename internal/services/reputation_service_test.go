package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-sec/aegis/internal/config"
	"github.com/aegis-sec/aegis/internal/geo"
	"github.com/aegis-sec/aegis/internal/models"
)

func TestReputation_DefaultAllow(t *testing.T) {
	env := newTestEnv(t, nil)

	v := env.reputation.CheckAccess(context.Background(), "203.0.113.1")
	assert.True(t, v.Allowed)
	assert.False(t, v.Blocked)
	assert.Equal(t, "default", v.Source)
}

func TestReputation_ExactBlockBeatsCIDRAllow(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.reputation.AllowIP(ctx, "203.0.113.0/24", "partner range", "admin@example.com")
	require.NoError(t, err)
	_, err = env.reputation.BlockIP(ctx, "203.0.113.7", "abusive host", 0, "admin@example.com")
	require.NoError(t, err)

	v := env.reputation.CheckAccess(ctx, "203.0.113.7")
	assert.True(t, v.Blocked)
	assert.Equal(t, "exact_rule", v.Source)

	// Neighbours in the CIDR stay allowed.
	v = env.reputation.CheckAccess(ctx, "203.0.113.8")
	assert.True(t, v.Allowed)
	assert.Equal(t, "cidr_rule", v.Source)
}

func TestReputation_CIDRAndRangeRules(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.reputation.BlockIP(ctx, "198.51.100.0/24", "scanner subnet", 0, "admin")
	require.NoError(t, err)
	_, err = env.reputation.BlockIP(ctx, "192.0.2.10-192.0.2.20", "bot range", 0, "admin")
	require.NoError(t, err)

	assert.True(t, env.reputation.CheckAccess(ctx, "198.51.100.250").Blocked)
	assert.True(t, env.reputation.CheckAccess(ctx, "192.0.2.15").Blocked)
	assert.True(t, env.reputation.CheckAccess(ctx, "192.0.2.21").Allowed)
}

func TestReputation_ExpiredRuleIgnored(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	expired := time.Now().Add(-time.Hour)
	require.NoError(t, env.db.Create(&models.IPRule{
		IPOrRange:  "203.0.113.9",
		AccessType: models.AccessBlock,
		Reason:     "old block",
		Active:     true,
		ExpiresAt:  &expired,
	}).Error)

	v := env.reputation.CheckAccess(ctx, "203.0.113.9")
	assert.True(t, v.Allowed)
}

func TestReputation_MalformedStoredRuleSkipped(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	// Bypasses admin validation the way a hand-edited row would.
	require.NoError(t, env.db.Create(&models.IPRule{
		IPOrRange:  "999.999.0.0/40",
		AccessType: models.AccessBlock,
		Reason:     "garbage",
		Active:     true,
	}).Error)
	_, err := env.reputation.BlockIP(ctx, "198.51.100.0/24", "scanner subnet", 0, "admin")
	require.NoError(t, err)

	// The malformed rule degrades that rule only, not the evaluation.
	assert.True(t, env.reputation.CheckAccess(ctx, "198.51.100.1").Blocked)
	assert.True(t, env.reputation.CheckAccess(ctx, "203.0.113.1").Allowed)
}

func TestReputation_GeoRestrictions(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.resolver.Locations["203.0.113.10"] = geo.Location{CountryCode: "KP", Country: "North Korea"}
	env.resolver.Locations["203.0.113.11"] = geo.Location{CountryCode: "US", RegionCode: "CA"}
	env.resolver.Locations["203.0.113.12"] = geo.Location{CountryCode: "US", RegionCode: "NY"}

	_, err := env.reputation.AddGeoRestriction(ctx, "KP", models.AccessBlock, "", "sanctions", "admin")
	require.NoError(t, err)
	// Region rule overrides the country rule for the same country.
	_, err = env.reputation.AddGeoRestriction(ctx, "US", models.AccessAllow, "", "home market", "admin")
	require.NoError(t, err)
	_, err = env.reputation.AddGeoRestriction(ctx, "US", models.AccessBlock, "NY", "regional hold", "admin")
	require.NoError(t, err)

	assert.True(t, env.reputation.CheckAccess(ctx, "203.0.113.10").Blocked)
	assert.True(t, env.reputation.CheckAccess(ctx, "203.0.113.11").Allowed)
	assert.True(t, env.reputation.CheckAccess(ctx, "203.0.113.12").Blocked)
}

func TestReputation_DefaultCountryAllowList(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.SecurityConfig) {
		cfg.AllowedCountries = []string{"US", "CA"}
	})
	ctx := context.Background()

	env.resolver.Locations["203.0.113.20"] = geo.Location{CountryCode: "US"}
	env.resolver.Locations["203.0.113.21"] = geo.Location{CountryCode: "BR"}

	assert.True(t, env.reputation.CheckAccess(ctx, "203.0.113.20").Allowed)

	v := env.reputation.CheckAccess(ctx, "203.0.113.21")
	assert.True(t, v.Blocked)
	assert.Equal(t, "geo_default", v.Source)

	// Private addresses never consult the allow-list.
	assert.True(t, env.reputation.CheckAccess(ctx, "192.168.1.50").Allowed)
}

func TestReputation_AutoBlockAfterFailedAttempts(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	ip := "203.0.113.30"

	for i := 0; i < 10; i++ {
		require.NoError(t, env.reputation.RecordFailedAttempt(ctx, ip))
	}

	v := env.reputation.CheckAccess(ctx, ip)
	assert.True(t, v.Blocked)
	assert.Equal(t, "auto_block", v.Source)

	// Exactly one synthesized rule, even after repeated checks.
	env.cache.DeletePattern(ctx, "ip_access:")
	v = env.reputation.CheckAccess(ctx, ip)
	assert.True(t, v.Blocked)

	var rules []models.IPRule
	require.NoError(t, env.db.Where("ip_or_range = ? AND access_type = ? AND active = ?", ip, models.AccessBlock, true).Find(&rules).Error)
	assert.Len(t, rules, 1)
	assert.Equal(t, "system", rules[0].CreatedBy)
	assert.NotNil(t, rules[0].ExpiresAt)

	events := env.eventsOfType(t, models.EventIPAutoBlocked)
	require.Len(t, events, 1)
	assert.Equal(t, models.SeverityHigh, events[0].Severity)

	assert.NotEmpty(t, env.notifier.byType(models.EventIPAutoBlocked))
}

func TestReputation_BelowThresholdNotBlocked(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		require.NoError(t, env.reputation.RecordFailedAttempt(ctx, "203.0.113.31"))
	}
	assert.True(t, env.reputation.CheckAccess(ctx, "203.0.113.31").Allowed)
}

func TestReputation_BlockThenCheckRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	ip := "203.0.113.40"

	// Prime the cache with an allow verdict.
	assert.True(t, env.reputation.CheckAccess(ctx, ip).Allowed)

	_, err := env.reputation.BlockIP(ctx, ip, "manual block", time.Hour, "admin")
	require.NoError(t, err)

	// Immediately blocked: no reliance on cache TTL expiry.
	v := env.reputation.CheckAccess(ctx, ip)
	assert.True(t, v.Blocked)
	assert.Equal(t, "manual block", v.Reason)
}

func TestReputation_BlockIPUpsertExtends(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	first, err := env.reputation.BlockIP(ctx, "203.0.113.41", "first", time.Hour, "admin")
	require.NoError(t, err)
	second, err := env.reputation.BlockIP(ctx, "203.0.113.41", "second", 2*time.Hour, "admin")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "reapplying overwrites instead of duplicating")

	var count int64
	require.NoError(t, env.db.Model(&models.IPRule{}).Where("ip_or_range = ?", "203.0.113.41").Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, "second", second.Reason)
}

func TestReputation_UnblockIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	// No active rule: no-op, no error.
	assert.NoError(t, env.reputation.UnblockIP(ctx, "203.0.113.42", "admin"))

	_, err := env.reputation.BlockIP(ctx, "203.0.113.42", "temp", time.Hour, "admin")
	require.NoError(t, err)
	assert.True(t, env.reputation.CheckAccess(ctx, "203.0.113.42").Blocked)

	assert.NoError(t, env.reputation.UnblockIP(ctx, "203.0.113.42", "admin"))
	assert.True(t, env.reputation.CheckAccess(ctx, "203.0.113.42").Allowed)

	// Second unblock is still a no-op.
	assert.NoError(t, env.reputation.UnblockIP(ctx, "203.0.113.42", "admin"))
}

func TestReputation_InvalidAdminInput(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.reputation.BlockIP(ctx, "not-an-ip", "x", 0, "admin")
	assert.ErrorIs(t, err, ErrInvalidIPRule)

	_, err = env.reputation.AddGeoRestriction(ctx, "USA", models.AccessBlock, "", "x", "admin")
	assert.ErrorIs(t, err, ErrInvalidCountryCode)

	_, err = env.reputation.AddGeoRestriction(ctx, "US", "challenge", "", "x", "admin")
	assert.ErrorIs(t, err, ErrInvalidRestrictType)
}

func TestReputation_FailOpenOnStoreError(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	// Simulate a broken store by removing the rules table.
	require.NoError(t, env.db.Migrator().DropTable(&models.IPRule{}))

	v := env.reputation.CheckAccess(ctx, "203.0.113.50")
	assert.True(t, v.Allowed)
	assert.Equal(t, "fail_open", v.Source)
}

func TestReputation_CachedVerdictServed(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	ip := "203.0.113.60"

	assert.True(t, env.reputation.CheckAccess(ctx, ip).Allowed)

	// A direct store write without cache invalidation stays invisible
	// until the entry expires; misses mean recompute, not deny.
	require.NoError(t, env.db.Create(&models.IPRule{
		IPOrRange: ip, AccessType: models.AccessBlock, Reason: "raw write", Active: true,
	}).Error)
	assert.True(t, env.reputation.CheckAccess(ctx, ip).Allowed, "cached allow still served")

	require.NoError(t, env.cache.Delete(ctx, "ip_access:"+ip))
	assert.True(t, env.reputation.CheckAccess(ctx, ip).Blocked, "recomputed after invalidation")
}
