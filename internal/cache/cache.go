package cache

import (
	"context"
	"time"
)

// Key namespaces, one prefix per subsystem.
const (
	PrefixIPAccess  = "ip_access:"
	PrefixSession   = "session:"
	PrefixRateLimit = "ratelimit:"
)

// DefaultTTL bounds staleness for entries without an explicit TTL.
const DefaultTTL = 5 * time.Minute

// Cache is the decision cache shared by the enforcement engines. A miss
// means "recompute", never "deny" or "allow". Increment must be atomic:
// a read-then-write sequence would lose updates under concurrent
// requests for the same key.
type Cache interface {
	// Get returns the value and whether the key was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePattern removes every key beginning with prefix.
	DeletePattern(ctx context.Context, prefix string) error
	// Increment atomically adds one to the counter at key, setting its
	// expiry to ttl when the counter is created. Returns the new count.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// TTL returns the remaining lifetime of key, or zero when absent.
	TTL(ctx context.Context, key string) (time.Duration, error)
}
