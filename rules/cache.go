package rules

import (
	"context"
	"time"
)

// RulesCache provides an abstraction for caching the loaded rule list between engine passes.
// This allows swapping between in-memory, Redis, or other caching implementations.
type RulesCache interface {
	// Get retrieves cached rules, returns nil on a miss or expiry
	Get(ctx context.Context) []*Rule

	// Set stores rules in cache
	Set(ctx context.Context, rules []*Rule)

	// Invalidate clears the cache, forcing a reload on the next pass
	Invalidate(ctx context.Context)
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// 0 means entries only go away on Invalidate.
	TTL time.Duration
}

// DefaultCacheConfig returns a 30s TTL.
// Stats written by the engine don't invalidate the cache, so the TTL bounds
// how stale execution counters in a cached list can get, and how long a rule
// changed outside the engine owning the cache keeps its old definition.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 30 * time.Second,
	}
}

func cloneRules(list []*Rule) []*Rule {
	out := make([]*Rule, len(list))
	for i, r := range list {
		out[i] = r.clone()
	}
	return out
}
