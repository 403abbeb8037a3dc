package rules

import (
	"context"
	"testing"
	"time"
)

// TestInMemoryRulesCacheLifecycle verifies miss, hit and invalidation
func TestInMemoryRulesCacheLifecycle(t *testing.T) {
	cache := NewInMemoryRulesCache(CacheConfig{})
	ctx := context.Background()

	if got := cache.Get(ctx); got != nil {
		t.Fatalf("Get() on an empty cache = %v, want nil", got)
	}
	if cache.IsValid() {
		t.Error("empty cache should not be valid")
	}

	cache.Set(ctx, []*Rule{longMeetingRule()})
	got := cache.Get(ctx)
	if len(got) != 1 || got[0].Name != "Long Meeting Email" {
		t.Fatalf("Get() = %v, want the cached rule", got)
	}

	got[0].Name = "mutated"
	if again := cache.Get(ctx); again[0].Name != "Long Meeting Email" {
		t.Errorf("cached rule was mutated through Get(): %q", again[0].Name)
	}

	cache.Invalidate(ctx)
	if got := cache.Get(ctx); got != nil {
		t.Errorf("Get() after Invalidate() = %v, want nil", got)
	}
}

// TestInMemoryRulesCacheEmptyListIsAHit verifies an empty rule list is cached, not treated as a miss
func TestInMemoryRulesCacheEmptyListIsAHit(t *testing.T) {
	cache := NewInMemoryRulesCache(CacheConfig{})
	ctx := context.Background()

	cache.Set(ctx, []*Rule{})
	got := cache.Get(ctx)
	if got == nil || len(got) != 0 {
		t.Errorf("Get() = %v, want an empty non-nil list", got)
	}
}

// TestInMemoryRulesCacheTTL verifies entries expire after the TTL
func TestInMemoryRulesCacheTTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewInMemoryRulesCache(CacheConfig{TTL: 30 * time.Second})
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	cache.Set(ctx, []*Rule{longMeetingRule()})

	now = now.Add(29 * time.Second)
	if cache.Get(ctx) == nil {
		t.Error("entry should still be fresh after 29s")
	}

	now = now.Add(2 * time.Second)
	if cache.Get(ctx) != nil {
		t.Error("entry should expire after 30s")
	}
}

// TestDefaultCacheConfig verifies the default TTL
func TestDefaultCacheConfig(t *testing.T) {
	if got := DefaultCacheConfig().TTL; got != 30*time.Second {
		t.Errorf("DefaultCacheConfig().TTL = %v, want 30s", got)
	}
}
