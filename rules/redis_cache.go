package rules

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	redis "github.com/redis/go-redis/v9"
)

// DefaultRedisCacheKey is where RedisRulesCache stores the rule list
const DefaultRedisCacheKey = "automations:rules"

// RedisRulesCache shares the loaded rule list between processes.
// Redis failures are logged and treated as cache misses.
type RedisRulesCache struct {
	client redis.UniversalClient
	key    string
	config CacheConfig
	logger *slog.Logger
}

// NewRedisRulesCache creates a cache stored under key (DefaultRedisCacheKey when empty)
func NewRedisRulesCache(client redis.UniversalClient, key string, config CacheConfig, logger *slog.Logger) *RedisRulesCache {
	if key == "" {
		key = DefaultRedisCacheKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRulesCache{
		client: client,
		key:    key,
		config: config,
		logger: logger.With("module", "redis_rules_cache"),
	}
}

// Get retrieves cached rules, nil on miss
func (c *RedisRulesCache) Get(ctx context.Context) []*Rule {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WarnContext(ctx, "failed to read rules cache", "error", err)
		}
		return nil
	}

	var list []*Rule
	if err := json.Unmarshal(data, &list); err != nil {
		c.logger.WarnContext(ctx, "discarding corrupt rules cache entry", "error", err)
		return nil
	}
	if list == nil {
		list = []*Rule{}
	}
	return list
}

// Set stores rules in cache with the configured TTL
func (c *RedisRulesCache) Set(ctx context.Context, rules []*Rule) {
	if rules == nil {
		rules = []*Rule{}
	}
	data, err := json.Marshal(rules)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to encode rules for cache", "error", err)
		return
	}
	if err := c.client.Set(ctx, c.key, data, c.config.TTL).Err(); err != nil {
		c.logger.WarnContext(ctx, "failed to write rules cache", "error", err)
	}
}

// Invalidate deletes the cached list
func (c *RedisRulesCache) Invalidate(ctx context.Context) {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		c.logger.WarnContext(ctx, "failed to invalidate rules cache", "error", err)
	}
}
