package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/acme/lead-pipeline-scheduler/internal/domain"
)

// Cache holds settings snapshots with a TTL and explicit invalidation.
type Cache interface {
	Get(ctx context.Context, userID string) (*domain.Settings, bool)
	Set(ctx context.Context, userID string, settings domain.Settings)
	Invalidate(ctx context.Context, userID string)
}

// RedisCache caches settings documents in Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache constructs a cache with the given TTL (default 5 minutes).
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Get returns the cached settings for a user, if present. Cache errors are
// treated as misses.
func (c *RedisCache) Get(ctx context.Context, userID string) (*domain.Settings, bool) {
	payload, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if err != nil {
		return nil, false
	}
	var settings domain.Settings
	if err := json.Unmarshal(payload, &settings); err != nil {
		return nil, false
	}
	return &settings, true
}

// Set stores settings for a user. Failures are silent: the store remains the
// source of truth.
func (c *RedisCache) Set(ctx context.Context, userID string, settings domain.Settings) {
	payload, err := json.Marshal(settings)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.key(userID), payload, c.ttl).Err()
}

// Invalidate drops the cached settings for a user.
func (c *RedisCache) Invalidate(ctx context.Context, userID string) {
	_ = c.client.Del(ctx, c.key(userID)).Err()
}

func (c *RedisCache) key(userID string) string {
	return fmt.Sprintf("leadsched:settings:%s", userID)
}
