package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// RedisCache implements Store on Redis strings and sets.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a RedisCache.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get loads and decodes key.
func (c *RedisCache) Get(ctx context.Context, key string, dst any) error {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("failed to get cache key: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("failed to decode cache value: %w", err)
	}
	return nil
}

// Set encodes value and stores it under key for ttl.
func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}
	if err := c.client.Set(ctx, key, b, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache key: %w", err)
	}
	return nil
}

// Delete removes keys.
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete cache keys: %w", err)
	}
	return nil
}

// Track adds key to the group set and refreshes the set's expiry.
func (c *RedisCache) Track(ctx context.Context, group, key string, ttl time.Duration) error {
	pipe := c.client.TxPipeline()
	pipe.SAdd(ctx, group, key)
	pipe.Expire(ctx, group, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to track cache key: %w", err)
	}
	return nil
}

// Invalidate deletes all members of group and the group set.
func (c *RedisCache) Invalidate(ctx context.Context, group string) (int, error) {
	keys, err := c.client.SMembers(ctx, group).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read cache group: %w", err)
	}
	if err := c.client.Del(ctx, append(keys, group)...).Err(); err != nil {
		return 0, fmt.Errorf("failed to invalidate cache group: %w", err)
	}
	return len(keys), nil
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
