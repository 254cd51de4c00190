package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gocache "github.com/patrickmn/go-cache"
)

// LocalCache implements Store in process memory. Values are stored encoded
// so callers never share mutable state with the cache.
type LocalCache struct {
	items *gocache.Cache

	mu     sync.Mutex
	groups *gocache.Cache
}

// NewLocalCache creates a LocalCache that sweeps expired entries every cleanup interval.
func NewLocalCache(cleanup time.Duration) *LocalCache {
	return &LocalCache{
		items:  gocache.New(gocache.NoExpiration, cleanup),
		groups: gocache.New(gocache.NoExpiration, cleanup),
	}
}

// Get decodes the value at key into dst.
func (c *LocalCache) Get(ctx context.Context, key string, dst any) error {
	v, ok := c.items.Get(key)
	if !ok {
		return ErrMiss
	}
	if err := json.Unmarshal(v.([]byte), dst); err != nil {
		return fmt.Errorf("failed to decode cache value: %w", err)
	}
	return nil
}

// Set stores value under key for ttl.
func (c *LocalCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}
	c.items.Set(key, b, ttl)
	return nil
}

// Delete removes keys.
func (c *LocalCache) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		c.items.Delete(k)
	}
	return nil
}

// Track adds key to group and refreshes the group's expiry.
func (c *LocalCache) Track(ctx context.Context, group, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	members := map[string]struct{}{}
	if v, ok := c.groups.Get(group); ok {
		members = v.(map[string]struct{})
	}
	members[key] = struct{}{}
	c.groups.Set(group, members, ttl)
	return nil
}

// Invalidate deletes every key tracked in group.
func (c *LocalCache) Invalidate(ctx context.Context, group string) (int, error) {
	c.mu.Lock()
	var members map[string]struct{}
	if v, ok := c.groups.Get(group); ok {
		members = v.(map[string]struct{})
	}
	c.groups.Delete(group)
	c.mu.Unlock()

	for k := range members {
		c.items.Delete(k)
	}
	return len(members), nil
}
