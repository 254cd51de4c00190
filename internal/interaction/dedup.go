package interaction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper decides whether an event is the first of its kind within a window.
type Deduper interface {
	// First reports true exactly once per key within window.
	First(ctx context.Context, key string, window time.Duration) (bool, error)
}

// ClickKey returns the dedup key for a user's click on a content item.
func ClickKey(userID, contentID string) string {
	return "click:" + userID + ":" + contentID
}

// RedisDeduper implements Deduper with SET NX EX.
type RedisDeduper struct {
	client *redis.Client
}

// NewRedisDeduper creates a RedisDeduper.
func NewRedisDeduper(client *redis.Client) *RedisDeduper {
	return &RedisDeduper{client: client}
}

// First sets key with the window as TTL and reports whether it was absent.
func (d *RedisDeduper) First(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := d.client.SetNX(ctx, key, 1, window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set dedup key: %w", err)
	}
	return ok, nil
}

// InMemoryDeduper is a process-local Deduper.
type InMemoryDeduper struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewInMemoryDeduper creates an InMemoryDeduper.
func NewInMemoryDeduper() *InMemoryDeduper {
	return &InMemoryDeduper{expires: make(map[string]time.Time), now: time.Now}
}

// First reports whether key is unseen or expired, then marks it seen.
func (d *InMemoryDeduper) First(ctx context.Context, key string, window time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if exp, ok := d.expires[key]; ok && now.Before(exp) {
		return false, nil
	}
	d.expires[key] = now.Add(window)
	if len(d.expires) > 10000 {
		for k, exp := range d.expires {
			if !now.Before(exp) {
				delete(d.expires, k)
			}
		}
	}
	return true, nil
}
