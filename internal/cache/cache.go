// Package cache provides the TTL caches used for feed rows, chat results and
// conversation sessions, backed by Redis or by process memory.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Store is a TTL key-value cache with JSON-encoded values.
type Store interface {
	// Get decodes the value at key into dst, or returns ErrMiss.
	Get(ctx context.Context, key string, dst any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error

	// Track records key as a member of group so the whole group can be
	// dropped at once. The group expires after ttl of inactivity.
	Track(ctx context.Context, group, key string, ttl time.Duration) error
	// Invalidate deletes every key tracked in group and the group itself.
	Invalidate(ctx context.Context, group string) (int, error)
}
