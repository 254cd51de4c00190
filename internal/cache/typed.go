package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Typed is a Store view for one value type. Backend failures are logged
// and treated as misses so a cache outage never fails a request.
type Typed[T any] struct {
	store   Store
	name    string
	ttl     time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

// NewTyped creates a Typed cache. name labels logs and metrics.
func NewTyped[T any](store Store, name string, ttl time.Duration, logger *slog.Logger, metrics *Metrics) *Typed[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Typed[T]{store: store, name: name, ttl: ttl, logger: logger, metrics: metrics}
}

// Get returns the cached value for key.
func (c *Typed[T]) Get(ctx context.Context, key string) (T, bool) {
	var v T
	if c == nil || c.store == nil {
		return v, false
	}
	err := c.store.Get(ctx, key, &v)
	switch {
	case err == nil:
		c.metrics.inc(c.name, resultHit)
		return v, true
	case errors.Is(err, ErrMiss):
		c.metrics.inc(c.name, resultMiss)
	default:
		c.metrics.inc(c.name, resultError)
		c.logger.WarnContext(ctx, "cache read failed", "cache", c.name, "error", err)
	}
	var zero T
	return zero, false
}

// Set stores v under key with the cache's TTL.
func (c *Typed[T]) Set(ctx context.Context, key string, v T) {
	if c == nil || c.store == nil {
		return
	}
	if err := c.store.Set(ctx, key, v, c.ttl); err != nil {
		c.metrics.inc(c.name, resultError)
		c.logger.WarnContext(ctx, "cache write failed", "cache", c.name, "error", err)
	}
}

// Take returns the cached value for key and deletes it.
func (c *Typed[T]) Take(ctx context.Context, key string) (T, bool) {
	v, ok := c.Get(ctx, key)
	if ok {
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.WarnContext(ctx, "cache delete failed", "cache", c.name, "error", err)
		}
	}
	return v, ok
}

// Store returns the backing store.
func (c *Typed[T]) Store() Store { return c.store }

// TTL returns the entry lifetime.
func (c *Typed[T]) TTL() time.Duration { return c.ttl }
