package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/tripfeed/internal/interaction"
)

// DefaultFeedTTL is how long a generated feed is served from cache.
const DefaultFeedTTL = 10 * time.Minute

// FeedKey returns the cache key for a user's feed at a month and location.
func FeedKey(userID string, month int, lat, lng float64) string {
	if userID == "" {
		userID = "anonymous"
	}
	return fmt.Sprintf("rec:%s:m%d:%.4f:%.4f", userID, month, lat, lng)
}

// feedGroup names the set of a user's cached feed keys.
func feedGroup(userID string) string {
	return "rec:keys:" + userID
}

// FeedCache caches generated feeds per user, month and location, and drops
// all of a user's feeds when that user records an interaction.
type FeedCache[T any] struct {
	typed  *Typed[T]
	logger *slog.Logger
}

// NewFeedCache creates a FeedCache. A ttl of zero uses DefaultFeedTTL.
func NewFeedCache[T any](store Store, ttl time.Duration, logger *slog.Logger, metrics *Metrics) *FeedCache[T] {
	if ttl <= 0 {
		ttl = DefaultFeedTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedCache[T]{typed: NewTyped[T](store, "feed", ttl, logger, metrics), logger: logger}
}

// Get returns the cached feed.
func (c *FeedCache[T]) Get(ctx context.Context, userID string, month int, lat, lng float64) (T, bool) {
	return c.typed.Get(ctx, FeedKey(userID, month, lat, lng))
}

// Put caches a feed and tracks its key for invalidation.
func (c *FeedCache[T]) Put(ctx context.Context, userID string, month int, lat, lng float64, feed T) {
	key := FeedKey(userID, month, lat, lng)
	c.typed.Set(ctx, key, feed)
	if userID == "" {
		return
	}
	if err := c.typed.Store().Track(ctx, feedGroup(userID), key, c.typed.TTL()); err != nil {
		c.logger.WarnContext(ctx, "failed to track feed key", "user_id", userID, "error", err)
	}
}

// Invalidate drops every cached feed of userID.
func (c *FeedCache[T]) Invalidate(ctx context.Context, userID string) (int, error) {
	return c.typed.Store().Invalidate(ctx, feedGroup(userID))
}

// OnInteraction implements interaction.Listener.
func (c *FeedCache[T]) OnInteraction(ctx context.Context, e interaction.Event) error {
	n, err := c.Invalidate(ctx, e.UserID)
	if err != nil {
		return fmt.Errorf("invalidate feed cache: %w", err)
	}
	if n > 0 {
		c.logger.DebugContext(ctx, "feed cache invalidated", "user_id", e.UserID, "keys", n)
	}
	return nil
}
