package preference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ReleaseFunc releases a held lease.
type ReleaseFunc func(ctx context.Context) error

// Locker grants bounded leases on named keys.
type Locker interface {
	// Acquire tries to take key for ttl. ok is false when another holder
	// has it; release is nil in that case.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release ReleaseFunc, ok bool, err error)
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX and a token-checked release.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker creates a RedisLocker.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire takes key for ttl if it is free.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to set lock key: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to release lock: %w", err)
		}
		return nil
	}, true, nil
}

// InMemoryLocker is a process-local Locker with lease expiry.
type InMemoryLocker struct {
	mu     sync.Mutex
	leases map[string]inMemoryLease
	now    func() time.Time
}

type inMemoryLease struct {
	token   string
	expires time.Time
}

// NewInMemoryLocker creates an InMemoryLocker.
func NewInMemoryLocker() *InMemoryLocker {
	return &InMemoryLocker{leases: make(map[string]inMemoryLease), now: time.Now}
}

// Acquire takes key for ttl if it is free or its lease expired.
func (l *InMemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if lease, ok := l.leases[key]; ok && now.Before(lease.expires) {
		return nil, false, nil
	}
	token := uuid.NewString()
	l.leases[key] = inMemoryLease{token: token, expires: now.Add(ttl)}
	return func(ctx context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if lease, ok := l.leases[key]; ok && lease.token == token {
			delete(l.leases, key)
		}
		return nil
	}, true, nil
}
