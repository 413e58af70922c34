// Package lock provides the per-user sync lease. A lease is exclusive and
// expires on its own, so a crashed holder cannot block a user forever.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker grants exclusive, expiring leases keyed by an arbitrary string.
type Locker interface {
	// TryAcquire takes key for holder for ttl. It returns false without
	// waiting while any unexpired lease exists, including one held by the
	// same holder.
	TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	// Release drops the lease if holder still owns it.
	Release(ctx context.Context, key, holder string) error
}

// ClaimStore is the subset of the store used by StoreLocker.
type ClaimStore interface {
	AcquireClaim(ctx context.Context, key, holder string, now, expiresAt time.Time) (bool, error)
	ReleaseClaim(ctx context.Context, key, holder string) error
}

// StoreLocker keeps leases in the database claims table.
type StoreLocker struct {
	store ClaimStore
	now   func() time.Time
}

// NewStoreLocker returns a Locker backed by store.
func NewStoreLocker(store ClaimStore) *StoreLocker {
	return &StoreLocker{store: store, now: time.Now}
}

func (l *StoreLocker) TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	now := l.now()
	return l.store.AcquireClaim(ctx, key, holder, now, now.Add(ttl))
}

func (l *StoreLocker) Release(ctx context.Context, key, holder string) error {
	return l.store.ReleaseClaim(ctx, key, holder)
}

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker keeps leases in redis with SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker returns a Locker backed by client. Keys are namespaced
// with prefix.
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (l *RedisLocker) TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	k := l.prefix + key

	ok, err := l.client.SetNX(ctx, k, holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lease %s: %w", key, err)
	}
	return ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, key, holder string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.prefix + key}, holder).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("releasing lease %s: %w", key, err)
	}
	return nil
}
