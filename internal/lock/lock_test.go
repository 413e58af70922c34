package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-triage/internal/lock"
	"github.com/nhle/inbox-triage/tests/testutil"
)

func TestStoreLocker_Exclusive(t *testing.T) {
	s := testutil.NewTestStore(t)
	l := lock.NewStoreLocker(s)
	ctx := context.Background()

	ok, err := l.TryAcquire(ctx, "sync:emp", "worker-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.TryAcquire(ctx, "sync:emp", "worker-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.TryAcquire(ctx, "sync:other", "worker-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "different keys do not contend")

	require.NoError(t, l.Release(ctx, "sync:emp", "worker-1"))

	ok, err = l.TryAcquire(ctx, "sync:emp", "worker-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStoreLocker_ExpiredLeaseIsTakenOver(t *testing.T) {
	s := testutil.NewTestStore(t)
	l := lock.NewStoreLocker(s)
	ctx := context.Background()

	ok, err := l.TryAcquire(ctx, "sync:emp", "crashed", -time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.TryAcquire(ctx, "sync:emp", "worker-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func newTestRedisLocker(t *testing.T) (*lock.RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return lock.NewRedisLocker(client, "test:"), mr
}

func TestRedisLocker_Exclusive(t *testing.T) {
	l, mr := newTestRedisLocker(t)
	ctx := context.Background()

	ok, err := l.TryAcquire(ctx, "sync:emp", "worker-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := mr.Get("test:sync:emp")
	require.NoError(t, err)
	assert.Equal(t, "worker-1", got)
	assert.Equal(t, time.Minute, mr.TTL("test:sync:emp"))

	ok, err = l.TryAcquire(ctx, "sync:emp", "worker-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.TryAcquire(ctx, "sync:emp", "worker-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "leases are not re-entrant")

	ok, err = l.TryAcquire(ctx, "sync:other", "worker-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "different keys do not contend")

	require.NoError(t, l.Release(ctx, "sync:emp", "worker-1"))
	assert.False(t, mr.Exists("test:sync:emp"))

	ok, err = l.TryAcquire(ctx, "sync:emp", "worker-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLocker_ExpiredLeaseIsTakenOver(t *testing.T) {
	l, mr := newTestRedisLocker(t)
	ctx := context.Background()

	ok, err := l.TryAcquire(ctx, "sync:emp", "crashed", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	ok, err = l.TryAcquire(ctx, "sync:emp", "worker-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLocker_ReleaseByOtherHolderIsNoop(t *testing.T) {
	l, mr := newTestRedisLocker(t)
	ctx := context.Background()

	ok, err := l.TryAcquire(ctx, "sync:emp", "worker-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Release(ctx, "sync:emp", "worker-2"))
	got, err := mr.Get("test:sync:emp")
	require.NoError(t, err)
	assert.Equal(t, "worker-1", got)

	require.NoError(t, l.Release(ctx, "sync:missing", "worker-1"), "releasing an absent lease is not an error")
}

func TestRedisLocker_UnreachableServer(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	l := lock.NewRedisLocker(client, "test:")

	_, err = l.TryAcquire(context.Background(), "sync:emp", "worker-1", time.Minute)
	assert.Error(t, err)
}

func TestNewRedisClient(t *testing.T) {
	client, err := lock.NewRedisClient("redis://localhost:6379/2")
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, 2, client.Options().DB)

	_, err = lock.NewRedisClient("://bad")
	assert.Error(t, err)
}
