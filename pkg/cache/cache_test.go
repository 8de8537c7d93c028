package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := NewRedisCache(context.Background(), WithRedisAddr(mr.Addr()), WithRedisPrefix("test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestRedisSetGetJSON(t *testing.T) {
	rc, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "report", payload{Name: "daily", Count: 3}, time.Minute))
	assert.True(t, mr.Exists("test:report"))

	var got payload
	require.NoError(t, rc.Get(ctx, "report", &got))
	assert.Equal(t, payload{Name: "daily", Count: 3}, got)

	assert.ErrorIs(t, rc.Get(ctx, "absent", &got), ErrCacheMiss)
}

func TestRedisLockIsOwned(t *testing.T) {
	a, mr := newTestRedis(t)
	b, err := NewRedisCache(context.Background(), WithRedisAddr(mr.Addr()), WithRedisPrefix("test"))
	require.NoError(t, err)
	defer b.Close()
	ctx := context.Background()

	ok, err := a.TryLock(ctx, "lease", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryLock(ctx, "lease", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	// b does not own the lease, so its unlock is a no-op.
	require.NoError(t, b.Unlock(ctx, "lease"))
	assert.True(t, mr.Exists("test:lease"))

	require.NoError(t, a.Unlock(ctx, "lease"))
	assert.False(t, mr.Exists("test:lease"))
}

func TestRedisLockExpires(t *testing.T) {
	rc, mr := newTestRedis(t)
	ctx := context.Background()

	ok, err := rc.TryLock(ctx, "lease", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = rc.TryLock(ctx, "lease", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewRedisCacheUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisCache(context.Background(), WithRedisAddr(addr))
	assert.Error(t, err)
}

func TestMemorySetGetAndExpiry(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "k", payload{Name: "x", Count: 1}, time.Minute))
	var got payload
	require.NoError(t, mc.Get(ctx, "k", &got))
	assert.Equal(t, "x", got.Name)

	now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, mc.Get(ctx, "k", &got), ErrCacheMiss)
}

func TestMemoryLock(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	ok, _ := mc.TryLock(ctx, "lease", time.Hour)
	assert.True(t, ok)
	ok, _ = mc.TryLock(ctx, "lease", time.Hour)
	assert.False(t, ok)

	require.NoError(t, mc.Unlock(ctx, "lease"))
	ok, _ = mc.TryLock(ctx, "lease", time.Hour)
	assert.True(t, ok)
}

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", "1", 0))
	now = now.Add(time.Second)
	require.NoError(t, mc.Set(ctx, "b", "2", 0))
	now = now.Add(time.Second)
	var s string
	require.NoError(t, mc.Get(ctx, "a", &s))
	now = now.Add(time.Second)
	require.NoError(t, mc.Set(ctx, "c", "3", 0))

	ok, _ := mc.Exists(ctx, "b")
	assert.False(t, ok)
	ok, _ = mc.Exists(ctx, "a", "c")
	assert.True(t, ok)
}
