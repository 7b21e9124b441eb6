package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()}), mr
}

func TestRedisLockSingleHolder(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()

	a := NewRedisLock(client, "sweep:org-1", time.Minute)
	b := NewRedisLock(client, "sweep:org-1", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire a held lock")

	require.NoError(t, a.Release(ctx))

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "lock is free after release")
}

func TestRedisLockReleaseOnlyOwn(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()

	a := NewRedisLock(client, "sweep:org-1", time.Minute)
	b := NewRedisLock(client, "sweep:org-1", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// A stale holder releasing must not free a lock it does not own.
	require.NoError(t, b.Release(ctx))

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLockExpires(t *testing.T) {
	client, mr := newClient(t)
	ctx := context.Background()

	a := NewRedisLock(client, "sweep:org-1", time.Minute)
	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	b := NewRedisLock(client, "sweep:org-1", time.Minute)
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock is up for grabs")
}

func TestRedisLockExtend(t *testing.T) {
	client, mr := newClient(t)
	ctx := context.Background()

	a := NewRedisLock(client, "sweep:org-1", time.Minute)
	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.Extend(ctx, 10*time.Minute))
	mr.FastForward(5 * time.Minute)

	b := NewRedisLock(client, "sweep:org-1", time.Minute)
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "extended lock is still held")
}

func TestDifferentKeysIndependent(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()

	a := NewRedisLock(client, "sweep:org-1", time.Minute)
	b := NewRedisLock(client, "sweep:org-2", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}
