package distributed

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestDistributedLock_ExclusiveUntilUnlocked(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	first := NewDistributedLock(client, "cinewave:lock:reaper", time.Minute)
	second := NewDistributedLock(client, "cinewave:lock:reaper", time.Minute)

	ok, err := first.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, second.Unlock(ctx), ErrNotHeld, "only the holder may release")
	require.NoError(t, first.Unlock(ctx))

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, second.Unlock(ctx))
}

func TestDistributedLock_ExpiresWithoutRenewal(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	lock := NewDistributedLock(client, "k", time.Second)
	ok, err := lock.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	lock.stopOnce.Do(func() { close(lock.stopRenew) })

	mr.FastForward(2 * time.Second)

	other := NewDistributedLock(client, "k", time.Second)
	ok, err = other.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.ErrorIs(t, lock.Unlock(ctx), ErrNotHeld)
}

func TestLockManager_RunExclusive(t *testing.T) {
	client, _ := newTestClient(t)
	lm := NewLockManager(client, "cinewave:lock:")
	ctx := context.Background()

	held := lm.AcquireLock("reaper", time.Minute)
	ok, err := held.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ran, err := lm.RunExclusive(ctx, "reaper", time.Minute, func(context.Context) error {
		t.Fatal("must not run while another instance holds the lock")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ran)

	require.NoError(t, held.Unlock(ctx))

	calls := 0
	ran, err = lm.RunExclusive(ctx, "reaper", time.Minute, func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, calls)

	exists, err := client.Exists(ctx, "cinewave:lock:reaper").Result()
	require.NoError(t, err)
	assert.Zero(t, exists, "lock released after run")
}
