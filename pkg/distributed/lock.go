package distributed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrNotHeld = errors.New("lock was not held by this instance")

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// DistributedLock is a SET NX lease on one key, renewed at half its TTL while
// held. Only the holder that set the value can release or extend it.
type DistributedLock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration

	stopOnce  sync.Once
	stopRenew chan struct{}
}

func NewDistributedLock(client *redis.Client, key string, ttl time.Duration) *DistributedLock {
	return &DistributedLock{
		client:    client,
		key:       key,
		value:     uuid.NewString(),
		ttl:       ttl,
		stopRenew: make(chan struct{}),
	}
}

// TryLock attempts to acquire the lock without blocking.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to try lock: %w", err)
	}
	if acquired {
		go l.renewLock(ctx)
	}
	return acquired, nil
}

func (l *DistributedLock) Unlock(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.stopRenew) })

	n, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Int64()
	if err != nil {
		return fmt.Errorf("failed to unlock: %w", err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

func (l *DistributedLock) renewLock(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.value, l.ttl.Milliseconds()).Int64()
			if err != nil || n == 0 {
				return
			}
		case <-l.stopRenew:
			return
		case <-ctx.Done():
			return
		}
	}
}

// LockManager namespaces locks under a key prefix.
type LockManager struct {
	client *redis.Client
	prefix string
}

func NewLockManager(client *redis.Client, prefix string) *LockManager {
	return &LockManager{client: client, prefix: prefix}
}

func (lm *LockManager) AcquireLock(key string, ttl time.Duration) *DistributedLock {
	return NewDistributedLock(lm.client, lm.prefix+key, ttl)
}

// RunExclusive runs fn only if the lock for key is free, and reports whether
// it ran. Instances that lose the race skip the work for this round.
func (lm *LockManager) RunExclusive(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) (bool, error) {
	lock := lm.AcquireLock(key, ttl)
	ok, err := lock.TryLock(ctx)
	if err != nil || !ok {
		return false, err
	}
	runErr := fn(ctx)
	// A lock that expired mid-run is already gone; that is not an error here.
	if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrNotHeld) {
		return true, errors.Join(runErr, err)
	}
	return true, runErr
}
