package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cinewave/internal/core/domain"
	"cinewave/internal/core/ports"
	"cinewave/pkg/utils"
)

// Leases for a user live in a set plus one expiring key per lease:
//
//	cinewave:lease:{<user>}          SET of lease ids
//	cinewave:lease:{<user>}:<lease>  "1" with PX ttl
//
// The braces pin both to one cluster slot so a script may touch them together.
// A set member whose key has expired is a dead lease; scripts reap those
// before counting.

var acquireScript = redis.NewScript(`
local set = KEYS[1]
local lease = ARGV[1]
local max = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])
local grace = tonumber(ARGV[4])

for _, id in ipairs(redis.call('SMEMBERS', set)) do
	if redis.call('EXISTS', set .. ':' .. id) == 0 then
		redis.call('SREM', set, id)
	end
end

local count = redis.call('SCARD', set)
if count >= max then
	return -1
end

redis.call('SADD', set, lease)
redis.call('SET', set .. ':' .. lease, '1', 'PX', ttl)
local keep = ttl + grace
if redis.call('PTTL', set) < keep then
	redis.call('PEXPIRE', set, keep)
end
return count + 1
`)

var renewScript = redis.NewScript(`
local set = KEYS[1]
local lease = ARGV[1]
local ttl = tonumber(ARGV[2])
local grace = tonumber(ARGV[3])

if redis.call('SISMEMBER', set, lease) == 0 then
	return 0
end
if redis.call('PEXPIRE', set .. ':' .. lease, ttl) == 0 then
	redis.call('SREM', set, lease)
	return 0
end
local keep = ttl + grace
if redis.call('PTTL', set) < keep then
	redis.call('PEXPIRE', set, keep)
end
return 1
`)

var releaseScript = redis.NewScript(`
redis.call('SREM', KEYS[1], ARGV[1])
redis.call('DEL', KEYS[1] .. ':' .. ARGV[1])
return 1
`)

var countScript = redis.NewScript(`
local set = KEYS[1]
for _, id in ipairs(redis.call('SMEMBERS', set)) do
	if redis.call('EXISTS', set .. ':' .. id) == 0 then
		redis.call('SREM', set, id)
	end
end
return redis.call('SCARD', set)
`)

type RedisLeaseLedger struct {
	client *redis.Client
	prefix string
	grace  time.Duration
}

// NewRedisLeaseLedger stores leases under prefix. grace keeps the index set
// alive a little past its newest lease so a late renew still finds it.
func NewRedisLeaseLedger(client *redis.Client, grace time.Duration) *RedisLeaseLedger {
	return &RedisLeaseLedger{
		client: client,
		prefix: "cinewave:lease:",
		grace:  grace,
	}
}

var _ ports.AdmissionLedger = (*RedisLeaseLedger)(nil)

func (l *RedisLeaseLedger) setKey(userID domain.UserID) string {
	return l.prefix + "{" + string(userID) + "}"
}

func (l *RedisLeaseLedger) Acquire(ctx context.Context, userID domain.UserID, maxStreams int, ttl time.Duration) (domain.LeaseID, error) {
	leaseID := domain.LeaseID(utils.NewLeaseID())
	n, err := acquireScript.Run(ctx, l.client, []string{l.setKey(userID)},
		string(leaseID), maxStreams, ttl.Milliseconds(), l.grace.Milliseconds(),
	).Int64()
	if err != nil {
		return "", fmt.Errorf("acquire lease: %w", err)
	}
	if n < 0 {
		return "", domain.ErrStreamLimitReached
	}
	return leaseID, nil
}

func (l *RedisLeaseLedger) Renew(ctx context.Context, userID domain.UserID, leaseID domain.LeaseID, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, l.client, []string{l.setKey(userID)},
		string(leaseID), ttl.Milliseconds(), l.grace.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	return n == 1, nil
}

func (l *RedisLeaseLedger) Release(ctx context.Context, userID domain.UserID, leaseID domain.LeaseID) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.setKey(userID)}, string(leaseID)).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

func (l *RedisLeaseLedger) Count(ctx context.Context, userID domain.UserID) (int, error) {
	n, err := countScript.Run(ctx, l.client, []string{l.setKey(userID)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("count leases: %w", err)
	}
	return int(n), nil
}
