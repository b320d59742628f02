package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"cinewave/internal/core/domain"
	"cinewave/internal/core/ports"
)

// Connection counts per (room, user) are split by instance:
//
//	cinewave:presence:{<room>}:<user>  HASH instance id -> open connections
//	cinewave:instance:<id>             "1" with PX ttl while the instance heartbeats
//
// A field whose instance key is gone belongs to an instance that stopped
// without releasing. It is not counted and is dropped when next read.
var presenceReleaseScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
if n <= 0 then
	redis.call('HDEL', KEYS[1], ARGV[1])
end
return redis.call('HGETALL', KEYS[1])
`)

type RedisPresenceCounter struct {
	client     *redis.Client
	instanceID string
	ttl        time.Duration
	logger     *zap.SugaredLogger
}

var _ ports.PresenceCounter = (*RedisPresenceCounter)(nil)

// NewRedisPresenceCounter counts on behalf of instanceID. The instance is
// considered gone once ttl passes without a heartbeat.
func NewRedisPresenceCounter(client *redis.Client, instanceID string, ttl time.Duration, logger *zap.SugaredLogger) *RedisPresenceCounter {
	return &RedisPresenceCounter{
		client:     client,
		instanceID: instanceID,
		ttl:        ttl,
		logger:     logger,
	}
}

func presenceKey(roomID domain.RoomID, userID domain.UserID) string {
	return "cinewave:presence:{" + string(roomID) + "}:" + string(userID)
}

func instanceKey(instanceID string) string {
	return "cinewave:instance:" + instanceID
}

// Heartbeat marks this instance alive for one ttl.
func (c *RedisPresenceCounter) Heartbeat(ctx context.Context) error {
	return c.client.Set(ctx, instanceKey(c.instanceID), "1", c.ttl).Err()
}

// Run heartbeats until ctx is done, then withdraws the liveness key so other
// instances stop counting this one's connections at once.
func (c *RedisPresenceCounter) Run(ctx context.Context) error {
	if err := c.Heartbeat(ctx); err != nil {
		c.logger.Warnw("Presence heartbeat failed", "error", err)
	}

	ticker := time.NewTicker(c.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.withdraw()
			return nil
		case <-ticker.C:
			if err := c.Heartbeat(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warnw("Presence heartbeat failed", "error", err)
			}
		}
	}
}

func (c *RedisPresenceCounter) withdraw() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.client.Del(ctx, instanceKey(c.instanceID)).Err(); err != nil {
		c.logger.Warnw("Failed to withdraw instance liveness", "error", err)
	}
}

func (c *RedisPresenceCounter) Acquire(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	pipe := c.client.Pipeline()
	pipe.HIncrBy(ctx, presenceKey(roomID, userID), c.instanceID, 1)
	pipe.Set(ctx, instanceKey(c.instanceID), "1", c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("acquire presence: %w", err)
	}
	return nil
}

func (c *RedisPresenceCounter) Release(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (int, error) {
	key := presenceKey(roomID, userID)
	flat, err := presenceReleaseScript.Run(ctx, c.client, []string{key}, c.instanceID).StringSlice()
	if err != nil {
		return 0, fmt.Errorf("release presence: %w", err)
	}

	counts := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		counts[flat[i]] = flat[i+1]
	}
	return c.liveTotal(ctx, key, counts)
}

func (c *RedisPresenceCounter) Count(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (int, error) {
	key := presenceKey(roomID, userID)
	counts, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("count presence: %w", err)
	}
	return c.liveTotal(ctx, key, counts)
}

// liveTotal sums the counts of instances that still heartbeat and drops the
// fields of those that do not. This instance is always live.
func (c *RedisPresenceCounter) liveTotal(ctx context.Context, key string, counts map[string]string) (int, error) {
	total := 0
	var others []string
	for inst, v := range counts {
		if inst == c.instanceID {
			n, _ := strconv.Atoi(v)
			total += n
			continue
		}
		others = append(others, inst)
	}
	if len(others) == 0 {
		return total, nil
	}

	pipe := c.client.Pipeline()
	alive := make([]*redis.IntCmd, len(others))
	for i, inst := range others {
		alive[i] = pipe.Exists(ctx, instanceKey(inst))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("check instances: %w", err)
	}

	var dead []string
	for i, inst := range others {
		if alive[i].Val() == 0 {
			dead = append(dead, inst)
			continue
		}
		n, _ := strconv.Atoi(counts[inst])
		total += n
	}
	if len(dead) > 0 {
		if err := c.client.HDel(ctx, key, dead...).Err(); err != nil {
			c.logger.Debugw("Failed to drop stale presence", "key", key, "error", err)
		} else {
			c.logger.Infow("Dropped presence of stopped instances", "key", key, "instances", dead)
		}
	}
	return total, nil
}
