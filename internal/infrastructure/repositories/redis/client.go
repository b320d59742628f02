package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const connectTimeout = 5 * time.Second

// NewRedisClient opens a pooled client, verifies it with PING and preloads the
// lease ledger and presence scripts. A server that refuses scripting is rejected here
// rather than at the first stream start.
func NewRedisClient(address, password string, db, poolSize int, logger *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         address,
		Password:     password,
		DB:           db,
		PoolSize:     poolSize,
		MinIdleConns: 2,
		ClientName:   "cinewave",
		DialTimeout:  connectTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	if err := LoadScripts(ctx, client); err != nil {
		_ = client.Close()
		return nil, err
	}

	if logger != nil {
		logger.Infow("connected to Redis",
			"address", address,
			"db", db,
			"pool_size", poolSize,
		)
	}
	return client, nil
}

// LoadScripts caches the Lua scripts on the server so EVALSHA hits
// on the first call.
func LoadScripts(ctx context.Context, client redis.Scripter) error {
	for name, script := range map[string]*redis.Script{
		"acquire":  acquireScript,
		"renew":    renewScript,
		"release":  releaseScript,
		"count":    countScript,
		"presence": presenceReleaseScript,
	} {
		if err := script.Load(ctx, client).Err(); err != nil {
			return fmt.Errorf("load %s script: %w", name, err)
		}
	}
	return nil
}
