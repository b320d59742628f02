package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"cinewave/internal/core/ports"
	"cinewave/internal/infrastructure/repositories/memory"
	redisrepo "cinewave/internal/infrastructure/repositories/redis"
	"cinewave/internal/infrastructure/repositories/sqlite"
	"cinewave/pkg/config"
)

// sessionStore is what both the SQLite and the memory store provide.
type sessionStore interface {
	ports.RoomRepository
	ports.MembershipRepository
	ports.UserDirectory
	ports.SubscriptionRepository
}

// RepositoryFactory wires the session store (SQLite or memory) and the
// admission ledger (Redis or memory) from configuration.
type RepositoryFactory struct {
	store       sessionStore
	sqlStore    *sqlite.Store
	redisClient *redis.Client
	leaseGrace  time.Duration
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		leaseGrace: cfg.Admission.LeaseSetGrace,
		logger:     logger,
	}

	if cfg.Storage.SQLitePath != "" {
		store, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		factory.store = store
		factory.sqlStore = store
		logger.Infow("using SQLite session store", "path", cfg.Storage.SQLitePath)
	} else {
		factory.store = memory.NewStore()
		logger.Info("using memory session store")
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			// No memory fallback: the ledger must be shared by every replica.
			if factory.sqlStore != nil {
				_ = factory.sqlStore.Close()
			}
			return nil, fmt.Errorf("connect admission ledger: %w", err)
		}
		factory.redisClient = client
	} else {
		logger.Info("using memory admission ledger; stream limits are per instance")
	}

	return factory, nil
}

func (f *RepositoryFactory) RoomRepository() ports.RoomRepository             { return f.store }
func (f *RepositoryFactory) MembershipRepository() ports.MembershipRepository { return f.store }
func (f *RepositoryFactory) UserDirectory() ports.UserDirectory               { return f.store }
func (f *RepositoryFactory) SubscriptionRepository() ports.SubscriptionRepository {
	return f.store
}

func (f *RepositoryFactory) CreateAdmissionLedger() ports.AdmissionLedger {
	if f.redisClient != nil {
		return redisrepo.NewRedisLeaseLedger(f.redisClient, f.leaseGrace)
	}
	return memory.NewMemoryLeaseLedger()
}

// CreatePresenceCounter shares connection counts through Redis when it is
// enabled. instanceID must be unique per running process.
func (f *RepositoryFactory) CreatePresenceCounter(instanceID string, ttl time.Duration) ports.PresenceCounter {
	if f.redisClient != nil {
		return redisrepo.NewRedisPresenceCounter(f.redisClient, instanceID, ttl, f.logger.Named("presence"))
	}
	return memory.NewPresenceCounter()
}

// SQLStore is nil when the session store lives in memory.
func (f *RepositoryFactory) SQLStore() *sqlite.Store {
	return f.sqlStore
}

// RedisClient is nil when Redis is disabled.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *RepositoryFactory) Close() error {
	var errs []error
	if f.redisClient != nil {
		errs = append(errs, f.redisClient.Close())
	}
	if f.sqlStore != nil {
		errs = append(errs, f.sqlStore.Close())
	}
	return errors.Join(errs...)
}

// HealthCheck pings whichever backing stores are configured.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.redisClient != nil {
		if err := f.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if f.sqlStore != nil {
		if err := f.sqlStore.Ping(ctx); err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
	}
	return nil
}
