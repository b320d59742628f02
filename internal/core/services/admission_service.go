package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cinewave/internal/core/domain"
	"cinewave/internal/core/ports"
	"cinewave/pkg/circuitbreaker"
	"cinewave/pkg/tracing"
)

type AdmissionConfig struct {
	LeaseTTL                time.Duration
	DefaultMaxStreams       int
	BreakerFailureThreshold int
	BreakerOpenTimeout      time.Duration
}

// AdmissionService enforces the per-user concurrent stream limit. Ledger
// calls go through a circuit breaker so an unreachable ledger fails fast.
type AdmissionService struct {
	ledger  ports.AdmissionLedger
	plans   ports.SubscriptionRepository
	breaker *circuitbreaker.CircuitBreaker
	config  AdmissionConfig
	metrics ports.Metrics
	logger  *zap.SugaredLogger
}

var _ ports.AdmissionService = (*AdmissionService)(nil)

func NewAdmissionService(
	ledger ports.AdmissionLedger,
	plans ports.SubscriptionRepository,
	config AdmissionConfig,
	metrics ports.Metrics,
	logger *zap.SugaredLogger,
) *AdmissionService {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if config.DefaultMaxStreams <= 0 {
		config.DefaultMaxStreams = 1
	}

	cbConfig := circuitbreaker.DefaultConfig()
	if config.BreakerFailureThreshold > 0 {
		cbConfig.FailureThreshold = config.BreakerFailureThreshold
	}
	if config.BreakerOpenTimeout > 0 {
		cbConfig.Timeout = config.BreakerOpenTimeout
	}
	cbConfig.IsFailure = isLedgerFailure

	breaker := circuitbreaker.New(cbConfig)
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("Admission ledger breaker changed state", "from", from.String(), "to", to.String())
	})

	return &AdmissionService{
		ledger:  ledger,
		plans:   plans,
		breaker: breaker,
		config:  config,
		metrics: metrics,
		logger:  logger,
	}
}

// isLedgerFailure keeps expected outcomes from tripping the breaker.
func isLedgerFailure(err error) bool {
	return !errors.Is(err, domain.ErrStreamLimitReached) &&
		!errors.Is(err, domain.ErrLeaseNotFound) &&
		!errors.Is(err, context.Canceled)
}

// Start admits a new stream or fails with domain.ErrStreamLimitReached.
func (s *AdmissionService) Start(ctx context.Context, userID domain.UserID) (*domain.Lease, error) {
	ctx, span := tracing.TraceAdmission(ctx, "start", string(userID))
	defer span.End()

	maxStreams := s.maxStreams(ctx, userID)
	leaseID, err := circuitbreaker.Do(s.breaker, func() (domain.LeaseID, error) {
		return s.ledger.Acquire(ctx, userID, maxStreams, s.config.LeaseTTL)
	})
	if err != nil {
		if errors.Is(err, domain.ErrStreamLimitReached) {
			s.metrics.RecordAdmission("start", "rejected")
			s.logger.Infow("Stream limit reached", "user_id", userID, "max_streams", maxStreams)
			return nil, &domain.StreamLimitError{MaxStreams: maxStreams}
		}
		s.metrics.RecordAdmission("start", "error")
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("acquire lease: %w", err)
	}

	s.metrics.RecordAdmission("start", "admitted")
	s.logger.Debugw("Stream admitted", "user_id", userID, "stream_id", leaseID)
	return &domain.Lease{
		ID:         leaseID,
		UserID:     userID,
		MaxStreams: maxStreams,
		TTL:        s.config.LeaseTTL,
	}, nil
}

// Heartbeat extends a live lease; a lapsed one yields domain.ErrLeaseNotFound.
func (s *AdmissionService) Heartbeat(ctx context.Context, userID domain.UserID, leaseID domain.LeaseID) error {
	ctx, span := tracing.TraceAdmission(ctx, "heartbeat", string(userID))
	defer span.End()

	renewed, err := circuitbreaker.Do(s.breaker, func() (bool, error) {
		return s.ledger.Renew(ctx, userID, leaseID, s.config.LeaseTTL)
	})
	if err != nil {
		s.metrics.RecordAdmission("heartbeat", "error")
		tracing.RecordError(ctx, err)
		return fmt.Errorf("renew lease: %w", err)
	}
	if !renewed {
		s.metrics.RecordAdmission("heartbeat", "expired")
		return domain.ErrLeaseNotFound
	}
	s.metrics.RecordAdmission("heartbeat", "renewed")
	return nil
}

func (s *AdmissionService) Stop(ctx context.Context, userID domain.UserID, leaseID domain.LeaseID) error {
	ctx, span := tracing.TraceAdmission(ctx, "stop", string(userID))
	defer span.End()

	if err := s.breaker.Execute(func() error {
		return s.ledger.Release(ctx, userID, leaseID)
	}); err != nil {
		s.metrics.RecordAdmission("stop", "error")
		return fmt.Errorf("release lease: %w", err)
	}
	s.metrics.RecordAdmission("stop", "released")
	return nil
}

func (s *AdmissionService) Active(ctx context.Context, userID domain.UserID) (int, int, error) {
	maxStreams := s.maxStreams(ctx, userID)
	active, err := circuitbreaker.Do(s.breaker, func() (int, error) {
		return s.ledger.Count(ctx, userID)
	})
	if err != nil {
		return 0, maxStreams, fmt.Errorf("count leases: %w", err)
	}
	return active, maxStreams, nil
}

// maxStreams falls back to the default plan when the subscription store is
// unavailable; the ledger still enforces that limit.
func (s *AdmissionService) maxStreams(ctx context.Context, userID domain.UserID) int {
	n, err := s.plans.MaxStreams(ctx, userID)
	if err != nil || n <= 0 {
		s.logger.Warnw("Using default stream limit", "user_id", userID, "error", err)
		return s.config.DefaultMaxStreams
	}
	return n
}

// Ready fails while the ledger breaker rejects calls, so /ready reports an
// instance that is refusing every stream start.
func (s *AdmissionService) Ready(ctx context.Context) error {
	if s.breaker.Rejecting() {
		return fmt.Errorf("admission ledger: %w", circuitbreaker.ErrOpen)
	}
	return nil
}
