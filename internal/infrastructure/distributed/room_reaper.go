package distributed

import (
	"context"
	"time"

	"go.uber.org/zap"

	"cinewave/pkg/distributed"
)

const reaperLockKey = "room-reaper"

// IdleReaper deletes idle rooms.
type IdleReaper interface {
	ReapIdle(ctx context.Context, ttl time.Duration) (int, error)
}

// MembershipPruner drops memberships whose user has no live connection.
type MembershipPruner interface {
	Prune(ctx context.Context) (int, error)
}

// RoomReaper runs the room cleanup on an interval: stale memberships first,
// so rooms left with only ghost members become idle, then idle rooms when a
// ttl is set. With a lock manager only the instance holding the lock runs a
// given tick.
type RoomReaper struct {
	rooms    IdleReaper
	presence MembershipPruner
	locks    *distributed.LockManager
	ttl      time.Duration
	interval time.Duration
	logger   *zap.SugaredLogger
}

// NewRoomReaper accepts a nil pruner, a nil lock manager for single-instance
// deployments, and a zero ttl to keep idle rooms.
func NewRoomReaper(rooms IdleReaper, presence MembershipPruner, locks *distributed.LockManager, ttl, interval time.Duration, logger *zap.SugaredLogger) *RoomReaper {
	return &RoomReaper{
		rooms:    rooms,
		presence: presence,
		locks:    locks,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
	}
}

func (r *RoomReaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Infow("Room reaper started", "idle_ttl", r.ttl, "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Tick(ctx); err != nil {
				r.logger.Warnw("Room reaper tick failed", "error", err)
			}
		}
	}
}

// Tick runs one pass and reports how many rooms were deleted.
func (r *RoomReaper) Tick(ctx context.Context) (int, error) {
	if r.locks == nil {
		return r.pass(ctx)
	}

	var reaped int
	ran, err := r.locks.RunExclusive(ctx, reaperLockKey, r.interval, func(ctx context.Context) error {
		n, err := r.pass(ctx)
		reaped = n
		return err
	})
	if !ran && err == nil {
		r.logger.Debug("Room reaper lock held elsewhere")
	}
	return reaped, err
}

func (r *RoomReaper) pass(ctx context.Context) (int, error) {
	if r.presence != nil {
		if _, err := r.presence.Prune(ctx); err != nil {
			r.logger.Warnw("Membership prune failed", "error", err)
		}
	}
	if r.ttl <= 0 {
		return 0, nil
	}
	return r.rooms.ReapIdle(ctx, r.ttl)
}
