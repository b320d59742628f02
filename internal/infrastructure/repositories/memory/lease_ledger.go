package memory

import (
	"context"
	"sync"
	"time"

	"cinewave/internal/core/domain"
	"cinewave/internal/core/ports"
	"cinewave/pkg/utils"
)

// MemoryLeaseLedger is the single-instance ledger. One mutex covers reap,
// count and insert, which is what makes Acquire atomic.
type MemoryLeaseLedger struct {
	mu     sync.Mutex
	leases map[domain.UserID]map[domain.LeaseID]time.Time
	now    func() time.Time
}

func NewMemoryLeaseLedger() *MemoryLeaseLedger {
	return NewMemoryLeaseLedgerWithClock(time.Now)
}

func NewMemoryLeaseLedgerWithClock(now func() time.Time) *MemoryLeaseLedger {
	return &MemoryLeaseLedger{
		leases: make(map[domain.UserID]map[domain.LeaseID]time.Time),
		now:    now,
	}
}

var _ ports.AdmissionLedger = (*MemoryLeaseLedger)(nil)

func (l *MemoryLeaseLedger) Acquire(ctx context.Context, userID domain.UserID, maxStreams int, ttl time.Duration) (domain.LeaseID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	live := l.reapLocked(userID, now)
	if len(live) >= maxStreams {
		return "", domain.ErrStreamLimitReached
	}

	if live == nil {
		live = make(map[domain.LeaseID]time.Time)
		l.leases[userID] = live
	}
	leaseID := domain.LeaseID(utils.NewLeaseID())
	live[leaseID] = now.Add(ttl)
	return leaseID, nil
}

func (l *MemoryLeaseLedger) Renew(ctx context.Context, userID domain.UserID, leaseID domain.LeaseID, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	live := l.reapLocked(userID, now)
	if _, ok := live[leaseID]; !ok {
		return false, nil
	}
	live[leaseID] = now.Add(ttl)
	return true, nil
}

func (l *MemoryLeaseLedger) Release(ctx context.Context, userID domain.UserID, leaseID domain.LeaseID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if live, ok := l.leases[userID]; ok {
		delete(live, leaseID)
		if len(live) == 0 {
			delete(l.leases, userID)
		}
	}
	return nil
}

func (l *MemoryLeaseLedger) Count(ctx context.Context, userID domain.UserID) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.reapLocked(userID, l.now())), nil
}

// reapLocked drops expired leases for userID and returns what is left.
func (l *MemoryLeaseLedger) reapLocked(userID domain.UserID, now time.Time) map[domain.LeaseID]time.Time {
	live, ok := l.leases[userID]
	if !ok {
		return nil
	}
	for id, expiresAt := range live {
		if !now.Before(expiresAt) {
			delete(live, id)
		}
	}
	if len(live) == 0 {
		delete(l.leases, userID)
		return nil
	}
	return live
}
