package memory

import (
	"sync"
	"testing"
	"time"

	"cinewave/internal/core/ports"
	"cinewave/internal/infrastructure/repositories/ledgertest"
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestMemoryLeaseLedger(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) (ports.AdmissionLedger, func(time.Duration)) {
		clock := &manualClock{t: time.Unix(1_700_000_000, 0)}
		return NewMemoryLeaseLedgerWithClock(clock.Now), clock.Advance
	})
}
