// Package ledgertest holds behaviour checks shared by every
// ports.AdmissionLedger implementation.
package ledgertest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cinewave/internal/core/domain"
	"cinewave/internal/core/ports"
)

// Harness builds a fresh ledger and a way to move its clock forward.
type Harness func(t *testing.T) (ledger ports.AdmissionLedger, advance func(time.Duration))

const ttl = 10 * time.Second

func Run(t *testing.T, newLedger Harness) {
	t.Run("ConcurrentAcquireNeverExceedsLimit", func(t *testing.T) {
		ledger, _ := newLedger(t)
		ctx := context.Background()
		const (
			attempts = 25
			limit    = 2
		)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			admitted []domain.LeaseID
			rejected int
		)
		start := make(chan struct{})
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				id, err := ledger.Acquire(ctx, "u1", limit, ttl)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					admitted = append(admitted, id)
				case errors.Is(err, domain.ErrStreamLimitReached):
					rejected++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Len(t, admitted, limit)
		assert.Equal(t, attempts-limit, rejected)

		n, err := ledger.Count(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, limit, n)
	})

	t.Run("ExpiredLeasesFreeTheirSlot", func(t *testing.T) {
		ledger, advance := newLedger(t)
		ctx := context.Background()

		_, err := ledger.Acquire(ctx, "u1", 1, ttl)
		require.NoError(t, err)

		_, err = ledger.Acquire(ctx, "u1", 1, ttl)
		require.ErrorIs(t, err, domain.ErrStreamLimitReached)

		advance(ttl + time.Second)

		n, err := ledger.Count(ctx, "u1")
		require.NoError(t, err)
		assert.Zero(t, n)

		_, err = ledger.Acquire(ctx, "u1", 1, ttl)
		assert.NoError(t, err, "a crashed client's lease must not block forever")
	})

	t.Run("RenewExtendsLiveLease", func(t *testing.T) {
		ledger, advance := newLedger(t)
		ctx := context.Background()

		id, err := ledger.Acquire(ctx, "u1", 1, ttl)
		require.NoError(t, err)

		advance(ttl * 6 / 10)
		ok, err := ledger.Renew(ctx, "u1", id, ttl)
		require.NoError(t, err)
		require.True(t, ok)

		advance(ttl * 6 / 10)
		n, err := ledger.Count(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 1, n, "renewed lease outlives its original ttl")
	})

	t.Run("RenewNeverCreates", func(t *testing.T) {
		ledger, advance := newLedger(t)
		ctx := context.Background()

		ok, err := ledger.Renew(ctx, "u1", "never-issued", ttl)
		require.NoError(t, err)
		assert.False(t, ok)

		id, err := ledger.Acquire(ctx, "u1", 1, ttl)
		require.NoError(t, err)
		advance(ttl + time.Second)

		ok, err = ledger.Renew(ctx, "u1", id, ttl)
		require.NoError(t, err)
		assert.False(t, ok, "an expired lease is not revived")

		n, err := ledger.Count(ctx, "u1")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("ReleaseIsIdempotent", func(t *testing.T) {
		ledger, _ := newLedger(t)
		ctx := context.Background()

		id, err := ledger.Acquire(ctx, "u1", 1, ttl)
		require.NoError(t, err)

		require.NoError(t, ledger.Release(ctx, "u1", id))
		require.NoError(t, ledger.Release(ctx, "u1", id))
		require.NoError(t, ledger.Release(ctx, "nobody", "nothing"))

		_, err = ledger.Acquire(ctx, "u1", 1, ttl)
		assert.NoError(t, err)
	})

	t.Run("UsersAreIndependent", func(t *testing.T) {
		ledger, _ := newLedger(t)
		ctx := context.Background()

		_, err := ledger.Acquire(ctx, "u1", 1, ttl)
		require.NoError(t, err)
		_, err = ledger.Acquire(ctx, "u2", 1, ttl)
		assert.NoError(t, err)
	})
}
