package memory

import (
	"context"
	"sync"

	"cinewave/internal/core/domain"
	"cinewave/internal/core/ports"
)

type presenceKey struct {
	room domain.RoomID
	user domain.UserID
}

// PresenceCounter counts connections in process. Only correct when a single
// instance serves the session store.
type PresenceCounter struct {
	mu     sync.Mutex
	counts map[presenceKey]int
}

var _ ports.PresenceCounter = (*PresenceCounter)(nil)

func NewPresenceCounter() *PresenceCounter {
	return &PresenceCounter{counts: make(map[presenceKey]int)}
}

func (c *PresenceCounter) Acquire(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[presenceKey{roomID, userID}]++
	return nil
}

func (c *PresenceCounter) Release(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := presenceKey{roomID, userID}
	n := c.counts[key] - 1
	if n <= 0 {
		delete(c.counts, key)
		return 0, nil
	}
	c.counts[key] = n
	return n, nil
}

func (c *PresenceCounter) Count(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[presenceKey{roomID, userID}], nil
}
