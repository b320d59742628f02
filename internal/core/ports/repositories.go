package ports

import (
	"context"
	"time"

	"cinewave/internal/core/domain"
)

type RoomRepository interface {
	// Create fails with domain.ErrInviteCodeTaken when the code is in use.
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	GetByInviteCode(ctx context.Context, code domain.InviteCode) (*domain.Room, error)
	UpdatePlayback(ctx context.Context, id domain.RoomID, state domain.PlaybackState) error
	Delete(ctx context.Context, id domain.RoomID) error
	// ListIdle returns rooms without members last updated before cutoff.
	ListIdle(ctx context.Context, cutoff time.Time) ([]domain.RoomID, error)
}

type MembershipRepository interface {
	// Upsert is idempotent per (room, user).
	Upsert(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error
	Remove(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error
	// ListMembers returns the roster ordered by join time.
	ListMembers(ctx context.Context, roomID domain.RoomID) (domain.Roster, error)
	// ListMemberships returns every stored (room, user) row.
	ListMemberships(ctx context.Context) ([]domain.Membership, error)
}

// PresenceCounter counts a user's open connections to a room across every
// instance sharing the session store. Counts held by an instance that
// stopped heartbeating are not reported.
type PresenceCounter interface {
	Acquire(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error
	// Release drops one connection and returns how many remain.
	Release(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (int, error)
	Count(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (int, error)
}

type UserDirectory interface {
	GetProfile(ctx context.Context, id domain.UserID) (*domain.UserProfile, error)
	UpsertProfile(ctx context.Context, profile *domain.UserProfile) error
}

type SubscriptionRepository interface {
	// MaxStreams resolves the user's effective plan limit; no active
	// subscription means the FREE plan.
	MaxStreams(ctx context.Context, userID domain.UserID) (int, error)
	PutSubscription(ctx context.Context, sub *domain.Subscription) error
}

// AdmissionLedger counts live stream leases per user. Acquire must reap,
// count and insert as one atomic step.
type AdmissionLedger interface {
	Acquire(ctx context.Context, userID domain.UserID, maxStreams int, ttl time.Duration) (domain.LeaseID, error)
	Renew(ctx context.Context, userID domain.UserID, leaseID domain.LeaseID, ttl time.Duration) (bool, error)
	Release(ctx context.Context, userID domain.UserID, leaseID domain.LeaseID) error
	Count(ctx context.Context, userID domain.UserID) (int, error)
}
