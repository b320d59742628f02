package ports

import (
	"context"

	"cinewave/internal/core/domain"
)

type RoomService interface {
	CreateRoom(ctx context.Context, host domain.UserID, movieID domain.MovieID, episodeID domain.EpisodeID) (*domain.Room, error)
	JoinByInvite(ctx context.Context, userID domain.UserID, code domain.InviteCode) (*domain.Room, error)
	GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, domain.Roster, error)
}

type AdmissionService interface {
	Start(ctx context.Context, userID domain.UserID) (*domain.Lease, error)
	Heartbeat(ctx context.Context, userID domain.UserID, leaseID domain.LeaseID) error
	Stop(ctx context.Context, userID domain.UserID, leaseID domain.LeaseID) error
	Active(ctx context.Context, userID domain.UserID) (active, maxStreams int, err error)
}

// PlaybackService owns live room state. Transport calls fail with
// domain.ErrNotHost for anyone but the room's host.
type PlaybackService interface {
	Snapshot(ctx context.Context, roomID domain.RoomID) (domain.StatePayload, error)
	Play(ctx context.Context, roomID domain.RoomID, userID domain.UserID, at float64) error
	Pause(ctx context.Context, roomID domain.RoomID, userID domain.UserID, at float64) error
	Seek(ctx context.Context, roomID domain.RoomID, userID domain.UserID, at float64) error
	ChangeEpisode(ctx context.Context, roomID domain.RoomID, userID domain.UserID, episodeID domain.EpisodeID) error
}

type PresenceService interface {
	Join(ctx context.Context, connID string, roomID domain.RoomID, member domain.Member) (domain.Roster, error)
	Leave(ctx context.Context, connID string, roomID domain.RoomID) (domain.Roster, bool, error)
	OnDisconnect(ctx context.Context, connID string) []domain.RoomID
	Roster(ctx context.Context, roomID domain.RoomID) (domain.Roster, error)
	IsJoined(connID string, roomID domain.RoomID) bool
}

// RoomBroadcaster delivers an event to every connection in the event's room,
// on this instance and, when configured, on the others.
type RoomBroadcaster interface {
	Broadcast(ctx context.Context, event *domain.RoomEvent)
}
