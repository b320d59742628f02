package domain

import (
	"math"
	"time"
)

type RoomID string
type InviteCode string
type MovieID string
type EpisodeID string

// Room is a watch party: one host, one movie (optionally an episode) and the
// playback position every member follows.
type Room struct {
	ID         RoomID        `json:"id"`
	InviteCode InviteCode    `json:"invite_code"`
	HostUserID UserID        `json:"host_user_id"`
	MovieID    MovieID       `json:"movie_id"`
	Playback   PlaybackState `json:"playback"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// PlaybackState is the host-authoritative part of a room.
type PlaybackState struct {
	CurrentTime float64   `json:"current_time"`
	IsPlaying   bool      `json:"is_playing"`
	EpisodeID   EpisodeID `json:"episode_id,omitempty"`
}

func (r *Room) IsHost(userID UserID) bool {
	return r != nil && userID != "" && r.HostUserID == userID
}

// ValidPlaybackTime rejects positions a player cannot seek to.
func ValidPlaybackTime(t float64) bool {
	return !math.IsNaN(t) && !math.IsInf(t, 0) && t >= 0
}

// NeedsResync reports whether a client at local should jump to remote.
// Drift within tolerance is left alone so network jitter does not cause stutter.
func NeedsResync(local, remote, tolerance float64) bool {
	return math.Abs(local-remote) > tolerance
}

// Membership ties a user to a room. There is at most one per (room, user).
type Membership struct {
	RoomID   RoomID
	UserID   UserID
	JoinedAt time.Time
}

// Member is one roster entry as clients see it.
type Member struct {
	UserID      UserID `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef"`
}

type Roster []Member
