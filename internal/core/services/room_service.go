package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cinewave/internal/core/domain"
	"cinewave/internal/core/ports"
	"cinewave/pkg/utils"
)

type RoomServiceConfig struct {
	InviteCodeAttempts int
}

type RoomService struct {
	rooms    ports.RoomRepository
	members  ports.MembershipRepository
	playback *PlaybackService
	config   RoomServiceConfig
	logger   *zap.SugaredLogger

	newInviteCode func() (string, error)
	now           func() time.Time
}

var _ ports.RoomService = (*RoomService)(nil)

func NewRoomService(
	rooms ports.RoomRepository,
	members ports.MembershipRepository,
	playback *PlaybackService,
	config RoomServiceConfig,
	logger *zap.SugaredLogger,
) *RoomService {
	if config.InviteCodeAttempts <= 0 {
		config.InviteCodeAttempts = 10
	}
	return &RoomService{
		rooms:         rooms,
		members:       members,
		playback:      playback,
		config:        config,
		logger:        logger,
		newInviteCode: utils.NewInviteCode,
		now:           time.Now,
	}
}

// CreateRoom opens a paused room at zero. Invite codes are random; a
// collision with an existing room is retried with a fresh code.
func (s *RoomService) CreateRoom(ctx context.Context, host domain.UserID, movieID domain.MovieID, episodeID domain.EpisodeID) (*domain.Room, error) {
	for attempt := 1; attempt <= s.config.InviteCodeAttempts; attempt++ {
		code, err := s.newInviteCode()
		if err != nil {
			return nil, fmt.Errorf("generate invite code: %w", err)
		}

		now := s.now().UTC()
		room := &domain.Room{
			ID:         domain.RoomID(utils.NewRoomID()),
			InviteCode: domain.InviteCode(code),
			HostUserID: host,
			MovieID:    movieID,
			Playback:   domain.PlaybackState{EpisodeID: episodeID},
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		err = s.rooms.Create(ctx, room)
		if errors.Is(err, domain.ErrInviteCodeTaken) {
			s.logger.Debugw("Invite code collision", "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create room: %w", err)
		}

		s.logger.Infow("Room created",
			"room_id", room.ID,
			"host_user_id", host,
			"movie_id", movieID,
		)
		return room, nil
	}
	return nil, fmt.Errorf("no free invite code after %d attempts: %w", s.config.InviteCodeAttempts, domain.ErrInviteCodeTaken)
}

// JoinByInvite records membership for the invited user. Presence in the
// realtime channel is tracked separately once the user connects.
func (s *RoomService) JoinByInvite(ctx context.Context, userID domain.UserID, code domain.InviteCode) (*domain.Room, error) {
	room, err := s.rooms.GetByInviteCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.members.Upsert(ctx, room.ID, userID); err != nil {
		return nil, fmt.Errorf("join room: %w", err)
	}
	s.overlayLive(room)

	s.logger.Infow("User joined room by invite", "room_id", room.ID, "user_id", userID)
	return room, nil
}

func (s *RoomService) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, domain.Roster, error) {
	room, err := s.rooms.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	roster, err := s.members.ListMembers(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("list members: %w", err)
	}
	s.overlayLive(room)
	return room, roster, nil
}

// ReapIdle deletes rooms nobody is in that have not changed for ttl.
func (s *RoomService) ReapIdle(ctx context.Context, ttl time.Duration) (int, error) {
	ids, err := s.rooms.ListIdle(ctx, s.now().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("list idle rooms: %w", err)
	}

	reaped := 0
	for _, id := range ids {
		if err := s.rooms.Delete(ctx, id); err != nil {
			s.logger.Warnw("Failed to delete idle room", "room_id", id, "error", err)
			continue
		}
		if s.playback != nil {
			s.playback.Evict(id)
		}
		reaped++
	}
	if reaped > 0 {
		s.logger.Infow("Idle rooms reaped", "count", reaped)
	}
	return reaped, nil
}

// overlayLive replaces the stored playback with the live copy, which may be
// ahead of what the state writer has persisted.
func (s *RoomService) overlayLive(room *domain.Room) {
	if s.playback == nil {
		return
	}
	if state, ok := s.playback.Current(room.ID); ok {
		room.Playback = state
	}
}
