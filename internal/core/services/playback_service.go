package services

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"cinewave/internal/core/domain"
	"cinewave/internal/core/ports"
)

// StateSink receives every accepted playback change for persistence.
type StateSink interface {
	Enqueue(roomID domain.RoomID, state domain.PlaybackState)
}

type liveRoom struct {
	mu        sync.Mutex
	id        domain.RoomID
	host      domain.UserID
	state     domain.PlaybackState
	updatedBy domain.UserID
}

// PlaybackService holds the live state of every room touched on this
// instance. Each room has its own lock; a change is applied and broadcast
// while holding it, so members observe changes in the order they were
// accepted. Persistence happens afterwards through the StateSink.
type PlaybackService struct {
	rooms       ports.RoomRepository
	sink        StateSink
	broadcaster ports.RoomBroadcaster
	metrics     ports.Metrics
	logger      *zap.SugaredLogger

	mu   sync.Mutex
	live map[domain.RoomID]*liveRoom
}

var _ ports.PlaybackService = (*PlaybackService)(nil)

func NewPlaybackService(
	rooms ports.RoomRepository,
	sink StateSink,
	broadcaster ports.RoomBroadcaster,
	metrics ports.Metrics,
	logger *zap.SugaredLogger,
) *PlaybackService {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &PlaybackService{
		rooms:       rooms,
		sink:        sink,
		broadcaster: broadcaster,
		metrics:     metrics,
		logger:      logger,
		live:        make(map[domain.RoomID]*liveRoom),
	}
}

// room returns the live copy, loading it from the repository on first use.
func (s *PlaybackService) room(ctx context.Context, roomID domain.RoomID) (*liveRoom, error) {
	s.mu.Lock()
	lr, ok := s.live[roomID]
	s.mu.Unlock()
	if ok {
		return lr, nil
	}

	stored, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if lr, ok := s.live[roomID]; ok {
		return lr, nil
	}
	lr = &liveRoom{
		id:        stored.ID,
		host:      stored.HostUserID,
		state:     stored.Playback,
		updatedBy: stored.HostUserID,
	}
	s.live[roomID] = lr
	s.metrics.SetLiveRooms(len(s.live))
	return lr, nil
}

func (s *PlaybackService) Snapshot(ctx context.Context, roomID domain.RoomID) (domain.StatePayload, error) {
	var snapshot domain.StatePayload
	err := s.View(ctx, roomID, func(state domain.StatePayload) {
		snapshot = state
	})
	return snapshot, err
}

// View calls fn with the room's state while holding its lock, so no
// broadcast for the room can interleave with what fn sends.
func (s *PlaybackService) View(ctx context.Context, roomID domain.RoomID, fn func(domain.StatePayload)) error {
	lr, err := s.room(ctx, roomID)
	if err != nil {
		return err
	}
	lr.mu.Lock()
	defer lr.mu.Unlock()
	fn(domain.StatePayload{
		CurrentTime: lr.state.CurrentTime,
		IsPlaying:   lr.state.IsPlaying,
		UpdatedBy:   lr.updatedBy,
	})
	return nil
}

// Current returns the live state when the room is loaded on this instance.
func (s *PlaybackService) Current(roomID domain.RoomID) (domain.PlaybackState, bool) {
	s.mu.Lock()
	lr, ok := s.live[roomID]
	s.mu.Unlock()
	if !ok {
		return domain.PlaybackState{}, false
	}
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.state, true
}

func (s *PlaybackService) Play(ctx context.Context, roomID domain.RoomID, userID domain.UserID, at float64) error {
	return s.transport(ctx, domain.IntentPlay, roomID, userID, at, func(st *domain.PlaybackState) bool {
		st.CurrentTime = at
		st.IsPlaying = true
		return true
	})
}

func (s *PlaybackService) Pause(ctx context.Context, roomID domain.RoomID, userID domain.UserID, at float64) error {
	return s.transport(ctx, domain.IntentPause, roomID, userID, at, func(st *domain.PlaybackState) bool {
		st.CurrentTime = at
		st.IsPlaying = false
		return false
	})
}

// Seek moves the position but leaves the stored play flag alone. Members are
// told the room is playing so they resume after buffering.
func (s *PlaybackService) Seek(ctx context.Context, roomID domain.RoomID, userID domain.UserID, at float64) error {
	return s.transport(ctx, domain.IntentSeek, roomID, userID, at, func(st *domain.PlaybackState) bool {
		st.CurrentTime = at
		return true
	})
}

// ChangeEpisode rewinds to zero and pauses. Members only receive the episode
// id and reload their player.
func (s *PlaybackService) ChangeEpisode(ctx context.Context, roomID domain.RoomID, userID domain.UserID, episodeID domain.EpisodeID) error {
	lr, err := s.authorize(ctx, domain.IntentEpisode, roomID, userID)
	if err != nil {
		return err
	}
	defer lr.mu.Unlock()

	next := domain.PlaybackState{EpisodeID: episodeID}
	event, err := domain.NewRoomEvent(domain.EventEpisode, roomID, episodeID)
	if err != nil {
		return fmt.Errorf("encode episode event: %w", err)
	}
	s.commit(ctx, lr, domain.IntentEpisode, userID, next, event)
	return nil
}

// apply mutates the state and returns the isPlaying value to announce.
type apply func(st *domain.PlaybackState) (announcePlaying bool)

func (s *PlaybackService) transport(ctx context.Context, intent domain.EventType, roomID domain.RoomID, userID domain.UserID, at float64, fn apply) error {
	if !domain.ValidPlaybackTime(at) {
		s.metrics.RecordIntent(intent, "invalid")
		return domain.ErrInvalidPlaybackTime
	}
	lr, err := s.authorize(ctx, intent, roomID, userID)
	if err != nil {
		return err
	}
	defer lr.mu.Unlock()

	next := lr.state
	playing := fn(&next)
	event, err := domain.NewRoomEvent(domain.EventState, roomID, domain.StatePayload{
		CurrentTime: next.CurrentTime,
		IsPlaying:   playing,
		UpdatedBy:   userID,
	})
	if err != nil {
		return fmt.Errorf("encode state event: %w", err)
	}
	s.commit(ctx, lr, intent, userID, next, event)
	return nil
}

// authorize returns the room locked when userID is its host.
func (s *PlaybackService) authorize(ctx context.Context, intent domain.EventType, roomID domain.RoomID, userID domain.UserID) (*liveRoom, error) {
	lr, err := s.room(ctx, roomID)
	if err != nil {
		s.metrics.RecordIntent(intent, "not_found")
		return nil, err
	}
	lr.mu.Lock()
	if lr.host != userID {
		lr.mu.Unlock()
		s.metrics.RecordIntent(intent, "not_host")
		return nil, domain.ErrNotHost
	}
	return lr, nil
}

// commit must be called with lr.mu held.
func (s *PlaybackService) commit(ctx context.Context, lr *liveRoom, intent domain.EventType, userID domain.UserID, next domain.PlaybackState, event *domain.RoomEvent) {
	lr.state = next
	lr.updatedBy = userID

	synced := next
	event.Sync = &synced
	event.UpdatedBy = userID
	s.broadcaster.Broadcast(ctx, event)

	s.sink.Enqueue(lr.id, next)
	s.metrics.RecordIntent(intent, "applied")
	s.logger.Debugw("Playback updated",
		"room_id", lr.id,
		"intent", intent,
		"current_time", next.CurrentTime,
		"is_playing", next.IsPlaying,
	)
}

// Observe applies a change accepted by another instance to the local copy.
// Rooms not loaded here are ignored; they load fresh from the store.
func (s *PlaybackService) Observe(event *domain.RoomEvent) {
	if event == nil || event.Sync == nil {
		return
	}
	s.mu.Lock()
	lr, ok := s.live[event.RoomID]
	s.mu.Unlock()
	if !ok {
		return
	}
	lr.mu.Lock()
	lr.state = *event.Sync
	if event.UpdatedBy != "" {
		lr.updatedBy = event.UpdatedBy
	}
	lr.mu.Unlock()
}

// Evict drops the live copy of a deleted room.
func (s *PlaybackService) Evict(roomID domain.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, roomID)
	s.metrics.SetLiveRooms(len(s.live))
}

func (s *PlaybackService) LiveRooms() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}
