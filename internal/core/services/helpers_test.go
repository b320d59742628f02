package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cinewave/internal/core/domain"
	"cinewave/internal/infrastructure/repositories/memory"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []*domain.RoomEvent
}

func (b *recordingBroadcaster) Broadcast(ctx context.Context, event *domain.RoomEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBroadcaster) Events() []*domain.RoomEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*domain.RoomEvent(nil), b.events...)
}

type recordingSink struct {
	mu     sync.Mutex
	states map[domain.RoomID][]domain.PlaybackState
}

func (s *recordingSink) Enqueue(roomID domain.RoomID, state domain.PlaybackState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states == nil {
		s.states = make(map[domain.RoomID][]domain.PlaybackState)
	}
	s.states[roomID] = append(s.states[roomID], state)
}

func (s *recordingSink) Last(roomID domain.RoomID) (domain.PlaybackState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := s.states[roomID]
	if len(states) == 0 {
		return domain.PlaybackState{}, false
	}
	return states[len(states)-1], true
}

// MockRoomRepository lets tests block or fail individual calls.
type MockRoomRepository struct {
	mock.Mock
}

func (m *MockRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	return m.Called(ctx, room).Error(0)
}

func (m *MockRoomRepository) GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Room), args.Error(1)
}

func (m *MockRoomRepository) GetByInviteCode(ctx context.Context, code domain.InviteCode) (*domain.Room, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Room), args.Error(1)
}

func (m *MockRoomRepository) UpdatePlayback(ctx context.Context, id domain.RoomID, state domain.PlaybackState) error {
	return m.Called(ctx, id, state).Error(0)
}

func (m *MockRoomRepository) Delete(ctx context.Context, id domain.RoomID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockRoomRepository) ListIdle(ctx context.Context, cutoff time.Time) ([]domain.RoomID, error) {
	args := m.Called(ctx, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RoomID), args.Error(1)
}

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func seedRoom(t *testing.T, store *memory.Store, id domain.RoomID, host domain.UserID) *domain.Room {
	t.Helper()
	room := &domain.Room{
		ID:         id,
		InviteCode: domain.InviteCode("INV" + string(id)[len(id)-3:]),
		HostUserID: host,
		MovieID:    "movie-1",
	}
	require.NoError(t, store.Create(context.Background(), room))
	return room
}
