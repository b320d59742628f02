package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cinewave/internal/core/domain"
	"cinewave/internal/infrastructure/repositories/memory"
	"cinewave/pkg/validation"
)

func newRoomFixture(t *testing.T) (*RoomService, *PlaybackService, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	playback := NewPlaybackService(store, &recordingSink{}, &recordingBroadcaster{}, nil, testLogger())
	svc := NewRoomService(store, store, playback, RoomServiceConfig{InviteCodeAttempts: 10}, testLogger())
	return svc, playback, store
}

func TestRoomService_CreateRoom(t *testing.T) {
	svc, _, store := newRoomFixture(t)
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, "host", "movie-1", "ep-1")
	require.NoError(t, err)

	assert.NotEmpty(t, room.ID)
	assert.NoError(t, validation.ValidateInviteCode(string(room.InviteCode)))
	assert.Equal(t, domain.UserID("host"), room.HostUserID)
	assert.Equal(t, domain.PlaybackState{EpisodeID: "ep-1"}, room.Playback)

	stored, err := store.GetByInviteCode(ctx, room.InviteCode)
	require.NoError(t, err)
	assert.Equal(t, room.ID, stored.ID)
}

func TestRoomService_RetriesInviteCollision(t *testing.T) {
	svc, _, store := newRoomFixture(t)
	ctx := context.Background()
	seed := &domain.Room{ID: "existing", InviteCode: "AAAAAA", HostUserID: "someone"}
	require.NoError(t, store.Create(ctx, seed))

	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	calls := 0
	svc.newInviteCode = func() (string, error) {
		code := codes[calls]
		calls++
		return code, nil
	}

	room, err := svc.CreateRoom(ctx, "host", "movie-1", "")
	require.NoError(t, err)
	assert.Equal(t, domain.InviteCode("BBBBBB"), room.InviteCode)
	assert.Equal(t, 3, calls)
}

func TestRoomService_GivesUpAfterAttempts(t *testing.T) {
	svc, _, store := newRoomFixture(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &domain.Room{ID: "existing", InviteCode: "AAAAAA"}))

	calls := 0
	svc.newInviteCode = func() (string, error) {
		calls++
		return "AAAAAA", nil
	}

	_, err := svc.CreateRoom(ctx, "host", "movie-1", "")
	assert.ErrorIs(t, err, domain.ErrInviteCodeTaken)
	assert.Equal(t, 10, calls)
}

func TestRoomService_JoinByInvite(t *testing.T) {
	svc, _, _ := newRoomFixture(t)
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, "host", "movie-1", "")
	require.NoError(t, err)

	joined, err := svc.JoinByInvite(ctx, "guest", room.InviteCode)
	require.NoError(t, err)
	assert.Equal(t, room.ID, joined.ID)

	_, err = svc.JoinByInvite(ctx, "guest", room.InviteCode)
	require.NoError(t, err)

	_, roster, err := svc.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, domain.UserID("guest"), roster[0].UserID)

	_, err = svc.JoinByInvite(ctx, "guest", "ZZZZZZ")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestRoomService_GetRoomShowsLiveState(t *testing.T) {
	svc, playback, _ := newRoomFixture(t)
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, "host", "movie-1", "")
	require.NoError(t, err)
	require.NoError(t, playback.Play(ctx, room.ID, "host", 64))

	got, _, err := svc.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, 64.0, got.Playback.CurrentTime)
	assert.True(t, got.Playback.IsPlaying)

	_, _, err = svc.GetRoom(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestRoomService_ReapIdle(t *testing.T) {
	svc, playback, store := newRoomFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })
	svc.now = func() time.Time { return now }

	idle, err := svc.CreateRoom(ctx, "host", "movie-1", "")
	require.NoError(t, err)
	occupied, err := svc.CreateRoom(ctx, "host", "movie-2", "")
	require.NoError(t, err)
	_, err = svc.JoinByInvite(ctx, "guest", occupied.InviteCode)
	require.NoError(t, err)
	_, err = playback.Snapshot(ctx, idle.ID)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	reaped, err := svc.ReapIdle(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	_, _, err = svc.GetRoom(ctx, idle.ID)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	_, ok := playback.Current(idle.ID)
	assert.False(t, ok)

	_, _, err = svc.GetRoom(ctx, occupied.ID)
	assert.NoError(t, err)
}
