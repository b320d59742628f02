package services

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"cinewave/internal/core/domain"
	"cinewave/internal/infrastructure/repositories/memory"
	"cinewave/pkg/retry"
)

func newPlaybackFixture(t *testing.T) (*PlaybackService, *recordingBroadcaster, *recordingSink, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	seedRoom(t, store, "room-a", "host")
	b := &recordingBroadcaster{}
	sink := &recordingSink{}
	return NewPlaybackService(store, sink, b, nil, testLogger()), b, sink, store
}

func decodeState(t *testing.T, e *domain.RoomEvent) domain.StatePayload {
	t.Helper()
	require.Equal(t, domain.EventState, e.Type)
	var p domain.StatePayload
	require.NoError(t, json.Unmarshal(e.Payload, &p))
	return p
}

func TestPlaybackService_HostOnlyMutation(t *testing.T) {
	svc, b, sink, _ := newPlaybackFixture(t)
	ctx := context.Background()

	before, err := svc.Snapshot(ctx, "room-a")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Play(ctx, "room-a", "guest", 10), domain.ErrNotHost)
	assert.ErrorIs(t, svc.Pause(ctx, "room-a", "guest", 10), domain.ErrNotHost)
	assert.ErrorIs(t, svc.Seek(ctx, "room-a", "guest", 10), domain.ErrNotHost)
	assert.ErrorIs(t, svc.ChangeEpisode(ctx, "room-a", "guest", "ep-2"), domain.ErrNotHost)

	after, err := svc.Snapshot(ctx, "room-a")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, b.Events())
	_, persisted := sink.Last("room-a")
	assert.False(t, persisted)
}

func TestPlaybackService_PlayPause(t *testing.T) {
	svc, b, sink, _ := newPlaybackFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.Play(ctx, "room-a", "host", 42.0))
	require.NoError(t, svc.Pause(ctx, "room-a", "host", 50.5))

	events := b.Events()
	require.Len(t, events, 2)
	assert.Equal(t, domain.StatePayload{CurrentTime: 42, IsPlaying: true, UpdatedBy: "host"}, decodeState(t, events[0]))
	assert.Equal(t, domain.StatePayload{CurrentTime: 50.5, IsPlaying: false, UpdatedBy: "host"}, decodeState(t, events[1]))
	assert.Equal(t, domain.RoomID("room-a"), events[1].RoomID)

	last, ok := sink.Last("room-a")
	require.True(t, ok)
	assert.Equal(t, domain.PlaybackState{CurrentTime: 50.5}, last)
}

func TestPlaybackService_SeekAnnouncesPlaying(t *testing.T) {
	svc, b, sink, _ := newPlaybackFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.Pause(ctx, "room-a", "host", 5))
	require.NoError(t, svc.Seek(ctx, "room-a", "host", 120))

	events := b.Events()
	require.Len(t, events, 2)
	seek := decodeState(t, events[1])
	assert.True(t, seek.IsPlaying)
	assert.Equal(t, 120.0, seek.CurrentTime)

	// stored flag stays paused
	snap, err := svc.Snapshot(ctx, "room-a")
	require.NoError(t, err)
	assert.False(t, snap.IsPlaying)
	assert.Equal(t, 120.0, snap.CurrentTime)

	last, _ := sink.Last("room-a")
	assert.False(t, last.IsPlaying)
	require.NotNil(t, events[1].Sync)
	assert.False(t, events[1].Sync.IsPlaying)
}

func TestPlaybackService_ChangeEpisode(t *testing.T) {
	svc, b, sink, _ := newPlaybackFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.Play(ctx, "room-a", "host", 300))
	require.NoError(t, svc.ChangeEpisode(ctx, "room-a", "host", "ep-2"))

	events := b.Events()
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventEpisode, events[1].Type)
	assert.JSONEq(t, `"ep-2"`, string(events[1].Payload))

	last, _ := sink.Last("room-a")
	assert.Equal(t, domain.PlaybackState{CurrentTime: 0, IsPlaying: false, EpisodeID: "ep-2"}, last)

	state, ok := svc.Current("room-a")
	require.True(t, ok)
	assert.Equal(t, domain.EpisodeID("ep-2"), state.EpisodeID)
}

func TestPlaybackService_RejectsInvalidTime(t *testing.T) {
	svc, b, _, _ := newPlaybackFixture(t)
	ctx := context.Background()

	for _, at := range []float64{-1, math.NaN(), math.Inf(1)} {
		assert.ErrorIs(t, svc.Play(ctx, "room-a", "host", at), domain.ErrInvalidPlaybackTime)
	}
	assert.Empty(t, b.Events())
}

func TestPlaybackService_UnknownRoom(t *testing.T) {
	svc, _, _, _ := newPlaybackFixture(t)
	_, err := svc.Snapshot(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	assert.ErrorIs(t, svc.Play(context.Background(), "missing", "host", 1), domain.ErrRoomNotFound)
}

func TestPlaybackService_LoadsStoredState(t *testing.T) {
	store := memory.NewStore()
	seedRoom(t, store, "room-a", "host")
	require.NoError(t, store.UpdatePlayback(context.Background(), "room-a",
		domain.PlaybackState{CurrentTime: 77, IsPlaying: true}))

	svc := NewPlaybackService(store, &recordingSink{}, &recordingBroadcaster{}, nil, testLogger())
	snap, err := svc.Snapshot(context.Background(), "room-a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatePayload{CurrentTime: 77, IsPlaying: true, UpdatedBy: "host"}, snap)
}

func TestPlaybackService_BroadcastNotBlockedByPersistence(t *testing.T) {
	room := &domain.Room{ID: "room-a", HostUserID: "host"}
	release := make(chan struct{})
	started := make(chan struct{}, 4)

	repo := &MockRoomRepository{}
	repo.On("GetByID", mock.Anything, domain.RoomID("room-a")).Return(room, nil)
	repo.On("UpdatePlayback", mock.Anything, domain.RoomID("room-a"), mock.Anything).
		Run(func(mock.Arguments) {
			started <- struct{}{}
			<-release
		}).
		Return(nil)

	cfg := retry.DefaultConfig()
	cfg.Enabled = false
	writer := NewStateWriter(repo, cfg, nil, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = writer.Run(ctx)
	}()

	b := &recordingBroadcaster{}
	svc := NewPlaybackService(repo, writer, b, nil, testLogger())

	// first write is picked up and blocks inside the repository
	require.NoError(t, svc.Play(context.Background(), "room-a", "host", 1))
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("state writer never reached the repository")
	}

	done := make(chan error, 1)
	go func() { done <- svc.Play(context.Background(), "room-a", "host", 42.0) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("play blocked on persistence")
	}

	events := b.Events()
	require.Len(t, events, 2)
	assert.Equal(t, domain.StatePayload{CurrentTime: 42, IsPlaying: true, UpdatedBy: "host"}, decodeState(t, events[1]))

	close(release)
	cancel()
	wg.Wait()
}

func TestPlaybackService_ObserveAndEvict(t *testing.T) {
	svc, _, _, _ := newPlaybackFixture(t)
	ctx := context.Background()

	_, err := svc.Snapshot(ctx, "room-a")
	require.NoError(t, err)
	assert.Equal(t, 1, svc.LiveRooms())

	svc.Observe(&domain.RoomEvent{
		Type:      domain.EventState,
		RoomID:    "room-a",
		Sync:      &domain.PlaybackState{CurrentTime: 9, IsPlaying: true},
		UpdatedBy: "host",
	})
	snap, err := svc.Snapshot(ctx, "room-a")
	require.NoError(t, err)
	assert.Equal(t, 9.0, snap.CurrentTime)
	assert.True(t, snap.IsPlaying)

	// unknown rooms are not materialized by remote events
	svc.Observe(&domain.RoomEvent{RoomID: "room-z", Sync: &domain.PlaybackState{}})
	assert.Equal(t, 1, svc.LiveRooms())

	svc.Evict("room-a")
	assert.Equal(t, 0, svc.LiveRooms())
	_, ok := svc.Current("room-a")
	assert.False(t, ok)
}

func TestPlaybackService_RoomsAreIndependent(t *testing.T) {
	store := memory.NewStore()
	seedRoom(t, store, "room-a", "host-a")
	seedRoom(t, store, "room-b", "host-b")
	b := &recordingBroadcaster{}
	svc := NewPlaybackService(store, &recordingSink{}, b, nil, testLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		at := float64(i)
		go func() { defer wg.Done(); _ = svc.Play(ctx, "room-a", "host-a", at) }()
		go func() { defer wg.Done(); _ = svc.Seek(ctx, "room-b", "host-b", at) }()
	}
	wg.Wait()

	assert.Len(t, b.Events(), 100)
	a, _ := svc.Current("room-a")
	bState, _ := svc.Current("room-b")
	assert.True(t, a.IsPlaying)
	assert.False(t, bState.IsPlaying)
}
