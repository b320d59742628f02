package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"cinewave/internal/core/domain"
	"cinewave/internal/core/ports"
	"cinewave/pkg/retry"
)

// StateWriter mirrors live playback state into the room repository off the
// broadcast path. Only the latest state per room is kept; older pending
// writes for the same room are overwritten.
type StateWriter struct {
	rooms   ports.RoomRepository
	retry   retry.Config
	metrics ports.Metrics
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	pending map[domain.RoomID]domain.PlaybackState
	wake    chan struct{}

	// serializes drains so a flush never races an in-flight write for the
	// same room with an older state
	writeMu sync.Mutex
}

func NewStateWriter(rooms ports.RoomRepository, retryCfg retry.Config, metrics ports.Metrics, logger *zap.SugaredLogger) *StateWriter {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	retryCfg.NonRetryableErrors = append(retryCfg.NonRetryableErrors, domain.ErrRoomNotFound, context.Canceled)
	return &StateWriter{
		rooms:   rooms,
		retry:   retryCfg,
		metrics: metrics,
		logger:  logger,
		pending: make(map[domain.RoomID]domain.PlaybackState),
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue never blocks.
func (w *StateWriter) Enqueue(roomID domain.RoomID, state domain.PlaybackState) {
	w.mu.Lock()
	w.pending[roomID] = state
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Pending reports how many rooms have an unwritten state.
func (w *StateWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Run writes queued states until ctx is done.
func (w *StateWriter) Run(ctx context.Context) error {
	w.logger.Info("State writer started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Infow("State writer stopped", "pending", w.Pending())
			return nil
		case <-w.wake:
			w.drain(ctx)
		}
	}
}

// Flush writes everything queued so far. Used on shutdown after Run returns.
func (w *StateWriter) Flush(ctx context.Context) {
	w.drain(ctx)
}

func (w *StateWriter) drain(ctx context.Context) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[domain.RoomID]domain.PlaybackState, len(batch))
	w.mu.Unlock()

	for roomID, state := range batch {
		w.write(ctx, roomID, state)
	}
}

func (w *StateWriter) write(ctx context.Context, roomID domain.RoomID, state domain.PlaybackState) {
	start := time.Now()
	err := retry.Retry(ctx, w.retry, func() error {
		return w.rooms.UpdatePlayback(ctx, roomID, state)
	})
	w.metrics.RecordPersist(err == nil, time.Since(start))

	switch {
	case err == nil:
	case ctx.Err() != nil:
		w.requeue(roomID, state)
	case errors.Is(err, domain.ErrRoomNotFound):
		w.logger.Debugw("Dropping state for deleted room", "room_id", roomID)
	default:
		w.logger.Errorw("Failed to persist playback state",
			"room_id", roomID,
			"current_time", state.CurrentTime,
			"is_playing", state.IsPlaying,
			"error", err,
		)
	}
}

// requeue puts back a write interrupted by shutdown unless a newer state
// arrived meanwhile.
func (w *StateWriter) requeue(roomID domain.RoomID, state domain.PlaybackState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, newer := w.pending[roomID]; !newer {
		w.pending[roomID] = state
	}
}
