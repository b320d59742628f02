package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cinewave/internal/core/domain"
	"cinewave/internal/core/ports"
)

const (
	RoomEventsChannel = "cinewave:rooms:events"
	outboxSize        = 1024
)

// Event is a room event as it travels between instances.
type Event struct {
	Type       domain.EventType      `json:"type"`
	RoomID     domain.RoomID         `json:"room_id"`
	Payload    json.RawMessage       `json:"payload,omitempty"`
	Sync       *domain.PlaybackState `json:"sync,omitempty"`
	UpdatedBy  domain.UserID         `json:"updated_by,omitempty"`
	InstanceID string                `json:"instance_id"`
	Timestamp  time.Time             `json:"timestamp"`
}

func (e *Event) roomEvent() *domain.RoomEvent {
	return &domain.RoomEvent{
		Type:      e.Type,
		RoomID:    e.RoomID,
		Payload:   e.Payload,
		Sync:      e.Sync,
		UpdatedBy: e.UpdatedBy,
	}
}

// EventBus fans room events out to connections on every instance. Local
// delivery happens synchronously; publishing goes through an ordered outbox
// so a slow Redis never holds up the caller.
type EventBus struct {
	client     *redis.Client
	local      ports.RoomBroadcaster
	instanceID string
	logger     *zap.SugaredLogger

	outbox   chan *Event
	onRemote func(*domain.RoomEvent)
}

var _ ports.RoomBroadcaster = (*EventBus)(nil)

func NewEventBus(
	client *redis.Client,
	local ports.RoomBroadcaster,
	instanceID string,
	logger *zap.SugaredLogger,
) *EventBus {
	return &EventBus{
		client:     client,
		local:      local,
		instanceID: instanceID,
		logger:     logger,
		outbox:     make(chan *Event, outboxSize),
	}
}

// OnRemote registers fn to see every event received from other instances
// after it has been delivered locally. Must be called before Run.
func (eb *EventBus) OnRemote(fn func(*domain.RoomEvent)) {
	eb.onRemote = fn
}

func (eb *EventBus) Broadcast(ctx context.Context, event *domain.RoomEvent) {
	eb.local.Broadcast(ctx, event)

	select {
	case eb.outbox <- &Event{
		Type:       event.Type,
		RoomID:     event.RoomID,
		Payload:    event.Payload,
		Sync:       event.Sync,
		UpdatedBy:  event.UpdatedBy,
		InstanceID: eb.instanceID,
		Timestamp:  time.Now().UTC(),
	}:
	default:
		eb.logger.Warnw("Event bus outbox full, dropping event", "type", event.Type, "room_id", event.RoomID)
	}
}

// Publish publishes an event to the event bus
func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := eb.client.Publish(ctx, RoomEventsChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Run publishes queued events and delivers remote ones until ctx is done.
func (eb *EventBus) Run(ctx context.Context) error {
	pubsub := eb.client.Subscribe(ctx, RoomEventsChannel)
	defer pubsub.Close()

	// wait for the subscription so nothing published after Run starts is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", RoomEventsChannel, err)
	}
	eb.logger.Infow("Event bus subscribed", "channel", RoomEventsChannel, "instance_id", eb.instanceID)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eb.publishLoop(ctx) })
	g.Go(func() error { return eb.receiveLoop(ctx, pubsub.Channel()) })
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (eb *EventBus) publishLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-eb.outbox:
			if err := eb.Publish(ctx, event); err != nil {
				eb.logger.Warnw("Failed to publish room event",
					"type", event.Type,
					"room_id", event.RoomID,
					"error", err,
				)
			}
		}
	}
}

func (eb *EventBus) receiveLoop(ctx context.Context, ch <-chan *redis.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("event bus subscription closed")
			}
			eb.handle(ctx, msg.Payload)
		}
	}
}

func (eb *EventBus) handle(ctx context.Context, payload string) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		eb.logger.Warnw("Failed to unmarshal event", "error", err)
		return
	}
	if event.InstanceID == eb.instanceID {
		return
	}

	re := event.roomEvent()
	eb.local.Broadcast(ctx, re)
	if eb.onRemote != nil {
		eb.onRemote(re)
	}
}
