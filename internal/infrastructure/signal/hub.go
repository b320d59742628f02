package signal

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"cinewave/internal/core/domain"
	"cinewave/internal/core/ports"
)

// Hub tracks local connections per room and delivers room events to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[domain.RoomID]map[*Client]struct{}

	metrics ports.Metrics
	logger  *zap.SugaredLogger
}

var _ ports.RoomBroadcaster = (*Hub)(nil)

func NewHub(metrics ports.Metrics, logger *zap.SugaredLogger) *Hub {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[domain.RoomID]map[*Client]struct{}),
		metrics: metrics,
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetConnections(n)
}

// Unregister removes the client from every room.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	for roomID, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetConnections(n)
}

func (h *Hub) Subscribe(c *Client, roomID domain.RoomID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[roomID]
	if members == nil {
		members = make(map[*Client]struct{})
		h.rooms[roomID] = members
	}
	members[c] = struct{}{}
}

func (h *Hub) Unsubscribe(c *Client, roomID domain.RoomID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[roomID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// Broadcast encodes the event once and queues it on every connection in the
// room. Connections that cannot keep up are closed.
func (h *Hub) Broadcast(ctx context.Context, event *domain.RoomEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Errorw("Failed to encode room event", "type", event.Type, "error", err)
		return
	}

	h.mu.RLock()
	recipients := make([]*Client, 0, len(h.rooms[event.RoomID]))
	for c := range h.rooms[event.RoomID] {
		recipients = append(recipients, c)
	}
	h.mu.RUnlock()

	for _, c := range recipients {
		if !c.enqueue(data) {
			h.logger.Warnw("Dropping slow connection", "conn_id", c.id, "room_id", event.RoomID)
			h.metrics.RecordDroppedConnection("slow_consumer")
			c.close()
		}
	}
	h.metrics.RecordBroadcast(event.Type, len(recipients))
}

func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) RoomSize(roomID domain.RoomID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// CloseAll disconnects every client, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.closeWithMessage(websocket.CloseGoingAway, "server shutting down")
	}
}
