package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"cinewave/internal/core/domain"
	"cinewave/internal/core/ports"
	"cinewave/internal/core/services"
	"cinewave/internal/infrastructure/middleware"
	"cinewave/pkg/tracing"
	"cinewave/pkg/utils"
	"cinewave/pkg/validation"
)

type Config struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	SendBuffer        int
	MaxMessageSize    int64
	MessagesPerSecond float64
	Burst             int
	ChatMaxLength     int
	AllowedOrigins    []string
}

// Playback is the state machine as the gateway needs it.
type Playback interface {
	ports.PlaybackService
	View(ctx context.Context, roomID domain.RoomID, fn func(domain.StatePayload)) error
}

// MemberResolver builds the roster entry for an authenticated user.
type MemberResolver interface {
	Member(ctx context.Context, claims *services.Claims) domain.Member
}

// Gateway authenticates realtime connections and dispatches their intents.
type Gateway struct {
	auth        services.AuthService
	members     MemberResolver
	playback    Playback
	presence    ports.PresenceService
	hub         *Hub
	broadcaster ports.RoomBroadcaster
	metrics     ports.Metrics
	config      Config
	upgrader    websocket.Upgrader
	logger      *zap.SugaredLogger
	now         func() time.Time
}

// NewGateway wires the gateway. broadcaster reaches every instance; hub is
// this instance's share of it.
func NewGateway(
	auth services.AuthService,
	members MemberResolver,
	playback Playback,
	presence ports.PresenceService,
	hub *Hub,
	broadcaster ports.RoomBroadcaster,
	metrics ports.Metrics,
	config Config,
	logger *zap.SugaredLogger,
) *Gateway {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	g := &Gateway{
		auth:        auth,
		members:     members,
		playback:    playback,
		presence:    presence,
		hub:         hub,
		broadcaster: broadcaster,
		metrics:     metrics,
		config:      config,
		logger:      logger,
		now:         time.Now,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range g.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// ServeHTTP rejects unauthenticated requests with 401 before upgrading.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := g.auth.ValidateToken(middleware.TokenFromRequest(r))
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"UNAUTHORIZED","message":"invalid or missing token"}`))
		return
	}

	ctx := context.WithoutCancel(r.Context())
	member := g.members.Member(ctx, claims)

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warnw("WebSocket upgrade failed", "user_id", claims.UserID, "error", err)
		return
	}

	limiter := rate.NewLimiter(rate.Limit(g.config.MessagesPerSecond), g.config.Burst)
	if g.config.MessagesPerSecond <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	client := newClient(utils.NewConnectionID(), member, conn, g.config.SendBuffer, limiter)
	g.hub.Register(client)
	g.logger.Infow("Client connected", "conn_id", client.id, "user_id", member.UserID)

	go client.writePump(g.config.PingInterval, g.config.WriteTimeout)
	g.readPump(ctx, client)
	g.disconnect(ctx, client)
}

func (g *Gateway) readPump(ctx context.Context, c *Client) {
	if g.config.MaxMessageSize > 0 {
		c.conn.SetReadLimit(g.config.MaxMessageSize)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(g.config.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(g.config.PongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				g.logger.Debugw("Read failed", "conn_id", c.id, "error", err)
			}
			if errors.Is(err, websocket.ErrReadLimit) {
				g.metrics.RecordDroppedConnection("message_too_large")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(g.config.PongTimeout))

		if !c.limiter.Allow() {
			g.metrics.RecordIntent("unparsed", "rate_limited")
			g.sendError(c, "", "rate limit exceeded")
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			g.sendError(c, "", "invalid message")
			continue
		}
		g.dispatch(ctx, c, msg)
	}
}

func (g *Gateway) dispatch(ctx context.Context, c *Client, msg Message) {
	ctx, span := tracing.TraceRoomIntent(ctx, string(msg.Type), c.id, string(c.UserID()))
	defer span.End()

	switch msg.Type {
	case domain.IntentJoin:
		roomID, err := parseRoomRef(msg.Payload)
		if err != nil {
			g.sendError(c, "", "invalid room:join payload")
			return
		}
		g.join(ctx, c, roomID)

	case domain.IntentLeave:
		roomID, err := parseRoomRef(msg.Payload)
		if err != nil {
			g.sendError(c, "", "invalid room:leave payload")
			return
		}
		g.leave(ctx, c, roomID)

	case domain.IntentPlay, domain.IntentPause, domain.IntentSeek:
		var p TransportPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.RoomID == "" || p.CurrentTime == nil {
			g.sendError(c, p.RoomID, "invalid "+string(msg.Type)+" payload")
			return
		}
		g.transport(ctx, c, msg.Type, p)

	case domain.IntentEpisode:
		var p EpisodePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.RoomID == "" || p.EpisodeID == "" {
			g.sendError(c, p.RoomID, "invalid room:episode payload")
			return
		}
		err := g.playback.ChangeEpisode(ctx, p.RoomID, c.UserID(), p.EpisodeID)
		g.handleIntentError(ctx, c, msg.Type, p.RoomID, err)

	case domain.IntentChat:
		var p ChatPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.RoomID == "" {
			g.sendError(c, p.RoomID, "invalid chat:send payload")
			return
		}
		g.chat(ctx, c, p)

	default:
		g.sendError(c, msg.RoomID, "unknown event type: "+string(msg.Type))
	}
}

// join replies with the room state directly, then rebroadcasts the roster.
func (g *Gateway) join(ctx context.Context, c *Client, roomID domain.RoomID) {
	if _, err := g.playback.Snapshot(ctx, roomID); err != nil {
		g.handleIntentError(ctx, c, domain.IntentJoin, roomID, err)
		return
	}

	roster, err := g.presence.Join(ctx, c.id, roomID, c.member)
	if err != nil {
		g.handleIntentError(ctx, c, domain.IntentJoin, roomID, err)
		return
	}
	g.hub.Subscribe(c, roomID)

	err = g.playback.View(ctx, roomID, func(state domain.StatePayload) {
		event, err := domain.NewRoomEvent(domain.EventState, roomID, state)
		if err != nil {
			return
		}
		data, _ := json.Marshal(event)
		if !c.enqueue(data) {
			c.close()
		}
	})
	if err != nil {
		g.handleIntentError(ctx, c, domain.IntentJoin, roomID, err)
		return
	}

	g.metrics.RecordIntent(domain.IntentJoin, "applied")
	g.logger.Infow("Client joined room", "conn_id", c.id, "room_id", roomID, "user_id", c.UserID())
	g.broadcastRoster(ctx, roomID, roster)
}

func (g *Gateway) leave(ctx context.Context, c *Client, roomID domain.RoomID) {
	roster, left, err := g.presence.Leave(ctx, c.id, roomID)
	g.hub.Unsubscribe(c, roomID)
	if err != nil {
		g.handleIntentError(ctx, c, domain.IntentLeave, roomID, err)
		return
	}
	if !left {
		return
	}
	g.metrics.RecordIntent(domain.IntentLeave, "applied")
	g.logger.Infow("Client left room", "conn_id", c.id, "room_id", roomID, "user_id", c.UserID())
	g.broadcastRoster(ctx, roomID, roster)
}

func (g *Gateway) transport(ctx context.Context, c *Client, intent domain.EventType, p TransportPayload) {
	var err error
	switch intent {
	case domain.IntentPlay:
		err = g.playback.Play(ctx, p.RoomID, c.UserID(), *p.CurrentTime)
	case domain.IntentPause:
		err = g.playback.Pause(ctx, p.RoomID, c.UserID(), *p.CurrentTime)
	case domain.IntentSeek:
		err = g.playback.Seek(ctx, p.RoomID, c.UserID(), *p.CurrentTime)
	}
	g.handleIntentError(ctx, c, intent, p.RoomID, err)
}

func (g *Gateway) chat(ctx context.Context, c *Client, p ChatPayload) {
	if !g.presence.IsJoined(c.id, p.RoomID) {
		g.sendError(c, p.RoomID, domain.ErrNotRoomMember.Error())
		return
	}
	text := utils.SanitizeString(p.Text)
	if err := validation.ValidateChatText(text, g.config.ChatMaxLength); err != nil {
		g.sendError(c, p.RoomID, err.Error())
		return
	}

	event, err := domain.NewRoomEvent(domain.EventChat, p.RoomID, domain.ChatMessage{
		ID:              utils.NewMessageID(),
		UserID:          c.UserID(),
		DisplayName:     c.member.DisplayName,
		Text:            text,
		ServerTimestamp: g.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		g.logger.Errorw("Failed to encode chat message", "error", err)
		return
	}
	g.broadcaster.Broadcast(ctx, event)
	g.metrics.RecordIntent(domain.IntentChat, "applied")
}

// handleIntentError drops non-host transport intents silently and turns
// everything else into an error frame.
func (g *Gateway) handleIntentError(ctx context.Context, c *Client, intent domain.EventType, roomID domain.RoomID, err error) {
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotHost):
		g.logger.Debugw("Ignoring intent from non-host",
			"conn_id", c.id, "room_id", roomID, "user_id", c.UserID(), "intent", intent)
	case errors.Is(err, domain.ErrRoomNotFound):
		g.sendError(c, roomID, "room not found")
	case errors.Is(err, domain.ErrInvalidPlaybackTime):
		g.sendError(c, roomID, err.Error())
	default:
		tracing.RecordError(ctx, err)
		g.logger.Errorw("Intent failed", "conn_id", c.id, "room_id", roomID, "intent", intent, "error", err)
		g.sendError(c, roomID, "internal error")
	}
}

func (g *Gateway) broadcastRoster(ctx context.Context, roomID domain.RoomID, roster domain.Roster) {
	if roster == nil {
		roster = domain.Roster{}
	}
	event, err := domain.NewRoomEvent(domain.EventMembers, roomID, roster)
	if err != nil {
		g.logger.Errorw("Failed to encode roster", "room_id", roomID, "error", err)
		return
	}
	g.broadcaster.Broadcast(ctx, event)
}

func (g *Gateway) disconnect(ctx context.Context, c *Client) {
	g.hub.Unregister(c)
	c.close()

	for _, roomID := range g.presence.OnDisconnect(ctx, c.id) {
		roster, err := g.presence.Roster(ctx, roomID)
		if err != nil {
			g.logger.Warnw("Failed to load roster after disconnect", "room_id", roomID, "error", err)
			continue
		}
		g.broadcastRoster(ctx, roomID, roster)
	}
	g.logger.Infow("Client disconnected", "conn_id", c.id, "user_id", c.UserID())
}

func (g *Gateway) sendError(c *Client, roomID domain.RoomID, message string) {
	if !c.enqueue(errorFrame(roomID, message)) {
		c.close()
	}
}

// Shutdown closes every connection; their handlers then run the usual
// disconnect path.
func (g *Gateway) Shutdown() {
	g.hub.CloseAll()
}
