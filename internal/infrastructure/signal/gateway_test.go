package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cinewave/internal/core/domain"
	"cinewave/internal/core/services"
	"cinewave/internal/infrastructure/repositories/memory"
)

type discardSink struct{}

func (discardSink) Enqueue(domain.RoomID, domain.PlaybackState) {}

type gatewayFixture struct {
	server   *httptest.Server
	auth     services.AuthService
	playback *services.PlaybackService
	hub      *Hub
	store    *memory.Store
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	logger := zap.NewNop().Sugar()

	store := memory.NewStore()
	require.NoError(t, store.Create(context.Background(), &domain.Room{
		ID:         "room-1",
		InviteCode: "ABC123",
		HostUserID: "host",
		MovieID:    "movie-1",
	}))

	hub := NewHub(nil, logger)
	auth := services.NewAuthService("test-secret", time.Hour)
	playback := services.NewPlaybackService(store, discardSink{}, hub, nil, logger)
	presence := services.NewPresenceService(store, memory.NewPresenceCounter(), logger)
	profiles := services.NewProfileService(store, logger)

	gw := NewGateway(auth, profiles, playback, presence, hub, hub, nil, Config{
		PingInterval:      time.Minute,
		PongTimeout:       2 * time.Minute,
		WriteTimeout:      time.Second,
		SendBuffer:        32,
		MaxMessageSize:    4096,
		MessagesPerSecond: 1000,
		Burst:             1000,
		ChatMaxLength:     100,
		AllowedOrigins:    []string{"*"},
	}, logger)

	server := httptest.NewServer(gw)
	t.Cleanup(func() {
		gw.Shutdown()
		server.Close()
	})
	return &gatewayFixture{server: server, auth: auth, playback: playback, hub: hub, store: store}
}

func (f *gatewayFixture) dial(t *testing.T, userID domain.UserID, name string) *websocket.Conn {
	t.Helper()
	token, err := f.auth.GenerateToken(domain.UserProfile{ID: userID, DisplayName: name})
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ domain.EventType, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Message{Type: typ, Payload: data}))
}

// readUntil skips frames until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(Message) bool) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func ofType(typ domain.EventType) func(Message) bool {
	return func(m Message) bool { return m.Type == typ }
}

func rosterOf(t *testing.T, msg Message) domain.Roster {
	t.Helper()
	var roster domain.Roster
	require.NoError(t, json.Unmarshal(msg.Payload, &roster))
	return roster
}

func rosterSize(n int) func(Message) bool {
	return func(m Message) bool {
		if m.Type != domain.EventMembers {
			return false
		}
		var roster domain.Roster
		return json.Unmarshal(m.Payload, &roster) == nil && len(roster) == n
	}
}

func joinRoom(t *testing.T, conn *websocket.Conn, roomID string) domain.StatePayload {
	t.Helper()
	send(t, conn, domain.IntentJoin, roomID)
	msg := readUntil(t, conn, ofType(domain.EventState))
	var state domain.StatePayload
	require.NoError(t, json.Unmarshal(msg.Payload, &state))
	return state
}

func TestGateway_RejectsUnauthenticated(t *testing.T) {
	f := newGatewayFixture(t)

	resp, err := http.Get(f.server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/?token=garbage"
	_, resp, err = websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGateway_JoinSendsStateThenRoster(t *testing.T) {
	f := newGatewayFixture(t)
	host := f.dial(t, "host", "Hana")

	state := joinRoom(t, host, "room-1")
	assert.Equal(t, 0.0, state.CurrentTime)
	assert.False(t, state.IsPlaying)

	members := readUntil(t, host, ofType(domain.EventMembers))
	assert.Equal(t, domain.RoomID("room-1"), members.RoomID)
	roster := rosterOf(t, members)
	require.Len(t, roster, 1)
	assert.Equal(t, "Hana", roster[0].DisplayName)
}

func TestGateway_JoinAcceptsObjectPayload(t *testing.T) {
	f := newGatewayFixture(t)
	host := f.dial(t, "host", "Hana")

	send(t, host, domain.IntentJoin, map[string]string{"roomId": "room-1"})
	readUntil(t, host, ofType(domain.EventState))
}

func TestGateway_JoinUnknownRoom(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t, "guest", "Gil")

	send(t, conn, domain.IntentJoin, "room-missing")
	msg := readUntil(t, conn, ofType(domain.EventError))
	assert.Contains(t, string(msg.Payload), "room not found")
}

func TestGateway_HostPlayReachesGuests(t *testing.T) {
	f := newGatewayFixture(t)
	host := f.dial(t, "host", "Hana")
	guest := f.dial(t, "guest", "Gil")

	joinRoom(t, host, "room-1")
	joinRoom(t, guest, "room-1")
	readUntil(t, host, rosterSize(2))

	send(t, host, domain.IntentPlay, map[string]any{"roomId": "room-1", "currentTime": 12.5})

	msg := readUntil(t, guest, ofType(domain.EventState))
	var state domain.StatePayload
	require.NoError(t, json.Unmarshal(msg.Payload, &state))
	assert.Equal(t, 12.5, state.CurrentTime)
	assert.True(t, state.IsPlaying)
	assert.Equal(t, domain.UserID("host"), state.UpdatedBy)
}

func TestGateway_NonHostIntentIsDropped(t *testing.T) {
	f := newGatewayFixture(t)
	host := f.dial(t, "host", "Hana")
	guest := f.dial(t, "guest", "Gil")

	joinRoom(t, host, "room-1")
	joinRoom(t, guest, "room-1")

	send(t, guest, domain.IntentPlay, map[string]any{"roomId": "room-1", "currentTime": 99})
	send(t, host, domain.IntentPause, map[string]any{"roomId": "room-1", "currentTime": 3})

	// The next state anyone sees is the host's pause, and the guest gets no error.
	msg := readUntil(t, guest, func(m Message) bool {
		return m.Type == domain.EventState || m.Type == domain.EventError
	})
	require.Equal(t, domain.EventState, msg.Type)
	var state domain.StatePayload
	require.NoError(t, json.Unmarshal(msg.Payload, &state))
	assert.Equal(t, 3.0, state.CurrentTime)
	assert.False(t, state.IsPlaying)

	current, ok := f.playback.Current("room-1")
	require.True(t, ok)
	assert.Equal(t, 3.0, current.CurrentTime)
}

func TestGateway_EpisodeChange(t *testing.T) {
	f := newGatewayFixture(t)
	host := f.dial(t, "host", "Hana")
	joinRoom(t, host, "room-1")

	send(t, host, domain.IntentEpisode, map[string]string{"roomId": "room-1", "episodeId": "ep-2"})

	msg := readUntil(t, host, ofType(domain.EventEpisode))
	var episode domain.EpisodeID
	require.NoError(t, json.Unmarshal(msg.Payload, &episode))
	assert.Equal(t, domain.EpisodeID("ep-2"), episode)
}

func TestGateway_InvalidTransportPayload(t *testing.T) {
	f := newGatewayFixture(t)
	host := f.dial(t, "host", "Hana")

	send(t, host, domain.IntentSeek, map[string]any{"roomId": "room-1"})
	msg := readUntil(t, host, ofType(domain.EventError))
	assert.Contains(t, string(msg.Payload), "invalid room:seek payload")

	send(t, host, domain.IntentSeek, map[string]any{"roomId": "room-1", "currentTime": -4})
	msg = readUntil(t, host, ofType(domain.EventError))
	assert.Contains(t, string(msg.Payload), domain.ErrInvalidPlaybackTime.Error())
}

func TestGateway_ChatRequiresJoin(t *testing.T) {
	f := newGatewayFixture(t)
	guest := f.dial(t, "guest", "Gil")

	send(t, guest, domain.IntentChat, map[string]string{"roomId": "room-1", "text": "hi"})
	msg := readUntil(t, guest, ofType(domain.EventError))
	assert.Contains(t, string(msg.Payload), domain.ErrNotRoomMember.Error())
}

func TestGateway_ChatFansOutToRoom(t *testing.T) {
	f := newGatewayFixture(t)
	host := f.dial(t, "host", "Hana")
	guest := f.dial(t, "guest", "Gil")
	joinRoom(t, host, "room-1")
	joinRoom(t, guest, "room-1")

	send(t, guest, domain.IntentChat, map[string]string{"roomId": "room-1", "text": "  popcorn?\x00 "})

	msg := readUntil(t, host, ofType(domain.EventChat))
	var chat domain.ChatMessage
	require.NoError(t, json.Unmarshal(msg.Payload, &chat))
	assert.Equal(t, domain.UserID("guest"), chat.UserID)
	assert.Equal(t, "Gil", chat.DisplayName)
	assert.Equal(t, "popcorn?", chat.Text)
	assert.NotEmpty(t, chat.ID)
	_, err := time.Parse(time.RFC3339, chat.ServerTimestamp)
	assert.NoError(t, err)
}

func TestGateway_DisconnectUpdatesRoster(t *testing.T) {
	f := newGatewayFixture(t)
	host := f.dial(t, "host", "Hana")
	guest := f.dial(t, "guest", "Gil")
	joinRoom(t, host, "room-1")
	joinRoom(t, guest, "room-1")
	readUntil(t, host, rosterSize(2))

	require.NoError(t, guest.Close())

	msg := readUntil(t, host, rosterSize(1))
	roster := rosterOf(t, msg)
	assert.Equal(t, domain.UserID("host"), roster[0].UserID)

	assert.Eventually(t, func() bool { return f.hub.Connections() == 1 }, time.Second, 10*time.Millisecond)
}

func TestGateway_LeaveUpdatesRoster(t *testing.T) {
	f := newGatewayFixture(t)
	host := f.dial(t, "host", "Hana")
	guest := f.dial(t, "guest", "Gil")
	joinRoom(t, host, "room-1")
	joinRoom(t, guest, "room-1")
	readUntil(t, host, rosterSize(2))

	send(t, guest, domain.IntentLeave, "room-1")
	readUntil(t, host, rosterSize(1))
	assert.Eventually(t, func() bool { return f.hub.RoomSize("room-1") == 1 }, time.Second, 10*time.Millisecond)
}

func TestGateway_UnknownEvent(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t, "guest", "Gil")

	send(t, conn, "room:rewind", map[string]string{"roomId": "room-1"})
	msg := readUntil(t, conn, ofType(domain.EventError))
	assert.Contains(t, string(msg.Payload), "unknown event type")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg = readUntil(t, conn, ofType(domain.EventError))
	assert.Contains(t, string(msg.Payload), "invalid message")
}

func TestParseRoomRef(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    domain.RoomID
		wantErr bool
	}{
		{name: "string", raw: `"room-1"`, want: "room-1"},
		{name: "object", raw: `{"roomId":"room-2"}`, want: "room-2"},
		{name: "empty string", raw: `""`, wantErr: true},
		{name: "missing", raw: ``, wantErr: true},
		{name: "object without id", raw: `{}`, wantErr: true},
		{name: "number", raw: `42`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRoomRef(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
