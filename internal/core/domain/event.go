package domain

import "encoding/json"

type EventType string

// Client intents.
const (
	IntentJoin    EventType = "room:join"
	IntentLeave   EventType = "room:leave"
	IntentPlay    EventType = "room:play"
	IntentPause   EventType = "room:pause"
	IntentSeek    EventType = "room:seek"
	IntentEpisode EventType = "room:episode"
	IntentChat    EventType = "chat:send"
)

// Server events.
const (
	EventState   EventType = "room:state"
	EventMembers EventType = "room:members"
	EventChat    EventType = "chat:message"
	EventEpisode EventType = "room:episode"
	EventError   EventType = "error"
)

// StatePayload is the body of a room:state event.
type StatePayload struct {
	CurrentTime float64 `json:"currentTime"`
	IsPlaying   bool    `json:"isPlaying"`
	UpdatedBy   UserID  `json:"updatedBy"`
}

// ChatMessage is fanned out to the room and never stored.
type ChatMessage struct {
	ID              string `json:"id"`
	UserID          UserID `json:"userId"`
	DisplayName     string `json:"displayName"`
	Text            string `json:"text"`
	ServerTimestamp string `json:"serverTimestamp"`
}

// RoomEvent is a server frame addressed to every connection in a room.
// Sync carries the stored playback state after the change, which can differ
// from the payload (seek always announces isPlaying=true); it is used by other
// instances to refresh their live copy and never goes to clients.
type RoomEvent struct {
	Type    EventType       `json:"type"`
	RoomID  RoomID          `json:"roomId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	Sync      *PlaybackState `json:"-"`
	UpdatedBy UserID         `json:"-"`
}

// NewRoomEvent encodes payload once so fan-out can reuse the bytes.
func NewRoomEvent(t EventType, roomID RoomID, payload any) (*RoomEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &RoomEvent{Type: t, RoomID: roomID, Payload: data}, nil
}
