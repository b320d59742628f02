package signal

import (
	"bytes"
	"encoding/json"
	"errors"

	"cinewave/internal/core/domain"
)

var errMissingRoomID = errors.New("roomId is required")

// Message is the envelope in both directions.
type Message struct {
	Type    domain.EventType `json:"type"`
	RoomID  domain.RoomID    `json:"roomId,omitempty"`
	Payload json.RawMessage  `json:"payload,omitempty"`
}

type TransportPayload struct {
	RoomID      domain.RoomID `json:"roomId"`
	CurrentTime *float64      `json:"currentTime"`
}

type EpisodePayload struct {
	RoomID    domain.RoomID    `json:"roomId"`
	EpisodeID domain.EpisodeID `json:"episodeId"`
}

type ChatPayload struct {
	RoomID domain.RoomID `json:"roomId"`
	Text   string        `json:"text"`
}

// parseRoomRef accepts a bare "roomId" string or {"roomId": "..."}.
func parseRoomRef(raw json.RawMessage) (domain.RoomID, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", errMissingRoomID
	}

	var id string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &id); err != nil {
			return "", err
		}
	} else {
		var obj struct {
			RoomID string `json:"roomId"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", err
		}
		id = obj.RoomID
	}
	if id == "" {
		return "", errMissingRoomID
	}
	return domain.RoomID(id), nil
}

func errorFrame(roomID domain.RoomID, message string) []byte {
	data, _ := json.Marshal(Message{
		Type:    domain.EventError,
		RoomID:  roomID,
		Payload: mustJSON(message),
	})
	return data
}

func mustJSON(v string) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
