package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventType identifies websocket payload variants.
type EventType string

const (
	TypeStateChanged  EventType = "state_changed"
	TypeSpeakingStart EventType = "speaking_start"
	TypeSpeakingEnd   EventType = "speaking_end"
	TypeIdleResumed   EventType = "idle_resumed"
	TypeTurnStarted   EventType = "turn_started"
	TypeTurnCompleted EventType = "turn_completed"
	TypeErrorEvent    EventType = "error_event"

	TypeClientControl EventType = "client_control"
)

// Control actions a client may send over the events socket.
const (
	ActionStop        = "stop"
	ActionAvatarEvent = "avatar_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

// Event is one outbound lifecycle notification.
type Event struct {
	Type   EventType `json:"type"`
	State  string    `json:"state,omitempty"`
	Source string    `json:"source,omitempty"`
	TaskID string    `json:"task_id,omitempty"`
	Detail string    `json:"detail,omitempty"`
	TSMs   int64     `json:"ts_ms,omitempty"`
}

// ClientControl is the single inbound variant: stop local playback, or relay
// a remote-avatar lifecycle signal by name.
type ClientControl struct {
	Type   EventType `json:"type"`
	Action string    `json:"action"`
	Name   string    `json:"name,omitempty"`
}

type envelope struct {
	Type EventType `json:"type"`
}

// ParseClientControl validates an inbound websocket frame.
func ParseClientControl(raw []byte) (ClientControl, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ClientControl{}, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.Type != TypeClientControl {
		return ClientControl{}, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}

	var msg ClientControl
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ClientControl{}, err
	}
	switch msg.Action {
	case ActionStop:
	case ActionAvatarEvent:
		if strings.TrimSpace(msg.Name) == "" {
			return ClientControl{}, errors.New("avatar_event requires a name")
		}
	default:
		return ClientControl{}, fmt.Errorf("unknown control action %q", msg.Action)
	}
	return msg, nil
}
