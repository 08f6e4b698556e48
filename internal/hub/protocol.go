package hub

import (
	"bytes"
	"encoding/json"
	"time"
)

// Message types of the hub websocket protocol.
const (
	msgAuthRequired = "auth_required"
	msgAuth         = "auth"
	msgAuthOK       = "auth_ok"
	msgAuthInvalid  = "auth_invalid"
	msgResult       = "result"
	msgEvent        = "event"
	msgPong         = "pong"

	MsgSubscribeEvents   = "subscribe_events"
	MsgUnsubscribeEvents = "unsubscribe_events"
	MsgCallService       = "call_service"
	MsgLongLivedToken    = "auth/long_lived_access_token"
)

// envelope is every server to client frame.
type envelope struct {
	ID      int64           `json:"id"`
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *ResultError    `json:"error"`
	Event   json.RawMessage `json:"event"`
	Message string          `json:"message"`
}

// Event is a pushed hub event such as state_changed.
type Event struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	Origin    string         `json:"origin"`
	TimeFired time.Time      `json:"time_fired"`
}

// decodeFrame splits a frame into envelopes. The hub may coalesce several
// messages into one JSON array.
func decodeFrame(data []byte) ([]envelope, error) {
	if trimmed := bytes.TrimLeft(data, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == '[' {
		var many []envelope
		if err := json.Unmarshal(trimmed, &many); err != nil {
			return nil, err
		}
		return many, nil
	}

	var one envelope
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, err
	}
	return []envelope{one}, nil
}
