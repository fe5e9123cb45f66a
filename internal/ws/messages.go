package ws

import (
	"encoding/json"

	"whiteboardgo/internal/services/chat"
)

// Every WS frame is a single flat JSON object with a required "type"
// discriminator. The envelope is decoded once at the router boundary; the
// matching request struct below re-reads the same raw bytes.

// ──────────────────────────── Inbound ────────────────────────────

type registerRequest struct {
	RoomID string `json:"roomId"`
	UserID int64  `json:"userId"`
}

// The chat protocol predates the rest and uses snake_case for the user field.
type chatRequest struct {
	RoomID string `json:"roomId"`
	UserID int64  `json:"user_id"`
	Text   string `json:"text"`
}

// Pointer fields use pointers so that a missing coordinate is distinguishable
// from a legitimate zero.
type pointerRequest struct {
	X     *float64 `json:"x"`
	Y     *float64 `json:"y"`
	Color string   `json:"color,omitempty"`
}

type colorRequest struct {
	Color string `json:"color"`
}

type drawRequest struct {
	Element json.RawMessage `json:"element"`
}

type streamRequest struct {
	Index   *int            `json:"index"`
	Element json.RawMessage `json:"element"`
	Color   string          `json:"color,omitempty"`
}

type moveRequest struct {
	Index   *int            `json:"index"`
	Element json.RawMessage `json:"element"`
}

type deleteRequest struct {
	Index *int `json:"index"`
}

type signalRequest struct {
	TargetUserID *int64          `json:"targetUserId"`
	Data         json.RawMessage `json:"data"`
}

type emptyRequest struct{}

// ──────────────────────────── Outbound ────────────────────────────

type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type registerSuccessEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	UserID int64  `json:"userId"`
}

type userListEvent struct {
	Type  string  `json:"type"`
	Users []int64 `json:"users"`
}

// syncEvent carries the full element sequence; Type is "init" for the
// requester-only snapshot and "sync" for room-wide resyncs.
type syncEvent struct {
	Type     string            `json:"type"`
	Elements []json.RawMessage `json:"elements"`
}

type streamEvent struct {
	Type    string          `json:"type"`
	Index   int             `json:"index"`
	Element json.RawMessage `json:"element"`
	UserID  int64           `json:"userId"`
	Color   string          `json:"color,omitempty"`
}

type pointerEvent struct {
	Type   string  `json:"type"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Color  string  `json:"color,omitempty"`
	UserID int64   `json:"userId"`
}

// relayEvent covers lock and unlock.
type relayEvent struct {
	Type   string `json:"type"`
	UserID int64  `json:"userId"`
}

type colorEvent struct {
	Type   string `json:"type"`
	Color  string `json:"color"`
	UserID int64  `json:"userId"`
}

// chatEvent is "message-sent" to the sender and "new-message" to the rest.
type chatEvent struct {
	Type    string        `json:"type"`
	Message *chat.Message `json:"message"`
}

type signalEvent struct {
	Type       string          `json:"type"`
	FromUserID int64           `json:"fromUserId"`
	Data       json.RawMessage `json:"data"`
}
