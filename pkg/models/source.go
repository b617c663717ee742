package models

import (
	"encoding/json"
	"time"
)

// HistoryRow is one row of the backend fetch-messages response. Body may be
// a plain string, a JSON-encoded string, or a structured object; CreatedAt
// may be an RFC3339 string or an epoch number, so both are kept raw and
// resolved during normalization.
type HistoryRow struct {
	MessageID      string          `json:"message_id,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	FromUser       string          `json:"from_user,omitempty"`
	ToUser         string          `json:"to_user,omitempty"`
	SenderName     string          `json:"sender_name,omitempty"`
	SenderPhoto    string          `json:"sender_photo,omitempty"`
	MessageType    string          `json:"message_type,omitempty"`
	Body           json.RawMessage `json:"body,omitempty"`
	CreatedAt      json.RawMessage `json:"created_at,omitempty"`
	CreatedAtMs    int64           `json:"created_at_ms,omitempty"`
	ChatType       string          `json:"chat_type,omitempty"`
}

// HistoryPage is the backend fetch-messages response envelope.
type HistoryPage struct {
	Messages   []HistoryRow `json:"messages"`
	NextCursor string       `json:"nextCursor,omitempty"`
}

// LiveEvent is a push event from the messaging SDK. Structured payloads
// arrive in one of several custom-extension bags; plain text arrives in Msg.
type LiveEvent struct {
	ID           string                 `json:"id,omitempty"`
	From         string                 `json:"from,omitempty"`
	To           string                 `json:"to,omitempty"`
	TimeMs       int64                  `json:"time,omitempty"`
	Type         string                 `json:"type,omitempty"` // "txt" or "custom"
	Msg          string                 `json:"msg,omitempty"`
	CustomExts   map[string]interface{} `json:"customExts,omitempty"`
	V2CustomExts map[string]interface{} `json:"v2:customExts,omitempty"`
	Ext          map[string]interface{} `json:"ext,omitempty"`
	SenderPhoto  string                 `json:"sender_photo,omitempty"`
}

// LocalEcho is the client's own optimistic representation of a message it
// just sent (or received) before authoritative confirmation. Raw carries the
// payload string exactly as handed to the send primitive; Seq is the replay
// sequence number, which keeps synthesized IDs stable across re-renders.
type LocalEcho struct {
	Sender   string
	Raw      string
	Seq      int
	Outgoing bool
	// At is the local wall-clock at echo time; the zero value means "now".
	At time.Time
}

// Conversation is a contact entry in the conversation list.
type Conversation struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Avatar          string    `json:"avatar,omitempty"`
	LastMessage     string    `json:"last_message,omitempty"`
	LastMessageFrom string    `json:"last_message_from,omitempty"`
	Timestamp       time.Time `json:"timestamp,omitempty"`
	UnreadCount     int       `json:"unread_count,omitempty"`
}

// IncomingCall is surfaced to the call-UI hook when a call/initiate payload
// arrives. The payload itself stays hidden from the timeline.
type IncomingCall struct {
	From     string `json:"from"`
	Channel  string `json:"channel"`
	CallID   string `json:"call_id,omitempty"`
	CallType string `json:"call_type"`
}
