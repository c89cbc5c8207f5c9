package domain

import (
	"time"
)

// MessageKind discriminates chat events on a stream channel.
type MessageKind string

const (
	MessageKindChat   MessageKind = "chat"
	MessageKindTip    MessageKind = "tip"
	MessageKindSystem MessageKind = "system"
)

// Message represents one chat event. Timestamp is server-assigned;
// events within a stream are totally ordered by (Timestamp, ID).
// Immutable once created.
type Message struct {
	ID        string         `json:"id"`
	StreamID  string         `json:"stream_id"`
	UserID    string         `json:"user_id"`
	Content   string         `json:"content"`
	Kind      MessageKind    `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	User      *PublicProfile `json:"user,omitempty"`
}

// Before reports whether m sorts before other in the per-stream total
// order.
func (m *Message) Before(other *Message) bool {
	if m.Timestamp.Equal(other.Timestamp) {
		return m.ID < other.ID
	}
	return m.Timestamp.Before(other.Timestamp)
}

// SendMessageRequest represents a chat message send.
type SendMessageRequest struct {
	Content string `json:"content" binding:"required,min=1,max=500"`
}

// MessageHistoryRequest represents a chat history query.
type MessageHistoryRequest struct {
	Limit int `form:"limit"`
}
