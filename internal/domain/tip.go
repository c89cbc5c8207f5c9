package domain

import (
	"time"
)

// Tip represents an atomic credit transfer between two identities,
// optionally tagged to a stream. Never partially applied.
type Tip struct {
	ID              string         `json:"id"`
	FromUserID      string         `json:"from_user"`
	ToBroadcasterID string         `json:"to_broadcaster"`
	StreamID        string         `json:"stream_id,omitempty"`
	Amount          int64          `json:"amount"`
	Message         string         `json:"message,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
	FromUser        *PublicProfile `json:"from_user_data,omitempty"`
}

// SendTipRequest represents a tip send.
type SendTipRequest struct {
	ToBroadcasterID string `json:"to_broadcaster" binding:"required"`
	StreamID        string `json:"stream_id"`
	Amount          int64  `json:"amount" binding:"required"`
	Message         string `json:"message"`
}
