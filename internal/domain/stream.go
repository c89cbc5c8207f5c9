package domain

import (
	"time"
)

// Stream represents a single live broadcast instance. The media
// transport itself is external; StreamURL merely references it.
type Stream struct {
	ID            string         `json:"id"`
	BroadcasterID string         `json:"broadcaster_id"`
	IsLive        bool           `json:"is_live"`
	Title         string         `json:"title"`
	Description   string         `json:"description,omitempty"`
	StreamURL     string         `json:"stream_url,omitempty"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	EndedAt       *time.Time     `json:"ended_at,omitempty"`
	Viewers       int            `json:"viewers"`
	TotalTips     int64          `json:"total_tips"`
	CreatedAt     time.Time      `json:"created_at"`
	Broadcaster   *PublicProfile `json:"broadcaster,omitempty"`
}

// CreateStreamRequest represents a create stream request.
type CreateStreamRequest struct {
	Title       string `json:"title" binding:"required,min=1,max=200"`
	Description string `json:"description"`
	StreamURL   string `json:"stream_url"`
}

// UpdateStreamRequest represents a stream metadata update.
type UpdateStreamRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	StreamURL   *string `json:"stream_url"`
}

// ListStreamsRequest represents a list streams request. Live filters to
// live (true) or historical (false) streams when set.
type ListStreamsRequest struct {
	Live     *bool  `form:"live"`
	Query    string `form:"q"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}

// ListStreamsResponse represents a paginated list response.
type ListStreamsResponse struct {
	Streams    []Stream `json:"streams"`
	Total      int      `json:"total"`
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
	TotalPages int      `json:"total_pages"`
}
