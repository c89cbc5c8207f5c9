package domain

import (
	"time"
)

// ShowStatus represents private show status. Transitions out of
// active are terminal.
type ShowStatus string

const (
	ShowStatusActive    ShowStatus = "active"
	ShowStatusEnded     ShowStatus = "ended"
	ShowStatusCancelled ShowStatus = "cancelled"
)

// PrivateShow represents a one-to-one paid session between a viewer and
// a broadcaster. TotalCost accrues per minute while active and is
// monotonically non-decreasing until the show reaches a terminal state.
type PrivateShow struct {
	ID            string     `json:"id"`
	BroadcasterID string     `json:"broadcaster_id"`
	ViewerID      string     `json:"viewer_id"`
	RatePerMinute int64      `json:"rate_per_minute"`
	Status        ShowStatus `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	TotalCost     int64      `json:"total_cost"`
}

// Terminal reports whether the show has reached a terminal status.
func (s *PrivateShow) Terminal() bool {
	return s.Status == ShowStatusEnded || s.Status == ShowStatusCancelled
}

// StartShowRequest represents a private show start.
type StartShowRequest struct {
	BroadcasterID string `json:"broadcaster_id" binding:"required"`
	RatePerMinute int64  `json:"rate_per_minute" binding:"required"`
}
