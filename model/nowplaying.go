package model

import "time"

// NowPlaying is the live state published by the feeder on every metadata change.
type NowPlaying struct {
	Title      string    `json:"title"` // Exact metadata string sent to the streaming server
	Track      *Track    `json:"track,omitempty"`
	QueueDepth int       `json:"queueDepth"`
	Idle       bool      `json:"idle"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
