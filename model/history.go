package model

import "time"

// Request outcomes recorded in the history table.
const (
	OutcomeQueued         = "queued"
	OutcomeNotFound       = "not_found"
	OutcomeDownloadFailed = "download_failed"
	OutcomeSkip           = "skip"
	OutcomeExpired        = "expired"
)

// RequestRecord is one resolved listener request.
type RequestRecord struct {
	ID         uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	RequestID  string    `json:"requestId" gorm:"size:36;index"`
	Requester  string    `json:"requester" gorm:"size:255;index"`
	RemoteAddr string    `json:"remoteAddr" gorm:"size:64"`
	Query      string    `json:"query" gorm:"size:255"`
	Outcome    string    `json:"outcome" gorm:"size:20;index"`
	Artist     string    `json:"artist" gorm:"size:255"`
	Title      string    `json:"title" gorm:"size:255"`
	Position   int       `json:"position"`
	CreatedAt  time.Time `json:"createdAt" gorm:"index"`
}

// TableName overrides the default table name.
func (RequestRecord) TableName() string {
	return "request_history"
}
