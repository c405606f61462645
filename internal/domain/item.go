package domain

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Active reports whether the item still occupies its listing's single
// active slot.
func (s Status) Active() bool { return s == StatusPending || s == StatusProcessing }

// Terminal reports whether the item will never be claimed again.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

const (
	DefaultMaxRetries  = 3
	DefaultCleanupDays = 30
)

// QueueItem is one geocoding request for a listing. Address is a
// snapshot taken at enqueue time; listing edits supersede the item
// rather than mutating an in-flight attempt.
type QueueItem struct {
	ID            string
	ListingID     int64
	Address       string
	Status        Status
	RetryCount    int
	MaxRetries    int
	LastError     *string
	LastAttemptAt *time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type QueueStats struct {
	Pending         int64 `json:"pending"`
	Processing      int64 `json:"processing"`
	FailedRetryable int64 `json:"failed_retryable"`
	FailedPermanent int64 `json:"failed_permanent"`
	CompletedToday  int64 `json:"completed_today"`
}
