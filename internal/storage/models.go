package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidState is returned when a queue item transition is attempted
// from a state that does not allow it (e.g. completing a pending item).
// Callers hitting this have a logic bug; it is never retried.
var ErrInvalidState = errors.New("invalid queue item state")

// Queue item states. The only legal transitions are
// pending -> processing -> completed, and
// pending -> processing -> pending (retry) -> ... -> failed.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Queue item types.
const (
	ItemTypeURL     = "url"
	ItemTypePDFPage = "pdf_page"
)

// QueueItem is one unit of ingestion work: a sitemap URL or a PDF page.
type QueueItem struct {
	ID           string
	QueueID      string
	ItemType     string
	PayloadJSON  string
	Status       string
	BotID        string
	Priority     int
	Attempts     int
	MaxAttempts  int
	ErrorMessage string
	RunAfter     time.Time
	CreatedAt    time.Time
	StartedAt    time.Time // zero until claimed
	CompletedAt  time.Time // zero until terminal
}

// FailedItem is a terminally failed item as reported by QueueStatus.
type FailedItem struct {
	ItemID       string `json:"item_id"`
	PayloadJSON  string `json:"payload"`
	ErrorMessage string `json:"error_message"`
}

// QueueStatus aggregates item counts for one queue. The queue is
// complete when nothing is pending or processing; failed items are
// terminal-but-resolved and do not block completion.
type QueueStatus struct {
	QueueID     string       `json:"queue_id"`
	Total       int          `json:"total"`
	Pending     int          `json:"pending"`
	Processing  int          `json:"processing"`
	Completed   int          `json:"completed"`
	Failed      int          `json:"failed"`
	Stalled     int          `json:"stalled"`
	Percentage  float64      `json:"percentage"`
	Complete    bool         `json:"complete"`
	FailedItems []FailedItem `json:"failed_items"`
}
