package messages

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
)

type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelWhatsApp Channel = "WHATSAPP"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusScheduled Status = "SCHEDULED"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusFailed    Status = "FAILED"
	StatusBounced   Status = "BOUNCED"
	StatusRejected  Status = "REJECTED"
)

// IsTerminal reports whether a status ends the message lifecycle. FAILED is
// terminal for counting purposes even though the retry loop may move the
// message back to PENDING.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusFailed, StatusBounced, StatusRejected:
		return true
	}
	return false
}

// Source identifies which component performed a status transition.
type Source string

const (
	SourceAPI            Source = "API"
	SourceWorkerEmail    Source = "WORKER_EMAIL"
	SourceWorkerWhatsApp Source = "WORKER_WHATSAPP"
	SourceRetry          Source = "RETRY"
	SourceScheduler      Source = "SCHEDULER"
)

type FailureType string

const (
	FailurePermanent FailureType = "PERMANENT"
	FailureRateLimit FailureType = "RATE_LIMIT"
	FailureTransient FailureType = "TRANSIENT"
)

// Message is the canonical record for a single notification.
type Message struct {
	MessageID    string            `json:"message_id" db:"message_id"`
	SiteID       uuid.UUID         `json:"site_id" db:"site_id"`
	Channel      Channel           `json:"channel" db:"channel"`
	Status       Status            `json:"status" db:"status"`
	Recipient    string            `json:"recipient" db:"recipient"`
	Subject      *string           `json:"subject,omitempty" db:"subject"`
	Body         *string           `json:"body,omitempty" db:"body"`
	FromEmail    *string           `json:"from_email,omitempty" db:"from_email"`
	FromName     *string           `json:"from_name,omitempty" db:"from_name"`
	IsHTML       bool              `json:"is_html" db:"is_html"`
	ImageURL     *string           `json:"image_url,omitempty" db:"image_url"`
	VideoURL     *string           `json:"video_url,omitempty" db:"video_url"`
	DocumentURL  *string           `json:"document_url,omitempty" db:"document_url"`
	FileName     *string           `json:"file_name,omitempty" db:"file_name"`
	Caption      *string           `json:"caption,omitempty" db:"caption"`
	ErrorMessage *string           `json:"error_message,omitempty" db:"error_message"`
	RetryCount   int               `json:"retry_count" db:"retry_count"`
	FailureType  *FailureType      `json:"failure_type,omitempty" db:"failure_type"`
	Metadata     map[string]string `json:"metadata,omitempty" db:"metadata"`
	ScheduledAt  *time.Time        `json:"scheduled_at,omitempty" db:"scheduled_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty" db:"sent_at"`
	DeliveredAt  *time.Time        `json:"delivered_at,omitempty" db:"delivered_at"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at" db:"updated_at"`
}

// StatusTransition is one row of the append-only status history.
type StatusTransition struct {
	MessageID string    `json:"message_id"`
	OldStatus Status    `json:"old_status"`
	NewStatus Status    `json:"new_status"`
	Source    Source    `json:"source"`
	Note      *string   `json:"note,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// DailyMetric is one row of the per-site per-channel per-day counters.
type DailyMetric struct {
	SiteID         uuid.UUID `json:"site_id"`
	Channel        Channel   `json:"channel"`
	Date           time.Time `json:"date"`
	TotalSent      int64     `json:"total_sent"`
	TotalDelivered int64     `json:"total_delivered"`
	TotalFailed    int64     `json:"total_failed"`
}

// ChannelSummary is the all-time rollup of one channel's daily counters.
type ChannelSummary struct {
	Channel        Channel `json:"channel"`
	TotalSent      int64   `json:"total_sent"`
	TotalDelivered int64   `json:"total_delivered"`
	TotalFailed    int64   `json:"total_failed"`
}

// SiteStats is the aggregate view returned by GET /messages/stats.
type SiteStats struct {
	CountsByStatus map[Status]int64 `json:"counts_by_status"`
	Total          int64            `json:"total"`
	SuccessRate    float64          `json:"success_rate"`
	AveragePerDay  float64          `json:"average_per_day"`
}

// Filter narrows message listings. Zero values mean "no constraint".
type Filter struct {
	Status  Status
	Channel Channel
	From    *time.Time
	To      *time.Time
	Page    int
	Size    int
}

const messageIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// NewMessageID returns an externally visible opaque id: "MSG-" followed by
// 24 random base62 characters.
func NewMessageID() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure means the process has bigger problems
		panic(err)
	}
	id := make([]byte, 0, 28)
	id = append(id, "MSG-"...)
	for _, b := range buf {
		id = append(id, messageIDAlphabet[int(b)%len(messageIDAlphabet)])
	}
	return string(id)
}
