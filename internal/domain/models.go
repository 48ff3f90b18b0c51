// Package domain defines the persistence models for the outbound message
// queue and its per-message event log. These types are mapped with GORM and
// form the core data layer of the messaging backend.
package domain

import (
	"encoding/json"
	"time"
	"unicode/utf8"
)

// QueueStatus is the lifecycle state of a QueueItem.
//
// Valid transitions:
//
//	pending  → sending            (worker claim)
//	sending  → sent               (delivery confirmed)
//	sending  → retrying → pending (transient failure, rescheduled)
//	retrying → dead               (retry budget exhausted)
//	pending|retrying → canceled   (operator cancel)
//	any but sent|canceled → pending (operator reprocess; deliberate reset)
//
// Rows in dead are the only purge-eligible rows.
type QueueStatus string

const (
	StatusPending  QueueStatus = "pending"
	StatusSending  QueueStatus = "sending"
	StatusSent     QueueStatus = "sent"
	StatusRetrying QueueStatus = "retrying"
	StatusDead     QueueStatus = "dead"
	StatusCanceled QueueStatus = "canceled"
)

// Valid reports whether s is one of the known queue statuses.
func (s QueueStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSending, StatusSent, StatusRetrying, StatusDead, StatusCanceled:
		return true
	}
	return false
}

// Terminal reports whether s is a state the worker never leaves on its own.
// Operator reprocess may still reset dead rows to pending.
func (s QueueStatus) Terminal() bool {
	return s == StatusSent || s == StatusDead || s == StatusCanceled
}

// AllStatuses lists every queue status, in lifecycle order. Used for
// aggregate counts so that empty statuses still appear with a zero value.
func AllStatuses() []QueueStatus {
	return []QueueStatus{StatusPending, StatusSending, StatusSent, StatusRetrying, StatusDead, StatusCanceled}
}

// QueueItem represents one durable outbound delivery intent.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Phone: destination address, digits only; transport-specific suffixing
//     happens at the transport boundary, never here.
//   - Payload: opaque serialized content. The queue never interprets payload
//     semantics beyond extracting a human-readable preview.
//   - Status: lifecycle state, see QueueStatus.
//   - Retries: number of delivery attempts made so far; only increases except
//     for an explicit operator reprocess.
//   - Error: last failure message; cleared on success or manual reset.
//   - ScheduledAt: earliest time the next attempt may start (nil = now).
//   - LastAttemptAt / SentAt: attempt and success timestamps.
//   - InternalMessageID: assigned at enqueue, stable across retries, used to
//     correlate log entries.
//   - IdempotencyKey: caller-supplied dedup token; unique when present.
//   - ProviderMessageID: identifier returned by the transport on success.
type QueueItem struct {
	ID                string      `json:"id"                  gorm:"type:char(36);primaryKey"`
	Phone             string      `json:"phone"               gorm:"type:varchar(32);not null;index"`
	Payload           string      `json:"payload"             gorm:"type:text;not null"`
	Status            QueueStatus `json:"status"              gorm:"type:varchar(16);not null;default:'pending';index:idx_queue_claim,priority:1;check:status IN ('pending','sending','sent','retrying','dead','canceled')"`
	Retries           int         `json:"retries"             gorm:"not null;default:0"`
	Error             string      `json:"error,omitempty"     gorm:"type:text"`
	ScheduledAt       *time.Time  `json:"scheduled_at,omitempty" gorm:"index:idx_queue_claim,priority:2"`
	LastAttemptAt     *time.Time  `json:"last_attempt_at,omitempty"`
	SentAt            *time.Time  `json:"sent_at,omitempty"`
	InternalMessageID string      `json:"internal_message_id" gorm:"type:char(36);not null;index"`
	IdempotencyKey    *string     `json:"idempotency_key,omitempty" gorm:"type:varchar(200);uniqueIndex:ux_queue_idempotency_key"`
	ProviderMessageID string      `json:"provider_message_id,omitempty" gorm:"type:varchar(128);index"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// TableName returns the database table name for QueueItem.
func (QueueItem) TableName() string { return "message_queue" }

// previewMaxRunes caps the human-readable preview length.
const previewMaxRunes = 80

// Preview extracts a short human-readable summary of the payload without
// interpreting its semantics. Structured payloads of the form
// {"type":"text","text":"..."} yield their text; document payloads yield
// "[document] <name>"; anything else falls back to the raw payload clipped
// to a fixed rune length.
func (q *QueueItem) Preview() string {
	var structured struct {
		Type string `json:"type"`
		Text string `json:"text"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(q.Payload), &structured); err == nil {
		switch structured.Type {
		case "text":
			return clipRunes(structured.Text, previewMaxRunes)
		case "document":
			return clipRunes("[document] "+structured.Name, previewMaxRunes)
		}
	}
	return clipRunes(q.Payload, previewMaxRunes)
}

// clipRunes truncates s to max runes, appending an ellipsis when clipped.
func clipRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "…"
}

// MessageLog is an append-only event record correlated to a queue item by its
// internal message ID. Log rows are never mutated; together they form the
// delivery timeline shown on the operator detail view.
//
// Event values: enqueued, attempt, sent, retry_scheduled, dead, canceled,
// reprocessed, callback.
type MessageLog struct {
	ID                string    `json:"id"                  gorm:"type:char(36);primaryKey"`
	InternalMessageID string    `json:"internal_message_id" gorm:"type:char(36);not null;index:idx_log_internal_id"`
	Level             string    `json:"level"               gorm:"type:varchar(8);not null;default:'info'"`
	Event             string    `json:"event"               gorm:"type:varchar(32);not null"`
	Detail            string    `json:"detail"              gorm:"type:text"`
	CreatedAt         time.Time `json:"created_at"          gorm:"index"`
}

// TableName returns the database table name for MessageLog.
func (MessageLog) TableName() string { return "message_logs" }
