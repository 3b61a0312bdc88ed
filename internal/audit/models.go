package audit

import "time"

// Event is an immutable, append-only record of one call lifecycle step.
//
// Events are never updated or deleted. Writing them is best-effort: callers log
// and continue when Append fails.
type Event struct {
	ID     string    `json:"id"`
	CallID string    `json:"call_id"`
	Type   EventType `json:"type"`

	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status,omitempty"`

	// Actor is the API client id or worker id that caused the event.
	Actor string `json:"actor,omitempty"`

	Message string `json:"message,omitempty"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type EventType string

const (
	EventTypeCreated           EventType = "call_created"
	EventTypeProcessing        EventType = "call_processing"
	EventTypeCompleted         EventType = "call_completed"
	EventTypeFailed            EventType = "call_failed"
	EventTypeRedeliverySkipped EventType = "redelivery_skipped"
	EventTypeStaleFinalized    EventType = "stale_finalized"
)
