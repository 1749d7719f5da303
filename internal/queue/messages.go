package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/acme/lead-pipeline-scheduler/internal/domain"
)

// TransitionMessage records one queue-entry state transition.
type TransitionMessage struct {
	EntryID    uuid.UUID         `json:"entry_id"`
	LeadID     uuid.UUID         `json:"lead_id"`
	From       domain.QueueState `json:"from"`
	To         domain.QueueState `json:"to"`
	Attempt    int               `json:"attempt"`
	DurationMs int64             `json:"duration_ms"`
	Error      string            `json:"error,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// DeadLetterMessage reports a lead that exhausted its retries.
type DeadLetterMessage struct {
	EntryID    uuid.UUID `json:"entry_id"`
	LeadID     uuid.UUID `json:"lead_id"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
