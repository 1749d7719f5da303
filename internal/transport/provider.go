package transport

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Message is the outbound payload for one queue entry.
type Message struct {
	LeadID  uuid.UUID
	EntryID uuid.UUID
	Attempt int
}

// Result captures the outcome of a send attempt.
type Result struct {
	Delivered bool
	Retryable bool
	Duration  time.Duration
	Error     string
}

// Provider abstracts the outbound messaging integration. Retries are owned by
// the processing driver, never by the provider.
type Provider interface {
	Send(ctx context.Context, msg Message) (Result, error)
}
