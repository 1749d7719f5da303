package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/lead-pipeline-scheduler/internal/domain"
)

// DeliveryLog persists per-attempt delivery records in Scylla. The log is
// append-only; the Postgres queue entry remains the source of truth for state.
type DeliveryLog struct {
	session *gocql.Session
}

// NewDeliveryLog creates a new delivery log store.
func NewDeliveryLog(session *gocql.Session) *DeliveryLog {
	return &DeliveryLog{session: session}
}

// AppendAttempt appends one delivery attempt record.
func (s *DeliveryLog) AppendAttempt(ctx context.Context, attempt domain.DeliveryAttempt) error {
	durationMs := int64(attempt.Duration / time.Millisecond)
	if err := s.session.Query(`INSERT INTO delivery_attempts_by_lead (lead_id, attempt_id, entry_id, attempt_number, state, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.LeadID.String(), attempt.ID.String(), attempt.EntryID.String(), attempt.AttemptNum,
		string(attempt.State), attempt.Error, durationMs, attempt.CreatedAt,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("delivery log: append attempt: %w", err)
	}
	return nil
}

// ListByLead returns recent attempts for a lead, newest first.
func (s *DeliveryLog) ListByLead(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.DeliveryAttempt, error) {
	if limit <= 0 {
		limit = 50
	}

	iter := s.session.Query(`SELECT attempt_id, entry_id, attempt_number, state, error, duration_ms, created_at
		FROM delivery_attempts_by_lead WHERE lead_id = ? LIMIT ?`,
		leadID.String(), limit).WithContext(ctx).Iter()

	var (
		attemptIDStr string
		entryIDStr   string
		attemptNum   int
		state        string
		errText      string
		durationMs   int64
		createdAt    time.Time
	)

	attempts := make([]domain.DeliveryAttempt, 0, limit)
	for iter.Scan(&attemptIDStr, &entryIDStr, &attemptNum, &state, &errText, &durationMs, &createdAt) {
		attemptID, err := uuid.Parse(attemptIDStr)
		if err != nil {
			continue
		}
		entryID, err := uuid.Parse(entryIDStr)
		if err != nil {
			continue
		}
		attempts = append(attempts, domain.DeliveryAttempt{
			ID:         attemptID,
			LeadID:     leadID,
			EntryID:    entryID,
			AttemptNum: attemptNum,
			State:      domain.QueueState(state),
			Error:      errText,
			Duration:   time.Duration(durationMs) * time.Millisecond,
			CreatedAt:  createdAt,
		})
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("delivery log: iter close: %w", err)
	}
	return attempts, nil
}
