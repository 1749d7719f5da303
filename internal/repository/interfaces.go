package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/lead-pipeline-scheduler/internal/domain"
	apperrors "github.com/acme/lead-pipeline-scheduler/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a conditional update lost the race.
	ErrConflict = apperrors.ErrConflict
)

// LeadRepository reads and conditionally updates leads in the external store.
type LeadRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Lead, error)
	ListEligible(ctx context.Context, states []domain.LeadState, limit int) ([]*domain.Lead, error)
	SetState(ctx context.Context, id uuid.UUID, expected, next domain.LeadState) error
	IncrementRetry(ctx context.Context, id uuid.UUID) (int, error)
}

// QueueRepository owns queue entry persistence.
type QueueRepository interface {
	CreateEntries(ctx context.Context, entries []*domain.QueueEntry) (int, error)
	CountForDate(ctx context.Context, date domain.Date) (int, error)
	CountProcessedOn(ctx context.Context, date domain.Date) (int, error)
	CountInFlightOn(ctx context.Context, date domain.Date) (int, error)
	CountByState(ctx context.Context, state domain.QueueState) (int, error)
	ListDue(ctx context.Context, until domain.Date, limit int) ([]*domain.QueueEntry, error)
	Transition(ctx context.Context, id uuid.UUID, expected, next domain.QueueState) error
	IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error)
	ActiveByLeads(ctx context.Context, leadIDs []uuid.UUID) (map[uuid.UUID]uuid.UUID, error)
	RemoveByLeads(ctx context.Context, leadIDs []uuid.UUID) (int, error)
	RescheduleByLeads(ctx context.Context, leadIDs []uuid.UUID, date domain.Date) (int, error)
	RequeueStale(ctx context.Context, before time.Time) (int, error)
	MaxPositionForDate(ctx context.Context, date domain.Date) (int, error)
}

// SettingsRepository persists per-user scheduler settings.
type SettingsRepository interface {
	Get(ctx context.Context, userID string) (*domain.Settings, error)
	Put(ctx context.Context, userID string, settings domain.Settings) error
}

// StatsRepository maintains per-day throughput counters.
type StatsRepository interface {
	ApplyDelta(ctx context.Context, date domain.Date, delta StatsDelta) error
	Range(ctx context.Context, from, to domain.Date) ([]domain.DailyStat, error)
}

// DeliveryLog appends per-attempt delivery records.
type DeliveryLog interface {
	AppendAttempt(ctx context.Context, attempt domain.DeliveryAttempt) error
	ListByLead(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.DeliveryAttempt, error)
}

// StatsDelta captures atomic counter increments for one day.
type StatsDelta struct {
	QueuedDelta     int64
	ProcessedDelta  int64
	FailedDelta     int64
	DurationMsDelta int64
}
