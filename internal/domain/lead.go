package domain

import (
	"time"

	"github.com/google/uuid"
)

// LeadStage enumerates sales-pipeline stages. The scheduler never branches on
// the stage; it is carried for reporting only and kept separate from LeadState.
type LeadStage string

const (
	LeadStageNew       LeadStage = "new"
	LeadStageContacted LeadStage = "contacted"
	LeadStageQualified LeadStage = "qualified"
	LeadStageConverted LeadStage = "converted"
	LeadStageClosed    LeadStage = "closed"
)

// LeadState enumerates processing-pipeline states for a lead.
type LeadState string

const (
	LeadStatePending      LeadState = "pending"
	LeadStateQueued       LeadState = "queued"
	LeadStateProcessing   LeadState = "processing"
	LeadStateProcessed    LeadState = "processed"
	LeadStateFailed       LeadState = "failed"
	LeadStateDeadLettered LeadState = "dead_lettered"
)

// Terminal reports whether the state excludes a lead from further automatic processing.
func (s LeadState) Terminal() bool {
	return s == LeadStateProcessed || s == LeadStateDeadLettered
}

// LeadClass buckets leads for priority weighting.
type LeadClass string

const (
	LeadClassHot  LeadClass = "hot"
	LeadClassWarm LeadClass = "warm"
	LeadClassCold LeadClass = "cold"
)

// Lead references a unit of work owned by the external lead store.
type Lead struct {
	ID         uuid.UUID
	Stage      LeadStage
	State      LeadState
	Class      LeadClass
	RetryCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// QueueState enumerates the admission/processing lifecycle of a queue entry.
type QueueState string

const (
	QueueStateQueued       QueueState = "queued"
	QueueStateSending      QueueState = "sending"
	QueueStateSent         QueueState = "sent"
	QueueStateFailed       QueueState = "failed"
	QueueStateDeadLettered QueueState = "dead_lettered"
)

// Terminal reports whether the entry is immutable.
func (s QueueState) Terminal() bool {
	return s == QueueStateSent || s == QueueStateDeadLettered
}

// QueueEntry is a bounded admission ticket for one lead on one business day.
type QueueEntry struct {
	ID            uuid.UUID
	LeadID        uuid.UUID
	ScheduledFor  Date
	Priority      int
	QueuePosition int
	State         QueueState
	Attempts      int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeliveryAttempt records a single send attempt for observability.
type DeliveryAttempt struct {
	ID         uuid.UUID
	LeadID     uuid.UUID
	EntryID    uuid.UUID
	AttemptNum int
	State      QueueState
	Error      string
	Duration   time.Duration
	CreatedAt  time.Time
}
