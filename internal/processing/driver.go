// Package processing drains due queue entries through the outbound transport
// provider, enforcing calendar windows, daily capacity and retry policy.
package processing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/lead-pipeline-scheduler/internal/calendar"
	"github.com/acme/lead-pipeline-scheduler/internal/domain"
	"github.com/acme/lead-pipeline-scheduler/internal/queue"
	"github.com/acme/lead-pipeline-scheduler/internal/quota"
	"github.com/acme/lead-pipeline-scheduler/internal/repository"
	"github.com/acme/lead-pipeline-scheduler/internal/transport"
	apperrors "github.com/acme/lead-pipeline-scheduler/pkg/errors"
	"github.com/acme/lead-pipeline-scheduler/pkg/logger"
)

const (
	defaultRequestTimeout = 10 * time.Second

	// staleClaimAge bounds how long a sending claim may sit without progress
	// before it is treated as orphaned and returned to the queue.
	staleClaimAge = 15 * time.Minute
)

// SettingsSource resolves scheduler settings for a user.
type SettingsSource interface {
	Get(ctx context.Context, userID string) (domain.Settings, error)
}

// TransitionPublisher emits queue-entry state transitions.
type TransitionPublisher interface {
	PublishTransition(ctx context.Context, msg queue.TransitionMessage) error
}

// DeadLetterPublisher emits leads that exhausted their retries.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, msg queue.DeadLetterMessage) error
}

// Driver executes processing batches against the transport provider.
type Driver struct {
	leads          repository.LeadRepository
	entries        repository.QueueRepository
	deliveries     repository.DeliveryLog
	settings       SettingsSource
	provider       transport.Provider
	transitions    TransitionPublisher
	deadLetters    DeadLetterPublisher
	requestTimeout time.Duration
	logger         *logger.Logger
}

// NewDriver constructs a processing driver. A non-positive requestTimeout
// falls back to the 10 second default.
func NewDriver(
	leads repository.LeadRepository,
	entries repository.QueueRepository,
	deliveries repository.DeliveryLog,
	settings SettingsSource,
	provider transport.Provider,
	transitions TransitionPublisher,
	deadLetters DeadLetterPublisher,
	requestTimeout time.Duration,
	lg *logger.Logger,
) *Driver {
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	return &Driver{
		leads:          leads,
		entries:        entries,
		deliveries:     deliveries,
		settings:       settings,
		provider:       provider,
		transitions:    transitions,
		deadLetters:    deadLetters,
		requestTimeout: requestTimeout,
		logger:         lg,
	}
}

// Availability reports whether processing may run right now.
type Availability struct {
	Allowed    bool      `json:"allowed"`
	Reason     string    `json:"reason,omitempty"`
	NextWindow time.Time `json:"next_window,omitempty"`
}

// CanProcessNow evaluates the calendar and automation pauses for now. With
// force the calendar gates are bypassed; capacity is never bypassed and is not
// evaluated here.
func (d *Driver) CanProcessNow(ctx context.Context, userID string, now time.Time, force bool) (Availability, error) {
	cfg, err := d.settings.Get(ctx, userID)
	if err != nil {
		return Availability{}, fmt.Errorf("processing: resolve settings: %w", err)
	}
	return d.availability(cfg, now, force), nil
}

func (d *Driver) availability(cfg domain.Settings, now time.Time, force bool) Availability {
	if force {
		return Availability{Allowed: true, Reason: "forced"}
	}

	local := now.In(cfg.Calendar.BusinessHours.Location())
	today := domain.DateOf(local)
	next := calendar.NextProcessingTime(cfg.Calendar, now)

	weekday := today.Weekday()
	if cfg.Automation.PauseOnWeekends && (weekday == time.Saturday || weekday == time.Sunday) {
		if !(cfg.Targets.WeekendProcessing.Enabled && calendar.IsBusinessDay(today, cfg.Calendar)) {
			return Availability{Reason: "paused on weekends", NextWindow: next}
		}
	}
	if cfg.Automation.PauseOnHolidays && cfg.Calendar.IsHoliday(today) {
		return Availability{Reason: "paused on holidays", NextWindow: next}
	}
	if !calendar.IsBusinessDay(today, cfg.Calendar) {
		return Availability{Reason: "not a business day", NextWindow: next}
	}
	if !calendar.IsWithinBusinessHours(cfg.Calendar, now) {
		return Availability{Reason: "outside business hours", NextWindow: next}
	}
	return Availability{Allowed: true}
}

// BatchResult reports the outcome of one processing batch.
type BatchResult struct {
	Attempted    int    `json:"attempted"`
	Succeeded    int    `json:"succeeded"`
	Requeued     int    `json:"requeued"`
	DeadLettered int    `json:"dead_lettered"`
	Remaining    int    `json:"remaining"`
	Skipped      bool   `json:"skipped"`
	Message      string `json:"message"`
}

// StartBatch processes one batch of due queue entries. Remaining daily
// capacity is recomputed every call from the quota, the count already
// processed today and the claims still in flight, so concurrent or repeated
// invocations cannot overshoot it. force bypasses the calendar gates only.
func (d *Driver) StartBatch(ctx context.Context, userID string, now time.Time, force bool) (BatchResult, error) {
	cfg, err := d.settings.Get(ctx, userID)
	if err != nil {
		return BatchResult{}, fmt.Errorf("processing: resolve settings: %w", err)
	}

	if avail := d.availability(cfg, now, force); !avail.Allowed {
		return BatchResult{Skipped: true, Message: avail.Reason}, nil
	}

	if recovered, err := d.entries.RequeueStale(ctx, now.Add(-staleClaimAge)); err != nil {
		d.logger.Warn("processing: requeue stale claims", zap.Error(err))
	} else if recovered > 0 {
		d.logger.Info("processing: recovered orphaned claims", zap.Int("count", recovered))
	}

	today := domain.DateOf(now.In(cfg.Calendar.BusinessHours.Location()))

	capacity := quota.DailyQuota(cfg.Targets, cfg.Calendar, today)
	if capacity == 0 && force {
		// forced runs on non-business days still respect configured capacity
		capacity = cfg.Targets.DailyTarget
		if cfg.Targets.MaxDailyCapacity < capacity {
			capacity = cfg.Targets.MaxDailyCapacity
		}
	}

	processedToday, err := d.entries.CountProcessedOn(ctx, today)
	if err != nil {
		return BatchResult{}, fmt.Errorf("processing: count processed: %w", err)
	}
	inFlight, err := d.entries.CountInFlightOn(ctx, today)
	if err != nil {
		return BatchResult{}, fmt.Errorf("processing: count in flight: %w", err)
	}

	remaining := capacity - processedToday - inFlight
	if remaining <= 0 {
		return BatchResult{
			Skipped: true,
			Message: fmt.Sprintf("daily capacity reached: %d of %d processed, %d in flight", processedToday, capacity, inFlight),
		}, nil
	}

	batchSize := cfg.Advanced.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	if remaining < batchSize {
		batchSize = remaining
	}

	due, err := d.entries.ListDue(ctx, today, batchSize)
	if err != nil {
		return BatchResult{}, fmt.Errorf("processing: list due entries: %w", err)
	}
	if len(due) == 0 {
		return BatchResult{Message: "no due entries"}, nil
	}

	var result BatchResult
	for i, entry := range due {
		if i > 0 && cfg.Advanced.ProcessingDelay > 0 {
			if err := sleepCtx(ctx, cfg.Advanced.ProcessingDelay); err != nil {
				result.Message = "batch interrupted"
				return result, err
			}
		}
		if err := ctx.Err(); err != nil {
			result.Message = "batch interrupted"
			return result, err
		}

		outcome, err := d.processEntry(ctx, cfg, entry)
		if err != nil {
			d.logger.Error("processing: entry failed",
				zap.String("entry_id", entry.ID.String()), zap.Error(err))
			continue
		}
		result.Attempted++
		switch outcome {
		case outcomeDelivered:
			result.Succeeded++
		case outcomeRequeued:
			result.Requeued++
		case outcomeDeadLettered:
			result.DeadLettered++
		}
	}

	result.Remaining = remaining - result.Succeeded
	result.Message = fmt.Sprintf("batch for %s: %d attempted, %d delivered, %d requeued, %d dead lettered",
		today, result.Attempted, result.Succeeded, result.Requeued, result.DeadLettered)
	return result, nil
}

type entryOutcome int

const (
	outcomeSkipped entryOutcome = iota
	outcomeDelivered
	outcomeRequeued
	outcomeDeadLettered
)

func (d *Driver) processEntry(ctx context.Context, cfg domain.Settings, entry *domain.QueueEntry) (entryOutcome, error) {
	if err := d.entries.Transition(ctx, entry.ID, domain.QueueStateQueued, domain.QueueStateSending); err != nil {
		if apperrors.Is(err, repository.ErrConflict) {
			// another worker claimed it
			return outcomeSkipped, nil
		}
		return outcomeSkipped, fmt.Errorf("claim entry: %w", err)
	}

	attempt, err := d.entries.IncrementAttempts(ctx, entry.ID)
	if err != nil {
		return outcomeSkipped, fmt.Errorf("increment attempts: %w", err)
	}

	if err := d.leads.SetState(ctx, entry.LeadID, domain.LeadStateQueued, domain.LeadStateProcessing); err != nil {
		if !apperrors.Is(err, repository.ErrConflict) {
			return outcomeSkipped, fmt.Errorf("mark lead processing: %w", err)
		}
	}

	startedAt := time.Now().UTC()
	d.publish(ctx, entry, domain.QueueStateQueued, domain.QueueStateSending, attempt, 0, "", startedAt)

	sendCtx, cancel := context.WithTimeout(ctx, d.requestTimeout)
	res, sendErr := d.provider.Send(sendCtx, transport.Message{
		LeadID:  entry.LeadID,
		EntryID: entry.ID,
		Attempt: attempt,
	})
	cancel()

	if sendErr != nil {
		res = transport.Result{
			Retryable: true,
			Duration:  time.Since(startedAt),
			Error:     sendErr.Error(),
		}
	}

	finishedAt := time.Now().UTC()
	durationMs := res.Duration.Milliseconds()

	if res.Delivered {
		if err := d.entries.Transition(ctx, entry.ID, domain.QueueStateSending, domain.QueueStateSent); err != nil {
			return outcomeSkipped, fmt.Errorf("mark entry sent: %w", err)
		}
		if err := d.leads.SetState(ctx, entry.LeadID, domain.LeadStateProcessing, domain.LeadStateProcessed); err != nil {
			if !apperrors.Is(err, repository.ErrConflict) {
				d.logger.Warn("processing: mark lead processed",
					zap.String("lead_id", entry.LeadID.String()), zap.Error(err))
			}
		}
		d.publish(ctx, entry, domain.QueueStateSending, domain.QueueStateSent, attempt, durationMs, "", finishedAt)
		d.appendAttempt(ctx, entry, attempt, domain.QueueStateSent, "", res.Duration, finishedAt)
		return outcomeDelivered, nil
	}

	if err := d.entries.Transition(ctx, entry.ID, domain.QueueStateSending, domain.QueueStateFailed); err != nil {
		return outcomeSkipped, fmt.Errorf("mark entry failed: %w", err)
	}
	d.publish(ctx, entry, domain.QueueStateSending, domain.QueueStateFailed, attempt, durationMs, res.Error, finishedAt)
	d.appendAttempt(ctx, entry, attempt, domain.QueueStateFailed, res.Error, res.Duration, finishedAt)

	if res.Retryable && cfg.Advanced.RetryFailedLeads && attempt <= cfg.Advanced.MaxRetryAttempts {
		if err := d.entries.Transition(ctx, entry.ID, domain.QueueStateFailed, domain.QueueStateQueued); err != nil {
			return outcomeSkipped, fmt.Errorf("requeue entry: %w", err)
		}
		if err := d.leads.SetState(ctx, entry.LeadID, domain.LeadStateProcessing, domain.LeadStateQueued); err != nil {
			if !apperrors.Is(err, repository.ErrConflict) {
				d.logger.Warn("processing: requeue lead",
					zap.String("lead_id", entry.LeadID.String()), zap.Error(err))
			}
		}
		if _, err := d.leads.IncrementRetry(ctx, entry.LeadID); err != nil {
			d.logger.Warn("processing: increment lead retry",
				zap.String("lead_id", entry.LeadID.String()), zap.Error(err))
		}
		d.publish(ctx, entry, domain.QueueStateFailed, domain.QueueStateQueued, attempt, 0, res.Error, finishedAt)
		return outcomeRequeued, nil
	}

	if err := d.entries.Transition(ctx, entry.ID, domain.QueueStateFailed, domain.QueueStateDeadLettered); err != nil {
		return outcomeSkipped, fmt.Errorf("dead letter entry: %w", err)
	}
	if err := d.leads.SetState(ctx, entry.LeadID, domain.LeadStateProcessing, domain.LeadStateDeadLettered); err != nil {
		if !apperrors.Is(err, repository.ErrConflict) {
			d.logger.Warn("processing: dead letter lead",
				zap.String("lead_id", entry.LeadID.String()), zap.Error(err))
		}
	}
	d.publish(ctx, entry, domain.QueueStateFailed, domain.QueueStateDeadLettered, attempt, 0, res.Error, finishedAt)
	if d.deadLetters != nil {
		if err := d.deadLetters.PublishDeadLetter(ctx, queue.DeadLetterMessage{
			EntryID:    entry.ID,
			LeadID:     entry.LeadID,
			Attempts:   attempt,
			LastError:  res.Error,
			OccurredAt: finishedAt,
		}); err != nil {
			d.logger.Warn("processing: publish dead letter",
				zap.String("entry_id", entry.ID.String()), zap.Error(err))
		}
	}
	return outcomeDeadLettered, nil
}

func (d *Driver) publish(ctx context.Context, e *domain.QueueEntry, from, to domain.QueueState, attempt int, durationMs int64, errMsg string, at time.Time) {
	if d.transitions == nil {
		return
	}
	msg := queue.TransitionMessage{
		EntryID:    e.ID,
		LeadID:     e.LeadID,
		From:       from,
		To:         to,
		Attempt:    attempt,
		DurationMs: durationMs,
		Error:      errMsg,
		OccurredAt: at,
	}
	if err := d.transitions.PublishTransition(ctx, msg); err != nil {
		d.logger.Warn("processing: publish transition",
			zap.String("entry_id", e.ID.String()), zap.Error(err))
	}
}

func (d *Driver) appendAttempt(ctx context.Context, e *domain.QueueEntry, attempt int, state domain.QueueState, errMsg string, duration time.Duration, at time.Time) {
	if d.deliveries == nil {
		return
	}
	record := domain.DeliveryAttempt{
		ID:         uuid.New(),
		LeadID:     e.LeadID,
		EntryID:    e.ID,
		AttemptNum: attempt,
		State:      state,
		Error:      errMsg,
		Duration:   duration,
		CreatedAt:  at,
	}
	if err := d.deliveries.AppendAttempt(ctx, record); err != nil {
		d.logger.Warn("processing: append delivery attempt",
			zap.String("entry_id", e.ID.String()), zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
