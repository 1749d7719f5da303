// Package admission gates entry of leads into the processing queue under the
// per-day quota computed by the quota planner.
package admission

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/lead-pipeline-scheduler/internal/calendar"
	"github.com/acme/lead-pipeline-scheduler/internal/domain"
	"github.com/acme/lead-pipeline-scheduler/internal/queue"
	"github.com/acme/lead-pipeline-scheduler/internal/quota"
	"github.com/acme/lead-pipeline-scheduler/internal/repository"
	apperrors "github.com/acme/lead-pipeline-scheduler/pkg/errors"
	"github.com/acme/lead-pipeline-scheduler/pkg/logger"
)

// SettingsSource resolves scheduler settings for a user.
type SettingsSource interface {
	Get(ctx context.Context, userID string) (domain.Settings, error)
}

// TransitionPublisher emits queue-entry state transitions.
type TransitionPublisher interface {
	PublishTransition(ctx context.Context, msg queue.TransitionMessage) error
}

// Service admits leads into the processing queue.
type Service struct {
	leads       repository.LeadRepository
	entries     repository.QueueRepository
	settings    SettingsSource
	transitions TransitionPublisher
	logger      *logger.Logger
}

// NewService constructs the admission service.
func NewService(
	leads repository.LeadRepository,
	entries repository.QueueRepository,
	settings SettingsSource,
	transitions TransitionPublisher,
	lg *logger.Logger,
) *Service {
	return &Service{
		leads:       leads,
		entries:     entries,
		settings:    settings,
		transitions: transitions,
		logger:      lg,
	}
}

// PrepareResult reports the outcome of a queue preparation pass.
type PrepareResult struct {
	Admitted   int         `json:"admitted"`
	TargetDate domain.Date `json:"target_date"`
	Quota      int         `json:"quota"`
	Saturated  bool        `json:"saturated"`
	Message    string      `json:"message"`
}

// PrepareQueue admits eligible leads for the next business day (or a given
// date normalized to one) up to that day's quota. The operation is idempotent:
// it re-checks the queued count every run, so repeated invocations never exceed
// the quota.
func (s *Service) PrepareQueue(ctx context.Context, userID string, now time.Time, forDate *domain.Date) (PrepareResult, error) {
	cfg, err := s.settings.Get(ctx, userID)
	if err != nil {
		return PrepareResult{}, fmt.Errorf("admission: resolve settings: %w", err)
	}

	targetDate, exhausted := s.resolveTargetDate(cfg.Calendar, now, forDate)
	if exhausted {
		s.logger.Warn("admission: no business day within walk bound, calendar likely misconfigured",
			zap.String("target_date", targetDate.String()))
	}

	dayQuota := quota.DailyQuota(cfg.Targets, cfg.Calendar, targetDate)
	result := PrepareResult{TargetDate: targetDate, Quota: dayQuota}

	if dayQuota == 0 {
		result.Message = fmt.Sprintf("no processing target configured for %s", targetDate)
		return result, nil
	}

	alreadyQueued, err := s.entries.CountForDate(ctx, targetDate)
	if err != nil {
		return result, fmt.Errorf("admission: count queued: %w", err)
	}
	if alreadyQueued >= dayQuota {
		result.Saturated = true
		result.Message = fmt.Sprintf("queue for %s already holds %d of %d; nothing to admit", targetDate, alreadyQueued, dayQuota)
		return result, nil
	}

	room := dayQuota - alreadyQueued
	candidates, err := s.leads.ListEligible(ctx, []domain.LeadState{domain.LeadStatePending}, room)
	if err != nil {
		return result, fmt.Errorf("admission: list eligible leads: %w", err)
	}
	if len(candidates) == 0 {
		result.Message = fmt.Sprintf("no eligible leads for %s", targetDate)
		return result, nil
	}

	orderByPriority(candidates, cfg.Advanced.PriorityWeights)

	basePosition, err := s.entries.MaxPositionForDate(ctx, targetDate)
	if err != nil {
		return result, fmt.Errorf("admission: max position: %w", err)
	}

	nowUTC := now.UTC()
	entries := make([]*domain.QueueEntry, 0, len(candidates))
	for _, lead := range candidates {
		// claim the lead first so a concurrent pass cannot admit it twice
		if err := s.leads.SetState(ctx, lead.ID, domain.LeadStatePending, domain.LeadStateQueued); err != nil {
			if apperrors.Is(err, repository.ErrConflict) {
				continue
			}
			return result, fmt.Errorf("admission: claim lead: %w", err)
		}

		basePosition++
		entries = append(entries, &domain.QueueEntry{
			ID:            uuid.New(),
			LeadID:        lead.ID,
			ScheduledFor:  targetDate,
			Priority:      priorityFor(lead.Class, cfg.Advanced.PriorityWeights),
			QueuePosition: basePosition,
			State:         domain.QueueStateQueued,
			CreatedAt:     nowUTC,
			UpdatedAt:     nowUTC,
		})
	}

	created, err := s.entries.CreateEntries(ctx, entries)
	if err != nil {
		return result, fmt.Errorf("admission: create entries: %w", err)
	}

	for _, e := range entries {
		s.publishAdmission(ctx, e, nowUTC)
	}

	result.Admitted = created
	result.Message = fmt.Sprintf("admitted %d leads for %s (%d of %d slots filled)",
		created, targetDate, alreadyQueued+created, dayQuota)
	return result, nil
}

// BulkResult reports the outcome of an explicit bulk operation.
type BulkResult struct {
	Queued    int         `json:"queued"`
	Removed   int         `json:"removed"`
	Conflicts []uuid.UUID `json:"conflicts,omitempty"`
	Message   string      `json:"message"`
}

// BulkEnqueue queues the given leads regardless of quota. This is an operator
// escape hatch, not default behaviour; leads with an active entry are reported
// as conflicts and skipped.
func (s *Service) BulkEnqueue(ctx context.Context, userID string, leadIDs []uuid.UUID, now time.Time) (BulkResult, error) {
	cfg, err := s.settings.Get(ctx, userID)
	if err != nil {
		return BulkResult{}, fmt.Errorf("admission: resolve settings: %w", err)
	}

	targetDate, _ := s.resolveTargetDate(cfg.Calendar, now, nil)

	active, err := s.entries.ActiveByLeads(ctx, leadIDs)
	if err != nil {
		return BulkResult{}, fmt.Errorf("admission: active entries: %w", err)
	}

	basePosition, err := s.entries.MaxPositionForDate(ctx, targetDate)
	if err != nil {
		return BulkResult{}, fmt.Errorf("admission: max position: %w", err)
	}

	var result BulkResult
	nowUTC := now.UTC()
	entries := make([]*domain.QueueEntry, 0, len(leadIDs))
	for _, leadID := range leadIDs {
		if _, dup := active[leadID]; dup {
			result.Conflicts = append(result.Conflicts, leadID)
			continue
		}

		lead, err := s.leads.Get(ctx, leadID)
		if err != nil {
			result.Conflicts = append(result.Conflicts, leadID)
			continue
		}
		if lead.State.Terminal() || lead.State == domain.LeadStateProcessing {
			result.Conflicts = append(result.Conflicts, leadID)
			continue
		}

		if err := s.leads.SetState(ctx, leadID, lead.State, domain.LeadStateQueued); err != nil {
			result.Conflicts = append(result.Conflicts, leadID)
			continue
		}

		basePosition++
		entries = append(entries, &domain.QueueEntry{
			ID:            uuid.New(),
			LeadID:        leadID,
			ScheduledFor:  targetDate,
			Priority:      priorityFor(lead.Class, cfg.Advanced.PriorityWeights),
			QueuePosition: basePosition,
			State:         domain.QueueStateQueued,
			CreatedAt:     nowUTC,
			UpdatedAt:     nowUTC,
		})
	}

	created, err := s.entries.CreateEntries(ctx, entries)
	if err != nil {
		return result, fmt.Errorf("admission: create entries: %w", err)
	}
	for _, e := range entries {
		s.publishAdmission(ctx, e, nowUTC)
	}

	result.Queued = created
	result.Message = fmt.Sprintf("queued %d leads for %s, %d conflicts", created, targetDate, len(result.Conflicts))
	return result, nil
}

// BulkDequeue removes active queue entries for the given leads and returns
// them to the pending pool.
func (s *Service) BulkDequeue(ctx context.Context, leadIDs []uuid.UUID) (BulkResult, error) {
	removed, err := s.entries.RemoveByLeads(ctx, leadIDs)
	if err != nil {
		return BulkResult{}, fmt.Errorf("admission: remove entries: %w", err)
	}

	for _, leadID := range leadIDs {
		if err := s.leads.SetState(ctx, leadID, domain.LeadStateQueued, domain.LeadStatePending); err != nil {
			if !apperrors.Is(err, repository.ErrConflict) && !apperrors.Is(err, repository.ErrNotFound) {
				s.logger.Warn("admission: reset lead state", zap.String("lead_id", leadID.String()), zap.Error(err))
			}
		}
	}

	return BulkResult{
		Removed: removed,
		Message: fmt.Sprintf("removed %d queue entries", removed),
	}, nil
}

// BulkSchedule moves queue entries for the given leads to date, normalized to
// the next business day when date is not one.
func (s *Service) BulkSchedule(ctx context.Context, userID string, leadIDs []uuid.UUID, date domain.Date, now time.Time) (BulkResult, error) {
	cfg, err := s.settings.Get(ctx, userID)
	if err != nil {
		return BulkResult{}, fmt.Errorf("admission: resolve settings: %w", err)
	}

	target := date
	if !calendar.IsBusinessDay(target, cfg.Calendar) {
		target, _ = calendar.NextBusinessDay(target, cfg.Calendar)
	}

	moved, err := s.entries.RescheduleByLeads(ctx, leadIDs, target)
	if err != nil {
		return BulkResult{}, fmt.Errorf("admission: reschedule entries: %w", err)
	}

	return BulkResult{
		Queued:  moved,
		Message: fmt.Sprintf("rescheduled %d entries to %s", moved, target),
	}, nil
}

func (s *Service) resolveTargetDate(cal domain.CalendarConfig, now time.Time, forDate *domain.Date) (domain.Date, bool) {
	if forDate != nil {
		if calendar.IsBusinessDay(*forDate, cal) {
			return *forDate, false
		}
		return calendar.NextBusinessDay(*forDate, cal)
	}
	return calendar.NextBusinessDay(domain.DateOf(now.In(cal.BusinessHours.Location())), cal)
}

func (s *Service) publishAdmission(ctx context.Context, e *domain.QueueEntry, at time.Time) {
	if s.transitions == nil {
		return
	}
	msg := queue.TransitionMessage{
		EntryID:    e.ID,
		LeadID:     e.LeadID,
		To:         domain.QueueStateQueued,
		OccurredAt: at,
	}
	if err := s.transitions.PublishTransition(ctx, msg); err != nil {
		s.logger.Warn("admission: publish transition", zap.String("entry_id", e.ID.String()), zap.Error(err))
	}
}

// orderByPriority sorts candidates by descending priority weight, preserving
// FIFO order within equal weights.
func orderByPriority(leads []*domain.Lead, weights map[domain.LeadClass]int) {
	sort.SliceStable(leads, func(i, j int) bool {
		return priorityFor(leads[i].Class, weights) > priorityFor(leads[j].Class, weights)
	})
}

func priorityFor(class domain.LeadClass, weights map[domain.LeadClass]int) int {
	if w, ok := weights[class]; ok {
		return w
	}
	return 1
}
