// Package scheduler runs the timer loop that fires queue preparation and
// batch processing at their configured minutes.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/lead-pipeline-scheduler/internal/app"
	"github.com/acme/lead-pipeline-scheduler/internal/domain"
)

// Scheduler drives the periodic automation for one user scope.
type Scheduler struct {
	container *app.Container
	lastTick  time.Time
}

// New constructs a scheduler.
func New(container *app.Container) *Scheduler {
	return &Scheduler{container: container}
}

// Run executes the scheduling loop until cancelled. A failed tick is logged
// and the loop continues.
func (s *Scheduler) Run(ctx context.Context) error {
	cfg := s.container.Config
	interval := cfg.Scheduler.TickInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.tick(ctx, time.Now()); err != nil && ctx.Err() == nil {
			s.container.Logger.Error("scheduler tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) error {
	services := s.container.Services()
	userID := s.container.Config.Scheduler.UserID

	tracer := otel.Tracer("leadsched.scheduler")
	sctx, span := tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	cfg, err := services.Settings.Get(sctx, userID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("scheduler: resolve settings: %w", err)
	}

	loc := cfg.Calendar.BusinessHours.Location()
	prev := s.lastTick
	s.lastTick = now
	if prev.IsZero() {
		prev = now.Add(-time.Minute)
	}

	local := now.In(loc)
	today := domain.DateOf(local)
	span.SetAttributes(attribute.String("tick.date", today.String()))

	if cfg.Automation.AutoQueuePreparation &&
		minuteCrossed(prev, now, cfg.Automation.QueuePreparationMinute, loc) {
		s.runPrepare(sctx, userID, today, now)
	}

	if cfg.Automation.AutoStartProcessing &&
		minuteOfDay(local) >= cfg.Automation.ProcessingStartMinute {
		s.runBatch(sctx, userID, today, local, now)
	}

	return nil
}

// runPrepare admits leads for the next business day, once per day across
// replicas.
func (s *Scheduler) runPrepare(ctx context.Context, userID string, today domain.Date, now time.Time) {
	logger := s.container.Logger
	lockName := fmt.Sprintf("prepare:%s", today)

	acquired, err := s.container.Lock().Acquire(ctx, lockName)
	if err != nil {
		logger.Warn("scheduler: prepare lock", zap.Error(err))
		return
	}
	if !acquired {
		logger.Debug("scheduler: queue preparation already claimed", zap.String("date", today.String()))
		return
	}

	result, err := s.container.Services().Admission.PrepareQueue(ctx, userID, now, nil)
	if err != nil {
		logger.Error("scheduler: prepare queue", zap.Error(err))
		return
	}
	logger.Info("scheduler: queue prepared",
		zap.String("target_date", result.TargetDate.String()),
		zap.Int("admitted", result.Admitted),
		zap.Int("quota", result.Quota),
		zap.Bool("saturated", result.Saturated))
}

// runBatch drains one batch per tick minute. The driver re-checks calendar and
// capacity itself, so extra firings are cheap no-ops.
func (s *Scheduler) runBatch(ctx context.Context, userID string, today domain.Date, local, now time.Time) {
	logger := s.container.Logger
	lockName := fmt.Sprintf("batch:%s:%d", today, minuteOfDay(local))

	acquired, err := s.container.Lock().Acquire(ctx, lockName)
	if err != nil {
		logger.Warn("scheduler: batch lock", zap.Error(err))
		return
	}
	if !acquired {
		return
	}

	result, err := s.container.Services().Processing.StartBatch(ctx, userID, now, false)
	if err != nil {
		logger.Error("scheduler: start batch", zap.Error(err))
		return
	}
	if result.Skipped {
		logger.Debug("scheduler: batch skipped", zap.String("reason", result.Message))
		return
	}
	logger.Info("scheduler: batch finished",
		zap.Int("attempted", result.Attempted),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("requeued", result.Requeued),
		zap.Int("dead_lettered", result.DeadLettered))
}

// minuteCrossed reports whether the given minute-of-day in loc falls inside
// (prev, now].
func minuteCrossed(prev, now time.Time, minute int, loc *time.Location) bool {
	local := now.In(loc)
	target := time.Date(local.Year(), local.Month(), local.Day(), minute/60, minute%60, 0, 0, loc)
	return prev.Before(target) && !now.Before(target)
}

func minuteOfDay(local time.Time) int {
	return local.Hour()*60 + local.Minute()
}
