// Package settings serves validated scheduler configuration with a TTL cache
// and documented defaults for users who have never saved settings.
package settings

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/acme/lead-pipeline-scheduler/internal/domain"
	"github.com/acme/lead-pipeline-scheduler/internal/repository"
	apperrors "github.com/acme/lead-pipeline-scheduler/pkg/errors"
	"github.com/acme/lead-pipeline-scheduler/pkg/logger"
)

// Service resolves and updates per-user scheduler settings.
type Service struct {
	repo   repository.SettingsRepository
	cache  Cache
	logger *logger.Logger
}

// NewService constructs a settings service.
func NewService(repo repository.SettingsRepository, cache Cache, lg *logger.Logger) *Service {
	return &Service{repo: repo, cache: cache, logger: lg}
}

// Get resolves settings for a user: cache, then store, then defaults. A user
// without persisted settings gets the defaults written back; an unreachable
// store degrades to defaults without failing the caller.
func (s *Service) Get(ctx context.Context, userID string) (domain.Settings, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, userID); ok {
			return *cached, nil
		}
	}

	stored, err := s.repo.Get(ctx, userID)
	if err == nil {
		if s.cache != nil {
			s.cache.Set(ctx, userID, *stored)
		}
		return *stored, nil
	}

	defaults := domain.DefaultSettings()

	if apperrors.Is(err, repository.ErrNotFound) {
		if putErr := s.repo.Put(ctx, userID, defaults); putErr != nil {
			s.logger.Warn("settings: persist defaults failed", zap.String("user_id", userID), zap.Error(putErr))
		}
		if s.cache != nil {
			s.cache.Set(ctx, userID, defaults)
		}
		return defaults, nil
	}

	// store unavailable: serve defaults, do not cache them
	s.logger.Warn("settings: store read failed, using defaults", zap.String("user_id", userID), zap.Error(err))
	return defaults, nil
}

// Update validates and persists settings, then invalidates the cache.
func (s *Service) Update(ctx context.Context, userID string, settings domain.Settings) error {
	if err := Validate(settings); err != nil {
		return err
	}
	if err := s.repo.Put(ctx, userID, settings); err != nil {
		return fmt.Errorf("settings: update: %w", err)
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, userID)
	}
	return nil
}

// Validate rejects configurations the scheduler cannot operate under.
func Validate(s domain.Settings) error {
	if s.Calendar.Enabled && len(s.Calendar.WorkDays) == 0 {
		return fmt.Errorf("%w: at least one work day must be selected", apperrors.ErrValidation)
	}
	if h := s.Calendar.BusinessHours; h.StartMinute >= h.EndMinute {
		return fmt.Errorf("%w: business hours start must be before end", apperrors.ErrValidation)
	}
	if h := s.Calendar.BusinessHours; h.StartMinute < 0 || h.EndMinute >= 24*60 {
		return fmt.Errorf("%w: business hours must fall within one day", apperrors.ErrValidation)
	}
	if s.Targets.MonthlyTarget <= 0 {
		return fmt.Errorf("%w: monthly target must be positive", apperrors.ErrValidation)
	}
	if s.Targets.DailyTarget <= 0 {
		return fmt.Errorf("%w: daily target must be positive", apperrors.ErrValidation)
	}
	if s.Targets.MaxDailyCapacity < s.Targets.DailyTarget {
		return fmt.Errorf("%w: max daily capacity %d is below daily target %d",
			apperrors.ErrValidation, s.Targets.MaxDailyCapacity, s.Targets.DailyTarget)
	}
	if p := s.Targets.WeekendProcessing.ReducedPercent; p < 0 || p > 100 {
		return fmt.Errorf("%w: weekend reduced percent must be within 0..100", apperrors.ErrValidation)
	}
	if s.Advanced.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", apperrors.ErrValidation)
	}
	if s.Advanced.MaxRetryAttempts < 0 {
		return fmt.Errorf("%w: max retry attempts cannot be negative", apperrors.ErrValidation)
	}
	for class, weight := range s.Advanced.PriorityWeights {
		if weight < 1 || weight > 10 {
			return fmt.Errorf("%w: priority weight for %s must be within 1..10", apperrors.ErrValidation, class)
		}
	}
	return nil
}
