// Package analytics derives throughput trends, bottleneck findings and
// operator insights from the daily statistics and live queue counters.
package analytics

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/acme/lead-pipeline-scheduler/internal/calendar"
	"github.com/acme/lead-pipeline-scheduler/internal/domain"
	"github.com/acme/lead-pipeline-scheduler/internal/repository"
	"github.com/acme/lead-pipeline-scheduler/pkg/logger"
)

const (
	// DefaultWindowDays is the trailing statistics window.
	DefaultWindowDays = 30

	trendWindow = 7

	highDepthThreshold    = 100
	afterHoursDepth       = 20
	lowSuccessRateCutoff  = 85.0
	relativeTrendBand     = 0.10
	successRatePointsBand = 5.0
)

// Direction labels a metric trend.
type Direction string

const (
	TrendIncreasing Direction = "increasing"
	TrendDecreasing Direction = "decreasing"
	TrendStable     Direction = "stable"
	TrendImproving  Direction = "improving"
	TrendDeclining  Direction = "declining"
)

// SettingsSource resolves scheduler settings for a user.
type SettingsSource interface {
	Get(ctx context.Context, userID string) (domain.Settings, error)
}

// Engine computes analytics over daily statistics and live queue state.
type Engine struct {
	stats    repository.StatsRepository
	entries  repository.QueueRepository
	settings SettingsSource
	logger   *logger.Logger
}

// NewEngine constructs an analytics engine.
func NewEngine(stats repository.StatsRepository, entries repository.QueueRepository, settings SettingsSource, lg *logger.Logger) *Engine {
	return &Engine{stats: stats, entries: entries, settings: settings, logger: lg}
}

// DailyStats returns the trailing window of per-day statistics, oldest first.
// windowDays <= 0 selects the default 30 day window.
func (e *Engine) DailyStats(ctx context.Context, now time.Time, windowDays int) ([]domain.DailyStat, error) {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	to := domain.DateOf(now.UTC())
	from := to.AddDays(-(windowDays - 1))

	stats, err := e.stats.Range(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("analytics: load daily stats: %w", err)
	}
	return stats, nil
}

// TrendReport compares the most recent seven days against the seven before.
type TrendReport struct {
	QueueDepth     Direction `json:"queue_depth"`
	ProcessingTime Direction `json:"processing_time"`
	SuccessRate    Direction `json:"success_rate"`
}

// Trends derives metric directions from a window of daily stats, oldest first.
// Volume metrics use a ±10% band around the prior mean; success rate uses a
// ±5 point band. Fewer than two full weeks of data reads as stable.
func Trends(stats []domain.DailyStat) TrendReport {
	report := TrendReport{
		QueueDepth:     TrendStable,
		ProcessingTime: TrendStable,
		SuccessRate:    TrendStable,
	}
	if len(stats) < 2*trendWindow {
		return report
	}

	recent := stats[len(stats)-trendWindow:]
	prior := stats[len(stats)-2*trendWindow : len(stats)-trendWindow]

	report.QueueDepth = relativeTrend(
		meanOf(recent, func(s domain.DailyStat) float64 { return float64(s.Queued) }),
		meanOf(prior, func(s domain.DailyStat) float64 { return float64(s.Queued) }),
	)
	report.ProcessingTime = relativeTrend(
		meanOf(recent, func(s domain.DailyStat) float64 { return float64(s.AvgProcessingMs) }),
		meanOf(prior, func(s domain.DailyStat) float64 { return float64(s.AvgProcessingMs) }),
	)

	recentRate := meanOf(recent, func(s domain.DailyStat) float64 { return s.SuccessRate })
	priorRate := meanOf(prior, func(s domain.DailyStat) float64 { return s.SuccessRate })
	switch {
	case recentRate > priorRate+successRatePointsBand:
		report.SuccessRate = TrendImproving
	case recentRate < priorRate-successRatePointsBand:
		report.SuccessRate = TrendDeclining
	}
	return report
}

func relativeTrend(recent, prior float64) Direction {
	if prior == 0 {
		if recent > 0 {
			return TrendIncreasing
		}
		return TrendStable
	}
	change := (recent - prior) / prior
	switch {
	case change > relativeTrendBand:
		return TrendIncreasing
	case change < -relativeTrendBand:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

func meanOf(stats []domain.DailyStat, metric func(domain.DailyStat) float64) float64 {
	if len(stats) == 0 {
		return 0
	}
	var sum float64
	for _, s := range stats {
		sum += metric(s)
	}
	return sum / float64(len(stats))
}

// Bottleneck names one detected processing constraint.
type Bottleneck struct {
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// Bottlenecks inspects the current queue state for known constraint patterns.
func Bottlenecks(queueDepth int, successRate float64, withinHours bool) []Bottleneck {
	var found []Bottleneck
	if queueDepth > highDepthThreshold {
		found = append(found, Bottleneck{
			Category:    "capacity",
			Severity:    "high",
			Description: fmt.Sprintf("queue depth %d exceeds %d; daily capacity cannot keep up with admissions", queueDepth, highDepthThreshold),
		})
	}
	if successRate > 0 && successRate < lowSuccessRateCutoff {
		found = append(found, Bottleneck{
			Category:    "error_rate",
			Severity:    "high",
			Description: fmt.Sprintf("success rate %.1f%% is below %.0f%%; deliveries are burning retry budget", successRate, lowSuccessRateCutoff),
		})
	}
	if !withinHours && queueDepth > afterHoursDepth {
		found = append(found, Bottleneck{
			Category:    "business_hours",
			Severity:    "medium",
			Description: fmt.Sprintf("%d entries are waiting outside business hours; they drain only when the window opens", queueDepth),
		})
	}
	return found
}

// Insight is an operator-facing narrative derived from the other analytics.
type Insight struct {
	Category   string `json:"category"`
	Message    string `json:"message"`
	Actionable bool   `json:"actionable"`
	Priority   string `json:"priority"`
}

// Insights turns trends and bottlenecks into prioritized narratives.
func Insights(trends TrendReport, bottlenecks []Bottleneck) []Insight {
	var insights []Insight

	for _, b := range bottlenecks {
		insights = append(insights, Insight{
			Category:   b.Category,
			Message:    b.Description,
			Actionable: true,
			Priority:   b.Severity,
		})
	}

	if trends.QueueDepth == TrendIncreasing {
		insights = append(insights, Insight{
			Category:   "capacity",
			Message:    "queue intake is growing week over week; consider raising the daily target or enabling weekend processing",
			Actionable: true,
			Priority:   "medium",
		})
	}
	if trends.SuccessRate == TrendDeclining {
		insights = append(insights, Insight{
			Category:   "error_rate",
			Message:    "delivery success rate is declining week over week; inspect recent provider failures",
			Actionable: true,
			Priority:   "high",
		})
	}
	if trends.ProcessingTime == TrendIncreasing {
		insights = append(insights, Insight{
			Category:   "latency",
			Message:    "average processing time is rising week over week",
			Actionable: false,
			Priority:   "low",
		})
	}
	if len(insights) == 0 {
		insights = append(insights, Insight{
			Category: "health",
			Message:  "throughput, success rate and processing time are all stable",
			Priority: "info",
		})
	}
	return insights
}

// Snapshot is the assembled dashboard view.
type Snapshot struct {
	QueueDepth          int          `json:"queue_depth"`
	SuccessRate         float64      `json:"success_rate"`
	WithinBusinessHours bool         `json:"within_business_hours"`
	Trends              TrendReport  `json:"trends"`
	Bottlenecks         []Bottleneck `json:"bottlenecks"`
	Insights            []Insight    `json:"insights"`
	GeneratedAt         time.Time    `json:"generated_at"`
}

// CurrentSnapshot assembles the live dashboard view. Statistics reads degrade
// to empty data when the store is unavailable; the snapshot is still served.
func (e *Engine) CurrentSnapshot(ctx context.Context, userID string, now time.Time) (Snapshot, error) {
	cfg, err := e.settings.Get(ctx, userID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("analytics: resolve settings: %w", err)
	}

	depth, err := e.entries.CountByState(ctx, domain.QueueStateQueued)
	if err != nil {
		return Snapshot{}, fmt.Errorf("analytics: queue depth: %w", err)
	}

	stats, err := e.DailyStats(ctx, now, DefaultWindowDays)
	if err != nil {
		e.logger.Warn("analytics: stats unavailable, serving snapshot without history", zap.Error(err))
		stats = nil
	}

	successRate := 0.0
	if len(stats) > 0 {
		tail := stats
		if len(tail) > trendWindow {
			tail = tail[len(tail)-trendWindow:]
		}
		successRate = meanOf(tail, func(s domain.DailyStat) float64 { return s.SuccessRate })
	}

	withinHours := calendar.IsBusinessDay(domain.DateOf(now.In(cfg.Calendar.BusinessHours.Location())), cfg.Calendar) &&
		calendar.IsWithinBusinessHours(cfg.Calendar, now)

	trends := Trends(stats)
	bottlenecks := Bottlenecks(depth, successRate, withinHours)

	return Snapshot{
		QueueDepth:          depth,
		SuccessRate:         successRate,
		WithinBusinessHours: withinHours,
		Trends:              trends,
		Bottlenecks:         bottlenecks,
		Insights:            Insights(trends, bottlenecks),
		GeneratedAt:         now.UTC(),
	}, nil
}
