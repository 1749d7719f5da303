// Package quota converts monthly throughput goals into safe per-day admission
// quotas and produces planning recommendations.
package quota

import (
	"fmt"
	"math"
	"time"

	"github.com/acme/lead-pipeline-scheduler/internal/calendar"
	"github.com/acme/lead-pipeline-scheduler/internal/domain"
)

// DailyQuota resolves the admission quota for one calendar day. The result is
// always capped by MaxDailyCapacity; non-business days without weekend
// processing yield zero.
func DailyQuota(targets domain.ProcessingTargets, cfg domain.CalendarConfig, date domain.Date) int {
	cap := targets.MaxDailyCapacity

	if targets.DailyOverride != nil {
		return min(*targets.DailyOverride, cap)
	}

	weekday := date.Weekday()
	if (weekday == time.Saturday || weekday == time.Sunday) && targets.WeekendProcessing.Enabled {
		reduced := targets.DailyTarget * targets.WeekendProcessing.ReducedPercent / 100
		return min(reduced, cap)
	}

	if !calendar.IsBusinessDay(date, cfg) {
		return 0
	}

	return min(targets.DailyTarget, cap)
}

// Recommendation is the result of RecommendedDailyTarget.
type Recommendation struct {
	Target           int      `json:"target"`
	BusinessDays     int      `json:"business_days"`
	BufferDays       int      `json:"buffer_days"`
	FeasibilityScore int      `json:"feasibility_score"`
	Recommendations  []string `json:"recommendations"`
}

// RecommendedDailyTarget derives a daily target for a monthly goal, reserving a
// 10% buffer of business days for slippage.
func RecommendedDailyTarget(monthlyTarget int, cfg domain.CalendarConfig, year int, month time.Month, maxCapacity int) Recommendation {
	businessDays := calendar.BusinessDaysInMonth(year, month, cfg)
	bufferDays := businessDays / 10

	effectiveDays := businessDays - bufferDays
	if effectiveDays < 1 {
		effectiveDays = 1
	}

	target := int(math.Ceil(float64(monthlyTarget) / float64(effectiveDays)))

	rec := Recommendation{
		Target:           target,
		BusinessDays:     businessDays,
		BufferDays:       bufferDays,
		FeasibilityScore: feasibilityScore(target, maxCapacity),
	}

	if maxCapacity > 0 {
		utilization := float64(target) / float64(maxCapacity)
		switch {
		case utilization > 1.0:
			rec.Recommendations = append(rec.Recommendations,
				fmt.Sprintf("daily target %d exceeds capacity %d; reduce the monthly target or raise capacity", target, maxCapacity))
		case utilization <= 0.6:
			rec.Recommendations = append(rec.Recommendations,
				"capacity utilization is low; there is room to raise the monthly target")
		}
	}
	if bufferDays < 2 {
		rec.Recommendations = append(rec.Recommendations,
			"fewer than 2 buffer days this month; a single slow day can put the target at risk")
	}

	return rec
}

func feasibilityScore(target, maxCapacity int) int {
	if maxCapacity <= 0 {
		return 10
	}
	ratio := float64(target) / float64(maxCapacity)
	switch {
	case ratio <= 0.6:
		return 100
	case ratio <= 0.8:
		return 80
	case ratio <= 1.0:
		return 60
	case ratio <= 1.2:
		return 30
	default:
		return 10
	}
}

// ScheduleConstraints limits OptimizeWorkSchedule.
type ScheduleConstraints struct {
	RequireWeekends bool
}

// SchedulePlan is a proposed work-week layout for a monthly goal.
type SchedulePlan struct {
	WorkDays                 []time.Weekday `json:"work_days"`
	DailyTarget              int            `json:"daily_target"`
	WeekendTarget            int            `json:"weekend_target,omitempty"`
	ProjectedMonthlyCapacity int            `json:"projected_monthly_capacity"`
	UtilizationRate          float64        `json:"utilization_rate"`
	Recommendations          []string       `json:"recommendations"`
}

// weeksPerMonth approximates the average number of weeks in a month.
const weeksPerMonth = 4.33

// OptimizeWorkSchedule proposes a work-day layout that meets monthlyTarget
// within maxCapacity, expanding into weekends at half capacity when the
// five-day week is insufficient or weekends are mandated.
func OptimizeWorkSchedule(monthlyTarget, maxCapacity int, constraints ScheduleConstraints) SchedulePlan {
	workDays := []time.Weekday{
		time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
	}

	weekdayDays := int(math.Round(5 * weeksPerMonth))
	naiveDaily := int(math.Ceil(float64(monthlyTarget) / float64(weekdayDays)))

	plan := SchedulePlan{WorkDays: workDays, DailyTarget: naiveDaily}

	useWeekends := constraints.RequireWeekends || (maxCapacity > 0 && naiveDaily > maxCapacity)
	weekendDays := 0
	if useWeekends {
		plan.WorkDays = append(workDays, time.Saturday, time.Sunday)
		weekendDays = int(math.Round(2 * weeksPerMonth))

		// split the monthly goal 70/30 between weekdays and weekends, with
		// weekend days rated at half capacity
		plan.DailyTarget = int(math.Ceil(float64(monthlyTarget) * 0.7 / float64(weekdayDays)))
		plan.WeekendTarget = int(math.Ceil(float64(monthlyTarget) * 0.3 / float64(weekendDays)))
	}

	if maxCapacity > 0 && plan.DailyTarget > maxCapacity {
		plan.DailyTarget = maxCapacity
	}

	projected := float64(weekdayDays * plan.DailyTarget)
	if weekendDays > 0 {
		projected += float64(weekendDays) * float64(plan.DailyTarget) * 0.5
	}
	plan.ProjectedMonthlyCapacity = int(projected)

	if projected > 0 {
		plan.UtilizationRate = float64(monthlyTarget) / projected * 100
	}

	switch {
	case plan.UtilizationRate > 90:
		plan.Recommendations = append(plan.Recommendations,
			"projected utilization exceeds 90%; there is little headroom for failures or holidays")
	case plan.UtilizationRate > 0 && plan.UtilizationRate < 60:
		plan.Recommendations = append(plan.Recommendations,
			"projected utilization is below 60%; the schedule can absorb a higher monthly target")
	}

	return plan
}

// Projection is the result of TargetProjection.
type Projection struct {
	ProjectedCompletion int      `json:"projected_completion"`
	ProjectedPercent    float64  `json:"projected_percent"`
	OnTrack             bool     `json:"on_track"`
	RequiredDailyRate   float64  `json:"required_daily_rate"`
	CurrentDailyRate    float64  `json:"current_daily_rate"`
	Recommendations     []string `json:"recommendations"`
}

// TargetProjection extrapolates month-end completion from progress so far.
func TargetProjection(currentProgress, monthlyTarget int, cfg domain.CalendarConfig, maxCapacity int, now time.Time) Projection {
	today := domain.DateOf(now)
	daysElapsed := today.Day
	if daysElapsed < 1 {
		daysElapsed = 1
	}
	daysRemaining := domain.DaysInMonth(today.Year, today.Month) - today.Day

	businessRemaining := calendar.RemainingBusinessDaysInMonth(cfg, today)
	if businessRemaining < 1 {
		businessRemaining = 1
	}

	p := Projection{
		CurrentDailyRate:  float64(currentProgress) / float64(daysElapsed),
		RequiredDailyRate: float64(monthlyTarget-currentProgress) / float64(businessRemaining),
	}
	if p.RequiredDailyRate < 0 {
		p.RequiredDailyRate = 0
	}

	p.ProjectedCompletion = currentProgress + int(p.CurrentDailyRate*float64(daysRemaining))
	if monthlyTarget > 0 {
		p.ProjectedPercent = float64(p.ProjectedCompletion) / float64(monthlyTarget) * 100
	}
	p.OnTrack = float64(p.ProjectedCompletion) >= float64(monthlyTarget)*0.95

	if maxCapacity > 0 && p.RequiredDailyRate > float64(maxCapacity) {
		p.Recommendations = append(p.Recommendations,
			fmt.Sprintf("required daily rate %.0f exceeds capacity %d; the monthly target is no longer reachable", p.RequiredDailyRate, maxCapacity))
	}
	if !p.OnTrack && p.RequiredDailyRate > p.CurrentDailyRate {
		p.Recommendations = append(p.Recommendations,
			fmt.Sprintf("pace must rise from %.1f to %.1f per business day to hit the target", p.CurrentDailyRate, p.RequiredDailyRate))
	}

	return p
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
