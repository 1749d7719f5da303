package domain

import (
	"time"
)

// CalendarConfig describes the business calendar. Immutable per evaluation.
type CalendarConfig struct {
	Enabled         bool              `json:"enabled"`
	WorkDays        []time.Weekday    `json:"work_days"`
	BusinessHours   BusinessHours     `json:"business_hours"`
	ExcludeHolidays bool              `json:"exclude_holidays"`
	Holidays        []Date            `json:"holidays"`
}

// BusinessHours is an inclusive daily window expressed in minutes of day.
type BusinessHours struct {
	StartMinute int    `json:"start_minute"`
	EndMinute   int    `json:"end_minute"`
	Timezone    string `json:"timezone"`
}

// Location resolves the configured timezone, defaulting to UTC.
func (h BusinessHours) Location() *time.Location {
	loc, err := time.LoadLocation(h.Timezone)
	if err != nil || loc == nil {
		return time.UTC
	}
	return loc
}

// IsWorkDay reports whether the weekday is an enabled work day.
func (c CalendarConfig) IsWorkDay(day time.Weekday) bool {
	for _, d := range c.WorkDays {
		if d == day {
			return true
		}
	}
	return false
}

// IsHoliday reports whether the date is in the holiday set.
func (c CalendarConfig) IsHoliday(date Date) bool {
	for _, h := range c.Holidays {
		if h == date {
			return true
		}
	}
	return false
}

// WeekendProcessing controls reduced weekend throughput.
type WeekendProcessing struct {
	Enabled        bool `json:"enabled"`
	ReducedPercent int  `json:"reduced_percent"`
}

// ProcessingTargets captures throughput goals and caps.
type ProcessingTargets struct {
	MonthlyTarget     int               `json:"monthly_target"`
	DailyTarget       int               `json:"daily_target"`
	DailyOverride     *int              `json:"daily_override,omitempty"`
	MaxDailyCapacity  int               `json:"max_daily_capacity"`
	WeekendProcessing WeekendProcessing `json:"weekend_processing"`
}

// AutomationConfig schedules the background operations.
type AutomationConfig struct {
	AutoQueuePreparation    bool `json:"auto_queue_preparation"`
	QueuePreparationMinute  int  `json:"queue_preparation_minute"`
	AutoStartProcessing     bool `json:"auto_start_processing"`
	ProcessingStartMinute   int  `json:"processing_start_minute"`
	PauseOnWeekends         bool `json:"pause_on_weekends"`
	PauseOnHolidays         bool `json:"pause_on_holidays"`
}

// AdvancedConfig tunes batching and retry behaviour.
type AdvancedConfig struct {
	PriorityWeights  map[LeadClass]int `json:"priority_weights"`
	BatchSize        int               `json:"batch_size"`
	ProcessingDelay  time.Duration     `json:"processing_delay"`
	RetryFailedLeads bool              `json:"retry_failed_leads"`
	MaxRetryAttempts int               `json:"max_retry_attempts"`
}

// Settings bundles all per-user scheduler configuration.
type Settings struct {
	Calendar   CalendarConfig    `json:"calendar"`
	Targets    ProcessingTargets `json:"targets"`
	Automation AutomationConfig  `json:"automation"`
	Advanced   AdvancedConfig    `json:"advanced"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// DefaultSettings returns the documented defaults applied when a user has no
// persisted settings: Mon-Fri 09:00-17:00, monthly target 1000, daily target 45,
// max capacity 200, batch size 10, 2 minute inter-item delay, 3 max retries.
func DefaultSettings() Settings {
	return Settings{
		Calendar: CalendarConfig{
			Enabled: true,
			WorkDays: []time.Weekday{
				time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
			},
			BusinessHours: BusinessHours{
				StartMinute: 9 * 60,
				EndMinute:   17 * 60,
				Timezone:    "UTC",
			},
			ExcludeHolidays: true,
		},
		Targets: ProcessingTargets{
			MonthlyTarget:    1000,
			DailyTarget:      45,
			MaxDailyCapacity: 200,
			WeekendProcessing: WeekendProcessing{
				Enabled:        false,
				ReducedPercent: 50,
			},
		},
		Automation: AutomationConfig{
			AutoQueuePreparation:   true,
			QueuePreparationMinute: 8 * 60,
			AutoStartProcessing:    true,
			ProcessingStartMinute:  9 * 60,
			PauseOnWeekends:        true,
			PauseOnHolidays:        true,
		},
		Advanced: AdvancedConfig{
			PriorityWeights: map[LeadClass]int{
				LeadClassHot:  10,
				LeadClassWarm: 5,
				LeadClassCold: 1,
			},
			BatchSize:        10,
			ProcessingDelay:  2 * time.Minute,
			RetryFailedLeads: true,
			MaxRetryAttempts: 3,
		},
	}
}
