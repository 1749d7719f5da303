package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/acme/lead-pipeline-scheduler/internal/domain"
	"github.com/acme/lead-pipeline-scheduler/internal/repository"
)

// StatsRepository maintains daily throughput counters.
type StatsRepository struct {
	db *sqlx.DB
}

// NewStatsRepository builds the repository.
func NewStatsRepository(db *sqlx.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// ApplyDelta applies counter deltas for one day, creating the row on first use.
func (r *StatsRepository) ApplyDelta(ctx context.Context, date domain.Date, delta repository.StatsDelta) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO daily_statistics (day, queued, processed, failed, duration_ms)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (day) DO UPDATE SET
			queued = daily_statistics.queued + EXCLUDED.queued,
			processed = daily_statistics.processed + EXCLUDED.processed,
			failed = daily_statistics.failed + EXCLUDED.failed,
			duration_ms = daily_statistics.duration_ms + EXCLUDED.duration_ms,
			updated_at = NOW()`,
		date.Time(time.UTC),
		delta.QueuedDelta,
		delta.ProcessedDelta,
		delta.FailedDelta,
		delta.DurationMsDelta,
	)
	if err != nil {
		return fmt.Errorf("daily stats: apply delta: %w", err)
	}
	return nil
}

// Range returns per-day stats between from and to inclusive, oldest first.
func (r *StatsRepository) Range(ctx context.Context, from, to domain.Date) ([]domain.DailyStat, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT day, queued, processed, failed, duration_ms
		FROM daily_statistics WHERE day >= $1 AND day <= $2 ORDER BY day ASC`,
		from.Time(time.UTC), to.Time(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("daily stats: range: %w", err)
	}
	defer rows.Close()

	var stats []domain.DailyStat
	for rows.Next() {
		var rec struct {
			Day        time.Time `db:"day"`
			Queued     int64     `db:"queued"`
			Processed  int64     `db:"processed"`
			Failed     int64     `db:"failed"`
			DurationMs int64     `db:"duration_ms"`
		}
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("daily stats: scan: %w", err)
		}

		stat := domain.DailyStat{
			Date:      domain.DateOf(rec.Day.UTC()),
			Queued:    rec.Queued,
			Processed: rec.Processed,
			Failed:    rec.Failed,
		}
		if completed := stat.Completed(); completed > 0 {
			stat.SuccessRate = float64(stat.Processed) / float64(completed) * 100
		}
		if stat.Processed > 0 {
			// durations are only recorded for delivered entries
			stat.AvgProcessingMs = rec.DurationMs / stat.Processed
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("daily stats: rows err: %w", err)
	}
	return stats, nil
}
