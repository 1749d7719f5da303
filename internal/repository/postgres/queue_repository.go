package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/lead-pipeline-scheduler/internal/domain"
	"github.com/acme/lead-pipeline-scheduler/internal/repository"
)

// QueueRepository implements repository.QueueRepository against Postgres.
type QueueRepository struct {
	db *sqlx.DB
}

// NewQueueRepository constructs the repository.
func NewQueueRepository(db *sqlx.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

type queueRecord struct {
	ID            uuid.UUID `db:"id"`
	LeadID        uuid.UUID `db:"lead_id"`
	ScheduledFor  time.Time `db:"scheduled_for"`
	Priority      int       `db:"priority"`
	QueuePosition int       `db:"queue_position"`
	State         string    `db:"state"`
	Attempts      int       `db:"attempts"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r queueRecord) toModel() *domain.QueueEntry {
	return &domain.QueueEntry{
		ID:            r.ID,
		LeadID:        r.LeadID,
		ScheduledFor:  domain.DateOf(r.ScheduledFor.UTC()),
		Priority:      r.Priority,
		QueuePosition: r.QueuePosition,
		State:         domain.QueueState(r.State),
		Attempts:      r.Attempts,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// CreateEntries inserts a batch of entries inside one transaction, falling
// back to per-item inserts when the transaction fails. Returns the number of
// rows actually inserted; conflicting ids are skipped and not counted.
func (r *QueueRepository) CreateEntries(ctx context.Context, entries []*domain.QueueEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	query := `INSERT INTO queue_entries (
		id, lead_id, scheduled_for, priority, queue_position, state, attempts, created_at, updated_at
	) VALUES (:id, :lead_id, :scheduled_for, :priority, :queue_position, :state, :attempts, :created_at, :updated_at)
	ON CONFLICT (id) DO NOTHING`

	created := 0
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for _, e := range entries {
			res, err := tx.NamedExecContext(ctx, query, queueRow(e))
			if err != nil {
				return err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			created += int(affected)
		}
		return nil
	})
	if err == nil {
		return created, nil
	}

	// per-item fallback so that one bad row does not reject the batch
	created = 0
	var lastErr error
	for _, e := range entries {
		res, err := r.db.NamedExecContext(ctx, query, queueRow(e))
		if err != nil {
			lastErr = err
			continue
		}
		if affected, err := res.RowsAffected(); err == nil {
			created += int(affected)
		}
	}
	if created == 0 && lastErr != nil {
		return 0, fmt.Errorf("queue entries: insert: %w", lastErr)
	}
	return created, nil
}

func queueRow(e *domain.QueueEntry) map[string]any {
	return map[string]any{
		"id":             e.ID,
		"lead_id":        e.LeadID,
		"scheduled_for":  e.ScheduledFor.Time(time.UTC),
		"priority":       e.Priority,
		"queue_position": e.QueuePosition,
		"state":          string(e.State),
		"attempts":       e.Attempts,
		"created_at":     e.CreatedAt,
		"updated_at":     e.UpdatedAt,
	}
}

// CountForDate counts entries admitted for the given day, any state. Terminal
// entries still count against that day's quota.
func (r *QueueRepository) CountForDate(ctx context.Context, date domain.Date) (int, error) {
	var count int
	err := r.db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM queue_entries WHERE scheduled_for = $1`,
		date.Time(time.UTC)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("queue entries: count for date: %w", err)
	}
	return count, nil
}

// CountProcessedOn counts entries that reached a terminal state on the given day.
func (r *QueueRepository) CountProcessedOn(ctx context.Context, date domain.Date) (int, error) {
	var count int
	err := r.db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM queue_entries
		WHERE scheduled_for = $1 AND state IN ('sent', 'dead_lettered')`,
		date.Time(time.UTC)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("queue entries: count processed: %w", err)
	}
	return count, nil
}

// CountInFlightOn counts entries currently claimed for delivery on the given
// day. In-flight claims consume daily capacity before they reach a terminal
// state, so overlapping batches must account for them.
func (r *QueueRepository) CountInFlightOn(ctx context.Context, date domain.Date) (int, error) {
	var count int
	err := r.db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM queue_entries
		WHERE scheduled_for = $1 AND state = 'sending'`,
		date.Time(time.UTC)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("queue entries: count in flight: %w", err)
	}
	return count, nil
}

// CountByState counts entries in the given state across all days.
func (r *QueueRepository) CountByState(ctx context.Context, state domain.QueueState) (int, error) {
	var count int
	err := r.db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM queue_entries WHERE state = $1`,
		string(state)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("queue entries: count by state: %w", err)
	}
	return count, nil
}

// ListDue fetches queued entries scheduled on or before the given date, ordered
// by priority descending then queue position ascending.
func (r *QueueRepository) ListDue(ctx context.Context, until domain.Date, limit int) ([]*domain.QueueEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryxContext(ctx, `SELECT id, lead_id, scheduled_for, priority, queue_position, state, attempts, created_at, updated_at
		FROM queue_entries
		WHERE state = 'queued' AND scheduled_for <= $1
		ORDER BY priority DESC, queue_position ASC
		LIMIT $2`, until.Time(time.UTC), limit)
	if err != nil {
		return nil, fmt.Errorf("queue entries: list due: %w", err)
	}
	defer rows.Close()

	var entries []*domain.QueueEntry
	for rows.Next() {
		var rec queueRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("queue entries: scan: %w", err)
		}
		entries = append(entries, rec.toModel())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue entries: rows err: %w", err)
	}
	return entries, nil
}

// Transition performs a compare-and-swap on the entry state.
func (r *QueueRepository) Transition(ctx context.Context, id uuid.UUID, expected, next domain.QueueState) error {
	res, err := r.db.ExecContext(ctx, `UPDATE queue_entries SET state = $1, updated_at = NOW()
		WHERE id = $2 AND state = $3`, string(next), id, string(expected))
	if err != nil {
		return fmt.Errorf("queue entries: transition: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("queue entries: rows affected: %w", err)
	}
	if affected == 0 {
		return repository.ErrConflict
	}
	return nil
}

// IncrementAttempts bumps the attempt counter and returns the new value.
func (r *QueueRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	row := r.db.QueryRowxContext(ctx, `UPDATE queue_entries SET attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1 RETURNING attempts`, id)

	var attempts int
	if err := row.Scan(&attempts); err != nil {
		if err == sql.ErrNoRows {
			return 0, repository.ErrNotFound
		}
		return 0, fmt.Errorf("queue entries: increment attempts: %w", err)
	}
	return attempts, nil
}

// ActiveByLeads maps lead ids to their active (non-terminal) entry id.
func (r *QueueRepository) ActiveByLeads(ctx context.Context, leadIDs []uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	result := make(map[uuid.UUID]uuid.UUID)
	if len(leadIDs) == 0 {
		return result, nil
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT id, lead_id FROM queue_entries
		WHERE lead_id = ANY($1) AND state IN ('queued', 'sending', 'failed')`, leadIDs)
	if err != nil {
		return nil, fmt.Errorf("queue entries: active by leads: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, leadID uuid.UUID
		if err := rows.Scan(&id, &leadID); err != nil {
			return nil, fmt.Errorf("queue entries: scan: %w", err)
		}
		result[leadID] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue entries: rows err: %w", err)
	}
	return result, nil
}

// RemoveByLeads deletes non-terminal entries for the given leads.
func (r *QueueRepository) RemoveByLeads(ctx context.Context, leadIDs []uuid.UUID) (int, error) {
	if len(leadIDs) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM queue_entries
		WHERE lead_id = ANY($1) AND state IN ('queued', 'sending', 'failed')`, leadIDs)
	if err != nil {
		return 0, fmt.Errorf("queue entries: remove by leads: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("queue entries: rows affected: %w", err)
	}
	return int(affected), nil
}

// RescheduleByLeads moves non-terminal entries for the given leads to date.
func (r *QueueRepository) RescheduleByLeads(ctx context.Context, leadIDs []uuid.UUID, date domain.Date) (int, error) {
	if len(leadIDs) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `UPDATE queue_entries SET scheduled_for = $1, updated_at = NOW()
		WHERE lead_id = ANY($2) AND state IN ('queued', 'failed')`, date.Time(time.UTC), leadIDs)
	if err != nil {
		return 0, fmt.Errorf("queue entries: reschedule: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("queue entries: rows affected: %w", err)
	}
	return int(affected), nil
}

// RequeueStale returns sending entries not touched since before back to the
// queue. Covers claims orphaned by a crash between the claim and the terminal
// transition.
func (r *QueueRepository) RequeueStale(ctx context.Context, before time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE queue_entries SET state = 'queued', updated_at = NOW()
		WHERE state = 'sending' AND updated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("queue entries: requeue stale: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("queue entries: rows affected: %w", err)
	}
	return int(affected), nil
}

// MaxPositionForDate returns the highest queue position already assigned for a day.
func (r *QueueRepository) MaxPositionForDate(ctx context.Context, date domain.Date) (int, error) {
	var pos sql.NullInt64
	err := r.db.QueryRowxContext(ctx, `SELECT MAX(queue_position) FROM queue_entries WHERE scheduled_for = $1`,
		date.Time(time.UTC)).Scan(&pos)
	if err != nil {
		return 0, fmt.Errorf("queue entries: max position: %w", err)
	}
	if !pos.Valid {
		return 0, nil
	}
	return int(pos.Int64), nil
}
