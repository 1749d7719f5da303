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

// LeadRepository implements repository.LeadRepository against Postgres.
type LeadRepository struct {
	db *sqlx.DB
}

// NewLeadRepository constructs the repository.
func NewLeadRepository(db *sqlx.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

type leadRecord struct {
	ID         uuid.UUID `db:"id"`
	Stage      string    `db:"stage"`
	State      string    `db:"processing_state"`
	Class      string    `db:"class"`
	RetryCount int       `db:"retry_count"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r leadRecord) toModel() *domain.Lead {
	return &domain.Lead{
		ID:         r.ID,
		Stage:      domain.LeadStage(r.Stage),
		State:      domain.LeadState(r.State),
		Class:      domain.LeadClass(r.Class),
		RetryCount: r.RetryCount,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

// Get fetches a single lead.
func (r *LeadRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT id, stage, processing_state, class, retry_count, created_at, updated_at
		FROM leads WHERE id = $1`, id)

	var rec leadRecord
	if err := row.StructScan(&rec); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("leads: get: %w", err)
	}
	return rec.toModel(), nil
}

// ListEligible returns leads in the given processing states, oldest first.
func (r *LeadRepository) ListEligible(ctx context.Context, states []domain.LeadState, limit int) ([]*domain.Lead, error) {
	if limit <= 0 {
		limit = 100
	}
	names := make([]string, 0, len(states))
	for _, s := range states {
		names = append(names, string(s))
	}

	query, args, err := sqlx.In(`SELECT id, stage, processing_state, class, retry_count, created_at, updated_at
		FROM leads WHERE processing_state IN (?) ORDER BY created_at ASC LIMIT ?`, names, limit)
	if err != nil {
		return nil, fmt.Errorf("leads: build query: %w", err)
	}
	query = r.db.Rebind(query)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("leads: list eligible: %w", err)
	}
	defer rows.Close()

	var leads []*domain.Lead
	for rows.Next() {
		var rec leadRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("leads: scan: %w", err)
		}
		leads = append(leads, rec.toModel())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leads: rows err: %w", err)
	}
	return leads, nil
}

// SetState performs a compare-and-swap on the processing state.
func (r *LeadRepository) SetState(ctx context.Context, id uuid.UUID, expected, next domain.LeadState) error {
	res, err := r.db.ExecContext(ctx, `UPDATE leads SET processing_state = $1, updated_at = NOW()
		WHERE id = $2 AND processing_state = $3`, string(next), id, string(expected))
	if err != nil {
		return fmt.Errorf("leads: set state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("leads: rows affected: %w", err)
	}
	if affected == 0 {
		return repository.ErrConflict
	}
	return nil
}

// IncrementRetry bumps the retry counter and returns the new value.
func (r *LeadRepository) IncrementRetry(ctx context.Context, id uuid.UUID) (int, error) {
	row := r.db.QueryRowxContext(ctx, `UPDATE leads SET retry_count = retry_count + 1, updated_at = NOW()
		WHERE id = $1 RETURNING retry_count`, id)

	var count int
	if err := row.Scan(&count); err != nil {
		if err == sql.ErrNoRows {
			return 0, repository.ErrNotFound
		}
		return 0, fmt.Errorf("leads: increment retry: %w", err)
	}
	return count, nil
}
