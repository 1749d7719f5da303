package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/acme/lead-pipeline-scheduler/internal/domain"
	"github.com/acme/lead-pipeline-scheduler/internal/repository"
)

// SettingsRepository persists scheduler settings as a JSON document per user.
type SettingsRepository struct {
	db *sqlx.DB
}

// NewSettingsRepository builds the repository.
func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get retrieves settings for a user.
func (r *SettingsRepository) Get(ctx context.Context, userID string) (*domain.Settings, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT payload, updated_at FROM scheduler_settings WHERE user_id = $1`, userID)

	var payload []byte
	var updatedAt time.Time
	if err := row.Scan(&payload, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("settings: get: %w", err)
	}

	var settings domain.Settings
	if err := json.Unmarshal(payload, &settings); err != nil {
		return nil, fmt.Errorf("settings: unmarshal: %w", err)
	}
	settings.UpdatedAt = updatedAt
	return &settings, nil
}

// Put upserts settings for a user.
func (r *SettingsRepository) Put(ctx context.Context, userID string, settings domain.Settings) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("settings: marshal: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO scheduler_settings (user_id, payload, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()`,
		userID, payload)
	if err != nil {
		return fmt.Errorf("settings: put: %w", err)
	}
	return nil
}
