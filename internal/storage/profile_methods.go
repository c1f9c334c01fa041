package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/camfleet/camfleet-server/internal/models"
)

// ========== Profile Methods ==========

// CreateProfile creates a new profile
func (s *PostgresStore) CreateProfile(ctx context.Context, profile *models.Profile) error {
	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
	}

	now := time.Now()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	query := `
		INSERT INTO profiles (id, created_at, updated_at, name, description, setting_values)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		profile.ID, profile.CreatedAt, profile.UpdatedAt,
		profile.Name, profile.Description, profile.SettingValues,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

// GetProfile gets a profile by ID
func (s *PostgresStore) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	query := `
		SELECT id, created_at, updated_at, name, description, setting_values
		FROM profiles
		WHERE id = $1`

	return s.scanProfile(s.db.QueryRowContext(ctx, query, id))
}

// GetProfileByName gets a profile by its unique name
func (s *PostgresStore) GetProfileByName(ctx context.Context, name string) (*models.Profile, error) {
	query := `
		SELECT id, created_at, updated_at, name, description, setting_values
		FROM profiles
		WHERE name = $1`

	return s.scanProfile(s.db.QueryRowContext(ctx, query, name))
}

func (s *PostgresStore) scanProfile(row *sql.Row) (*models.Profile, error) {
	profile := &models.Profile{}
	err := row.Scan(
		&profile.ID, &profile.CreatedAt, &profile.UpdatedAt,
		&profile.Name, &profile.Description, &profile.SettingValues,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	return profile, err
}

// UpdateProfile updates a profile
func (s *PostgresStore) UpdateProfile(ctx context.Context, profile *models.Profile) error {
	profile.UpdatedAt = time.Now()

	query := `
		UPDATE profiles SET
			updated_at = $2, name = $3, description = $4, setting_values = $5
		WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query,
		profile.ID, profile.UpdatedAt,
		profile.Name, profile.Description, profile.SettingValues,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteProfile deletes a profile
func (s *PostgresStore) DeleteProfile(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = $1`, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListProfiles lists profiles by name
func (s *PostgresStore) ListProfiles(ctx context.Context, limit, offset int) ([]*models.Profile, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, created_at, updated_at, name, description, setting_values
		FROM profiles
		ORDER BY name
		LIMIT $1 OFFSET $2`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var profiles []*models.Profile
	for rows.Next() {
		profile := &models.Profile{}
		if err := rows.Scan(
			&profile.ID, &profile.CreatedAt, &profile.UpdatedAt,
			&profile.Name, &profile.Description, &profile.SettingValues,
		); err != nil {
			return nil, 0, err
		}
		profiles = append(profiles, profile)
	}

	return profiles, total, rows.Err()
}

// ========== Batch Report Methods ==========

// SaveBatchReport inserts a settled batch result
func (s *PostgresStore) SaveBatchReport(ctx context.Context, result *models.BatchResult) error {
	query := `
		INSERT INTO batch_reports (id, kind, per_session, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			per_session = EXCLUDED.per_session,
			finished_at = EXCLUDED.finished_at`

	_, err := s.db.ExecContext(ctx, query,
		result.ID, result.Kind, result.PerSession, result.StartedAt, result.FinishedAt,
	)
	return err
}

// GetBatchReport gets a batch report by ID
func (s *PostgresStore) GetBatchReport(ctx context.Context, id uuid.UUID) (*models.BatchResult, error) {
	query := `
		SELECT id, kind, per_session, started_at, finished_at
		FROM batch_reports
		WHERE id = $1`

	result := &models.BatchResult{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&result.ID, &result.Kind, &result.PerSession, &result.StartedAt, &result.FinishedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	return result, err
}

// ListBatchReports lists batch reports, newest first
func (s *PostgresStore) ListBatchReports(ctx context.Context, limit, offset int) ([]*models.BatchResult, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM batch_reports`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, kind, per_session, started_at, finished_at
		FROM batch_reports
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []*models.BatchResult
	for rows.Next() {
		result := &models.BatchResult{}
		if err := rows.Scan(
			&result.ID, &result.Kind, &result.PerSession, &result.StartedAt, &result.FinishedAt,
		); err != nil {
			return nil, 0, err
		}
		results = append(results, result)
	}

	return results, total, rows.Err()
}
