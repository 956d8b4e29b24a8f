package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sitevisit_backend/internal/visits/domain"
	"sitevisit_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const technicianNotFoundMsg = "technician not found"

const technicianColumns = `id, name, phone, email, active, daily_cap, assigned_today, last_assigned_at, created_at, updated_at`

func scanTechnician(row rowScanner) (*domain.Technician, error) {
	var t domain.Technician
	if err := row.Scan(
		&t.ID, &t.Name, &t.Phone, &t.Email, &t.Active, &t.DailyCap, &t.AssignedToday,
		&t.LastAssignedAt, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTechnician inserts a technician into the pool.
func (r *Repository) CreateTechnician(ctx context.Context, t *domain.Technician) error {
	query := `INSERT INTO technicians (` + technicianColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		t.ID, t.Name, t.Phone, t.Email, t.Active, t.DailyCap, t.AssignedToday,
		t.LastAssignedAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create technician: %w", err)
	}
	return nil
}

// GetTechnician retrieves a technician by ID
func (r *Repository) GetTechnician(ctx context.Context, id uuid.UUID) (*domain.Technician, error) {
	t, err := scanTechnician(r.pool.QueryRow(ctx, `SELECT `+technicianColumns+` FROM technicians WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(technicianNotFoundMsg)
		}
		return nil, fmt.Errorf("failed to get technician: %w", err)
	}
	return t, nil
}

// ListTechnicians lists the whole pool in rotation order.
func (r *Repository) ListTechnicians(ctx context.Context) ([]domain.Technician, error) {
	return r.queryTechnicians(ctx, `SELECT `+technicianColumns+` FROM technicians
		ORDER BY active DESC, last_assigned_at ASC NULLS FIRST, name ASC, id ASC`)
}

// ListEligible lists active technicians under their daily cap,
// least-recently-assigned first.
func (r *Repository) ListEligible(ctx context.Context) ([]domain.Technician, error) {
	return r.queryTechnicians(ctx, `SELECT `+technicianColumns+` FROM technicians
		WHERE active AND assigned_today < daily_cap
		ORDER BY last_assigned_at ASC NULLS FIRST, name ASC, id ASC`)
}

func (r *Repository) queryTechnicians(ctx context.Context, query string, args ...any) ([]domain.Technician, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list technicians: %w", err)
	}
	defer rows.Close()

	var techs []domain.Technician
	for rows.Next() {
		t, err := scanTechnician(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan technician: %w", err)
		}
		techs = append(techs, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return techs, nil
}

// SetTechnicianActive toggles whether a technician takes part in rotation.
func (r *Repository) SetTechnicianActive(ctx context.Context, id uuid.UUID, active bool, at time.Time) error {
	result, err := r.pool.Exec(ctx, `UPDATE technicians SET active = $2, updated_at = $3 WHERE id = $1`, id, active, at)
	if err != nil {
		return fmt.Errorf("failed to update technician: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound(technicianNotFoundMsg)
	}
	return nil
}

// ResetDailyCounters zeroes every technician's assigned-today counter.
func (r *Repository) ResetDailyCounters(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `UPDATE technicians SET assigned_today = 0, updated_at = now() WHERE assigned_today <> 0`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset technician counters: %w", err)
	}
	return result.RowsAffected(), nil
}
