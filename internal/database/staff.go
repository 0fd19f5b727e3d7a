package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tintbook/internal/models"

	sq "github.com/Masterminds/squirrel"
)

var staffColumns = []string{
	"id", "name", "phone", "role", "can_take_appointments", "is_active", "created_at", "updated_at",
}

func (db *DB) UpsertStaff(ctx context.Context, staff *models.Staff) error {
	if staff == nil || staff.ID == "" {
		return fmt.Errorf("staff id is required")
	}
	role := staff.Role
	if role == "" {
		role = models.RoleStaff
	}

	query := `INSERT INTO staff (
				id, name, phone, role, can_take_appointments, is_active, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                name = excluded.name,
                phone = excluded.phone,
                role = excluded.role,
                can_take_appointments = excluded.can_take_appointments,
                is_active = excluded.is_active,
                updated_at = excluded.updated_at`
	now := time.Now()
	_, err := db.ExecContext(ctx, query,
		staff.ID,
		staff.Name,
		staff.Phone,
		role,
		staff.CanTakeAppointments,
		staff.IsActive,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert staff: %w", err)
	}
	staff.Role = role
	staff.UpdatedAt = now
	return nil
}

func (db *DB) GetStaff(ctx context.Context, id string) (*models.Staff, error) {
	query, args, err := builder().Select(staffColumns...).From("staff").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}

	s, err := scanStaff(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get staff: %w", err)
	}
	return s, nil
}

func (db *DB) ListStaff(ctx context.Context) ([]*models.Staff, error) {
	return db.queryStaff(ctx, builder().Select(staffColumns...).From("staff").OrderBy("id ASC"))
}

// ListStaffEligibleForAppointments returns active technicians allowed to take
// appointments, ordered by id.
func (db *DB) ListStaffEligibleForAppointments(ctx context.Context) ([]*models.Staff, error) {
	return db.queryStaff(ctx, builder().
		Select(staffColumns...).
		From("staff").
		Where(sq.Eq{
			"is_active":             true,
			"can_take_appointments": true,
			"role":                  models.RoleStaff,
		}).
		OrderBy("id ASC"))
}

func (db *DB) queryStaff(ctx context.Context, q sq.SelectBuilder) ([]*models.Staff, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list staff: %w", err)
	}
	defer rows.Close()

	var staff []*models.Staff
	for rows.Next() {
		s, err := scanStaff(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan staff: %w", err)
		}
		staff = append(staff, s)
	}
	return staff, rows.Err()
}

func scanStaff(r rowScanner) (*models.Staff, error) {
	var (
		s     models.Staff
		phone sql.NullString
	)
	if err := r.Scan(&s.ID, &s.Name, &phone, &s.Role, &s.CanTakeAppointments, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Phone = phone.String
	return &s, nil
}
