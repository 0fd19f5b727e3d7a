package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tintbook/internal/models"

	sq "github.com/Masterminds/squirrel"
)

var appointmentColumns = []string{
	"id", "staff_id", "date", "start_time", "duration_hours", "service_ids",
	"customer_name", "customer_phone", "notes", "status", "created_at", "updated_at", "version",
}

func (db *DB) CreateAppointment(ctx context.Context, a *models.Appointment) error {
	services, err := json.Marshal(a.ServiceIDs)
	if err != nil {
		return fmt.Errorf("failed to encode service ids: %w", err)
	}
	if a.ServiceIDs == nil {
		services = []byte("[]")
	}

	query := `INSERT INTO appointments (
				id, staff_id, date, start_time, duration_hours, service_ids,
				customer_name, customer_phone, notes, status, created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	_, err = db.ExecContext(ctx, query,
		a.ID,
		a.StaffID,
		a.Date,
		a.StartTime,
		a.DurationHours,
		string(services),
		a.CustomerName,
		a.CustomerPhone,
		a.Notes,
		a.Status,
		now,
		now,
		1,
	)
	if err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}

	a.CreatedAt = now
	a.UpdatedAt = now
	a.Version = 1
	return nil
}

func (db *DB) GetAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	query, args, err := builder().Select(appointmentColumns...).From("appointments").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}

	a, err := scanAppointment(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	return a, nil
}

func (db *DB) ListAppointmentsByDate(ctx context.Context, date string) ([]*models.Appointment, error) {
	query, args, err := builder().
		Select(appointmentColumns...).
		From("appointments").
		Where(sq.Eq{"date": date}).
		OrderBy("staff_id ASC", "created_at ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	defer rows.Close()

	var out []*models.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan appointment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (db *DB) UpdateAppointmentStatusWithVersion(ctx context.Context, id string, version int64, status string) error {
	query := `UPDATE appointments SET status = ?, updated_at = ?, version = version + 1 WHERE id = ? AND version = ?`
	res, err := db.ExecContext(ctx, query, status, time.Now(), id, version)
	if err != nil {
		return fmt.Errorf("failed to update appointment status: %w", err)
	}
	return db.checkVersionedUpdate(ctx, res, id)
}

func (db *DB) RescheduleAppointmentWithVersion(ctx context.Context, id string, version int64, staffID, date, start string) error {
	query := `UPDATE appointments
              SET staff_id = ?, date = ?, start_time = ?, status = ?, updated_at = ?, version = version + 1
              WHERE id = ? AND version = ?`
	res, err := db.ExecContext(ctx, query, staffID, date, start, models.StatusBooked, time.Now(), id, version)
	if err != nil {
		return fmt.Errorf("failed to reschedule appointment: %w", err)
	}
	return db.checkVersionedUpdate(ctx, res, id)
}

// checkVersionedUpdate tells a stale version apart from a missing row.
func (db *DB) checkVersionedUpdate(ctx context.Context, res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists int
	err = db.QueryRowContext(ctx, `SELECT 1 FROM appointments WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRecordNotFound
	}
	if err != nil {
		return err
	}
	return ErrConcurrencyConflict
}

func scanAppointment(r rowScanner) (*models.Appointment, error) {
	var (
		a        models.Appointment
		services string
		notes    sql.NullString
	)
	if err := r.Scan(
		&a.ID, &a.StaffID, &a.Date, &a.StartTime, &a.DurationHours, &services,
		&a.CustomerName, &a.CustomerPhone, &notes, &a.Status, &a.CreatedAt, &a.UpdatedAt, &a.Version,
	); err != nil {
		return nil, err
	}
	a.Notes = notes.String
	if services != "" {
		if err := json.Unmarshal([]byte(services), &a.ServiceIDs); err != nil {
			return nil, fmt.Errorf("failed to decode service ids: %w", err)
		}
	}
	return &a, nil
}
