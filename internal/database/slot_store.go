package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tintbook/internal/models"
	"tintbook/internal/slots"

	sq "github.com/Masterminds/squirrel"
	"github.com/mattn/go-sqlite3"
)

var slotColumns = []string{
	"id", "staff_id", "date", "slots", "cleared_out", "version", "created_at", "updated_at",
}

const insertEmptySlots = `INSERT INTO staff_slots (staff_id, date, slots, cleared_out, version, created_at, updated_at)
              VALUES (?, ?, '[]', 0, 1, ?, ?)
              ON CONFLICT(staff_id, date) DO NOTHING`

// GetOrCreate makes sure every staff member has a record for date and returns them
// in staffIDs order. Concurrent first touches converge on one row per key.
func (db *DB) GetOrCreate(ctx context.Context, staffIDs []string, date string) ([]*models.StaffSlotRecord, error) {
	if len(staffIDs) == 0 {
		return nil, nil
	}

	now := time.Now()
	for _, id := range staffIDs {
		if _, err := db.ExecContext(ctx, insertEmptySlots, id, date, now, now); err != nil {
			return nil, fmt.Errorf("failed to create slot record %s/%s: %w", id, date, err)
		}
	}

	records, err := db.ListByDate(ctx, date, staffIDs...)
	if err != nil {
		return nil, err
	}

	byStaff := make(map[string]*models.StaffSlotRecord, len(records))
	for _, r := range records {
		byStaff[r.StaffID] = r
	}

	out := make([]*models.StaffSlotRecord, 0, len(staffIDs))
	for _, id := range staffIDs {
		if r, ok := byStaff[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (db *DB) Get(ctx context.Context, staffID, date string) (*models.StaffSlotRecord, error) {
	query, args, err := builder().
		Select(slotColumns...).
		From("staff_slots").
		Where(sq.Eq{"staff_id": staffID, "date": date}).
		ToSql()
	if err != nil {
		return nil, err
	}

	rec, err := scanSlotRecord(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get slot record: %w", err)
	}
	return rec, nil
}

// ListByDate returns the records of a date ordered by staff id, optionally
// restricted to staffIDs.
func (db *DB) ListByDate(ctx context.Context, date string, staffIDs ...string) ([]*models.StaffSlotRecord, error) {
	q := builder().
		Select(slotColumns...).
		From("staff_slots").
		Where(sq.Eq{"date": date}).
		OrderBy("staff_id ASC")
	if len(staffIDs) > 0 {
		q = q.Where(sq.Eq{"staff_id": staffIDs})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list slot records: %w", err)
	}
	defer rows.Close()

	var records []*models.StaffSlotRecord
	for rows.Next() {
		rec, err := scanSlotRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan slot record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Save persists record. Version 0 inserts; any other version is an optimistic
// update that fails with ErrConcurrencyConflict when the row moved on.
func (db *DB) Save(ctx context.Context, record *models.StaffSlotRecord) error {
	raw, err := encodeSlots(record.Taken())
	if err != nil {
		return err
	}
	now := time.Now()

	if record.Version == 0 {
		res, err := db.ExecContext(ctx, `INSERT INTO staff_slots (staff_id, date, slots, cleared_out, version, created_at, updated_at)
              VALUES (?, ?, ?, ?, 1, ?, ?)`,
			record.StaffID, record.Date, raw, record.ClearedOut, now, now)
		if err != nil {
			var sqliteErr sqlite3.Error
			if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
				return ErrConcurrencyConflict
			}
			return fmt.Errorf("failed to insert slot record: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		record.ID = id
		record.Version = 1
		record.CreatedAt = now
		record.UpdatedAt = now
		return nil
	}

	res, err := db.ExecContext(ctx, `UPDATE staff_slots
              SET slots = ?, cleared_out = ?, version = version + 1, updated_at = ?
              WHERE staff_id = ? AND date = ? AND version = ?`,
		raw, record.ClearedOut, now, record.StaffID, record.Date, record.Version)
	if err != nil {
		return fmt.Errorf("failed to update slot record: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrConcurrencyConflict
	}

	record.Version++
	record.UpdatedAt = now
	return nil
}

// ClearDay empties every record of date, creating missing ones for staffIDs,
// and flags them cleared out. Runs in one transaction.
func (db *DB) ClearDay(ctx context.Context, date string, staffIDs []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	for _, id := range staffIDs {
		if _, err := tx.ExecContext(ctx, insertEmptySlots, id, date, now, now); err != nil {
			return fmt.Errorf("failed to create slot record in tx: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE staff_slots
              SET slots = '[]', cleared_out = 1, version = version + 1, updated_at = ?
              WHERE date = ?`, now, date); err != nil {
		return fmt.Errorf("failed to clear day in tx: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clear day: %w", err)
	}

	db.logger.Info().Str("date", date).Int("staff", len(staffIDs)).Msg("Day cleared out")
	return nil
}

// ResetDay lifts the cleared-out flag of every record of date.
func (db *DB) ResetDay(ctx context.Context, date string) error {
	_, err := db.ExecContext(ctx, `UPDATE staff_slots
              SET cleared_out = 0, version = version + 1, updated_at = ?
              WHERE date = ? AND cleared_out = 1`, time.Now(), date)
	if err != nil {
		return fmt.Errorf("failed to reset day: %w", err)
	}
	return nil
}

func scanSlotRecord(r rowScanner) (*models.StaffSlotRecord, error) {
	var (
		rec models.StaffSlotRecord
		raw string
	)
	if err := r.Scan(&rec.ID, &rec.StaffID, &rec.Date, &raw, &rec.ClearedOut, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}

	set, err := decodeSlots(raw)
	if err != nil {
		return nil, err
	}
	rec.Slots = set
	return &rec, nil
}

func encodeSlots(s slots.Set) (string, error) {
	raw, err := json.Marshal(s.Items())
	if err != nil {
		return "", fmt.Errorf("failed to encode slots: %w", err)
	}
	return string(raw), nil
}

func decodeSlots(raw string) (slots.Set, error) {
	if raw == "" {
		return slots.NewSet(), nil
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("failed to decode slots: %w", err)
	}
	return slots.NewSet(items...), nil
}
