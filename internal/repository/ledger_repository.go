package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/teacher-activity-api/internal/models"
)

// LedgerRepository persists per-teacher daily time-slot ledgers.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository constructs the repository.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const ledgerColumns = `id, teacher_id, date, slots, break_duration, break_checked, break_checked_at,
       scheduled_slot_ids, schedule_entries, total_hours, created_at, updated_at`

// GetOrCreate returns the ledger for (teacher, date), creating it lazily.
// The insert is an idempotent upsert so concurrent first reads never race:
// a losing writer simply falls through to the fetch.
func (r *LedgerRepository) GetOrCreate(ctx context.Context, teacherID string, date time.Time) (*models.TimeSlotLedger, error) {
	ledger := models.NewTimeSlotLedger(teacherID, date)
	ledger.ID = uuid.NewString()
	ledger.RecomputeTotalHours()
	now := time.Now().UTC()
	ledger.CreatedAt = now
	ledger.UpdatedAt = now

	const insert = `INSERT INTO time_slot_ledgers
	(id, teacher_id, date, slots, break_duration, break_checked, break_checked_at, scheduled_slot_ids, schedule_entries, total_hours, created_at, updated_at)
	VALUES (:id, :teacher_id, :date, :slots, :break_duration, :break_checked, :break_checked_at, :scheduled_slot_ids, :schedule_entries, :total_hours, :created_at, :updated_at)
	ON CONFLICT (teacher_id, date) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, insert, ledger); err != nil {
		return nil, fmt.Errorf("upsert ledger: %w", err)
	}

	return r.Get(ctx, teacherID, date)
}

// Get fetches the ledger for (teacher, date).
func (r *LedgerRepository) Get(ctx context.Context, teacherID string, date time.Time) (*models.TimeSlotLedger, error) {
	query := `SELECT ` + ledgerColumns + ` FROM time_slot_ledgers WHERE teacher_id = $1 AND date = $2`
	var ledger models.TimeSlotLedger
	if err := r.db.GetContext(ctx, &ledger, query, teacherID, date); err != nil {
		return nil, err
	}
	return &ledger, nil
}

// Update persists the full mutable state of a ledger.
func (r *LedgerRepository) Update(ctx context.Context, ledger *models.TimeSlotLedger) error {
	ledger.UpdatedAt = time.Now().UTC()
	const query = `UPDATE time_slot_ledgers SET
	slots = :slots,
	break_duration = :break_duration,
	break_checked = :break_checked,
	break_checked_at = :break_checked_at,
	scheduled_slot_ids = :scheduled_slot_ids,
	schedule_entries = :schedule_entries,
	total_hours = :total_hours,
	updated_at = :updated_at
	WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, ledger)
	if err != nil {
		return fmt.Errorf("update ledger: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check ledger update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListByTeacherRange returns ledgers for a teacher between two dates
// inclusive, ordered by date. Used by report exports.
func (r *LedgerRepository) ListByTeacherRange(ctx context.Context, teacherID string, from, to time.Time) ([]models.TimeSlotLedger, error) {
	query := `SELECT ` + ledgerColumns + ` FROM time_slot_ledgers
	WHERE teacher_id = $1 AND date >= $2 AND date <= $3
	ORDER BY date ASC`
	var ledgers []models.TimeSlotLedger
	if err := r.db.SelectContext(ctx, &ledgers, query, teacherID, from, to); err != nil {
		return nil, fmt.Errorf("list ledgers: %w", err)
	}
	return ledgers, nil
}
