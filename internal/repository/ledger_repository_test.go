package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/teacher-activity-api/internal/models"
)

func ledgerRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "teacher_id", "date", "slots", "break_duration", "break_checked",
		"break_checked_at", "scheduled_slot_ids", "schedule_entries", "total_hours",
		"created_at", "updated_at",
	})
}

func TestLedgerRepositoryGetOrCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewLedgerRepository(db)
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO time_slot_ledgers")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	slots := `[{"slot_id":"slot-07-08","label":"07:00 - 08:00","duration_minutes":60,"checked":false}]`
	rows := ledgerRows().AddRow("ledger-1", "teacher-1", date, slots, 0, false,
		nil, `[]`, `[]`, 0.0, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, teacher_id, date, slots")).
		WithArgs("teacher-1", date).
		WillReturnRows(rows)

	ledger, err := repo.GetOrCreate(context.Background(), "teacher-1", date)
	require.NoError(t, err)
	require.Equal(t, "teacher-1", ledger.TeacherID)
	require.Len(t, ledger.Slots, 1)
	require.Equal(t, "slot-07-08", ledger.Slots[0].SlotID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryUpdateMissingRow(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewLedgerRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE time_slot_ledgers")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ledger := models.NewTimeSlotLedger("teacher-1", time.Now())
	ledger.ID = "ledger-1"
	err := repo.Update(context.Background(), ledger)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryListByTeacherRange(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewLedgerRepository(db)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

	rows := ledgerRows().
		AddRow("ledger-1", "teacher-1", from, `[]`, 0, false, nil, `[]`, `[]`, 0.0, time.Now(), time.Now()).
		AddRow("ledger-2", "teacher-1", from.AddDate(0, 0, 1), `[]`, 30, true, nil, `[]`, `[]`, 2.5, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, teacher_id, date, slots")).
		WithArgs("teacher-1", from, to).
		WillReturnRows(rows)

	ledgers, err := repo.ListByTeacherRange(context.Background(), "teacher-1", from, to)
	require.NoError(t, err)
	require.Len(t, ledgers, 2)
	require.InDelta(t, 2.5, ledgers[1].TotalHours, 0.001)
	require.NoError(t, mock.ExpectationsWereMet())
}
