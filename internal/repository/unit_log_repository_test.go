package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/teacher-activity-api/internal/models"
)

func TestUnitLogRepositoryCreateDuplicate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewUnitLogRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO unit_logs")).
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.UnitLog{
		UnitID:    "unit-1",
		TeacherID: "teacher-1",
		SubjectID: "subject-1",
		Status:    models.UnitStatusInProgress,
	})
	require.ErrorIs(t, err, ErrDuplicateLog)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitLogRepositoryFindInProgressNone(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewUnitLogRepository(db)
	mock.ExpectQuery("SELECT l.id, l.unit_id").
		WithArgs("teacher-1", "subject-1", "IN_PROGRESS", "unit-1").
		WillReturnError(sql.ErrNoRows)

	blocking, err := repo.FindInProgressBySubject(context.Background(), "teacher-1", "subject-1", "unit-1")
	require.NoError(t, err)
	require.Nil(t, blocking)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitLogRepositoryFindInProgressBlocking(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewUnitLogRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "unit_id", "teacher_id", "subject_id", "status", "start_time",
		"end_time", "total_minutes", "created_at", "updated_at", "unit_name", "subject_name",
	}).AddRow("log-1", "unit-2", "teacher-1", "subject-1", "IN_PROGRESS", now,
		nil, nil, now, now, "Fractions", "Mathematics")
	mock.ExpectQuery("SELECT l.id, l.unit_id").
		WithArgs("teacher-1", "subject-1", "IN_PROGRESS", "unit-1").
		WillReturnRows(rows)

	blocking, err := repo.FindInProgressBySubject(context.Background(), "teacher-1", "subject-1", "unit-1")
	require.NoError(t, err)
	require.NotNil(t, blocking)
	require.Equal(t, "Fractions", blocking.UnitName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitLogRepositoryUpdateMissingRow(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewUnitLogRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE unit_logs")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &models.UnitLog{ID: "log-1"})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
