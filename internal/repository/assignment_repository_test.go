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

func TestAssignmentRepositoryCreateActiveConflict(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAssignmentRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO subject_assignments")).
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.SubjectAssignment{
		SubjectID:   "subject-1",
		ToTeacherID: "teacher-2",
		Reason:      "maternity cover",
	})
	require.ErrorIs(t, err, ErrActiveAssignment)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentRepositoryAdminApproveGuard(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAssignmentRepository(db)
	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE subject_assignments")).
		WithArgs("ADMIN_APPROVED", "admin-1", at, "assign-1", "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.AdminApprove(context.Background(), "assign-1", "admin-1", at)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentRepositoryAcceptTransfer(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAssignmentRepository(db)
	from := "teacher-1"
	assignment := &models.SubjectAssignment{
		ID:             "assign-1",
		SubjectID:      "subject-1",
		FromTeacherID:  &from,
		ToTeacherID:    "teacher-2",
		RemainingUnits: models.StringList{"unit-3", "unit-4"},
		Status:         models.AssignmentStatusAdminApproved,
	}
	at := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE subject_assignments SET status")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE subjects SET teacher_id")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE teachers SET subject_ids = subject_ids - ")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE teachers SET subject_ids = subject_ids || ")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE unit_logs SET teacher_id")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO unit_logs")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO unit_logs")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.AcceptTransfer(context.Background(), assignment, at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentRepositoryAcceptTransferAlreadyDecided(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAssignmentRepository(db)
	assignment := &models.SubjectAssignment{
		ID:          "assign-1",
		SubjectID:   "subject-1",
		ToTeacherID: "teacher-2",
		Status:      models.AssignmentStatusAdminApproved,
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE subject_assignments SET status")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.AcceptTransfer(context.Background(), assignment, time.Now().UTC())
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentRepositoryFindActiveBySubjectNone(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAssignmentRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, subject_id, from_teacher_id")).
		WithArgs("subject-1", "PENDING", "ADMIN_APPROVED").
		WillReturnError(sql.ErrNoRows)

	active, err := repo.FindActiveBySubject(context.Background(), "subject-1")
	require.NoError(t, err)
	require.Nil(t, active)
	require.NoError(t, mock.ExpectationsWereMet())
}
