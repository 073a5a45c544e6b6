package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/teacher-activity-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func approvalRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "type", "status", "natural_key", "request_data", "requested_by",
		"approved_by", "rejection_reason", "created_at", "approved_at", "rejected_at",
	})
}

func TestApprovalRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewApprovalRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO approval_requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	req := &models.ApprovalRequest{
		Type:        models.ApprovalTypeTimeSlot,
		NaturalKey:  "teacher-1|2026-03-02|slot-07-08",
		RequestData: []byte(`{"teacher_id":"teacher-1"}`),
		RequestedBy: "teacher-1",
	}
	require.NoError(t, repo.Create(context.Background(), req))
	require.NotEmpty(t, req.ID)
	require.Equal(t, models.ApprovalStatusPending, req.Status)

	rows := approvalRows().AddRow(req.ID, "TIME_SLOT", "PENDING", req.NaturalKey,
		`{"teacher_id":"teacher-1"}`, "teacher-1", nil, nil, time.Now(), nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, type, status, natural_key")).
		WithArgs(req.ID).
		WillReturnRows(rows)

	found, err := repo.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, req.NaturalKey, found.NaturalKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalRepositoryCreateDuplicatePending(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewApprovalRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO approval_requests")).
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.ApprovalRequest{
		Type:        models.ApprovalTypeBreakTiming,
		NaturalKey:  "teacher-1|2026-03-02",
		RequestData: []byte(`{}`),
		RequestedBy: "teacher-1",
	})
	require.ErrorIs(t, err, ErrDuplicatePending)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalRepositoryFindPendingNone(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewApprovalRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, type, status, natural_key")).
		WithArgs("TIME_SLOT", "teacher-1|2026-03-02|slot-07-08", "PENDING").
		WillReturnError(sql.ErrNoRows)

	found, err := repo.FindPending(context.Background(), models.ApprovalTypeTimeSlot, "teacher-1|2026-03-02|slot-07-08")
	require.NoError(t, err)
	require.Nil(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalRepositoryMarkApprovedGuard(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewApprovalRepository(db)
	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE approval_requests")).
		WithArgs("APPROVED", "verifier-1", at, "req-1", "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkApproved(context.Background(), "req-1", "verifier-1", at)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalRepositoryMarkRejectedSelfCancel(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewApprovalRepository(db)
	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE approval_requests")).
		WithArgs("REJECTED", nil, "slot deselected by teacher", at, "req-1", "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkRejected(context.Background(), "req-1", "", "slot deselected by teacher", at)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewApprovalRepository(db)
	rows := approvalRows().AddRow("req-1", "TIME_SLOT", "PENDING", "k",
		`{}`, "teacher-1", nil, nil, time.Now(), nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, type, status, natural_key")).
		WithArgs("PENDING", "TIME_SLOT").
		WillReturnRows(rows)

	list, err := repo.List(context.Background(), models.ApprovalFilter{
		Status: []models.ApprovalStatus{models.ApprovalStatusPending},
		Type:   models.ApprovalTypeTimeSlot,
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "req-1", list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
