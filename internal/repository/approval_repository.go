package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/teacher-activity-api/internal/models"
)

// ErrDuplicatePending signals a concurrent submit lost the partial-unique
// race on (type, natural_key); callers should re-fetch the pending record.
var ErrDuplicatePending = fmt.Errorf("pending approval already exists")

// ApprovalRepository persists the generic review queue.
type ApprovalRepository struct {
	db *sqlx.DB
}

// NewApprovalRepository constructs the repository.
func NewApprovalRepository(db *sqlx.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

const approvalColumns = `id, type, status, natural_key, request_data, requested_by, approved_by,
       rejection_reason, created_at, approved_at, rejected_at`

// Create inserts a new pending envelope. A partial unique index on
// (type, natural_key) WHERE status = 'PENDING' dedups concurrent submits.
func (r *ApprovalRepository) Create(ctx context.Context, req *models.ApprovalRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.ApprovalStatusPending
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO approval_requests
	(id, type, status, natural_key, request_data, requested_by, approved_by, rejection_reason, created_at, approved_at, rejected_at)
	VALUES (:id, :type, :status, :natural_key, :request_data, :requested_by, :approved_by, :rejection_reason, :created_at, :approved_at, :rejected_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePending
		}
		return fmt.Errorf("create approval request: %w", err)
	}
	return nil
}

// GetByID fetches an envelope by identifier.
func (r *ApprovalRepository) GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE id = $1`
	var req models.ApprovalRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// FindPending returns the pending envelope with the given natural key, or
// nil when none exists.
func (r *ApprovalRepository) FindPending(ctx context.Context, approvalType models.ApprovalType, naturalKey string) (*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests
	WHERE type = $1 AND natural_key = $2 AND status = $3`
	var req models.ApprovalRequest
	err := r.db.GetContext(ctx, &req, query, approvalType, naturalKey, models.ApprovalStatusPending)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find pending approval: %w", err)
	}
	return &req, nil
}

// List returns envelopes matching the filter (latest first).
func (r *ApprovalRepository) List(ctx context.Context, filter models.ApprovalFilter) ([]models.ApprovalRequest, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 5)
	builder.WriteString(`SELECT ` + approvalColumns + ` FROM approval_requests`)

	conditions := make([]string, 0, 3)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.RequestedBy != "" {
		args = append(args, filter.RequestedBy)
		conditions = append(conditions, fmt.Sprintf("requested_by = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var requests []models.ApprovalRequest
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list approval requests: %w", err)
	}
	return requests, nil
}

// MarkApproved transitions pending -> approved. The WHERE guard makes the
// transition race-safe: zero affected rows means another reviewer won.
func (r *ApprovalRepository) MarkApproved(ctx context.Context, id, approvedBy string, at time.Time) error {
	const query = `UPDATE approval_requests
	SET status = $1, approved_by = $2, approved_at = $3
	WHERE id = $4 AND status = $5`
	result, err := r.db.ExecContext(ctx, query, models.ApprovalStatusApproved, approvedBy, at, id, models.ApprovalStatusPending)
	if err != nil {
		return fmt.Errorf("approve request: %w", err)
	}
	return requireRow(result)
}

// MarkRejected transitions pending -> rejected with a reason. ReviewedBy is
// empty for implicit self-cancellations (teacher retracted the action).
func (r *ApprovalRepository) MarkRejected(ctx context.Context, id, reviewedBy, reason string, at time.Time) error {
	var approvedBy *string
	if reviewedBy != "" {
		approvedBy = &reviewedBy
	}
	const query = `UPDATE approval_requests
	SET status = $1, approved_by = $2, rejection_reason = $3, rejected_at = $4
	WHERE id = $5 AND status = $6`
	result, err := r.db.ExecContext(ctx, query, models.ApprovalStatusRejected, approvedBy, reason, at, id, models.ApprovalStatusPending)
	if err != nil {
		return fmt.Errorf("reject request: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check affected rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
