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

// ErrActiveAssignment signals a non-terminal assignment already exists for
// the subject; only one transfer may be in flight at a time.
var ErrActiveAssignment = fmt.Errorf("active assignment already exists for subject")

// AssignmentRepository persists subject transfer workflow records.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository constructs the repository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

const assignmentColumns = `id, subject_id, from_teacher_id, to_teacher_id, remaining_units, reason, status,
       admin_decided_by, admin_decided_at, recipient_decided_at, rejection_reason, created_at, updated_at`

// Create inserts a new pending assignment. A partial unique index on
// subject_id WHERE status IN ('PENDING','ADMIN_APPROVED') enforces the
// one-in-flight invariant under concurrent requests.
func (r *AssignmentRepository) Create(ctx context.Context, assignment *models.SubjectAssignment) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	if assignment.Status == "" {
		assignment.Status = models.AssignmentStatusPending
	}
	now := time.Now().UTC()
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = now
	}
	assignment.UpdatedAt = now
	const query = `INSERT INTO subject_assignments
	(id, subject_id, from_teacher_id, to_teacher_id, remaining_units, reason, status, admin_decided_by, admin_decided_at, recipient_decided_at, rejection_reason, created_at, updated_at)
	VALUES (:id, :subject_id, :from_teacher_id, :to_teacher_id, :remaining_units, :reason, :status, :admin_decided_by, :admin_decided_at, :recipient_decided_at, :rejection_reason, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, assignment); err != nil {
		if isUniqueViolation(err) {
			return ErrActiveAssignment
		}
		return fmt.Errorf("create assignment: %w", err)
	}
	return nil
}

// GetByID fetches an assignment by identifier.
func (r *AssignmentRepository) GetByID(ctx context.Context, id string) (*models.SubjectAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM subject_assignments WHERE id = $1`
	var assignment models.SubjectAssignment
	if err := r.db.GetContext(ctx, &assignment, query, id); err != nil {
		return nil, err
	}
	return &assignment, nil
}

// List returns assignments matching the filter (latest first).
func (r *AssignmentRepository) List(ctx context.Context, filter models.AssignmentFilter) ([]models.SubjectAssignment, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(`SELECT ` + assignmentColumns + ` FROM subject_assignments`)

	conditions := make([]string, 0, 3)
	if filter.SubjectID != "" {
		args = append(args, filter.SubjectID)
		conditions = append(conditions, fmt.Sprintf("subject_id = $%d", len(args)))
	}
	if filter.ToTeacherID != "" {
		args = append(args, filter.ToTeacherID)
		conditions = append(conditions, fmt.Sprintf("to_teacher_id = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
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

	var assignments []models.SubjectAssignment
	if err := r.db.SelectContext(ctx, &assignments, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return assignments, nil
}

// FindActiveBySubject returns the non-terminal assignment for a subject, or
// nil when none is in flight.
func (r *AssignmentRepository) FindActiveBySubject(ctx context.Context, subjectID string) (*models.SubjectAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM subject_assignments
	WHERE subject_id = $1 AND status IN ($2, $3)`
	var assignment models.SubjectAssignment
	err := r.db.GetContext(ctx, &assignment, query, subjectID, models.AssignmentStatusPending, models.AssignmentStatusAdminApproved)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find active assignment: %w", err)
	}
	return &assignment, nil
}

// AdminApprove transitions pending -> admin_approved. No data moves yet;
// the recipient keeps final veto. Zero affected rows means the assignment
// already left the pending state.
func (r *AssignmentRepository) AdminApprove(ctx context.Context, id, adminID string, at time.Time) error {
	const query = `UPDATE subject_assignments
	SET status = $1, admin_decided_by = $2, admin_decided_at = $3, updated_at = $3
	WHERE id = $4 AND status = $5`
	result, err := r.db.ExecContext(ctx, query, models.AssignmentStatusAdminApproved, adminID, at, id, models.AssignmentStatusPending)
	if err != nil {
		return fmt.Errorf("admin approve assignment: %w", err)
	}
	return requireRow(result)
}

// Reject terminates the workflow at either stage with a reason.
func (r *AssignmentRepository) Reject(ctx context.Context, id, deciderID, reason string, fromStatus models.AssignmentStatus, at time.Time) error {
	const query = `UPDATE subject_assignments
	SET status = $1, rejection_reason = $2, admin_decided_by = COALESCE(admin_decided_by, $3), updated_at = $4
	WHERE id = $5 AND status = $6`
	result, err := r.db.ExecContext(ctx, query, models.AssignmentStatusRejected, reason, deciderID, at, id, fromStatus)
	if err != nil {
		return fmt.Errorf("reject assignment: %w", err)
	}
	return requireRow(result)
}

// AcceptTransfer runs the recipient acceptance as one transaction:
// assignment admin_approved -> approved, subject ownership reassignment,
// teacher subject-set updates, re-parenting of open unit logs, and creation
// of missing not-started logs for the recipient. The subject row is updated
// first so an interrupted sequence still leaves a single authoritative owner.
func (r *AssignmentRepository) AcceptTransfer(ctx context.Context, assignment *models.SubjectAssignment, at time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transfer: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			tx.Rollback() //nolint:errcheck
		}
	}()

	result, err := tx.ExecContext(ctx,
		`UPDATE subject_assignments SET status = $1, recipient_decided_at = $2, updated_at = $2 WHERE id = $3 AND status = $4`,
		models.AssignmentStatusApproved, at, assignment.ID, models.AssignmentStatusAdminApproved)
	if err != nil {
		return fmt.Errorf("accept assignment: %w", err)
	}
	if err := requireRow(result); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE subjects SET teacher_id = $1, updated_at = $2 WHERE id = $3`,
		assignment.ToTeacherID, at, assignment.SubjectID); err != nil {
		return fmt.Errorf("reassign subject owner: %w", err)
	}

	if assignment.FromTeacherID != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE teachers SET subject_ids = subject_ids - $1, updated_at = $2 WHERE id = $3`,
			assignment.SubjectID, at, *assignment.FromTeacherID); err != nil {
			return fmt.Errorf("remove subject from source teacher: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE teachers SET subject_ids = subject_ids || to_jsonb($1::text), updated_at = $2
		 WHERE id = $3 AND NOT subject_ids @> to_jsonb($1::text)`,
		assignment.SubjectID, at, assignment.ToTeacherID); err != nil {
		return fmt.Errorf("add subject to recipient teacher: %w", err)
	}

	if assignment.FromTeacherID != nil && len(assignment.RemainingUnits) > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE unit_logs SET teacher_id = $1, updated_at = $2
			 WHERE teacher_id = $3 AND subject_id = $4 AND status <> $5
			   AND unit_id IN (SELECT value FROM jsonb_array_elements_text($6::jsonb))`,
			assignment.ToTeacherID, at, *assignment.FromTeacherID, assignment.SubjectID,
			models.UnitStatusCompleted, assignment.RemainingUnits); err != nil {
			return fmt.Errorf("reparent unit logs: %w", err)
		}
	}

	for _, unitID := range assignment.RemainingUnits {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO unit_logs (id, unit_id, teacher_id, subject_id, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $6)
			 ON CONFLICT (unit_id, teacher_id) DO NOTHING`,
			uuid.NewString(), unitID, assignment.ToTeacherID, assignment.SubjectID,
			models.UnitStatusNotStarted, at); err != nil {
			return fmt.Errorf("seed recipient unit log: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transfer: %w", err)
	}
	commit = true
	return nil
}
