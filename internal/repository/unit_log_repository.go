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

// ErrDuplicateLog signals a concurrent insert lost the unique (unit, teacher)
// race; callers should re-fetch and retry against current state.
var ErrDuplicateLog = fmt.Errorf("unit log already exists")

// UnitLogRepository persists curriculum-unit progress logs.
type UnitLogRepository struct {
	db *sqlx.DB
}

// NewUnitLogRepository constructs the repository.
func NewUnitLogRepository(db *sqlx.DB) *UnitLogRepository {
	return &UnitLogRepository{db: db}
}

const unitLogColumns = `id, unit_id, teacher_id, subject_id, status, start_time, end_time, total_minutes, created_at, updated_at`

// GetByUnitTeacher fetches the single log for (unit, teacher).
func (r *UnitLogRepository) GetByUnitTeacher(ctx context.Context, unitID, teacherID string) (*models.UnitLog, error) {
	query := `SELECT ` + unitLogColumns + ` FROM unit_logs WHERE unit_id = $1 AND teacher_id = $2`
	var log models.UnitLog
	if err := r.db.GetContext(ctx, &log, query, unitID, teacherID); err != nil {
		return nil, err
	}
	return &log, nil
}

// FindInProgressBySubject returns the in-progress log for (teacher, subject)
// excluding the named unit, enriched with the blocking unit's name, or nil.
func (r *UnitLogRepository) FindInProgressBySubject(ctx context.Context, teacherID, subjectID, excludeUnitID string) (*models.UnitLogDetail, error) {
	const query = `SELECT l.id, l.unit_id, l.teacher_id, l.subject_id, l.status, l.start_time, l.end_time, l.total_minutes,
       l.created_at, l.updated_at, u.name AS unit_name, s.name AS subject_name
	FROM unit_logs l
	JOIN units u ON u.id = l.unit_id
	JOIN subjects s ON s.id = l.subject_id
	WHERE l.teacher_id = $1 AND l.subject_id = $2 AND l.status = $3 AND l.unit_id <> $4
	LIMIT 1`
	var detail models.UnitLogDetail
	err := r.db.GetContext(ctx, &detail, query, teacherID, subjectID, models.UnitStatusInProgress, excludeUnitID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find in-progress log: %w", err)
	}
	return &detail, nil
}

// Create inserts a new log. The unique (unit, teacher) index converts a
// concurrent duplicate start into ErrDuplicateLog.
func (r *UnitLogRepository) Create(ctx context.Context, log *models.UnitLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if log.CreatedAt.IsZero() {
		log.CreatedAt = now
	}
	log.UpdatedAt = now
	const query = `INSERT INTO unit_logs
	(id, unit_id, teacher_id, subject_id, status, start_time, end_time, total_minutes, created_at, updated_at)
	VALUES (:id, :unit_id, :teacher_id, :subject_id, :status, :start_time, :end_time, :total_minutes, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateLog
		}
		return fmt.Errorf("create unit log: %w", err)
	}
	return nil
}

// Update persists the lifecycle fields of an existing log.
func (r *UnitLogRepository) Update(ctx context.Context, log *models.UnitLog) error {
	log.UpdatedAt = time.Now().UTC()
	const query = `UPDATE unit_logs SET
	status = :status,
	start_time = :start_time,
	end_time = :end_time,
	total_minutes = :total_minutes,
	updated_at = :updated_at
	WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, log)
	if err != nil {
		return fmt.Errorf("update unit log: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check unit log update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns logs matching the filter ordered by last update.
func (r *UnitLogRepository) List(ctx context.Context, filter models.UnitLogFilter) ([]models.UnitLogDetail, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(`SELECT l.id, l.unit_id, l.teacher_id, l.subject_id, l.status, l.start_time, l.end_time, l.total_minutes,
       l.created_at, l.updated_at, u.name AS unit_name, s.name AS subject_name
	FROM unit_logs l
	JOIN units u ON u.id = l.unit_id
	JOIN subjects s ON s.id = l.subject_id`)

	conditions := make([]string, 0, 3)
	if filter.TeacherID != "" {
		args = append(args, filter.TeacherID)
		conditions = append(conditions, fmt.Sprintf("l.teacher_id = $%d", len(args)))
	}
	if filter.SubjectID != "" {
		args = append(args, filter.SubjectID)
		conditions = append(conditions, fmt.Sprintf("l.subject_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("l.status = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY l.updated_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var logs []models.UnitLogDetail
	if err := r.db.SelectContext(ctx, &logs, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list unit logs: %w", err)
	}
	return logs, nil
}
