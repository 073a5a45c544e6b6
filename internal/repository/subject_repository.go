package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/teacher-activity-api/internal/models"
)

// SubjectRepository reads the subject/unit/teacher directory. Full roster
// CRUD lives outside this service; workflows here only look records up and,
// for transfers, mutate ownership through AssignmentRepository.
type SubjectRepository struct {
	db *sqlx.DB
}

// NewSubjectRepository constructs the repository.
func NewSubjectRepository(db *sqlx.DB) *SubjectRepository {
	return &SubjectRepository{db: db}
}

// GetByID fetches a subject.
func (r *SubjectRepository) GetByID(ctx context.Context, id string) (*models.Subject, error) {
	const query = `SELECT id, name, teacher_id, created_at, updated_at FROM subjects WHERE id = $1`
	var subject models.Subject
	if err := r.db.GetContext(ctx, &subject, query, id); err != nil {
		return nil, err
	}
	return &subject, nil
}

// GetUnit fetches a unit.
func (r *SubjectRepository) GetUnit(ctx context.Context, id string) (*models.Unit, error) {
	const query = `SELECT id, subject_id, name, position, created_at FROM units WHERE id = $1`
	var unit models.Unit
	if err := r.db.GetContext(ctx, &unit, query, id); err != nil {
		return nil, err
	}
	return &unit, nil
}

// ListUnits returns a subject's units in curriculum order.
func (r *SubjectRepository) ListUnits(ctx context.Context, subjectID string) ([]models.Unit, error) {
	const query = `SELECT id, subject_id, name, position, created_at FROM units WHERE subject_id = $1 ORDER BY position ASC`
	var units []models.Unit
	if err := r.db.SelectContext(ctx, &units, query, subjectID); err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	return units, nil
}

// ListCompletedUnitIDs returns the unit ids a teacher has completed for a
// subject. Used to compute a transfer's remaining-unit set.
func (r *SubjectRepository) ListCompletedUnitIDs(ctx context.Context, subjectID, teacherID string) ([]string, error) {
	const query = `SELECT unit_id FROM unit_logs WHERE subject_id = $1 AND teacher_id = $2 AND status = $3`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, subjectID, teacherID, models.UnitStatusCompleted); err != nil {
		return nil, fmt.Errorf("list completed units: %w", err)
	}
	return ids, nil
}

// GetTeacher fetches a teacher directory record.
func (r *SubjectRepository) GetTeacher(ctx context.Context, id string) (*models.Teacher, error) {
	const query = `SELECT id, full_name, email, subject_ids, active, created_at, updated_at FROM teachers WHERE id = $1`
	var teacher models.Teacher
	if err := r.db.GetContext(ctx, &teacher, query, id); err != nil {
		return nil, err
	}
	return &teacher, nil
}
