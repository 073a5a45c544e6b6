package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/teacher-activity-api/internal/models"
	"github.com/noah-isme/teacher-activity-api/internal/repository"
	appErrors "github.com/noah-isme/teacher-activity-api/pkg/errors"
)

type unitLogStore interface {
	GetByUnitTeacher(ctx context.Context, unitID, teacherID string) (*models.UnitLog, error)
	FindInProgressBySubject(ctx context.Context, teacherID, subjectID, excludeUnitID string) (*models.UnitLogDetail, error)
	Create(ctx context.Context, log *models.UnitLog) error
	Update(ctx context.Context, log *models.UnitLog) error
	List(ctx context.Context, filter models.UnitLogFilter) ([]models.UnitLogDetail, error)
}

type unitDirectory interface {
	GetUnit(ctx context.Context, id string) (*models.Unit, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// UnitService drives the per-teacher unit lifecycle. The single-in-progress
// invariant is scoped per (teacher, subject): a teacher may run units of
// different subjects concurrently but never two units of the same subject.
type UnitService struct {
	logs      unitLogStore
	directory unitDirectory
	audit     auditLogger
	logger    *zap.Logger
}

// NewUnitService constructs the service.
func NewUnitService(logs unitLogStore, directory unitDirectory, audit auditLogger, logger *zap.Logger) *UnitService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UnitService{logs: logs, directory: directory, audit: audit, logger: logger}
}

// Start opens a unit for the teacher. A completed log is reopened in place,
// discarding the previous timing fields; history of earlier passes lives in
// the audit trail, not in the log row.
func (s *UnitService) Start(ctx context.Context, unitID, teacherID string) (*models.UnitLog, error) {
	unit, err := s.lookupUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureNoBlockingUnit(ctx, teacherID, unit.SubjectID, unitID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	log, err := s.logs.GetByUnitTeacher(ctx, unitID, teacherID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		log = &models.UnitLog{
			UnitID:    unitID,
			TeacherID: teacherID,
			SubjectID: unit.SubjectID,
			Status:    models.UnitStatusInProgress,
			StartTime: &now,
		}
		if err := s.logs.Create(ctx, log); err != nil {
			if errors.Is(err, repository.ErrDuplicateLog) {
				return nil, appErrors.Clone(appErrors.ErrConflict, "unit was started concurrently, retry the action")
			}
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("load unit log: %w", err)
	default:
		if log.Status == models.UnitStatusInProgress {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "unit is already in progress")
		}
		log.Status = models.UnitStatusInProgress
		log.StartTime = &now
		log.EndTime = nil
		log.TotalMinutes = nil
		if err := s.logs.Update(ctx, log); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrConflict, "unit log changed concurrently, retry the action")
			}
			return nil, err
		}
	}

	s.emitAudit(ctx, teacherID, models.AuditActionUnitStart, log.ID)
	return log, nil
}

// Complete closes an in-progress unit. The credited duration is derived
// server-side from the recorded start time.
func (s *UnitService) Complete(ctx context.Context, unitID, teacherID string) (*models.UnitLog, error) {
	log, err := s.logs.GetByUnitTeacher(ctx, unitID, teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "unit has not been started")
		}
		return nil, fmt.Errorf("load unit log: %w", err)
	}
	if log.Status != models.UnitStatusInProgress {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("cannot complete unit in status %s", log.Status))
	}

	now := time.Now().UTC()
	minutes := 0
	if log.StartTime != nil {
		minutes = int(now.Sub(*log.StartTime).Minutes())
		if minutes < 0 {
			minutes = 0
		}
	}
	log.Status = models.UnitStatusCompleted
	log.EndTime = &now
	log.TotalMinutes = &minutes
	if err := s.logs.Update(ctx, log); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "unit log changed concurrently, retry the action")
		}
		return nil, err
	}

	s.emitAudit(ctx, teacherID, models.AuditActionUnitComplete, log.ID)
	return log, nil
}

// List returns enriched unit logs for the filter.
func (s *UnitService) List(ctx context.Context, filter models.UnitLogFilter) ([]models.UnitLogDetail, error) {
	return s.logs.List(ctx, filter)
}

// EnsureStartable runs the start preconditions without mutating anything.
// Used at review-queue submit time so impossible requests never enter the
// queue.
func (s *UnitService) EnsureStartable(ctx context.Context, unitID, teacherID string) error {
	unit, err := s.lookupUnit(ctx, unitID)
	if err != nil {
		return err
	}
	if err := s.ensureNoBlockingUnit(ctx, teacherID, unit.SubjectID, unitID); err != nil {
		return err
	}
	log, err := s.logs.GetByUnitTeacher(ctx, unitID, teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("load unit log: %w", err)
	}
	if log.Status == models.UnitStatusInProgress {
		return appErrors.Clone(appErrors.ErrValidation, "no action needed: unit is already in progress")
	}
	return nil
}

// EnsureCompletable runs the complete preconditions without mutating anything.
func (s *UnitService) EnsureCompletable(ctx context.Context, unitID, teacherID string) error {
	log, err := s.logs.GetByUnitTeacher(ctx, unitID, teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrInvalidState, "unit has not been started")
		}
		return fmt.Errorf("load unit log: %w", err)
	}
	if log.Status != models.UnitStatusInProgress {
		return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("cannot complete unit in status %s", log.Status))
	}
	return nil
}

func (s *UnitService) lookupUnit(ctx context.Context, unitID string) (*models.Unit, error) {
	unit, err := s.directory.GetUnit(ctx, unitID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "unit not found")
		}
		return nil, fmt.Errorf("load unit: %w", err)
	}
	return unit, nil
}

func (s *UnitService) ensureNoBlockingUnit(ctx context.Context, teacherID, subjectID, unitID string) error {
	blocking, err := s.logs.FindInProgressBySubject(ctx, teacherID, subjectID, unitID)
	if err != nil {
		return err
	}
	if blocking != nil {
		return appErrors.Clone(appErrors.ErrConflict,
			fmt.Sprintf("another unit of %s is already in progress: %s", blocking.SubjectName, blocking.UnitName))
	}
	return nil
}

func (s *UnitService) emitAudit(ctx context.Context, userID, action, resourceID string) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "unit_log",
		ResourceID: &resourceID,
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}
