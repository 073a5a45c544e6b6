package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/teacher-activity-api/internal/dto"
	"github.com/noah-isme/teacher-activity-api/internal/models"
	"github.com/noah-isme/teacher-activity-api/internal/repository"
	appErrors "github.com/noah-isme/teacher-activity-api/pkg/errors"
)

type assignmentStore interface {
	Create(ctx context.Context, assignment *models.SubjectAssignment) error
	GetByID(ctx context.Context, id string) (*models.SubjectAssignment, error)
	List(ctx context.Context, filter models.AssignmentFilter) ([]models.SubjectAssignment, error)
	FindActiveBySubject(ctx context.Context, subjectID string) (*models.SubjectAssignment, error)
	AdminApprove(ctx context.Context, id, adminID string, at time.Time) error
	Reject(ctx context.Context, id, deciderID, reason string, fromStatus models.AssignmentStatus, at time.Time) error
	AcceptTransfer(ctx context.Context, assignment *models.SubjectAssignment, at time.Time) error
}

type subjectDirectory interface {
	GetByID(ctx context.Context, id string) (*models.Subject, error)
	GetTeacher(ctx context.Context, id string) (*models.Teacher, error)
	ListUnits(ctx context.Context, subjectID string) ([]models.Unit, error)
	ListCompletedUnitIDs(ctx context.Context, subjectID, teacherID string) ([]string, error)
}

type assignmentEnvelopes interface {
	Create(ctx context.Context, req *models.ApprovalRequest) error
	FindPending(ctx context.Context, approvalType models.ApprovalType, naturalKey string) (*models.ApprovalRequest, error)
	MarkApproved(ctx context.Context, id, approvedBy string, at time.Time) error
	MarkRejected(ctx context.Context, id, reviewedBy, reason string, at time.Time) error
}

// AssignmentService runs the two-stage subject transfer workflow. No subject
// or unit-log data moves until the receiving teacher accepts; the admin
// stage only marks intent.
type AssignmentService struct {
	repo      assignmentStore
	directory subjectDirectory
	envelopes assignmentEnvelopes
	audit     auditLogger
	queue     *ApprovalQueueCache
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewAssignmentService constructs the service.
func NewAssignmentService(repo assignmentStore, directory subjectDirectory, envelopes assignmentEnvelopes, audit auditLogger, queue *ApprovalQueueCache, logger *zap.Logger) *AssignmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentService{
		repo:      repo,
		directory: directory,
		envelopes: envelopes,
		audit:     audit,
		queue:     queue,
		validate:  validator.New(),
		logger:    logger,
	}
}

// Request opens a transfer. FromTeacherID defaults to the subject's current
// owner; the remaining-unit set defaults to the units the source teacher has
// not completed. A matching envelope is placed on the review queue so the
// request shows up alongside every other reviewable action.
func (s *AssignmentService) Request(ctx context.Context, req dto.CreateAssignmentRequest, actor models.JWTClaims) (*models.SubjectAssignment, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	subject, err := s.directory.GetByID(ctx, req.SubjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, fmt.Errorf("load subject: %w", err)
	}
	recipient, err := s.directory.GetTeacher(ctx, req.ToTeacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "recipient teacher not found")
		}
		return nil, fmt.Errorf("load recipient: %w", err)
	}
	if !recipient.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "recipient teacher is inactive")
	}

	from := req.FromTeacherID
	if from == nil {
		from = subject.TeacherID
	}
	if from != nil && *from == req.ToTeacherID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "subject is already assigned to the recipient")
	}

	active, err := s.repo.FindActiveBySubject(ctx, req.SubjectID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a transfer for this subject is already in flight")
	}

	remaining, err := s.remainingUnits(ctx, subject, from, req.UnitIDs)
	if err != nil {
		return nil, err
	}

	assignment := &models.SubjectAssignment{
		SubjectID:      req.SubjectID,
		FromTeacherID:  from,
		ToTeacherID:    req.ToTeacherID,
		RemainingUnits: remaining,
		Reason:         req.Reason,
		Status:         models.AssignmentStatusPending,
	}
	if err := s.repo.Create(ctx, assignment); err != nil {
		if errors.Is(err, repository.ErrActiveAssignment) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a transfer for this subject is already in flight")
		}
		return nil, err
	}

	s.enqueueReview(ctx, assignment, actor.UserID)
	s.queue.InvalidatePending(ctx)
	s.emitAudit(ctx, actor.UserID, models.AuditActionAssignmentRequest, assignment.ID)
	return assignment, nil
}

// Get returns one assignment. Teachers may only see transfers they send or
// receive.
func (s *AssignmentService) Get(ctx context.Context, id string, actor models.JWTClaims) (*models.SubjectAssignment, error) {
	assignment, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleTeacher && !s.involves(assignment, actor.UserID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "teachers may only view their own transfers")
	}
	return assignment, nil
}

// List returns assignments scoped by role: teachers see only incoming
// transfers.
func (s *AssignmentService) List(ctx context.Context, filter models.AssignmentFilter, actor models.JWTClaims) ([]models.SubjectAssignment, error) {
	if actor.Role == models.RoleTeacher {
		filter.ToTeacherID = actor.UserID
	}
	return s.repo.List(ctx, filter)
}

// AdminDecide records the first-stage decision and resolves the linked
// review-queue envelope.
func (s *AssignmentService) AdminDecide(ctx context.Context, id string, req dto.AssignmentDecisionRequest, actor models.JWTClaims) (*models.SubjectAssignment, error) {
	if !actor.Role.CanReview() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only reviewers may decide the admin stage")
	}
	assignment, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if assignment.Status != models.AssignmentStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("admin decision requires PENDING, assignment is %s", assignment.Status))
	}

	now := time.Now().UTC()
	if req.Approve {
		if err := s.repo.AdminApprove(ctx, id, actor.UserID, now); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrConflict, "assignment was decided concurrently")
			}
			return nil, err
		}
		assignment.Status = models.AssignmentStatusAdminApproved
		assignment.AdminDecidedBy = &actor.UserID
		assignment.AdminDecidedAt = &now
		s.resolveEnvelope(ctx, assignment.SubjectID, actor.UserID, true, "", now)
	} else {
		reason := req.Reason
		if reason == "" {
			reason = "rejected by admin"
		}
		if err := s.repo.Reject(ctx, id, actor.UserID, reason, models.AssignmentStatusPending, now); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrConflict, "assignment was decided concurrently")
			}
			return nil, err
		}
		assignment.Status = models.AssignmentStatusRejected
		assignment.RejectionReason = &reason
		s.resolveEnvelope(ctx, assignment.SubjectID, actor.UserID, false, reason, now)
	}

	s.queue.InvalidatePending(ctx)
	s.emitAudit(ctx, actor.UserID, models.AuditActionAssignmentAdmin, assignment.ID)
	return assignment, nil
}

// RecipientDecide records the second-stage decision. Acceptance moves the
// subject, reparents open unit logs, and seeds missing logs atomically; a
// decline terminates the workflow with no data movement.
func (s *AssignmentService) RecipientDecide(ctx context.Context, id string, req dto.AssignmentDecisionRequest, actor models.JWTClaims) (*models.SubjectAssignment, error) {
	assignment, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleTeacher && assignment.ToTeacherID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the receiving teacher may decide this transfer")
	}
	if assignment.Status != models.AssignmentStatusAdminApproved {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("recipient decision requires ADMIN_APPROVED, assignment is %s", assignment.Status))
	}

	now := time.Now().UTC()
	if req.Approve {
		if err := s.repo.AcceptTransfer(ctx, assignment, now); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrConflict, "assignment was decided concurrently")
			}
			return nil, err
		}
		assignment.Status = models.AssignmentStatusApproved
		assignment.RecipientDecidedAt = &now
	} else {
		reason := req.Reason
		if reason == "" {
			reason = "declined by recipient"
		}
		if err := s.repo.Reject(ctx, id, actor.UserID, reason, models.AssignmentStatusAdminApproved, now); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrConflict, "assignment was decided concurrently")
			}
			return nil, err
		}
		assignment.Status = models.AssignmentStatusRejected
		assignment.RejectionReason = &reason
		assignment.RecipientDecidedAt = &now
	}

	s.emitAudit(ctx, actor.UserID, models.AuditActionAssignmentRecipient, assignment.ID)
	return assignment, nil
}

// EnsureAdminDecidable verifies the admin stage is still open. Used at
// review-queue submit time.
func (s *AssignmentService) EnsureAdminDecidable(ctx context.Context, id string) error {
	assignment, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	if assignment.Status != models.AssignmentStatusPending {
		return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("admin decision requires PENDING, assignment is %s", assignment.Status))
	}
	return nil
}

// ApproveFromQueue runs the admin-stage approval on behalf of a review-queue
// decision. The envelope transition itself is owned by the caller.
func (s *AssignmentService) ApproveFromQueue(ctx context.Context, id, reviewerID string) error {
	assignment, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	if assignment.Status != models.AssignmentStatusPending {
		return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("admin decision requires PENDING, assignment is %s", assignment.Status))
	}
	now := time.Now().UTC()
	if err := s.repo.AdminApprove(ctx, id, reviewerID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConflict, "assignment was decided concurrently")
		}
		return err
	}
	s.emitAudit(ctx, reviewerID, models.AuditActionAssignmentAdmin, id)
	return nil
}

func (s *AssignmentService) lookup(ctx context.Context, id string) (*models.SubjectAssignment, error) {
	assignment, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, err
	}
	return assignment, nil
}

func (s *AssignmentService) involves(assignment *models.SubjectAssignment, teacherID string) bool {
	if assignment.ToTeacherID == teacherID {
		return true
	}
	return assignment.FromTeacherID != nil && *assignment.FromTeacherID == teacherID
}

func (s *AssignmentService) remainingUnits(ctx context.Context, subject *models.Subject, from *string, unitIDs []string) (models.StringList, error) {
	units, err := s.directory.ListUnits(ctx, subject.ID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(units))
	for _, unit := range units {
		known[unit.ID] = true
	}

	if len(unitIDs) > 0 {
		for _, id := range unitIDs {
			if !known[id] {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unit %s does not belong to subject %s", id, subject.ID))
			}
		}
		return models.StringList(unitIDs), nil
	}

	remaining := make(models.StringList, 0, len(units))
	if from == nil {
		for _, unit := range units {
			remaining = append(remaining, unit.ID)
		}
		return remaining, nil
	}

	completed, err := s.directory.ListCompletedUnitIDs(ctx, subject.ID, *from)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(completed))
	for _, id := range completed {
		done[id] = true
	}
	for _, unit := range units {
		if !done[unit.ID] {
			remaining = append(remaining, unit.ID)
		}
	}
	return remaining, nil
}

// enqueueReview is best-effort: the assignment record is authoritative and
// the direct admin endpoint still works if the envelope write fails.
func (s *AssignmentService) enqueueReview(ctx context.Context, assignment *models.SubjectAssignment, requesterID string) {
	if s.envelopes == nil {
		return
	}
	payload := models.SubjectAssignPayload{AssignmentID: assignment.ID, SubjectID: assignment.SubjectID}
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("encode assignment envelope failed", zap.String("assignment_id", assignment.ID), zap.Error(err))
		return
	}
	envelope := &models.ApprovalRequest{
		Type:        models.ApprovalTypeSubjectAssign,
		Status:      models.ApprovalStatusPending,
		NaturalKey:  payload.NaturalKey(),
		RequestData: types.JSONText(raw),
		RequestedBy: requesterID,
	}
	if err := s.envelopes.Create(ctx, envelope); err != nil && !errors.Is(err, repository.ErrDuplicatePending) {
		s.logger.Warn("enqueue assignment review failed", zap.String("assignment_id", assignment.ID), zap.Error(err))
	}
}

// resolveEnvelope keeps the review queue consistent with direct admin
// decisions. Tolerates the envelope having been decided through the queue.
func (s *AssignmentService) resolveEnvelope(ctx context.Context, subjectID, deciderID string, approved bool, reason string, at time.Time) {
	if s.envelopes == nil {
		return
	}
	envelope, err := s.envelopes.FindPending(ctx, models.ApprovalTypeSubjectAssign, subjectID)
	if err != nil {
		s.logger.Warn("assignment envelope lookup failed", zap.String("subject_id", subjectID), zap.Error(err))
		return
	}
	if envelope == nil {
		return
	}
	if approved {
		err = s.envelopes.MarkApproved(ctx, envelope.ID, deciderID, at)
	} else {
		err = s.envelopes.MarkRejected(ctx, envelope.ID, deciderID, reason, at)
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.logger.Warn("assignment envelope resolve failed", zap.String("request_id", envelope.ID), zap.Error(err))
	}
}

func (s *AssignmentService) emitAudit(ctx context.Context, userID, action, resourceID string) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "subject_assignment",
		ResourceID: &resourceID,
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}
