package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/teacher-activity-api/internal/dto"
	"github.com/noah-isme/teacher-activity-api/internal/models"
	"github.com/noah-isme/teacher-activity-api/internal/repository"
	appErrors "github.com/noah-isme/teacher-activity-api/pkg/errors"
)

type approvalStore interface {
	Create(ctx context.Context, req *models.ApprovalRequest) error
	GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error)
	FindPending(ctx context.Context, approvalType models.ApprovalType, naturalKey string) (*models.ApprovalRequest, error)
	List(ctx context.Context, filter models.ApprovalFilter) ([]models.ApprovalRequest, error)
	MarkApproved(ctx context.Context, id, approvedBy string, at time.Time) error
	MarkRejected(ctx context.Context, id, reviewedBy, reason string, at time.Time) error
}

// ApprovalApplier validates a typed payload at submit time and applies its
// effect when a reviewer approves. Apply runs before the envelope status
// flips: an applier failure leaves the request pending so the reviewer can
// see the reason and reject it explicitly.
type ApprovalApplier interface {
	Validate(ctx context.Context, payload models.ApprovalPayload) error
	Apply(ctx context.Context, payload models.ApprovalPayload, reviewerID string) error
}

// ApprovalService is the review-queue mediator: every gated action enters as
// a typed envelope, waits for a reviewer, and is applied through the
// registered applier for its type.
type ApprovalService struct {
	repo     approvalStore
	audit    auditLogger
	appliers map[models.ApprovalType]ApprovalApplier
	queue    *ApprovalQueueCache
	metrics  *MetricsService
	logger   *zap.Logger
}

// ApprovalServiceOption configures the service.
type ApprovalServiceOption func(*ApprovalService)

// WithApprovalAppliers registers the applier map keyed by request type.
func WithApprovalAppliers(appliers map[models.ApprovalType]ApprovalApplier) ApprovalServiceOption {
	return func(s *ApprovalService) {
		for k, v := range appliers {
			s.appliers[k] = v
		}
	}
}

// WithApprovalQueueCache enables the cached pending queue.
func WithApprovalQueueCache(queue *ApprovalQueueCache) ApprovalServiceOption {
	return func(s *ApprovalService) {
		s.queue = queue
	}
}

// WithApprovalMetrics wires decision counters.
func WithApprovalMetrics(metrics *MetricsService) ApprovalServiceOption {
	return func(s *ApprovalService) {
		s.metrics = metrics
	}
}

// NewApprovalService constructs the service.
func NewApprovalService(repo approvalStore, audit auditLogger, logger *zap.Logger, opts ...ApprovalServiceOption) *ApprovalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &ApprovalService{
		repo:     repo,
		audit:    audit,
		appliers: make(map[models.ApprovalType]ApprovalApplier),
		logger:   logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Submit enters an action into the review queue. Submission is idempotent on
// the payload's natural key: while a matching request is pending, resubmits
// return the existing envelope and the returned bool is false.
func (s *ApprovalService) Submit(ctx context.Context, req dto.SubmitApprovalRequest, actor models.JWTClaims) (*models.ApprovalRequest, bool, error) {
	if !req.Type.Valid() {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported approval type %q", req.Type))
	}
	payload, err := models.DecodePayload(req.Type, req.Payload)
	if err != nil {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "invalid payload: "+err.Error())
	}
	if err := s.authorizeSubmit(req.Type, payload, actor); err != nil {
		return nil, false, err
	}
	applier := s.appliers[req.Type]
	if applier == nil {
		return nil, false, appErrors.Clone(appErrors.ErrInternal, fmt.Sprintf("no applier registered for %s", req.Type))
	}
	if err := applier.Validate(ctx, payload); err != nil {
		return nil, false, err
	}

	key := payload.NaturalKey()
	existing, err := s.repo.FindPending(ctx, req.Type, key)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	envelope := &models.ApprovalRequest{
		Type:        req.Type,
		Status:      models.ApprovalStatusPending,
		NaturalKey:  key,
		RequestData: types.JSONText(req.Payload),
		RequestedBy: actor.UserID,
	}
	if err := s.repo.Create(ctx, envelope); err != nil {
		if errors.Is(err, repository.ErrDuplicatePending) {
			// Lost the unique-index race to a concurrent identical submit.
			winner, ferr := s.repo.FindPending(ctx, req.Type, key)
			if ferr == nil && winner != nil {
				return winner, false, nil
			}
			return nil, false, appErrors.Clone(appErrors.ErrConflict, "an identical request is already pending")
		}
		return nil, false, err
	}

	s.queue.InvalidatePending(ctx)
	s.emitAudit(ctx, actor.UserID, models.AuditActionApprovalSubmit, envelope.ID)
	return envelope, true, nil
}

// Get returns one envelope. Teachers may only see their own submissions.
func (s *ApprovalService) Get(ctx context.Context, id string, actor models.JWTClaims) (*models.ApprovalRequest, error) {
	envelope, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "approval request not found")
		}
		return nil, err
	}
	if actor.Role == models.RoleTeacher && envelope.RequestedBy != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "teachers may only view their own requests")
	}
	return envelope, nil
}

// List returns envelopes scoped by role: teachers see only their own
// submissions. The default reviewer pending view is served from cache.
func (s *ApprovalService) List(ctx context.Context, query dto.ApprovalQuery, limit, offset int, actor models.JWTClaims) ([]models.ApprovalRequest, error) {
	filter := models.ApprovalFilter{
		Status: query.Status,
		Type:   query.Type,
		Limit:  limit,
		Offset: offset,
	}
	if actor.Role == models.RoleTeacher {
		filter.RequestedBy = actor.UserID
	}

	if s.cacheableListing(filter, actor) {
		if cached, ok := s.queue.GetPending(ctx); ok {
			return cached, nil
		}
		requests, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		s.queue.SetPending(ctx, requests)
		return requests, nil
	}

	return s.repo.List(ctx, filter)
}

// Cancel withdraws a pending envelope. Only the requester or a reviewer may
// cancel; the envelope is rejected with no reviewer attribution.
func (s *ApprovalService) Cancel(ctx context.Context, id string, actor models.JWTClaims) (*models.ApprovalRequest, error) {
	envelope, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "approval request not found")
		}
		return nil, err
	}
	if envelope.RequestedBy != actor.UserID && !actor.Role.CanReview() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the requester may cancel this request")
	}
	if envelope.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("request is already %s", strings.ToLower(string(envelope.Status))))
	}

	now := time.Now().UTC()
	reason := "cancelled by requester"
	if err := s.repo.MarkRejected(ctx, envelope.ID, "", reason, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "request was decided concurrently")
		}
		return nil, err
	}
	envelope.Status = models.ApprovalStatusRejected
	envelope.RejectionReason = &reason
	envelope.RejectedAt = &now

	s.queue.InvalidatePending(ctx)
	s.emitAudit(ctx, actor.UserID, models.AuditActionApprovalDecide, envelope.ID)
	return envelope, nil
}

// Decide records a reviewer decision. Approval applies the typed effect
// first and flips the envelope status only after the applier succeeded, so
// a failed apply leaves the request pending with the error surfaced to the
// reviewer.
func (s *ApprovalService) Decide(ctx context.Context, id string, req dto.DecideApprovalRequest, actor models.JWTClaims) (*models.ApprovalRequest, error) {
	if !actor.Role.CanReview() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only reviewers may decide requests")
	}
	envelope, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "approval request not found")
		}
		return nil, err
	}
	if envelope.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("request is already %s", strings.ToLower(string(envelope.Status))))
	}

	now := time.Now().UTC()
	switch req.Status {
	case models.ApprovalStatusRejected:
		reason := req.Reason
		if reason == "" {
			reason = "rejected by reviewer"
		}
		if err := s.repo.MarkRejected(ctx, envelope.ID, actor.UserID, reason, now); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrConflict, "request was decided concurrently")
			}
			return nil, err
		}
		envelope.Status = models.ApprovalStatusRejected
		envelope.ApprovedBy = &actor.UserID
		envelope.RejectionReason = &reason
		envelope.RejectedAt = &now

	case models.ApprovalStatusApproved:
		applier := s.appliers[envelope.Type]
		if applier == nil {
			return nil, appErrors.Clone(appErrors.ErrInternal, fmt.Sprintf("no applier registered for %s", envelope.Type))
		}
		payload, err := models.DecodePayload(envelope.Type, envelope.RequestData)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "stored payload is unreadable")
		}
		if err := applier.Apply(ctx, payload, actor.UserID); err != nil {
			s.logger.Warn("approval apply failed",
				zap.String("request_id", envelope.ID),
				zap.String("type", string(envelope.Type)),
				zap.Error(err))
			return nil, err
		}
		if err := s.repo.MarkApproved(ctx, envelope.ID, actor.UserID, now); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrConflict, "request was decided concurrently")
			}
			return nil, err
		}
		envelope.Status = models.ApprovalStatusApproved
		envelope.ApprovedBy = &actor.UserID
		envelope.ApprovedAt = &now

	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "decision status must be APPROVED or REJECTED")
	}

	s.metrics.RecordApprovalDecision(envelope.Type, envelope.Status)
	s.queue.InvalidatePending(ctx)
	s.emitAudit(ctx, actor.UserID, models.AuditActionApprovalDecide, envelope.ID)
	return envelope, nil
}

func (s *ApprovalService) authorizeSubmit(approvalType models.ApprovalType, payload models.ApprovalPayload, actor models.JWTClaims) error {
	if approvalType == models.ApprovalTypeSubjectAssign {
		if actor.Role != models.RoleAdmin {
			return appErrors.Clone(appErrors.ErrForbidden, "only admins may submit subject assignment requests")
		}
		return nil
	}
	if actor.Role == models.RoleTeacher {
		if owner := payloadTeacherID(payload); owner != actor.UserID {
			return appErrors.Clone(appErrors.ErrForbidden, "teachers may only submit requests for themselves")
		}
	}
	return nil
}

func (s *ApprovalService) cacheableListing(filter models.ApprovalFilter, actor models.JWTClaims) bool {
	if s.queue == nil || !actor.Role.CanReview() {
		return false
	}
	return len(filter.Status) == 1 &&
		filter.Status[0] == models.ApprovalStatusPending &&
		filter.Type == "" &&
		filter.RequestedBy == "" &&
		filter.Offset == 0
}

func payloadTeacherID(payload models.ApprovalPayload) string {
	switch p := payload.(type) {
	case models.UnitStartPayload:
		return p.TeacherID
	case models.UnitCompletePayload:
		return p.TeacherID
	case models.TimeSlotPayload:
		return p.TeacherID
	case models.BreakTimingPayload:
		return p.TeacherID
	default:
		return ""
	}
}

func (s *ApprovalService) emitAudit(ctx context.Context, userID, action, resourceID string) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "approval_request",
		ResourceID: &resourceID,
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}
