package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/teacher-activity-api/internal/dto"
	"github.com/noah-isme/teacher-activity-api/internal/models"
	"github.com/noah-isme/teacher-activity-api/internal/repository"
	appErrors "github.com/noah-isme/teacher-activity-api/pkg/errors"
)

type assignmentStoreStub struct {
	byID     map[string]*models.SubjectAssignment
	seq      int
	accepted []string
}

func newAssignmentStoreStub() *assignmentStoreStub {
	return &assignmentStoreStub{byID: make(map[string]*models.SubjectAssignment)}
}

func (s *assignmentStoreStub) Create(ctx context.Context, assignment *models.SubjectAssignment) error {
	for _, existing := range s.byID {
		if existing.SubjectID == assignment.SubjectID && !existing.Status.Terminal() {
			return repository.ErrActiveAssignment
		}
	}
	s.seq++
	assignment.ID = fmt.Sprintf("assign-%d", s.seq)
	assignment.CreatedAt = time.Now().UTC()
	copy := *assignment
	s.byID[assignment.ID] = &copy
	return nil
}

func (s *assignmentStoreStub) GetByID(ctx context.Context, id string) (*models.SubjectAssignment, error) {
	if assignment, ok := s.byID[id]; ok {
		copy := *assignment
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *assignmentStoreStub) List(ctx context.Context, filter models.AssignmentFilter) ([]models.SubjectAssignment, error) {
	out := make([]models.SubjectAssignment, 0, len(s.byID))
	for _, assignment := range s.byID {
		if filter.ToTeacherID != "" && assignment.ToTeacherID != filter.ToTeacherID {
			continue
		}
		out = append(out, *assignment)
	}
	return out, nil
}

func (s *assignmentStoreStub) FindActiveBySubject(ctx context.Context, subjectID string) (*models.SubjectAssignment, error) {
	for _, assignment := range s.byID {
		if assignment.SubjectID == subjectID && !assignment.Status.Terminal() {
			copy := *assignment
			return &copy, nil
		}
	}
	return nil, nil
}

func (s *assignmentStoreStub) AdminApprove(ctx context.Context, id, adminID string, at time.Time) error {
	assignment, ok := s.byID[id]
	if !ok || assignment.Status != models.AssignmentStatusPending {
		return sql.ErrNoRows
	}
	assignment.Status = models.AssignmentStatusAdminApproved
	assignment.AdminDecidedBy = &adminID
	assignment.AdminDecidedAt = &at
	return nil
}

func (s *assignmentStoreStub) Reject(ctx context.Context, id, deciderID, reason string, fromStatus models.AssignmentStatus, at time.Time) error {
	assignment, ok := s.byID[id]
	if !ok || assignment.Status != fromStatus {
		return sql.ErrNoRows
	}
	assignment.Status = models.AssignmentStatusRejected
	assignment.RejectionReason = &reason
	return nil
}

func (s *assignmentStoreStub) AcceptTransfer(ctx context.Context, assignment *models.SubjectAssignment, at time.Time) error {
	stored, ok := s.byID[assignment.ID]
	if !ok || stored.Status != models.AssignmentStatusAdminApproved {
		return sql.ErrNoRows
	}
	stored.Status = models.AssignmentStatusApproved
	stored.RecipientDecidedAt = &at
	s.accepted = append(s.accepted, assignment.ID)
	return nil
}

type subjectDirStub struct {
	subjects  map[string]*models.Subject
	teachers  map[string]*models.Teacher
	units     []models.Unit
	completed map[string][]string
}

func (s *subjectDirStub) GetByID(ctx context.Context, id string) (*models.Subject, error) {
	if subject, ok := s.subjects[id]; ok {
		return subject, nil
	}
	return nil, sql.ErrNoRows
}

func (s *subjectDirStub) GetTeacher(ctx context.Context, id string) (*models.Teacher, error) {
	if teacher, ok := s.teachers[id]; ok {
		return teacher, nil
	}
	return nil, sql.ErrNoRows
}

func (s *subjectDirStub) ListUnits(ctx context.Context, subjectID string) ([]models.Unit, error) {
	return s.units, nil
}

func (s *subjectDirStub) ListCompletedUnitIDs(ctx context.Context, subjectID, teacherID string) ([]string, error) {
	return s.completed[teacherID], nil
}

type envelopesStub struct {
	created  []*models.ApprovalRequest
	approved []string
	rejected []string
}

func (s *envelopesStub) Create(ctx context.Context, req *models.ApprovalRequest) error {
	req.ID = fmt.Sprintf("env-%d", len(s.created)+1)
	s.created = append(s.created, req)
	return nil
}

func (s *envelopesStub) FindPending(ctx context.Context, approvalType models.ApprovalType, naturalKey string) (*models.ApprovalRequest, error) {
	for _, req := range s.created {
		if req.Type == approvalType && req.NaturalKey == naturalKey && req.Status == models.ApprovalStatusPending {
			return req, nil
		}
	}
	return nil, nil
}

func (s *envelopesStub) MarkApproved(ctx context.Context, id, approvedBy string, at time.Time) error {
	s.approved = append(s.approved, id)
	for _, req := range s.created {
		if req.ID == id {
			req.Status = models.ApprovalStatusApproved
		}
	}
	return nil
}

func (s *envelopesStub) MarkRejected(ctx context.Context, id, reviewedBy, reason string, at time.Time) error {
	s.rejected = append(s.rejected, id)
	for _, req := range s.created {
		if req.ID == id {
			req.Status = models.ApprovalStatusRejected
		}
	}
	return nil
}

func newAssignmentFixture() (*AssignmentService, *assignmentStoreStub, *subjectDirStub, *envelopesStub) {
	owner := "teacher-1"
	store := newAssignmentStoreStub()
	dir := &subjectDirStub{
		subjects: map[string]*models.Subject{
			"subject-1": {ID: "subject-1", Name: "Mathematics", TeacherID: &owner},
		},
		teachers: map[string]*models.Teacher{
			"teacher-1": {ID: "teacher-1", Active: true},
			"teacher-2": {ID: "teacher-2", Active: true},
			"teacher-3": {ID: "teacher-3", Active: false},
		},
		units: []models.Unit{
			{ID: "unit-1", SubjectID: "subject-1", Position: 1},
			{ID: "unit-2", SubjectID: "subject-1", Position: 2},
			{ID: "unit-3", SubjectID: "subject-1", Position: 3},
		},
		completed: map[string][]string{"teacher-1": {"unit-1"}},
	}
	envelopes := &envelopesStub{}
	svc := NewAssignmentService(store, dir, envelopes, &auditStub{}, nil, nil)
	return svc, store, dir, envelopes
}

func transferRequest() dto.CreateAssignmentRequest {
	return dto.CreateAssignmentRequest{
		SubjectID:   "subject-1",
		ToTeacherID: "teacher-2",
		Reason:      "maternity cover",
	}
}

func TestAssignmentServiceRequestDefaultsFromOwnerAndRemainingUnits(t *testing.T) {
	svc, store, _, envelopes := newAssignmentFixture()

	assignment, err := svc.Request(context.Background(), transferRequest(), adminActor)
	require.NoError(t, err)
	require.NotNil(t, assignment.FromTeacherID)
	require.Equal(t, "teacher-1", *assignment.FromTeacherID)
	require.Equal(t, models.AssignmentStatusPending, assignment.Status)
	require.Equal(t, models.StringList{"unit-2", "unit-3"}, assignment.RemainingUnits)
	require.Len(t, store.byID, 1)

	require.Len(t, envelopes.created, 1)
	require.Equal(t, models.ApprovalTypeSubjectAssign, envelopes.created[0].Type)
	require.Equal(t, "subject-1", envelopes.created[0].NaturalKey)
}

func TestAssignmentServiceRequestExplicitUnitsValidated(t *testing.T) {
	svc, _, _, _ := newAssignmentFixture()
	req := transferRequest()
	req.UnitIDs = []string{"unit-2", "unit-99"}

	_, err := svc.Request(context.Background(), req, adminActor)
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
	require.Contains(t, err.Error(), "unit-99")
}

func TestAssignmentServiceRequestOwnerlessSubjectTakesAllUnits(t *testing.T) {
	svc, _, dir, _ := newAssignmentFixture()
	dir.subjects["subject-1"].TeacherID = nil

	assignment, err := svc.Request(context.Background(), transferRequest(), adminActor)
	require.NoError(t, err)
	require.Nil(t, assignment.FromTeacherID)
	require.Equal(t, models.StringList{"unit-1", "unit-2", "unit-3"}, assignment.RemainingUnits)
}

func TestAssignmentServiceRequestRecipientAlreadyOwner(t *testing.T) {
	svc, _, _, _ := newAssignmentFixture()
	req := transferRequest()
	req.ToTeacherID = "teacher-1"

	_, err := svc.Request(context.Background(), req, adminActor)
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestAssignmentServiceRequestInactiveRecipient(t *testing.T) {
	svc, _, _, _ := newAssignmentFixture()
	req := transferRequest()
	req.ToTeacherID = "teacher-3"

	_, err := svc.Request(context.Background(), req, adminActor)
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
	require.Contains(t, err.Error(), "inactive")
}

func TestAssignmentServiceRequestSingleInFlight(t *testing.T) {
	svc, _, _, _ := newAssignmentFixture()

	_, err := svc.Request(context.Background(), transferRequest(), adminActor)
	require.NoError(t, err)

	_, err = svc.Request(context.Background(), transferRequest(), adminActor)
	require.True(t, appErrors.Is(err, appErrors.ErrConflict))
	require.Contains(t, err.Error(), "already in flight")
}

func TestAssignmentServiceAdminApproveResolvesEnvelope(t *testing.T) {
	svc, store, _, envelopes := newAssignmentFixture()
	assignment, err := svc.Request(context.Background(), transferRequest(), adminActor)
	require.NoError(t, err)

	decided, err := svc.AdminDecide(context.Background(), assignment.ID,
		dto.AssignmentDecisionRequest{Approve: true}, adminActor)
	require.NoError(t, err)
	require.Equal(t, models.AssignmentStatusAdminApproved, decided.Status)
	require.NotNil(t, decided.AdminDecidedBy)
	require.Equal(t, models.AssignmentStatusAdminApproved, store.byID[assignment.ID].Status)
	require.Len(t, envelopes.approved, 1)
}

func TestAssignmentServiceAdminRejectTerminates(t *testing.T) {
	svc, store, _, envelopes := newAssignmentFixture()
	assignment, err := svc.Request(context.Background(), transferRequest(), adminActor)
	require.NoError(t, err)

	decided, err := svc.AdminDecide(context.Background(), assignment.ID,
		dto.AssignmentDecisionRequest{Approve: false, Reason: "recipient overloaded"}, adminActor)
	require.NoError(t, err)
	require.Equal(t, models.AssignmentStatusRejected, decided.Status)
	require.Equal(t, "recipient overloaded", *decided.RejectionReason)
	require.Equal(t, models.AssignmentStatusRejected, store.byID[assignment.ID].Status)
	require.Len(t, envelopes.rejected, 1)
}

func TestAssignmentServiceAdminDecideRequiresPending(t *testing.T) {
	svc, store, _, _ := newAssignmentFixture()
	assignment, err := svc.Request(context.Background(), transferRequest(), adminActor)
	require.NoError(t, err)
	store.byID[assignment.ID].Status = models.AssignmentStatusAdminApproved

	_, err = svc.AdminDecide(context.Background(), assignment.ID,
		dto.AssignmentDecisionRequest{Approve: true}, adminActor)
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
	require.Contains(t, err.Error(), "ADMIN_APPROVED")
}

func TestAssignmentServiceAdminDecideRequiresReviewer(t *testing.T) {
	svc, _, _, _ := newAssignmentFixture()

	_, err := svc.AdminDecide(context.Background(), "assign-1",
		dto.AssignmentDecisionRequest{Approve: true}, teacherActor)
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestAssignmentServiceRecipientAcceptRunsTransfer(t *testing.T) {
	svc, store, _, _ := newAssignmentFixture()
	assignment, err := svc.Request(context.Background(), transferRequest(), adminActor)
	require.NoError(t, err)
	_, err = svc.AdminDecide(context.Background(), assignment.ID,
		dto.AssignmentDecisionRequest{Approve: true}, adminActor)
	require.NoError(t, err)

	recipient := models.JWTClaims{UserID: "teacher-2", Role: models.RoleTeacher}
	decided, err := svc.RecipientDecide(context.Background(), assignment.ID,
		dto.AssignmentDecisionRequest{Approve: true}, recipient)
	require.NoError(t, err)
	require.Equal(t, models.AssignmentStatusApproved, decided.Status)
	require.NotNil(t, decided.RecipientDecidedAt)
	require.Equal(t, []string{assignment.ID}, store.accepted)
}

func TestAssignmentServiceRecipientDeclineMovesNothing(t *testing.T) {
	svc, store, _, _ := newAssignmentFixture()
	assignment, err := svc.Request(context.Background(), transferRequest(), adminActor)
	require.NoError(t, err)
	_, err = svc.AdminDecide(context.Background(), assignment.ID,
		dto.AssignmentDecisionRequest{Approve: true}, adminActor)
	require.NoError(t, err)

	recipient := models.JWTClaims{UserID: "teacher-2", Role: models.RoleTeacher}
	decided, err := svc.RecipientDecide(context.Background(), assignment.ID,
		dto.AssignmentDecisionRequest{Approve: false}, recipient)
	require.NoError(t, err)
	require.Equal(t, models.AssignmentStatusRejected, decided.Status)
	require.Equal(t, "declined by recipient", *decided.RejectionReason)
	require.Empty(t, store.accepted)
}

func TestAssignmentServiceRecipientDecideWrongTeacherForbidden(t *testing.T) {
	svc, store, _, _ := newAssignmentFixture()
	assignment, err := svc.Request(context.Background(), transferRequest(), adminActor)
	require.NoError(t, err)
	store.byID[assignment.ID].Status = models.AssignmentStatusAdminApproved

	_, err = svc.RecipientDecide(context.Background(), assignment.ID,
		dto.AssignmentDecisionRequest{Approve: true}, teacherActor)
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestAssignmentServiceRecipientDecideRequiresAdminApproval(t *testing.T) {
	svc, _, _, _ := newAssignmentFixture()
	assignment, err := svc.Request(context.Background(), transferRequest(), adminActor)
	require.NoError(t, err)

	recipient := models.JWTClaims{UserID: "teacher-2", Role: models.RoleTeacher}
	_, err = svc.RecipientDecide(context.Background(), assignment.ID,
		dto.AssignmentDecisionRequest{Approve: true}, recipient)
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
	require.Contains(t, err.Error(), "PENDING")
}

func TestAssignmentServiceApproveFromQueueSkipsEnvelope(t *testing.T) {
	svc, store, _, envelopes := newAssignmentFixture()
	assignment, err := svc.Request(context.Background(), transferRequest(), adminActor)
	require.NoError(t, err)

	require.NoError(t, svc.ApproveFromQueue(context.Background(), assignment.ID, "admin-1"))
	require.Equal(t, models.AssignmentStatusAdminApproved, store.byID[assignment.ID].Status)
	require.Empty(t, envelopes.approved)
}

func TestAssignmentServiceListScopesTeachersToIncoming(t *testing.T) {
	svc, _, _, _ := newAssignmentFixture()
	_, err := svc.Request(context.Background(), transferRequest(), adminActor)
	require.NoError(t, err)

	recipient := models.JWTClaims{UserID: "teacher-2", Role: models.RoleTeacher}
	list, err := svc.List(context.Background(), models.AssignmentFilter{}, recipient)
	require.NoError(t, err)
	require.Len(t, list, 1)

	other := models.JWTClaims{UserID: "teacher-9", Role: models.RoleTeacher}
	list, err = svc.List(context.Background(), models.AssignmentFilter{}, other)
	require.NoError(t, err)
	require.Empty(t, list)
}
