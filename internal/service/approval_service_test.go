package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/teacher-activity-api/internal/dto"
	"github.com/noah-isme/teacher-activity-api/internal/models"
	"github.com/noah-isme/teacher-activity-api/internal/repository"
	appErrors "github.com/noah-isme/teacher-activity-api/pkg/errors"
)

type approvalStoreStub struct {
	byID    map[string]*models.ApprovalRequest
	seq     int
	filters []models.ApprovalFilter
}

func newApprovalStoreStub() *approvalStoreStub {
	return &approvalStoreStub{byID: make(map[string]*models.ApprovalRequest)}
}

func (s *approvalStoreStub) Create(ctx context.Context, req *models.ApprovalRequest) error {
	for _, existing := range s.byID {
		if existing.Status == models.ApprovalStatusPending &&
			existing.Type == req.Type && existing.NaturalKey == req.NaturalKey {
			return repository.ErrDuplicatePending
		}
	}
	s.seq++
	req.ID = fmt.Sprintf("req-%d", s.seq)
	req.CreatedAt = time.Now().UTC()
	copy := *req
	s.byID[req.ID] = &copy
	return nil
}

func (s *approvalStoreStub) GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	if req, ok := s.byID[id]; ok {
		copy := *req
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *approvalStoreStub) FindPending(ctx context.Context, approvalType models.ApprovalType, naturalKey string) (*models.ApprovalRequest, error) {
	for _, req := range s.byID {
		if req.Status == models.ApprovalStatusPending && req.Type == approvalType && req.NaturalKey == naturalKey {
			copy := *req
			return &copy, nil
		}
	}
	return nil, nil
}

func (s *approvalStoreStub) List(ctx context.Context, filter models.ApprovalFilter) ([]models.ApprovalRequest, error) {
	s.filters = append(s.filters, filter)
	out := make([]models.ApprovalRequest, 0, len(s.byID))
	for _, req := range s.byID {
		out = append(out, *req)
	}
	return out, nil
}

func (s *approvalStoreStub) MarkApproved(ctx context.Context, id, approvedBy string, at time.Time) error {
	req, ok := s.byID[id]
	if !ok || req.Status != models.ApprovalStatusPending {
		return sql.ErrNoRows
	}
	req.Status = models.ApprovalStatusApproved
	req.ApprovedBy = &approvedBy
	req.ApprovedAt = &at
	return nil
}

func (s *approvalStoreStub) MarkRejected(ctx context.Context, id, reviewedBy, reason string, at time.Time) error {
	req, ok := s.byID[id]
	if !ok || req.Status != models.ApprovalStatusPending {
		return sql.ErrNoRows
	}
	req.Status = models.ApprovalStatusRejected
	if reviewedBy != "" {
		req.ApprovedBy = &reviewedBy
	}
	req.RejectionReason = &reason
	req.RejectedAt = &at
	return nil
}

type applierStub struct {
	validateErr  error
	applyErr     error
	applied      int
	lastPayload  models.ApprovalPayload
	lastReviewer string
}

func (a *applierStub) Validate(ctx context.Context, payload models.ApprovalPayload) error {
	return a.validateErr
}

func (a *applierStub) Apply(ctx context.Context, payload models.ApprovalPayload, reviewerID string) error {
	if a.applyErr != nil {
		return a.applyErr
	}
	a.applied++
	a.lastPayload = payload
	a.lastReviewer = reviewerID
	return nil
}

var (
	teacherActor  = models.JWTClaims{UserID: "teacher-1", Role: models.RoleTeacher}
	verifierActor = models.JWTClaims{UserID: "verifier-1", Role: models.RoleVerifier}
	adminActor    = models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
)

func slotSubmitRequest() dto.SubmitApprovalRequest {
	return dto.SubmitApprovalRequest{
		Type:    models.ApprovalTypeTimeSlot,
		Payload: json.RawMessage(`{"teacher_id":"teacher-1","date":"2026-03-02","slot_id":"slot-07-08"}`),
	}
}

func newApprovalFixture() (*ApprovalService, *approvalStoreStub, *applierStub) {
	store := newApprovalStoreStub()
	applier := &applierStub{}
	svc := NewApprovalService(store, &auditStub{}, nil,
		WithApprovalAppliers(map[models.ApprovalType]ApprovalApplier{
			models.ApprovalTypeTimeSlot: applier,
		}))
	return svc, store, applier
}

func TestApprovalServiceSubmitCreatesPendingEnvelope(t *testing.T) {
	svc, store, _ := newApprovalFixture()

	envelope, created, err := svc.Submit(context.Background(), slotSubmitRequest(), teacherActor)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, models.ApprovalStatusPending, envelope.Status)
	require.Equal(t, "teacher-1|2026-03-02|slot-07-08", envelope.NaturalKey)
	require.Equal(t, "teacher-1", envelope.RequestedBy)
	require.Len(t, store.byID, 1)
}

func TestApprovalServiceSubmitIdempotentWhilePending(t *testing.T) {
	svc, store, _ := newApprovalFixture()

	first, created, err := svc.Submit(context.Background(), slotSubmitRequest(), teacherActor)
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := svc.Submit(context.Background(), slotSubmitRequest(), teacherActor)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)
	require.Len(t, store.byID, 1)
}

func TestApprovalServiceSubmitValidateFailureSkipsQueue(t *testing.T) {
	svc, store, applier := newApprovalFixture()
	applier.validateErr = appErrors.Clone(appErrors.ErrValidation, "no action needed: slot is already selected")

	_, _, err := svc.Submit(context.Background(), slotSubmitRequest(), teacherActor)
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
	require.Empty(t, store.byID)
}

func TestApprovalServiceSubmitForbiddenForOtherTeacher(t *testing.T) {
	svc, store, _ := newApprovalFixture()
	req := dto.SubmitApprovalRequest{
		Type:    models.ApprovalTypeTimeSlot,
		Payload: json.RawMessage(`{"teacher_id":"teacher-2","date":"2026-03-02","slot_id":"slot-07-08"}`),
	}

	_, _, err := svc.Submit(context.Background(), req, teacherActor)
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	require.Empty(t, store.byID)
}

func TestApprovalServiceSubmitSubjectAssignAdminOnly(t *testing.T) {
	svc, _, _ := newApprovalFixture()
	req := dto.SubmitApprovalRequest{
		Type:    models.ApprovalTypeSubjectAssign,
		Payload: json.RawMessage(`{"assignment_id":"assign-1","subject_id":"subject-1"}`),
	}

	_, _, err := svc.Submit(context.Background(), req, teacherActor)
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestApprovalServiceSubmitRejectsUnknownType(t *testing.T) {
	svc, _, _ := newApprovalFixture()
	req := dto.SubmitApprovalRequest{
		Type:    models.ApprovalType("SLOT_SELECT"),
		Payload: json.RawMessage(`{}`),
	}

	_, _, err := svc.Submit(context.Background(), req, teacherActor)
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func seedPendingSlotRequest(store *approvalStoreStub) *models.ApprovalRequest {
	raw := `{"teacher_id":"teacher-1","date":"2026-03-02","slot_id":"slot-07-08"}`
	req := &models.ApprovalRequest{
		ID:          "req-1",
		Type:        models.ApprovalTypeTimeSlot,
		Status:      models.ApprovalStatusPending,
		NaturalKey:  "teacher-1|2026-03-02|slot-07-08",
		RequestData: types.JSONText(raw),
		RequestedBy: "teacher-1",
	}
	store.byID[req.ID] = req
	return req
}

func TestApprovalServiceDecideApproveAppliesThenPersists(t *testing.T) {
	svc, store, applier := newApprovalFixture()
	seedPendingSlotRequest(store)

	envelope, err := svc.Decide(context.Background(), "req-1",
		dto.DecideApprovalRequest{Status: models.ApprovalStatusApproved}, verifierActor)
	require.NoError(t, err)
	require.Equal(t, 1, applier.applied)
	require.Equal(t, "verifier-1", applier.lastReviewer)
	require.Equal(t, models.ApprovalStatusApproved, envelope.Status)
	require.NotNil(t, envelope.ApprovedBy)
	require.Equal(t, "verifier-1", *envelope.ApprovedBy)
	require.Equal(t, models.ApprovalStatusApproved, store.byID["req-1"].Status)

	payload, ok := applier.lastPayload.(models.TimeSlotPayload)
	require.True(t, ok)
	require.Equal(t, "slot-07-08", payload.SlotID)
}

func TestApprovalServiceDecideApplierFailureLeavesPending(t *testing.T) {
	svc, store, applier := newApprovalFixture()
	seedPendingSlotRequest(store)
	applier.applyErr = appErrors.Clone(appErrors.ErrConflict, "slot state changed")

	_, err := svc.Decide(context.Background(), "req-1",
		dto.DecideApprovalRequest{Status: models.ApprovalStatusApproved}, verifierActor)
	require.True(t, appErrors.Is(err, appErrors.ErrConflict))
	require.Equal(t, models.ApprovalStatusPending, store.byID["req-1"].Status)
}

func TestApprovalServiceDecideRejectStoresReason(t *testing.T) {
	svc, store, applier := newApprovalFixture()
	seedPendingSlotRequest(store)

	envelope, err := svc.Decide(context.Background(), "req-1",
		dto.DecideApprovalRequest{Status: models.ApprovalStatusRejected, Reason: "slot was not taught"}, verifierActor)
	require.NoError(t, err)
	require.Zero(t, applier.applied)
	require.Equal(t, models.ApprovalStatusRejected, envelope.Status)
	require.NotNil(t, envelope.RejectionReason)
	require.Equal(t, "slot was not taught", *envelope.RejectionReason)
	require.Equal(t, models.ApprovalStatusRejected, store.byID["req-1"].Status)
}

func TestApprovalServiceDecideRejectDefaultsReason(t *testing.T) {
	svc, store, _ := newApprovalFixture()
	seedPendingSlotRequest(store)

	envelope, err := svc.Decide(context.Background(), "req-1",
		dto.DecideApprovalRequest{Status: models.ApprovalStatusRejected}, adminActor)
	require.NoError(t, err)
	require.Equal(t, "rejected by reviewer", *envelope.RejectionReason)
}

func TestApprovalServiceDecideTerminalIsInvalidState(t *testing.T) {
	svc, store, _ := newApprovalFixture()
	req := seedPendingSlotRequest(store)
	req.Status = models.ApprovalStatusApproved

	_, err := svc.Decide(context.Background(), "req-1",
		dto.DecideApprovalRequest{Status: models.ApprovalStatusRejected}, verifierActor)
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
	require.Contains(t, err.Error(), "already approved")
}

func TestApprovalServiceDecideRequiresReviewer(t *testing.T) {
	svc, store, _ := newApprovalFixture()
	seedPendingSlotRequest(store)

	_, err := svc.Decide(context.Background(), "req-1",
		dto.DecideApprovalRequest{Status: models.ApprovalStatusApproved}, teacherActor)
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	require.Equal(t, models.ApprovalStatusPending, store.byID["req-1"].Status)
}

func TestApprovalServiceCancelByRequester(t *testing.T) {
	svc, store, _ := newApprovalFixture()
	seedPendingSlotRequest(store)

	envelope, err := svc.Cancel(context.Background(), "req-1", teacherActor)
	require.NoError(t, err)
	require.Equal(t, models.ApprovalStatusRejected, envelope.Status)
	require.Equal(t, "cancelled by requester", *envelope.RejectionReason)
	require.Nil(t, store.byID["req-1"].ApprovedBy)
}

func TestApprovalServiceCancelForbiddenForOthers(t *testing.T) {
	svc, store, _ := newApprovalFixture()
	seedPendingSlotRequest(store)

	other := models.JWTClaims{UserID: "teacher-2", Role: models.RoleTeacher}
	_, err := svc.Cancel(context.Background(), "req-1", other)
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	require.Equal(t, models.ApprovalStatusPending, store.byID["req-1"].Status)
}

func TestApprovalServiceGetScopedToRequester(t *testing.T) {
	svc, store, _ := newApprovalFixture()
	seedPendingSlotRequest(store)

	_, err := svc.Get(context.Background(), "req-1", teacherActor)
	require.NoError(t, err)

	other := models.JWTClaims{UserID: "teacher-2", Role: models.RoleTeacher}
	_, err = svc.Get(context.Background(), "req-1", other)
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = svc.Get(context.Background(), "req-1", verifierActor)
	require.NoError(t, err)
}

func TestApprovalServiceListScopesTeachersToOwnRequests(t *testing.T) {
	svc, store, _ := newApprovalFixture()

	_, err := svc.List(context.Background(), dto.ApprovalQuery{}, 50, 0, teacherActor)
	require.NoError(t, err)
	require.Len(t, store.filters, 1)
	require.Equal(t, "teacher-1", store.filters[0].RequestedBy)

	_, err = svc.List(context.Background(), dto.ApprovalQuery{}, 50, 0, verifierActor)
	require.NoError(t, err)
	require.Empty(t, store.filters[1].RequestedBy)
}
