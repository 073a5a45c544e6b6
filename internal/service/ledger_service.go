package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/teacher-activity-api/internal/dto"
	"github.com/noah-isme/teacher-activity-api/internal/models"
	appErrors "github.com/noah-isme/teacher-activity-api/pkg/errors"
)

type ledgerStore interface {
	GetOrCreate(ctx context.Context, teacherID string, date time.Time) (*models.TimeSlotLedger, error)
	Update(ctx context.Context, ledger *models.TimeSlotLedger) error
}

type pendingCanceller interface {
	FindPending(ctx context.Context, approvalType models.ApprovalType, naturalKey string) (*models.ApprovalRequest, error)
	MarkRejected(ctx context.Context, id, reviewedBy, reason string, at time.Time) error
}

// LedgerService manages per-teacher daily time-slot ledgers. Additions go
// through the review queue; removals apply immediately and auto-reject any
// matching pending request, so the queue never holds a request for state the
// teacher has already walked back.
type LedgerService struct {
	ledgers ledgerStore
	pending pendingCanceller
	audit   auditLogger
	queue   *ApprovalQueueCache
	logger  *zap.Logger
}

// NewLedgerService constructs the service.
func NewLedgerService(ledgers ledgerStore, pending pendingCanceller, audit auditLogger, queue *ApprovalQueueCache, logger *zap.Logger) *LedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerService{ledgers: ledgers, pending: pending, audit: audit, queue: queue, logger: logger}
}

// Get returns the ledger for (teacher, date), creating it lazily and healing
// the persisted slot set against the current catalog.
func (s *LedgerService) Get(ctx context.Context, teacherID string, date time.Time) (*models.TimeSlotLedger, error) {
	return s.load(ctx, teacherID, date)
}

// DeselectSlot unchecks a slot immediately. Uncredits the slot's minutes and
// auto-rejects a pending selection request for the same slot if one exists.
func (s *LedgerService) DeselectSlot(ctx context.Context, teacherID string, date time.Time, slotID string) (*models.TimeSlotLedger, error) {
	if _, ok := models.SlotDefinitionByID(slotID); !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown slot %q", slotID))
	}
	ledger, err := s.load(ctx, teacherID, date)
	if err != nil {
		return nil, err
	}
	slot := ledger.Slot(slotID)
	if slot == nil || !slot.Checked {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no action needed: slot is not selected")
	}
	slot.Checked = false
	slot.CheckedAt = nil
	ledger.RecomputeTotalHours()
	if err := s.ledgers.Update(ctx, ledger); err != nil {
		return nil, err
	}

	payload := models.TimeSlotPayload{TeacherID: teacherID, Date: date.Format(models.DateFormat), SlotID: slotID}
	s.cancelPending(ctx, models.ApprovalTypeTimeSlot, payload.NaturalKey(), "slot deselected by teacher")
	s.emitAudit(ctx, teacherID, models.AuditActionSlotDeselect, ledger.ID)
	return ledger, nil
}

// RemoveBreak clears the break window immediately and auto-rejects a pending
// break-timing request for the day if one exists.
func (s *LedgerService) RemoveBreak(ctx context.Context, teacherID string, date time.Time) (*models.TimeSlotLedger, error) {
	ledger, err := s.load(ctx, teacherID, date)
	if err != nil {
		return nil, err
	}
	if !ledger.BreakChecked {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no action needed: no break is set")
	}
	ledger.BreakChecked = false
	ledger.BreakCheckedAt = nil
	ledger.BreakDuration = 0
	ledger.RecomputeTotalHours()
	if err := s.ledgers.Update(ctx, ledger); err != nil {
		return nil, err
	}

	payload := models.BreakTimingPayload{TeacherID: teacherID, Date: date.Format(models.DateFormat)}
	s.cancelPending(ctx, models.ApprovalTypeBreakTiming, payload.NaturalKey(), "break removed by teacher")
	s.emitAudit(ctx, teacherID, models.AuditActionBreakRemove, ledger.ID)
	return ledger, nil
}

// ImportSchedule stores the supervisor timetable overlay for one day. The
// overlay is advisory UI metadata and never feeds credited hours.
func (s *LedgerService) ImportSchedule(ctx context.Context, teacherID string, date time.Time, req dto.ImportScheduleRequest, actorID string) (*models.TimeSlotLedger, error) {
	for _, slotID := range req.ScheduledSlotIDs {
		if _, ok := models.SlotDefinitionByID(slotID); !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown slot %q", slotID))
		}
	}
	for _, entry := range req.Entries {
		for _, slotID := range entry.SlotIDs {
			if _, ok := models.SlotDefinitionByID(slotID); !ok {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown slot %q in entry %s", slotID, entry.SubjectName))
			}
		}
	}
	ledger, err := s.load(ctx, teacherID, date)
	if err != nil {
		return nil, err
	}
	ledger.ScheduledSlotIDs = models.StringList(req.ScheduledSlotIDs)
	ledger.ScheduleEntries = models.ScheduleEntries(req.Entries)
	ledger.RecomputeTotalHours()
	if err := s.ledgers.Update(ctx, ledger); err != nil {
		return nil, err
	}

	s.emitAudit(ctx, actorID, models.AuditActionScheduleImport, ledger.ID)
	return ledger, nil
}

// EnsureSlotSelectable verifies a slot-selection request makes sense before
// it enters the review queue.
func (s *LedgerService) EnsureSlotSelectable(ctx context.Context, teacherID string, date time.Time, slotID string) error {
	if _, ok := models.SlotDefinitionByID(slotID); !ok {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown slot %q", slotID))
	}
	ledger, err := s.load(ctx, teacherID, date)
	if err != nil {
		return err
	}
	if slot := ledger.Slot(slotID); slot != nil && slot.Checked {
		return appErrors.Clone(appErrors.ErrValidation, "no action needed: slot is already selected")
	}
	return nil
}

// CheckSlot credits a slot on approval.
func (s *LedgerService) CheckSlot(ctx context.Context, teacherID string, date time.Time, slotID string) error {
	if _, ok := models.SlotDefinitionByID(slotID); !ok {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown slot %q", slotID))
	}
	ledger, err := s.load(ctx, teacherID, date)
	if err != nil {
		return err
	}
	slot := ledger.Slot(slotID)
	if slot == nil {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown slot %q", slotID))
	}
	if slot.Checked {
		return appErrors.Clone(appErrors.ErrInvalidState, "slot is already selected")
	}
	now := time.Now().UTC()
	slot.Checked = true
	slot.CheckedAt = &now
	ledger.RecomputeTotalHours()
	return s.ledgers.Update(ctx, ledger)
}

// EnsureBreakSettable verifies a break-timing request before it enters the
// review queue.
func (s *LedgerService) EnsureBreakSettable(ctx context.Context, teacherID string, date time.Time, minutes int) error {
	if minutes <= 0 || minutes > models.MaxBreakMinutes {
		return appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("break duration must be between 1 and %d minutes", models.MaxBreakMinutes))
	}
	ledger, err := s.load(ctx, teacherID, date)
	if err != nil {
		return err
	}
	if ledger.BreakChecked && ledger.BreakDuration == minutes {
		return appErrors.Clone(appErrors.ErrValidation, "no action needed: break is already set to that duration")
	}
	return nil
}

// SetBreak applies an approved break window.
func (s *LedgerService) SetBreak(ctx context.Context, teacherID string, date time.Time, minutes int) error {
	if minutes <= 0 || minutes > models.MaxBreakMinutes {
		return appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("break duration must be between 1 and %d minutes", models.MaxBreakMinutes))
	}
	ledger, err := s.load(ctx, teacherID, date)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	ledger.BreakDuration = minutes
	ledger.BreakChecked = true
	ledger.BreakCheckedAt = &now
	ledger.RecomputeTotalHours()
	return s.ledgers.Update(ctx, ledger)
}

func (s *LedgerService) load(ctx context.Context, teacherID string, date time.Time) (*models.TimeSlotLedger, error) {
	ledger, err := s.ledgers.GetOrCreate(ctx, teacherID, date)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	if ledger.Heal() {
		ledger.RecomputeTotalHours()
		if err := s.ledgers.Update(ctx, ledger); err != nil {
			return nil, fmt.Errorf("persist healed ledger: %w", err)
		}
	}
	return ledger, nil
}

// cancelPending is best-effort: the removal itself already succeeded and the
// reviewer can still reject a stale request by hand.
func (s *LedgerService) cancelPending(ctx context.Context, approvalType models.ApprovalType, naturalKey, reason string) {
	if s.pending == nil {
		return
	}
	req, err := s.pending.FindPending(ctx, approvalType, naturalKey)
	if err != nil {
		s.logger.Warn("pending lookup failed", zap.String("type", string(approvalType)), zap.Error(err))
		return
	}
	if req == nil {
		return
	}
	if err := s.pending.MarkRejected(ctx, req.ID, "", reason, time.Now().UTC()); err != nil {
		s.logger.Warn("pending auto-reject failed", zap.String("request_id", req.ID), zap.Error(err))
		return
	}
	s.queue.InvalidatePending(ctx)
}

func (s *LedgerService) emitAudit(ctx context.Context, userID, action, resourceID string) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "time_slot_ledger",
		ResourceID: &resourceID,
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}
