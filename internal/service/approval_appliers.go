package service

import (
	"context"
	"fmt"
	"time"

	"github.com/noah-isme/teacher-activity-api/internal/models"
	appErrors "github.com/noah-isme/teacher-activity-api/pkg/errors"
)

// NewApprovalAppliers binds every supported request type to the domain
// service that carries out its effect.
func NewApprovalAppliers(ledgers *LedgerService, units *UnitService, assignments *AssignmentService) map[models.ApprovalType]ApprovalApplier {
	return map[models.ApprovalType]ApprovalApplier{
		models.ApprovalTypeTimeSlot:      timeSlotApplier{ledgers: ledgers},
		models.ApprovalTypeBreakTiming:   breakTimingApplier{ledgers: ledgers},
		models.ApprovalTypeUnitStart:     unitStartApplier{units: units},
		models.ApprovalTypeUnitComplete:  unitCompleteApplier{units: units},
		models.ApprovalTypeSubjectAssign: subjectAssignApplier{assignments: assignments},
	}
}

type timeSlotApplier struct {
	ledgers *LedgerService
}

func (a timeSlotApplier) Validate(ctx context.Context, payload models.ApprovalPayload) error {
	p, date, err := timeSlotFields(payload)
	if err != nil {
		return err
	}
	return a.ledgers.EnsureSlotSelectable(ctx, p.TeacherID, date, p.SlotID)
}

func (a timeSlotApplier) Apply(ctx context.Context, payload models.ApprovalPayload, _ string) error {
	p, date, err := timeSlotFields(payload)
	if err != nil {
		return err
	}
	return a.ledgers.CheckSlot(ctx, p.TeacherID, date, p.SlotID)
}

func timeSlotFields(payload models.ApprovalPayload) (models.TimeSlotPayload, time.Time, error) {
	p, ok := payload.(models.TimeSlotPayload)
	if !ok {
		return models.TimeSlotPayload{}, time.Time{}, unexpectedPayload(payload)
	}
	date, err := parseLedgerDate(p.Date)
	if err != nil {
		return models.TimeSlotPayload{}, time.Time{}, err
	}
	return p, date, nil
}

type breakTimingApplier struct {
	ledgers *LedgerService
}

func (a breakTimingApplier) Validate(ctx context.Context, payload models.ApprovalPayload) error {
	p, date, err := breakTimingFields(payload)
	if err != nil {
		return err
	}
	return a.ledgers.EnsureBreakSettable(ctx, p.TeacherID, date, p.Minutes)
}

func (a breakTimingApplier) Apply(ctx context.Context, payload models.ApprovalPayload, _ string) error {
	p, date, err := breakTimingFields(payload)
	if err != nil {
		return err
	}
	return a.ledgers.SetBreak(ctx, p.TeacherID, date, p.Minutes)
}

func breakTimingFields(payload models.ApprovalPayload) (models.BreakTimingPayload, time.Time, error) {
	p, ok := payload.(models.BreakTimingPayload)
	if !ok {
		return models.BreakTimingPayload{}, time.Time{}, unexpectedPayload(payload)
	}
	date, err := parseLedgerDate(p.Date)
	if err != nil {
		return models.BreakTimingPayload{}, time.Time{}, err
	}
	return p, date, nil
}

type unitStartApplier struct {
	units *UnitService
}

func (a unitStartApplier) Validate(ctx context.Context, payload models.ApprovalPayload) error {
	p, ok := payload.(models.UnitStartPayload)
	if !ok {
		return unexpectedPayload(payload)
	}
	return a.units.EnsureStartable(ctx, p.UnitID, p.TeacherID)
}

func (a unitStartApplier) Apply(ctx context.Context, payload models.ApprovalPayload, _ string) error {
	p, ok := payload.(models.UnitStartPayload)
	if !ok {
		return unexpectedPayload(payload)
	}
	_, err := a.units.Start(ctx, p.UnitID, p.TeacherID)
	return err
}

type unitCompleteApplier struct {
	units *UnitService
}

func (a unitCompleteApplier) Validate(ctx context.Context, payload models.ApprovalPayload) error {
	p, ok := payload.(models.UnitCompletePayload)
	if !ok {
		return unexpectedPayload(payload)
	}
	return a.units.EnsureCompletable(ctx, p.UnitID, p.TeacherID)
}

func (a unitCompleteApplier) Apply(ctx context.Context, payload models.ApprovalPayload, _ string) error {
	p, ok := payload.(models.UnitCompletePayload)
	if !ok {
		return unexpectedPayload(payload)
	}
	_, err := a.units.Complete(ctx, p.UnitID, p.TeacherID)
	return err
}

type subjectAssignApplier struct {
	assignments *AssignmentService
}

func (a subjectAssignApplier) Validate(ctx context.Context, payload models.ApprovalPayload) error {
	p, ok := payload.(models.SubjectAssignPayload)
	if !ok {
		return unexpectedPayload(payload)
	}
	return a.assignments.EnsureAdminDecidable(ctx, p.AssignmentID)
}

func (a subjectAssignApplier) Apply(ctx context.Context, payload models.ApprovalPayload, reviewerID string) error {
	p, ok := payload.(models.SubjectAssignPayload)
	if !ok {
		return unexpectedPayload(payload)
	}
	return a.assignments.ApproveFromQueue(ctx, p.AssignmentID, reviewerID)
}

func parseLedgerDate(raw string) (time.Time, error) {
	date, err := time.Parse(models.DateFormat, raw)
	if err != nil {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("date must be in %s format", models.DateFormat))
	}
	return date, nil
}

func unexpectedPayload(payload models.ApprovalPayload) error {
	return appErrors.Clone(appErrors.ErrInternal, fmt.Sprintf("unexpected payload type %T", payload))
}
