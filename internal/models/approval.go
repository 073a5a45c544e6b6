package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// ApprovalType discriminates the payload shape and the applier that runs
// when a request is approved.
type ApprovalType string

const (
	ApprovalTypeUnitStart     ApprovalType = "UNIT_START"
	ApprovalTypeUnitComplete  ApprovalType = "UNIT_COMPLETE"
	ApprovalTypeTimeSlot      ApprovalType = "TIME_SLOT"
	ApprovalTypeBreakTiming   ApprovalType = "BREAK_TIMING"
	ApprovalTypeSubjectAssign ApprovalType = "SUBJECT_ASSIGN"
)

// Valid returns true when the type is a supported value.
func (t ApprovalType) Valid() bool {
	switch t {
	case ApprovalTypeUnitStart, ApprovalTypeUnitComplete, ApprovalTypeTimeSlot,
		ApprovalTypeBreakTiming, ApprovalTypeSubjectAssign:
		return true
	default:
		return false
	}
}

// ApprovalStatus captures envelope workflow states. PENDING is the only
// non-terminal state.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "PENDING"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusRejected ApprovalStatus = "REJECTED"
)

// Terminal reports whether no further transition may leave the status.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalStatusApproved || s == ApprovalStatusRejected
}

// ApprovalRequest is the generic reviewable envelope around a typed action.
type ApprovalRequest struct {
	ID              string         `db:"id" json:"id"`
	Type            ApprovalType   `db:"type" json:"type"`
	Status          ApprovalStatus `db:"status" json:"status"`
	NaturalKey      string         `db:"natural_key" json:"-"`
	RequestData     types.JSONText `db:"request_data" json:"request_data"`
	RequestedBy     string         `db:"requested_by" json:"requested_by"`
	ApprovedBy      *string        `db:"approved_by" json:"approved_by,omitempty"`
	RejectionReason *string        `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	ApprovedAt      *time.Time     `db:"approved_at" json:"approved_at,omitempty"`
	RejectedAt      *time.Time     `db:"rejected_at" json:"rejected_at,omitempty"`
}

// ApprovalFilter constrains listing queries.
type ApprovalFilter struct {
	Status      []ApprovalStatus
	Type        ApprovalType
	RequestedBy string
	Limit       int
	Offset      int
}

// ApprovalPayload is implemented by every typed request payload. NaturalKey
// is the business-meaningful uniqueness tuple used to deduplicate concurrent
// submissions of the same action.
type ApprovalPayload interface {
	NaturalKey() string
}

// UnitStartPayload requests opening a unit for the named teacher.
type UnitStartPayload struct {
	UnitID    string `json:"unit_id"`
	TeacherID string `json:"teacher_id"`
}

func (p UnitStartPayload) NaturalKey() string {
	return joinKey(p.UnitID, p.TeacherID)
}

// UnitCompletePayload requests closing an in-progress unit.
type UnitCompletePayload struct {
	UnitID    string `json:"unit_id"`
	TeacherID string `json:"teacher_id"`
}

func (p UnitCompletePayload) NaturalKey() string {
	return joinKey(p.UnitID, p.TeacherID)
}

// TimeSlotPayload requests crediting one slot on a daily ledger.
type TimeSlotPayload struct {
	TeacherID string `json:"teacher_id"`
	Date      string `json:"date"`
	SlotID    string `json:"slot_id"`
}

func (p TimeSlotPayload) NaturalKey() string {
	return joinKey(p.TeacherID, p.Date, p.SlotID)
}

// BreakTimingPayload requests setting the break window on a daily ledger.
type BreakTimingPayload struct {
	TeacherID string `json:"teacher_id"`
	Date      string `json:"date"`
	Minutes   int    `json:"minutes"`
}

func (p BreakTimingPayload) NaturalKey() string {
	return joinKey(p.TeacherID, p.Date)
}

// SubjectAssignPayload requests the admin stage of a subject transfer.
type SubjectAssignPayload struct {
	AssignmentID string `json:"assignment_id"`
	SubjectID    string `json:"subject_id"`
}

func (p SubjectAssignPayload) NaturalKey() string {
	return p.SubjectID
}

// DecodePayload unmarshals raw request data into the payload shape for the
// given type, so appliers always receive a statically known struct.
func DecodePayload(t ApprovalType, raw []byte) (ApprovalPayload, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	var (
		payload ApprovalPayload
		err     error
	)
	switch t {
	case ApprovalTypeUnitStart:
		var p UnitStartPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case ApprovalTypeUnitComplete:
		var p UnitCompletePayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case ApprovalTypeTimeSlot:
		var p TimeSlotPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case ApprovalTypeBreakTiming:
		var p BreakTimingPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case ApprovalTypeSubjectAssign:
		var p SubjectAssignPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	default:
		return nil, fmt.Errorf("unsupported approval type %q", t)
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func joinKey(parts ...string) string {
	return strings.Join(parts, "|")
}
