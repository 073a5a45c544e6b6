package models

import "time"

// AssignmentStatus captures the two-stage transfer workflow states. The
// explicit four-state machine makes a recipient approval without a prior
// admin approval unrepresentable.
type AssignmentStatus string

const (
	AssignmentStatusPending       AssignmentStatus = "PENDING"
	AssignmentStatusAdminApproved AssignmentStatus = "ADMIN_APPROVED"
	AssignmentStatusApproved      AssignmentStatus = "APPROVED"
	AssignmentStatusRejected      AssignmentStatus = "REJECTED"
)

// Terminal reports whether no further transition may leave the status.
func (s AssignmentStatus) Terminal() bool {
	return s == AssignmentStatusApproved || s == AssignmentStatusRejected
}

// SubjectAssignment tracks the reassignment of a subject between teachers.
// FromTeacherID is nil for ownerless subjects (a fresh assignment rather
// than a transfer). No data moves until the recipient accepts.
type SubjectAssignment struct {
	ID                 string           `db:"id" json:"id"`
	SubjectID          string           `db:"subject_id" json:"subject_id"`
	FromTeacherID      *string          `db:"from_teacher_id" json:"from_teacher_id,omitempty"`
	ToTeacherID        string           `db:"to_teacher_id" json:"to_teacher_id"`
	RemainingUnits     StringList       `db:"remaining_units" json:"remaining_units"`
	Reason             string           `db:"reason" json:"reason"`
	Status             AssignmentStatus `db:"status" json:"status"`
	AdminDecidedBy     *string          `db:"admin_decided_by" json:"admin_decided_by,omitempty"`
	AdminDecidedAt     *time.Time       `db:"admin_decided_at" json:"admin_decided_at,omitempty"`
	RecipientDecidedAt *time.Time       `db:"recipient_decided_at" json:"recipient_decided_at,omitempty"`
	RejectionReason    *string          `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt          time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time        `db:"updated_at" json:"updated_at"`
}

// AssignmentFilter constrains listing queries.
type AssignmentFilter struct {
	SubjectID   string
	ToTeacherID string
	Status      []AssignmentStatus
	Limit       int
	Offset      int
}
