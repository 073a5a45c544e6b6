package dto

// CreateAssignmentRequest payload for requesting a subject transfer.
// FromTeacherID may be omitted; it defaults to the subject's current owner.
// UnitIDs may be omitted; remaining units are then computed server-side.
type CreateAssignmentRequest struct {
	SubjectID     string   `json:"subject_id" validate:"required"`
	ToTeacherID   string   `json:"to_teacher_id" validate:"required"`
	FromTeacherID *string  `json:"from_teacher_id,omitempty"`
	Reason        string   `json:"reason" validate:"required"`
	UnitIDs       []string `json:"unit_ids,omitempty"`
}

// AssignmentDecisionRequest captures an approve/reject decision at either
// stage of the transfer workflow.
type AssignmentDecisionRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason"`
}
