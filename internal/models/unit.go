package models

import "time"

// UnitStatus tracks curriculum-unit progression for one teacher.
type UnitStatus string

const (
	UnitStatusNotStarted UnitStatus = "NOT_STARTED"
	UnitStatusInProgress UnitStatus = "IN_PROGRESS"
	UnitStatusCompleted  UnitStatus = "COMPLETED"
)

// Valid returns true when the status is a supported value.
func (s UnitStatus) Valid() bool {
	switch s {
	case UnitStatusNotStarted, UnitStatusInProgress, UnitStatusCompleted:
		return true
	default:
		return false
	}
}

// UnitLog records a teacher's progress on one curriculum unit. One row per
// (unit, teacher); a completed log is reopened in place on restart rather
// than duplicated.
type UnitLog struct {
	ID           string     `db:"id" json:"id"`
	UnitID       string     `db:"unit_id" json:"unit_id"`
	TeacherID    string     `db:"teacher_id" json:"teacher_id"`
	SubjectID    string     `db:"subject_id" json:"subject_id"`
	Status       UnitStatus `db:"status" json:"status"`
	StartTime    *time.Time `db:"start_time" json:"start_time,omitempty"`
	EndTime      *time.Time `db:"end_time" json:"end_time,omitempty"`
	TotalMinutes *int       `db:"total_minutes" json:"total_minutes,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// UnitLogDetail enriches a log with unit and subject names.
type UnitLogDetail struct {
	UnitLog
	UnitName    string `db:"unit_name" json:"unit_name"`
	SubjectName string `db:"subject_name" json:"subject_name"`
}

// UnitLogFilter scopes listing queries.
type UnitLogFilter struct {
	TeacherID string
	SubjectID string
	Status    *UnitStatus
	Limit     int
	Offset    int
}
