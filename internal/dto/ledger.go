package dto

import "github.com/noah-isme/teacher-activity-api/internal/models"

// ImportScheduleRequest carries the supervisor timetable overlay for one day.
type ImportScheduleRequest struct {
	ScheduledSlotIDs []string               `json:"scheduled_slot_ids"`
	Entries          []models.ScheduleEntry `json:"entries"`
}
