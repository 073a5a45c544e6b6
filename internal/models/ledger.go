package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// MaxBreakMinutes bounds the break window on a daily ledger.
const MaxBreakMinutes = 120

// SlotDefinition describes one fixed time slot in the daily catalog.
type SlotDefinition struct {
	ID              string `json:"id"`
	Label           string `json:"label"`
	DurationMinutes int    `json:"duration_minutes"`
}

// SlotCatalog is the fixed set of creditable slots for a teaching day.
// Ledgers persisted before a catalog change are healed on read.
var SlotCatalog = []SlotDefinition{
	{ID: "slot-07-08", Label: "07:00 - 08:00", DurationMinutes: 60},
	{ID: "slot-08-09", Label: "08:00 - 09:00", DurationMinutes: 60},
	{ID: "slot-09-10", Label: "09:00 - 10:00", DurationMinutes: 60},
	{ID: "slot-10-11", Label: "10:00 - 11:00", DurationMinutes: 60},
	{ID: "slot-11-12", Label: "11:00 - 12:00", DurationMinutes: 60},
	{ID: "slot-12-13", Label: "12:00 - 13:00", DurationMinutes: 60},
	{ID: "slot-13-14", Label: "13:00 - 14:00", DurationMinutes: 60},
	{ID: "slot-14-15", Label: "14:00 - 15:00", DurationMinutes: 60},
}

// SlotDefinitionByID looks up a catalog entry.
func SlotDefinitionByID(id string) (SlotDefinition, bool) {
	for _, def := range SlotCatalog {
		if def.ID == id {
			return def, true
		}
	}
	return SlotDefinition{}, false
}

// LedgerSlot is one selectable slot on a teacher's daily ledger.
type LedgerSlot struct {
	SlotID          string     `json:"slot_id"`
	Label           string     `json:"label"`
	DurationMinutes int        `json:"duration_minutes"`
	Checked         bool       `json:"checked"`
	CheckedAt       *time.Time `json:"checked_at,omitempty"`
	// Locked is migration debris from a retired once-checked-always-locked
	// rule; it is cleared whenever a ledger is healed on read.
	Locked bool `json:"locked,omitempty"`
}

// LedgerSlots is the JSONB-persisted slot set.
type LedgerSlots []LedgerSlot

// Value marshals slots to JSON for persistence.
func (s LedgerSlots) Value() (driver.Value, error) {
	if s == nil {
		s = LedgerSlots{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal ledger slots: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the slot set.
func (s *LedgerSlots) Scan(value interface{}) error {
	if value == nil {
		*s = LedgerSlots{}
		return nil
	}
	data, err := jsonSource(value)
	if err != nil {
		return fmt.Errorf("ledger slots: %w", err)
	}
	if len(data) == 0 {
		*s = LedgerSlots{}
		return nil
	}
	if err := json.Unmarshal(data, s); err != nil {
		return fmt.Errorf("unmarshal ledger slots: %w", err)
	}
	return nil
}

// ScheduleEntry is one supervisor-imported timetable row. It is advisory
// metadata for the UI, never a source of truth for credited hours.
type ScheduleEntry struct {
	SubjectName string   `json:"subject_name"`
	Batch       string   `json:"batch"`
	SlotIDs     []string `json:"slot_ids"`
}

// ScheduleEntries is the JSONB-persisted overlay.
type ScheduleEntries []ScheduleEntry

// Value marshals entries to JSON for persistence.
func (e ScheduleEntries) Value() (driver.Value, error) {
	if e == nil {
		e = ScheduleEntries{}
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal schedule entries: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the overlay.
func (e *ScheduleEntries) Scan(value interface{}) error {
	if value == nil {
		*e = ScheduleEntries{}
		return nil
	}
	data, err := jsonSource(value)
	if err != nil {
		return fmt.Errorf("schedule entries: %w", err)
	}
	if len(data) == 0 {
		*e = ScheduleEntries{}
		return nil
	}
	if err := json.Unmarshal(data, e); err != nil {
		return fmt.Errorf("unmarshal schedule entries: %w", err)
	}
	return nil
}

// TimeSlotLedger is the per-teacher-per-day record of slot and break
// selections and the derived credited hours. One row per (teacher, date).
type TimeSlotLedger struct {
	ID               string          `db:"id" json:"id"`
	TeacherID        string          `db:"teacher_id" json:"teacher_id"`
	Date             time.Time       `db:"date" json:"date"`
	Slots            LedgerSlots     `db:"slots" json:"slots"`
	BreakDuration    int             `db:"break_duration" json:"break_duration"`
	BreakChecked     bool            `db:"break_checked" json:"break_checked"`
	BreakCheckedAt   *time.Time      `db:"break_checked_at" json:"break_checked_at,omitempty"`
	ScheduledSlotIDs StringList      `db:"scheduled_slot_ids" json:"scheduled_slot_ids"`
	ScheduleEntries  ScheduleEntries `db:"schedule_entries" json:"schedule_entries"`
	TotalHours       float64         `db:"total_hours" json:"total_hours"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// NewTimeSlotLedger builds an empty ledger with the full slot catalog.
func NewTimeSlotLedger(teacherID string, date time.Time) *TimeSlotLedger {
	slots := make(LedgerSlots, 0, len(SlotCatalog))
	for _, def := range SlotCatalog {
		slots = append(slots, LedgerSlot{
			SlotID:          def.ID,
			Label:           def.Label,
			DurationMinutes: def.DurationMinutes,
		})
	}
	return &TimeSlotLedger{
		TeacherID:        teacherID,
		Date:             date,
		Slots:            slots,
		ScheduledSlotIDs: StringList{},
		ScheduleEntries:  ScheduleEntries{},
	}
}

// Slot returns a pointer to the slot with the given id, or nil.
func (l *TimeSlotLedger) Slot(slotID string) *LedgerSlot {
	for i := range l.Slots {
		if l.Slots[i].SlotID == slotID {
			return &l.Slots[i]
		}
	}
	return nil
}

// Heal reconciles the persisted slot set with the current catalog: missing
// catalog slots are added unchecked, labels and durations are refreshed, and
// legacy lock flags are cleared. Returns true when anything changed.
func (l *TimeSlotLedger) Heal() bool {
	changed := false
	for _, def := range SlotCatalog {
		slot := l.Slot(def.ID)
		if slot == nil {
			l.Slots = append(l.Slots, LedgerSlot{
				SlotID:          def.ID,
				Label:           def.Label,
				DurationMinutes: def.DurationMinutes,
			})
			changed = true
			continue
		}
		if slot.Label != def.Label || slot.DurationMinutes != def.DurationMinutes {
			slot.Label = def.Label
			slot.DurationMinutes = def.DurationMinutes
			changed = true
		}
		if slot.Locked {
			slot.Locked = false
			changed = true
		}
	}
	return changed
}

// RecomputeTotalHours derives credited hours from the current selections.
// Client-supplied totals are never trusted; callers must invoke this before
// every persist.
func (l *TimeSlotLedger) RecomputeTotalHours() {
	minutes := 0
	for _, slot := range l.Slots {
		if slot.Checked {
			minutes += slot.DurationMinutes
		}
	}
	if l.BreakChecked {
		minutes -= l.BreakDuration
	}
	if minutes < 0 {
		minutes = 0
	}
	l.TotalHours = float64(minutes) / 60
}
