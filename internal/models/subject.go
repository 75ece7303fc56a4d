package models

import (
	"time"

	"github.com/julianstephens/lessonsync/internal/constants"
)

// Slot is one weekly occurrence of a recurrence template
type Slot struct {
	Weekday     time.Weekday `json:"weekday"`      // 0=Sunday .. 6=Saturday
	TimeOfDay   string       `json:"time_of_day"`  // HH:MM format
	DurationMin int          `json:"duration_min"` // minutes
}

// RecurrenceTemplate describes when a subject's lessons recur
type RecurrenceTemplate struct {
	Slots       []Slot `json:"slots"`
	ActiveFrom  string `json:"active_from"`            // YYYY-MM-DD format
	ActiveUntil string `json:"active_until,omitempty"` // YYYY-MM-DD format, empty means open-ended
}

// IsOpenEnded reports whether the template has no end date
func (t RecurrenceTemplate) IsOpenEnded() bool {
	return t.ActiveUntil == ""
}

// Subject is a student or habit that owns a recurring schedule
type Subject struct {
	ID         string                `json:"id"`
	Name       string                `json:"name"`
	Kind       constants.SubjectKind `json:"kind"`
	Template   RecurrenceTemplate    `json:"template"`
	Active     bool                  `json:"active"`
	CreatedAt  time.Time             `json:"created_at"`
	ArchivedAt *time.Time            `json:"archived_at,omitempty"`
}
