package validation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/julianstephens/lessonsync/internal/constants"
	"github.com/julianstephens/lessonsync/internal/models"
	"github.com/julianstephens/lessonsync/internal/utils"
)

// ErrInvalidTemplate is returned when a recurrence template fails validation
var ErrInvalidTemplate = errors.New("invalid recurrence template")

// ConflictType represents the type of validation conflict
type ConflictType string

const (
	ConflictCollidingSlots   ConflictType = "colliding_slots"
	ConflictInvalidTime      ConflictType = "invalid_time"
	ConflictInvalidWeekday   ConflictType = "invalid_weekday"
	ConflictInvalidDuration  ConflictType = "invalid_duration"
	ConflictInvalidDateRange ConflictType = "invalid_date_range"
	ConflictOverlappingSlots ConflictType = "overlapping_slots"
)

// Conflict represents a detected problem in a template
type Conflict struct {
	Type        ConflictType
	Description string
	Slots       []int // indexes of the slots involved
}

// Result contains all detected conflicts
type Result struct {
	Conflicts []Conflict
	// Warnings do not block saving a template
	Warnings []Conflict
}

// HasConflicts returns true if there are any conflicts
func (r *Result) HasConflicts() bool {
	return len(r.Conflicts) > 0
}

// FormatReport returns a human-readable report of all conflicts and warnings
func (r *Result) FormatReport() string {
	if !r.HasConflicts() && len(r.Warnings) == 0 {
		return "No conflicts detected."
	}

	var b strings.Builder
	if r.HasConflicts() {
		b.WriteString("Conflicts detected:\n")
		for _, c := range r.Conflicts {
			fmt.Fprintf(&b, "- %s\n", c.Description)
		}
	}
	if len(r.Warnings) > 0 {
		b.WriteString("Warnings:\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&b, "- %s\n", w.Description)
		}
	}
	return b.String()
}

// Err returns nil when the result has no conflicts, otherwise an error wrapping ErrInvalidTemplate
func (r *Result) Err() error {
	if !r.HasConflicts() {
		return nil
	}
	descs := make([]string, len(r.Conflicts))
	for i, c := range r.Conflicts {
		descs[i] = c.Description
	}
	return fmt.Errorf("%w: %s", ErrInvalidTemplate, strings.Join(descs, "; "))
}

// ValidateTemplate checks a recurrence template before it is written.
// Slots sharing (weekday, time of day) are rejected here so that projection
// never has to merge duplicate instants.
func ValidateTemplate(tmpl models.RecurrenceTemplate) Result {
	result := Result{Conflicts: []Conflict{}}

	type slotKey struct {
		weekday time.Weekday
		minutes int
	}
	seen := make(map[slotKey]int)
	var valid []int

	for i, slot := range tmpl.Slots {
		if slot.Weekday < time.Sunday || slot.Weekday > time.Saturday {
			result.Conflicts = append(result.Conflicts, Conflict{
				Type:        ConflictInvalidWeekday,
				Description: fmt.Sprintf("Slot %d has invalid weekday %d (expected 0-6)", i+1, slot.Weekday),
				Slots:       []int{i},
			})
			continue
		}

		minutes, err := utils.ParseTimeToMinutes(slot.TimeOfDay)
		if err != nil {
			result.Conflicts = append(result.Conflicts, Conflict{
				Type:        ConflictInvalidTime,
				Description: fmt.Sprintf("Slot %d has invalid time of day: %q", i+1, slot.TimeOfDay),
				Slots:       []int{i},
			})
			continue
		}

		if slot.DurationMin <= 0 {
			result.Conflicts = append(result.Conflicts, Conflict{
				Type:        ConflictInvalidDuration,
				Description: fmt.Sprintf("Slot %d has non-positive duration: %d", i+1, slot.DurationMin),
				Slots:       []int{i},
			})
		}

		key := slotKey{weekday: slot.Weekday, minutes: minutes}
		if prev, ok := seen[key]; ok {
			result.Conflicts = append(result.Conflicts, Conflict{
				Type:        ConflictCollidingSlots,
				Description: fmt.Sprintf("Slots %d and %d both start %s at %s", prev+1, i+1, slot.Weekday, slot.TimeOfDay),
				Slots:       []int{prev, i},
			})
			continue
		}
		seen[key] = i
		valid = append(valid, i)
	}

	result.Conflicts = append(result.Conflicts, validateDateRange(tmpl)...)
	result.Warnings = append(result.Warnings, findOverlaps(tmpl, valid)...)

	return result
}

func validateDateRange(tmpl models.RecurrenceTemplate) []Conflict {
	var conflicts []Conflict

	from, err := time.Parse(constants.DateFormat, tmpl.ActiveFrom)
	if err != nil {
		return append(conflicts, Conflict{
			Type:        ConflictInvalidDateRange,
			Description: fmt.Sprintf("Template has invalid active_from date: %q", tmpl.ActiveFrom),
		})
	}
	if tmpl.IsOpenEnded() {
		return conflicts
	}
	until, err := time.Parse(constants.DateFormat, tmpl.ActiveUntil)
	if err != nil {
		return append(conflicts, Conflict{
			Type:        ConflictInvalidDateRange,
			Description: fmt.Sprintf("Template has invalid active_until date: %q", tmpl.ActiveUntil),
		})
	}
	if until.Before(from) {
		conflicts = append(conflicts, Conflict{
			Type:        ConflictInvalidDateRange,
			Description: fmt.Sprintf("Template active_until (%s) is before active_from (%s)", tmpl.ActiveUntil, tmpl.ActiveFrom),
		})
	}
	return conflicts
}

// findOverlaps reports slots on the same weekday whose time ranges overlap.
// Overlap is allowed (a double lesson is legitimate) but worth surfacing.
func findOverlaps(tmpl models.RecurrenceTemplate, indexes []int) []Conflict {
	byDay := make(map[time.Weekday][]int)
	for _, i := range indexes {
		byDay[tmpl.Slots[i].Weekday] = append(byDay[tmpl.Slots[i].Weekday], i)
	}

	var warnings []Conflict
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		idx := byDay[wd]
		sort.Slice(idx, func(a, b int) bool {
			return tmpl.Slots[idx[a]].TimeOfDay < tmpl.Slots[idx[b]].TimeOfDay
		})
		for k := 1; k < len(idx); k++ {
			prev, cur := tmpl.Slots[idx[k-1]], tmpl.Slots[idx[k]]
			prevStart, _ := utils.ParseTimeToMinutes(prev.TimeOfDay)
			curStart, _ := utils.ParseTimeToMinutes(cur.TimeOfDay)
			if prevStart+prev.DurationMin > curStart {
				warnings = append(warnings, Conflict{
					Type:        ConflictOverlappingSlots,
					Description: fmt.Sprintf("%s slots at %s and %s overlap", wd, prev.TimeOfDay, cur.TimeOfDay),
					Slots:       []int{idx[k-1], idx[k]},
				})
			}
		}
	}
	return warnings
}
