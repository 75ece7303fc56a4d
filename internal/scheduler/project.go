package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/julianstephens/lessonsync/internal/models"
	"github.com/julianstephens/lessonsync/internal/utils"
)

// ErrSlotCollision is returned when two template slots project onto the same instant.
// It signals a template invariant violation and must be fixed at template-write time.
var ErrSlotCollision = errors.New("template slots collide")

// Window is an inclusive range of instants.
type Window struct {
	Start time.Time
	End   time.Time
}

// DateWindow returns the window covering every instant of the calendar days
// from..to (inclusive) in loc.
func DateWindow(from, to string, loc *time.Location) (Window, error) {
	start, err := utils.ParseDateInLocation(from, loc)
	if err != nil {
		return Window{}, fmt.Errorf("invalid window start %q: %w", from, err)
	}
	end, err := utils.ParseDateInLocation(to, loc)
	if err != nil {
		return Window{}, fmt.Errorf("invalid window end %q: %w", to, err)
	}
	if end.Before(start) {
		return Window{}, fmt.Errorf("window end %s is before start %s", to, from)
	}
	return Window{Start: start, End: end.AddDate(0, 0, 1).Add(-time.Millisecond)}, nil
}

// Contains reports whether t lies within the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Occurrence is a projected lesson: an instant and a duration.
type Occurrence struct {
	Start       time.Time
	DurationMin int
}

// Project expands tmpl into the occurrences that fall in window, are not
// before now, and lie within the template's active date range.
//
// Weeks are iterated Monday-first from the week containing window.Start;
// all calendar math happens in window.Start's location.
func Project(tmpl models.RecurrenceTemplate, window Window, now time.Time) ([]Occurrence, error) {
	if window.End.Before(window.Start) || len(tmpl.Slots) == 0 {
		return nil, nil
	}

	loc := window.Start.Location()
	activeFrom, activeUntil, err := activeRange(tmpl, loc)
	if err != nil {
		return nil, err
	}

	// Resolve each slot's time of day once
	type resolved struct {
		offset   int
		hour     int
		minute   int
		duration int
	}
	slots := make([]resolved, 0, len(tmpl.Slots))
	for _, slot := range tmpl.Slots {
		minutes, err := utils.ParseTimeToMinutes(slot.TimeOfDay)
		if err != nil {
			return nil, fmt.Errorf("invalid slot time %q: %w", slot.TimeOfDay, err)
		}
		slots = append(slots, resolved{
			offset:   utils.MondayOffset(slot.Weekday),
			hour:     minutes / 60,
			minute:   minutes % 60,
			duration: slot.DurationMin,
		})
	}

	var out []Occurrence
	seen := make(map[int64]struct{})
	for week := utils.WeekStart(window.Start.In(loc)); !week.After(window.End); week = week.AddDate(0, 0, 7) {
		for _, slot := range slots {
			day := week.AddDate(0, 0, slot.offset)
			start := time.Date(day.Year(), day.Month(), day.Day(), slot.hour, slot.minute, 0, 0, loc)

			// (a) outside window
			if !window.Contains(start) {
				continue
			}
			// (b) no backdating
			if start.Before(now) {
				continue
			}
			// (c) template not active on this day
			if day.Before(activeFrom) {
				continue
			}
			if activeUntil != nil && day.After(*activeUntil) {
				continue
			}

			key := models.InstantKey(start)
			if _, dup := seen[key]; dup {
				return nil, fmt.Errorf("%w: two slots produce %s", ErrSlotCollision, start.Format(time.RFC3339))
			}
			seen[key] = struct{}{}
			out = append(out, Occurrence{Start: start, DurationMin: slot.duration})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

// ActiveWeekdays returns the set of weekdays the template schedules.
func ActiveWeekdays(tmpl models.RecurrenceTemplate) map[time.Weekday]bool {
	days := make(map[time.Weekday]bool, len(tmpl.Slots))
	for _, slot := range tmpl.Slots {
		days[slot.Weekday] = true
	}
	return days
}

// EffectiveStart is the later of the template's first active day and now.
func EffectiveStart(tmpl models.RecurrenceTemplate, now time.Time, loc *time.Location) (time.Time, error) {
	now = now.In(loc)
	if tmpl.ActiveFrom == "" {
		return now, nil
	}
	from, err := utils.ParseDateInLocation(tmpl.ActiveFrom, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid active_from %q: %w", tmpl.ActiveFrom, err)
	}
	if from.After(now) {
		return from, nil
	}
	return now, nil
}

func activeRange(tmpl models.RecurrenceTemplate, loc *time.Location) (time.Time, *time.Time, error) {
	var from time.Time
	if tmpl.ActiveFrom != "" {
		t, err := utils.ParseDateInLocation(tmpl.ActiveFrom, loc)
		if err != nil {
			return time.Time{}, nil, fmt.Errorf("invalid active_from %q: %w", tmpl.ActiveFrom, err)
		}
		from = t
	}
	if tmpl.IsOpenEnded() {
		return from, nil, nil
	}
	until, err := utils.ParseDateInLocation(tmpl.ActiveUntil, loc)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("invalid active_until %q: %w", tmpl.ActiveUntil, err)
	}
	return from, &until, nil
}
