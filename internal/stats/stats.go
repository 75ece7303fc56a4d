// Package stats computes streaks and completion ratios for a subject from its
// sparse completion log, measured against the weekdays its template is active.
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/julianstephens/lessonsync/internal/logger"
	"github.com/julianstephens/lessonsync/internal/models"
	"github.com/julianstephens/lessonsync/internal/scheduler"
	"github.com/julianstephens/lessonsync/internal/utils"
)

// calendar answers "is this day active" for one template.
// A template without slots counts every day as active.
type calendar struct {
	days map[time.Weekday]bool
}

func newCalendar(tmpl models.RecurrenceTemplate) calendar {
	days := scheduler.ActiveWeekdays(tmpl)
	if len(days) == 0 {
		for wd := time.Sunday; wd <= time.Saturday; wd++ {
			days[wd] = true
		}
	}
	return calendar{days: days}
}

func (c calendar) active(day time.Time) bool {
	return c.days[day.Weekday()]
}

// next returns the first active day strictly after day
func (c calendar) next(day time.Time) time.Time {
	for i := 0; i < 7; i++ {
		day = day.AddDate(0, 0, 1)
		if c.active(day) {
			break
		}
	}
	return day
}

// onOrBefore returns day if it is active, otherwise the closest earlier active day
func (c calendar) onOrBefore(day time.Time) time.Time {
	for i := 0; i < 7 && !c.active(day); i++ {
		day = day.AddDate(0, 0, -1)
	}
	return day
}

// count returns the number of active days in [from, to]
func (c calendar) count(from, to time.Time) int {
	n := 0
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if c.active(d) {
			n++
		}
	}
	return n
}

// Compute derives streak and ratio figures for one subject. now is read once
// by the caller; every boundary below is derived from it in loc.
func Compute(tmpl models.RecurrenceTemplate, entries []models.CompletionLogEntry, now time.Time, loc *time.Location) models.Stats {
	if loc == nil {
		loc = time.Local
	}
	cal := newCalendar(tmpl)
	today := utils.StartOfDay(now.In(loc))

	// Completed days up to and including today, ascending
	done := make(map[string]bool)
	var days []time.Time
	var minutes []int
	for _, e := range entries {
		if !e.IsCompleted {
			continue
		}
		day, err := utils.ParseDateInLocation(e.Day, loc)
		if err != nil {
			logger.Debug("Skipping completion with bad day", "subject", e.SubjectID, "day", e.Day)
			continue
		}
		if day.After(today) || done[e.Day] {
			continue
		}
		done[e.Day] = true
		days = append(days, day)
		if e.CompletedAt != nil {
			at := e.CompletedAt.In(loc)
			minutes = append(minutes, at.Hour()*60+at.Minute())
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	var st models.Stats
	st.Streak = currentStreak(cal, done, today, days)
	st.BestStreak = max(bestStreak(cal, days), st.Streak)

	weekStart := utils.WeekStart(today)
	weekEnd := weekStart.AddDate(0, 0, 6)
	st.WeekTotal = cal.count(weekStart, weekEnd)
	st.WeekCount = countDone(cal, days, weekStart, weekEnd)

	monthStart := utils.MonthStart(today)
	monthEnd := monthStart.AddDate(0, 1, -1)
	st.MonthTotal = cal.count(monthStart, monthEnd)
	st.MonthCount = countDone(cal, days, monthStart, monthEnd)

	if len(days) > 0 {
		if total := cal.count(days[0], today); total > 0 {
			st.TotalRate = float64(countDone(cal, days, days[0], today)) / float64(total)
		}
	}

	if len(minutes) > 0 {
		sum := 0
		for _, m := range minutes {
			sum += m
		}
		avg := utils.FormatMinutes(int(math.Round(float64(sum) / float64(len(minutes)))))
		st.AvgCompletionTime = &avg
	}

	return st
}

// currentStreak walks back from the latest active day on or before today and
// stops at the first active day without a completion.
func currentStreak(cal calendar, done map[string]bool, today time.Time, days []time.Time) int {
	if len(days) == 0 {
		return 0
	}
	earliest := days[0]
	streak := 0
	for day := cal.onOrBefore(today); !day.Before(earliest); day = cal.onOrBefore(day.AddDate(0, 0, -1)) {
		if !done[utils.DayString(day)] {
			break
		}
		streak++
	}
	return streak
}

// bestStreak scans completions in ascending order. A completion extends the
// run only when it lands on the active day right after the previous one.
func bestStreak(cal calendar, days []time.Time) int {
	best, run := 0, 0
	var prev time.Time
	for _, day := range days {
		if !cal.active(day) {
			continue
		}
		if run > 0 && cal.next(prev).Equal(day) {
			run++
		} else {
			run = 1
		}
		best = max(best, run)
		prev = day
	}
	return best
}

func countDone(cal calendar, days []time.Time, from, to time.Time) int {
	n := 0
	for _, d := range days {
		if d.Before(from) || d.After(to) || !cal.active(d) {
			continue
		}
		n++
	}
	return n
}
