package stats

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianstephens/lessonsync/internal/models"
)

func mwf() models.RecurrenceTemplate {
	tmpl := models.RecurrenceTemplate{ActiveFrom: "2024-01-01"}
	for _, d := range []time.Weekday{time.Monday, time.Wednesday, time.Friday} {
		tmpl.Slots = append(tmpl.Slots, models.Slot{Weekday: d, TimeOfDay: "09:00", DurationMin: 40})
	}
	return tmpl
}

func at(day string, hour, minute int) time.Time {
	t, err := time.Parse("2006-01-02", day)
	if err != nil {
		panic(err)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, time.UTC)
}

func completed(days ...string) []models.CompletionLogEntry {
	entries := make([]models.CompletionLogEntry, len(days))
	for i, d := range days {
		entries[i] = models.CompletionLogEntry{SubjectID: "s1", Day: d, IsCompleted: true}
	}
	return entries
}

func TestCompute_EmptyLog(t *testing.T) {
	st := Compute(mwf(), nil, at("2024-01-10", 12, 0), time.UTC)

	assert.Equal(t, 0, st.Streak)
	assert.Equal(t, 0, st.BestStreak)
	assert.Equal(t, 0, st.WeekCount)
	assert.Equal(t, 3, st.WeekTotal)
	assert.Equal(t, 14, st.MonthTotal)
	assert.Zero(t, st.TotalRate)
	assert.Nil(t, st.AvgCompletionTime)
}

func TestCompute_StreakFromInactiveToday(t *testing.T) {
	// Saturday: the walk starts at Friday
	st := Compute(mwf(), completed("2024-01-08", "2024-01-10", "2024-01-12"), at("2024-01-13", 12, 0), time.UTC)

	assert.Equal(t, 3, st.Streak)
	assert.Equal(t, 3, st.BestStreak)
	assert.Equal(t, 3, st.WeekCount)
	assert.Equal(t, 3, st.WeekTotal)
	assert.Equal(t, 3, st.MonthCount)
	assert.Equal(t, 14, st.MonthTotal)
	assert.InDelta(t, 1.0, st.TotalRate, 1e-9)
}

func TestCompute_ZeroWhenLatestActiveDayMissing(t *testing.T) {
	// Monday has no completion yet
	st := Compute(mwf(), completed("2024-01-08", "2024-01-10", "2024-01-12"), at("2024-01-15", 18, 0), time.UTC)

	assert.Equal(t, 0, st.Streak)
	assert.Equal(t, 3, st.BestStreak)
}

func TestCompute_GapBreaksStreak(t *testing.T) {
	// Mon and Wed of last week, Mon of this week; last Friday missing
	entries := completed("2024-01-08", "2024-01-10", "2024-01-15")
	st := Compute(mwf(), entries, at("2024-01-15", 18, 0), time.UTC)

	assert.Equal(t, 1, st.Streak)
	assert.Equal(t, 2, st.BestStreak)
}

func TestCompute_IgnoresUncompletedAndFutureEntries(t *testing.T) {
	entries := completed("2024-01-08", "2024-01-10", "2024-01-17")
	entries = append(entries, models.CompletionLogEntry{SubjectID: "s1", Day: "2024-01-12", IsCompleted: false})

	st := Compute(mwf(), entries, at("2024-01-12", 20, 0), time.UTC)

	assert.Equal(t, 0, st.Streak)
	assert.Equal(t, 2, st.BestStreak)
	assert.Equal(t, 2, st.WeekCount)
}

func TestCompute_InactiveDayCompletionsDoNotCount(t *testing.T) {
	st := Compute(mwf(), completed("2024-01-10", "2024-01-12", "2024-01-13"), at("2024-01-13", 20, 0), time.UTC)

	assert.Equal(t, 2, st.Streak)
	assert.Equal(t, 2, st.BestStreak)
	assert.Equal(t, 2, st.WeekCount)
	assert.Equal(t, 2, st.MonthCount)
}

func TestCompute_RateStartsAtFirstCompletion(t *testing.T) {
	// Active days from Jan 10 through Jan 15: Wed, Fri, Mon
	st := Compute(mwf(), completed("2024-01-10", "2024-01-15"), at("2024-01-15", 20, 0), time.UTC)

	assert.InDelta(t, 2.0/3.0, st.TotalRate, 1e-9)
}

func TestCompute_DailyWhenTemplateEmpty(t *testing.T) {
	tmpl := models.RecurrenceTemplate{ActiveFrom: "2024-01-01"}
	st := Compute(tmpl, completed("2024-01-12", "2024-01-13", "2024-01-14"), at("2024-01-14", 20, 0), time.UTC)

	assert.Equal(t, 3, st.Streak)
	assert.Equal(t, 7, st.WeekTotal)
	assert.Equal(t, 31, st.MonthTotal)
}

func TestCompute_AverageCompletionTime(t *testing.T) {
	nine := at("2024-01-08", 9, 0)
	tenThirty := at("2024-01-10", 10, 30)
	entries := []models.CompletionLogEntry{
		{Day: "2024-01-08", IsCompleted: true, CompletedAt: &nine},
		{Day: "2024-01-10", IsCompleted: true, CompletedAt: &tenThirty},
		{Day: "2024-01-12", IsCompleted: true},
	}

	st := Compute(mwf(), entries, at("2024-01-12", 20, 0), time.UTC)

	require.NotNil(t, st.AvgCompletionTime)
	assert.Equal(t, "09:45", *st.AvgCompletionTime)
}

func TestCompute_AverageUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	done := time.Date(2024, 1, 8, 7, 15, 0, 0, time.UTC)
	entries := []models.CompletionLogEntry{{Day: "2024-01-08", IsCompleted: true, CompletedAt: &done}}

	st := Compute(mwf(), entries, time.Date(2024, 1, 8, 20, 0, 0, 0, loc), loc)

	require.NotNil(t, st.AvgCompletionTime)
	assert.Equal(t, "09:15", *st.AvgCompletionTime)
}

func TestCompute_BadDayIsSkipped(t *testing.T) {
	st := Compute(mwf(), completed("2024-01-12", "not-a-day"), at("2024-01-12", 20, 0), time.UTC)
	assert.Equal(t, 1, st.Streak)
}

func TestCompute_BestNeverBelowCurrent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	start := at("2024-01-01", 0, 0)
	now := at("2024-03-31", 12, 0)

	for i := 0; i < 200; i++ {
		var days []string
		for d := start; !d.After(now); d = d.AddDate(0, 0, 1) {
			if rng.Intn(3) > 0 {
				days = append(days, d.Format("2006-01-02"))
			}
		}
		st := Compute(mwf(), completed(days...), now, time.UTC)
		require.GreaterOrEqual(t, st.BestStreak, st.Streak)
		require.LessOrEqual(t, st.WeekCount, st.WeekTotal)
		require.LessOrEqual(t, st.MonthCount, st.MonthTotal)
		require.LessOrEqual(t, st.TotalRate, 1.0)
	}
}
