package logs_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianstephens/lessonsync/internal/cli"
	"github.com/julianstephens/lessonsync/internal/cli/clitest"
	"github.com/julianstephens/lessonsync/internal/cli/logs"
	"github.com/julianstephens/lessonsync/internal/models"
	"github.com/julianstephens/lessonsync/internal/storage/storagetest"
)

func seedHabit(t *testing.T, ctx *cli.Context) models.Subject {
	t.Helper()
	s := storagetest.NewSubject("reading")
	s.Template.Slots = []models.Slot{
		{Weekday: time.Monday, TimeOfDay: "07:00", DurationMin: 20},
		{Weekday: time.Wednesday, TimeOfDay: "07:00", DurationMin: 20},
		{Weekday: time.Friday, TimeOfDay: "07:00", DurationMin: 20},
	}
	require.NoError(t, ctx.Store.AddSubject(context.Background(), s))
	return s
}

func TestLogMark_DefaultsToToday(t *testing.T) {
	ctx, out := clitest.Memory(t)
	habit := seedHabit(t, ctx)

	require.NoError(t, (&logs.LogMarkCmd{Subject: "reading", Note: "ch. 3"}).Run(ctx))
	assert.Contains(t, out.String(), "Marked reading for 2024-01-10")

	entries, err := ctx.Store.QueryCompletions(context.Background(), habit.ID, "", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "2024-01-10", entries[0].Day)
	assert.True(t, entries[0].IsCompleted)
	assert.Equal(t, "ch. 3", entries[0].Note)
}

func TestLogMark_Undo(t *testing.T) {
	ctx, _ := clitest.Memory(t)
	habit := seedHabit(t, ctx)

	require.NoError(t, (&logs.LogMarkCmd{Subject: "reading", Date: "2024-01-08"}).Run(ctx))
	require.NoError(t, (&logs.LogMarkCmd{Subject: "reading", Date: "2024-01-08", Undo: true}).Run(ctx))

	entries, err := ctx.Store.QueryCompletions(context.Background(), habit.ID, "", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].IsCompleted)
}

func TestLogMark_Errors(t *testing.T) {
	ctx, _ := clitest.Memory(t)
	seedHabit(t, ctx)

	assert.Error(t, (&logs.LogMarkCmd{Subject: "reading", Date: "01/08/2024"}).Run(ctx))
	assert.Error(t, (&logs.LogMarkCmd{Subject: "writing"}).Run(ctx))
}

func TestLogShow_Grid(t *testing.T) {
	ctx, out := clitest.Memory(t)
	seedHabit(t, ctx)
	for _, day := range []string{"2024-01-08", "2024-01-10"} {
		require.NoError(t, (&logs.LogMarkCmd{Subject: "reading", Date: day}).Run(ctx))
	}
	out.Reset()

	require.NoError(t, (&logs.LogShowCmd{Days: 7}).Run(ctx))
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.GreaterOrEqual(t, len(lines), 5)
	assert.Contains(t, lines[2], "01/04")
	assert.Contains(t, lines[2], "01/10")

	row := lines[len(lines)-1]
	assert.True(t, strings.HasPrefix(row, "reading"))
	// Fri 5 missed, Mon 8 and Wed 10 done; other weekdays are blank
	assert.Equal(t, 2, strings.Count(row, "x"))
	assert.Equal(t, 1, strings.Count(row, "."))
}

func TestLogShow_RejectsZeroDays(t *testing.T) {
	ctx, _ := clitest.Memory(t)
	assert.Error(t, (&logs.LogShowCmd{Days: 0}).Run(ctx))
}

func TestStats_JSON(t *testing.T) {
	ctx, out := clitest.Memory(t)
	seedHabit(t, ctx)
	for _, day := range []string{"2024-01-05", "2024-01-08", "2024-01-10"} {
		require.NoError(t, (&logs.LogMarkCmd{Subject: "reading", Date: day}).Run(ctx))
	}
	out.Reset()

	require.NoError(t, (&logs.StatsCmd{Subject: "reading", JSON: true}).Run(ctx))

	var st models.Stats
	require.NoError(t, json.Unmarshal(out.Bytes(), &st))
	assert.Equal(t, 3, st.Streak)
	assert.Equal(t, 3, st.BestStreak)
	assert.Equal(t, 2, st.WeekCount)
	assert.Equal(t, 3, st.WeekTotal)
	assert.Equal(t, 3, st.MonthCount)
	assert.Equal(t, 14, st.MonthTotal)
	require.NotNil(t, st.AvgCompletionTime)
	assert.Equal(t, "12:00", *st.AvgCompletionTime)
}

func TestStats_Table(t *testing.T) {
	ctx, out := clitest.Memory(t)
	seedHabit(t, ctx)

	require.NoError(t, (&logs.StatsCmd{Subject: "reading"}).Run(ctx))
	assert.Contains(t, out.String(), "Current streak")
	assert.Contains(t, out.String(), "Best streak")
}
