package lessons_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianstephens/lessonsync/internal/cli"
	"github.com/julianstephens/lessonsync/internal/cli/clitest"
	"github.com/julianstephens/lessonsync/internal/cli/lessons"
	"github.com/julianstephens/lessonsync/internal/constants"
	"github.com/julianstephens/lessonsync/internal/models"
	"github.com/julianstephens/lessonsync/internal/storage/storagetest"
)

// seed stores a Mon/Wed/Fri subject without generating any lessons
func seed(t *testing.T, ctx *cli.Context) models.Subject {
	t.Helper()
	s := storagetest.NewSubject("alice")
	s.Template.Slots = []models.Slot{
		{Weekday: time.Monday, TimeOfDay: "09:00", DurationMin: 40},
		{Weekday: time.Wednesday, TimeOfDay: "09:00", DurationMin: 40},
		{Weekday: time.Friday, TimeOfDay: "09:00", DurationMin: 40},
	}
	require.NoError(t, ctx.Store.AddSubject(context.Background(), s))
	return s
}

func stored(t *testing.T, ctx *cli.Context, subjectID string) []models.LessonInstance {
	t.Helper()
	instances, err := ctx.Store.QueryInstances(context.Background(), subjectID, nil)
	require.NoError(t, err)
	return instances
}

func TestLessonList_EnsuresCurrentWeek(t *testing.T) {
	ctx, out := clitest.Memory(t)
	alice := seed(t, ctx)

	require.NoError(t, (&lessons.LessonListCmd{}).Run(ctx))

	// Mon 8 and Wed 10 09:00 are already past; only Fri 12 is generated
	got := stored(t, ctx, alice.ID)
	require.Len(t, got, 1)
	assert.Equal(t, time.Date(2024, 1, 12, 9, 0, 0, 0, time.UTC), got[0].Start.UTC())
	assert.Contains(t, out.String(), "Fri 2024-01-12 09:00")
	assert.Contains(t, out.String(), "alice")
}

func TestLessonList_NoEnsure(t *testing.T) {
	ctx, out := clitest.Memory(t)
	alice := seed(t, ctx)

	require.NoError(t, (&lessons.LessonListCmd{NoEnsure: true}).Run(ctx))
	assert.Empty(t, stored(t, ctx, alice.ID))
	assert.Contains(t, out.String(), "No lessons between 2024-01-08 and 2024-01-14")
}

func TestLessonEnsure_Range(t *testing.T) {
	ctx, out := clitest.Memory(t)
	alice := seed(t, ctx)

	cmd := &lessons.LessonEnsureCmd{RangeFlags: lessons.RangeFlags{From: "2024-01-10", To: "2024-01-31"}}
	require.NoError(t, cmd.Run(ctx))
	// Fri 12 through Wed 31
	assert.Len(t, stored(t, ctx, alice.ID), 9)
	assert.Contains(t, out.String(), "Generated 9 missing lesson(s)")

	out.Reset()
	require.NoError(t, cmd.Run(ctx))
	assert.Len(t, stored(t, ctx, alice.ID), 9)
	assert.Contains(t, out.String(), "Generated 0 missing lesson(s)")
}

func TestLessonEnsure_BadRange(t *testing.T) {
	ctx, _ := clitest.Memory(t)
	seed(t, ctx)

	cmd := &lessons.LessonEnsureCmd{RangeFlags: lessons.RangeFlags{From: "2024-01-31", To: "2024-01-10"}}
	assert.Error(t, cmd.Run(ctx))
}

func TestLessonMakeup(t *testing.T) {
	ctx, _ := clitest.Memory(t)
	alice := seed(t, ctx)

	cmd := &lessons.LessonMakeupCmd{Subject: "alice", At: "2024-01-13 15:00", Note: "missed Wednesday"}
	require.NoError(t, cmd.Run(ctx))

	got := stored(t, ctx, alice.ID)
	require.Len(t, got, 1)
	assert.Equal(t, constants.OriginMakeup, got[0].Origin)
	assert.Equal(t, 40, got[0].DurationMin)
	assert.Equal(t, "missed Wednesday", got[0].Note)

	// same instant again
	err := cmd.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already has a lesson")
}

func TestLessonMakeup_SurvivesResync(t *testing.T) {
	ctx, _ := clitest.Memory(t)
	alice := seed(t, ctx)

	require.NoError(t, (&lessons.LessonMakeupCmd{Subject: "alice", At: "2024-01-13 15:00", Duration: 60}).Run(ctx))
	_, err := ctx.Engine.Resync(context.Background(), alice.ID, ctx.Now())
	require.NoError(t, err)

	var makeups int
	for _, l := range stored(t, ctx, alice.ID) {
		if l.Origin == constants.OriginMakeup {
			makeups++
			assert.Equal(t, 60, l.DurationMin)
		}
	}
	assert.Equal(t, 1, makeups)
}

func TestLessonMakeup_BadTime(t *testing.T) {
	ctx, _ := clitest.Memory(t)
	seed(t, ctx)

	err := (&lessons.LessonMakeupCmd{Subject: "alice", At: "2024-01-13T15:00"}).Run(ctx)
	assert.Error(t, err)
}

func TestLessonComplete_ByPrefixLogsCompletion(t *testing.T) {
	ctx, _ := clitest.Memory(t)
	alice := seed(t, ctx)
	require.NoError(t, (&lessons.LessonListCmd{}).Run(ctx))
	lesson := stored(t, ctx, alice.ID)[0]

	require.NoError(t, (&lessons.LessonCompleteCmd{ID: lesson.ID[:8], Note: "great"}).Run(ctx))

	got, err := ctx.Store.GetInstance(context.Background(), lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.LifecycleCompleted, got.Lifecycle)

	entries, err := ctx.Store.QueryCompletions(context.Background(), alice.ID, "2024-01-12", "2024-01-12")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsCompleted)
	assert.Equal(t, "great", entries[0].Note)
}

func TestLessonCancel(t *testing.T) {
	ctx, _ := clitest.Memory(t)
	alice := seed(t, ctx)
	require.NoError(t, (&lessons.LessonListCmd{}).Run(ctx))
	lesson := stored(t, ctx, alice.ID)[0]

	require.NoError(t, (&lessons.LessonCancelCmd{ID: lesson.ID, Note: "sick"}).Run(ctx))
	got, err := ctx.Store.GetInstance(context.Background(), lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.LifecycleCancelled, got.Lifecycle)

	// a cancelled lesson is not regenerated by ensure
	require.NoError(t, (&lessons.LessonListCmd{}).Run(ctx))
	assert.Len(t, stored(t, ctx, alice.ID), 1)
}

func TestLessonCancel_RejectsCompleted(t *testing.T) {
	ctx, _ := clitest.Memory(t)
	alice := seed(t, ctx)
	require.NoError(t, (&lessons.LessonListCmd{}).Run(ctx))
	lesson := stored(t, ctx, alice.ID)[0]

	require.NoError(t, (&lessons.LessonCompleteCmd{ID: lesson.ID}).Run(ctx))
	err := (&lessons.LessonCancelCmd{ID: lesson.ID}).Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already completed")
}

func TestLessonComplete_UnknownID(t *testing.T) {
	ctx, _ := clitest.Memory(t)
	seed(t, ctx)

	err := (&lessons.LessonCompleteCmd{ID: "nope"}).Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
