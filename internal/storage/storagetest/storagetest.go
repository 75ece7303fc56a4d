// Package storagetest holds the behavioral checks every storage.Provider must pass.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianstephens/lessonsync/internal/constants"
	"github.com/julianstephens/lessonsync/internal/models"
	"github.com/julianstephens/lessonsync/internal/storage"
)

// Factory returns an initialized, empty provider. Cleanup is the caller's job.
type Factory func(t *testing.T) storage.Provider

// NewSubject builds an active subject with a Monday 09:00 slot.
func NewSubject(name string) models.Subject {
	return models.Subject{
		ID:   uuid.New().String(),
		Name: name,
		Kind: constants.SubjectKindStudent,
		Template: models.RecurrenceTemplate{
			Slots:      []models.Slot{{Weekday: time.Monday, TimeOfDay: "09:00", DurationMin: 45}},
			ActiveFrom: "2024-01-01",
		},
		Active:    true,
		CreatedAt: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
	}
}

// NewInstance builds a scheduled template instance for subjectID at start.
func NewInstance(subjectID string, start time.Time) models.LessonInstance {
	now := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	return models.LessonInstance{
		ID:          uuid.New().String(),
		SubjectID:   subjectID,
		Start:       start,
		DurationMin: 45,
		Origin:      constants.OriginTemplate,
		Lifecycle:   constants.LifecycleScheduled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Run exercises the provider contract.
func Run(t *testing.T, newProvider Factory) {
	t.Run("Subjects", func(t *testing.T) { testSubjects(t, newProvider(t)) })
	t.Run("Archive", func(t *testing.T) { testArchive(t, newProvider(t)) })
	t.Run("Instances", func(t *testing.T) { testInstances(t, newProvider(t)) })
	t.Run("DuplicateInstance", func(t *testing.T) { testDuplicateInstance(t, newProvider(t)) })
	t.Run("ApplyChangesAtomic", func(t *testing.T) { testApplyChangesAtomic(t, newProvider(t)) })
	t.Run("ApplyChangesReuseSlot", func(t *testing.T) { testApplyChangesReuseSlot(t, newProvider(t)) })
	t.Run("Lifecycle", func(t *testing.T) { testLifecycle(t, newProvider(t)) })
	t.Run("Completions", func(t *testing.T) { testCompletions(t, newProvider(t)) })
}

func addSubject(t *testing.T, p storage.Provider, name string) models.Subject {
	t.Helper()
	subj := NewSubject(name)
	require.NoError(t, p.AddSubject(context.Background(), subj))
	return subj
}

func testSubjects(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	alice := addSubject(t, p, "alice")

	got, err := p.GetSubject(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.Name, got.Name)
	assert.Equal(t, alice.Template, got.Template)
	assert.True(t, got.Active)
	assert.True(t, alice.CreatedAt.Equal(got.CreatedAt))

	byName, err := p.GetSubjectByName(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, byName.ID)

	_, err = p.GetSubject(ctx, "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound), "GetSubject(missing) error = %v", err)

	dup := NewSubject("alice")
	err = p.AddSubject(ctx, dup)
	assert.True(t, errors.Is(err, storage.ErrDuplicateName), "AddSubject(dup) error = %v", err)

	got.Template.Slots = append(got.Template.Slots, models.Slot{Weekday: time.Wednesday, TimeOfDay: "10:30", DurationMin: 60})
	require.NoError(t, p.UpdateSubject(ctx, got))
	updated, err := p.GetSubject(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, updated.Template.Slots, 2)

	ghost := NewSubject("ghost")
	err = p.UpdateSubject(ctx, ghost)
	assert.True(t, errors.Is(err, storage.ErrNotFound), "UpdateSubject(ghost) error = %v", err)
}

func testArchive(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	alice := addSubject(t, p, "alice")
	bob := NewSubject("bob")
	bob.CreatedAt = alice.CreatedAt.Add(time.Hour)
	require.NoError(t, p.AddSubject(ctx, bob))

	require.NoError(t, p.ArchiveSubject(ctx, alice.ID))
	assert.Error(t, p.ArchiveSubject(ctx, alice.ID), "archiving twice should fail")

	visible, err := p.ListSubjects(ctx, false)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "bob", visible[0].Name)

	all, err := p.ListSubjects(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alice", all[0].Name)
	assert.NotNil(t, all[0].ArchivedAt)
	assert.False(t, all[0].Active)

	require.NoError(t, p.UnarchiveSubject(ctx, alice.ID))
	restored, err := p.GetSubject(ctx, alice.ID)
	require.NoError(t, err)
	assert.Nil(t, restored.ArchivedAt)
	assert.True(t, restored.Active)
}

func testInstances(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	alice := addSubject(t, p, "alice")
	bob := addSubject(t, p, "bob")

	base := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	var batch []models.LessonInstance
	for week := 2; week >= 0; week-- {
		batch = append(batch, NewInstance(alice.ID, base.AddDate(0, 0, 7*week)))
	}
	batch = append(batch, NewInstance(bob.ID, base))
	require.NoError(t, p.InsertInstances(ctx, batch))

	all, err := p.QueryInstances(ctx, alice.ID, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].Start.Before(all[i].Start), "instances not ordered by start")
	}
	assert.True(t, all[0].Start.Equal(base))

	ranged, err := p.QueryInstances(ctx, alice.ID, &storage.TimeRange{Start: base, End: base.AddDate(0, 0, 7)})
	require.NoError(t, err)
	assert.Len(t, ranged, 2, "range bounds are inclusive")

	got, err := p.GetInstance(ctx, all[1].ID)
	require.NoError(t, err)
	assert.Equal(t, all[1].ID, got.ID)
	assert.Equal(t, constants.OriginTemplate, got.Origin)

	require.NoError(t, p.DeleteInstances(ctx, []string{all[0].ID, "unknown"}))
	left, err := p.QueryInstances(ctx, alice.ID, nil)
	require.NoError(t, err)
	assert.Len(t, left, 2)

	_, err = p.GetInstance(ctx, all[0].ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func testDuplicateInstance(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	alice := addSubject(t, p, "alice")
	bob := addSubject(t, p, "bob")
	start := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)

	require.NoError(t, p.InsertInstances(ctx, []models.LessonInstance{NewInstance(alice.ID, start)}))

	// Same instant expressed in another zone is still the same instant
	sameInstant := start.In(time.FixedZone("UTC+2", 2*3600))
	err := p.InsertInstances(ctx, []models.LessonInstance{NewInstance(alice.ID, sameInstant)})
	assert.True(t, errors.Is(err, storage.ErrDuplicateInstance), "InsertInstances(dup) error = %v", err)

	// A different subject may use the same start
	require.NoError(t, p.InsertInstances(ctx, []models.LessonInstance{NewInstance(bob.ID, start)}))

	got, err := p.QueryInstances(ctx, alice.ID, nil)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func testApplyChangesAtomic(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	alice := addSubject(t, p, "alice")
	start := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	existing := NewInstance(alice.ID, start)
	require.NoError(t, p.InsertInstances(ctx, []models.LessonInstance{existing}))

	other := NewInstance(alice.ID, start.AddDate(0, 0, 7))
	require.NoError(t, p.InsertInstances(ctx, []models.LessonInstance{other}))

	// The second insert collides with the surviving instance, so nothing may apply
	err := p.ApplyInstanceChanges(ctx, storage.ChangeSet{
		Delete: []string{existing.ID},
		Insert: []models.LessonInstance{
			NewInstance(alice.ID, start.AddDate(0, 0, 14)),
			NewInstance(alice.ID, other.Start),
		},
	})
	require.Error(t, err)

	got, err := p.QueryInstances(ctx, alice.ID, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, existing.ID, got[0].ID)
	assert.Equal(t, other.ID, got[1].ID)
}

func testApplyChangesReuseSlot(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	alice := addSubject(t, p, "alice")
	start := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	old := NewInstance(alice.ID, start)
	require.NoError(t, p.InsertInstances(ctx, []models.LessonInstance{old}))

	replacement := NewInstance(alice.ID, start)
	replacement.DurationMin = 90
	require.NoError(t, p.ApplyInstanceChanges(ctx, storage.ChangeSet{
		Delete: []string{old.ID},
		Insert: []models.LessonInstance{replacement},
	}))

	got, err := p.QueryInstances(ctx, alice.ID, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, replacement.ID, got[0].ID)
	assert.Equal(t, 90, got[0].DurationMin)

	assert.NoError(t, p.ApplyInstanceChanges(ctx, storage.ChangeSet{}))
}

func testLifecycle(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	alice := addSubject(t, p, "alice")
	inst := NewInstance(alice.ID, time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC))
	inst.Note = "bring workbook"
	require.NoError(t, p.InsertInstances(ctx, []models.LessonInstance{inst}))

	require.NoError(t, p.UpdateInstanceLifecycle(ctx, inst.ID, constants.LifecycleCompleted, ""))
	got, err := p.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.LifecycleCompleted, got.Lifecycle)
	assert.Equal(t, "bring workbook", got.Note, "empty note keeps the existing one")

	require.NoError(t, p.UpdateInstanceLifecycle(ctx, inst.ID, constants.LifecycleCancelled, "sick"))
	got, err = p.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.LifecycleCancelled, got.Lifecycle)
	assert.Equal(t, "sick", got.Note)

	err = p.UpdateInstanceLifecycle(ctx, "missing", constants.LifecycleCompleted, "")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func testCompletions(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	alice := addSubject(t, p, "alice")
	created := time.Date(2024, 1, 2, 18, 0, 0, 0, time.UTC)
	doneAt := time.Date(2024, 1, 2, 18, 30, 0, 0, time.UTC)

	first := models.CompletionLogEntry{
		ID: uuid.New().String(), SubjectID: alice.ID, Day: "2024-01-02",
		IsCompleted: true, CompletedAt: &doneAt, CreatedAt: created, UpdatedAt: created,
	}
	require.NoError(t, p.UpsertCompletion(ctx, first))
	for _, day := range []string{"2024-01-03", "2024-01-05"} {
		require.NoError(t, p.UpsertCompletion(ctx, models.CompletionLogEntry{
			ID: uuid.New().String(), SubjectID: alice.ID, Day: day,
			IsCompleted: true, CreatedAt: created, UpdatedAt: created,
		}))
	}

	// Re-marking the same day replaces the entry but keeps its identity
	undo := first
	undo.ID = uuid.New().String()
	undo.IsCompleted = false
	undo.CompletedAt = nil
	undo.Note = "undone"
	undo.UpdatedAt = created.Add(time.Hour)
	require.NoError(t, p.UpsertCompletion(ctx, undo))

	all, err := p.QueryCompletions(ctx, alice.ID, "", "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "2024-01-02", all[0].Day)
	assert.Equal(t, first.ID, all[0].ID)
	assert.False(t, all[0].IsCompleted)
	assert.Nil(t, all[0].CompletedAt)
	assert.Equal(t, "undone", all[0].Note)

	bounded, err := p.QueryCompletions(ctx, alice.ID, "2024-01-03", "2024-01-04")
	require.NoError(t, err)
	require.Len(t, bounded, 1)
	assert.Equal(t, "2024-01-03", bounded[0].Day)

	none, err := p.QueryCompletions(ctx, "someone-else", "", "")
	require.NoError(t, err)
	assert.Empty(t, none)
}
