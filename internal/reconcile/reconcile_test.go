package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianstephens/lessonsync/internal/constants"
	"github.com/julianstephens/lessonsync/internal/guard"
	"github.com/julianstephens/lessonsync/internal/models"
	"github.com/julianstephens/lessonsync/internal/scheduler"
	"github.com/julianstephens/lessonsync/internal/storage"
	"github.com/julianstephens/lessonsync/internal/storage/memory"
	"github.com/julianstephens/lessonsync/internal/validation"
)

// Wednesday morning, before the 09:00 lesson
var now = time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)

func weekly(days []time.Weekday, at string, minutes int) models.RecurrenceTemplate {
	tmpl := models.RecurrenceTemplate{ActiveFrom: "2024-01-01"}
	for _, d := range days {
		tmpl.Slots = append(tmpl.Slots, models.Slot{Weekday: d, TimeOfDay: at, DurationMin: minutes})
	}
	return tmpl
}

var (
	mwf   = []time.Weekday{time.Monday, time.Wednesday, time.Friday}
	tueTh = []time.Weekday{time.Tuesday, time.Thursday}
)

type fixture struct {
	store   *memory.Store
	engine  *Engine
	guard   *guard.Guard
	subject models.Subject
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	subject := models.Subject{
		ID:        uuid.New().String(),
		Name:      "alice",
		Kind:      constants.SubjectKindStudent,
		Template:  weekly(mwf, "09:00", 40),
		Active:    true,
		CreatedAt: now.AddDate(0, 0, -30),
	}
	require.NoError(t, store.AddSubject(context.Background(), subject))

	g := guard.New()
	engine, err := New(store, store, g, Options{Location: time.UTC, HorizonWeeks: 8})
	require.NoError(t, err)
	return &fixture{store: store, engine: engine, guard: g, subject: subject}
}

func (f *fixture) setTemplate(t *testing.T, tmpl models.RecurrenceTemplate) {
	t.Helper()
	f.subject.Template = tmpl
	require.NoError(t, f.store.UpdateSubject(context.Background(), f.subject))
}

func (f *fixture) instances(t *testing.T) []models.LessonInstance {
	t.Helper()
	got, err := f.store.QueryInstances(context.Background(), f.subject.ID, nil)
	require.NoError(t, err)
	return got
}

func (f *fixture) add(t *testing.T, start time.Time, origin constants.Origin, lifecycle constants.Lifecycle) models.LessonInstance {
	t.Helper()
	inst := models.LessonInstance{
		ID:          uuid.New().String(),
		SubjectID:   f.subject.ID,
		Start:       start,
		DurationMin: 40,
		Origin:      origin,
		Lifecycle:   lifecycle,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, f.store.InsertInstances(context.Background(), []models.LessonInstance{inst}))
	return inst
}

func countWhere(insts []models.LessonInstance, pred func(models.LessonInstance) bool) int {
	n := 0
	for _, inst := range insts {
		if pred(inst) {
			n++
		}
	}
	return n
}

func TestNewRejectsHorizon(t *testing.T) {
	store := memory.New()
	_, err := New(store, store, nil, Options{HorizonWeeks: constants.MaxHorizonWeeks + 1})
	assert.Error(t, err)

	e, err := New(store, store, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, constants.DefaultHorizonWeeks, e.Options().HorizonWeeks)
	assert.Equal(t, constants.DefaultEnsureConcurrency, e.Options().Concurrency)
}

func TestResyncFromEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.Resync(ctx, f.subject.ID, now)
	require.NoError(t, err)
	assert.Equal(t, Result{SubjectID: f.subject.ID, Inserted: 24}, res)

	insts := f.instances(t)
	require.Len(t, insts, 24)
	assert.True(t, insts[0].Start.Equal(time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)))
	assert.True(t, insts[23].Start.Equal(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)))
	for _, inst := range insts {
		assert.Equal(t, constants.OriginTemplate, inst.Origin)
		assert.Equal(t, constants.LifecycleScheduled, inst.Lifecycle)
		assert.Equal(t, 40, inst.DurationMin)
	}

	again, err := f.engine.Resync(ctx, f.subject.ID, now)
	require.NoError(t, err)
	assert.Equal(t, Result{SubjectID: f.subject.ID, Kept: 24}, again)
	assert.Len(t, f.instances(t), 24)
}

func TestResyncProtectsUserState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Resync(ctx, f.subject.ID, now)
	require.NoError(t, err)
	insts := f.instances(t)

	require.NoError(t, f.store.UpdateInstanceLifecycle(ctx, insts[1].ID, constants.LifecycleCompleted, ""))
	require.NoError(t, f.store.UpdateInstanceLifecycle(ctx, insts[2].ID, constants.LifecycleCancelled, "holiday"))
	makeup := f.add(t, time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC), constants.OriginMakeup, constants.LifecycleScheduled)
	past := f.add(t, time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC), constants.OriginTemplate, constants.LifecycleScheduled)

	f.setTemplate(t, weekly(tueTh, "09:00", 40))
	res, err := f.engine.Resync(ctx, f.subject.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 22, res.Deleted)
	assert.Equal(t, 16, res.Inserted)
	assert.Equal(t, 0, res.Kept)

	after := f.instances(t)
	byID := make(map[string]models.LessonInstance, len(after))
	for _, inst := range after {
		byID[inst.ID] = inst
	}
	for _, id := range []string{insts[1].ID, insts[2].ID, makeup.ID, past.ID} {
		_, ok := byID[id]
		assert.True(t, ok, "protected instance %s was deleted", id)
	}
	assert.Equal(t, constants.LifecycleCompleted, byID[insts[1].ID].Lifecycle)
	assert.Equal(t, "holiday", byID[insts[2].ID].Note)

	scheduledMWF := countWhere(after, func(i models.LessonInstance) bool {
		wd := i.Start.Weekday()
		return i.IsReconcilable(now) && (wd == time.Monday || wd == time.Wednesday || wd == time.Friday)
	})
	assert.Zero(t, scheduledMWF)
	assert.Len(t, after, 16+4)
}

func TestResyncSkipsOccupiedStart(t *testing.T) {
	f := newFixture(t)
	makeup := f.add(t, time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC), constants.OriginMakeup, constants.LifecycleScheduled)

	res, err := f.engine.Resync(context.Background(), f.subject.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 23, res.Inserted)

	insts := f.instances(t)
	assert.Len(t, insts, 24)
	assert.Equal(t, 1, countWhere(insts, func(i models.LessonInstance) bool { return i.ID == makeup.ID }))
}

func TestResyncDurationChangeReplaces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.Resync(ctx, f.subject.ID, now)
	require.NoError(t, err)

	f.setTemplate(t, weekly(mwf, "09:00", 60))
	plan, err := f.engine.PlanResync(ctx, f.subject.ID, now)
	require.NoError(t, err)
	assert.Len(t, plan.Replace, 24)
	assert.Empty(t, plan.Insert)
	assert.Empty(t, plan.Delete)

	res, err := f.engine.Resync(ctx, f.subject.ID, now)
	require.NoError(t, err)
	assert.Equal(t, Result{SubjectID: f.subject.ID, Inserted: 24, Deleted: 24}, res)

	insts := f.instances(t)
	require.Len(t, insts, 24)
	for _, inst := range insts {
		assert.Equal(t, 60, inst.DurationMin)
	}
}

func TestResyncInactiveSubjectClearsFuture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.Resync(ctx, f.subject.ID, now)
	require.NoError(t, err)
	insts := f.instances(t)
	require.NoError(t, f.store.UpdateInstanceLifecycle(ctx, insts[0].ID, constants.LifecycleCompleted, ""))

	f.subject.Active = false
	require.NoError(t, f.store.UpdateSubject(ctx, f.subject))

	res, err := f.engine.Resync(ctx, f.subject.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 23, res.Deleted)
	assert.Zero(t, res.Inserted)

	left := f.instances(t)
	require.Len(t, left, 1)
	assert.Equal(t, insts[0].ID, left[0].ID)
}

func TestResyncRejectsInvalidTemplate(t *testing.T) {
	f := newFixture(t)
	f.setTemplate(t, models.RecurrenceTemplate{
		ActiveFrom: "2024-01-01",
		Slots: []models.Slot{
			{Weekday: time.Monday, TimeOfDay: "09:00", DurationMin: 30},
			{Weekday: time.Monday, TimeOfDay: "09:00", DurationMin: 45},
		},
	})

	_, err := f.engine.Resync(context.Background(), f.subject.ID, now)
	require.Error(t, err)
	assert.ErrorIs(t, err, validation.ErrInvalidTemplate)
	assert.Empty(t, f.instances(t))
	assert.Zero(t, f.guard.Len())
}

func TestResyncMissingSubject(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Resync(context.Background(), "nobody", now)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Zero(t, f.guard.Len())
}

func TestPlanResyncDoesNotWrite(t *testing.T) {
	f := newFixture(t)
	plan, err := f.engine.PlanResync(context.Background(), f.subject.ID, now)
	require.NoError(t, err)
	assert.Len(t, plan.Insert, 24)
	assert.False(t, plan.IsEmpty())
	assert.Empty(t, f.instances(t))
}

func TestPlanTemplateChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.Resync(ctx, f.subject.ID, now)
	require.NoError(t, err)

	plan, err := f.engine.PlanTemplateChange(ctx, f.subject.ID, weekly(tueTh, "09:00", 40), now)
	require.NoError(t, err)
	assert.Len(t, plan.Delete, 24)
	// Jan 11 through Mar 5
	assert.Len(t, plan.Insert, 16)
	assert.Empty(t, plan.Replace)

	stored, err := f.store.GetSubject(ctx, f.subject.ID)
	require.NoError(t, err)
	assert.Equal(t, f.subject.Template, stored.Template)
	assert.Len(t, f.instances(t), 24)
}

func TestPlanTemplateChangeRejectsCollision(t *testing.T) {
	f := newFixture(t)
	tmpl := weekly([]time.Weekday{time.Monday, time.Monday}, "09:00", 40)

	_, err := f.engine.PlanTemplateChange(context.Background(), f.subject.ID, tmpl, now)
	assert.ErrorIs(t, err, validation.ErrInvalidTemplate)
}

func TestResyncRespectsActiveUntil(t *testing.T) {
	f := newFixture(t)
	tmpl := weekly(mwf, "09:00", 40)
	tmpl.ActiveUntil = "2024-01-19"
	f.setTemplate(t, tmpl)

	res, err := f.engine.Resync(context.Background(), f.subject.ID, now)
	require.NoError(t, err)
	// Jan 10, 12, 15, 17, 19
	assert.Equal(t, 5, res.Inserted)
}

func TestResyncFutureActiveFrom(t *testing.T) {
	f := newFixture(t)
	tmpl := weekly(mwf, "09:00", 40)
	tmpl.ActiveFrom = "2024-02-01"
	f.setTemplate(t, tmpl)

	_, err := f.engine.Resync(context.Background(), f.subject.ID, now)
	require.NoError(t, err)

	insts := f.instances(t)
	require.NotEmpty(t, insts)
	assert.True(t, insts[0].Start.Equal(time.Date(2024, 2, 2, 9, 0, 0, 0, time.UTC)), "first = %s", insts[0].Start)
	assert.Len(t, insts, 24)
}

func TestResyncConcurrentCallsDoNotDuplicate(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Resync(context.Background(), f.subject.ID, now)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, f.instances(t), 24)
	assert.Zero(t, f.guard.Len())
}

// stepwiseStore hides the Transactor so the engine takes the stepwise path.
type stepwiseStore struct {
	storage.InstanceStore
	failInsert error
	failDelete error
}

func (s *stepwiseStore) InsertInstances(ctx context.Context, instances []models.LessonInstance) error {
	if s.failInsert != nil {
		return s.failInsert
	}
	return s.InstanceStore.InsertInstances(ctx, instances)
}

func (s *stepwiseStore) DeleteInstances(ctx context.Context, ids []string) error {
	if s.failDelete != nil {
		return s.failDelete
	}
	return s.InstanceStore.DeleteInstances(ctx, ids)
}

func (f *fixture) stepwiseEngine(t *testing.T, s *stepwiseStore) *Engine {
	t.Helper()
	e, err := New(f.store, s, f.guard, Options{Location: time.UTC, HorizonWeeks: 8})
	require.NoError(t, err)
	return e
}

func TestResyncStepwiseInsertFailureKeepsExisting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.Resync(ctx, f.subject.ID, now)
	require.NoError(t, err)
	before := f.instances(t)

	f.setTemplate(t, weekly(tueTh, "09:00", 40))
	boom := errors.New("disk full")
	e := f.stepwiseEngine(t, &stepwiseStore{InstanceStore: f.store, failInsert: boom})

	_, err = e.Resync(ctx, f.subject.ID, now)
	require.ErrorIs(t, err, boom)
	assert.False(t, IsPartial(err))
	assert.Equal(t, before, f.instances(t), "failed insert must not delete anything")
	assert.Zero(t, f.guard.Len())
}

func TestResyncStepwiseDeleteFailureIsPartial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.Resync(ctx, f.subject.ID, now)
	require.NoError(t, err)

	f.setTemplate(t, weekly(tueTh, "09:00", 40))
	e := f.stepwiseEngine(t, &stepwiseStore{InstanceStore: f.store, failDelete: errors.New("timeout")})

	res, err := e.Resync(ctx, f.subject.ID, now)
	require.Error(t, err)
	assert.True(t, IsPartial(err))
	assert.Equal(t, 16, res.Inserted)
	assert.Len(t, f.instances(t), 24+16)

	// A retry converges
	ok := f.stepwiseEngine(t, &stepwiseStore{InstanceStore: f.store})
	res, err = ok.Resync(ctx, f.subject.ID, now)
	require.NoError(t, err)
	assert.Equal(t, Result{SubjectID: f.subject.ID, Deleted: 24, Kept: 16}, res)
	assert.Len(t, f.instances(t), 16)
}

func TestResyncStepwiseDurationChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.Resync(ctx, f.subject.ID, now)
	require.NoError(t, err)

	f.setTemplate(t, weekly(mwf, "09:00", 55))
	e := f.stepwiseEngine(t, &stepwiseStore{InstanceStore: f.store})
	_, err = e.Resync(ctx, f.subject.ID, now)
	require.NoError(t, err)

	insts := f.instances(t)
	require.Len(t, insts, 24)
	assert.Equal(t, 24, countWhere(insts, func(i models.LessonInstance) bool { return i.DurationMin == 55 }))
}

func TestEnsureIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	window, err := scheduler.DateWindow("2024-01-08", "2024-01-21", time.UTC)
	require.NoError(t, err)

	first := f.engine.Ensure(ctx, []string{f.subject.ID}, window, now)
	require.Len(t, first, 1)
	require.NoError(t, first[0].Err)
	// Jan 8 is before now; Jan 10, 12, 15, 17, 19 remain
	assert.Equal(t, 5, first[0].Inserted)

	second := f.engine.Ensure(ctx, []string{f.subject.ID}, window, now)
	require.NoError(t, second[0].Err)
	assert.Zero(t, second[0].Inserted)
	assert.Len(t, f.instances(t), 5)
}

func TestEnsureNeverDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	window, err := scheduler.DateWindow("2024-01-08", "2024-01-21", time.UTC)
	require.NoError(t, err)

	f.engine.Ensure(ctx, []string{f.subject.ID}, window, now)
	f.setTemplate(t, weekly(tueTh, "09:00", 40))

	res := f.engine.Ensure(ctx, []string{f.subject.ID}, window, now)
	require.NoError(t, res[0].Err)
	// Jan 11, 16, 18
	assert.Equal(t, 3, res[0].Inserted)
	assert.Len(t, f.instances(t), 8)
}

func TestEnsureFillsAroundResync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.Resync(ctx, f.subject.ID, now)
	require.NoError(t, err)

	window := scheduler.Window{Start: now, End: now.AddDate(0, 0, 56)}
	res := f.engine.Ensure(ctx, []string{f.subject.ID}, window, now)
	require.NoError(t, res[0].Err)
	assert.Zero(t, res[0].Inserted)
}

func TestEnsureIsolatesSubjectErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := models.Subject{
		ID: uuid.New().String(), Name: "bad", Kind: constants.SubjectKindHabit, Active: true,
		Template: models.RecurrenceTemplate{Slots: []models.Slot{{Weekday: time.Monday, TimeOfDay: "25:00", DurationMin: 30}}},
	}
	paused := models.Subject{
		ID: uuid.New().String(), Name: "paused", Kind: constants.SubjectKindHabit,
		Template: weekly(mwf, "07:00", 20),
	}
	require.NoError(t, f.store.AddSubject(ctx, bad))
	require.NoError(t, f.store.AddSubject(ctx, paused))

	window, err := scheduler.DateWindow("2024-01-08", "2024-01-21", time.UTC)
	require.NoError(t, err)
	results := f.engine.Ensure(ctx, []string{bad.ID, "missing", f.subject.ID, paused.ID}, window, now)
	require.Len(t, results, 4)

	assert.ErrorIs(t, results[0].Err, validation.ErrInvalidTemplate)
	assert.ErrorIs(t, results[1].Err, storage.ErrNotFound)
	assert.Equal(t, "missing", results[1].SubjectID)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, 5, results[2].Inserted)
	assert.NoError(t, results[3].Err)
	assert.True(t, results[3].Skipped)
	assert.Zero(t, f.guard.Len())
}

func TestEnsureAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := models.Subject{
		ID: uuid.New().String(), Name: "bob", Kind: constants.SubjectKindStudent, Active: true,
		Template: weekly(tueTh, "16:00", 60), CreatedAt: now,
	}
	require.NoError(t, f.store.AddSubject(ctx, other))

	window, err := scheduler.DateWindow("2024-01-08", "2024-01-14", time.UTC)
	require.NoError(t, err)
	results, err := f.engine.EnsureAll(ctx, window, now)
	require.NoError(t, err)
	require.Len(t, results, 2)

	total := 0
	for _, r := range results {
		require.NoError(t, r.Err)
		total += r.Inserted
	}
	// alice: Jan 10, 12; bob: Jan 11
	assert.Equal(t, 3, total)
}

// slowStore blocks every query until the context ends.
type slowStore struct {
	storage.InstanceStore
}

func (s slowStore) QueryInstances(ctx context.Context, _ string, _ *storage.TimeRange) ([]models.LessonInstance, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStoreTimeout(t *testing.T) {
	f := newFixture(t)
	e, err := New(f.store, slowStore{f.store}, nil, Options{Location: time.UTC, StoreTimeout: 20 * time.Millisecond})
	require.NoError(t, err)

	_, err = e.Resync(context.Background(), f.subject.ID, now)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
