package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/julianstephens/lessonsync/internal/constants"
	"github.com/julianstephens/lessonsync/internal/guard"
	"github.com/julianstephens/lessonsync/internal/logger"
	"github.com/julianstephens/lessonsync/internal/models"
	"github.com/julianstephens/lessonsync/internal/scheduler"
	"github.com/julianstephens/lessonsync/internal/storage"
	"github.com/julianstephens/lessonsync/internal/validation"
)

// Result summarizes one applied resync
type Result struct {
	SubjectID string
	Inserted  int
	Deleted   int
	Kept      int
}

// Plan is the change set a resync would apply.
type Plan struct {
	SubjectID string
	Window    scheduler.Window
	// Insert holds new instances at free instants
	Insert []models.LessonInstance
	// Delete holds stale reconcilable instances with no replacement
	Delete []models.LessonInstance
	// Replace pairs a stale instance with a new one at the same instant
	// whose duration changed
	Replace []Replacement
	Kept    int
}

type Replacement struct {
	Old models.LessonInstance
	New models.LessonInstance
}

// IsEmpty reports whether applying the plan would change nothing
func (p Plan) IsEmpty() bool {
	return len(p.Insert) == 0 && len(p.Delete) == 0 && len(p.Replace) == 0
}

func (p Plan) result() Result {
	return Result{
		SubjectID: p.SubjectID,
		Inserted:  len(p.Insert) + len(p.Replace),
		Deleted:   len(p.Delete) + len(p.Replace),
		Kept:      p.Kept,
	}
}

// Resync brings a subject's future auto-generated instances in line with its
// current template. Completed, cancelled, makeup, and past instances are
// never touched. A second call with nothing changed is a no-op.
func (e *Engine) Resync(ctx context.Context, subjectID string, now time.Time) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "reconcile.Resync",
		trace.WithAttributes(attribute.String("subject.id", subjectID)))
	defer span.End()

	v, shared, err := e.guard.Do(ctx, guard.Key{SubjectID: subjectID}, func(ctx context.Context) (any, error) {
		plan, err := e.plan(ctx, subjectID, now)
		if err != nil {
			return Result{SubjectID: subjectID}, err
		}
		return e.apply(ctx, plan)
	})
	span.SetAttributes(attribute.Bool("guard.shared", shared))
	if err != nil {
		recordError(span, err, "resync failed")
		res, _ := v.(Result)
		res.SubjectID = subjectID
		return res, err
	}

	res := v.(Result)
	span.SetAttributes(
		attribute.Int("instances.inserted", res.Inserted),
		attribute.Int("instances.deleted", res.Deleted),
		attribute.Int("instances.kept", res.Kept),
	)
	return res, nil
}

// PlanResync computes what Resync would do without writing anything.
func (e *Engine) PlanResync(ctx context.Context, subjectID string, now time.Time) (Plan, error) {
	ctx, span := e.tracer.Start(ctx, "reconcile.PlanResync",
		trace.WithAttributes(attribute.String("subject.id", subjectID)))
	defer span.End()

	plan, err := e.plan(ctx, subjectID, now)
	recordError(span, err, "plan failed")
	return plan, err
}

// PlanTemplateChange computes what Resync would do if the subject's template
// were replaced by tmpl. Nothing is written, including the template.
func (e *Engine) PlanTemplateChange(ctx context.Context, subjectID string, tmpl models.RecurrenceTemplate, now time.Time) (Plan, error) {
	ctx, span := e.tracer.Start(ctx, "reconcile.PlanTemplateChange",
		trace.WithAttributes(attribute.String("subject.id", subjectID)))
	defer span.End()

	subject, err := e.loadSubject(ctx, subjectID)
	if err != nil {
		recordError(span, err, "plan failed")
		return Plan{SubjectID: subjectID}, err
	}
	subject.Template = tmpl

	plan, err := e.planSubject(ctx, subject, now)
	recordError(span, err, "plan failed")
	return plan, err
}

func (e *Engine) loadSubject(ctx context.Context, subjectID string) (models.Subject, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	subject, err := e.subjects.GetSubject(sctx, subjectID)
	if err != nil {
		return subject, fmt.Errorf("failed to load subject %s: %w", subjectID, err)
	}
	return subject, nil
}

func (e *Engine) plan(ctx context.Context, subjectID string, now time.Time) (Plan, error) {
	subject, err := e.loadSubject(ctx, subjectID)
	if err != nil {
		return Plan{SubjectID: subjectID}, err
	}
	return e.planSubject(ctx, subject, now)
}

func (e *Engine) planSubject(ctx context.Context, subject models.Subject, now time.Time) (Plan, error) {
	subjectID := subject.ID
	plan := Plan{SubjectID: subjectID}

	var generated []scheduler.Occurrence
	if subject.Active && subject.ArchivedAt == nil {
		report := validation.ValidateTemplate(subject.Template)
		if err := report.Err(); err != nil {
			return plan, fmt.Errorf("subject %s: %w", subject.Name, err)
		}

		start, err := scheduler.EffectiveStart(subject.Template, now, e.opts.Location)
		if err != nil {
			return plan, err
		}
		plan.Window = scheduler.Window{Start: start, End: start.AddDate(0, 0, 7*e.opts.HorizonWeeks)}

		generated, err = scheduler.Project(subject.Template, plan.Window, now)
		if err != nil {
			return plan, fmt.Errorf("subject %s: %w", subject.Name, err)
		}
	} else {
		logger.Debug("Subject inactive, clearing generated schedule", "subject", subject.Name)
	}

	sctx, cancel := e.storeCtx(ctx)
	existing, err := e.instances.QueryInstances(sctx, subjectID, nil)
	cancel()
	if err != nil {
		return plan, fmt.Errorf("failed to query instances for %s: %w", subjectID, err)
	}

	e.diff(&plan, existing, generated, now)
	logger.Debug("Resync planned",
		"subject", subject.Name,
		"insert", len(plan.Insert),
		"delete", len(plan.Delete),
		"replace", len(plan.Replace),
		"kept", plan.Kept)
	return plan, nil
}

// diff matches stored instances against generated occurrences by instant.
// A reconcilable instance with the same start and duration is kept. An
// occupied instant is never double-booked: occurrences landing on a
// protected or kept instance are skipped, and occurrences landing on a
// stale instance replace it.
func (e *Engine) diff(plan *Plan, existing []models.LessonInstance, generated []scheduler.Occurrence, now time.Time) {
	want := make(map[int64]scheduler.Occurrence, len(generated))
	for _, occ := range generated {
		want[models.InstantKey(occ.Start)] = occ
	}

	occupied := make(map[int64]models.LessonInstance, len(existing))
	stale := make(map[int64]models.LessonInstance)
	for _, inst := range existing {
		key := models.InstantKey(inst.Start)
		occupied[key] = inst
		if !inst.IsReconcilable(now) {
			continue
		}
		if occ, ok := want[key]; ok && occ.DurationMin == inst.DurationMin {
			plan.Kept++
			continue
		}
		stale[key] = inst
	}

	for _, occ := range generated {
		key := models.InstantKey(occ.Start)
		if old, ok := stale[key]; ok {
			plan.Replace = append(plan.Replace, Replacement{Old: old, New: e.newInstance(plan.SubjectID, occ, now)})
			delete(stale, key)
			continue
		}
		if _, ok := occupied[key]; ok {
			continue
		}
		plan.Insert = append(plan.Insert, e.newInstance(plan.SubjectID, occ, now))
	}

	// Keep deletes in start order for stable output
	for _, inst := range existing {
		if _, ok := stale[models.InstantKey(inst.Start)]; ok {
			plan.Delete = append(plan.Delete, inst)
		}
	}
}

func (e *Engine) newInstance(subjectID string, occ scheduler.Occurrence, now time.Time) models.LessonInstance {
	return models.LessonInstance{
		ID:          e.opts.NewID(),
		SubjectID:   subjectID,
		Start:       occ.Start,
		DurationMin: occ.DurationMin,
		Origin:      constants.OriginTemplate,
		Lifecycle:   constants.LifecycleScheduled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (e *Engine) apply(ctx context.Context, plan Plan) (Result, error) {
	res := plan.result()
	if plan.IsEmpty() {
		return res, nil
	}

	if tx, ok := e.instances.(storage.Transactor); ok {
		changes := storage.ChangeSet{}
		changes.Insert = append(changes.Insert, plan.Insert...)
		for _, inst := range plan.Delete {
			changes.Delete = append(changes.Delete, inst.ID)
		}
		for _, r := range plan.Replace {
			changes.Delete = append(changes.Delete, r.Old.ID)
			changes.Insert = append(changes.Insert, r.New)
		}

		sctx, cancel := e.storeCtx(ctx)
		err := tx.ApplyInstanceChanges(sctx, changes)
		cancel()
		if err != nil {
			return Result{SubjectID: plan.SubjectID}, fmt.Errorf("failed to apply resync for %s: %w", plan.SubjectID, err)
		}
		logger.Info("Resync applied", "subject", plan.SubjectID, "inserted", res.Inserted, "deleted", res.Deleted, "kept", res.Kept)
		return res, nil
	}

	return e.applyStepwise(ctx, plan, res)
}

// applyStepwise inserts before it deletes so a failure never leaves the
// subject with fewer lessons than before.
func (e *Engine) applyStepwise(ctx context.Context, plan Plan, res Result) (Result, error) {
	if len(plan.Insert) > 0 {
		sctx, cancel := e.storeCtx(ctx)
		err := e.instances.InsertInstances(sctx, plan.Insert)
		cancel()
		if err != nil {
			return Result{SubjectID: plan.SubjectID}, fmt.Errorf("failed to insert instances for %s: %w", plan.SubjectID, err)
		}
	}

	var ids []string
	for _, inst := range plan.Delete {
		ids = append(ids, inst.ID)
	}
	for _, r := range plan.Replace {
		ids = append(ids, r.Old.ID)
	}
	if len(ids) > 0 {
		sctx, cancel := e.storeCtx(ctx)
		err := e.instances.DeleteInstances(sctx, ids)
		cancel()
		if err != nil {
			partial := Result{SubjectID: plan.SubjectID, Inserted: len(plan.Insert), Kept: plan.Kept}
			return partial, fmt.Errorf("%w: failed to delete stale instances for %s: %w", ErrPartialResync, plan.SubjectID, err)
		}
	}

	if len(plan.Replace) > 0 {
		replacements := make([]models.LessonInstance, len(plan.Replace))
		for i, r := range plan.Replace {
			replacements[i] = r.New
		}
		sctx, cancel := e.storeCtx(ctx)
		err := e.instances.InsertInstances(sctx, replacements)
		cancel()
		if err != nil {
			partial := Result{SubjectID: plan.SubjectID, Inserted: len(plan.Insert), Deleted: len(ids), Kept: plan.Kept}
			return partial, fmt.Errorf("%w: failed to insert replacements for %s: %w", ErrPartialResync, plan.SubjectID, err)
		}
	}

	logger.Info("Resync applied", "subject", plan.SubjectID, "inserted", res.Inserted, "deleted", res.Deleted, "kept", res.Kept)
	return res, nil
}

// IsPartial reports whether err came from a resync that applied only some changes
func IsPartial(err error) bool {
	return errors.Is(err, ErrPartialResync)
}
