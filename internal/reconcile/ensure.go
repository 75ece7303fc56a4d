package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/julianstephens/lessonsync/internal/guard"
	"github.com/julianstephens/lessonsync/internal/logger"
	"github.com/julianstephens/lessonsync/internal/models"
	"github.com/julianstephens/lessonsync/internal/scheduler"
	"github.com/julianstephens/lessonsync/internal/storage"
	"github.com/julianstephens/lessonsync/internal/validation"
)

// EnsureResult reports the outcome for one subject
type EnsureResult struct {
	SubjectID string
	Inserted  int
	// Skipped is set for inactive or archived subjects
	Skipped bool
	Err     error
}

// Ensure makes sure every lesson the templates produce inside window exists,
// without deleting anything. Subjects run concurrently up to
// Options.Concurrency; a failure in one subject does not stop the others.
// Results are returned in input order.
func (e *Engine) Ensure(ctx context.Context, subjectIDs []string, window scheduler.Window, now time.Time) []EnsureResult {
	ctx, span := e.tracer.Start(ctx, "reconcile.Ensure",
		trace.WithAttributes(
			attribute.Int("subjects", len(subjectIDs)),
			attribute.String("window.start", window.Start.Format(time.RFC3339)),
			attribute.String("window.end", window.End.Format(time.RFC3339)),
		))
	defer span.End()

	results := make([]EnsureResult, len(subjectIDs))
	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)

	for i, id := range subjectIDs {
		i, id := i, id
		g.Go(func() error {
			results[i] = e.ensureOne(ctx, id, window, now)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			logger.Warn("Ensure failed for subject", "subject", r.SubjectID, "error", r.Err)
		}
	}
	span.SetAttributes(attribute.Int("subjects.failed", failed))
	return results
}

// EnsureAll runs Ensure for every non-archived subject.
func (e *Engine) EnsureAll(ctx context.Context, window scheduler.Window, now time.Time) ([]EnsureResult, error) {
	sctx, cancel := e.storeCtx(ctx)
	subjects, err := e.subjects.ListSubjects(sctx, false)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}

	ids := make([]string, len(subjects))
	for i, s := range subjects {
		ids[i] = s.ID
	}
	return e.Ensure(ctx, ids, window, now), nil
}

func (e *Engine) ensureOne(ctx context.Context, subjectID string, window scheduler.Window, now time.Time) EnsureResult {
	key := guard.Key{
		SubjectID: subjectID,
		Start:     models.InstantKey(window.Start),
		End:       models.InstantKey(window.End),
	}
	v, _, err := e.guard.Do(ctx, key, func(ctx context.Context) (any, error) {
		return e.ensure(ctx, subjectID, window, now)
	})
	res, _ := v.(EnsureResult)
	res.SubjectID = subjectID
	res.Err = err
	return res
}

func (e *Engine) ensure(ctx context.Context, subjectID string, window scheduler.Window, now time.Time) (EnsureResult, error) {
	res := EnsureResult{SubjectID: subjectID}

	sctx, cancel := e.storeCtx(ctx)
	subject, err := e.subjects.GetSubject(sctx, subjectID)
	cancel()
	if err != nil {
		return res, fmt.Errorf("failed to load subject %s: %w", subjectID, err)
	}
	if !subject.Active || subject.ArchivedAt != nil {
		res.Skipped = true
		return res, nil
	}

	report := validation.ValidateTemplate(subject.Template)
	if err := report.Err(); err != nil {
		return res, fmt.Errorf("subject %s: %w", subject.Name, err)
	}

	// Project in the configured zone regardless of how the window was built
	local := scheduler.Window{Start: window.Start.In(e.opts.Location), End: window.End.In(e.opts.Location)}
	candidates, err := scheduler.Project(subject.Template, local, now)
	if err != nil {
		return res, fmt.Errorf("subject %s: %w", subject.Name, err)
	}
	if len(candidates) == 0 {
		return res, nil
	}

	sctx, cancel = e.storeCtx(ctx)
	existing, err := e.instances.QueryInstances(sctx, subjectID, &storage.TimeRange{Start: window.Start, End: window.End})
	cancel()
	if err != nil {
		return res, fmt.Errorf("failed to query instances for %s: %w", subjectID, err)
	}

	have := make(map[int64]bool, len(existing))
	for _, inst := range existing {
		have[models.InstantKey(inst.Start)] = true
	}

	var missing []models.LessonInstance
	for _, occ := range candidates {
		if have[models.InstantKey(occ.Start)] {
			continue
		}
		missing = append(missing, e.newInstance(subjectID, occ, now))
	}
	if len(missing) == 0 {
		return res, nil
	}

	sctx, cancel = e.storeCtx(ctx)
	err = e.instances.InsertInstances(sctx, missing)
	cancel()
	if err != nil {
		return res, fmt.Errorf("failed to insert instances for %s: %w", subjectID, err)
	}

	res.Inserted = len(missing)
	logger.Debug("Ensure inserted instances", "subject", subject.Name, "count", res.Inserted)
	return res, nil
}
