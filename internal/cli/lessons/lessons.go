package lessons

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/julianstephens/lessonsync/internal/cli"
	"github.com/julianstephens/lessonsync/internal/constants"
	"github.com/julianstephens/lessonsync/internal/models"
	"github.com/julianstephens/lessonsync/internal/scheduler"
	"github.com/julianstephens/lessonsync/internal/storage"
	"github.com/julianstephens/lessonsync/internal/utils"
)

type LessonCmd struct {
	List     LessonListCmd     `cmd:"" help:"List lessons in a date range." default:"withargs"`
	Ensure   LessonEnsureCmd   `cmd:"" help:"Generate any missing lessons in a date range."`
	Makeup   LessonMakeupCmd   `cmd:"" help:"Add a one-off makeup lesson."`
	Complete LessonCompleteCmd `cmd:"" help:"Mark a lesson as completed."`
	Cancel   LessonCancelCmd   `cmd:"" help:"Cancel a lesson."`
}

// RangeFlags selects a date window; both ends default to the current Monday-Sunday week
type RangeFlags struct {
	From string `help:"First day (YYYY-MM-DD, default: this Monday)."`
	To   string `help:"Last day (YYYY-MM-DD, default: this Sunday)."`
}

func (r RangeFlags) window(ctx *cli.Context) (scheduler.Window, error) {
	monday := utils.WeekStart(ctx.Today())
	from, to := r.From, r.To
	if from == "" {
		from = utils.DayString(monday)
	}
	if to == "" {
		to = utils.DayString(monday.AddDate(0, 0, 6))
	}
	return scheduler.DateWindow(from, to, ctx.Location)
}

// subjectIDs resolves names to ids, or returns every non-archived subject
func subjectIDs(ctx *cli.Context, names []string) ([]models.Subject, error) {
	if len(names) == 0 {
		return ctx.Store.ListSubjects(ctx.Ctx, false)
	}
	subjects := make([]models.Subject, 0, len(names))
	for _, name := range names {
		s, err := ctx.ResolveSubject(name)
		if err != nil {
			return nil, err
		}
		subjects = append(subjects, s)
	}
	return subjects, nil
}

// ensure fills window for subjects and reports per-subject failures without aborting
func ensure(ctx *cli.Context, subjects []models.Subject, window scheduler.Window) int {
	ids := make([]string, len(subjects))
	names := make(map[string]string, len(subjects))
	for i, s := range subjects {
		ids[i] = s.ID
		names[s.ID] = s.Name
	}

	inserted := 0
	for _, res := range ctx.Engine.Ensure(ctx.Ctx, ids, window, ctx.Now()) {
		if res.Err != nil {
			ctx.Printf("%s\n", cli.DangerStyle.Render(fmt.Sprintf("✗ %s: %v", names[res.SubjectID], res.Err)))
			continue
		}
		inserted += res.Inserted
	}
	return inserted
}

type LessonListCmd struct {
	RangeFlags `embed:""`

	Subject  []string `arg:"" optional:"" help:"Subject names or ids (default: all)."`
	NoEnsure bool     `help:"Show stored lessons only, without generating missing ones."`
}

func (c *LessonListCmd) Run(ctx *cli.Context) error {
	window, err := c.window(ctx)
	if err != nil {
		return err
	}
	subjects, err := subjectIDs(ctx, c.Subject)
	if err != nil {
		return err
	}
	if len(subjects) == 0 {
		ctx.Printf("No subjects found. Add one with 'lessonsync subject add'.\n")
		return nil
	}

	if !c.NoEnsure {
		ensure(ctx, subjects, window)
	}

	type row struct {
		start time.Time
		cells []string
	}
	var rows []row
	for _, s := range subjects {
		instances, err := ctx.Store.QueryInstances(ctx.Ctx, s.ID, &storage.TimeRange{Start: window.Start, End: window.End})
		if err != nil {
			return fmt.Errorf("failed to list lessons for %s: %w", s.Name, err)
		}
		for _, inst := range instances {
			rows = append(rows, row{start: inst.Start, cells: lessonRow(ctx, s, inst)})
		}
	}
	if len(rows) == 0 {
		ctx.Printf("No lessons between %s and %s.\n", utils.DayString(window.Start), utils.DayString(window.End))
		return nil
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].start.Before(rows[j].start) })
	cells := make([][]string, len(rows))
	for i, r := range rows {
		cells[i] = r.cells
	}
	ctx.Printf("%s\n", cli.RenderTable([]string{"When", "Subject", "Duration", "Status", "ID"}, cells))
	return nil
}

func lessonRow(ctx *cli.Context, s models.Subject, inst models.LessonInstance) []string {
	status := string(inst.Lifecycle)
	if inst.Origin == constants.OriginMakeup {
		status += " (makeup)"
	}
	switch inst.Lifecycle {
	case constants.LifecycleCancelled:
		status = cli.MutedStyle.Render(status)
	case constants.LifecycleScheduled:
		if inst.End().Before(ctx.Now()) {
			status = cli.MutedStyle.Render("past")
		}
	}
	return []string{
		inst.Start.In(ctx.Location).Format("Mon 2006-01-02 15:04"),
		s.Name,
		fmt.Sprintf("%dm", inst.DurationMin),
		status,
		shortID(inst.ID),
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type LessonEnsureCmd struct {
	RangeFlags `embed:""`

	Subject []string `arg:"" optional:"" help:"Subject names or ids (default: all)."`
}

func (c *LessonEnsureCmd) Run(ctx *cli.Context) error {
	window, err := c.window(ctx)
	if err != nil {
		return err
	}
	subjects, err := subjectIDs(ctx, c.Subject)
	if err != nil {
		return err
	}
	n := ensure(ctx, subjects, window)
	ctx.Printf("Generated %d missing lesson(s) between %s and %s\n", n, utils.DayString(window.Start), utils.DayString(window.End))
	return nil
}

type LessonMakeupCmd struct {
	Subject  string `arg:"" help:"Subject name or id."`
	At       string `help:"Start as 'YYYY-MM-DD HH:MM' in the configured timezone." required:""`
	Duration int    `help:"Duration in minutes (default: the subject's first slot)."`
	Note     string `help:"Optional note."`
}

func (c *LessonMakeupCmd) Run(ctx *cli.Context) error {
	subject, err := ctx.ResolveSubject(c.Subject)
	if err != nil {
		return err
	}
	start, err := time.ParseInLocation(constants.DateTimeFormat, c.At, ctx.Location)
	if err != nil {
		return fmt.Errorf("invalid --at %q (expected YYYY-MM-DD HH:MM)", c.At)
	}

	duration := c.Duration
	if duration == 0 && len(subject.Template.Slots) > 0 {
		duration = subject.Template.Slots[0].DurationMin
	}
	if duration <= 0 {
		return fmt.Errorf("duration must be positive")
	}

	now := ctx.Now()
	lesson := models.LessonInstance{
		ID:          uuid.New().String(),
		SubjectID:   subject.ID,
		Start:       start,
		DurationMin: duration,
		Origin:      constants.OriginMakeup,
		Lifecycle:   constants.LifecycleScheduled,
		Note:        c.Note,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := ctx.Store.InsertInstances(ctx.Ctx, []models.LessonInstance{lesson}); err != nil {
		if errors.Is(err, storage.ErrDuplicateInstance) {
			return fmt.Errorf("%s already has a lesson at %s", subject.Name, c.At)
		}
		return err
	}
	ctx.Printf("Added makeup lesson for %s at %s (%dm)\n", subject.Name, c.At, duration)
	return nil
}

// findLesson accepts a full id or an unambiguous prefix as printed by list
func findLesson(ctx *cli.Context, id string) (models.LessonInstance, error) {
	inst, err := ctx.Store.GetInstance(ctx.Ctx, id)
	if err == nil {
		return inst, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return models.LessonInstance{}, err
	}

	subjects, err := ctx.Store.ListSubjects(ctx.Ctx, true)
	if err != nil {
		return models.LessonInstance{}, err
	}
	var matches []models.LessonInstance
	for _, s := range subjects {
		instances, err := ctx.Store.QueryInstances(ctx.Ctx, s.ID, nil)
		if err != nil {
			return models.LessonInstance{}, err
		}
		for _, inst := range instances {
			if strings.HasPrefix(inst.ID, id) {
				matches = append(matches, inst)
			}
		}
	}
	switch len(matches) {
	case 0:
		return models.LessonInstance{}, fmt.Errorf("lesson %q not found", id)
	case 1:
		return matches[0], nil
	default:
		return models.LessonInstance{}, fmt.Errorf("lesson id %q is ambiguous (%d matches)", id, len(matches))
	}
}

type LessonCompleteCmd struct {
	ID   string `arg:"" help:"Lesson id or id prefix."`
	Note string `help:"Optional note."`
}

func (c *LessonCompleteCmd) Run(ctx *cli.Context) error {
	inst, err := findLesson(ctx, c.ID)
	if err != nil {
		return err
	}
	if err := ctx.Store.UpdateInstanceLifecycle(ctx.Ctx, inst.ID, constants.LifecycleCompleted, c.Note); err != nil {
		return err
	}

	// A completed lesson also counts toward the subject's streak for that day
	day := utils.DayString(inst.Start.In(ctx.Location))
	if _, err := ctx.Stats.Mark(ctx.Ctx, inst.SubjectID, day, true, c.Note, ctx.Now()); err != nil {
		return fmt.Errorf("lesson completed but logging failed: %w", err)
	}
	ctx.Printf("✓ Completed lesson on %s\n", inst.Start.In(ctx.Location).Format(constants.DateTimeFormat))
	return nil
}

type LessonCancelCmd struct {
	ID   string `arg:"" help:"Lesson id or id prefix."`
	Note string `help:"Optional reason."`
}

func (c *LessonCancelCmd) Run(ctx *cli.Context) error {
	inst, err := findLesson(ctx, c.ID)
	if err != nil {
		return err
	}
	if inst.Lifecycle == constants.LifecycleCompleted {
		return fmt.Errorf("lesson on %s is already completed", inst.Start.In(ctx.Location).Format(constants.DateTimeFormat))
	}
	if err := ctx.Store.UpdateInstanceLifecycle(ctx.Ctx, inst.ID, constants.LifecycleCancelled, c.Note); err != nil {
		return err
	}
	ctx.Printf("Cancelled lesson on %s\n", inst.Start.In(ctx.Location).Format(constants.DateTimeFormat))
	return nil
}
