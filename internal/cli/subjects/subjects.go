package subjects

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/julianstephens/lessonsync/internal/cli"
	"github.com/julianstephens/lessonsync/internal/constants"
	"github.com/julianstephens/lessonsync/internal/models"
	"github.com/julianstephens/lessonsync/internal/storage"
	"github.com/julianstephens/lessonsync/internal/utils"
	"github.com/julianstephens/lessonsync/internal/validation"
)

type SubjectCmd struct {
	Add       SubjectAddCmd       `cmd:"" help:"Add a student or habit with a weekly template."`
	List      SubjectListCmd      `cmd:"" help:"List subjects."`
	Show      SubjectShowCmd      `cmd:"" help:"Show a subject and its template."`
	Archive   SubjectArchiveCmd   `cmd:"" help:"Archive a subject and clear its future generated lessons."`
	Unarchive SubjectUnarchiveCmd `cmd:"" help:"Unarchive a subject and regenerate its schedule."`
}

type SubjectAddCmd struct {
	Name  string   `arg:"" help:"Subject name."`
	Kind  string   `help:"Subject kind." enum:"student,habit" default:"student"`
	Slot  []string `help:"Weekly slot as DAYS@HH:MM/MINUTES, e.g. mon,wed@09:00/40. Repeatable."`
	From  string   `help:"First active date (YYYY-MM-DD, default: today)."`
	Until string   `help:"Last active date (YYYY-MM-DD, default: open-ended)."`
}

func (c *SubjectAddCmd) Run(ctx *cli.Context) error {
	if _, err := ctx.Store.GetSubjectByName(ctx.Ctx, c.Name); err == nil {
		return fmt.Errorf("subject with name %q already exists", c.Name)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	tmpl, err := buildTemplate(ctx, c.Slot, c.From, c.Until)
	if err != nil {
		return err
	}

	now := ctx.Now()
	subject := models.Subject{
		ID:        uuid.New().String(),
		Name:      c.Name,
		Kind:      constants.SubjectKind(c.Kind),
		Template:  tmpl,
		Active:    true,
		CreatedAt: now,
	}
	if err := ctx.Store.AddSubject(ctx.Ctx, subject); err != nil {
		return err
	}
	ctx.Printf("Added %s: %s\n", c.Kind, c.Name)

	res, err := ctx.Engine.Resync(ctx.Ctx, subject.ID, now)
	if err != nil {
		return fmt.Errorf("subject added but schedule generation failed: %w", err)
	}
	ctx.Printf("Scheduled %d lesson(s) over the next %d weeks\n", res.Inserted, ctx.Config.HorizonWeeks)
	return nil
}

// buildTemplate assembles and validates a template from command flags
func buildTemplate(ctx *cli.Context, specs []string, from, until string) (models.RecurrenceTemplate, error) {
	slots, err := cli.ParseSlots(specs)
	if err != nil {
		return models.RecurrenceTemplate{}, err
	}
	if from == "" {
		from = utils.DayString(ctx.Today())
	}
	tmpl := models.RecurrenceTemplate{Slots: slots, ActiveFrom: from, ActiveUntil: until}

	report := validation.ValidateTemplate(tmpl)
	if report.HasConflicts() {
		ctx.Printf("%s", report.FormatReport())
		return tmpl, report.Err()
	}
	if len(report.Warnings) > 0 {
		ctx.Printf("%s", report.FormatReport())
	}
	return tmpl, nil
}

type SubjectListCmd struct {
	Archived bool `help:"Include archived subjects."`
}

func (c *SubjectListCmd) Run(ctx *cli.Context) error {
	subjects, err := ctx.Store.ListSubjects(ctx.Ctx, c.Archived)
	if err != nil {
		return err
	}
	if len(subjects) == 0 {
		ctx.Printf("No subjects found.\n")
		return nil
	}

	rows := make([][]string, 0, len(subjects))
	for _, s := range subjects {
		status := "active"
		if s.ArchivedAt != nil {
			status = "archived"
		}
		rows = append(rows, []string{s.Name, string(s.Kind), cli.FormatTemplate(s.Template), status})
	}
	ctx.Printf("%s\n", cli.RenderTable([]string{"Name", "Kind", "Template", "Status"}, rows))
	return nil
}

type SubjectShowCmd struct {
	Name string `arg:"" help:"Subject name or id."`
}

func (c *SubjectShowCmd) Run(ctx *cli.Context) error {
	subject, err := ctx.ResolveSubject(c.Name)
	if err != nil {
		return err
	}

	instances, err := ctx.Store.QueryInstances(ctx.Ctx, subject.ID, nil)
	if err != nil {
		return err
	}
	now := ctx.Now()
	upcoming := 0
	for _, inst := range instances {
		if inst.Start.After(now) && inst.Lifecycle == constants.LifecycleScheduled {
			upcoming++
		}
	}

	ctx.Printf("Name:     %s\n", subject.Name)
	ctx.Printf("ID:       %s\n", subject.ID)
	ctx.Printf("Kind:     %s\n", subject.Kind)
	ctx.Printf("Active:   %s\n", strconv.FormatBool(subject.Active && subject.ArchivedAt == nil))
	ctx.Printf("Template: %s\n", cli.FormatTemplate(subject.Template))
	ctx.Printf("Lessons:  %d stored, %d upcoming\n", len(instances), upcoming)
	return nil
}

type SubjectArchiveCmd struct {
	Name string `arg:"" help:"Subject name or id."`
}

func (c *SubjectArchiveCmd) Run(ctx *cli.Context) error {
	subject, err := ctx.ResolveSubject(c.Name)
	if err != nil {
		return err
	}
	if err := ctx.Store.ArchiveSubject(ctx.Ctx, subject.ID); err != nil {
		return err
	}

	ctx.PerformAutomaticBackup("resync")
	res, err := ctx.Engine.Resync(ctx.Ctx, subject.ID, ctx.Now())
	if err != nil {
		return fmt.Errorf("subject archived but clearing its schedule failed: %w", err)
	}
	ctx.Printf("Archived %s (removed %d upcoming lesson(s))\n", subject.Name, res.Deleted)
	return nil
}

type SubjectUnarchiveCmd struct {
	Name string `arg:"" help:"Subject name or id."`
}

func (c *SubjectUnarchiveCmd) Run(ctx *cli.Context) error {
	subject, err := ctx.ResolveSubject(c.Name)
	if err != nil {
		return err
	}
	if err := ctx.Store.UnarchiveSubject(ctx.Ctx, subject.ID); err != nil {
		return err
	}

	res, err := ctx.Engine.Resync(ctx.Ctx, subject.ID, ctx.Now())
	if err != nil {
		return fmt.Errorf("subject unarchived but schedule generation failed: %w", err)
	}
	ctx.Printf("Unarchived %s (scheduled %d lesson(s))\n", subject.Name, res.Inserted)
	return nil
}
