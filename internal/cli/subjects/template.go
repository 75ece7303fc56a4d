package subjects

import (
	"fmt"
	"time"

	"github.com/julianstephens/lessonsync/internal/cli"
	"github.com/julianstephens/lessonsync/internal/models"
	"github.com/julianstephens/lessonsync/internal/reconcile"
)

type TemplateCmd struct {
	Set  TemplateSetCmd  `cmd:"" help:"Replace a subject's weekly template and resync its schedule."`
	Show TemplateShowCmd `cmd:"" help:"Show a subject's weekly template."`
}

type TemplateSetCmd struct {
	Name   string   `arg:"" help:"Subject name or id."`
	Slot   []string `help:"Weekly slot as DAYS@HH:MM/MINUTES. Repeatable." required:""`
	From   string   `help:"First active date (YYYY-MM-DD, default: keep current)."`
	Until  string   `help:"Last active date (YYYY-MM-DD, default: open-ended)."`
	DryRun bool     `help:"Show the changes without applying them."`
}

func (c *TemplateSetCmd) Run(ctx *cli.Context) error {
	subject, err := ctx.ResolveSubject(c.Name)
	if err != nil {
		return err
	}

	from := c.From
	if from == "" {
		from = subject.Template.ActiveFrom
	}
	tmpl, err := buildTemplate(ctx, c.Slot, from, c.Until)
	if err != nil {
		return err
	}

	now := ctx.Now()
	plan, err := ctx.Engine.PlanTemplateChange(ctx.Ctx, subject.ID, tmpl, now)
	if err != nil {
		return err
	}
	printPlan(ctx, plan)

	if c.DryRun {
		ctx.Printf("Dry run: nothing changed.\n")
		return nil
	}

	if removed := len(plan.Delete) + len(plan.Replace); removed > 0 {
		ok, err := ctx.Confirm(
			fmt.Sprintf("Replace template for %s?", subject.Name),
			fmt.Sprintf("%d upcoming generated lesson(s) will be removed or rescheduled.", removed),
		)
		if err != nil {
			return err
		}
		if !ok {
			ctx.Printf("Template unchanged.\n")
			return nil
		}
	}

	ctx.PerformAutomaticBackup("resync")
	subject.Template = tmpl
	if err := ctx.Store.UpdateSubject(ctx.Ctx, subject); err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}

	res, err := ctx.Engine.Resync(ctx.Ctx, subject.ID, now)
	if err != nil {
		if reconcile.IsPartial(err) {
			return fmt.Errorf("%w (run 'lessonsync resync %s' to finish)", err, subject.Name)
		}
		return err
	}
	ctx.Printf("Template saved: %d added, %d removed, %d unchanged\n", res.Inserted, res.Deleted, res.Kept)
	return nil
}

func printPlan(ctx *cli.Context, plan reconcile.Plan) {
	if plan.IsEmpty() {
		ctx.Printf("Schedule already matches the template (%d lesson(s) kept).\n", plan.Kept)
		return
	}

	rows := make([][]string, 0, len(plan.Insert)+len(plan.Delete)+len(plan.Replace))
	for _, inst := range plan.Insert {
		rows = append(rows, []string{"+ add", formatStart(ctx, inst.Start), fmt.Sprintf("%dm", inst.DurationMin)})
	}
	for _, r := range plan.Replace {
		rows = append(rows, []string{"~ resize", formatStart(ctx, r.New.Start), fmt.Sprintf("%dm -> %dm", r.Old.DurationMin, r.New.DurationMin)})
	}
	for _, inst := range plan.Delete {
		rows = append(rows, []string{cli.DangerStyle.Render("- remove"), formatStart(ctx, inst.Start), fmt.Sprintf("%dm", inst.DurationMin)})
	}
	ctx.Printf("%s\n", cli.RenderTable([]string{"Change", "Start", "Duration"}, rows))
	ctx.Printf("%d to add, %d to remove, %d to resize, %d unchanged\n", len(plan.Insert), len(plan.Delete), len(plan.Replace), plan.Kept)
}

func formatStart(ctx *cli.Context, t time.Time) string {
	return t.In(ctx.Location).Format("Mon 2006-01-02 15:04")
}

type TemplateShowCmd struct {
	Name string `arg:"" help:"Subject name or id."`
}

func (c *TemplateShowCmd) Run(ctx *cli.Context) error {
	subject, err := ctx.ResolveSubject(c.Name)
	if err != nil {
		return err
	}
	if len(subject.Template.Slots) == 0 {
		ctx.Printf("%s has no slots.\n", subject.Name)
		return nil
	}

	rows := make([][]string, len(subject.Template.Slots))
	for i, slot := range subject.Template.Slots {
		rows[i] = []string{slot.Weekday.String(), slot.TimeOfDay, fmt.Sprintf("%dm", slot.DurationMin)}
	}
	ctx.Printf("%s\n", cli.RenderTable([]string{"Day", "Time", "Duration"}, rows))
	ctx.Printf("Active from %s", subject.Template.ActiveFrom)
	if !subject.Template.IsOpenEnded() {
		ctx.Printf(" until %s", subject.Template.ActiveUntil)
	}
	ctx.Printf("\n")
	return nil
}

type ResyncCmd struct {
	Names []string `arg:"" optional:"" help:"Subject names or ids (default: all)."`
}

func (c *ResyncCmd) Run(ctx *cli.Context) error {
	var targets []models.Subject
	if len(c.Names) == 0 {
		subjects, err := ctx.Store.ListSubjects(ctx.Ctx, false)
		if err != nil {
			return err
		}
		targets = subjects
	} else {
		for _, name := range c.Names {
			s, err := ctx.ResolveSubject(name)
			if err != nil {
				return err
			}
			targets = append(targets, s)
		}
	}

	ctx.PerformAutomaticBackup("resync")
	now := ctx.Now()
	failed := 0
	for _, s := range targets {
		res, err := ctx.Engine.Resync(ctx.Ctx, s.ID, now)
		if err != nil {
			failed++
			ctx.Printf("✗ %s: %v\n", s.Name, err)
			continue
		}
		ctx.Printf("✓ %s: %d added, %d removed, %d unchanged\n", s.Name, res.Inserted, res.Deleted, res.Kept)
	}
	if failed > 0 {
		return fmt.Errorf("resync failed for %d of %d subject(s)", failed, len(targets))
	}
	return nil
}
