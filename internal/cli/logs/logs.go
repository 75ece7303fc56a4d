package logs

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/julianstephens/lessonsync/internal/cli"
	"github.com/julianstephens/lessonsync/internal/constants"
	"github.com/julianstephens/lessonsync/internal/models"
	"github.com/julianstephens/lessonsync/internal/scheduler"
	"github.com/julianstephens/lessonsync/internal/utils"
)

type LogCmd struct {
	Mark LogMarkCmd `cmd:"" help:"Record whether a subject was done on a day."`
	Show LogShowCmd `cmd:"" help:"Show recent completion history." default:"withargs"`
}

type LogMarkCmd struct {
	Subject string `arg:"" help:"Subject name or id."`
	Date    string `help:"Date in YYYY-MM-DD format (default: today)."`
	Note    string `help:"Optional note for this entry."`
	Undo    bool   `help:"Record the day as not done."`
}

func (c *LogMarkCmd) Run(ctx *cli.Context) error {
	subject, err := ctx.ResolveSubject(c.Subject)
	if err != nil {
		return err
	}

	day := c.Date
	if day == "" {
		day = utils.DayString(ctx.Today())
	}

	if _, err := ctx.Stats.Mark(ctx.Ctx, subject.ID, day, !c.Undo, c.Note, ctx.Now()); err != nil {
		return err
	}
	if c.Undo {
		ctx.Printf("Unmarked %s for %s\n", subject.Name, day)
		return nil
	}
	ctx.Printf("Marked %s for %s\n", subject.Name, day)
	return nil
}

const nameWidth = 20

type LogShowCmd struct {
	Subject string `arg:"" optional:"" help:"Show history for one subject only."`
	Days    int    `help:"Number of days to show." default:"14"`
}

func (c *LogShowCmd) Run(ctx *cli.Context) error {
	if c.Days < 1 {
		return fmt.Errorf("--days must be at least 1")
	}

	var subjects []models.Subject
	if c.Subject != "" {
		s, err := ctx.ResolveSubject(c.Subject)
		if err != nil {
			return err
		}
		subjects = []models.Subject{s}
	} else {
		all, err := ctx.Store.ListSubjects(ctx.Ctx, false)
		if err != nil {
			return err
		}
		subjects = all
	}
	if len(subjects) == 0 {
		ctx.Printf("No subjects found.\n")
		return nil
	}

	end := utils.StartOfDay(ctx.Today())
	start := end.AddDate(0, 0, -(c.Days - 1))

	var b strings.Builder
	fmt.Fprintf(&b, "Completion log (last %d days):\n\n", c.Days)
	b.WriteString(padName("Subject"))
	for i := 0; i < c.Days; i++ {
		fmt.Fprintf(&b, " %5s", start.AddDate(0, 0, i).Format("01/02"))
	}
	b.WriteString("\n")
	b.WriteString(strings.Repeat("-", nameWidth+6*c.Days))
	b.WriteString("\n")

	for _, s := range subjects {
		entries, err := ctx.Store.QueryCompletions(ctx.Ctx, s.ID, utils.DayString(start), utils.DayString(end))
		if err != nil {
			return err
		}
		done := make(map[string]bool, len(entries))
		for _, e := range entries {
			done[e.Day] = e.IsCompleted
		}
		active := scheduler.ActiveWeekdays(s.Template)

		b.WriteString(padName(s.Name))
		for i := 0; i < c.Days; i++ {
			day := start.AddDate(0, 0, i)
			switch {
			case done[utils.DayString(day)]:
				b.WriteString("  x   ")
			case len(active) > 0 && !active[day.Weekday()]:
				// not expected on this weekday
				b.WriteString("      ")
			default:
				b.WriteString("  .   ")
			}
		}
		b.WriteString("\n")
	}
	ctx.Printf("%s", b.String())
	return nil
}

func padName(name string) string {
	if len(name) > nameWidth {
		return name[:nameWidth-3] + "..."
	}
	return name + strings.Repeat(" ", nameWidth-len(name))
}

type StatsCmd struct {
	Subject string `arg:"" help:"Subject name or id."`
	JSON    bool   `help:"Print stats as JSON."`
}

func (c *StatsCmd) Run(ctx *cli.Context) error {
	subject, err := ctx.ResolveSubject(c.Subject)
	if err != nil {
		return err
	}
	st, err := ctx.Stats.ForSubject(ctx.Ctx, subject.ID, ctx.Now())
	if err != nil {
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(ctx.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	avg := "-"
	if st.AvgCompletionTime != nil {
		avg = *st.AvgCompletionTime
	}
	rows := [][]string{
		{"Current streak", fmt.Sprintf("%d", st.Streak)},
		{"Best streak", fmt.Sprintf("%d", st.BestStreak)},
		{"This week", fmt.Sprintf("%d/%d", st.WeekCount, st.WeekTotal)},
		{"This month", fmt.Sprintf("%d/%d", st.MonthCount, st.MonthTotal)},
		{"Completion rate", fmt.Sprintf("%.0f%%", st.TotalRate*100)},
		{"Average time", avg},
	}
	ctx.Printf("%s (%s)\n", subject.Name, ctx.Today().Format(constants.DateFormat))
	ctx.Printf("%s\n", cli.RenderTable([]string{"Stat", "Value"}, rows))
	return nil
}
