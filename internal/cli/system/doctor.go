package system

import (
	"fmt"
	"time"

	"github.com/julianstephens/lessonsync/internal/backup"
	"github.com/julianstephens/lessonsync/internal/cli"
	"github.com/julianstephens/lessonsync/internal/storage"
	"github.com/julianstephens/lessonsync/internal/storage/sqlite"
	"github.com/julianstephens/lessonsync/internal/validation"
)

type DoctorCmd struct{}

type check struct {
	name string
	run  func(ctx *cli.Context) error
	// needsDB checks are skipped when the database is unreachable
	needsDB bool
	// warnOnly failures do not fail the command
	warnOnly bool
}

var checks = []check{
	{name: "Database reachable", run: checkDBReachable},
	{name: "Schema version", run: checkSchemaVersion, needsDB: true},
	{name: "Templates valid", run: checkTemplates, needsDB: true},
	{name: "Lesson integrity", run: checkOrphanedLessons, needsDB: true},
	{name: "Completion dates", run: checkCompletionDates, needsDB: true},
	{name: "Backups present", run: checkBackupsPresent, warnOnly: true},
	{name: "Timezone", run: checkTimezone},
	{name: "Clock", run: checkClock},
}

func (cmd *DoctorCmd) Run(ctx *cli.Context) error {
	ctx.Printf("Running diagnostics...\n\n")

	hasError := false
	dbReachable := true
	for i, c := range checks {
		if c.needsDB && !dbReachable {
			ctx.Printf("⊘ %s: SKIPPED (database not reachable)\n", c.name)
			continue
		}
		err := c.run(ctx)
		switch {
		case err == nil:
			ctx.Printf("✓ %s: OK\n", c.name)
		case c.warnOnly:
			ctx.Printf("⚠ %s: WARNING\n   %v\n", c.name, err)
		default:
			ctx.Printf("❌ %s: FAIL\n   Error: %v\n", c.name, err)
			hasError = true
			if i == 0 {
				dbReachable = false
			}
		}
	}

	ctx.Printf("\n")
	if hasError {
		ctx.Printf("Diagnostics completed with errors.\n")
		return fmt.Errorf("one or more health checks failed")
	}
	ctx.Printf("All diagnostics passed!\n")
	return nil
}

func checkDBReachable(ctx *cli.Context) error {
	if _, err := ctx.Store.ListSubjects(ctx.Ctx, true); err != nil {
		return fmt.Errorf("failed to query database: %w", err)
	}
	return nil
}

func checkSchemaVersion(ctx *cli.Context) error {
	m, ok := ctx.Store.(storage.Migrator)
	if !ok {
		return nil
	}
	current, latest, err := m.SchemaVersion(ctx.Ctx)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if current > latest {
		return fmt.Errorf("database schema version (%d) is newer than supported version (%d)", current, latest)
	}
	if current < latest {
		return fmt.Errorf("migrations incomplete: current version %d, latest version %d (run 'lessonsync migrate')", current, latest)
	}
	return nil
}

func checkTemplates(ctx *cli.Context) error {
	subjects, err := ctx.Store.ListSubjects(ctx.Ctx, false)
	if err != nil {
		return err
	}
	bad := 0
	for _, s := range subjects {
		report := validation.ValidateTemplate(s.Template)
		if report.HasConflicts() {
			bad++
			ctx.Printf("   %s:\n%s", s.Name, report.FormatReport())
		}
	}
	if bad > 0 {
		return fmt.Errorf("%d subject(s) have invalid templates", bad)
	}
	return nil
}

func checkOrphanedLessons(ctx *cli.Context) error {
	s, ok := ctx.Store.(*sqlite.Store)
	if !ok {
		return nil
	}
	db := s.GetDB()
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	var orphaned int
	err := db.QueryRowContext(ctx.Ctx, `
		SELECT COUNT(*)
		FROM lesson_instances li
		LEFT JOIN subjects s ON li.subject_id = s.id
		WHERE s.id IS NULL
	`).Scan(&orphaned)
	if err != nil {
		return fmt.Errorf("failed to check orphaned lessons: %w", err)
	}
	if orphaned > 0 {
		return fmt.Errorf("found %d lesson(s) referencing missing subjects", orphaned)
	}
	return nil
}

func checkCompletionDates(ctx *cli.Context) error {
	s, ok := ctx.Store.(*sqlite.Store)
	if !ok {
		return nil
	}
	db := s.GetDB()
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	var invalid int
	err := db.QueryRowContext(ctx.Ctx, `
		SELECT COUNT(*)
		FROM completion_log
		WHERE day NOT GLOB '[0-9][0-9][0-9][0-9]-[0-9][0-9]-[0-9][0-9]'
	`).Scan(&invalid)
	if err != nil {
		return fmt.Errorf("failed to check completion dates: %w", err)
	}
	if invalid > 0 {
		return fmt.Errorf("found %d completion entries with invalid dates", invalid)
	}
	return nil
}

func checkBackupsPresent(ctx *cli.Context) error {
	if _, ok := ctx.Store.(*sqlite.Store); !ok {
		return nil
	}
	list, err := backup.NewManager(ctx.Store.GetConfigPath()).List()
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}
	if len(list) == 0 {
		return fmt.Errorf("no backups found - consider creating one with 'lessonsync backup create'")
	}
	return nil
}

func checkTimezone(ctx *cli.Context) error {
	if _, err := ctx.Config.Location(); err != nil {
		return err
	}
	return nil
}

func checkClock(ctx *cli.Context) error {
	now := ctx.Now()
	if now.Year() < 2020 || now.Year() > 2100 {
		return fmt.Errorf("system time appears incorrect: %s", now.Format(time.RFC3339))
	}
	return nil
}
