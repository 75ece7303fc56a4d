package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/julianstephens/lessonsync/internal/backup"
	"github.com/julianstephens/lessonsync/internal/config"
	"github.com/julianstephens/lessonsync/internal/guard"
	"github.com/julianstephens/lessonsync/internal/logger"
	"github.com/julianstephens/lessonsync/internal/models"
	"github.com/julianstephens/lessonsync/internal/reconcile"
	"github.com/julianstephens/lessonsync/internal/stats"
	"github.com/julianstephens/lessonsync/internal/storage"
	"github.com/julianstephens/lessonsync/internal/storage/sqlite"
	"github.com/julianstephens/lessonsync/internal/utils"
)

type Context struct {
	Store    storage.Provider
	Config   config.Config
	Location *time.Location
	Engine   *reconcile.Engine
	Stats    *stats.Service

	// ConfigPath is where Config was loaded from
	ConfigPath string

	// Ctx is the base context for store calls; cancelled on interrupt
	Ctx context.Context
	// Now is read once per command
	Now func() time.Time
	Out io.Writer
	// Yes skips interactive confirmations
	Yes bool
}

// NewContext wires the engine and stats service for store under cfg
func NewContext(ctx context.Context, store storage.Provider, cfg config.Config) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	engine, err := reconcile.New(store, store, guard.New(), reconcile.Options{
		Location:     loc,
		HorizonWeeks: cfg.HorizonWeeks,
		StoreTimeout: cfg.StoreTimeout,
		Concurrency:  cfg.EnsureConcurrency,
	})
	if err != nil {
		return nil, err
	}

	return &Context{
		Store:    store,
		Config:   cfg,
		Location: loc,
		Engine:   engine,
		Stats:    stats.NewService(store, store, loc),
		Ctx:      ctx,
		Now:      time.Now,
		Out:      os.Stdout,
	}, nil
}

// Today returns now in the configured location
func (c *Context) Today() time.Time {
	return c.Now().In(c.Location)
}

// Printf writes to the command output
func (c *Context) Printf(format string, args ...any) {
	fmt.Fprintf(c.Out, format, args...)
}

// PerformAutomaticBackup snapshots a SQLite database before a destructive
// change. Failures are logged and never block the command.
func (c *Context) PerformAutomaticBackup(label string) {
	if !c.Config.BackupBeforeResync {
		return
	}
	if _, ok := c.Store.(*sqlite.Store); !ok {
		return
	}
	mgr := backup.NewManager(c.Store.GetConfigPath())
	if _, err := mgr.Create(label); err != nil {
		logger.Warn("Automatic backup failed", "error", err)
	}
}

// ResolveSubject finds a subject by name, falling back to its id
func (c *Context) ResolveSubject(nameOrID string) (models.Subject, error) {
	subj, err := c.Store.GetSubjectByName(c.Ctx, nameOrID)
	if err == nil {
		return subj, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return models.Subject{}, err
	}
	subj, err = c.Store.GetSubject(c.Ctx, nameOrID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Subject{}, fmt.Errorf("subject %q not found", nameOrID)
	}
	return subj, err
}

var dayNames = map[string]time.Weekday{
	"sun":       time.Sunday,
	"sunday":    time.Sunday,
	"mon":       time.Monday,
	"monday":    time.Monday,
	"tue":       time.Tuesday,
	"tuesday":   time.Tuesday,
	"wed":       time.Wednesday,
	"wednesday": time.Wednesday,
	"thu":       time.Thursday,
	"thursday":  time.Thursday,
	"fri":       time.Friday,
	"friday":    time.Friday,
	"sat":       time.Saturday,
	"saturday":  time.Saturday,
}

// ParseWeekdays parses a comma-separated list of weekdays
func ParseWeekdays(s string) ([]time.Weekday, error) {
	var weekdays []time.Weekday
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if wd, ok := dayNames[part]; ok {
			weekdays = append(weekdays, wd)
			continue
		}
		// 0=Sunday, 6=Saturday
		num, err := strconv.Atoi(part)
		if err != nil || num < 0 || num > 6 {
			return nil, fmt.Errorf("invalid weekday: %s", part)
		}
		weekdays = append(weekdays, time.Weekday(num))
	}
	return weekdays, nil
}

// ParseSlots parses slot definitions of the form "mon,wed@09:00/40": weekdays,
// a start time and a duration in minutes. Each weekday becomes one slot.
func ParseSlots(defs []string) ([]models.Slot, error) {
	var slots []models.Slot
	for _, def := range defs {
		days, rest, ok := strings.Cut(def, "@")
		if !ok {
			return nil, fmt.Errorf("invalid slot %q (expected DAYS@HH:MM/MINUTES)", def)
		}
		at, dur, ok := strings.Cut(rest, "/")
		if !ok {
			return nil, fmt.Errorf("invalid slot %q (expected DAYS@HH:MM/MINUTES)", def)
		}
		weekdays, err := ParseWeekdays(days)
		if err != nil {
			return nil, fmt.Errorf("invalid slot %q: %w", def, err)
		}
		if !utils.ValidateTimeFormat(at) {
			return nil, fmt.Errorf("invalid slot %q: time must be HH:MM", def)
		}
		minutes, err := strconv.Atoi(dur)
		if err != nil {
			return nil, fmt.Errorf("invalid slot %q: duration must be minutes", def)
		}
		for _, wd := range weekdays {
			slots = append(slots, models.Slot{Weekday: wd, TimeOfDay: at, DurationMin: minutes})
		}
	}
	return slots, nil
}

// FormatTemplate renders a template as "Mon,Wed 09:00 (40m); Fri 17:00 (60m) from 2024-01-01"
func FormatTemplate(tmpl models.RecurrenceTemplate) string {
	if len(tmpl.Slots) == 0 {
		return "no slots"
	}

	type group struct {
		at, dur string
		days    []time.Weekday
	}
	var groups []*group
	index := make(map[string]*group)
	for _, slot := range tmpl.Slots {
		key := slot.TimeOfDay + "/" + strconv.Itoa(slot.DurationMin)
		g, ok := index[key]
		if !ok {
			g = &group{at: slot.TimeOfDay, dur: strconv.Itoa(slot.DurationMin)}
			index[key] = g
			groups = append(groups, g)
		}
		g.days = append(g.days, slot.Weekday)
	}

	parts := make([]string, len(groups))
	for i, g := range groups {
		sort.Slice(g.days, func(a, b int) bool {
			return utils.MondayOffset(g.days[a]) < utils.MondayOffset(g.days[b])
		})
		names := make([]string, len(g.days))
		for j, wd := range g.days {
			names[j] = wd.String()[:3]
		}
		parts[i] = fmt.Sprintf("%s %s (%sm)", strings.Join(names, ","), g.at, g.dur)
	}

	out := strings.Join(parts, "; ")
	if tmpl.ActiveFrom != "" {
		out += " from " + tmpl.ActiveFrom
	}
	if !tmpl.IsOpenEnded() {
		out += " until " + tmpl.ActiveUntil
	}
	return out
}
