package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/julianstephens/lessonsync/internal/cli"
	"github.com/julianstephens/lessonsync/internal/cli/backups"
	"github.com/julianstephens/lessonsync/internal/cli/lessons"
	"github.com/julianstephens/lessonsync/internal/cli/logs"
	"github.com/julianstephens/lessonsync/internal/cli/subjects"
	"github.com/julianstephens/lessonsync/internal/cli/system"
	"github.com/julianstephens/lessonsync/internal/config"
	"github.com/julianstephens/lessonsync/internal/constants"
	apperrors "github.com/julianstephens/lessonsync/internal/errors"
	"github.com/julianstephens/lessonsync/internal/keyring"
	"github.com/julianstephens/lessonsync/internal/logger"
	"github.com/julianstephens/lessonsync/internal/storage"
	"github.com/julianstephens/lessonsync/internal/storage/postgres"
	"github.com/julianstephens/lessonsync/internal/storage/sqlite"
)

var CLI struct {
	Version  kong.VersionFlag
	DB       string `help:"SQLite database path or PostgreSQL connection string. PostgreSQL passwords must come from the keyring, ${env}, or ~/.pgpass." default:"${db}"`
	Config   string `help:"Config file path." default:"${config}" type:"path"`
	Timezone string `help:"Override the configured timezone (IANA name or Local)."`
	Debug    bool   `help:"Log debug output to stderr."`
	Yes      bool   `short:"y" help:"Answer yes to confirmation prompts."`

	Init     system.InitCmd       `cmd:"" help:"Initialize lessonsync storage."`
	Migrate  system.MigrateCmd    `cmd:"" help:"Run database migrations."`
	Doctor   system.DoctorCmd     `cmd:"" help:"Run health checks and diagnostics."`
	Subject  subjects.SubjectCmd  `cmd:"" help:"Manage students and habits."`
	Template subjects.TemplateCmd `cmd:"" help:"Manage weekly templates."`
	Resync   subjects.ResyncCmd   `cmd:"" help:"Regenerate upcoming lessons from templates."`
	Lesson   lessons.LessonCmd    `cmd:"" help:"List and manage lessons." default:"1"`
	Log      logs.LogCmd          `cmd:"" help:"Record and show completion history."`
	Stats    logs.StatsCmd        `cmd:"" help:"Show streaks and completion stats for a subject."`
	Backup   backups.BackupCmd    `cmd:"" help:"Manage database backups."`
	Keyring  system.KeyringCmd    `cmd:"" help:"Manage the PostgreSQL connection string in the OS keyring."`
	Settings system.ConfigCmd     `cmd:"" name:"config" help:"Show configuration."`
}

// noStore lists top-level commands that run without an open database
var noStore = map[string]bool{
	"init":    true,
	"keyring": true,
	"config":  true,
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name(constants.AppName),
		kong.Description("Keeps recurring lesson and habit schedules in sync with their weekly templates"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version": constants.Version,
			"db":      constants.DefaultDBPath,
			"config":  filepath.Join(constants.DefaultConfigDir, constants.DefaultConfigFile),
			"env":     constants.EnvDBConnection,
		},
	)

	configPath, err := config.ExpandHome(CLI.Config)
	if err != nil {
		apperrors.Fatal(err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		apperrors.Fatal(apperrors.WithHint(err, "fix or remove "+configPath))
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		apperrors.Fatal(err)
	}
	if CLI.Timezone != "" {
		cfg.Timezone = CLI.Timezone
	}
	if CLI.Debug {
		cfg.Debug = true
	}

	if err := logger.Init(logger.Config{Debug: cfg.Debug, ConfigDir: filepath.Dir(configPath)}); err != nil {
		apperrors.Fatal(err)
	}

	store, err := openStore(CLI.DB)
	if err != nil {
		apperrors.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCtx, err := cli.NewContext(ctx, store, cfg)
	if err != nil {
		apperrors.Fatal(apperrors.WithHint(err, "check "+configPath+" and LESSONSYNC_* environment variables"))
	}
	appCtx.ConfigPath = configPath
	appCtx.Yes = CLI.Yes

	command := strings.Fields(kctx.Command())[0]
	if !noStore[command] {
		if err := store.Load(); err != nil {
			apperrors.Fatal(apperrors.WithHint(err, "run 'lessonsync init' to create the database"))
		}
	}

	err = kctx.Run(appCtx)
	if closeErr := store.Close(); closeErr != nil {
		logger.Warn("Failed to close storage", "error", closeErr)
	}
	apperrors.Fatal(err)
}

// openStore picks the backend: a PostgreSQL --db value, then the environment,
// then the keyring when --db was left at its default, then SQLite.
func openStore(db string) (storage.Provider, error) {
	if isPostgres(db) {
		if _, err := postgres.ValidateConnString(db); err != nil {
			if errors.Is(err, postgres.ErrEmbeddedCredentials) {
				return nil, apperrors.WithHint(err,
					"store it with 'lessonsync keyring set', export "+constants.EnvDBConnection+", or use ~/.pgpass")
			}
			return nil, err
		}
		return postgres.New(db), nil
	}

	if connStr := os.Getenv(constants.EnvDBConnection); connStr != "" {
		return postgres.New(connStr), nil
	}

	if db == constants.DefaultDBPath {
		if connStr, err := keyring.GetConnectionString(); err == nil {
			logger.Debug("Using connection string from keyring")
			return postgres.New(connStr), nil
		} else if !errors.Is(err, keyring.ErrNotFound) {
			logger.Debug("Keyring lookup failed", "error", err)
		}
	}

	path, err := config.ExpandHome(db)
	if err != nil {
		return nil, err
	}
	return sqlite.NewStore(path), nil
}

func isPostgres(db string) bool {
	return strings.HasPrefix(db, "postgres://") ||
		strings.HasPrefix(db, "postgresql://") ||
		strings.Contains(db, "host=")
}
