package backups

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/julianstephens/lessonsync/internal/backup"
	"github.com/julianstephens/lessonsync/internal/cli"
	"github.com/julianstephens/lessonsync/internal/constants"
	"github.com/julianstephens/lessonsync/internal/logger"
	"github.com/julianstephens/lessonsync/internal/storage/sqlite"
)

var errNotSQLite = errors.New("backups are only supported for SQLite storage")

type BackupCmd struct {
	Create  BackupCreateCmd  `cmd:"" help:"Create a manual backup." default:"1"`
	List    BackupListCmd    `cmd:"" help:"List available backups."`
	Restore BackupRestoreCmd `cmd:"" help:"Restore from a backup."`
}

func manager(ctx *cli.Context) (*backup.Manager, error) {
	if _, ok := ctx.Store.(*sqlite.Store); !ok {
		return nil, errNotSQLite
	}
	return backup.NewManager(ctx.Store.GetConfigPath()), nil
}

type BackupCreateCmd struct{}

func (c *BackupCreateCmd) Run(ctx *cli.Context) error {
	mgr, err := manager(ctx)
	if err != nil {
		return err
	}
	path, err := mgr.Create("")
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	ctx.Printf("✓ Backup created: %s\n", filepath.Base(path))
	return nil
}

type BackupListCmd struct{}

func (c *BackupListCmd) Run(ctx *cli.Context) error {
	mgr, err := manager(ctx)
	if err != nil {
		return err
	}
	list, err := mgr.List()
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}
	if len(list) == 0 {
		ctx.Printf("No backups found.\nBackups are stored in: %s\n", mgr.Dir())
		return nil
	}

	rows := make([][]string, len(list))
	for i, b := range list {
		label := b.Label
		if label == "" {
			label = "manual"
		}
		rows[i] = []string{
			b.Timestamp.Format("2006-01-02 15:04:05"),
			label,
			fmt.Sprintf("%.1f KB", float64(b.Size)/1024.0),
			filepath.Base(b.Path),
		}
	}
	ctx.Printf("Available backups (%d total, keeping most recent %d):\n", len(list), constants.MaxBackups)
	ctx.Printf("%s\n", cli.RenderTable([]string{"Created", "Reason", "Size", "File"}, rows))
	ctx.Printf("Backup directory: %s\n", mgr.Dir())
	return nil
}

type BackupRestoreCmd struct {
	BackupFile string `arg:"" help:"Path or filename of the backup to restore."`
}

func (c *BackupRestoreCmd) Run(ctx *cli.Context) error {
	mgr, err := manager(ctx)
	if err != nil {
		return err
	}
	path := mgr.Resolve(c.BackupFile)
	if err := backup.Verify(path); err != nil {
		return fmt.Errorf("cannot restore %s: %w", c.BackupFile, err)
	}

	ok, err := ctx.Confirm(
		"Replace the current database with this backup?",
		fmt.Sprintf("Restoring %s. Stop other lessonsync processes first; the current database is backed up before it is replaced.", filepath.Base(path)),
	)
	if err != nil {
		return err
	}
	if !ok {
		ctx.Printf("Restore cancelled.\n")
		return nil
	}

	if err := ctx.Store.Close(); err != nil {
		logger.Warn("Failed to close database before restore", "error", err)
	}
	previous, err := mgr.Restore(path)
	if err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}

	ctx.Printf("✓ Database restored from %s\n", filepath.Base(path))
	if previous != "" {
		ctx.Printf("  Previous database saved as %s\n", filepath.Base(previous))
	}
	return nil
}
