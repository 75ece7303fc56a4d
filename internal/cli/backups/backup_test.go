package backups_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianstephens/lessonsync/internal/backup"
	"github.com/julianstephens/lessonsync/internal/cli/backups"
	"github.com/julianstephens/lessonsync/internal/cli/clitest"
	"github.com/julianstephens/lessonsync/internal/storage/sqlite"
	"github.com/julianstephens/lessonsync/internal/storage/storagetest"
)

func TestBackupCreateAndList(t *testing.T) {
	ctx, out := clitest.SQLite(t)

	require.NoError(t, (&backups.BackupCreateCmd{}).Run(ctx))
	assert.Contains(t, out.String(), "Backup created: lessonsync-")

	out.Reset()
	require.NoError(t, (&backups.BackupListCmd{}).Run(ctx))
	assert.Contains(t, out.String(), "1 total")
	assert.Contains(t, out.String(), "manual")
}

func TestBackupList_Empty(t *testing.T) {
	ctx, out := clitest.SQLite(t)

	require.NoError(t, (&backups.BackupListCmd{}).Run(ctx))
	assert.Contains(t, out.String(), "No backups found.")
}

func TestBackup_RequiresSQLite(t *testing.T) {
	ctx, _ := clitest.Memory(t)

	err := (&backups.BackupCreateCmd{}).Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SQLite")
}

func TestBackupRestore(t *testing.T) {
	ctx, out := clitest.SQLite(t)
	bg := context.Background()

	alice := storagetest.NewSubject("alice")
	require.NoError(t, ctx.Store.AddSubject(bg, alice))

	mgr := backup.NewManager(ctx.Store.GetConfigPath())
	snapshot, err := mgr.Create("")
	require.NoError(t, err)

	require.NoError(t, ctx.Store.AddSubject(bg, storagetest.NewSubject("bob")))

	require.NoError(t, (&backups.BackupRestoreCmd{BackupFile: filepath.Base(snapshot)}).Run(ctx))
	assert.Contains(t, out.String(), "Database restored")
	assert.Contains(t, out.String(), "Previous database saved as")

	restored := sqlite.NewStore(ctx.Store.GetConfigPath())
	require.NoError(t, restored.Load())
	defer restored.Close()

	subjects, err := restored.ListSubjects(bg, true)
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	assert.Equal(t, alice.ID, subjects[0].ID)
}

func TestBackupRestore_RejectsInvalidFile(t *testing.T) {
	ctx, _ := clitest.SQLite(t)

	err := (&backups.BackupRestoreCmd{BackupFile: "does-not-exist.db"}).Run(ctx)
	assert.Error(t, err)
}
