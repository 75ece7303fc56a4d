// Package clitest builds command contexts for tests.
package clitest

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/julianstephens/lessonsync/internal/cli"
	"github.com/julianstephens/lessonsync/internal/config"
	"github.com/julianstephens/lessonsync/internal/storage"
	"github.com/julianstephens/lessonsync/internal/storage/memory"
	"github.com/julianstephens/lessonsync/internal/storage/sqlite"
)

// Now is the fixed clock every test context reports: Wednesday 2024-01-10 12:00 UTC.
var Now = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

// New returns a context over store in UTC with confirmations disabled.
// Command output is captured in the returned buffer.
func New(t *testing.T, store storage.Provider) (*cli.Context, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Timezone = "UTC"
	cfg.HorizonWeeks = 2

	ctx, err := cli.NewContext(context.Background(), store, cfg)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	ctx.Out = out
	ctx.Now = func() time.Time { return Now }
	ctx.Yes = true
	return ctx, out
}

// Memory returns a context over a fresh in-memory store.
func Memory(t *testing.T) (*cli.Context, *bytes.Buffer) {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.Init())
	return New(t, store)
}

// SQLite returns a context over an initialized database in a temp dir.
func SQLite(t *testing.T) (*cli.Context, *bytes.Buffer) {
	t.Helper()
	store := sqlite.NewStore(filepath.Join(t.TempDir(), "lessonsync.db"))
	require.NoError(t, store.Init())
	t.Cleanup(func() { _ = store.Close() })
	ctx, out := New(t, store)
	ctx.ConfigPath = filepath.Join(t.TempDir(), "config.yaml")
	return ctx, out
}
