package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/julianstephens/lessonsync/internal/models"
	"github.com/julianstephens/lessonsync/internal/storage"
	"github.com/julianstephens/lessonsync/internal/storage/storagetest"
)

func setupTestSQLiteStore(t *testing.T) (*Store, func()) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store := NewStore(dbPath)
	if err := store.Init(); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	return store, func() { store.Close() }
}

func TestProviderContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Provider {
		store, cleanup := setupTestSQLiteStore(t)
		t.Cleanup(cleanup)
		return store
	})
}

func TestLoadRequiresInit(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing.db"))
	if err := store.Load(); err == nil {
		t.Error("Load() on a missing database should fail")
	}
}

func TestLoadExisting(t *testing.T) {
	store, cleanup := setupTestSQLiteStore(t)
	path := store.GetConfigPath()
	subj := storagetest.NewSubject("alice")
	if err := store.AddSubject(context.Background(), subj); err != nil {
		t.Fatalf("AddSubject failed: %v", err)
	}
	cleanup()

	reopened := NewStore(path)
	if err := reopened.Load(); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetSubjectByName(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetSubjectByName failed: %v", err)
	}
	if got.ID != subj.ID {
		t.Errorf("GetSubjectByName().ID = %s, want %s", got.ID, subj.ID)
	}

	current, latest, err := reopened.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if current != latest || current == 0 {
		t.Errorf("SchemaVersion() = (%d, %d), want matching non-zero versions", current, latest)
	}
}

func TestInitIsIdempotent(t *testing.T) {
	store, cleanup := setupTestSQLiteStore(t)
	defer cleanup()

	if err := store.Init(); err != nil {
		t.Fatalf("second Init() failed: %v", err)
	}
	n, err := store.Migrate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Migrate() applied %d migrations on an up-to-date database", n)
	}
	if _, err := os.Stat(store.GetConfigPath()); err != nil {
		t.Errorf("database file missing: %v", err)
	}
}

func TestDeleteSubjectCascades(t *testing.T) {
	store, cleanup := setupTestSQLiteStore(t)
	defer cleanup()
	ctx := context.Background()

	subj := storagetest.NewSubject("alice")
	if err := store.AddSubject(ctx, subj); err != nil {
		t.Fatalf("AddSubject failed: %v", err)
	}
	inst := storagetest.NewInstance(subj.ID, subj.CreatedAt.AddDate(0, 0, 7))
	if err := store.InsertInstances(ctx, []models.LessonInstance{inst}); err != nil {
		t.Fatalf("InsertInstances failed: %v", err)
	}

	if _, err := store.GetDB().ExecContext(ctx, "DELETE FROM subjects WHERE id = ?", subj.ID); err != nil {
		t.Fatalf("delete subject failed: %v", err)
	}
	left, err := store.QueryInstances(ctx, subj.ID, nil)
	if err != nil {
		t.Fatalf("QueryInstances failed: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("expected instances to cascade, got %d", len(left))
	}
}
