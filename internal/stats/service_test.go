package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianstephens/lessonsync/internal/storage"
	"github.com/julianstephens/lessonsync/internal/storage/memory"
	"github.com/julianstephens/lessonsync/internal/storage/storagetest"
)

func newService(t *testing.T) (*Service, *memory.Store, string) {
	t.Helper()
	store := memory.New()
	subj := storagetest.NewSubject("alice")
	subj.Template = mwf()
	require.NoError(t, store.AddSubject(context.Background(), subj))
	return NewService(store, store, time.UTC), store, subj.ID
}

func TestService_MarkAndCompute(t *testing.T) {
	svc, _, id := newService(t)
	ctx := context.Background()

	for _, day := range []string{"2024-01-08", "2024-01-10", "2024-01-12"} {
		_, err := svc.Mark(ctx, id, day, true, "", at(day, 9, 30))
		require.NoError(t, err)
	}

	st, err := svc.ForSubject(ctx, id, at("2024-01-13", 12, 0))
	require.NoError(t, err)
	assert.Equal(t, 3, st.Streak)
	require.NotNil(t, st.AvgCompletionTime)
	assert.Equal(t, "09:30", *st.AvgCompletionTime)
}

func TestService_MarkIsUpsert(t *testing.T) {
	svc, store, id := newService(t)
	ctx := context.Background()

	first, err := svc.Mark(ctx, id, "2024-01-12", true, "first", at("2024-01-12", 9, 0))
	require.NoError(t, err)
	_, err = svc.Mark(ctx, id, "2024-01-12", false, "undo", at("2024-01-12", 10, 0))
	require.NoError(t, err)

	entries, err := store.QueryCompletions(ctx, id, "", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, first.ID, entries[0].ID)
	assert.False(t, entries[0].IsCompleted)
	assert.Nil(t, entries[0].CompletedAt)
	assert.Equal(t, "undo", entries[0].Note)

	st, err := svc.ForSubject(ctx, id, at("2024-01-12", 20, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, st.Streak)
}

func TestService_MarkRejectsBadDay(t *testing.T) {
	svc, _, id := newService(t)
	_, err := svc.Mark(context.Background(), id, "12/01/2024", true, "", at("2024-01-12", 9, 0))
	assert.Error(t, err)
}

func TestService_UnknownSubject(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.ForSubject(ctx, "missing", at("2024-01-12", 9, 0))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = svc.Mark(ctx, "missing", "2024-01-12", true, "", at("2024-01-12", 9, 0))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
