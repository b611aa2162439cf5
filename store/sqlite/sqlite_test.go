package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/prg-engine/allocation"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func change(id, target string, at time.Time) allocation.ChangeRecord {
	return allocation.ChangeRecord{
		ID:          allocation.ChangeID(id),
		Kind:        allocation.ChangeSettlementBind,
		TargetID:    target,
		Origin:      allocation.Origin{Sheet: "Население", Row: 11, Column: 12},
		OldValue:    "",
		NewValue:    "P1|0,5|ГРС Север",
		Description: "settlement_bind: Население Северный -> PRG P1 (share 0.500)",
		CreatedAt:   at,
	}
}

func TestStore_AppendAndLoad(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	at := time.Date(2025, 3, 1, 9, 30, 0, 123, time.UTC)

	// GIVEN: one journaled change
	require.NoError(t, store.Append(ctx, change("c1", "pop_Население_11", at)))

	// WHEN
	got, err := store.Load(ctx, "pop_Население_11")
	require.NoError(t, err)

	// THEN: every field round-trips
	require.Len(t, got, 1)
	assert.Equal(t, change("c1", "pop_Население_11", at), got[0])
}

func TestStore_DuplicateChangeRejected(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	now := time.Now()

	require.NoError(t, store.Append(ctx, change("c1", "t", now)))

	err := store.Append(ctx, change("c1", "t", now))
	assert.ErrorIs(t, err, allocation.ErrDuplicateChange)
}

func TestStore_AppendBatchRollsBack(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	now := time.Now()
	require.NoError(t, store.Append(ctx, change("c1", "t", now)))

	// GIVEN: a batch whose second change already exists
	err := store.AppendBatch(ctx, []allocation.ChangeRecord{change("c2", "t", now), change("c1", "t", now)})

	// THEN: the first change of the batch was rolled back
	assert.ErrorIs(t, err, allocation.ErrDuplicateChange)
	exists, err := store.Exists(ctx, "c2")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStore_LoadRange(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Append(ctx, change(id, "t", base.Add(time.Duration(i)*24*time.Hour))))
	}

	got, err := store.LoadRange(ctx, base.Add(12*time.Hour), base.Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, allocation.ChangeID("b"), got[0].ID)
	assert.Equal(t, allocation.ChangeID("c"), got[1].ID)
}

func TestStore_SaveCommit(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	now := time.Now()

	// GIVEN: two commits
	first := allocation.Commit{ID: "k1", Workbook: "data.xlsx", BackupPath: "data_backup.xlsx", Applied: 1, CreatedAt: now}
	second := allocation.Commit{ID: "k2", Workbook: "data.xlsx", Applied: 1, CreatedAt: now.Add(time.Minute)}
	require.NoError(t, store.SaveCommit(ctx, first, []allocation.ChangeRecord{change("c1", "t", now)}))
	require.NoError(t, store.SaveCommit(ctx, second, []allocation.ChangeRecord{change("c2", "t", now)}))

	// WHEN
	commits, err := store.ListCommits(ctx, 10)
	require.NoError(t, err)

	// THEN: newest first, fields preserved
	require.Len(t, commits, 2)
	assert.Equal(t, "k2", commits[0].ID)
	assert.Equal(t, "data_backup.xlsx", commits[1].BackupPath)
	assert.Empty(t, commits[0].BackupPath)
}

func TestStore_SaveCommitIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	now := time.Now()
	require.NoError(t, store.Append(ctx, change("c1", "t", now)))

	err := store.SaveCommit(ctx, allocation.Commit{ID: "k1", Workbook: "w", CreatedAt: now},
		[]allocation.ChangeRecord{change("c1", "t", now)})
	assert.ErrorIs(t, err, allocation.ErrDuplicateChange)

	commits, err := store.ListCommits(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, commits)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	store, err := New(path)
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, change("c1", "t", time.Now())))
	require.NoError(t, store.Close())

	reopened, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	exists, err := reopened.Exists(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, exists)
}
