package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/prg-engine/allocation"
)

func rec(id, target string, at time.Time) allocation.ChangeRecord {
	return allocation.ChangeRecord{
		ID:        allocation.ChangeID(id),
		Kind:      allocation.ChangeSingleBind,
		TargetID:  target,
		NewValue:  "P1|1|ГРС Север",
		CreatedAt: at,
	}
}

func TestMemory_LoadOrdersByCreatedAt(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	// GIVEN: changes appended out of order
	require.NoError(t, m.Append(ctx, rec("c2", "org_1", base.Add(time.Hour))))
	require.NoError(t, m.Append(ctx, rec("c1", "org_1", base)))
	require.NoError(t, m.Append(ctx, rec("c3", "org_2", base)))

	// WHEN: loading one target
	got, err := m.Load(ctx, "org_1")
	require.NoError(t, err)

	// THEN: oldest first, other targets excluded
	require.Len(t, got, 2)
	assert.Equal(t, allocation.ChangeID("c1"), got[0].ID)
	assert.Equal(t, allocation.ChangeID("c2"), got[1].ID)
}

func TestMemory_DuplicateIDRejected(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	require.NoError(t, m.Append(ctx, rec("c1", "org_1", now)))

	err := m.Append(ctx, rec("c1", "org_1", now))
	assert.ErrorIs(t, err, allocation.ErrDuplicateChange)
}

func TestMemory_AppendBatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()
	require.NoError(t, m.Append(ctx, rec("c1", "org_1", now)))

	// GIVEN: a batch whose last change collides with the journal
	batch := []allocation.ChangeRecord{rec("c2", "org_2", now), rec("c1", "org_1", now)}

	// WHEN
	err := m.AppendBatch(ctx, batch)

	// THEN: nothing from the batch was written
	assert.ErrorIs(t, err, allocation.ErrDuplicateChange)
	exists, err := m.Exists(ctx, "c2")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemory_LoadRangeIsInclusive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, m.Append(ctx, rec(id, "t", base.Add(time.Duration(i)*time.Hour))))
	}

	got, err := m.LoadRange(ctx, base.Add(time.Hour), base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, allocation.ChangeID("b"), got[0].ID)
	assert.Equal(t, allocation.ChangeID("c"), got[1].ID)
}

func TestMemory_CommitsNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	require.NoError(t, m.SaveCommit(ctx, allocation.Commit{ID: "k1"}, []allocation.ChangeRecord{rec("c1", "t", now)}))
	require.NoError(t, m.SaveCommit(ctx, allocation.Commit{ID: "k2"}, []allocation.ChangeRecord{rec("c2", "t", now)}))

	all, err := m.ListCommits(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "k2", all[0].ID)

	one, err := m.ListCommits(ctx, 1)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "k2", one[0].ID)
}

func TestJournal_RecordRejectsJournaledChange(t *testing.T) {
	ctx := context.Background()
	j := allocation.NewJournal(NewMemory())
	now := time.Now()

	require.NoError(t, j.Record(ctx, allocation.Commit{ID: "k1"}, []allocation.ChangeRecord{rec("c1", "org_1", now)}))

	// WHEN: the same change is committed again (retried save)
	err := j.Record(ctx, allocation.Commit{ID: "k2"}, []allocation.ChangeRecord{rec("c1", "org_1", now)})

	// THEN
	assert.ErrorIs(t, err, allocation.ErrDuplicateChange)
	commits, err := j.Commits(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, commits, 1)

	history, err := j.History(ctx, "org_1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
