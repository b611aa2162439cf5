// Package store provides in-memory ChangeStore implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/prg-engine/allocation"
)

// =============================================================================
// MEMORY STORE - In-memory journal (for testing/dry runs)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	byTarget map[string][]allocation.ChangeRecord
	all      []allocation.ChangeRecord
	ids      map[allocation.ChangeID]bool
	commits  []allocation.Commit
}

func NewMemory() *Memory {
	return &Memory{
		byTarget: make(map[string][]allocation.ChangeRecord),
		ids:      make(map[allocation.ChangeID]bool),
	}
}

// Append adds a single change. Append-only.
func (m *Memory) Append(_ context.Context, rec allocation.ChangeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ids[rec.ID] {
		return allocation.ErrDuplicateChange
	}
	m.appendLocked(rec)
	return nil
}

// AppendBatch adds multiple changes atomically.
func (m *Memory) AppendBatch(_ context.Context, recs []allocation.ChangeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(recs); err != nil {
		return err
	}
	for _, rec := range recs {
		m.appendLocked(rec)
	}
	return nil
}

// checkLocked rejects a batch with an ID that is journaled or repeated.
func (m *Memory) checkLocked(recs []allocation.ChangeRecord) error {
	batch := make(map[allocation.ChangeID]bool, len(recs))
	for _, rec := range recs {
		if m.ids[rec.ID] || batch[rec.ID] {
			return allocation.ErrDuplicateChange
		}
		batch[rec.ID] = true
	}
	return nil
}

func (m *Memory) appendLocked(rec allocation.ChangeRecord) {
	m.byTarget[rec.TargetID] = insertSorted(m.byTarget[rec.TargetID], rec)
	m.all = insertSorted(m.all, rec)
	m.ids[rec.ID] = true
}

// insertSorted keeps records ordered by CreatedAt; equal times keep insertion order.
func insertSorted(recs []allocation.ChangeRecord, rec allocation.ChangeRecord) []allocation.ChangeRecord {
	i := sort.Search(len(recs), func(i int) bool {
		return recs[i].CreatedAt.After(rec.CreatedAt)
	})
	recs = append(recs, allocation.ChangeRecord{})
	copy(recs[i+1:], recs[i:])
	recs[i] = rec
	return recs
}

func (m *Memory) Load(_ context.Context, targetID string) ([]allocation.ChangeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]allocation.ChangeRecord, len(m.byTarget[targetID]))
	copy(result, m.byTarget[targetID])
	return result, nil
}

func (m *Memory) LoadRange(_ context.Context, from, to time.Time) ([]allocation.ChangeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []allocation.ChangeRecord
	for _, rec := range m.all {
		if !rec.CreatedAt.Before(from) && !rec.CreatedAt.After(to) {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (m *Memory) Exists(_ context.Context, id allocation.ChangeID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ids[id], nil
}

// =============================================================================
// COMMITS
// =============================================================================

// SaveCommit appends the changes and the commit as one unit.
func (m *Memory) SaveCommit(_ context.Context, commit allocation.Commit, recs []allocation.ChangeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(recs); err != nil {
		return err
	}
	for _, rec := range recs {
		m.appendLocked(rec)
	}
	m.commits = append(m.commits, commit)
	return nil
}

func (m *Memory) ListCommits(_ context.Context, limit int) ([]allocation.Commit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.commits)
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]allocation.Commit, 0, n)
	for i := len(m.commits) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, m.commits[i])
	}
	return result, nil
}
