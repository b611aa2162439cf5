/*
journal.go - Append-only journal of committed changes

PURPOSE:
  The workbook is the only store of record for bindings and loads. The
  journal is its audit trail: every change record written back to the
  workbook is appended here together with the commit it belonged to, so
  the question "who bound this consumer to that PRG, and when" can be
  answered after the session that made the change is gone.

APPEND-ONLY CONTRACT:
  - Append / AppendBatch / SaveCommit are the only writes
  - No Update or Delete methods exist
  - A correction is journaled as a new change, never by rewriting an old one

IDEMPOTENCY:
  The change ID is the idempotency key. Recording a change whose ID is
  already journaled fails with ErrDuplicateChange, so a retried commit
  never doubles the history.

IMPLEMENTATIONS:
  - store/sqlite: the on-disk journal
  - allocation/store: in-memory journal for tests and dry runs

SEE ALSO:
  - session/session.go: records a commit after the workbook is saved
*/
package allocation

import (
	"context"
	"time"
)

// Commit groups the changes written back to the workbook in one save.
type Commit struct {
	ID         string
	Workbook   string
	BackupPath string
	Applied    int
	Failed     int
	CreatedAt  time.Time
}

// =============================================================================
// STORE - Interface for change persistence (append-only)
// =============================================================================

type ChangeStore interface {
	// Append persists one change. Fails with ErrDuplicateChange if the ID exists.
	Append(ctx context.Context, rec ChangeRecord) error

	// AppendBatch persists changes atomically. Either all succeed or none do.
	AppendBatch(ctx context.Context, recs []ChangeRecord) error

	// Load returns all changes for a consumer or pipeline, oldest first.
	Load(ctx context.Context, targetID string) ([]ChangeRecord, error)

	// LoadRange returns changes created in [from, to], oldest first.
	LoadRange(ctx context.Context, from, to time.Time) ([]ChangeRecord, error)

	Exists(ctx context.Context, id ChangeID) (bool, error)
}

// CommitStore extends ChangeStore with commit bookkeeping.
type CommitStore interface {
	ChangeStore

	// SaveCommit appends recs and the commit row atomically.
	SaveCommit(ctx context.Context, commit Commit, recs []ChangeRecord) error

	// ListCommits returns the most recent commits first. limit <= 0 means all.
	ListCommits(ctx context.Context, limit int) ([]Commit, error)
}

// =============================================================================
// JOURNAL - Higher-level interface over CommitStore
// =============================================================================

type Journal struct {
	Store CommitStore
}

func NewJournal(store CommitStore) *Journal {
	return &Journal{Store: store}
}

// Record journals one commit. All change IDs are checked before anything is written.
func (j *Journal) Record(ctx context.Context, commit Commit, recs []ChangeRecord) error {
	seen := make(map[ChangeID]bool, len(recs))
	for _, rec := range recs {
		if seen[rec.ID] {
			return ErrDuplicateChange
		}
		seen[rec.ID] = true

		exists, err := j.Store.Exists(ctx, rec.ID)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateChange
		}
	}
	return j.Store.SaveCommit(ctx, commit, recs)
}

// History returns every journaled change of one consumer or pipeline.
func (j *Journal) History(ctx context.Context, targetID string) ([]ChangeRecord, error) {
	return j.Store.Load(ctx, targetID)
}

func (j *Journal) Between(ctx context.Context, from, to time.Time) ([]ChangeRecord, error) {
	return j.Store.LoadRange(ctx, from, to)
}

func (j *Journal) Commits(ctx context.Context, limit int) ([]Commit, error) {
	return j.Store.ListCommits(ctx, limit)
}
