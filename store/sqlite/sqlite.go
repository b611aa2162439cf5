/*
Package sqlite provides a SQLite-backed change journal.

PURPOSE:
  Implements allocation.CommitStore on SQLite. The journal records what
  was written back to a workbook; it never holds bindings or loads of its
  own, so deleting the journal file loses history but no data.

INTERFACES IMPLEMENTED:
  allocation.ChangeStore: change persistence
  allocation.CommitStore: commit bookkeeping

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on the changes table
  - No DELETE statements on the changes table
  - Reverts are journaled as new changes

KEY TABLES:
  changes: one row per committed change record
  commits: one row per workbook save

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. SQLite is opened in WAL mode so
  readers do not block the single writer.

USAGE:
  store, err := sqlite.New("./prg-journal.db")
  if err != nil {
      return err
  }
  defer store.Close()

  journal := allocation.NewJournal(store)

SEE ALSO:
  - allocation/journal.go: interface definitions
  - allocation/store/memory.go: in-memory implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/prg-engine/allocation"
)

// Store implements the journal interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (and migrates) the journal at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// An in-memory database exists per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Commits (one per workbook save)
	CREATE TABLE IF NOT EXISTS commits (
		id TEXT PRIMARY KEY,
		workbook TEXT NOT NULL,
		backup_path TEXT,
		applied INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_commits_created_at
		ON commits(created_at);

	-- Changes (append-only journal)
	CREATE TABLE IF NOT EXISTS changes (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		target_id TEXT NOT NULL,
		sheet TEXT NOT NULL,
		row_index INTEGER NOT NULL,
		col_index INTEGER NOT NULL,
		old_value TEXT,
		new_value TEXT,
		description TEXT,
		commit_id TEXT REFERENCES commits(id),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_changes_target
		ON changes(target_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_changes_created_at
		ON changes(created_at);
	CREATE INDEX IF NOT EXISTS idx_changes_commit
		ON changes(commit_id) WHERE commit_id IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CHANGE STORE (allocation.ChangeStore interface)
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Append adds one change to the journal.
func (s *Store) Append(ctx context.Context, rec allocation.ChangeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendTx(ctx, s.db, rec, "")
}

func (s *Store) appendTx(ctx context.Context, db execer, rec allocation.ChangeRecord, commitID string) error {
	query := `
		INSERT INTO changes
		(id, kind, target_id, sheet, row_index, col_index,
		 old_value, new_value, description, commit_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		rec.ID,
		rec.Kind,
		rec.TargetID,
		rec.Origin.Sheet,
		rec.Origin.Row,
		rec.Origin.Column,
		rec.OldValue,
		rec.NewValue,
		rec.Description,
		nullString(commitID),
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return allocation.ErrDuplicateChange
		}
		return fmt.Errorf("failed to append change: %w", err)
	}
	return nil
}

// AppendBatch adds multiple changes atomically.
func (s *Store) AppendBatch(ctx context.Context, recs []allocation.ChangeRecord) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		return s.appendAll(ctx, tx, recs, "")
	})
}

func (s *Store) appendAll(ctx context.Context, db execer, recs []allocation.ChangeRecord, commitID string) error {
	seen := make(map[allocation.ChangeID]bool, len(recs))
	for _, rec := range recs {
		if seen[rec.ID] {
			return allocation.ErrDuplicateChange
		}
		seen[rec.ID] = true
		if err := s.appendTx(ctx, db, rec, commitID); err != nil {
			return err
		}
	}
	return nil
}

// Load returns all changes of a consumer or pipeline, oldest first.
func (s *Store) Load(ctx context.Context, targetID string) ([]allocation.ChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryChanges(ctx, selectChanges+`
		WHERE target_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, targetID)
}

// LoadRange returns changes created in [from, to].
func (s *Store) LoadRange(ctx context.Context, from, to time.Time) ([]allocation.ChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryChanges(ctx, selectChanges+`
		WHERE created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC, rowid ASC
	`, formatTime(from), formatTime(to))
}

// Exists checks if a change ID is journaled.
func (s *Store) Exists(ctx context.Context, id allocation.ChangeID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM changes WHERE id = ?",
		id,
	).Scan(&count)

	return count > 0, err
}

const selectChanges = `
	SELECT id, kind, target_id, sheet, row_index, col_index,
	       old_value, new_value, description, created_at
	FROM changes
`

func (s *Store) queryChanges(ctx context.Context, query string, args ...any) ([]allocation.ChangeRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	var changes []allocation.ChangeRecord
	for rows.Next() {
		rec, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, rec)
	}

	return changes, rows.Err()
}

func scanChange(rows *sql.Rows) (allocation.ChangeRecord, error) {
	var (
		rec         allocation.ChangeRecord
		oldValue    sql.NullString
		newValue    sql.NullString
		description sql.NullString
		createdAt   string
	)

	err := rows.Scan(
		&rec.ID, &rec.Kind, &rec.TargetID,
		&rec.Origin.Sheet, &rec.Origin.Row, &rec.Origin.Column,
		&oldValue, &newValue, &description, &createdAt,
	)
	if err != nil {
		return rec, fmt.Errorf("failed to scan change: %w", err)
	}

	rec.OldValue = oldValue.String
	rec.NewValue = newValue.String
	rec.Description = description.String
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return rec, nil
}

// =============================================================================
// COMMIT STORE (allocation.CommitStore interface)
// =============================================================================

// SaveCommit writes the commit row and its changes in one transaction.
func (s *Store) SaveCommit(ctx context.Context, commit allocation.Commit, recs []allocation.ChangeRecord) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO commits (id, workbook, backup_path, applied, failed, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			commit.ID,
			commit.Workbook,
			nullString(commit.BackupPath),
			commit.Applied,
			commit.Failed,
			formatTime(commit.CreatedAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return allocation.ErrDuplicateChange
			}
			return fmt.Errorf("failed to save commit: %w", err)
		}
		return s.appendAll(ctx, tx, recs, commit.ID)
	})
}

// ListCommits returns the most recent commits first.
func (s *Store) ListCommits(ctx context.Context, limit int) ([]allocation.Commit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, workbook, backup_path, applied, failed, created_at
		FROM commits
		ORDER BY created_at DESC, rowid DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query commits: %w", err)
	}
	defer rows.Close()

	var commits []allocation.Commit
	for rows.Next() {
		var (
			c          allocation.Commit
			backupPath sql.NullString
			createdAt  string
		)
		if err := rows.Scan(&c.ID, &c.Workbook, &backupPath, &c.Applied, &c.Failed, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan commit: %w", err)
		}
		c.BackupPath = backupPath.String
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		commits = append(commits, c)
	}
	return commits, rows.Err()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
// If fn returns an error the transaction is rolled back.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// formatTime stores UTC with a fixed-width fraction so text order is time order.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY"))
}
