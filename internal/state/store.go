package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DBFileName is the timeline database inside the state directory.
const DBFileName = "timeline.db"

// Store is a Journal persisted in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return &Store{db: db}, nil
}

// OpenWorkspace opens the timeline under a workspace state directory.
func OpenWorkspace(ctx context.Context, stateDir string) (*Store, error) {
	return Open(ctx, filepath.Join(stateDir, DBFileName))
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return errors.New("record entry: missing id")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record tx: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO entries(entry_id, session_id, kind, detail, created_at, seq)
VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM entries))
`, e.ID, e.SessionID, string(e.Kind), e.Detail, ts(e.CreatedAt))
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("insert entry: %w", err)
	}
	for i, op := range e.Operations {
		_, err := tx.ExecContext(ctx, `
INSERT INTO operations(entry_id, seq, path, action, content_hash, changed)
VALUES (?, ?, ?, ?, ?, ?)
`, e.ID, i, op.Path, op.Action, op.ContentHash, boolToInt(op.Changed))
		if err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("insert operation %s: %w", op.Path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit entry: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT entry_id, session_id, kind, detail, created_at
FROM entries
WHERE ? = '' OR session_id = ?
ORDER BY seq ASC
`, sessionID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	var (
		entries []Entry
		index   = make(map[string]int)
	)
	for rows.Next() {
		var (
			e       Entry
			kind    string
			created string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &kind, &e.Detail, &created); err != nil {
			rows.Close() //nolint:errcheck
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Kind = Kind(kind)
		if e.CreatedAt, err = parseTS(created); err != nil {
			rows.Close() //nolint:errcheck
			return nil, fmt.Errorf("parse created_at %q: %w", created, err)
		}
		index[e.ID] = len(entries)
		entries = append(entries, e)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	ops, err := s.db.QueryContext(ctx, `
SELECT o.entry_id, o.path, o.action, o.content_hash, o.changed
FROM operations o
JOIN entries e ON e.entry_id = o.entry_id
WHERE ? = '' OR e.session_id = ?
ORDER BY e.seq ASC, o.seq ASC
`, sessionID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer ops.Close() //nolint:errcheck
	for ops.Next() {
		var (
			entryID string
			op      Operation
			changed int
		)
		if err := ops.Scan(&entryID, &op.Path, &op.Action, &op.ContentHash, &changed); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		op.Changed = changed != 0
		if i, ok := index[entryID]; ok {
			entries[i].Operations = append(entries[i].Operations, op)
		}
	}
	if err := ops.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return entries, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
