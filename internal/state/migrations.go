package state

import (
	"context"
	"database/sql"
	"fmt"
)

type migration struct {
	Version int
	UpSQL   string
}

var migrations = []migration{
	{
		Version: 1,
		UpSQL: `
CREATE TABLE IF NOT EXISTS entries (
	entry_id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	kind TEXT NOT NULL CHECK(kind IN ('turn_started','turn_finished','expanded','accepted','rejected','retried','fix_syntax_retry')),
	detail TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS entries_session_created
ON entries(session_id, created_at);

CREATE TABLE IF NOT EXISTS operations (
	entry_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	path TEXT NOT NULL,
	action TEXT NOT NULL CHECK(action IN ('create','modify')),
	content_hash TEXT NOT NULL,
	changed INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY(entry_id, seq),
	FOREIGN KEY(entry_id) REFERENCES entries(entry_id) ON DELETE CASCADE
);
`,
	},
	{
		Version: 2,
		UpSQL: `
ALTER TABLE entries ADD COLUMN seq INTEGER NOT NULL DEFAULT 0;
CREATE INDEX IF NOT EXISTS entries_seq ON entries(seq);
`,
	},
}

// ApplyMigrations brings the schema up to date. Applied versions are
// recorded in schema_migrations and skipped on later runs.
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = ?`, m.Version).Scan(&exists)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES (?, datetime('now'))`, m.Version); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
