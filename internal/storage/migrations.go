package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one versioned schema step.
type migration struct {
	version int
	name    string
	up      string
}

// migrations is the ordered schema history. Append only.
var migrations = []migration{
	{
		version: 1,
		name:    "create_posts_table",
		up: `
			CREATE TABLE IF NOT EXISTS posts (
				id           TEXT PRIMARY KEY,
				account_id   TEXT NOT NULL,
				platform     TEXT NOT NULL,
				template     TEXT NOT NULL,
				scheduled_at INTEGER NOT NULL,
				status       TEXT NOT NULL,
				attempts     INTEGER NOT NULL DEFAULT 0,
				content      TEXT,
				remote_id    TEXT,
				url          TEXT,
				last_error   TEXT,
				error_kind   TEXT,
				created_at   INTEGER NOT NULL,
				updated_at   INTEGER NOT NULL
			);

			CREATE UNIQUE INDEX IF NOT EXISTS idx_posts_key
			ON posts(account_id, platform, scheduled_at);

			CREATE INDEX IF NOT EXISTS idx_posts_status_due
			ON posts(status, scheduled_at);
		`,
	},
	{
		version: 2,
		name:    "create_attempts_table",
		up: `
			CREATE TABLE IF NOT EXISTS attempts (
				seq        INTEGER PRIMARY KEY AUTOINCREMENT,
				post_id    TEXT NOT NULL,
				account_id TEXT NOT NULL,
				platform   TEXT NOT NULL,
				number     INTEGER NOT NULL,
				at         INTEGER NOT NULL,
				outcome    TEXT NOT NULL,
				remote_id  TEXT,
				error_kind TEXT,
				err        TEXT,
				retryable  INTEGER NOT NULL DEFAULT 0,
				took_ms    INTEGER NOT NULL DEFAULT 0
			);

			CREATE INDEX IF NOT EXISTS idx_attempts_post ON attempts(post_id, seq);
		`,
	},
	{
		version: 3,
		name:    "create_dedup_table",
		up: `
			CREATE TABLE IF NOT EXISTS dedup (
				key   TEXT PRIMARY KEY,
				until INTEGER NOT NULL
			);
		`,
	},
	{
		version: 4,
		name:    "add_posts_origin",
		up:      `ALTER TABLE posts ADD COLUMN origin TEXT;`,
	},
}

// runMigrations applies pending migrations, each in its own transaction.
func runMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	current := 0
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("get current schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

// schemaVersion reports the highest applied migration.
func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	return v, err
}
