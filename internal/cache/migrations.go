package cache

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// schemaVersion is the newest migration this build knows about.
const schemaVersion = 1

// migrations maps a target version to the SQL that reaches it.
var migrations = map[int]string{
	1: `
	CREATE TABLE commits (
		commit_id         TEXT PRIMARY KEY,
		has_note          INTEGER NOT NULL,
		session_id        TEXT NOT NULL DEFAULT '',
		model             TEXT NOT NULL DEFAULT '',
		ai_lines          INTEGER NOT NULL DEFAULT 0,
		ai_modified_lines INTEGER NOT NULL DEFAULT 0,
		human_lines       INTEGER NOT NULL DEFAULT 0,
		original_lines    INTEGER NOT NULL DEFAULT 0,
		prompt_count      INTEGER NOT NULL DEFAULT 0,
		cached_at         TEXT NOT NULL
	);
	CREATE TABLE commit_files (
		commit_id         TEXT NOT NULL REFERENCES commits(commit_id) ON DELETE CASCADE,
		path              TEXT NOT NULL,
		ai_lines          INTEGER NOT NULL,
		ai_modified_lines INTEGER NOT NULL,
		human_lines       INTEGER NOT NULL,
		original_lines    INTEGER NOT NULL,
		PRIMARY KEY (commit_id, path)
	);
	`,
}

// runMigrations applies all pending schema migrations, tracking the
// current version in cache_state.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS cache_state (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create cache_state: %w", err)
	}

	current, err := currentVersion(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for v := current + 1; v <= schemaVersion; v++ {
		stmt, ok := migrations[v]
		if !ok {
			return fmt.Errorf("missing migration for version %d", v)
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", v, err)
		}

		if _, err := tx.Exec(stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: %w", v, err)
		}

		now := time.Now().UTC().Format(time.RFC3339)
		_, err = tx.Exec(
			`INSERT INTO cache_state (key, value, updated_at) VALUES ('schema_version', ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			strconv.Itoa(v), now,
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("update schema version to %d: %w", v, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", v, err)
		}
	}

	return nil
}

// currentVersion reads the schema version from cache_state, 0 when the
// database is fresh.
func currentVersion(db *sql.DB) (int, error) {
	var val string
	err := db.QueryRow(`SELECT value FROM cache_state WHERE key = 'schema_version'`).Scan(&val)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(val)
}
