// Package cache keeps a local SQLite mirror of per-commit attribution
// summaries so range queries over large histories avoid re-reading
// every note. It is a read-through cache: misses are filled from the
// notes store and note removal invalidates the row.
package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver.
)

// FileName is the cache database path under the metadata directory.
const FileName = "cache.db"

// Cache wraps the SQLite connection.
type Cache struct {
	db *sql.DB
}

// Open opens (or creates) the cache database under root's .whogitit
// directory with WAL mode and a 5-second busy timeout, then runs any
// pending migrations.
func Open(root string) (*Cache, error) {
	dir := filepath.Join(root, ".whogitit")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return openPath(filepath.Join(dir, FileName))
}

func openPath(dbPath string) (*Cache, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("check journal mode: %w", err)
	}
	if journalMode != "wal" {
		_ = db.Close()
		return nil, fmt.Errorf("expected WAL journal mode, got %q", journalMode)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Cache{db: db}, nil
}

// Close closes the underlying database connection.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// EntryCount returns the number of cached commits.
func (c *Cache) EntryCount() (int64, error) {
	var count int64
	err := c.db.QueryRow("SELECT COUNT(*) FROM commits").Scan(&count)
	return count, err
}

// SizeBytes approximates the database file size as page_count * page_size.
func (c *Cache) SizeBytes() (int64, error) {
	var pageCount, pageSize int64
	if err := c.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, err
	}
	if err := c.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, err
	}
	return pageCount * pageSize, nil
}
