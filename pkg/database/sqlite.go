// Package database provides the embedded SQLite client shared by the block
// store and the node keystore. Adapted from the teacher's PostgreSQL
// pkg/database (connection setup + migration runner), swapped to the
// pure-Go modernc.org/sqlite driver so the node never depends on cgo or a
// network database (spec §4.2 "default: a local relational store with WAL
// enabled, synchronous=normal").
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

// Open opens (creating if absent) a SQLite database at path with the
// durability pragmas spec §4.2 requires, and applies any embedded
// migrations. Re-opening re-validates the schema (migrations are
// idempotent and tracked in schema_migrations).
func Open(ctx context.Context, path string, migrations embed.FS, migrationsDir string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", path, err)
	}
	// Single-writer semantics (spec §5): one connection avoids SQLITE_BUSY
	// without needing an external mutex around writes.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("database: apply %q: %w", pragma, err)
		}
	}

	if err := runMigrations(ctx, db, migrations, migrationsDir); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database: migrate %s: %w", path, err)
	}
	return db, nil
}

// runMigrations applies ordered .sql files from an embedded directory,
// tracking applied filenames in schema_migrations. golang-migrate's
// built-in sqlite3 driver requires cgo (mattn/go-sqlite3), which this
// module avoids in favor of the pure-Go modernc driver, so migrations are
// applied directly instead (see DESIGN.md).
func runMigrations(ctx context.Context, db *sql.DB, migrations embed.FS, dir string) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrations, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var already int
		row := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE filename = ?`, name)
		if err := row.Scan(&already); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if already > 0 {
			continue
		}

		content, err := fs.ReadFile(migrations, dir+"/"+name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (filename) VALUES (?)`, name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}
