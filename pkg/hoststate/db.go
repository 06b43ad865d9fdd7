package hoststate

import (
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dnakov/vmcage/internal/errx"
	_ "modernc.org/sqlite"
)

// migration is one versioned schema change applied to the registry
// database. The registry has a single table, so this stays a flat
// version list rather than a cross-module migration system.
type migration struct {
	version int
	name    string
	sql     string
}

func registryDBPath(baseDir string) string {
	return filepath.Join(baseDir, "registry.db")
}

var registryMigrations = []migration{
	{
		version: 1,
		name:    "create_vms",
		sql: `
CREATE TABLE IF NOT EXISTS vms (
  id TEXT PRIMARY KEY,
  pid INTEGER NOT NULL DEFAULT 0,
  port INTEGER NOT NULL DEFAULT 0,
  rootfs TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vms_status ON vms(status);
CREATE INDEX IF NOT EXISTS idx_vms_created_at ON vms(created_at);
`,
	},
}

// openRegistryDB opens (creating if needed) the sqlite-backed registry
// at baseDir/registry.db and applies any pending migrations.
func openRegistryDB(baseDir string) (*sql.DB, error) {
	path := registryDBPath(baseDir)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errx.Wrap(ErrOpen, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errx.Wrap(ErrOpen, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := configureDB(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrateDB(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func configureDB(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA busy_timeout = 15000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA journal_mode = WAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return errx.With(ErrConfigure, ": %s: %w", pragma, err)
		}
	}
	return nil
}

func migrateDB(db *sql.DB) error {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  name TEXT NOT NULL,
  applied_at TEXT NOT NULL
)`); err != nil {
		return errx.Wrap(ErrMigrate, err)
	}

	pending := make([]migration, len(registryMigrations))
	copy(pending, registryMigrations)
	sort.Slice(pending, func(i, j int) bool { return pending[i].version < pending[j].version })

	applied := make(map[int]bool, len(pending))
	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return errx.Wrap(ErrMigrate, err)
	}
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return errx.Wrap(ErrMigrate, err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return errx.Wrap(ErrMigrate, err)
	}
	rows.Close()

	for _, m := range pending {
		if applied[m.version] {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return errx.With(ErrMigrate, ": begin %d %s: %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			_ = tx.Rollback()
			return errx.With(ErrMigrate, ": %d %s: %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_migrations(version, name, applied_at) VALUES (?, ?, ?)`,
			m.version, m.name, time.Now().UTC().Format(time.RFC3339Nano),
		); err != nil {
			_ = tx.Rollback()
			return errx.With(ErrMigrate, ": record %d %s: %w", m.version, m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return errx.With(ErrMigrate, ": commit %d %s: %w", m.version, m.name, err)
		}
	}
	return nil
}
