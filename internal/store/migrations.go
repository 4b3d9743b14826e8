package store

import (
	"database/sql"
	"fmt"
	"slices"

	"casekeeper/internal/apperr"
)

// Migration is one schema step of the primary key/value store.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations lists every schema step. Versions are stored in the SQLite
// user_version header.
var migrations = []Migration{
	{
		Version:     1,
		Description: "key/value table",
		SQL: `
CREATE TABLE IF NOT EXISTS kv (
  key TEXT PRIMARY KEY,
  value BLOB NOT NULL,
  updated_at TEXT NOT NULL
);
`,
	},
	{
		Version:     2,
		Description: "cache entry sizes for quota accounting",
		SQL: `
ALTER TABLE kv ADD COLUMN size_bytes INTEGER NOT NULL DEFAULT 0;
UPDATE kv SET size_bytes = length(CAST(key AS BLOB)) + length(value);
`,
	},
}

// latestVersion is the schema this build writes.
func latestVersion() int {
	v := 0
	for _, m := range migrations {
		v = max(v, m.Version)
	}
	return v
}

// currentVersion reads the schema version from the SQLite header.
func currentVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

// runMigrations brings the database up to latestVersion. Each step runs in
// its own transaction together with the header bump, so a failed step
// leaves the previous version intact. A file written by a newer build is
// refused rather than downgraded.
func runMigrations(db *sql.DB) error {
	current, err := currentVersion(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if latest := latestVersion(); current > latest {
		return apperr.BackendUnavailable(fmt.Errorf("primary database schema v%d is newer than this build supports (v%d)", current, latest))
	}

	pending := slices.DeleteFunc(slices.Clone(migrations), func(m Migration) bool {
		return m.Version <= current
	})
	slices.SortFunc(pending, func(a, b Migration) int { return a.Version - b.Version })

	for _, m := range pending {
		if err := applyMigration(db, m); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
	}
	// PRAGMA arguments cannot be bound parameters.
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
		return fmt.Errorf("stamp migration %d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	return nil
}
