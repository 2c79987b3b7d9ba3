// Package migrations holds the statically declared, numbered schema
// migrations for the document registry: an ordered Go slice of
// Migration values rather than a dynamically loaded module list.
package migrations

import (
	"database/sql"
	"fmt"
)

// Migration is one numbered, idempotent schema step. Run executes Up
// inside a transaction of its own per migration, after checking
// IsApplied on the plain connection; Run never calls Down.
type Migration struct {
	Version   int
	Name      string
	IsApplied func(db *sql.DB) (bool, error)
	Up        func(tx *sql.Tx) error
	Down      func(tx *sql.Tx) error
}

// All is the ordered list of every migration, applied in order by Run.
var All = []Migration{
	migration001CoreSchema,
	migration002TransitionsAndReviews,
}

func tableExists(db *sql.DB, name string) (bool, error) {
	var exists bool
	err := db.QueryRow(
		`SELECT COUNT(*) > 0 FROM sqlite_master WHERE type='table' AND name=?`, name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking table %s: %w", name, err)
	}
	return exists, nil
}

// EnsureSchemaVersionTable creates the schema_version bookkeeping
// table if it is absent.
func EnsureSchemaVersionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			name        TEXT NOT NULL,
			applied_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}
	return nil
}

// Run applies every migration in All that is not yet applied, each
// inside its own transaction, recording it in schema_version.
func Run(db *sql.DB) error {
	if err := EnsureSchemaVersionTable(db); err != nil {
		return err
	}
	for _, m := range All {
		applied, err := m.IsApplied(db)
		if err != nil {
			return fmt.Errorf("migration %d (%s): checking applied state: %w", m.Version, m.Name, err)
		}
		if applied {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migration %d (%s): begin: %w", m.Version, m.Name, err)
		}
		if err := m.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s): up: %w", m.Version, m.Name, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_version (version, name) VALUES (?, ?)`, m.Version, m.Name,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s): recording version: %w", m.Version, m.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d (%s): commit: %w", m.Version, m.Name, err)
		}
	}
	return nil
}
