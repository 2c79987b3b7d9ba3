package migrations

import "database/sql"

// migration002TransitionsAndReviews adds the append-only transition
// audit log and review history tables.
var migration002TransitionsAndReviews = Migration{
	Version: 2,
	Name:    "transitions_and_reviews",
	IsApplied: func(db *sql.DB) (bool, error) {
		return tableExists(db, "document_transitions")
	},
	Up: func(tx *sql.Tx) error {
		stmts := []string{
			`CREATE TABLE document_transitions (
				seq         INTEGER PRIMARY KEY AUTOINCREMENT,
				document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
				from_state  TEXT NOT NULL,
				to_state    TEXT NOT NULL,
				reason      TEXT NOT NULL DEFAULT '',
				changed_by  TEXT NOT NULL DEFAULT 'system',
				changed_at  TEXT NOT NULL
			)`,
			`CREATE INDEX idx_transitions_document ON document_transitions(document_id, changed_at DESC, seq DESC)`,
			`CREATE TABLE document_reviews (
				id               INTEGER PRIMARY KEY AUTOINCREMENT,
				document_id      INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
				reviewer         TEXT NOT NULL,
				reviewed_at      TEXT NOT NULL,
				notes            TEXT NOT NULL DEFAULT '',
				next_review_due  TEXT
			)`,
			`CREATE INDEX idx_reviews_document ON document_reviews(document_id, reviewed_at DESC, id DESC)`,
		}
		for _, s := range stmts {
			if _, err := tx.Exec(s); err != nil {
				return err
			}
		}
		return nil
	},
	Down: func(tx *sql.Tx) error {
		stmts := []string{
			`DROP TABLE IF EXISTS document_reviews`,
			`DROP TABLE IF EXISTS document_transitions`,
		}
		for _, s := range stmts {
			if _, err := tx.Exec(s); err != nil {
				return err
			}
		}
		return nil
	},
}
