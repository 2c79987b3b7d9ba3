package migrations

import "database/sql"

// migration001CoreSchema creates the documents, relationships, and
// full-text index tables plus their supporting indexes.
var migration001CoreSchema = Migration{
	Version: 1,
	Name:    "core_schema",
	IsApplied: func(db *sql.DB) (bool, error) {
		return tableExists(db, "documents")
	},
	Up: func(tx *sql.Tx) error {
		stmts := []string{
			`CREATE TABLE documents (
				id              INTEGER PRIMARY KEY AUTOINCREMENT,
				path            TEXT NOT NULL UNIQUE,
				type            TEXT NOT NULL,
				state           TEXT NOT NULL DEFAULT 'draft',
				created_at      TEXT NOT NULL,
				modified_at     TEXT NOT NULL,
				author          TEXT NOT NULL DEFAULT '',
				owner           TEXT NOT NULL DEFAULT '',
				reviewer        TEXT NOT NULL DEFAULT '',
				review_due_date TEXT,
				feature         TEXT NOT NULL DEFAULT '',
				epic            INTEGER,
				story           TEXT NOT NULL DEFAULT '',
				content_hash    TEXT NOT NULL DEFAULT '',
				metadata        TEXT NOT NULL DEFAULT '{}',
				CHECK (type IN ('prd','architecture','epic','story','adr','postmortem','runbook','qa_report','test_report')),
				CHECK (state IN ('draft','active','obsolete','archived'))
			)`,
			`CREATE INDEX idx_documents_type ON documents(type)`,
			`CREATE INDEX idx_documents_state ON documents(state)`,
			`CREATE INDEX idx_documents_feature ON documents(feature)`,
			`CREATE INDEX idx_documents_epic ON documents(epic)`,
			`CREATE INDEX idx_documents_owner ON documents(owner)`,
			`CREATE INDEX idx_documents_type_state ON documents(type, state)`,
			`CREATE INDEX idx_documents_feature_type ON documents(feature, type)`,
			`CREATE INDEX idx_documents_modified_at ON documents(modified_at)`,
			`CREATE INDEX idx_documents_review_due_date ON documents(review_due_date)`,
			`CREATE TABLE relationships (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				parent_id   INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
				child_id    INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
				type        TEXT NOT NULL,
				CHECK (type IN ('derived_from','implements','tests','replaces','references')),
				UNIQUE (parent_id, child_id, type)
			)`,
			`CREATE INDEX idx_relationships_type ON relationships(type)`,
			`CREATE INDEX idx_relationships_parent ON relationships(parent_id)`,
			`CREATE INDEX idx_relationships_child ON relationships(child_id)`,
			`CREATE VIRTUAL TABLE documents_fts USING fts5(
				title,
				content,
				tags
			)`,
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
			`DROP TABLE IF EXISTS documents_fts`,
			`DROP TABLE IF EXISTS relationships`,
			`DROP TABLE IF EXISTS documents`,
		}
		for _, s := range stmts {
			if _, err := tx.Exec(s); err != nil {
				return err
			}
		}
		return nil
	},
}
