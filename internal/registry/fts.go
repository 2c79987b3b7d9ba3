package registry

import (
	"database/sql"
	"encoding/json"
)

// UpsertFTSTx replaces the documents_fts row keyed by path (the table's
// join key back to documents.path) with the given tags and content.
// Exported so callers outside the package (internal/search's reindex)
// can keep the index in step with writes they make directly against
// the registry.
func UpsertFTSTx(tx *sql.Tx, path string, tags []string, content string) error {
	if _, err := tx.Exec(`DELETE FROM documents_fts WHERE title = ?`, path); err != nil {
		return err
	}
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`INSERT INTO documents_fts (title, content, tags) VALUES (?, ?, ?)`, path, content, string(tagsJSON))
	return err
}

// DeleteFTSTx removes the documents_fts row keyed by path.
func DeleteFTSTx(tx *sql.Tx, path string) error {
	_, err := tx.Exec(`DELETE FROM documents_fts WHERE title = ?`, path)
	return err
}

// ftsContentTx returns the content column of the documents_fts row
// keyed by path, or "" if no such row exists yet.
func ftsContentTx(tx *sql.Tx, path string) string {
	var content string
	row := tx.QueryRow(`SELECT content FROM documents_fts WHERE title = ?`, path)
	if err := row.Scan(&content); err != nil {
		return ""
	}
	return content
}
