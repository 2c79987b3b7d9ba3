package registry

import (
	"context"
	"database/sql"

	"github.com/gao-dev/lifecycle/internal/errs"
	"github.com/gao-dev/lifecycle/internal/model"
)

// WithTx runs fn inside a retrying transaction and is the seam the
// state machine uses to keep a transition's document update(s) and
// audit row(s) atomic across the single-active succession in step 4
// of the state machine's transition contract.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.withTx(ctx, fn)
}

// GetDocumentTx fetches a document by id within an existing
// transaction, returning ErrNotFound on a miss.
func (s *Store) GetDocumentTx(tx *sql.Tx, id int64) (*model.Document, error) {
	doc, err := s.getDocumentTx(tx, id)
	if err == sql.ErrNoRows {
		return nil, &errs.NotFoundError{Kind: "document", ID: id}
	}
	return doc, err
}

// GetActiveDocumentTx returns the active document for (docType,
// feature) within tx, excluding excludeID, or nil if none exists.
func (s *Store) GetActiveDocumentTx(tx *sql.Tx, docType model.DocumentType, feature string, excludeID int64) (*model.Document, error) {
	row := tx.QueryRow(
		`SELECT `+documentColumns+` FROM documents WHERE type = ? AND state = 'active' AND feature = ? AND id != ? LIMIT 1`,
		string(docType), feature, excludeID,
	)
	doc, err := scanDocument(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return doc, nil
}

// SetDocumentStateTx updates a document's state and modified_at within
// tx, without touching any other field.
func (s *Store) SetDocumentStateTx(tx *sql.Tx, id int64, state model.DocumentState) error {
	_, err := tx.Exec(`UPDATE documents SET state = ?, modified_at = ? WHERE id = ?`, string(state), nowISO(), id)
	return err
}

// SetDocumentPathTx updates a document's path and modified_at within
// tx.
func (s *Store) SetDocumentPathTx(tx *sql.Tx, id int64, path string) error {
	_, err := tx.Exec(`UPDATE documents SET path = ?, modified_at = ? WHERE id = ?`, path, nowISO(), id)
	return err
}

// SetReviewFieldsTx updates owner/reviewer/review_due_date within tx,
// used by the governance engine's ownership assignment.
func (s *Store) SetReviewFieldsTx(tx *sql.Tx, id int64, owner, reviewer string, reviewDue *string) error {
	_, err := tx.Exec(
		`UPDATE documents SET owner = ?, reviewer = ?, review_due_date = ?, modified_at = ? WHERE id = ?`,
		owner, reviewer, reviewDue, nowISO(), id,
	)
	return err
}

// SetReviewDueDateTx updates only review_due_date within tx, used
// after mark_reviewed recomputes the next cadence.
func (s *Store) SetReviewDueDateTx(tx *sql.Tx, id int64, reviewDue *string) error {
	_, err := tx.Exec(`UPDATE documents SET review_due_date = ?, modified_at = ? WHERE id = ?`, reviewDue, nowISO(), id)
	return err
}
