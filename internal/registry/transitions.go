package registry

import (
	"context"
	"database/sql"

	"github.com/gao-dev/lifecycle/internal/errs"
	"github.com/gao-dev/lifecycle/internal/model"
	"github.com/gao-dev/lifecycle/internal/telemetry"
)

// AppendTransitionTx writes one audit row inside an existing
// transaction, which is how the state machine keeps the document
// update and the audit row atomic. Seq (the rowid) breaks ties
// when ChangedAt resolves to the same instant.
func AppendTransitionTx(tx *sql.Tx, t model.StateTransition) (*model.StateTransition, error) {
	res, err := tx.Exec(`
		INSERT INTO document_transitions (document_id, from_state, to_state, reason, changed_by, changed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.DocumentID, string(t.FromState), string(t.ToState), t.Reason, t.ChangedBy, nowISO())
	if err != nil {
		return nil, err
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	out := t
	out.Seq = seq
	out.ID = seq
	return &out, nil
}

// GetTransitionHistory returns every transition for id, most recent
// first, breaking changed_at ties by seq.
func (s *Store) GetTransitionHistory(ctx context.Context, id int64) ([]*model.StateTransition, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "registry.GetTransitionHistory")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, document_id, from_state, to_state, reason, changed_by, changed_at
		FROM document_transitions
		WHERE document_id = ?
		ORDER BY changed_at DESC, seq DESC
	`, id)
	if err != nil {
		return nil, &errs.StorageErrorDetail{Op: "GetTransitionHistory", DocID: id, Err: err}
	}
	defer rows.Close()

	var out []*model.StateTransition
	for rows.Next() {
		var (
			t         model.StateTransition
			changedAt string
		)
		if err := rows.Scan(&t.Seq, &t.DocumentID, &t.FromState, &t.ToState, &t.Reason, &t.ChangedBy, &changedAt); err != nil {
			return nil, &errs.StorageErrorDetail{Op: "GetTransitionHistory", DocID: id, Err: err}
		}
		t.ID = t.Seq
		ts, err := parseISO(changedAt)
		if err != nil {
			return nil, &errs.StorageErrorDetail{Op: "GetTransitionHistory", DocID: id, Err: err}
		}
		t.ChangedAt = ts
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, &errs.StorageErrorDetail{Op: "GetTransitionHistory", DocID: id, Err: err}
	}
	return out, nil
}

// LatestTransitionInto returns the most recent transition row whose
// to_state equals state, or nil if none exists. Used by the retention
// engine to resolve "time in state" from transition history rather
// than modified_at, which a stray metadata edit would otherwise reset.
func (s *Store) LatestTransitionInto(ctx context.Context, id int64, state model.DocumentState) (*model.StateTransition, error) {
	history, err := s.GetTransitionHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, t := range history {
		if t.ToState == state {
			return t, nil
		}
	}
	return nil, nil
}
