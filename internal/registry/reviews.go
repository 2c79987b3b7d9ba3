package registry

import (
	"context"
	"database/sql"

	"github.com/gao-dev/lifecycle/internal/errs"
	"github.com/gao-dev/lifecycle/internal/model"
	"github.com/gao-dev/lifecycle/internal/telemetry"
)

// AppendReviewTx records one completed review inside an existing
// transaction, mirroring AppendTransitionTx's atomicity with the
// document's updated review_due_date.
func AppendReviewTx(tx *sql.Tx, r model.Review) (*model.Review, error) {
	var nextDue any
	if r.NextReviewDue != nil {
		nextDue = r.NextReviewDue.Format("2006-01-02")
	}
	res, err := tx.Exec(`
		INSERT INTO document_reviews (document_id, reviewer, reviewed_at, notes, next_review_due)
		VALUES (?, ?, ?, ?, ?)
	`, r.DocumentID, r.Reviewer, nowISO(), r.Notes, nextDue)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	out := r
	out.ID = id
	return &out, nil
}

// GetReviewHistory returns every review for id, most recent first.
func (s *Store) GetReviewHistory(ctx context.Context, id int64) ([]*model.Review, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "registry.GetReviewHistory")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, reviewer, reviewed_at, notes, next_review_due
		FROM document_reviews
		WHERE document_id = ?
		ORDER BY reviewed_at DESC, id DESC
	`, id)
	if err != nil {
		return nil, &errs.StorageErrorDetail{Op: "GetReviewHistory", DocID: id, Err: err}
	}
	defer rows.Close()

	var out []*model.Review
	for rows.Next() {
		var (
			r          model.Review
			reviewedAt string
			nextDue    sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.Reviewer, &reviewedAt, &r.Notes, &nextDue); err != nil {
			return nil, &errs.StorageErrorDetail{Op: "GetReviewHistory", DocID: id, Err: err}
		}
		ts, err := parseISO(reviewedAt)
		if err != nil {
			return nil, &errs.StorageErrorDetail{Op: "GetReviewHistory", DocID: id, Err: err}
		}
		r.ReviewedAt = ts
		if nextDue.Valid {
			d, err := parseISODate(nextDue.String)
			if err != nil {
				return nil, &errs.StorageErrorDetail{Op: "GetReviewHistory", DocID: id, Err: err}
			}
			r.NextReviewDue = &d
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, &errs.StorageErrorDetail{Op: "GetReviewHistory", DocID: id, Err: err}
	}
	return out, nil
}

// BeginTx exposes a raw, non-retrying transaction on the registry
// database; the caller commits or rolls it back. The state machine and
// governance engine use WithTx instead.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}
