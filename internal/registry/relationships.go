package registry

import (
	"context"
	"database/sql"
	"strings"

	"github.com/gao-dev/lifecycle/internal/errs"
	"github.com/gao-dev/lifecycle/internal/model"
	"github.com/gao-dev/lifecycle/internal/telemetry"
)

// AddRelationship creates a directed edge parentID -> childID of type
// relType. Both documents must already exist; the edge must be
// unique per triple.
func (s *Store) AddRelationship(ctx context.Context, parentID, childID int64, relType model.RelationshipType) (*model.Relationship, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "registry.AddRelationship")
	defer span.End()

	if !relType.IsValid() {
		return nil, &errs.ValidationError{Field: "type", Value: relType, Msg: "unrecognised relationship type"}
	}

	var rel *model.Relationship
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range []int64{parentID, childID} {
			var exists bool
			if err := tx.QueryRow(`SELECT COUNT(*) > 0 FROM documents WHERE id = ?`, id).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return &errs.NotFoundError{Kind: "document", ID: id}
			}
		}
		res, err := tx.Exec(`INSERT INTO relationships (parent_id, child_id, type) VALUES (?, ?, ?)`,
			parentID, childID, string(relType))
		if err != nil {
			if strings.Contains(strings.ToUpper(err.Error()), "UNIQUE") {
				return &errs.RelationshipErrorDetail{ParentID: parentID, ChildID: childID, Type: relType, Msg: "duplicate edge"}
			}
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		rel = &model.Relationship{ID: id, ParentID: parentID, ChildID: childID, Type: relType}
		return nil
	})
	if err != nil {
		if errs.IsNotFound(err) || errs.IsRelationship(err) || errs.IsValidation(err) {
			return nil, err
		}
		return nil, &errs.StorageErrorDetail{Op: "AddRelationship", Err: err}
	}
	return rel, nil
}

// documentExists returns ErrNotFound when id names no document, so the
// relationship readers can distinguish "no edges" from "no such
// document".
func (s *Store) documentExists(ctx context.Context, id int64) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) > 0 FROM documents WHERE id = ?`, id).Scan(&exists); err != nil {
		return &errs.StorageErrorDetail{Op: "documentExists", DocID: id, Err: err}
	}
	if !exists {
		return &errs.NotFoundError{Kind: "document", ID: id}
	}
	return nil
}

func scanRelationships(rows *sql.Rows) ([]*model.Relationship, error) {
	var out []*model.Relationship
	for rows.Next() {
		var r model.Relationship
		if err := rows.Scan(&r.ID, &r.ParentID, &r.ChildID, &r.Type); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// GetRelationships returns every edge where id is either the parent or
// the child.
func (s *Store) GetRelationships(ctx context.Context, id int64) ([]*model.Relationship, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "registry.GetRelationships")
	defer span.End()

	if err := s.documentExists(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, parent_id, child_id, type FROM relationships WHERE parent_id = ? OR child_id = ?`, id, id)
	if err != nil {
		return nil, &errs.StorageErrorDetail{Op: "GetRelationships", DocID: id, Err: err}
	}
	defer rows.Close()
	out, err := scanRelationships(rows)
	if err != nil {
		return nil, &errs.StorageErrorDetail{Op: "GetRelationships", DocID: id, Err: err}
	}
	return out, nil
}

// GetParentDocuments returns the documents that are a parent of id,
// optionally filtered by relationship type (relType == "" means any).
func (s *Store) GetParentDocuments(ctx context.Context, id int64, relType model.RelationshipType) ([]*model.Document, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "registry.GetParentDocuments")
	defer span.End()

	if err := s.documentExists(ctx, id); err != nil {
		return nil, err
	}
	query := `SELECT ` + qualifiedDocumentColumns("d") + `
		FROM documents d JOIN relationships r ON r.parent_id = d.id
		WHERE r.child_id = ?`
	args := []any{id}
	if relType != "" {
		query += " AND r.type = ?"
		args = append(args, string(relType))
	}
	return s.queryDocumentsRaw(ctx, "GetParentDocuments", id, query, args...)
}

// GetChildDocuments returns the documents that are a child of id,
// optionally filtered by relationship type.
func (s *Store) GetChildDocuments(ctx context.Context, id int64, relType model.RelationshipType) ([]*model.Document, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "registry.GetChildDocuments")
	defer span.End()

	if err := s.documentExists(ctx, id); err != nil {
		return nil, err
	}
	query := `SELECT ` + qualifiedDocumentColumns("d") + `
		FROM documents d JOIN relationships r ON r.child_id = d.id
		WHERE r.parent_id = ?`
	args := []any{id}
	if relType != "" {
		query += " AND r.type = ?"
		args = append(args, string(relType))
	}
	return s.queryDocumentsRaw(ctx, "GetChildDocuments", id, query, args...)
}

func qualifiedDocumentColumns(alias string) string {
	cols := strings.Split(strings.ReplaceAll(documentColumns, "\n", ""), ",")
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(out, ", ")
}

func (s *Store) queryDocumentsRaw(ctx context.Context, op string, id int64, query string, args ...any) ([]*model.Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &errs.StorageErrorDetail{Op: op, DocID: id, Err: err}
	}
	defer rows.Close()
	var docs []*model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, &errs.StorageErrorDetail{Op: op, DocID: id, Err: err}
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, &errs.StorageErrorDetail{Op: op, DocID: id, Err: err}
	}
	return docs, nil
}
