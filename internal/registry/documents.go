package registry

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gao-dev/lifecycle/internal/errs"
	"github.com/gao-dev/lifecycle/internal/model"
	"github.com/gao-dev/lifecycle/internal/telemetry"
)

const hashChunkSize = 4096

// HashFile computes the SHA-256 hex digest of path's contents, reading
// in 4 KiB chunks. Returns "" if the file cannot be read.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// RegisterInput carries the fields accepted by RegisterDocument.
type RegisterInput struct {
	Path          string
	Type          model.DocumentType
	Author        string
	Owner         string
	Reviewer      string
	ReviewDueDate *string // ISO-8601 date, optional
	Feature       string
	Epic          *int
	Story         string
	ContentHash   string
	Metadata      model.Metadata
}

// RegisterDocument inserts a new document in state draft, assigning id
// and timestamps. Fails with ErrDuplicatePath if path is already
// registered, or ErrValidation if Type is not a recognised enum value.
func (s *Store) RegisterDocument(ctx context.Context, in RegisterInput) (doc *model.Document, err error) {
	ctx, span := telemetry.Tracer.Start(ctx, "registry.RegisterDocument")
	defer span.End()

	if !in.Type.IsValid() {
		return nil, &errs.ValidationError{Field: "type", Value: in.Type, Msg: "unrecognised document type"}
	}
	if strings.TrimSpace(in.Path) == "" {
		return nil, &errs.ValidationError{Field: "path", Msg: "path must not be empty"}
	}

	metaJSON, jsonErr := (&model.Document{Metadata: in.Metadata}).MetadataJSON()
	if jsonErr != nil {
		return nil, &errs.ValidationError{Field: "metadata", Msg: jsonErr.Error()}
	}

	now := nowISO()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, execErr := tx.Exec(`
			INSERT INTO documents
				(path, type, state, created_at, modified_at, author, owner, reviewer,
				 review_due_date, feature, epic, story, content_hash, metadata)
			VALUES (?, ?, 'draft', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, in.Path, string(in.Type), now, now, in.Author, in.Owner, in.Reviewer,
			in.ReviewDueDate, in.Feature, in.Epic, in.Story, in.ContentHash, metaJSON)
		if execErr != nil {
			if strings.Contains(strings.ToUpper(execErr.Error()), "UNIQUE") {
				return &errs.DuplicatePathError{Path: in.Path}
			}
			return execErr
		}
		id, idErr := res.LastInsertId()
		if idErr != nil {
			return idErr
		}
		doc, err = s.getDocumentTx(tx, id)
		if err != nil {
			return err
		}
		return UpsertFTSTx(tx, doc.Path, doc.Metadata.Tags(), "")
	})
	if err != nil {
		if errs.IsDuplicatePath(err) || errs.IsValidation(err) {
			return nil, err
		}
		return nil, &errs.StorageErrorDetail{Op: "RegisterDocument", Err: err}
	}
	return doc, nil
}

const documentColumns = `id, path, type, state, created_at, modified_at, author, owner, reviewer,
	review_due_date, feature, epic, story, content_hash, metadata`

func scanDocument(row interface{ Scan(...any) error }) (*model.Document, error) {
	var (
		d                     model.Document
		createdAt, modifiedAt string
		reviewDue             sql.NullString
		epic                  sql.NullInt64
		metaRaw               string
	)
	if err := row.Scan(
		&d.ID, &d.Path, &d.Type, &d.State, &createdAt, &modifiedAt, &d.Author, &d.Owner, &d.Reviewer,
		&reviewDue, &d.Feature, &epic, &d.Story, &d.ContentHash, &metaRaw,
	); err != nil {
		return nil, err
	}
	var err error
	d.CreatedAt, err = parseISO(createdAt)
	if err != nil {
		return nil, err
	}
	d.ModifiedAt, err = parseISO(modifiedAt)
	if err != nil {
		return nil, err
	}
	if reviewDue.Valid {
		t, err := parseISODate(reviewDue.String)
		if err != nil {
			return nil, err
		}
		d.ReviewDueDate = &t
	}
	if epic.Valid {
		v := int(epic.Int64)
		d.Epic = &v
	}
	meta, err := model.ParseMetadataJSON(metaRaw)
	if err != nil {
		return nil, err
	}
	d.Metadata = meta
	return &d, nil
}

func (s *Store) getDocumentTx(tx *sql.Tx, id int64) (*model.Document, error) {
	row := tx.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// GetDocument fetches a document by id, returning ErrNotFound if it
// does not exist.
func (s *Store) GetDocument(ctx context.Context, id int64) (*model.Document, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "registry.GetDocument")
	defer span.End()

	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, errs.Wrap("GetDocument", id, err)
	}
	return doc, nil
}

// GetDocumentByPath fetches a document by path. Unlike GetDocument, a
// miss returns (nil, nil) rather than an error.
func (s *Store) GetDocumentByPath(ctx context.Context, path string) (*model.Document, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "registry.GetDocumentByPath")
	defer span.End()

	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE path = ?`, path)
	doc, err := scanDocument(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, &errs.StorageErrorDetail{Op: "GetDocumentByPath", Err: err}
	}
	return doc, nil
}

// allowedUpdateFields lists the columns UpdateDocument is permitted to
// change.
var allowedUpdateFields = map[string]bool{
	"path": true, "state": true, "author": true, "feature": true, "epic": true,
	"story": true, "owner": true, "reviewer": true, "review_due_date": true,
	"content_hash": true, "metadata": true,
}

// UpdateDocument applies a partial update and refreshes modified_at.
// Unknown keys in fields cause ErrValidation; fields["metadata"], if
// present, must be a model.Metadata value.
func (s *Store) UpdateDocument(ctx context.Context, id int64, fields map[string]any) (*model.Document, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "registry.UpdateDocument")
	defer span.End()

	if len(fields) == 0 {
		return nil, &errs.ValidationError{Field: "fields", Msg: "no fields supplied"}
	}
	setClauses := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+1)
	for k, v := range fields {
		if !allowedUpdateFields[k] {
			return nil, &errs.ValidationError{Field: k, Msg: "not an updatable field"}
		}
		if k == "metadata" {
			meta, ok := v.(model.Metadata)
			if !ok {
				return nil, &errs.ValidationError{Field: "metadata", Msg: "must be a metadata map"}
			}
			doc := &model.Document{Metadata: meta}
			j, err := doc.MetadataJSON()
			if err != nil {
				return nil, &errs.ValidationError{Field: "metadata", Msg: err.Error()}
			}
			v = j
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = ?", k))
		args = append(args, v)
	}
	setClauses = append(setClauses, "modified_at = ?")
	args = append(args, nowISO())
	args = append(args, id)

	var doc *model.Document
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		before, beforeErr := s.getDocumentTx(tx, id)
		if beforeErr != nil {
			if beforeErr == sql.ErrNoRows {
				return &errs.NotFoundError{Kind: "document", ID: id}
			}
			return beforeErr
		}

		query := fmt.Sprintf("UPDATE documents SET %s WHERE id = ?", strings.Join(setClauses, ", "))
		if _, execErr := tx.Exec(query, args...); execErr != nil {
			return execErr
		}

		var getErr error
		doc, getErr = s.getDocumentTx(tx, id)
		if getErr != nil {
			return getErr
		}

		content := ftsContentTx(tx, before.Path)
		if err := DeleteFTSTx(tx, before.Path); err != nil {
			return err
		}
		return UpsertFTSTx(tx, doc.Path, doc.Metadata.Tags(), content)
	})
	if err != nil {
		if errs.IsNotFound(err) || errs.IsValidation(err) {
			return nil, err
		}
		return nil, &errs.StorageErrorDetail{Op: "UpdateDocument", DocID: id, Err: err}
	}
	return doc, nil
}

// DeleteDocument removes a document. soft=true sets state=archived
// (recording no transition row; callers that want an audited archive
// should go through the state machine instead); soft=false deletes the
// row outright, cascading to relationships, transitions, and reviews.
func (s *Store) DeleteDocument(ctx context.Context, id int64, soft bool) error {
	ctx, span := telemetry.Tracer.Start(ctx, "registry.DeleteDocument")
	defer span.End()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if soft {
			res, err := tx.Exec(`UPDATE documents SET state = 'archived', modified_at = ? WHERE id = ?`, nowISO(), id)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				return &errs.NotFoundError{Kind: "document", ID: id}
			}
			return nil
		}

		doc, err := s.getDocumentTx(tx, id)
		if err != nil {
			if err == sql.ErrNoRows {
				return &errs.NotFoundError{Kind: "document", ID: id}
			}
			return err
		}
		if _, err := tx.Exec(`DELETE FROM documents WHERE id = ?`, id); err != nil {
			return err
		}
		return DeleteFTSTx(tx, doc.Path)
	})
	if err != nil {
		if errs.IsNotFound(err) {
			return err
		}
		return &errs.StorageErrorDetail{Op: "DeleteDocument", DocID: id, Err: err}
	}
	return nil
}

// QueryFilter expresses the AND-of-filters surface for QueryDocuments.
// Zero-value fields are ignored. Tags match OR unless MatchAllTags is
// set, in which case every listed tag must be present.
type QueryFilter struct {
	Type         model.DocumentType
	State        model.DocumentState
	Feature      string
	Epic         *int
	Owner        string
	Tags         []string
	MatchAllTags bool
}

// QueryDocuments returns documents matching every non-zero filter
// field, ANDed together.
func (s *Store) QueryDocuments(ctx context.Context, f QueryFilter) ([]*model.Document, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "registry.QueryDocuments")
	defer span.End()

	var (
		clauses []string
		args    []any
	)
	if f.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.State != "" {
		clauses = append(clauses, "state = ?")
		args = append(args, string(f.State))
	}
	if f.Feature != "" {
		clauses = append(clauses, "feature = ?")
		args = append(args, f.Feature)
	}
	if f.Epic != nil {
		clauses = append(clauses, "epic = ?")
		args = append(args, *f.Epic)
	}
	if f.Owner != "" {
		clauses = append(clauses, "owner = ?")
		args = append(args, f.Owner)
	}
	if len(f.Tags) > 0 {
		if f.MatchAllTags {
			for _, tag := range f.Tags {
				clauses = append(clauses, "EXISTS (SELECT 1 FROM json_each(metadata, '$.tags') WHERE value = ?)")
				args = append(args, tag)
			}
		} else {
			tagClauses := make([]string, 0, len(f.Tags))
			for _, tag := range f.Tags {
				tagClauses = append(tagClauses, "EXISTS (SELECT 1 FROM json_each(metadata, '$.tags') WHERE value = ?)")
				args = append(args, tag)
			}
			clauses = append(clauses, "("+strings.Join(tagClauses, " OR ")+")")
		}
	}

	query := `SELECT ` + documentColumns + ` FROM documents`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &errs.StorageErrorDetail{Op: "QueryDocuments", Err: err}
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, &errs.StorageErrorDetail{Op: "QueryDocuments", Err: err}
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, &errs.StorageErrorDetail{Op: "QueryDocuments", Err: err}
	}
	return docs, nil
}

// GetActiveDocument returns the active document for (docType, feature),
// or nil if none exists. feature == "" applies no feature filter, so
// the first active document of docType (lowest id) is returned
// whatever its feature.
func (s *Store) GetActiveDocument(ctx context.Context, docType model.DocumentType, feature string) (*model.Document, error) {
	docs, err := s.QueryDocuments(ctx, QueryFilter{Type: docType, State: model.StateActive, Feature: feature})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

// GetDocumentsByState returns every document in the given state.
func (s *Store) GetDocumentsByState(ctx context.Context, state model.DocumentState) ([]*model.Document, error) {
	return s.QueryDocuments(ctx, QueryFilter{State: state})
}

// GetFeatureDocuments returns every document belonging to feature.
func (s *Store) GetFeatureDocuments(ctx context.Context, feature string) ([]*model.Document, error) {
	return s.QueryDocuments(ctx, QueryFilter{Feature: feature})
}

// GetEpicDocuments returns every document belonging to epic.
func (s *Store) GetEpicDocuments(ctx context.Context, epic int) ([]*model.Document, error) {
	return s.QueryDocuments(ctx, QueryFilter{Epic: &epic})
}
