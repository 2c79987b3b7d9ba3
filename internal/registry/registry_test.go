package registry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gao-dev/lifecycle/internal/errs"
	"github.com/gao-dev/lifecycle/internal/model"
	"github.com/gao-dev/lifecycle/internal/registry/migrations"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRegisterAndGetByPathRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	doc, err := s.RegisterDocument(ctx, RegisterInput{
		Path: "docs/PRD.md", Type: model.TypePRD, Author: "john",
		Metadata: model.Metadata{"tags": []any{"auth"}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StateDraft, doc.State)
	assert.NotZero(t, doc.ID)

	got, err := s.GetDocumentByPath(ctx, "docs/PRD.md")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, doc.ID, got.ID)
	assert.Equal(t, []string{"auth"}, got.Metadata.Tags())
}

func TestGetDocumentByPathMissReturnsNilNotError(t *testing.T) {
	s := newStore(t)
	got, err := s.GetDocumentByPath(context.Background(), "nope.md")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetDocumentMissReturnsNotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.GetDocument(context.Background(), 999)
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestRegisterDuplicatePath(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.RegisterDocument(ctx, RegisterInput{Path: "a.md", Type: model.TypePRD, Author: "john"})
	require.NoError(t, err)

	_, err = s.RegisterDocument(ctx, RegisterInput{Path: "a.md", Type: model.TypePRD, Author: "john"})
	require.Error(t, err)
	assert.True(t, errs.IsDuplicatePath(err))
}

func TestRegisterInvalidType(t *testing.T) {
	s := newStore(t)
	_, err := s.RegisterDocument(context.Background(), RegisterInput{Path: "a.md", Type: "not-a-type", Author: "john"})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
}

func TestUpdateDocumentRefreshesModifiedAt(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	doc, err := s.RegisterDocument(ctx, RegisterInput{Path: "a.md", Type: model.TypePRD, Author: "john"})
	require.NoError(t, err)

	updated, err := s.UpdateDocument(ctx, doc.ID, map[string]any{"owner": "jane"})
	require.NoError(t, err)
	assert.Equal(t, "jane", updated.Owner)
	assert.True(t, !updated.ModifiedAt.Before(doc.ModifiedAt))
}

func TestUpdateDocumentRejectsUnknownField(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	doc, err := s.RegisterDocument(ctx, RegisterInput{Path: "a.md", Type: model.TypePRD, Author: "john"})
	require.NoError(t, err)

	_, err = s.UpdateDocument(ctx, doc.ID, map[string]any{"id": 5})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
}

func TestDeleteDocumentSoftArchives(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	doc, err := s.RegisterDocument(ctx, RegisterInput{Path: "a.md", Type: model.TypePRD, Author: "john"})
	require.NoError(t, err)

	err = s.DeleteDocument(ctx, doc.ID, true)
	require.NoError(t, err)

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateArchived, got.State)
}

func TestDeleteDocumentHardRemoves(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	doc, err := s.RegisterDocument(ctx, RegisterInput{Path: "a.md", Type: model.TypePRD, Author: "john"})
	require.NoError(t, err)

	err = s.DeleteDocument(ctx, doc.ID, false)
	require.NoError(t, err)

	_, err = s.GetDocument(ctx, doc.ID)
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestQueryDocumentsTagsOrSemantics(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.RegisterDocument(ctx, RegisterInput{Path: "a.md", Type: model.TypePRD, Author: "john",
		Metadata: model.Metadata{"tags": []any{"alpha"}}})
	require.NoError(t, err)
	_, err = s.RegisterDocument(ctx, RegisterInput{Path: "b.md", Type: model.TypePRD, Author: "john",
		Metadata: model.Metadata{"tags": []any{"beta"}}})
	require.NoError(t, err)

	docs, err := s.QueryDocuments(ctx, QueryFilter{Tags: []string{"alpha", "beta"}})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestAddRelationshipAndLookups(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	parent, err := s.RegisterDocument(ctx, RegisterInput{Path: "prd.md", Type: model.TypePRD, Author: "john"})
	require.NoError(t, err)
	child, err := s.RegisterDocument(ctx, RegisterInput{Path: "arch.md", Type: model.TypeArchitecture, Author: "john"})
	require.NoError(t, err)

	_, err = s.AddRelationship(ctx, parent.ID, child.ID, model.RelDerivedFrom)
	require.NoError(t, err)

	_, err = s.AddRelationship(ctx, parent.ID, child.ID, model.RelDerivedFrom)
	require.Error(t, err)
	assert.True(t, errs.IsRelationship(err))

	parents, err := s.GetParentDocuments(ctx, child.ID, "")
	require.NoError(t, err)
	require.Len(t, parents, 1)
	assert.Equal(t, parent.ID, parents[0].ID)

	children, err := s.GetChildDocuments(ctx, parent.ID, model.RelDerivedFrom)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, child.ID, children[0].ID)
}

func TestAddRelationshipRequiresExistingDocuments(t *testing.T) {
	s := newStore(t)
	_, err := s.AddRelationship(context.Background(), 1, 2, model.RelReferences)
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestRelationshipReadsRequireExistingDocument(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.GetRelationships(ctx, 42)
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))

	_, err = s.GetParentDocuments(ctx, 42, "")
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))

	_, err = s.GetChildDocuments(ctx, 42, "")
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestHardDeleteCascadesRelationships(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	parent, err := s.RegisterDocument(ctx, RegisterInput{Path: "p.md", Type: model.TypePRD, Author: "john"})
	require.NoError(t, err)
	child, err := s.RegisterDocument(ctx, RegisterInput{Path: "c.md", Type: model.TypeEpic, Author: "john"})
	require.NoError(t, err)
	_, err = s.AddRelationship(ctx, parent.ID, child.ID, model.RelDerivedFrom)
	require.NoError(t, err)

	require.NoError(t, s.DeleteDocument(ctx, parent.ID, false))

	rels, err := s.GetRelationships(ctx, child.ID)
	require.NoError(t, err)
	assert.Empty(t, rels)
}

func TestOpenIsIdempotentAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "documents.db")

	s1, err := Open(path)
	require.NoError(t, err)
	_, err = s1.RegisterDocument(context.Background(), RegisterInput{Path: "a.md", Type: model.TypePRD, Author: "john"})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// Reopening must not re-run applied migrations and must see the
	// previously written rows.
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	doc, err := s2.GetDocumentByPath(context.Background(), "a.md")
	require.NoError(t, err)
	require.NotNil(t, doc)

	var versions int
	require.NoError(t, s2.DB().QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&versions))
	assert.Equal(t, len(migrations.All), versions)
}
