package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gao-dev/lifecycle/internal/model"
	"github.com/gao-dev/lifecycle/internal/registry"
	"github.com/gao-dev/lifecycle/internal/statemachine"
)

func newTestManager(t *testing.T) (*Manager, *registry.Store, string) {
	t.Helper()
	store, err := registry.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sm := statemachine.New(store)
	archiveDir := filepath.Join(t.TempDir(), "archive")
	mgr, err := New(store, sm, archiveDir)
	require.NoError(t, err)
	return mgr, store, archiveDir
}

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestExtractPathMetadata(t *testing.T) {
	got := extractPathMetadata("docs/features/auth/epic-12/story-12.3-login.md")
	assert.Equal(t, "auth", got["feature"])
	assert.Equal(t, 12, got["epic"])
	assert.Equal(t, "12.3", got["story"])
}

func TestMergeMetadataPrecedence(t *testing.T) {
	merged := mergeMetadata(
		map[string]any{"owner": "path-owner", "feature": "auth"},
		map[string]any{"owner": "fm-owner", "priority": "P1"},
		map[string]any{"owner": "caller-owner"},
	)
	assert.Equal(t, "caller-owner", merged["owner"])
	assert.Equal(t, "auth", merged["feature"])
	assert.Equal(t, "P1", merged["priority"])
}

func TestRegisterDocumentExtractsFrontmatter(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	dir := t.TempDir()
	path := writeDoc(t, dir, "prd.md", "---\ntitle: Login PRD\nowner: jane\n---\n\n# Login\n")

	doc, err := mgr.RegisterDocument(context.Background(), path, model.TypePRD, "john", nil)
	require.NoError(t, err)
	assert.Equal(t, "jane", doc.Owner)
	assert.Equal(t, model.StateDraft, doc.State)
	assert.NotEmpty(t, doc.ContentHash)
}

func TestRegisterDocumentCallerMetadataWins(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	dir := t.TempDir()
	path := writeDoc(t, dir, "prd2.md", "---\nowner: fm-owner\n---\nbody\n")

	doc, err := mgr.RegisterDocument(context.Background(), path, model.TypePRD, "john",
		model.Metadata{"owner": "override-owner"})
	require.NoError(t, err)
	assert.Equal(t, "override-owner", doc.Owner)
}

func TestRegisterDocumentInfersRelationships(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()
	dir := t.TempDir()

	prdPath := writeDoc(t, dir, "prd.md", "# PRD\n")
	prd, err := mgr.RegisterDocument(ctx, prdPath, model.TypePRD, "john", nil)
	require.NoError(t, err)

	archPath := writeDoc(t, dir, "arch.md",
		"---\nrelated_docs:\n  - "+prdPath+"\n---\n# Architecture\n")
	arch, err := mgr.RegisterDocument(ctx, archPath, model.TypeArchitecture, "john", nil)
	require.NoError(t, err)

	parents, err := store.GetParentDocuments(ctx, arch.ID, "")
	require.NoError(t, err)
	require.Len(t, parents, 1)
	assert.Equal(t, prd.ID, parents[0].ID)
}

func TestGetDocumentLineage(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	prd, err := store.RegisterDocument(ctx, registry.RegisterInput{Path: "prd.md", Type: model.TypePRD, Author: "john"})
	require.NoError(t, err)
	arch, err := store.RegisterDocument(ctx, registry.RegisterInput{Path: "arch.md", Type: model.TypeArchitecture, Author: "john"})
	require.NoError(t, err)
	story, err := store.RegisterDocument(ctx, registry.RegisterInput{Path: "story.md", Type: model.TypeStory, Author: "john"})
	require.NoError(t, err)

	_, err = store.AddRelationship(ctx, prd.ID, arch.ID, model.RelDerivedFrom)
	require.NoError(t, err)
	_, err = store.AddRelationship(ctx, arch.ID, story.ID, model.RelDerivedFrom)
	require.NoError(t, err)

	ancestors, descendants, err := mgr.GetDocumentLineage(ctx, arch.ID)
	require.NoError(t, err)
	require.Len(t, ancestors, 1)
	assert.Equal(t, prd.ID, ancestors[0].ID)
	require.Len(t, descendants, 1)
	assert.Equal(t, story.ID, descendants[0].ID)
}

func TestArchiveDocumentMovesFileAndTransitions(t *testing.T) {
	mgr, store, archiveDir := newTestManager(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := writeDoc(t, dir, "runbook.md", "# Runbook\n")

	doc, err := mgr.RegisterDocument(ctx, path, model.TypeRunbook, "john", nil)
	require.NoError(t, err)
	_, err = mgr.TransitionState(ctx, doc.ID, model.StateActive, "", "john")
	require.NoError(t, err)
	_, err = mgr.TransitionState(ctx, doc.ID, model.StateObsolete, "superseded", "john")
	require.NoError(t, err)

	archived, err := mgr.ArchiveDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateArchived, archived.State)
	assert.Equal(t, filepath.Join(archiveDir, filepath.Base(path)), archived.Path)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(archived.Path)
	assert.NoError(t, statErr)

	got, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, archived.Path, got.Path)
}

func TestArchiveDocumentRejectsAlreadyArchived(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := writeDoc(t, dir, "adr.md", "# ADR\n")

	doc, err := mgr.RegisterDocument(ctx, path, model.TypeADR, "john", nil)
	require.NoError(t, err)
	_, err = mgr.TransitionState(ctx, doc.ID, model.StateArchived, "done", "john")
	require.NoError(t, err)

	_, err = mgr.ArchiveDocument(ctx, doc.ID)
	require.Error(t, err)
}
