package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRetentionYAML = `
retention_policies:
  prd:
    obsolete_to_archive: 90
    archive_retention: -1
    delete_after_archive: false
    compliance_tags: ["product-decisions"]
  story:
    obsolete_to_archive: 0
    archive_retention: 0
    delete_after_archive: true
    compliance_tags: []
`

const testGovernanceYAML = `
document_governance:
  ownership:
    prd:
      approved_by: product_lead
      reviewed_by: engineering_manager
  review_cadence:
    prd: 90
    story: 30
  permissions:
    archive:
      allowed_roles: ["owner"]
    delete:
      allowed_roles: ["engineering_manager"]
`

type fixture struct {
	store     *Store
	sm        *StateMachine
	manager   *Manager
	search    *SearchEngine
	retention *RetentionEngine
	gov       *GovernanceEngine
	health    *HealthEngine
	docsDir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := OpenMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	root := t.TempDir()
	docsDir := filepath.Join(root, "docs")
	require.NoError(t, os.MkdirAll(docsDir, 0o755))

	retentionPath := filepath.Join(root, "retention.yaml")
	require.NoError(t, os.WriteFile(retentionPath, []byte(testRetentionYAML), 0o644))
	governancePath := filepath.Join(root, "governance.yaml")
	require.NoError(t, os.WriteFile(governancePath, []byte(testGovernanceYAML), 0o644))

	sm := NewStateMachine(store)
	mgr, err := NewManager(store, sm, filepath.Join(root, ".archive"))
	require.NoError(t, err)
	ret, err := NewRetentionEngine(store, mgr, retentionPath)
	require.NoError(t, err)
	gov, err := NewGovernanceEngine(store, governancePath)
	require.NoError(t, err)

	return &fixture{
		store:     store,
		sm:        sm,
		manager:   mgr,
		search:    NewSearchEngine(store),
		retention: ret,
		gov:       gov,
		health:    NewHealthEngine(store, gov),
		docsDir:   docsDir,
	}
}

func (f *fixture) writeDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.docsDir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFullDocumentLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	path := f.writeDoc(t, "PRD.md", "# Login PRD\n")
	doc, err := f.manager.RegisterDocument(ctx, path, TypePRD, "john", nil)
	require.NoError(t, err)
	assert.Equal(t, StateDraft, doc.State)

	doc, err = f.manager.TransitionState(ctx, doc.ID, StateActive, "", "john")
	require.NoError(t, err)
	doc, err = f.manager.TransitionState(ctx, doc.ID, StateObsolete, "replaced", "john")
	require.NoError(t, err)
	doc, err = f.manager.TransitionState(ctx, doc.ID, StateArchived, "cleanup", "john")
	require.NoError(t, err)
	assert.Equal(t, StateArchived, doc.State)

	history, err := f.store.GetTransitionHistory(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, StateArchived, history[0].ToState)
	assert.Equal(t, StateObsolete, history[1].ToState)
	assert.Equal(t, StateActive, history[2].ToState)
}

func TestSingleActivePerTypeAndFeature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	firstPath := f.writeDoc(t, "prd-auth-v1.md", "# Auth v1\n")
	secondPath := f.writeDoc(t, "prd-auth-v2.md", "# Auth v2\n")

	first, err := f.manager.RegisterDocument(ctx, firstPath, TypePRD, "john", Metadata{"feature": "auth"})
	require.NoError(t, err)
	second, err := f.manager.RegisterDocument(ctx, secondPath, TypePRD, "jane", Metadata{"feature": "auth"})
	require.NoError(t, err)

	_, err = f.manager.TransitionState(ctx, first.ID, StateActive, "", "john")
	require.NoError(t, err)
	_, err = f.manager.TransitionState(ctx, second.ID, StateActive, "", "jane")
	require.NoError(t, err)

	current, err := f.manager.GetCurrentDocument(ctx, TypePRD, "auth")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, second.ID, current.ID)

	demoted, err := f.store.GetDocument(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StateObsolete, demoted.State)
}

func TestGovernanceAssignsOwnershipAndRecordsReviews(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	path := f.writeDoc(t, "PRD_checkout_2024-11-05_v1.0.md", "# Checkout\n")
	doc, err := f.manager.RegisterDocument(ctx, path, TypePRD, "john", nil)
	require.NoError(t, err)

	require.NoError(t, f.gov.AutoAssignOwnership(ctx, doc))
	doc, err = f.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "product_lead", doc.Owner)
	assert.Equal(t, "engineering_manager", doc.Reviewer)
	require.NotNil(t, doc.ReviewDueDate)

	review, err := f.gov.MarkReviewed(ctx, doc.ID, "engineering_manager", "looks fine")
	require.NoError(t, err)
	require.NotNil(t, review.NextReviewDue)

	history, err := f.gov.GetReviewHistory(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRetentionSweepArchivesAndRespectsCompliance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	storyPath := f.writeDoc(t, "story.md", "# Story\n")
	story, err := f.manager.RegisterDocument(ctx, storyPath, TypeStory, "john", nil)
	require.NoError(t, err)
	_, err = f.manager.TransitionState(ctx, story.ID, StateActive, "", "john")
	require.NoError(t, err)
	_, err = f.manager.TransitionState(ctx, story.ID, StateObsolete, "done", "john")
	require.NoError(t, err)

	actions, err := f.retention.ArchiveObsoleteDocuments(ctx, true)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	got, err := f.store.GetDocument(ctx, story.ID)
	require.NoError(t, err)
	assert.Equal(t, StateObsolete, got.State)

	actions, err = f.retention.ArchiveObsoleteDocuments(ctx, false)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	got, err = f.store.GetDocument(ctx, story.ID)
	require.NoError(t, err)
	assert.Equal(t, StateArchived, got.State)

	// A compliance-tagged archived PRD survives cleanup regardless of age.
	prdPath := f.writeDoc(t, "prd.md", "# PRD\n")
	prd, err := f.manager.RegisterDocument(ctx, prdPath, TypePRD, "john",
		Metadata{"tags": []any{"product-decisions"}})
	require.NoError(t, err)
	_, err = f.manager.TransitionState(ctx, prd.ID, StateArchived, "cleanup", "john")
	require.NoError(t, err)

	deletions, err := f.retention.CleanupExpiredDocuments(ctx, true)
	require.NoError(t, err)
	for _, a := range deletions {
		assert.NotEqual(t, prd.ID, a.Document.ID)
	}
}

func TestSearchFindsRegisteredDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	path := f.writeDoc(t, "Runbook_kafka-restart_2024-11-05_v1.0.md", "# Kafka\nbroker restart steps\n")
	_, err := f.manager.RegisterDocument(ctx, path, TypeRunbook, "john", nil)
	require.NoError(t, err)

	results, err := f.search.Search(ctx, "kafka", SearchFilter{}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, path, results[0].Document.Path)
}

func TestHealthReportCoversRegisteredDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	path := f.writeDoc(t, "story-notes.md", "# Notes\n")
	_, err := f.manager.RegisterDocument(ctx, path, TypeStory, "john", nil)
	require.NoError(t, err)

	metrics, err := f.health.CollectMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.TotalDocuments)

	report, err := f.health.GenerateHealthReport(ctx)
	require.NoError(t, err)
	assert.Contains(t, report, "# Document Lifecycle Health Report")
}
