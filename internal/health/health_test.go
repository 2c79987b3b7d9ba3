package health

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gao-dev/lifecycle/internal/governance"
	"github.com/gao-dev/lifecycle/internal/model"
	"github.com/gao-dev/lifecycle/internal/registry"
)

const configYAML = `
document_governance:
  ownership: {}
  review_cadence:
    runbook: 30
    adr: -1
  permissions:
    archive:
      allowed_roles: ["owner"]
    delete:
      allowed_roles: ["owner"]
`

func newTestEngine(t *testing.T) (*Engine, *registry.Store) {
	t.Helper()
	store, err := registry.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	path := filepath.Join(t.TempDir(), "governance.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o644))
	gov, err := governance.New(store, path)
	require.NoError(t, err)

	return New(store, gov), store
}

func TestCollectMetricsEmptyRegistry(t *testing.T) {
	eng, _ := newTestEngine(t)
	m, err := eng.CollectMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, m.TotalDocuments)
	assert.Equal(t, 100.0, m.NamingComplianceRate)
	assert.Equal(t, 100.0, m.FrontmatterComplianceRate)
}

func TestCollectMetricsCountsAndRates(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	_, err := store.RegisterDocument(ctx, registry.RegisterInput{
		Path: "prd-login-v1.md", Type: model.TypePRD, Author: "john",
		Metadata: model.Metadata{"title": "Login", "doc_type": "prd", "status": "draft", "owner": "jane"},
	})
	require.NoError(t, err)

	_, err = store.RegisterDocument(ctx, registry.RegisterInput{
		Path: "weird name.md", Type: model.TypeStory, Author: "john",
	})
	require.NoError(t, err)

	m, err := eng.CollectMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, m.TotalDocuments)
	assert.Equal(t, 1, m.DocumentsWithoutOwners)
	assert.Less(t, m.NamingComplianceRate, 100.0)
	assert.Less(t, m.FrontmatterComplianceRate, 100.0)
}

func TestCollectMetricsStaleDocuments(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	doc, err := store.RegisterDocument(ctx, registry.RegisterInput{Path: "runbook.md", Type: model.TypeRunbook, Author: "john"})
	require.NoError(t, err)
	_, err = store.UpdateDocument(ctx, doc.ID, map[string]any{"state": string(model.StateActive)})
	require.NoError(t, err)

	m, err := eng.CollectMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, m.StaleDocuments)
}

func TestCollectMetricsOrphanedSkipsDraftAndTemp(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	_, err := store.RegisterDocument(ctx, registry.RegisterInput{Path: "draft.md", Type: model.TypeStory, Author: "john"})
	require.NoError(t, err)

	doc, err := store.RegisterDocument(ctx, registry.RegisterInput{
		Path: "temp.md", Type: model.TypeStory, Author: "john",
		Metadata: model.Metadata{"5s_classification": "temp"},
	})
	require.NoError(t, err)
	_, err = store.UpdateDocument(ctx, doc.ID, map[string]any{"state": string(model.StateActive)})
	require.NoError(t, err)

	m, err := eng.CollectMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, m.OrphanedDocuments)
}

func TestGenerateHealthReportIncludesActionItems(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	_, err := store.RegisterDocument(ctx, registry.RegisterInput{Path: "x.md", Type: model.TypeStory, Author: "john"})
	require.NoError(t, err)

	report, err := eng.GenerateHealthReport(ctx)
	require.NoError(t, err)
	assert.Contains(t, report, "# Document Lifecycle Health Report")
	assert.Contains(t, report, "Action Items")
}

func TestGetActionItemsOnlyMissingOwners(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	_, err := store.RegisterDocument(ctx, registry.RegisterInput{Path: "x.md", Type: model.TypeStory, Author: "john"})
	require.NoError(t, err)

	items, err := eng.GetActionItemsOnly(ctx)
	require.NoError(t, err)
	var found bool
	for _, it := range items {
		if it.Type == "missing_owners" {
			found = true
			assert.Equal(t, "medium", it.Severity)
		}
	}
	assert.True(t, found)
}
