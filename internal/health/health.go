// Package health implements the Health Metrics component: aggregate
// KPIs over the document population (staleness,
// orphan rate, ownership/compliance rates, age statistics) and the
// Markdown/structured action-item reports derived from them.
package health

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gao-dev/lifecycle/internal/governance"
	"github.com/gao-dev/lifecycle/internal/model"
	"github.com/gao-dev/lifecycle/internal/naming"
	"github.com/gao-dev/lifecycle/internal/registry"
	"github.com/gao-dev/lifecycle/internal/telemetry"
)

// requiredFrontmatterFields lists the fields a document's frontmatter
// must carry to count as complete.
var requiredFrontmatterFields = []string{"title", "doc_type", "status", "owner"}

// Metrics is the full snapshot collected by Engine.CollectMetrics.
type Metrics struct {
	TotalDocuments            int
	DocumentsByState          map[model.DocumentState]int
	DocumentsByType           map[model.DocumentType]int
	StaleDocuments            int
	DocumentsNeedingReview    int
	OrphanedDocuments         int
	DocumentsWithoutOwners    int
	AvgDocumentAgeDays        float64
	OldestDocumentDays        int
	NewestDocumentDays        int
	NamingComplianceRate      float64
	FrontmatterComplianceRate float64
}

// ActionItem is a structured, machine-consumable health finding.
type ActionItem struct {
	Type            string
	Count           int
	Severity        string
	Description     string
	ResolutionSteps []string
}

// Engine collects document health metrics against a registry, reusing
// governance for review cadence and naming for filename compliance.
type Engine struct {
	store *registry.Store
	gov   *governance.Engine
}

// New constructs an Engine.
func New(store *registry.Store, gov *governance.Engine) *Engine {
	return &Engine{store: store, gov: gov}
}

// CollectMetrics gathers every KPI in one pass. The independent
// sub-counts (staleness, orphan detection, compliance rates) run
// concurrently via errgroup since each walks the full document set or
// issues its own relationship queries.
func (e *Engine) CollectMetrics(ctx context.Context) (*Metrics, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "health.CollectMetrics")
	defer span.End()

	allDocs, err := e.store.QueryDocuments(ctx, registry.QueryFilter{})
	if err != nil {
		return nil, err
	}

	m := &Metrics{
		TotalDocuments:   len(allDocs),
		DocumentsByState: countByState(allDocs),
		DocumentsByType:  countByType(allDocs),
	}
	m.DocumentsWithoutOwners = countWithoutOwners(allDocs)
	m.AvgDocumentAgeDays = avgAge(allDocs)
	m.OldestDocumentDays = oldestAge(allDocs)
	m.NewestDocumentDays = newestAge(allDocs)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := e.countStaleDocuments(gctx)
		m.StaleDocuments = n
		return err
	})
	g.Go(func() error {
		due, err := e.gov.CheckReviewDue(gctx, "", true)
		if err != nil {
			return err
		}
		m.DocumentsNeedingReview = len(due)
		return nil
	})
	g.Go(func() error {
		n, err := e.countOrphaned(gctx, allDocs)
		m.OrphanedDocuments = n
		return err
	})
	g.Go(func() error {
		m.NamingComplianceRate = namingComplianceRate(allDocs)
		return nil
	})
	g.Go(func() error {
		m.FrontmatterComplianceRate = frontmatterComplianceRate(allDocs)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	telemetry.AddEvent(span, "health.snapshot", map[string]string{
		"total_documents": fmt.Sprint(m.TotalDocuments),
		"stale_documents": fmt.Sprint(m.StaleDocuments),
		"orphaned":        fmt.Sprint(m.OrphanedDocuments),
	})

	return m, nil
}

func countByState(docs []*model.Document) map[model.DocumentState]int {
	out := map[model.DocumentState]int{}
	for _, d := range docs {
		out[d.State]++
	}
	return out
}

func countByType(docs []*model.Document) map[model.DocumentType]int {
	out := map[model.DocumentType]int{}
	for _, d := range docs {
		out[d.Type]++
	}
	return out
}

func countWithoutOwners(docs []*model.Document) int {
	n := 0
	for _, d := range docs {
		if d.Metadata.Owner() == "" {
			n++
		}
	}
	return n
}

func avgAge(docs []*model.Document) float64 {
	if len(docs) == 0 {
		return 0
	}
	now := time.Now()
	total := 0
	for _, d := range docs {
		total += int(now.Sub(d.CreatedAt).Hours() / 24)
	}
	return float64(total) / float64(len(docs))
}

func oldestAge(docs []*model.Document) int {
	if len(docs) == 0 {
		return 0
	}
	oldest := docs[0]
	for _, d := range docs[1:] {
		if d.CreatedAt.Before(oldest.CreatedAt) {
			oldest = d
		}
	}
	return int(time.Since(oldest.CreatedAt).Hours() / 24)
}

func newestAge(docs []*model.Document) int {
	if len(docs) == 0 {
		return 0
	}
	newest := docs[0]
	for _, d := range docs[1:] {
		if d.CreatedAt.After(newest.CreatedAt) {
			newest = d
		}
	}
	return int(time.Since(newest.CreatedAt).Hours() / 24)
}

// countStaleDocuments counts active documents last modified longer ago
// than their type's review cadence. A cadence of -1 (never review)
// exempts the type.
func (e *Engine) countStaleDocuments(ctx context.Context) (int, error) {
	active, err := e.store.QueryDocuments(ctx, registry.QueryFilter{State: model.StateActive})
	if err != nil {
		return 0, err
	}
	now := time.Now()
	stale := 0
	for _, doc := range active {
		cadence := e.gov.CadenceFor(doc.Type)
		if cadence == -1 {
			continue
		}
		ageDays := int(now.Sub(doc.ModifiedAt).Hours() / 24)
		if ageDays > cadence {
			stale++
		}
	}
	return stale, nil
}

// countOrphaned counts non-draft, non-temp documents with neither
// parent nor child relationships.
func (e *Engine) countOrphaned(ctx context.Context, docs []*model.Document) (int, error) {
	orphaned := 0
	for _, doc := range docs {
		if doc.Metadata.Classification() == model.ClassTemp || doc.State == model.StateDraft {
			continue
		}
		parents, err := e.store.GetParentDocuments(ctx, doc.ID, "")
		if err != nil {
			return 0, err
		}
		children, err := e.store.GetChildDocuments(ctx, doc.ID, "")
		if err != nil {
			return 0, err
		}
		if len(parents) == 0 && len(children) == 0 {
			orphaned++
		}
	}
	return orphaned, nil
}

func namingComplianceRate(docs []*model.Document) float64 {
	if len(docs) == 0 {
		return 100.0
	}
	compliant := 0
	for _, doc := range docs {
		if ok, _ := naming.Validate(filepath.Base(doc.Path)); ok {
			compliant++
		}
	}
	return float64(compliant) / float64(len(docs)) * 100
}

func frontmatterComplianceRate(docs []*model.Document) float64 {
	if len(docs) == 0 {
		return 100.0
	}
	compliant := 0
	for _, doc := range docs {
		hasAll := true
		for _, field := range requiredFrontmatterFields {
			if _, ok := doc.Metadata[field]; !ok {
				hasAll = false
				break
			}
		}
		if hasAll {
			compliant++
		}
	}
	return float64(compliant) / float64(len(docs)) * 100
}

// GenerateHealthReport renders the full Markdown health report:
// summary table, state/type breakdowns, and action items.
func (e *Engine) GenerateHealthReport(ctx context.Context) (string, error) {
	m, err := e.CollectMetrics(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("# Document Lifecycle Health Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n---\n\n## Summary Metrics\n\n", time.Now().UTC().Format("2006-01-02 15:04:05"))
	b.WriteString("| Metric | Value |\n|--------|-------|\n")
	fmt.Fprintf(&b, "| **Total Documents** | %d |\n", m.TotalDocuments)
	fmt.Fprintf(&b, "| **Stale Documents** | %d (%.1f%%) |\n", m.StaleDocuments, percentOf(m.StaleDocuments, m.TotalDocuments))
	fmt.Fprintf(&b, "| **Needs Review** | %d |\n", m.DocumentsNeedingReview)
	fmt.Fprintf(&b, "| **Orphaned Documents** | %d |\n", m.OrphanedDocuments)
	fmt.Fprintf(&b, "| **Without Owners** | %d |\n", m.DocumentsWithoutOwners)
	fmt.Fprintf(&b, "| **Avg Document Age** | %.1f days |\n", m.AvgDocumentAgeDays)
	fmt.Fprintf(&b, "| **Naming Compliance** | %.1f%% |\n", m.NamingComplianceRate)
	fmt.Fprintf(&b, "| **Frontmatter Compliance** | %.1f%% |\n", m.FrontmatterComplianceRate)

	b.WriteString("\n---\n\n## Documents by State\n\n| State | Count |\n|-------|-------|\n")
	for _, state := range sortedStateKeys(m.DocumentsByState) {
		fmt.Fprintf(&b, "| %s | %d |\n", state, m.DocumentsByState[state])
	}

	b.WriteString("\n---\n\n## Documents by Type\n\n| Type | Count |\n|------|-------|\n")
	for _, t := range sortedTypeKeys(m.DocumentsByType) {
		fmt.Fprintf(&b, "| %s | %d |\n", t, m.DocumentsByType[t])
	}

	b.WriteString("\n---\n\n## Action Items\n\n")
	items := actionLines(m)
	if len(items) > 0 {
		b.WriteString(strings.Join(items, "\n"))
		b.WriteString("\n")
	} else {
		b.WriteString("No action items - system is healthy.\n")
	}
	b.WriteString("\n---\n\n*Report generated by the document health metrics engine*\n")

	return b.String(), nil
}

func percentOf(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func sortedStateKeys(m map[model.DocumentState]int) []model.DocumentState {
	out := make([]model.DocumentState, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedTypeKeys(m map[model.DocumentType]int) []model.DocumentType {
	out := make([]model.DocumentType, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func actionLines(m *Metrics) []string {
	var lines []string
	if m.StaleDocuments > 0 {
		lines = append(lines, fmt.Sprintf("- [ ] **Review %d stale documents** (not updated within review cadence)", m.StaleDocuments))
	}
	if m.DocumentsNeedingReview > 0 {
		lines = append(lines, fmt.Sprintf("- [ ] **Review %d documents past due date**", m.DocumentsNeedingReview))
	}
	if m.OrphanedDocuments > 0 {
		lines = append(lines, fmt.Sprintf("- [ ] **Verify %d orphaned documents** (no relationships)", m.OrphanedDocuments))
	}
	if m.DocumentsWithoutOwners > 0 {
		lines = append(lines, fmt.Sprintf("- [ ] **Assign owners to %d documents**", m.DocumentsWithoutOwners))
	}
	if m.NamingComplianceRate < 100 {
		nonCompliant := int(float64(m.TotalDocuments) * (100 - m.NamingComplianceRate) / 100)
		lines = append(lines, fmt.Sprintf("- [ ] **Rename %d non-compliant documents** to follow naming convention", nonCompliant))
	}
	if m.FrontmatterComplianceRate < 100 {
		incomplete := int(float64(m.TotalDocuments) * (100 - m.FrontmatterComplianceRate) / 100)
		lines = append(lines, fmt.Sprintf("- [ ] **Complete frontmatter for %d documents** (missing required fields)", incomplete))
	}
	return lines
}

// GetActionItemsOnly returns the same findings as GenerateHealthReport
// in structured form, for programmatic consumption (e.g. a CLI's
// --json output).
func (e *Engine) GetActionItemsOnly(ctx context.Context) ([]ActionItem, error) {
	m, err := e.CollectMetrics(ctx)
	if err != nil {
		return nil, err
	}

	var items []ActionItem
	if m.StaleDocuments > 0 {
		items = append(items, ActionItem{
			Type: "stale_documents", Count: m.StaleDocuments, Severity: "medium",
			Description: "Documents not updated within review cadence",
			ResolutionSteps: []string{
				"Identify stale documents using the governance engine",
				"Review and update documents",
				"Mark as reviewed or mark as obsolete if no longer needed",
			},
		})
	}
	if m.DocumentsNeedingReview > 0 {
		items = append(items, ActionItem{
			Type: "overdue_reviews", Count: m.DocumentsNeedingReview, Severity: "high",
			Description: "Documents past their review due date",
			ResolutionSteps: []string{
				"List overdue documents with CheckReviewDue(overdueOnly=true)",
				"Review each document",
				"Record the review with MarkReviewed",
			},
		})
	}
	if m.OrphanedDocuments > 0 {
		items = append(items, ActionItem{
			Type: "orphaned_documents", Count: m.OrphanedDocuments, Severity: "low",
			Description: "Documents with no relationships to other documents",
			ResolutionSteps: []string{
				"Identify orphaned documents",
				"Add relationships to parent/child documents",
				"Or mark as obsolete if no longer relevant",
			},
		})
	}
	if m.DocumentsWithoutOwners > 0 {
		items = append(items, ActionItem{
			Type: "missing_owners", Count: m.DocumentsWithoutOwners, Severity: "medium",
			Description: "Documents without assigned owners",
			ResolutionSteps: []string{
				"Review governance configuration",
				"Assign owners based on the RACI matrix",
				"Update document frontmatter",
			},
		})
	}
	if m.NamingComplianceRate < 100 {
		nonCompliant := int(float64(m.TotalDocuments) * (100 - m.NamingComplianceRate) / 100)
		items = append(items, ActionItem{
			Type: "naming_non_compliance", Count: nonCompliant, Severity: "low",
			Description: "Documents not following naming convention",
			ResolutionSteps: []string{
				"Identify non-compliant filenames",
				"Rename to follow convention: {DocType}_{subject}_{date}_v{version}.{ext}",
				"Update references in other documents",
			},
		})
	}
	if m.FrontmatterComplianceRate < 100 {
		incomplete := int(float64(m.TotalDocuments) * (100 - m.FrontmatterComplianceRate) / 100)
		items = append(items, ActionItem{
			Type: "frontmatter_incomplete", Count: incomplete, Severity: "medium",
			Description: "Documents missing required frontmatter fields",
			ResolutionSteps: []string{
				"Identify documents with incomplete frontmatter",
				"Add missing fields: title, doc_type, status, owner",
				"Validate using naming convention tools",
			},
		})
	}
	return items, nil
}
