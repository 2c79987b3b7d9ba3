// Package governance implements the Governance Engine:
// RACI-derived ownership assignment, review cadence tracking, review
// recording, and compliance reporting.
package governance

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gao-dev/lifecycle/internal/errs"
	"github.com/gao-dev/lifecycle/internal/model"
	"github.com/gao-dev/lifecycle/internal/registry"
)

const dateLayout = "2006-01-02"

// Ownership is one document_governance.ownership entry: who is
// approved to own, and who is assigned to review, documents of a type.
type Ownership struct {
	ApprovedBy string `yaml:"approved_by"`
	ReviewedBy string `yaml:"reviewed_by"`
}

// Permission gates an action (archive/delete) to a set of roles.
type Permission struct {
	AllowedRoles []string `yaml:"allowed_roles"`
}

// Config is the parsed shape of governance.yaml's document_governance
// key.
type Config struct {
	Ownership       map[string]Ownership  `yaml:"ownership"`
	ReviewCadence   map[string]int        `yaml:"review_cadence"`
	PriorityMapping map[string]int        `yaml:"priority_mapping"`
	Permissions     map[string]Permission `yaml:"permissions"`
}

type configFile struct {
	DocumentGovernance Config `yaml:"document_governance"`
}

var defaultPriorityMapping = map[string]int{"P0": 1, "P1": 2, "P2": 3, "P3": 4, "default": 5}

// LoadConfig reads governance.yaml at path using gopkg.in/yaml.v3, the
// same library the frontmatter loader uses.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &errs.ConfigErrorDetail{Path: path, Msg: "governance config not found"}
	}

	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return Config{}, &errs.ConfigErrorDetail{Path: path, Msg: fmt.Sprintf("invalid YAML: %v", err)}
	}
	if cf.DocumentGovernance.Ownership == nil && cf.DocumentGovernance.ReviewCadence == nil {
		return Config{}, &errs.ConfigErrorDetail{Path: path, Msg: "missing 'document_governance' key"}
	}
	if cf.DocumentGovernance.PriorityMapping == nil {
		cf.DocumentGovernance.PriorityMapping = defaultPriorityMapping
	}
	return cf.DocumentGovernance, nil
}

// Engine enforces ownership, review cadence, and archive/delete
// permission rules against a registry.
type Engine struct {
	store  *registry.Store
	config Config
}

// New constructs an Engine that loads governance.yaml at configPath.
func New(store *registry.Store, configPath string) (*Engine, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return &Engine{store: store, config: cfg}, nil
}

// CadenceFor returns the configured review cadence in days for
// docType, and 90 (a conservative default) if unconfigured. -1 means
// never review.
func (e *Engine) CadenceFor(docType model.DocumentType) int {
	if days, ok := e.config.ReviewCadence[string(docType)]; ok {
		return days
	}
	return 90
}

// AutoAssignOwnership applies the RACI matrix to a freshly registered
// document: owner/reviewer come from the type's ownership entry, and
// an initial review_due_date is computed from its cadence. A type with
// no RACI entry is left untouched as a silent
// no-op.
func (e *Engine) AutoAssignOwnership(ctx context.Context, doc *model.Document) error {
	ownership, ok := e.config.Ownership[string(doc.Type)]
	if !ok {
		return nil
	}

	var reviewDue *string
	cadence := e.CadenceFor(doc.Type)
	if cadence != -1 {
		due := time.Now().AddDate(0, 0, cadence).Format(dateLayout)
		reviewDue = &due
	}

	return e.store.WithTx(ctx, func(tx *sql.Tx) error {
		return e.store.SetReviewFieldsTx(tx, doc.ID, ownership.ApprovedBy, ownership.ReviewedBy, reviewDue)
	})
}

// GetOwnedDocuments returns every document owned by owner.
func (e *Engine) GetOwnedDocuments(ctx context.Context, owner string) ([]*model.Document, error) {
	return e.store.QueryDocuments(ctx, registry.QueryFilter{Owner: owner})
}

// GetUnownedDocuments returns every document with no owner assigned.
func (e *Engine) GetUnownedDocuments(ctx context.Context) ([]*model.Document, error) {
	docs, err := e.store.QueryDocuments(ctx, registry.QueryFilter{})
	if err != nil {
		return nil, err
	}
	var out []*model.Document
	for _, d := range docs {
		if d.Owner == "" {
			out = append(out, d)
		}
	}
	return out, nil
}

// GetReviewQueue returns documents assigned to reviewer whose review
// is due now or within the next 7 days.
func (e *Engine) GetReviewQueue(ctx context.Context, reviewer string) ([]*model.Document, error) {
	docs, err := e.store.QueryDocuments(ctx, registry.QueryFilter{})
	if err != nil {
		return nil, err
	}
	window := time.Now().AddDate(0, 0, 7)

	var out []*model.Document
	for _, d := range docs {
		if d.Reviewer != reviewer || d.ReviewDueDate == nil {
			continue
		}
		if !d.ReviewDueDate.After(window) {
			out = append(out, d)
		}
	}
	return out, nil
}

// CheckReviewDue returns documents needing review, optionally narrowed
// to owner, sorted by due date (earliest first). When overdueOnly is
// false, documents due within the next 7 days are included alongside
// overdue ones.
func (e *Engine) CheckReviewDue(ctx context.Context, owner string, overdueOnly bool) ([]*model.Document, error) {
	docs, err := e.store.QueryDocuments(ctx, registry.QueryFilter{Owner: owner})
	if err != nil {
		return nil, err
	}
	today := time.Now()
	window := today.AddDate(0, 0, 7)

	var out []*model.Document
	for _, d := range docs {
		if d.ReviewDueDate == nil {
			continue
		}
		if overdueOnly {
			if d.ReviewDueDate.Before(truncateDay(today)) {
				out = append(out, d)
			}
		} else if !d.ReviewDueDate.After(window) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReviewDueDate.Before(*out[j].ReviewDueDate) })
	return out, nil
}

// MarkReviewed records a completed review and advances review_due_date
// by the document type's cadence (never, if cadence is -1).
func (e *Engine) MarkReviewed(ctx context.Context, docID int64, reviewer, notes string) (*model.Review, error) {
	doc, err := e.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}

	cadence := e.CadenceFor(doc.Type)
	var nextDue *time.Time
	if cadence != -1 {
		t := time.Now().AddDate(0, 0, cadence)
		nextDue = &t
	}

	review := model.Review{DocumentID: docID, Reviewer: reviewer, Notes: notes, NextReviewDue: nextDue}
	var recorded *model.Review
	err = e.store.WithTx(ctx, func(tx *sql.Tx) error {
		r, err := registry.AppendReviewTx(tx, review)
		if err != nil {
			return err
		}
		recorded = r
		if nextDue != nil {
			due := nextDue.Format(dateLayout)
			return e.store.SetReviewDueDateTx(tx, docID, &due)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recorded, nil
}

// GetReviewHistory returns every recorded review for docID, most
// recent first.
func (e *Engine) GetReviewHistory(ctx context.Context, docID int64) ([]*model.Review, error) {
	if _, err := e.store.GetDocument(ctx, docID); err != nil {
		return nil, err
	}
	return e.store.GetReviewHistory(ctx, docID)
}

// CanArchive reports whether role is permitted to archive documents
// under the configured archive permission.
func (e *Engine) CanArchive(role string) bool {
	return roleAllowed(e.config.Permissions["archive"], role)
}

// CanDelete reports whether role is permitted to delete documents
// under the configured delete permission.
func (e *Engine) CanDelete(role string) bool {
	return roleAllowed(e.config.Permissions["delete"], role)
}

func roleAllowed(p Permission, role string) bool {
	for _, r := range p.AllowedRoles {
		if r == role {
			return true
		}
	}
	return false
}

func (e *Engine) priorityValue(doc *model.Document) int {
	priority := doc.Metadata.Priority()
	if priority == "" {
		priority = "default"
	}
	if v, ok := e.config.PriorityMapping[priority]; ok {
		return v
	}
	return 5
}

func isOverdue(doc *model.Document) bool {
	return doc.ReviewDueDate != nil && doc.ReviewDueDate.Before(truncateDay(time.Now()))
}

func daysOverdue(doc *model.Document) int {
	if !isOverdue(doc) {
		return 0
	}
	days := int(truncateDay(time.Now()).Sub(truncateDay(*doc.ReviewDueDate)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// GenerateGovernanceReport renders a governance compliance report in
// "markdown" (default) or "csv".
func (e *Engine) GenerateGovernanceReport(ctx context.Context, format string) (string, error) {
	if format == "csv" {
		return e.generateCSVReport(ctx)
	}
	return e.generateMarkdownReport(ctx)
}

func (e *Engine) generateMarkdownReport(ctx context.Context) (string, error) {
	var b strings.Builder
	b.WriteString("# Document Governance Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", time.Now().UTC().Format("2006-01-02 15:04:05"))

	reviewDue, err := e.CheckReviewDue(ctx, "", false)
	if err != nil {
		return "", err
	}
	var overdue []*model.Document
	for _, d := range reviewDue {
		if isOverdue(d) {
			overdue = append(overdue, d)
		}
	}

	b.WriteString("## Review Status\n\n")
	fmt.Fprintf(&b, "- **Overdue Reviews**: %d\n", len(overdue))
	fmt.Fprintf(&b, "- **Due Within 7 Days**: %d\n", len(reviewDue)-len(overdue))
	fmt.Fprintf(&b, "- **Total Needing Review**: %d\n\n", len(reviewDue))

	if len(overdue) > 0 {
		sort.SliceStable(overdue, func(i, j int) bool {
			pi, pj := e.priorityValue(overdue[i]), e.priorityValue(overdue[j])
			if pi != pj {
				return pi < pj
			}
			return daysOverdue(overdue[i]) > daysOverdue(overdue[j])
		})

		b.WriteString("### Overdue Reviews\n\n")
		b.WriteString("| Document | Type | Owner | Due Date | Days Overdue | Priority |\n")
		b.WriteString("|----------|------|-------|----------|--------------|----------|\n")
		for _, doc := range overdue {
			priority := doc.Metadata.Priority()
			if priority == "" {
				priority = "N/A"
			}
			owner := doc.Owner
			if owner == "" {
				owner = "N/A"
			}
			due := "N/A"
			if doc.ReviewDueDate != nil {
				due = doc.ReviewDueDate.Format(dateLayout)
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %d | %s |\n",
				doc.Path, doc.Type, owner, due, daysOverdue(doc), priority)
		}
		b.WriteString("\n")
	}

	allDocs, err := e.store.QueryDocuments(ctx, registry.QueryFilter{})
	if err != nil {
		return "", err
	}
	var unowned []*model.Document
	for _, d := range allDocs {
		if d.Owner == "" {
			unowned = append(unowned, d)
		}
	}
	if len(unowned) > 0 {
		fmt.Fprintf(&b, "### Documents Without Owners (%d)\n\n", len(unowned))
		for _, d := range unowned {
			fmt.Fprintf(&b, "- %s (%s)\n", d.Path, d.Type)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Review Statistics by Document Type\n\n")
	b.WriteString("| Document Type | Total | With Owner | Reviewed | Due Soon |\n")
	b.WriteString("|---------------|-------|------------|----------|----------|\n")

	type stat struct{ total, withOwner, reviewed, dueSoon int }
	stats := map[string]*stat{}
	dueSet := make(map[int64]bool, len(reviewDue))
	for _, d := range reviewDue {
		dueSet[d.ID] = true
	}
	for _, doc := range allDocs {
		s, ok := stats[string(doc.Type)]
		if !ok {
			s = &stat{}
			stats[string(doc.Type)] = s
		}
		s.total++
		if doc.Owner != "" {
			s.withOwner++
		}
		if dueSet[doc.ID] {
			s.dueSoon++
		}
		reviews, err := e.store.GetReviewHistory(ctx, doc.ID)
		if err == nil && len(reviews) > 0 {
			s.reviewed++
		}
	}
	types := make([]string, 0, len(stats))
	for t := range stats {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		s := stats[t]
		fmt.Fprintf(&b, "| %s | %d | %d | %d | %d |\n", t, s.total, s.withOwner, s.reviewed, s.dueSoon)
	}
	b.WriteString("\n")

	return b.String(), nil
}

func (e *Engine) generateCSVReport(ctx context.Context) (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)
	_ = w.Write([]string{
		"Document Path", "Type", "State", "Owner", "Reviewer",
		"Review Due Date", "Days Overdue", "Priority", "Last Reviewed", "Review Count",
	})

	reviewDue, err := e.CheckReviewDue(ctx, "", false)
	if err != nil {
		return "", err
	}
	for _, doc := range reviewDue {
		reviews, err := e.store.GetReviewHistory(ctx, doc.ID)
		if err != nil {
			return "", err
		}
		lastReviewed := "Never"
		if len(reviews) > 0 {
			lastReviewed = reviews[0].ReviewedAt.Format("2006-01-02 15:04:05")
		}
		priority := doc.Metadata.Priority()
		if priority == "" {
			priority = "N/A"
		}
		owner := doc.Owner
		if owner == "" {
			owner = "N/A"
		}
		reviewer := doc.Reviewer
		if reviewer == "" {
			reviewer = "N/A"
		}
		due := "N/A"
		if doc.ReviewDueDate != nil {
			due = doc.ReviewDueDate.Format(dateLayout)
		}
		_ = w.Write([]string{
			doc.Path, string(doc.Type), string(doc.State), owner, reviewer,
			due, fmt.Sprint(daysOverdue(doc)), priority, lastReviewed, fmt.Sprint(len(reviews)),
		})
	}
	w.Flush()
	return b.String(), nil
}
