// Package retention implements the Retention Engine:
// policy-driven evaluation of obsolete->archive and archive->delete
// candidates, compliance-tag protection, and Markdown/CSV reporting.
package retention

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/gao-dev/lifecycle/internal/errs"
	"github.com/gao-dev/lifecycle/internal/manager"
	"github.com/gao-dev/lifecycle/internal/model"
	"github.com/gao-dev/lifecycle/internal/registry"
	"github.com/gao-dev/lifecycle/internal/telemetry"
)

// Action names used by ArchivalAction.
const (
	ActionArchive = "archive"
	ActionDelete  = "delete"
	ActionNone    = "none"
)

// ArchivalAction is a proposed or executed retention action for a
// single document.
type ArchivalAction struct {
	Document        *model.Document
	Action          string
	Reason          string
	DaysUntilAction int
}

// Engine evaluates and executes retention policies.
type Engine struct {
	store    *registry.Store
	manager  *manager.Manager
	policies map[model.DocumentType]model.RetentionPolicy
}

// LoadPolicies reads retention.yaml at path: a throwaway viper.New(),
// SetConfigFile/SetConfigType("yaml")/ReadInConfig, then manual map
// walking so error messages can cite the offending path. Missing
// entries default to -1 / false / an empty list.
func LoadPolicies(path string) (map[model.DocumentType]model.RetentionPolicy, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &errs.ConfigErrorDetail{Path: path, Msg: "retention policy file not found"}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, &errs.ConfigErrorDetail{Path: path, Msg: fmt.Sprintf("reading config: %v", err)}
	}

	raw := v.Get("retention_policies")
	if raw == nil {
		return nil, &errs.ConfigErrorDetail{Path: path, Msg: "missing 'retention_policies' key"}
	}
	rawMap, ok := raw.(map[string]any)
	if !ok {
		return nil, &errs.ConfigErrorDetail{Path: path, Msg: "'retention_policies' must be a mapping"}
	}

	policies := make(map[model.DocumentType]model.RetentionPolicy, len(rawMap))
	for docType, entryRaw := range rawMap {
		entry, ok := entryRaw.(map[string]any)
		if !ok {
			return nil, &errs.ConfigErrorDetail{Path: path, Msg: fmt.Sprintf("retention_policies.%s: expected a mapping", docType)}
		}
		policy := model.RetentionPolicy{
			DocumentType:       model.DocumentType(docType),
			ArchiveToObsolete:  intOr(entry["archive_to_obsolete"], -1),
			ObsoleteToArchive:  intOr(entry["obsolete_to_archive"], -1),
			ArchiveRetention:   intOr(entry["archive_retention"], -1),
			DeleteAfterArchive: boolOr(entry["delete_after_archive"], false),
			ComplianceTags:     stringSliceOr(entry["compliance_tags"]),
		}
		policies[model.DocumentType(docType)] = policy
	}
	return policies, nil
}

func intOr(v any, def int) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return def
	}
}

func boolOr(v any, def bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

func stringSliceOr(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// New constructs an Engine that loads retention.yaml at policiesPath
// and executes archival actions through mgr.
func New(store *registry.Store, mgr *manager.Manager, policiesPath string) (*Engine, error) {
	policies, err := LoadPolicies(policiesPath)
	if err != nil {
		return nil, err
	}
	return &Engine{store: store, manager: mgr, policies: policies}, nil
}

// GetPolicy returns the configured policy for docType, or false if none.
func (e *Engine) GetPolicy(docType model.DocumentType) (model.RetentionPolicy, bool) {
	p, ok := e.policies[docType]
	return p, ok
}

// ListPolicies returns every configured policy.
func (e *Engine) ListPolicies() []model.RetentionPolicy {
	out := make([]model.RetentionPolicy, 0, len(e.policies))
	for _, p := range e.policies {
		out = append(out, p)
	}
	return out
}

// ageSinceState returns the whole days elapsed since doc most recently
// entered state. Resolved from the
// latest transition into that state rather than modified_at, which a
// stray metadata edit would reset. Falls back to modified_at only when
// no transition row exists (e.g. a document seeded directly into the
// state without going through the state machine).
func (e *Engine) ageSinceState(ctx context.Context, doc *model.Document, state model.DocumentState) (int, error) {
	t, err := e.store.LatestTransitionInto(ctx, doc.ID, state)
	if err != nil {
		return 0, err
	}
	since := doc.ModifiedAt
	if t != nil {
		since = t.ChangedAt
	}
	return int(time.Since(since).Hours() / 24), nil
}

// evaluateArchival decides whether an obsolete document should move to
// archived.
func (e *Engine) evaluateArchival(ctx context.Context, doc *model.Document) ArchivalAction {
	policy, ok := e.policies[doc.Type]
	if !ok || policy.ObsoleteToArchive == -1 {
		return ArchivalAction{Document: doc, Action: ActionNone, Reason: "No archival policy or never archive", DaysUntilAction: -1}
	}

	ageDays, err := e.ageSinceState(ctx, doc, model.StateObsolete)
	if err != nil {
		return ArchivalAction{Document: doc, Action: ActionNone, Reason: "Invalid modified date", DaysUntilAction: -1}
	}

	if ageDays >= policy.ObsoleteToArchive {
		return ArchivalAction{
			Document: doc, Action: ActionArchive,
			Reason:          fmt.Sprintf("Obsolete for %d days (policy: %d)", ageDays, policy.ObsoleteToArchive),
			DaysUntilAction: 0,
		}
	}
	return ArchivalAction{
		Document: doc, Action: ActionNone,
		Reason:          fmt.Sprintf("Not old enough (%d/%d days)", ageDays, policy.ObsoleteToArchive),
		DaysUntilAction: policy.ObsoleteToArchive - ageDays,
	}
}

// evaluateDeletion decides whether an archived document should be
// hard-deleted, enforcing compliance-tag protection first.
func (e *Engine) evaluateDeletion(ctx context.Context, doc *model.Document) ArchivalAction {
	policy, ok := e.policies[doc.Type]
	if !ok {
		return ArchivalAction{Document: doc, Action: ActionNone, Reason: "No retention policy", DaysUntilAction: -1}
	}

	tags := doc.Metadata.Tags()
	if policy.HasComplianceTag(tags) {
		var protecting []string
		for _, t := range tags {
			for _, c := range policy.ComplianceTags {
				if t == c {
					protecting = append(protecting, t)
				}
			}
		}
		return ArchivalAction{
			Document: doc, Action: ActionNone,
			Reason:          fmt.Sprintf("Protected by compliance tags: %s", strings.Join(protecting, ", ")),
			DaysUntilAction: -1,
		}
	}

	if !policy.DeleteAfterArchive {
		return ArchivalAction{Document: doc, Action: ActionNone, Reason: "Deletion not allowed by policy", DaysUntilAction: -1}
	}
	if policy.ArchiveRetention == -1 {
		return ArchivalAction{Document: doc, Action: ActionNone, Reason: "Retention period is forever", DaysUntilAction: -1}
	}

	ageDays, err := e.ageSinceState(ctx, doc, model.StateArchived)
	if err != nil {
		return ArchivalAction{Document: doc, Action: ActionNone, Reason: "Invalid archived date", DaysUntilAction: -1}
	}

	if ageDays >= policy.ArchiveRetention {
		return ArchivalAction{
			Document: doc, Action: ActionDelete,
			Reason:          fmt.Sprintf("Archived for %d days (retention: %d)", ageDays, policy.ArchiveRetention),
			DaysUntilAction: 0,
		}
	}
	return ArchivalAction{
		Document: doc, Action: ActionNone,
		Reason:          fmt.Sprintf("Retention not expired (%d/%d days)", ageDays, policy.ArchiveRetention),
		DaysUntilAction: policy.ArchiveRetention - ageDays,
	}
}

// ArchiveObsoleteDocuments evaluates every obsolete document and, when
// dryRun is false, archives the eligible ones through the manager.
// Per-document archival failures are swallowed; the caller always sees
// the full list of intended actions.
func (e *Engine) ArchiveObsoleteDocuments(ctx context.Context, dryRun bool) ([]ArchivalAction, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "retention.ArchiveObsoleteDocuments")
	defer span.End()

	// sweepID correlates the span events this pass produces, since a
	// sweep can touch many documents across several seconds.
	sweepID := uuid.NewString()
	telemetry.AddEvent(span, "retention.sweep_started", map[string]string{"sweep_id": sweepID, "dry_run": fmt.Sprint(dryRun)})

	docs, err := e.store.GetDocumentsByState(ctx, model.StateObsolete)
	if err != nil {
		return nil, err
	}

	var actions []ArchivalAction
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return actions, err
		}
		action := e.evaluateArchival(ctx, doc)
		if action.Action != ActionArchive {
			continue
		}
		actions = append(actions, action)
		if dryRun {
			continue
		}
		if _, archErr := e.manager.ArchiveDocument(ctx, doc.ID); archErr != nil {
			telemetry.AddEvent(span, "retention.archive_failed", map[string]string{
				"sweep_id": sweepID, "document_id": fmt.Sprint(doc.ID), "error": archErr.Error(),
			})
			continue
		}
		telemetry.IncCounter(ctx, telemetry.Instruments.RetentionArchived, 1)
	}
	return actions, nil
}

// CleanupExpiredDocuments evaluates every archived document and, when
// dryRun is false, deletes the eligible ones (file best-effort, then
// the registry row). Compliance-tagged documents are never deleted.
// Per-document failures are swallowed.
func (e *Engine) CleanupExpiredDocuments(ctx context.Context, dryRun bool) ([]ArchivalAction, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "retention.CleanupExpiredDocuments")
	defer span.End()

	sweepID := uuid.NewString()
	telemetry.AddEvent(span, "retention.sweep_started", map[string]string{"sweep_id": sweepID, "dry_run": fmt.Sprint(dryRun)})

	docs, err := e.store.GetDocumentsByState(ctx, model.StateArchived)
	if err != nil {
		return nil, err
	}

	var actions []ArchivalAction
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return actions, err
		}
		action := e.evaluateDeletion(ctx, doc)
		if action.Action != ActionDelete {
			continue
		}
		actions = append(actions, action)
		if dryRun {
			continue
		}
		if delErr := e.deleteDocument(ctx, doc); delErr != nil {
			telemetry.AddEvent(span, "retention.delete_failed", map[string]string{
				"sweep_id": sweepID, "document_id": fmt.Sprint(doc.ID), "error": delErr.Error(),
			})
			continue
		}
		telemetry.IncCounter(ctx, telemetry.Instruments.RetentionDeleted, 1)
	}
	return actions, nil
}

// deleteDocument removes the file (best-effort — a missing or
// unremovable file does not block the registry row from being
// dropped) and hard-deletes the registry row.
func (e *Engine) deleteDocument(ctx context.Context, doc *model.Document) error {
	_ = os.Remove(doc.Path)
	return e.store.DeleteDocument(ctx, doc.ID, false)
}

// GenerateRetentionReport renders a retention compliance report in
// "markdown" (default) or "csv".
func (e *Engine) GenerateRetentionReport(ctx context.Context, format string) (string, error) {
	docs, err := e.store.QueryDocuments(ctx, registry.QueryFilter{})
	if err != nil {
		if format == "csv" {
			return "error,Could not query documents\n", nil
		}
		return "# Document Retention Policy Report\n\nError: Could not query documents.\n", nil
	}
	if format == "csv" {
		return e.generateCSVReport(docs), nil
	}
	return e.generateMarkdownReport(ctx, docs), nil
}

func (e *Engine) actionFor(ctx context.Context, doc *model.Document) ArchivalAction {
	switch doc.State {
	case model.StateObsolete:
		return e.evaluateArchival(ctx, doc)
	case model.StateArchived:
		return e.evaluateDeletion(ctx, doc)
	default:
		return ArchivalAction{Document: doc, Action: ActionNone, Reason: "Not obsolete or archived", DaysUntilAction: -1}
	}
}

func (e *Engine) generateMarkdownReport(ctx context.Context, docs []*model.Document) string {
	var b strings.Builder
	b.WriteString("# Document Retention Policy Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", time.Now().UTC().Format("2006-01-02 15:04:05"))

	byType := map[model.DocumentType][]*model.Document{}
	for _, d := range docs {
		byType[d.Type] = append(byType[d.Type], d)
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, string(t))
	}
	sort.Strings(types)

	totalActions := 0
	for _, t := range types {
		docType := model.DocumentType(t)
		typeDocs := byType[docType]
		fmt.Fprintf(&b, "## %s (%d documents)\n\n", strings.ToUpper(t), len(typeDocs))

		if policy, ok := e.policies[docType]; ok {
			b.WriteString("**Policy Configuration:**\n")
			fmt.Fprintf(&b, "- Obsolete to Archive: %d days %s\n", policy.ObsoleteToArchive, neverIf(policy.ObsoleteToArchive == -1, "(never)"))
			fmt.Fprintf(&b, "- Archive Retention: %d days %s\n", policy.ArchiveRetention, neverIf(policy.ArchiveRetention == -1, "(forever)"))
			fmt.Fprintf(&b, "- Delete After Archive: %s\n", yesNo(policy.DeleteAfterArchive))
			tags := "None"
			if len(policy.ComplianceTags) > 0 {
				tags = strings.Join(policy.ComplianceTags, ", ")
			}
			fmt.Fprintf(&b, "- Compliance Tags: %s\n\n", tags)
		} else {
			b.WriteString("**Policy:** No retention policy configured\n\n")
		}

		var pending []ArchivalAction
		for _, doc := range typeDocs {
			if doc.State != model.StateObsolete && doc.State != model.StateArchived {
				continue
			}
			action := e.actionFor(ctx, doc)
			if action.Action != ActionNone {
				pending = append(pending, action)
				totalActions++
			}
		}

		if len(pending) > 0 {
			b.WriteString("**Pending Actions:**\n\n")
			for _, action := range pending {
				fmt.Fprintf(&b, "- `%s`\n", action.Document.Path)
				fmt.Fprintf(&b, "  - Action: **%s**\n", strings.ToUpper(action.Action))
				fmt.Fprintf(&b, "  - Reason: %s\n", action.Reason)
				fmt.Fprintf(&b, "  - State: %s\n", action.Document.State)
				if tags := action.Document.Metadata.Tags(); len(tags) > 0 {
					fmt.Fprintf(&b, "  - Tags: %s\n", strings.Join(tags, ", "))
				}
				b.WriteString("\n")
			}
		} else {
			b.WriteString("**Status:** All documents compliant with retention policy.\n\n")
		}
		b.WriteString("---\n\n")
	}

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- Total Documents: %d\n", len(docs))
	fmt.Fprintf(&b, "- Pending Actions: %d\n", totalActions)
	fmt.Fprintf(&b, "- Document Types: %d\n", len(byType))
	return b.String()
}

func (e *Engine) generateCSVReport(docs []*model.Document) string {
	var b strings.Builder
	w := csv.NewWriter(&b)
	_ = w.Write([]string{"Path", "Type", "State", "Created", "Modified", "Action", "Reason", "Days Until Action", "Compliance Tags"})

	ctx := context.Background()
	for _, doc := range docs {
		action := e.actionFor(ctx, doc)
		_ = w.Write([]string{
			doc.Path,
			string(doc.Type),
			string(doc.State),
			doc.CreatedAt.Format(time.RFC3339),
			doc.ModifiedAt.Format(time.RFC3339),
			action.Action,
			action.Reason,
			fmt.Sprint(action.DaysUntilAction),
			strings.Join(doc.Metadata.Tags(), ", "),
		})
	}
	w.Flush()
	return b.String()
}

func neverIf(cond bool, label string) string {
	if cond {
		return label
	}
	return ""
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
