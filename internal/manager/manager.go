// Package manager implements the Lifecycle Manager orchestrator:
// registration with metadata extraction and
// relationship inference, transition delegation, lineage traversal,
// and archival file moves.
package manager

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/gao-dev/lifecycle/internal/errs"
	"github.com/gao-dev/lifecycle/internal/frontmatter"
	"github.com/gao-dev/lifecycle/internal/model"
	"github.com/gao-dev/lifecycle/internal/registry"
	"github.com/gao-dev/lifecycle/internal/statemachine"
	"github.com/gao-dev/lifecycle/internal/telemetry"
)

// Manager orchestrates document registration, transitions, lineage
// queries, and archival against a registry and state machine.
type Manager struct {
	store      *registry.Store
	sm         *statemachine.StateMachine
	archiveDir string
}

// New constructs a Manager. archiveDir is created (with parents) if it
// does not already exist.
func New(store *registry.Store, sm *statemachine.StateMachine, archiveDir string) (*Manager, error) {
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return nil, fmt.Errorf("manager: creating archive dir %s: %w", archiveDir, err)
	}
	return &Manager{store: store, sm: sm, archiveDir: archiveDir}, nil
}

// path-hint extraction patterns, case-insensitive. featurePattern takes
// the first "features/*" segment encountered left-to-right; deeper
// nested features/ segments are not re-examined.
var (
	featurePattern = regexp.MustCompile(`(?i)features[/\\]([^/\\]+)`)
	epicPattern    = regexp.MustCompile(`(?i)epic[-_](\d+)`)
	storyPattern   = regexp.MustCompile(`(?i)story[-_](\d+[._]\d+)`)
)

// extractPathMetadata extracts feature/epic/story hints from a file
// path, as raw values ready to merge into a metadata bag.
func extractPathMetadata(path string) map[string]any {
	out := map[string]any{}
	if m := featurePattern.FindStringSubmatch(path); m != nil {
		out["feature"] = m[1]
	}
	if m := epicPattern.FindStringSubmatch(path); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			out["epic"] = n
		}
	}
	if m := storyPattern.FindStringSubmatch(path); m != nil {
		out["story"] = strings.ReplaceAll(m[1], "_", ".")
	}
	return out
}

// mergeMetadata combines path-derived, frontmatter, and caller-supplied
// metadata with the precedence caller-supplied > frontmatter >
// path-derived.
func mergeMetadata(pathMeta, frontmatterMeta, callerMeta map[string]any) model.Metadata {
	merged := model.Metadata{}
	for k, v := range pathMeta {
		merged[k] = v
	}
	for k, v := range frontmatterMeta {
		merged[k] = v
	}
	for k, v := range callerMeta {
		merged[k] = v
	}
	return merged
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func intField(m map[string]any, key string) *int {
	v, ok := m[key]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case int:
		n := t
		return &n
	case int64:
		n := int(t)
		return &n
	case float64:
		n := int(t)
		return &n
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return &n
		}
	}
	return nil
}

func normalizeStory(raw string) string {
	return strings.ReplaceAll(raw, "_", ".")
}

// RegisterDocument extracts frontmatter and path hints, computes the
// content hash, merges metadata, registers the document, and infers
// relationships from metadata.related_docs.
func (m *Manager) RegisterDocument(ctx context.Context, path string, docType model.DocumentType, author string, callerMetadata model.Metadata) (*model.Document, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "manager.RegisterDocument")
	defer span.End()

	var content string
	if b, err := os.ReadFile(path); err == nil {
		content = string(b)
	}
	frontmatterFields, _ := frontmatter.Extract(content)
	pathFields := extractPathMetadata(path)

	merged := mergeMetadata(pathFields, frontmatterFields, map[string]any(callerMetadata))

	contentHash, err := registry.HashFile(path)
	if err != nil {
		contentHash = ""
	}
	if contentHash != "" {
		merged["content_hash"] = contentHash
	}

	in := registry.RegisterInput{
		Path:        path,
		Type:        docType,
		Author:      author,
		Owner:       stringField(merged, "owner"),
		Reviewer:    stringField(merged, "reviewer"),
		Feature:     stringField(merged, "feature"),
		Epic:        intField(merged, "epic"),
		Story:       normalizeStory(stringField(merged, "story")),
		ContentHash: contentHash,
		Metadata:    merged,
	}

	doc, err := m.store.RegisterDocument(ctx, in)
	if err != nil {
		return nil, err
	}

	if related := doc.Metadata.RelatedDocs(); len(related) > 0 {
		m.createRelationships(ctx, doc, related)
	}
	return doc, nil
}

// relationshipInference maps a (parent type, child type) pair to the
// relationship type inferred for it during registration.
var relationshipInference = map[[2]model.DocumentType]model.RelationshipType{
	{model.TypePRD, model.TypeArchitecture}:   model.RelDerivedFrom,
	{model.TypeArchitecture, model.TypeEpic}:  model.RelDerivedFrom,
	{model.TypeArchitecture, model.TypeStory}: model.RelDerivedFrom,
	{model.TypeEpic, model.TypeStory}:         model.RelImplements,
	{model.TypeStory, model.TypeRunbook}:      model.RelImplements,
	{model.TypeTestReport, model.TypeStory}:   model.RelTests,
	{model.TypeQAReport, model.TypeStory}:     model.RelTests,
}

func inferRelationshipType(parentType, childType model.DocumentType) model.RelationshipType {
	if t, ok := relationshipInference[[2]model.DocumentType{parentType, childType}]; ok {
		return t
	}
	return model.RelReferences
}

// createRelationships resolves related_docs paths to existing
// documents and creates inferred edges, silently skipping paths that
// don't resolve or edges that already exist.
func (m *Manager) createRelationships(ctx context.Context, doc *model.Document, relatedPaths []string) {
	for _, p := range relatedPaths {
		related, err := m.store.GetDocumentByPath(ctx, p)
		if err != nil || related == nil {
			continue
		}
		relType := inferRelationshipType(related.Type, doc.Type)
		_, _ = m.store.AddRelationship(ctx, related.ID, doc.ID, relType)
	}
}

// TransitionState delegates to the state machine.
func (m *Manager) TransitionState(ctx context.Context, docID int64, toState model.DocumentState, reason, changedBy string) (*model.Document, error) {
	return m.sm.Transition(ctx, docID, toState, reason, changedBy)
}

// GetCurrentDocument returns the active document of docType (and
// optional feature), or nil if none exists.
func (m *Manager) GetCurrentDocument(ctx context.Context, docType model.DocumentType, feature string) (*model.Document, error) {
	return m.store.GetActiveDocument(ctx, docType, feature)
}

// QueryDocuments delegates to the registry's filter query.
func (m *Manager) QueryDocuments(ctx context.Context, f registry.QueryFilter) ([]*model.Document, error) {
	return m.store.QueryDocuments(ctx, f)
}

// GetDocumentLineage returns (ancestors, descendants) for id. Ancestors
// walk one parent per step (first parent wins) to the root, stopping
// on cycles via a visited set; descendants are a depth-first walk over
// the child graph with the same cycle protection. The two traversals
// run concurrently since neither depends on the other's result.
func (m *Manager) GetDocumentLineage(ctx context.Context, id int64) (ancestors, descendants []*model.Document, err error) {
	ctx, span := telemetry.Tracer.Start(ctx, "manager.GetDocumentLineage")
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := m.walkAncestors(gctx, id)
		ancestors = a
		return err
	})
	g.Go(func() error {
		d, err := m.walkDescendants(gctx, id)
		descendants = d
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return ancestors, descendants, nil
}

func (m *Manager) walkAncestors(ctx context.Context, id int64) ([]*model.Document, error) {
	var out []*model.Document
	visited := map[int64]bool{}
	current := id
	for current != 0 && !visited[current] {
		visited[current] = true
		parents, err := m.store.GetParentDocuments(ctx, current, "")
		if err != nil {
			return nil, err
		}
		if len(parents) == 0 {
			break
		}
		out = append(out, parents[0])
		current = parents[0].ID
	}
	return out, nil
}

func (m *Manager) walkDescendants(ctx context.Context, id int64) ([]*model.Document, error) {
	visited := map[int64]bool{}
	return m.descendantsRecursive(ctx, id, visited)
}

func (m *Manager) descendantsRecursive(ctx context.Context, id int64, visited map[int64]bool) ([]*model.Document, error) {
	if visited[id] {
		return nil, nil
	}
	visited[id] = true

	children, err := m.store.GetChildDocuments(ctx, id, "")
	if err != nil {
		return nil, err
	}
	out := make([]*model.Document, len(children))
	copy(out, children)

	for _, child := range children {
		more, err := m.descendantsRecursive(ctx, child.ID, visited)
		if err != nil {
			return nil, err
		}
		out = append(out, more...)
	}
	return out, nil
}

// archiveTargetPath determines where a document's file lands under the
// archive root: relative paths preserve their structure under the
// root, absolute paths flatten to basename.
func (m *Manager) archiveTargetPath(docPath string) string {
	if filepath.IsAbs(docPath) {
		return filepath.Join(m.archiveDir, filepath.Base(docPath))
	}
	return filepath.Join(m.archiveDir, docPath)
}

// moveFile relocates src to dst, preferring a rename and falling back
// to copy-then-unlink for cross-filesystem or locked cases. A failure
// to unlink the source after a successful copy is tolerated: the
// registry update proceeds regardless, at the cost of a duplicate on
// disk until a later cleanup.
func moveFile(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	_ = os.Remove(src)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// ArchiveDocument moves the document's file under the archive root,
// transitions it to archived, and updates its recorded path.
func (m *Manager) ArchiveDocument(ctx context.Context, id int64) (*model.Document, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "manager.ArchiveDocument")
	defer span.End()

	doc, err := m.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.State == model.StateArchived {
		return nil, &errs.ValidationError{Field: "state", Msg: "document already archived"}
	}

	target := m.archiveTargetPath(doc.Path)
	if err := moveFile(doc.Path, target); err != nil {
		return nil, &errs.StorageErrorDetail{Op: "ArchiveDocument", DocID: id, Err: err}
	}

	if _, err := m.sm.Transition(ctx, id, model.StateArchived, "Archived by system", ""); err != nil {
		return nil, err
	}

	if target == doc.Path {
		return m.store.GetDocument(ctx, id)
	}
	return m.store.UpdateDocument(ctx, id, map[string]any{"path": target})
}
