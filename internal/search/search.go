// Package search implements the Search Index component:
// full-text query against the registry's FTS5 index, tag search,
// related-document discovery by key-term extraction, and the explicit
// index-maintenance operations (reindex, rebuild, optimize).
//
// The registry keeps documents_fts in step with title and tags on every
// insert/update/delete (internal/registry's UpsertFTSTx/DeleteFTSTx).
// Full document content is lazily refreshed only by ReindexContent, so
// the always-current part of the index stays cheap to maintain while
// content indexing remains an explicit, potentially long-running pass.
package search

import (
	"context"
	"database/sql"
	"math"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gao-dev/lifecycle/internal/model"
	"github.com/gao-dev/lifecycle/internal/registry"
	"github.com/gao-dev/lifecycle/internal/telemetry"
)

// Engine answers search queries against a registry's documents_fts
// index.
type Engine struct {
	store *registry.Store
}

// New constructs a search Engine backed by store.
func New(store *registry.Store) *Engine {
	return &Engine{store: store}
}

// Filter narrows a full-text search to documents matching every
// non-zero field, ANDed with the MATCH predicate.
type Filter struct {
	Type  model.DocumentType
	State model.DocumentState
	Tags  []string
}

// Result pairs a matched document with its relevance score (higher is
// more relevant; FTS5's native rank is negated since it scores better
// matches more negative).
type Result struct {
	Document *model.Document
	Score    float64
}

// sanitizeFTSQuery wraps the entire query as a single phrase, stripping
// any quotes the caller supplied, so user input never reaches FTS5 as
// an unescaped boolean expression.
func sanitizeFTSQuery(q string) string {
	q = strings.ReplaceAll(q, `"`, "")
	return `"` + q + `"`
}

// Search runs a full-text query against title, content, and tags,
// optionally narrowed by f, ordered by relevance, and capped at limit
// results. An empty query returns no results.
func (e *Engine) Search(ctx context.Context, query string, f Filter, limit int) ([]Result, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	return e.searchMatch(ctx, sanitizeFTSQuery(q), f, limit)
}

// searchMatch executes matchExpr, an already-safe FTS5 expression,
// against the index. Callers other than Search must only pass
// expressions built from trusted tokens.
func (e *Engine) searchMatch(ctx context.Context, matchExpr string, f Filter, limit int) ([]Result, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "search.Search")
	defer span.End()
	start := time.Now()

	if limit <= 0 {
		limit = 50
	}

	sqlStr := `SELECT d.id, rank FROM documents_fts JOIN documents d ON d.path = documents_fts.title
		WHERE documents_fts MATCH ?`
	args := []any{matchExpr}

	if f.Type != "" {
		sqlStr += " AND d.type = ?"
		args = append(args, string(f.Type))
	}
	if f.State != "" {
		sqlStr += " AND d.state = ?"
		args = append(args, string(f.State))
	}
	if len(f.Tags) > 0 {
		conds := make([]string, 0, len(f.Tags))
		for _, tag := range f.Tags {
			conds = append(conds, "EXISTS (SELECT 1 FROM json_each(d.metadata, '$.tags') WHERE value = ?)")
			args = append(args, tag)
		}
		sqlStr += " AND (" + strings.Join(conds, " OR ") + ")"
	}
	sqlStr += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := e.store.DB().QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	type hit struct {
		id   int64
		rank float64
	}
	var hits []hit
	for rows.Next() {
		var h hit
		if err := rows.Scan(&h.id, &h.rank); err != nil {
			rows.Close()
			return nil, err
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Drain the result set before fetching documents: the store may be
	// limited to a single connection (in-memory databases), and a nested
	// query would otherwise block on the connection this cursor holds.
	rows.Close()

	var results []Result
	for _, h := range hits {
		doc, err := e.store.GetDocument(ctx, h.id)
		if err != nil {
			continue // index and registry briefly disagree; skip rather than fail the whole query
		}
		results = append(results, Result{Document: doc, Score: math.Abs(h.rank)})
	}

	telemetry.RecordHistogram(ctx, telemetry.Instruments.SearchLatencyMs, float64(time.Since(start).Milliseconds()))
	return results, nil
}

// SearchByTags delegates to the registry's own tag predicate (the same
// AND/OR semantics QueryDocuments already implements), truncating to
// limit.
func (e *Engine) SearchByTags(ctx context.Context, tags []string, matchAll bool, limit int) ([]*model.Document, error) {
	docs, err := e.store.QueryDocuments(ctx, registry.QueryFilter{Tags: tags, MatchAllTags: matchAll})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// GetRelatedDocuments finds documents similar to id by extracting key
// terms from its file content (or, failing that, its path and tags)
// and searching on the top terms.
func (e *Engine) GetRelatedDocuments(ctx context.Context, id int64, limit int) ([]Result, error) {
	doc, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	var text string
	if raw, err := os.ReadFile(doc.Path); err == nil {
		text = string(raw)
	} else {
		text = doc.Path + " " + strings.Join(doc.Metadata.Tags(), " ")
	}

	terms := extractKeyTerms(text)
	if len(terms) == 0 {
		return nil, nil
	}
	n := 10
	if n > len(terms) {
		n = len(terms)
	}
	// Terms are lowercase alphanumeric by construction, so they can be
	// OR-combined without the phrase quoting Search applies to user
	// input; a document matching any key term is a candidate.
	query := strings.Join(terms[:n], " OR ")

	results, err := e.searchMatch(ctx, query, Filter{}, limit+1)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, limit)
	for _, r := range results {
		if r.Document.ID == id {
			continue
		}
		out = append(out, r)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ReindexContent refreshes the content column of documents_fts for
// every document from its file, leaving title and tags (already
// maintained on every registry write) untouched. Documents whose file
// is missing are indexed with empty content rather than failing the
// whole pass.
func (e *Engine) ReindexContent(ctx context.Context) error {
	ctx, span := telemetry.Tracer.Start(ctx, "search.ReindexContent")
	defer span.End()

	docs, err := e.store.QueryDocuments(ctx, registry.QueryFilter{})
	if err != nil {
		return err
	}
	return e.store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, doc := range docs {
			if err := ctx.Err(); err != nil {
				return err
			}
			content := ""
			if b, readErr := os.ReadFile(doc.Path); readErr == nil {
				content = string(b)
			}
			if err := registry.UpsertFTSTx(tx, doc.Path, doc.Metadata.Tags(), content); err != nil {
				return err
			}
		}
		return nil
	})
}

// RebuildIndex runs FTS5's 'rebuild' special command, regenerating the
// index from the table's current content.
func (e *Engine) RebuildIndex(ctx context.Context) error {
	_, err := e.store.DB().ExecContext(ctx, `INSERT INTO documents_fts(documents_fts) VALUES('rebuild')`)
	return err
}

// OptimizeIndex runs FTS5's 'optimize' special command, merging index
// segments for faster queries.
func (e *Engine) OptimizeIndex(ctx context.Context) error {
	_, err := e.store.DB().ExecContext(ctx, `INSERT INTO documents_fts(documents_fts) VALUES('optimize')`)
	return err
}

var markdownSyntax = regexp.MustCompile("[#*`\\[\\]()]")

// stopWords is the English stopword
// list used to keep key-term extraction from surfacing function words.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true, "not": true,
	"you": true, "all": true, "can": true, "had": true, "her": true, "was": true,
	"one": true, "our": true, "out": true, "day": true, "get": true, "has": true,
	"him": true, "his": true, "how": true, "its": true, "may": true, "new": true,
	"now": true, "old": true, "see": true, "two": true, "way": true, "who": true,
	"boy": true, "did": true, "she": true, "use": true, "with": true, "this": true,
	"that": true, "from": true, "they": true, "know": true, "want": true, "been": true,
	"good": true, "much": true, "some": true, "time": true, "very": true, "when": true,
	"come": true, "here": true, "just": true, "like": true, "long": true, "make": true,
	"many": true, "over": true, "such": true, "take": true, "than": true, "them": true,
	"well": true, "were": true, "will": true, "have": true, "your": true, "which": true,
	"their": true, "would": true, "there": true, "could": true, "should": true,
	"into": true, "more": true, "also": true, "only": true, "these": true,
	"about": true, "other": true,
}

// extractKeyTerms lowercases content, strips common markdown syntax,
// filters stopwords and short tokens, and returns up to 20 terms
// ordered by descending frequency (ties keep first-seen order).
func extractKeyTerms(content string) []string {
	cleaned := markdownSyntax.ReplaceAllString(content, " ")
	words := strings.Fields(strings.ToLower(cleaned))

	freq := make(map[string]int)
	var order []string
	for _, w := range words {
		if len(w) <= 3 || stopWords[w] || !isAlnum(w) {
			continue
		}
		if freq[w] == 0 {
			order = append(order, w)
		}
		freq[w]++
	}

	sort.SliceStable(order, func(i, j int) bool { return freq[order[i]] > freq[order[j]] })
	if len(order) > 20 {
		order = order[:20]
	}
	return order
}

func isAlnum(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
