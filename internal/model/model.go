// Package model defines the core entities of the document lifecycle
// engine: documents, their relationships, transition and review history,
// and retention policy configuration.
package model

import (
	"encoding/json"
	"time"
)

// DocumentType classifies a document by its engineering artifact kind.
type DocumentType string

const (
	TypePRD          DocumentType = "prd"
	TypeArchitecture DocumentType = "architecture"
	TypeEpic         DocumentType = "epic"
	TypeStory        DocumentType = "story"
	TypeADR          DocumentType = "adr"
	TypePostmortem   DocumentType = "postmortem"
	TypeRunbook      DocumentType = "runbook"
	TypeQAReport     DocumentType = "qa_report"
	TypeTestReport   DocumentType = "test_report"
)

// ValidTypes lists every DocumentType recognised by the registry.
var ValidTypes = []DocumentType{
	TypePRD, TypeArchitecture, TypeEpic, TypeStory, TypeADR,
	TypePostmortem, TypeRunbook, TypeQAReport, TypeTestReport,
}

// IsValid reports whether t is one of ValidTypes.
func (t DocumentType) IsValid() bool {
	for _, v := range ValidTypes {
		if t == v {
			return true
		}
	}
	return false
}

// DocumentState is a node in the lifecycle state machine.
type DocumentState string

const (
	StateDraft    DocumentState = "draft"
	StateActive   DocumentState = "active"
	StateObsolete DocumentState = "obsolete"
	StateArchived DocumentState = "archived"
)

// ValidStates lists every DocumentState recognised by the state machine.
var ValidStates = []DocumentState{StateDraft, StateActive, StateObsolete, StateArchived}

// IsValid reports whether s is one of ValidStates.
func (s DocumentState) IsValid() bool {
	for _, v := range ValidStates {
		if s == v {
			return true
		}
	}
	return false
}

// Classification5S is the coarse scanning bucket attached to a document,
// orthogonal to its lifecycle State.
type Classification5S string

const (
	ClassPermanent Classification5S = "permanent"
	ClassTransient Classification5S = "transient"
	ClassTemp      Classification5S = "temp"
)

// RelationshipType names the directed edge kind between two documents.
type RelationshipType string

const (
	RelDerivedFrom RelationshipType = "derived_from"
	RelImplements  RelationshipType = "implements"
	RelTests       RelationshipType = "tests"
	RelReplaces    RelationshipType = "replaces"
	RelReferences  RelationshipType = "references"
)

// ValidRelationshipTypes lists every recognised RelationshipType.
var ValidRelationshipTypes = []RelationshipType{
	RelDerivedFrom, RelImplements, RelTests, RelReplaces, RelReferences,
}

// IsValid reports whether r is one of ValidRelationshipTypes.
func (r RelationshipType) IsValid() bool {
	for _, v := range ValidRelationshipTypes {
		if r == v {
			return true
		}
	}
	return false
}

// Metadata is the extensible key/value bag stored alongside a Document.
// A small set of well-known keys have typed accessors below; anything
// else round-trips through the bag unexamined.
type Metadata map[string]any

// Tags returns the "tags" entry as a string slice, or nil if absent or
// malformed.
func (m Metadata) Tags() []string {
	raw, ok := m["tags"]
	if !ok {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		if ss, ok := raw.([]string); ok {
			return ss
		}
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

// SetTags replaces the "tags" entry.
func (m Metadata) SetTags(tags []string) {
	m["tags"] = tags
}

// HasTag reports whether tag is present among Tags().
func (m Metadata) HasTag(tag string) bool {
	for _, t := range m.Tags() {
		if t == tag {
			return true
		}
	}
	return false
}

// Classification returns the "5s_classification" entry, or "" if absent.
func (m Metadata) Classification() Classification5S {
	if raw, ok := m["5s_classification"]; ok {
		if s, ok := raw.(string); ok {
			return Classification5S(s)
		}
	}
	return ""
}

// Priority returns the "priority" entry, or "" if absent.
func (m Metadata) Priority() string {
	if raw, ok := m["priority"]; ok {
		if s, ok := raw.(string); ok {
			return s
		}
	}
	return ""
}

// RetentionPolicyName returns the "retention_policy" entry, or "" if
// absent — an override of the type-keyed policy lookup.
func (m Metadata) RetentionPolicyName() string {
	if raw, ok := m["retention_policy"]; ok {
		if s, ok := raw.(string); ok {
			return s
		}
	}
	return ""
}

// Owner returns the "owner" entry from the metadata bag, if present.
// Most callers should prefer Document.Owner; this exists because some
// frontmatter-derived metadata carries an owner hint that has not yet
// been promoted to the column.
func (m Metadata) Owner() string {
	if raw, ok := m["owner"]; ok {
		if s, ok := raw.(string); ok {
			return s
		}
	}
	return ""
}

// RelatedDocs returns the "related_docs" entry as a string slice of
// paths, or nil if absent.
func (m Metadata) RelatedDocs() []string {
	raw, ok := m["related_docs"]
	if !ok {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		if ss, ok := raw.([]string); ok {
			return ss
		}
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

// Document is the central entity of the registry.
type Document struct {
	ID            int64
	Path          string
	Type          DocumentType
	State         DocumentState
	CreatedAt     time.Time
	ModifiedAt    time.Time
	Author        string
	Owner         string
	Reviewer      string
	ReviewDueDate *time.Time
	Feature       string
	Epic          *int
	Story         string
	ContentHash   string
	Metadata      Metadata
}

// MetadataJSON marshals Metadata for storage. A nil map marshals to "{}".
func (d *Document) MetadataJSON() (string, error) {
	if d.Metadata == nil {
		return "{}", nil
	}
	b, err := json.Marshal(d.Metadata)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseMetadataJSON decodes a stored metadata JSON blob. Empty input
// yields an empty, non-nil Metadata.
func ParseMetadataJSON(raw string) (Metadata, error) {
	m := Metadata{}
	if raw == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Relationship is a directed edge between two documents.
type Relationship struct {
	ID       int64
	ParentID int64
	ChildID  int64
	Type     RelationshipType
}

// StateTransition is an append-only audit row recording one lifecycle
// move. Seq breaks ties when ChangedAt resolves to the same instant
// within a single transaction.
type StateTransition struct {
	ID         int64
	DocumentID int64
	FromState  DocumentState
	ToState    DocumentState
	Reason     string
	ChangedBy  string
	ChangedAt  time.Time
	Seq        int64
}

// Review is an append-only row recording a completed review cycle.
type Review struct {
	ID            int64
	DocumentID    int64
	Reviewer      string
	ReviewedAt    time.Time
	Notes         string
	NextReviewDue *time.Time
}

// RetentionPolicy governs when documents of a given type move through
// obsolete/archived and whether they may eventually be deleted.
// -1 in a day field means "never".
type RetentionPolicy struct {
	DocumentType       DocumentType
	ArchiveToObsolete  int
	ObsoleteToArchive  int
	ArchiveRetention   int
	DeleteAfterArchive bool
	ComplianceTags     []string
}

// HasComplianceTag reports whether any of tags matches the policy's
// protected compliance tags.
func (p RetentionPolicy) HasComplianceTag(tags []string) bool {
	for _, t := range tags {
		for _, c := range p.ComplianceTags {
			if t == c {
				return true
			}
		}
	}
	return false
}
