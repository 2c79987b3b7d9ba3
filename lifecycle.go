// Package lifecycle is the public entry point for the document
// lifecycle engine: a single import surface over the registry, state
// machine, search, manager, retention, governance, and health
// sub-packages.
package lifecycle

import (
	"github.com/gao-dev/lifecycle/internal/governance"
	"github.com/gao-dev/lifecycle/internal/health"
	"github.com/gao-dev/lifecycle/internal/manager"
	"github.com/gao-dev/lifecycle/internal/model"
	"github.com/gao-dev/lifecycle/internal/registry"
	"github.com/gao-dev/lifecycle/internal/retention"
	"github.com/gao-dev/lifecycle/internal/search"
	"github.com/gao-dev/lifecycle/internal/statemachine"
)

// Core document types re-exported for callers who only need to work
// against this package.
type (
	Document         = model.Document
	DocumentType     = model.DocumentType
	DocumentState    = model.DocumentState
	Classification   = model.Classification5S
	RelationshipType = model.RelationshipType
	Metadata         = model.Metadata
	Relationship     = model.Relationship
	StateTransition  = model.StateTransition
	Review           = model.Review
	RetentionPolicy  = model.RetentionPolicy
)

// DocumentType constants.
const (
	TypePRD          = model.TypePRD
	TypeArchitecture = model.TypeArchitecture
	TypeEpic         = model.TypeEpic
	TypeStory        = model.TypeStory
	TypeADR          = model.TypeADR
	TypePostmortem   = model.TypePostmortem
	TypeRunbook      = model.TypeRunbook
	TypeQAReport     = model.TypeQAReport
	TypeTestReport   = model.TypeTestReport
)

// DocumentState constants.
const (
	StateDraft    = model.StateDraft
	StateActive   = model.StateActive
	StateObsolete = model.StateObsolete
	StateArchived = model.StateArchived
)

// Classification5S constants.
const (
	ClassPermanent = model.ClassPermanent
	ClassTransient = model.ClassTransient
	ClassTemp      = model.ClassTemp
)

// RelationshipType constants.
const (
	RelDerivedFrom = model.RelDerivedFrom
	RelImplements  = model.RelImplements
	RelTests       = model.RelTests
	RelReplaces    = model.RelReplaces
	RelReferences  = model.RelReferences
)

// Store is the registry's document/relationship/transition/review
// persistence layer.
type Store = registry.Store

// QueryFilter narrows Store.QueryDocuments / Manager.QueryDocuments.
type QueryFilter = registry.QueryFilter

// OpenStore opens (creating if absent) the SQLite-backed registry at
// path, running pending migrations.
func OpenStore(path string) (*Store, error) {
	return registry.Open(path)
}

// OpenMemoryStore opens an in-memory registry, primarily for tests and
// short-lived tooling.
func OpenMemoryStore() (*Store, error) {
	return registry.OpenMemory()
}

// StateMachine, Manager, SearchEngine, RetentionEngine,
// GovernanceEngine, and HealthEngine are re-exported so callers can
// name them without reaching into internal/.
type (
	StateMachine     = statemachine.StateMachine
	Manager          = manager.Manager
	SearchEngine     = search.Engine
	SearchFilter     = search.Filter
	SearchResult     = search.Result
	RetentionEngine  = retention.Engine
	ArchivalAction   = retention.ArchivalAction
	GovernanceEngine = governance.Engine
	GovernanceConfig = governance.Config
	HealthEngine     = health.Engine
	HealthMetrics    = health.Metrics
	ActionItem       = health.ActionItem
)

// NewStateMachine constructs a StateMachine bound to store.
func NewStateMachine(store *Store) *StateMachine {
	return statemachine.New(store)
}

// NewManager constructs the Lifecycle Manager orchestrator, creating
// archiveDir if it does not already exist.
func NewManager(store *Store, sm *StateMachine, archiveDir string) (*Manager, error) {
	return manager.New(store, sm, archiveDir)
}

// NewSearchEngine constructs a full-text SearchEngine over store.
func NewSearchEngine(store *Store) *SearchEngine {
	return search.New(store)
}

// NewRetentionEngine constructs a RetentionEngine, loading policies
// from the retention.yaml at policiesPath.
func NewRetentionEngine(store *Store, mgr *Manager, policiesPath string) (*RetentionEngine, error) {
	return retention.New(store, mgr, policiesPath)
}

// NewGovernanceEngine constructs a GovernanceEngine, loading
// governance.yaml at configPath.
func NewGovernanceEngine(store *Store, configPath string) (*GovernanceEngine, error) {
	return governance.New(store, configPath)
}

// NewHealthEngine constructs a HealthEngine that reuses gov for review
// cadence lookups.
func NewHealthEngine(store *Store, gov *GovernanceEngine) *HealthEngine {
	return health.New(store, gov)
}
