// Package statemachine implements the lifecycle state machine:
// transition validation, the single-active-per-(type,feature)
// invariant with automatic succession, before/after hooks, and audit
// writes.
package statemachine

import (
	"context"
	"fmt"

	"github.com/gao-dev/lifecycle/internal/errs"
	"github.com/gao-dev/lifecycle/internal/model"
	"github.com/gao-dev/lifecycle/internal/registry"
	"github.com/gao-dev/lifecycle/internal/telemetry"
)

// transitions is the allowed-move table. archived is terminal and
// has no outgoing transitions.
var transitions = map[model.DocumentState][]model.DocumentState{
	model.StateDraft:    {model.StateActive, model.StateArchived},
	model.StateActive:   {model.StateObsolete, model.StateArchived},
	model.StateObsolete: {model.StateArchived},
	model.StateArchived: {},
}

// CanTransition reports whether a document may move from `from` to `to`.
// CanTransition(s, s) is always false: a transition to the current
// state is rejected, not treated as a silent no-op.
func CanTransition(from, to model.DocumentState) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// reasonRequired reports whether to requires a non-empty reason.
func reasonRequired(to model.DocumentState) bool {
	return to == model.StateObsolete || to == model.StateArchived
}

// Hook is implemented by callers that want to observe or veto
// transitions. OnBefore runs first, in registration order; any
// returned error aborts the transition before any write occurs.
// OnAfter runs after the transition has committed and cannot abort it.
type Hook interface {
	OnBefore(ctx context.Context, doc *model.Document, to model.DocumentState) error
	OnAfter(ctx context.Context, doc *model.Document, from, to model.DocumentState)
}

// StateMachine validates and executes transitions against a registry.
type StateMachine struct {
	store       *registry.Store
	beforeHooks []Hook
	afterHooks  []Hook
}

// New constructs a StateMachine backed by store.
func New(store *registry.Store) *StateMachine {
	return &StateMachine{store: store}
}

// RegisterHook adds h to both the before- and after-hook chains, in
// registration order.
func (sm *StateMachine) RegisterHook(h Hook) {
	sm.beforeHooks = append(sm.beforeHooks, h)
	sm.afterHooks = append(sm.afterHooks, h)
}

// Transition validates and executes a move to toState, per the
// seven-step transition contract. changedBy defaults to "system"
// when empty.
func (sm *StateMachine) Transition(ctx context.Context, docID int64, toState model.DocumentState, reason, changedBy string) (*model.Document, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "statemachine.Transition")
	defer span.End()

	doc, err := sm.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(doc.State, toState) {
		return nil, &errs.InvalidTransitionError{DocumentID: docID, From: doc.State, To: toState}
	}
	if reasonRequired(toState) && reason == "" {
		return nil, &errs.ValidationError{Field: "reason", Msg: fmt.Sprintf("a reason is required when transitioning to %s", toState)}
	}
	if changedBy == "" {
		changedBy = "system"
	}

	for _, h := range sm.beforeHooks {
		if err := h.OnBefore(ctx, doc, toState); err != nil {
			return nil, err
		}
	}

	fromState := doc.State
	updated, err := sm.transitionTx(ctx, docID, fromState, toState, reason, changedBy)
	if err != nil {
		return nil, err
	}

	for _, h := range sm.afterHooks {
		h.OnAfter(ctx, updated, fromState, toState)
	}
	return updated, nil
}
