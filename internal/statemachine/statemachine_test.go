package statemachine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gao-dev/lifecycle/internal/errs"
	"github.com/gao-dev/lifecycle/internal/model"
	"github.com/gao-dev/lifecycle/internal/registry"
)

func newTestStore(t *testing.T) *registry.Store {
	t.Helper()
	store, err := registry.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func registerDoc(t *testing.T, store *registry.Store, path string, typ model.DocumentType, feature string) *model.Document {
	t.Helper()
	doc, err := store.RegisterDocument(context.Background(), registry.RegisterInput{
		Path: path, Type: typ, Author: "john", Feature: feature,
	})
	require.NoError(t, err)
	return doc
}

func TestCanTransitionRejectsSelfLoop(t *testing.T) {
	for _, s := range model.ValidStates {
		assert.False(t, CanTransition(s, s))
	}
}

func TestFullLifecycle(t *testing.T) {
	store := newTestStore(t)
	sm := New(store)
	ctx := context.Background()

	doc := registerDoc(t, store, "docs/PRD.md", model.TypePRD, "")
	assert.Equal(t, model.StateDraft, doc.State)

	doc, err := sm.Transition(ctx, doc.ID, model.StateActive, "", "john")
	require.NoError(t, err)
	assert.Equal(t, model.StateActive, doc.State)

	doc, err = sm.Transition(ctx, doc.ID, model.StateObsolete, "replaced", "john")
	require.NoError(t, err)
	assert.Equal(t, model.StateObsolete, doc.State)

	doc, err = sm.Transition(ctx, doc.ID, model.StateArchived, "cleanup", "john")
	require.NoError(t, err)
	assert.Equal(t, model.StateArchived, doc.State)

	history, err := store.GetTransitionHistory(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, model.StateObsolete, history[0].FromState)
	assert.Equal(t, model.StateArchived, history[0].ToState)
}

func TestReasonRequiredForObsoleteAndArchived(t *testing.T) {
	store := newTestStore(t)
	sm := New(store)
	ctx := context.Background()

	doc := registerDoc(t, store, "docs/PRD2.md", model.TypePRD, "")
	doc, err := sm.Transition(ctx, doc.ID, model.StateActive, "", "john")
	require.NoError(t, err)

	_, err = sm.Transition(ctx, doc.ID, model.StateObsolete, "", "john")
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
}

func TestSingleActiveInvariant(t *testing.T) {
	store := newTestStore(t)
	sm := New(store)
	ctx := context.Background()

	first := registerDoc(t, store, "docs/prd-a.md", model.TypePRD, "auth")
	second := registerDoc(t, store, "docs/prd-b.md", model.TypePRD, "auth")

	first, err := sm.Transition(ctx, first.ID, model.StateActive, "", "john")
	require.NoError(t, err)
	assert.Equal(t, model.StateActive, first.State)

	second, err = sm.Transition(ctx, second.ID, model.StateActive, "", "jane")
	require.NoError(t, err)
	assert.Equal(t, model.StateActive, second.State)

	first, err = store.GetDocument(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateObsolete, first.State)

	history, err := store.GetTransitionHistory(ctx, first.ID)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Contains(t, history[0].Reason, "Replaced by document")

	docs, err := store.QueryDocuments(ctx, registry.QueryFilter{Type: model.TypePRD, State: model.StateActive, Feature: "auth"})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Equal(t, second.ID, docs[0].ID)
}

type recordingHook struct {
	beforeCalls int
	afterCalls  int
	failBefore  error
}

func (h *recordingHook) OnBefore(_ context.Context, _ *model.Document, _ model.DocumentState) error {
	h.beforeCalls++
	return h.failBefore
}

func (h *recordingHook) OnAfter(_ context.Context, _ *model.Document, _, _ model.DocumentState) {
	h.afterCalls++
}

func TestHooksRunAroundTransition(t *testing.T) {
	store := newTestStore(t)
	sm := New(store)
	ctx := context.Background()

	hook := &recordingHook{}
	sm.RegisterHook(hook)

	doc := registerDoc(t, store, "docs/hooked.md", model.TypePRD, "")
	_, err := sm.Transition(ctx, doc.ID, model.StateActive, "", "john")
	require.NoError(t, err)
	assert.Equal(t, 1, hook.beforeCalls)
	assert.Equal(t, 1, hook.afterCalls)
}

func TestFailingBeforeHookAbortsWithoutSideEffects(t *testing.T) {
	store := newTestStore(t)
	sm := New(store)
	ctx := context.Background()

	hook := &recordingHook{failBefore: assert.AnError}
	sm.RegisterHook(hook)

	doc := registerDoc(t, store, "docs/vetoed.md", model.TypePRD, "")
	_, err := sm.Transition(ctx, doc.ID, model.StateActive, "", "john")
	require.ErrorIs(t, err, assert.AnError)
	assert.Zero(t, hook.afterCalls)

	got, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateDraft, got.State)

	history, err := store.GetTransitionHistory(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestInvalidTransitionRejected(t *testing.T) {
	store := newTestStore(t)
	sm := New(store)
	ctx := context.Background()

	doc := registerDoc(t, store, "docs/PRD3.md", model.TypePRD, "")
	_, err := sm.Transition(ctx, doc.ID, model.StateObsolete, "skip active", "john")
	require.Error(t, err)
	assert.True(t, errs.IsInvalidTransition(err))
}

func TestArchivedIsTerminal(t *testing.T) {
	store := newTestStore(t)
	sm := New(store)
	ctx := context.Background()

	doc := registerDoc(t, store, "docs/PRD4.md", model.TypePRD, "")
	doc, err := sm.Transition(ctx, doc.ID, model.StateArchived, "done", "john")
	require.NoError(t, err)

	_, err = sm.Transition(ctx, doc.ID, model.StateActive, "", "john")
	require.Error(t, err)
	assert.True(t, errs.IsInvalidTransition(err))
}
