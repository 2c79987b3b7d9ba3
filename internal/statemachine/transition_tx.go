package statemachine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gao-dev/lifecycle/internal/model"
	"github.com/gao-dev/lifecycle/internal/registry"
)

// transitionTx performs the atomic portion of a transition: the
// single-active succession (step 4), the primary state update (step
// 5), and both audit rows (step 6), all inside one transaction.
func (sm *StateMachine) transitionTx(ctx context.Context, docID int64, fromState, toState model.DocumentState, reason, changedBy string) (*model.Document, error) {
	var updated *model.Document
	err := sm.store.WithTx(ctx, func(tx *sql.Tx) error {
		fresh, err := sm.store.GetDocumentTx(tx, docID)
		if err != nil {
			return err
		}

		if toState == model.StateActive && fresh.Feature != "" {
			other, err := sm.store.GetActiveDocumentTx(tx, fresh.Type, fresh.Feature, fresh.ID)
			if err != nil {
				return err
			}
			if other != nil {
				if err := sm.store.SetDocumentStateTx(tx, other.ID, model.StateObsolete); err != nil {
					return err
				}
				if _, err := registry.AppendTransitionTx(tx, model.StateTransition{
					DocumentID: other.ID,
					FromState:  other.State,
					ToState:    model.StateObsolete,
					Reason:     fmt.Sprintf("Replaced by document %d", fresh.ID),
					ChangedBy:  "system",
				}); err != nil {
					return err
				}
			}
		}

		if err := sm.store.SetDocumentStateTx(tx, docID, toState); err != nil {
			return err
		}
		if _, err := registry.AppendTransitionTx(tx, model.StateTransition{
			DocumentID: docID,
			FromState:  fromState,
			ToState:    toState,
			Reason:     reason,
			ChangedBy:  changedBy,
		}); err != nil {
			return err
		}

		updated, err = sm.store.GetDocumentTx(tx, docID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
