package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/quartzlabs/mailpilot/internal/models"
	"github.com/quartzlabs/mailpilot/internal/store"
)

var (
	ErrNotCompleted  = errors.New("action is not completed")
	ErrNotReversible = errors.New("action is not reversible")
	// ErrAlreadyUndone mirrors the store sentinel so callers need only one
	// package to check against.
	ErrAlreadyUndone = store.ErrAlreadyUndone
)

// Resolver replays the inverse of a completed action and records the
// directed undo-of link between the two.
type Resolver struct {
	actions  store.ActionStore
	jobs     store.JobStore
	executor *Executor
}

func NewResolver(actions store.ActionStore, jobs store.JobStore, executor *Executor) *Resolver {
	return &Resolver{actions: actions, jobs: jobs, executor: executor}
}

// Undo validates reversibility, creates the inverse action, links it and
// executes it. Double-undo is prevented by the uniqueness constraint on the
// undo-of link: the insert itself is the race arbiter, not a pre-check.
func (r *Resolver) Undo(ctx context.Context, actionID int64) (*models.Action, error) {
	original, err := r.actions.GetActionByID(ctx, actionID)
	if err != nil {
		return nil, fmt.Errorf("load action %d: %w", actionID, err)
	}
	if original.Status != models.ActionCompleted {
		return nil, fmt.Errorf("%w: action %d is %s", ErrNotCompleted, actionID, original.Status)
	}

	var hint models.UndoHint
	if len(original.UndoHint) == 0 {
		return nil, fmt.Errorf("%w: action %d has no undo hint", ErrNotReversible, actionID)
	}
	if err := json.Unmarshal(original.UndoHint, &hint); err != nil {
		return nil, fmt.Errorf("decode undo hint for action %d: %w", actionID, err)
	}
	if !hint.Reversible || hint.InverseAction == "" {
		return nil, fmt.Errorf("%w: action %d", ErrNotReversible, actionID)
	}

	undoAction, err := r.actions.CreateAction(ctx, models.ActionCreateParams{
		AccountID:  original.AccountID,
		MessageID:  original.MessageID,
		DecisionID: original.DecisionID,
		Type:       hint.InverseAction,
		Params:     hint.InverseParams,
		Status:     models.ActionQueued,
	})
	if err != nil {
		return nil, fmt.Errorf("create undo action: %w", err)
	}

	if _, err := r.actions.CreateActionLink(ctx, undoAction.ID, original.ID, models.RelationUndoOf); err != nil {
		// Lost the race: another undo already owns this action. Retire the
		// orphan we just created.
		if errors.Is(err, store.ErrAlreadyUndone) {
			_ = r.actions.TransitionAction(ctx, undoAction.ID, models.ActionQueued, models.ActionCanceled)
			return nil, fmt.Errorf("action %d: %w", original.ID, ErrAlreadyUndone)
		}
		return nil, fmt.Errorf("link undo action: %w", err)
	}

	// A snoozed message may still have its wake job pending. "Already ran"
	// and "not found" both count as success; the label restoration below is
	// applied regardless, in case the follow-up already fired.
	if hint.WakeJobID != 0 {
		if err := r.jobs.CancelJob(ctx, hint.WakeJobID); err != nil &&
			!errors.Is(err, store.ErrInvalidTransition) && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("cancel wake job %d: %w", hint.WakeJobID, err)
		}
	}

	if err := r.executor.ExecuteUndo(ctx, undoAction.ID); err != nil {
		return undoAction, fmt.Errorf("execute undo action %d: %w", undoAction.ID, err)
	}

	return r.actions.GetActionByID(ctx, undoAction.ID)
}
