package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/quartzlabs/mailpilot/internal/action"
	"github.com/quartzlabs/mailpilot/internal/jobs"
	"github.com/quartzlabs/mailpilot/internal/models"
	"github.com/quartzlabs/mailpilot/internal/notify"
	"github.com/quartzlabs/mailpilot/internal/store"
)

// HandleUndoAction reverses a completed action through the resolver. The job
// is delivered at least once, so a second delivery must converge on the same
// single undo rather than produce a new one.
func (s *Service) HandleUndoAction(ctx context.Context, job *models.Job) error {
	var payload UndoJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return jobs.Fatal(fmt.Errorf("invalid undo payload: %w", err))
	}

	undone, err := s.resolver.Undo(ctx, payload.ActionID)
	switch {
	case err == nil:
		s.notifier.Notify(ctx, notify.Event{
			Kind:       notify.KindUndo,
			AccountID:  undone.AccountID,
			MessageID:  undone.MessageID,
			ActionType: undone.Type,
			Summary:    fmt.Sprintf("undid action %d with %s", payload.ActionID, undone.Type),
		})
		return nil
	case errors.Is(err, action.ErrNotCompleted), errors.Is(err, action.ErrNotReversible):
		return jobs.Fatal(err)
	case errors.Is(err, action.ErrAlreadyUndone):
		return s.resumeUndo(ctx, job, payload.ActionID)
	default:
		return s.settleActionError(ctx, job, payload.ActionID, err)
	}
}

// resumeUndo handles redelivery after the undo link already exists: either a
// previous run finished (success) or it crashed mid-execution, in which case
// the existing undo action is driven to completion here.
func (s *Service) resumeUndo(ctx context.Context, job *models.Job, originalID int64) error {
	link, err := s.actions.GetUndoLink(ctx, originalID)
	if err != nil {
		return fmt.Errorf("load undo link for action %d: %w", originalID, err)
	}
	undoAction, err := s.actions.GetActionByID(ctx, link.CauseActionID)
	if err != nil {
		return fmt.Errorf("load undo action %d: %w", link.CauseActionID, err)
	}

	switch undoAction.Status {
	case models.ActionCompleted:
		return nil
	case models.ActionQueued, models.ActionExecuting:
		if err := s.executor.ExecuteUndo(ctx, undoAction.ID); err != nil {
			return s.settleActionError(ctx, job, undoAction.ID, err)
		}
		return nil
	default:
		// A canceled or failed undo action will not recover on retry.
		return jobs.Fatal(fmt.Errorf("undo action %d for action %d is %s", undoAction.ID, originalID, undoAction.Status))
	}
}

// HandleApproval resolves a pending approval: approve releases the action to
// the execute queue, reject retires it. The verdict is a conditional
// transition, but an approval must always reach the enqueue below even when
// the transition finds the action no longer pending: an earlier delivery may
// have moved it to queued and crashed before creating the execute job. The
// idempotency key makes the repeated enqueue a no-op on the happy path, and
// the executor treats any non-queued action as already settled.
func (s *Service) HandleApproval(ctx context.Context, job *models.Job) error {
	var payload ApprovalJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return jobs.Fatal(fmt.Errorf("invalid approval payload: %w", err))
	}

	target := models.ActionRejected
	if payload.Approve {
		target = models.ActionQueued
	}
	err := s.actions.TransitionAction(ctx, payload.ActionID, models.ActionApprovalPending, target)
	if err != nil && !errors.Is(err, store.ErrInvalidTransition) {
		return fmt.Errorf("resolve approval for action %d: %w", payload.ActionID, err)
	}

	if !payload.Approve {
		return nil
	}

	actionJob, err := s.jobs.EnqueueJob(ctx, store.EnqueueJobParams{
		Type:           JobTypeExecuteAction,
		Payload:        mustMarshal(ActionJobPayload{AccountID: payload.AccountID, ActionID: payload.ActionID}),
		IdempotencyKey: Key(JobTypeExecuteAction, payload.AccountID, strconv.FormatInt(payload.ActionID, 10)),
	})
	if err != nil {
		return fmt.Errorf("enqueue action job: %w", err)
	}
	if err := s.actions.SetActionJobID(ctx, payload.ActionID, actionJob.ID); err != nil && !errors.Is(err, store.ErrInvalidTransition) {
		return fmt.Errorf("link action to job: %w", err)
	}
	return nil
}
