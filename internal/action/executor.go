package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/quartzlabs/mailpilot/internal/models"
	"github.com/quartzlabs/mailpilot/internal/provider"
	"github.com/quartzlabs/mailpilot/internal/store"
)

// Job types the executor schedules for its two special action families.
const (
	JobTypeSend = "send_action"
	JobTypeWake = "wake_snooze"
)

type SendJobPayload struct {
	AccountID string `json:"account_id"`
	ActionID  int64  `json:"action_id"`
}

type WakeJobPayload struct {
	AccountID string `json:"account_id"`
	MessageID string `json:"message_id"`
	ActionID  int64  `json:"action_id"`
}

var (
	ErrUnknownType      = errors.New("unknown action type")
	ErrAwaitingApproval = errors.New("action is awaiting approval")
)

// Executor drives a single action through its state machine: snapshot,
// mutation, undo-hint, completion. Re-executing a terminal action is a
// successful no-op, which is what makes at-least-once job delivery safe.
type Executor struct {
	actions store.ActionStore
	jobs    store.JobStore
	clients provider.ClientFactory
}

func NewExecutor(actions store.ActionStore, jobs store.JobStore, clients provider.ClientFactory) *Executor {
	return &Executor{actions: actions, jobs: jobs, clients: clients}
}

// Execute runs the action identified by actionID. Transient provider errors
// are returned with the action left executing so the job retry re-enters
// here; permanent errors mark the action failed before returning.
func (e *Executor) Execute(ctx context.Context, actionID int64) error {
	return e.execute(ctx, actionID, false)
}

// ExecuteUndo runs an inverse action created by the undo resolver. It is the
// same machinery except the resulting hint is a terminal marker: undo of an
// undo is not supported.
func (e *Executor) ExecuteUndo(ctx context.Context, actionID int64) error {
	return e.execute(ctx, actionID, true)
}

func (e *Executor) execute(ctx context.Context, actionID int64, asUndo bool) error {
	a, err := e.actions.GetActionByID(ctx, actionID)
	if err != nil {
		return fmt.Errorf("load action %d: %w", actionID, err)
	}
	if a.Status.Terminal() {
		return nil
	}

	switch a.Status {
	case models.ActionApprovalPending:
		return ErrAwaitingApproval
	case models.ActionQueued:
		if err := e.actions.TransitionAction(ctx, a.ID, models.ActionQueued, models.ActionExecuting); err != nil {
			if errors.Is(err, store.ErrInvalidTransition) {
				// Lost the race; whoever won owns the action now.
				return nil
			}
			return fmt.Errorf("transition action %d to executing: %w", a.ID, err)
		}
	case models.ActionExecuting:
		// A previous attempt crashed mid-flight; resume.
	default:
		return fmt.Errorf("%w: action %d in status %s", store.ErrInvalidTransition, a.ID, a.Status)
	}

	spec, ok := typeSpecs[a.Type]
	if !ok {
		e.settleFailed(ctx, a.ID, "unknown action type "+a.Type)
		return fmt.Errorf("%w: %s", ErrUnknownType, a.Type)
	}

	params, err := parseParams(a.Params)
	if err != nil {
		e.settleFailed(ctx, a.ID, err.Error())
		return err
	}

	client, err := e.clients(a.AccountID)
	if err != nil {
		return fmt.Errorf("provider client for account %s: %w", a.AccountID, err)
	}

	msg, err := client.FetchMessage(ctx, a.MessageID)
	if err != nil {
		return e.settleProviderError(ctx, a.ID, fmt.Errorf("snapshot message %s: %w", a.MessageID, err))
	}
	snap := msg.State

	if spec.outbound && !asUndo {
		return e.executeOutbound(ctx, a, snap)
	}

	if spec.execute != nil {
		if err := spec.execute(ctx, client, a.MessageID, params); err != nil {
			return e.settleProviderError(ctx, a.ID, fmt.Errorf("execute %s on message %s: %w", a.Type, a.MessageID, err))
		}
	}

	hint := buildHint(a.Type, snap, spec.derive(params, snap))
	if asUndo {
		// Terminal marker: single-level undo only.
		hint.InverseAction = ""
		hint.InverseParams = nil
		hint.Reversible = false
	}

	if spec.delayed && !asUndo {
		wakeJobID, err := e.scheduleWake(ctx, a, params)
		if err != nil {
			return err
		}
		hint.WakeJobID = wakeJobID
	}

	raw, err := json.Marshal(hint)
	if err != nil {
		return fmt.Errorf("marshal undo hint: %w", err)
	}
	if err := e.actions.CompleteAction(ctx, a.ID, raw); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return nil
		}
		return fmt.Errorf("complete action %d: %w", a.ID, err)
	}
	return nil
}

// executeOutbound leaves the action in executing and hands the final
// transition to a dedicated send job: the action must not be marked done
// until the message is actually transmitted.
func (e *Executor) executeOutbound(ctx context.Context, a *models.Action, snap provider.MessageState) error {
	hint := buildHint(a.Type, snap, inverse{reversible: false})
	raw, err := json.Marshal(hint)
	if err != nil {
		return fmt.Errorf("marshal undo hint: %w", err)
	}
	if err := e.actions.UpdateActionUndoHint(ctx, a.ID, raw); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return nil
		}
		return fmt.Errorf("persist undo hint for action %d: %w", a.ID, err)
	}

	payload, err := json.Marshal(SendJobPayload{AccountID: a.AccountID, ActionID: a.ID})
	if err != nil {
		return fmt.Errorf("marshal send payload: %w", err)
	}
	_, err = e.jobs.EnqueueJob(ctx, store.EnqueueJobParams{
		Type:           JobTypeSend,
		Payload:        payload,
		IdempotencyKey: fmt.Sprintf("%s:%s:%d", JobTypeSend, a.AccountID, a.ID),
	})
	if err != nil {
		return fmt.Errorf("enqueue send job for action %d: %w", a.ID, err)
	}
	return nil
}

// scheduleWake enqueues the delayed follow-up job and returns its identifier
// so the undo hint can later cancel it.
func (e *Executor) scheduleWake(ctx context.Context, a *models.Action, params Params) (int64, error) {
	if params.WakeAt == nil {
		err := fmt.Errorf("snooze action %d has no wake_at", a.ID)
		e.settleFailed(ctx, a.ID, err.Error())
		return 0, err
	}
	payload, err := json.Marshal(WakeJobPayload{AccountID: a.AccountID, MessageID: a.MessageID, ActionID: a.ID})
	if err != nil {
		return 0, fmt.Errorf("marshal wake payload: %w", err)
	}
	wakeAt := params.WakeAt.UTC()
	job, err := e.jobs.EnqueueJob(ctx, store.EnqueueJobParams{
		Type:           JobTypeWake,
		Payload:        payload,
		NotBefore:      &wakeAt,
		IdempotencyKey: fmt.Sprintf("%s:%s:%d", JobTypeWake, a.AccountID, a.ID),
	})
	if err != nil {
		return 0, fmt.Errorf("enqueue wake job for action %d: %w", a.ID, err)
	}
	return job.ID, nil
}

// settleProviderError maps a provider failure onto the action row: transient
// errors leave it executing for the retry, permanent ones settle it failed.
func (e *Executor) settleProviderError(ctx context.Context, actionID int64, err error) error {
	if provider.IsRetryable(err) {
		return err
	}
	e.settleFailed(ctx, actionID, err.Error())
	return err
}

func (e *Executor) settleFailed(ctx context.Context, actionID int64, message string) {
	// Best effort; the job layer surfaces the original error.
	_ = e.actions.FailAction(ctx, actionID, message)
}

// MarkFailed settles an action as failed. Job handlers call this on their
// final allowed attempt so no action is left stuck in executing.
func (e *Executor) MarkFailed(ctx context.Context, actionID int64, message string) error {
	err := e.actions.FailAction(ctx, actionID, message)
	if errors.Is(err, store.ErrInvalidTransition) {
		return nil
	}
	return err
}

func buildHint(actionType string, snap provider.MessageState, inv inverse) *models.UndoHint {
	hint := &models.UndoHint{
		PreLabels:     snap.Labels,
		PreUnread:     snap.Unread,
		PreStarred:    snap.Starred,
		PreInInbox:    snap.InInbox,
		PreInTrash:    snap.InTrash,
		Action:        actionType,
		InverseAction: inv.actionType,
		Reversible:    inv.reversible,
	}
	if inv.reversible {
		raw, err := json.Marshal(inv.params)
		if err == nil {
			hint.InverseParams = raw
		}
	}
	return hint
}
