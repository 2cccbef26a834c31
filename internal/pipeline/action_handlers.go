package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quartzlabs/mailpilot/internal/action"
	"github.com/quartzlabs/mailpilot/internal/jobs"
	"github.com/quartzlabs/mailpilot/internal/models"
	"github.com/quartzlabs/mailpilot/internal/notify"
	"github.com/quartzlabs/mailpilot/internal/provider"
	"github.com/quartzlabs/mailpilot/internal/store"
)

// HandleExecuteAction drives one approved action through the executor.
func (s *Service) HandleExecuteAction(ctx context.Context, job *models.Job) error {
	var payload ActionJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return jobs.Fatal(fmt.Errorf("invalid action payload: %w", err))
	}

	if err := s.executor.Execute(ctx, payload.ActionID); err != nil {
		return s.settleActionError(ctx, job, payload.ActionID, err)
	}

	a, err := s.actions.GetActionByID(ctx, payload.ActionID)
	if err == nil && a.Status == models.ActionCompleted {
		s.notifier.Notify(ctx, notify.Event{
			Kind:       notify.KindActionCompleted,
			AccountID:  a.AccountID,
			MessageID:  a.MessageID,
			ActionType: a.Type,
			Summary:    fmt.Sprintf("%s completed on message %s", a.Type, a.MessageID),
		})
	}
	return nil
}

// HandleSendAction transmits an outbound action (forward, auto-reply) and
// owns its final transition: the action is not done until the message left.
func (s *Service) HandleSendAction(ctx context.Context, job *models.Job) error {
	var payload action.SendJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return jobs.Fatal(fmt.Errorf("invalid send payload: %w", err))
	}

	a, err := s.actions.GetActionByID(ctx, payload.ActionID)
	if err != nil {
		return jobs.Fatal(fmt.Errorf("load action %d: %w", payload.ActionID, err))
	}
	if a.Status.Terminal() {
		return nil
	}
	if a.Status != models.ActionExecuting {
		return jobs.Fatal(fmt.Errorf("send job for action %d in unexpected status %s", a.ID, a.Status))
	}

	var params action.Params
	if len(a.Params) > 0 {
		if err := json.Unmarshal(a.Params, &params); err != nil {
			_ = s.executor.MarkFailed(ctx, a.ID, "invalid parameters: "+err.Error())
			return jobs.Fatal(fmt.Errorf("invalid action parameters: %w", err))
		}
	}

	client, err := s.clients(a.AccountID)
	if err != nil {
		return fmt.Errorf("provider client: %w", err)
	}
	msg, err := client.FetchMessage(ctx, a.MessageID)
	if err != nil {
		return s.settleActionError(ctx, job, a.ID, fmt.Errorf("fetch message %s: %w", a.MessageID, err))
	}

	raw := buildOutbound(a.Type, params, msg)
	if err := client.Send(ctx, raw); err != nil {
		return s.settleActionError(ctx, job, a.ID, fmt.Errorf("send for action %d: %w", a.ID, err))
	}

	if err := s.actions.CompleteAction(ctx, a.ID, a.UndoHint); err != nil && err != store.ErrInvalidTransition {
		return fmt.Errorf("complete action %d: %w", a.ID, err)
	}

	s.notifier.Notify(ctx, notify.Event{
		Kind:       notify.KindActionCompleted,
		AccountID:  a.AccountID,
		MessageID:  a.MessageID,
		ActionType: a.Type,
		Summary:    fmt.Sprintf("%s sent for message %s", a.Type, a.MessageID),
	})
	return nil
}

// HandleWakeSnooze fires when a snoozed message is due back in the inbox.
func (s *Service) HandleWakeSnooze(ctx context.Context, job *models.Job) error {
	var payload action.WakeJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return jobs.Fatal(fmt.Errorf("invalid wake payload: %w", err))
	}

	client, err := s.clients(payload.AccountID)
	if err != nil {
		return fmt.Errorf("provider client: %w", err)
	}
	if err := client.MutateLabels(ctx, payload.MessageID, []string{"INBOX"}, []string{"SNOOZED"}); err != nil {
		if provider.IsRetryable(err) {
			return err
		}
		return jobs.Fatal(fmt.Errorf("wake message %s: %w", payload.MessageID, err))
	}
	return nil
}

// settleActionError maps a handler failure onto the job and its dependent
// action: transient errors retry until the final attempt, at which point the
// action must be settled failed so nothing is left stuck in executing.
func (s *Service) settleActionError(ctx context.Context, job *models.Job, actionID int64, err error) error {
	if provider.IsRetryable(err) && !job.LastAttempt() {
		return err
	}
	_ = s.executor.MarkFailed(ctx, actionID, err.Error())
	if provider.IsRetryable(err) {
		return err
	}
	return jobs.Fatal(err)
}

func buildOutbound(actionType string, params action.Params, msg *provider.Message) []byte {
	to := params.To
	subject := msg.Subject
	switch actionType {
	case action.TypeAutoReply:
		to = msg.Sender
		if !strings.HasPrefix(strings.ToLower(subject), "re:") {
			subject = "Re: " + subject
		}
	case action.TypeForward:
		if !strings.HasPrefix(strings.ToLower(subject), "fwd:") {
			subject = "Fwd: " + subject
		}
	}
	return []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s", to, subject, params.Body))
}
