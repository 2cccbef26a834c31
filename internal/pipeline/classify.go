package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/quartzlabs/mailpilot/internal/jobs"
	"github.com/quartzlabs/mailpilot/internal/models"
	"github.com/quartzlabs/mailpilot/internal/notify"
	"github.com/quartzlabs/mailpilot/internal/provider"
	"github.com/quartzlabs/mailpilot/internal/safety"
	"github.com/quartzlabs/mailpilot/internal/store"
)

// HandleClassify evaluates one message: deterministic rule pass first, then
// the model-assisted pass, then the safety gate, then a persisted decision
// and an action job (or an approval-pending action).
func (s *Service) HandleClassify(ctx context.Context, job *models.Job) error {
	var payload ClassifyJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return jobs.Fatal(fmt.Errorf("invalid classify payload: %w", err))
	}
	payload.Normalize()
	if !payload.IsUsable() {
		return jobs.Fatal(fmt.Errorf("classify payload missing account or message id"))
	}

	facts, err := s.messageFacts(ctx, payload)
	if err != nil {
		if provider.IsRetryable(err) {
			return err
		}
		return jobs.Fatal(err)
	}

	params, err := s.decide(ctx, facts)
	if err != nil {
		return err
	}
	if params == nil {
		// Nothing matched and the model declined: no decision, no action.
		return nil
	}

	decision, err := s.decisions.CreateDecision(ctx, *params)
	if err != nil {
		return fmt.Errorf("create decision: %w", err)
	}

	status := models.ActionQueued
	if decision.ApprovalRequired {
		status = models.ActionApprovalPending
	}
	act, err := s.actions.CreateAction(ctx, models.ActionCreateParams{
		AccountID:  decision.AccountID,
		MessageID:  decision.MessageID,
		DecisionID: &decision.ID,
		Type:       decision.ActionType,
		Params:     decision.ActionParams,
		Status:     status,
	})
	if err != nil {
		return fmt.Errorf("create action: %w", err)
	}

	if decision.ApprovalRequired {
		s.notifier.Notify(ctx, notify.Event{
			Kind:       notify.KindApprovalNeeded,
			AccountID:  act.AccountID,
			MessageID:  act.MessageID,
			ActionType: act.Type,
			Summary:    fmt.Sprintf("%s needs approval: %s", act.Type, decision.Rationale),
		})
		return nil
	}

	actionJob, err := s.jobs.EnqueueJob(ctx, store.EnqueueJobParams{
		Type:           JobTypeExecuteAction,
		Payload:        mustMarshal(ActionJobPayload{AccountID: act.AccountID, ActionID: act.ID}),
		IdempotencyKey: Key(JobTypeExecuteAction, act.AccountID, strconv.FormatInt(act.ID, 10)),
	})
	if err != nil {
		// A queued action must always have a job driving it. The retry will
		// build a fresh decision and action, so retire this one.
		if cancelErr := s.actions.TransitionAction(ctx, act.ID, models.ActionQueued, models.ActionCanceled); cancelErr != nil && !errors.Is(cancelErr, store.ErrInvalidTransition) {
			slog.Error("failed to cancel orphaned action", "action_id", act.ID, "error", cancelErr)
		}
		return fmt.Errorf("enqueue action job: %w", err)
	}
	if err := s.actions.SetActionJobID(ctx, act.ID, actionJob.ID); err != nil && !errors.Is(err, store.ErrInvalidTransition) {
		return fmt.Errorf("link action to job: %w", err)
	}

	s.notifier.Notify(ctx, notify.Event{
		Kind:       notify.KindDecision,
		AccountID:  act.AccountID,
		MessageID:  act.MessageID,
		ActionType: act.Type,
		Summary:    decision.Rationale,
	})
	return nil
}

// decide runs the two evaluation passes and the safety gate. A nil result
// with nil error means no action was proposed.
func (s *Service) decide(ctx context.Context, facts models.MessageFacts) (*models.DecisionCreateParams, error) {
	match, err := s.rules.Evaluate(ctx, facts.AccountID, facts)
	if err != nil {
		// A reached malformed rule is a misconfiguration, not a transient
		// fault; retrying cannot fix it.
		return nil, jobs.Fatal(fmt.Errorf("rule evaluation: %w", err))
	}

	if match != nil {
		res := safety.Enforce(safety.Proposal{
			ActionType: match.Rule.ActionType,
			Confidence: 1.0,
		}, s.policy)
		return &models.DecisionCreateParams{
			AccountID:        facts.AccountID,
			MessageID:        facts.MessageID,
			Source:           models.SourceRule,
			RuleID:           &match.Rule.ID,
			ActionType:       match.Rule.ActionType,
			ActionParams:     match.Rule.ActionParams,
			Confidence:       1.0,
			ApprovalRequired: res.ApprovalRequired,
			ApprovalReasons:  safety.ReasonStrings(res.Reasons),
			Rationale:        fmt.Sprintf("matched rule %q", match.Rule.Name),
		}, nil
	}

	proposal, err := s.classifier.Classify(ctx, facts)
	if err != nil {
		return nil, fmt.Errorf("model classification: %w", err)
	}
	if proposal == nil {
		return nil, nil
	}

	res := safety.Enforce(safety.Proposal{
		ActionType:       proposal.ActionType,
		Confidence:       proposal.Confidence,
		AdvisoryApproval: proposal.AdvisoryApproval,
	}, s.policy)
	return &models.DecisionCreateParams{
		AccountID:        facts.AccountID,
		MessageID:        facts.MessageID,
		Source:           models.SourceModel,
		ActionType:       proposal.ActionType,
		ActionParams:     proposal.Params,
		Confidence:       proposal.Confidence,
		ApprovalRequired: res.ApprovalRequired,
		ApprovalReasons:  safety.ReasonStrings(res.Reasons),
		Rationale:        proposal.Rationale,
		Telemetry:        proposal.Telemetry,
	}, nil
}

// messageFacts uses facts delivered with the event when present, otherwise
// fetches the message from the provider.
func (s *Service) messageFacts(ctx context.Context, payload ClassifyJobPayload) (models.MessageFacts, error) {
	if payload.Facts != nil {
		facts := *payload.Facts
		facts.AccountID = payload.AccountID
		facts.MessageID = payload.MessageID
		return facts, nil
	}

	client, err := s.clients(payload.AccountID)
	if err != nil {
		return models.MessageFacts{}, fmt.Errorf("provider client: %w", err)
	}
	msg, err := client.FetchMessage(ctx, payload.MessageID)
	if err != nil {
		return models.MessageFacts{}, fmt.Errorf("fetch message %s: %w", payload.MessageID, err)
	}
	return models.MessageFacts{
		AccountID: payload.AccountID,
		MessageID: msg.ID,
		Sender:    msg.Sender,
		Subject:   msg.Subject,
		Labels:    msg.State.Labels,
		Unread:    msg.State.Unread,
		Starred:   msg.State.Starred,
		InInbox:   msg.State.InInbox,
		InTrash:   msg.State.InTrash,
	}, nil
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
