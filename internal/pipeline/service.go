// Package pipeline wires the decision path together: classification jobs in,
// decisions and action jobs out, approvals and undos fed back in as jobs.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/quartzlabs/mailpilot/internal/action"
	"github.com/quartzlabs/mailpilot/internal/jobs"
	"github.com/quartzlabs/mailpilot/internal/models"
	"github.com/quartzlabs/mailpilot/internal/notify"
	"github.com/quartzlabs/mailpilot/internal/provider"
	"github.com/quartzlabs/mailpilot/internal/rules"
	"github.com/quartzlabs/mailpilot/internal/safety"
	"github.com/quartzlabs/mailpilot/internal/store"
)

type Deps struct {
	Jobs       store.JobStore
	Rules      *rules.Executor
	Decisions  store.DecisionStore
	Actions    store.ActionStore
	Executor   *action.Executor
	Resolver   *action.Resolver
	Clients    provider.ClientFactory
	Classifier Classifier
	Policy     safety.Policy
	Notifier   notify.Notifier
}

type Service struct {
	jobs       store.JobStore
	rules      *rules.Executor
	decisions  store.DecisionStore
	actions    store.ActionStore
	executor   *action.Executor
	resolver   *action.Resolver
	clients    provider.ClientFactory
	classifier Classifier
	policy     safety.Policy
	notifier   notify.Notifier
}

func NewService(deps Deps) *Service {
	classifier := deps.Classifier
	if classifier == nil {
		classifier = NoopClassifier{}
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &Service{
		jobs:       deps.Jobs,
		rules:      deps.Rules,
		decisions:  deps.Decisions,
		actions:    deps.Actions,
		executor:   deps.Executor,
		resolver:   deps.Resolver,
		clients:    deps.Clients,
		classifier: classifier,
		policy:     deps.Policy,
		notifier:   notifier,
	}
}

// Register installs every pipeline handler on the worker registry.
func (s *Service) Register(reg *jobs.Registry) {
	reg.Register(JobTypeClassify, s.HandleClassify)
	reg.Register(JobTypeExecuteAction, s.HandleExecuteAction)
	reg.Register(action.JobTypeSend, s.HandleSendAction)
	reg.Register(action.JobTypeWake, s.HandleWakeSnooze)
	reg.Register(JobTypeUndoAction, s.HandleUndoAction)
	reg.Register(JobTypeApproval, s.HandleApproval)
}

// EnqueueClassification turns an inbound message event into a classify job.
// Re-delivery of the same event is absorbed by the idempotency key.
func (s *Service) EnqueueClassification(ctx context.Context, facts models.MessageFacts) (*models.Job, error) {
	payload, err := json.Marshal(ClassifyJobPayload{
		AccountID: facts.AccountID,
		MessageID: facts.MessageID,
		Facts:     &facts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal classify payload: %w", err)
	}
	return s.jobs.EnqueueJob(ctx, store.EnqueueJobParams{
		Type:           JobTypeClassify,
		Payload:        payload,
		IdempotencyKey: Key(JobTypeClassify, facts.AccountID, facts.MessageID),
	})
}

// EnqueueUndo schedules reversal of a completed action.
func (s *Service) EnqueueUndo(ctx context.Context, accountID string, actionID int64) (*models.Job, error) {
	payload, err := json.Marshal(UndoJobPayload{AccountID: accountID, ActionID: actionID})
	if err != nil {
		return nil, fmt.Errorf("marshal undo payload: %w", err)
	}
	return s.jobs.EnqueueJob(ctx, store.EnqueueJobParams{
		Type:           JobTypeUndoAction,
		Payload:        payload,
		IdempotencyKey: Key(JobTypeUndoAction, accountID, strconv.FormatInt(actionID, 10)),
	})
}

// EnqueueApproval records a human approve/reject intent as a job.
func (s *Service) EnqueueApproval(ctx context.Context, p ApprovalJobPayload) (*models.Job, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal approval payload: %w", err)
	}
	verdict := "reject"
	if p.Approve {
		verdict = "approve"
	}
	return s.jobs.EnqueueJob(ctx, store.EnqueueJobParams{
		Type:           JobTypeApproval,
		Payload:        payload,
		Priority:       10,
		IdempotencyKey: Key(JobTypeApproval, p.AccountID, strconv.FormatInt(p.ActionID, 10)+":"+verdict),
	})
}
