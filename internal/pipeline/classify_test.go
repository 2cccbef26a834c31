package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/quartzlabs/mailpilot/internal/action"
	"github.com/quartzlabs/mailpilot/internal/jobs"
	"github.com/quartzlabs/mailpilot/internal/models"
	"github.com/quartzlabs/mailpilot/internal/notify"
	"github.com/quartzlabs/mailpilot/internal/provider"
	"github.com/quartzlabs/mailpilot/internal/rules"
	"github.com/quartzlabs/mailpilot/internal/safety"
)

type testEnv struct {
	service   *Service
	jobs      *fakeJobStore
	decisions *fakeDecisionStore
	actions   *fakeActionStore
	ruleStore *fakeRuleStore
	notifier  *recordingNotifier
	client    *provider.MemoryClient
}

func newTestEnv(t *testing.T, opts ...func(*Deps)) *testEnv {
	t.Helper()
	env := &testEnv{
		jobs:      &fakeJobStore{},
		decisions: &fakeDecisionStore{},
		actions:   newFakeActionStore(),
		ruleStore: &fakeRuleStore{},
		notifier:  &recordingNotifier{},
		client:    provider.NewMemoryClient(),
	}
	factory := factoryFor(env.client)
	executor := action.NewExecutor(env.actions, env.jobs, factory)
	deps := Deps{
		Jobs:      env.jobs,
		Rules:     rules.NewExecutor(env.ruleStore),
		Decisions: env.decisions,
		Actions:   env.actions,
		Executor:  executor,
		Resolver:  action.NewResolver(env.actions, env.jobs, executor),
		Clients:   factory,
		Policy:    safety.Policy{ConfidenceThreshold: 0.8},
		Notifier:  env.notifier,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	env.service = NewService(deps)
	return env
}

func classifyJob(t *testing.T, facts models.MessageFacts) *models.Job {
	t.Helper()
	payload, err := json.Marshal(ClassifyJobPayload{
		AccountID: facts.AccountID,
		MessageID: facts.MessageID,
		Facts:     &facts,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &models.Job{ID: 100, Type: JobTypeClassify, Payload: payload, Attempts: 1, MaxAttempts: 5}
}

func invoiceFacts() models.MessageFacts {
	return models.MessageFacts{
		AccountID: "acct-1",
		MessageID: "msg-1",
		Sender:    "billing@example.com",
		Subject:   "Invoice 42",
	}
}

func TestHandleClassifyRuleMatch(t *testing.T) {
	env := newTestEnv(t)
	env.ruleStore.rules = []models.Rule{{
		ID: 1, Name: "archive invoices", Enabled: true,
		Condition:  json.RawMessage(`{"type":"subject_contains","value":"invoice"}`),
		ActionType: action.TypeArchive,
	}}

	if err := env.service.HandleClassify(context.Background(), classifyJob(t, invoiceFacts())); err != nil {
		t.Fatalf("HandleClassify: %v", err)
	}

	if len(env.decisions.decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(env.decisions.decisions))
	}
	d := env.decisions.decisions[0]
	if d.Source != models.SourceRule || d.Confidence != 1.0 {
		t.Errorf("decision = source %s confidence %v", d.Source, d.Confidence)
	}
	if d.RuleID == nil || *d.RuleID != 1 {
		t.Error("decision should reference the matched rule")
	}
	if d.ApprovalRequired {
		t.Errorf("safe rule action should not need approval: %v", d.ApprovalReasons)
	}

	a, err := env.actions.GetActionByID(context.Background(), 1)
	if err != nil {
		t.Fatalf("action not created: %v", err)
	}
	if a.Status != models.ActionQueued || a.Type != action.TypeArchive {
		t.Errorf("action = %s %s", a.Type, a.Status)
	}
	if a.JobID == nil {
		t.Error("action should be linked to its execute job")
	}

	execJobs := env.jobs.byType(JobTypeExecuteAction)
	if len(execJobs) != 1 {
		t.Fatalf("expected 1 execute job, got %d", len(execJobs))
	}

	kinds := env.notifier.kinds()
	if len(kinds) != 1 || kinds[0] != notify.KindDecision {
		t.Errorf("notifications = %v", kinds)
	}
}

func TestHandleClassifyDangerousRuleNeedsApproval(t *testing.T) {
	env := newTestEnv(t)
	env.ruleStore.rules = []models.Rule{{
		ID: 1, Name: "nuke spam", Enabled: true,
		Condition:  json.RawMessage(`{"type":"subject_contains","value":"invoice"}`),
		ActionType: action.TypePermanentDelete,
	}}

	if err := env.service.HandleClassify(context.Background(), classifyJob(t, invoiceFacts())); err != nil {
		t.Fatalf("HandleClassify: %v", err)
	}

	a, err := env.actions.GetActionByID(context.Background(), 1)
	if err != nil {
		t.Fatalf("action not created: %v", err)
	}
	if a.Status != models.ActionApprovalPending {
		t.Errorf("status = %s, want approval_pending", a.Status)
	}
	if got := env.jobs.byType(JobTypeExecuteAction); len(got) != 0 {
		t.Errorf("no execute job may exist before approval, got %d", len(got))
	}
	kinds := env.notifier.kinds()
	if len(kinds) != 1 || kinds[0] != notify.KindApprovalNeeded {
		t.Errorf("notifications = %v", kinds)
	}
}

func TestHandleClassifyEnqueueFailureCancelsAction(t *testing.T) {
	env := newTestEnv(t)
	env.ruleStore.rules = []models.Rule{{
		ID: 1, Name: "archive invoices", Enabled: true,
		Condition:  json.RawMessage(`{"type":"subject_contains","value":"invoice"}`),
		ActionType: action.TypeArchive,
	}}

	env.jobs.enqueueErr = errors.New("connection reset")
	job := classifyJob(t, invoiceFacts())
	err := env.service.HandleClassify(context.Background(), job)
	if err == nil {
		t.Fatal("expected error from failed enqueue")
	}
	if jobs.IsFatal(err) {
		t.Fatalf("transient enqueue failure must stay retryable: %v", err)
	}

	// The action created on the failed attempt is retired, not left queued
	// with no job referencing it.
	a, _ := env.actions.GetActionByID(context.Background(), 1)
	if a.Status != models.ActionCanceled {
		t.Errorf("orphaned action status = %s, want canceled", a.Status)
	}

	// The retry builds a fresh decision and action pair that goes through.
	if err := env.service.HandleClassify(context.Background(), job); err != nil {
		t.Fatalf("retried HandleClassify: %v", err)
	}
	fresh, _ := env.actions.GetActionByID(context.Background(), 2)
	if fresh.Status != models.ActionQueued {
		t.Errorf("retried action status = %s, want queued", fresh.Status)
	}
	if len(env.jobs.byType(JobTypeExecuteAction)) != 1 {
		t.Errorf("expected 1 execute job, got %d", len(env.jobs.byType(JobTypeExecuteAction)))
	}
}

func TestHandleClassifyNoMatchNoClassifier(t *testing.T) {
	env := newTestEnv(t)

	if err := env.service.HandleClassify(context.Background(), classifyJob(t, invoiceFacts())); err != nil {
		t.Fatalf("HandleClassify: %v", err)
	}
	if len(env.decisions.decisions) != 0 {
		t.Errorf("no decision expected, got %d", len(env.decisions.decisions))
	}
	if len(env.actions.actions) != 0 {
		t.Errorf("no action expected, got %d", len(env.actions.actions))
	}
}

func TestHandleClassifyModelProposal(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Classifier = stubClassifier{proposal: &Proposal{
			ActionType: action.TypeStar,
			Confidence: 0.6,
			Rationale:  "looks important",
		}}
	})

	if err := env.service.HandleClassify(context.Background(), classifyJob(t, invoiceFacts())); err != nil {
		t.Fatalf("HandleClassify: %v", err)
	}

	if len(env.decisions.decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(env.decisions.decisions))
	}
	d := env.decisions.decisions[0]
	if d.Source != models.SourceModel {
		t.Errorf("source = %s, want model", d.Source)
	}
	// Confidence 0.6 under threshold 0.8: approval required.
	if !d.ApprovalRequired {
		t.Error("low-confidence proposal should need approval")
	}
	a, _ := env.actions.GetActionByID(context.Background(), 1)
	if a.Status != models.ActionApprovalPending {
		t.Errorf("status = %s, want approval_pending", a.Status)
	}
}

func TestHandleClassifyMalformedReachedRuleIsFatal(t *testing.T) {
	env := newTestEnv(t)
	env.ruleStore.rules = []models.Rule{{
		ID: 1, Name: "broken", Enabled: true,
		Condition:  json.RawMessage(`{"op":"and"}`),
		ActionType: action.TypeArchive,
	}}

	err := env.service.HandleClassify(context.Background(), classifyJob(t, invoiceFacts()))
	if err == nil {
		t.Fatal("expected error")
	}
	if !jobs.IsFatal(err) {
		t.Errorf("misconfigured rule should be fatal, got %v", err)
	}
}

func TestHandleClassifyBadPayloadIsFatal(t *testing.T) {
	env := newTestEnv(t)
	job := &models.Job{ID: 1, Type: JobTypeClassify, Payload: json.RawMessage(`{"account_id":""}`)}

	err := env.service.HandleClassify(context.Background(), job)
	if err == nil || !jobs.IsFatal(err) {
		t.Errorf("expected fatal error, got %v", err)
	}
}

func TestHandleClassifyFetchesFactsWhenAbsent(t *testing.T) {
	env := newTestEnv(t)
	env.client.Put(provider.Message{
		ID: "msg-9", Sender: "alice@example.com", Subject: "invoice due",
		State: provider.MessageState{Labels: []string{"INBOX"}, InInbox: true},
	})
	env.ruleStore.rules = []models.Rule{{
		ID: 1, Name: "archive invoices", Enabled: true,
		Condition:  json.RawMessage(`{"type":"subject_contains","value":"invoice"}`),
		ActionType: action.TypeArchive,
	}}

	payload, _ := json.Marshal(ClassifyJobPayload{AccountID: "acct-1", MessageID: "msg-9"})
	job := &models.Job{ID: 5, Type: JobTypeClassify, Payload: payload, Attempts: 1, MaxAttempts: 5}

	if err := env.service.HandleClassify(context.Background(), job); err != nil {
		t.Fatalf("HandleClassify: %v", err)
	}
	if len(env.decisions.decisions) != 1 {
		t.Fatalf("expected a decision from fetched facts, got %d", len(env.decisions.decisions))
	}
}

func TestEnqueueClassificationIdempotent(t *testing.T) {
	env := newTestEnv(t)
	facts := invoiceFacts()

	first, err := env.service.EnqueueClassification(context.Background(), facts)
	if err != nil {
		t.Fatalf("EnqueueClassification: %v", err)
	}
	second, err := env.service.EnqueueClassification(context.Background(), facts)
	if err != nil {
		t.Fatalf("EnqueueClassification: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("redelivery created a new job: %d then %d", first.ID, second.ID)
	}
	if len(env.jobs.enqueued) != 1 {
		t.Errorf("expected 1 job, got %d", len(env.jobs.enqueued))
	}
}
