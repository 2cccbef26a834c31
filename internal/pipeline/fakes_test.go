package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quartzlabs/mailpilot/internal/models"
	"github.com/quartzlabs/mailpilot/internal/notify"
	"github.com/quartzlabs/mailpilot/internal/provider"
	"github.com/quartzlabs/mailpilot/internal/store"
)

type fakeJobStore struct {
	store.JobStore

	nextID   int64
	enqueued []*models.Job
	canceled []int64

	// enqueueErr fails the next EnqueueJob call once.
	enqueueErr error
}

func (f *fakeJobStore) EnqueueJob(_ context.Context, params store.EnqueueJobParams) (*models.Job, error) {
	if f.enqueueErr != nil {
		err := f.enqueueErr
		f.enqueueErr = nil
		return nil, err
	}
	if params.IdempotencyKey != "" {
		for _, job := range f.enqueued {
			if job.IdempotencyKey == params.IdempotencyKey {
				return job, nil
			}
		}
	}
	f.nextID++
	job := &models.Job{
		ID:             f.nextID,
		PublicID:       uuid.New(),
		Type:           params.Type,
		Payload:        params.Payload,
		Priority:       params.Priority,
		Status:         models.JobQueued,
		IdempotencyKey: params.IdempotencyKey,
	}
	if params.NotBefore != nil {
		job.NotBefore = *params.NotBefore
	}
	f.enqueued = append(f.enqueued, job)
	return job, nil
}

func (f *fakeJobStore) CancelJob(_ context.Context, id int64) error {
	f.canceled = append(f.canceled, id)
	return nil
}

func (f *fakeJobStore) byType(jobType string) []*models.Job {
	var out []*models.Job
	for _, job := range f.enqueued {
		if job.Type == jobType {
			out = append(out, job)
		}
	}
	return out
}

type fakeDecisionStore struct {
	nextID    int64
	decisions []*models.Decision
}

func (f *fakeDecisionStore) CreateDecision(_ context.Context, params models.DecisionCreateParams) (*models.Decision, error) {
	f.nextID++
	d := &models.Decision{
		ID:               f.nextID,
		PublicID:         uuid.New(),
		AccountID:        params.AccountID,
		MessageID:        params.MessageID,
		Source:           params.Source,
		RuleID:           params.RuleID,
		ActionType:       params.ActionType,
		ActionParams:     params.ActionParams,
		Confidence:       params.Confidence,
		ApprovalRequired: params.ApprovalRequired,
		ApprovalReasons:  params.ApprovalReasons,
		Rationale:        params.Rationale,
		Telemetry:        params.Telemetry,
		CreatedAt:        time.Now().UTC(),
	}
	f.decisions = append(f.decisions, d)
	return d, nil
}

func (f *fakeDecisionStore) GetDecisionByID(_ context.Context, id int64) (*models.Decision, error) {
	for _, d := range f.decisions {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, store.ErrNotFound
}

type fakeActionStore struct {
	nextID  int64
	actions map[int64]*models.Action
	links   []models.ActionLink
}

func newFakeActionStore() *fakeActionStore {
	return &fakeActionStore{actions: make(map[int64]*models.Action)}
}

func (f *fakeActionStore) CreateAction(_ context.Context, params models.ActionCreateParams) (*models.Action, error) {
	f.nextID++
	a := &models.Action{
		ID:         f.nextID,
		PublicID:   uuid.New(),
		AccountID:  params.AccountID,
		MessageID:  params.MessageID,
		DecisionID: params.DecisionID,
		Type:       params.Type,
		Params:     params.Params,
		Status:     params.Status,
		JobID:      params.JobID,
		CreatedAt:  time.Now().UTC(),
	}
	f.actions[a.ID] = a
	cp := *a
	return &cp, nil
}

func (f *fakeActionStore) GetActionByID(_ context.Context, id int64) (*models.Action, error) {
	a, ok := f.actions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeActionStore) GetActionByPublicID(_ context.Context, publicID uuid.UUID) (*models.Action, error) {
	for _, a := range f.actions {
		if a.PublicID == publicID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeActionStore) TransitionAction(_ context.Context, id int64, from, to models.ActionStatus) error {
	a, ok := f.actions[id]
	if !ok || a.Status != from {
		return store.ErrInvalidTransition
	}
	a.Status = to
	return nil
}

func (f *fakeActionStore) CompleteAction(_ context.Context, id int64, hint json.RawMessage) error {
	a, ok := f.actions[id]
	if !ok || a.Status != models.ActionExecuting {
		return store.ErrInvalidTransition
	}
	now := time.Now().UTC()
	a.Status = models.ActionCompleted
	a.UndoHint = hint
	a.ExecutedAt = &now
	return nil
}

func (f *fakeActionStore) FailAction(_ context.Context, id int64, message string) error {
	a, ok := f.actions[id]
	if !ok || a.Status.Terminal() {
		return store.ErrInvalidTransition
	}
	a.Status = models.ActionFailed
	a.Error = message
	return nil
}

func (f *fakeActionStore) UpdateActionUndoHint(_ context.Context, id int64, hint json.RawMessage) error {
	a, ok := f.actions[id]
	if !ok || a.Status != models.ActionExecuting {
		return store.ErrInvalidTransition
	}
	a.UndoHint = hint
	return nil
}

func (f *fakeActionStore) SetActionJobID(_ context.Context, id, jobID int64) error {
	a, ok := f.actions[id]
	if !ok {
		return store.ErrNotFound
	}
	a.JobID = &jobID
	return nil
}

func (f *fakeActionStore) CreateActionLink(_ context.Context, causeID, effectID int64, relation models.LinkRelation) (*models.ActionLink, error) {
	if relation == models.RelationUndoOf {
		for _, link := range f.links {
			if link.Relation == models.RelationUndoOf && link.EffectActionID == effectID {
				return nil, store.ErrAlreadyUndone
			}
		}
	}
	link := models.ActionLink{
		ID:             int64(len(f.links) + 1),
		CauseActionID:  causeID,
		EffectActionID: effectID,
		Relation:       relation,
		CreatedAt:      time.Now().UTC(),
	}
	f.links = append(f.links, link)
	return &link, nil
}

func (f *fakeActionStore) GetUndoLink(_ context.Context, effectID int64) (*models.ActionLink, error) {
	for _, link := range f.links {
		if link.Relation == models.RelationUndoOf && link.EffectActionID == effectID {
			cp := link
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

type fakeRuleStore struct {
	store.RuleStore

	rules []models.Rule
}

func (f *fakeRuleStore) ListEnabledRules(context.Context, []store.ScopeFilter) ([]models.Rule, error) {
	return f.rules, nil
}

// recordingNotifier captures events for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

// stubClassifier returns a fixed proposal.
type stubClassifier struct {
	proposal *Proposal
	err      error
}

func (s stubClassifier) Classify(context.Context, models.MessageFacts) (*Proposal, error) {
	return s.proposal, s.err
}

func factoryFor(client provider.Client) provider.ClientFactory {
	return func(string) (provider.Client, error) { return client, nil }
}
