package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/quartzlabs/mailpilot/internal/models"
	"github.com/quartzlabs/mailpilot/internal/pipeline"
	"github.com/quartzlabs/mailpilot/internal/store"
)

// Handler tests run against a real pipeline service backed by in-memory
// stores; only the queue and row plumbing is faked.

type stubJobStore struct {
	store.JobStore

	nextID   int64
	enqueued []*models.Job
}

func (f *stubJobStore) EnqueueJob(_ context.Context, params store.EnqueueJobParams) (*models.Job, error) {
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
	f.enqueued = append(f.enqueued, job)
	return job, nil
}

type stubActionStore struct {
	store.ActionStore

	actions map[int64]*models.Action
	links   map[int64]models.ActionLink // keyed by effect action id
}

func newStubActionStore() *stubActionStore {
	return &stubActionStore{
		actions: make(map[int64]*models.Action),
		links:   make(map[int64]models.ActionLink),
	}
}

func (f *stubActionStore) add(a *models.Action) *models.Action {
	if a.PublicID == uuid.Nil {
		a.PublicID = uuid.New()
	}
	f.actions[a.ID] = a
	return a
}

func (f *stubActionStore) GetActionByID(_ context.Context, id int64) (*models.Action, error) {
	a, ok := f.actions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}

func (f *stubActionStore) GetActionByPublicID(_ context.Context, publicID uuid.UUID) (*models.Action, error) {
	for _, a := range f.actions {
		if a.PublicID == publicID {
			return a, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *stubActionStore) GetUndoLink(_ context.Context, effectID int64) (*models.ActionLink, error) {
	link, ok := f.links[effectID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &link, nil
}

type stubRuleStore struct {
	store.RuleStore

	nextID int64
	rules  map[int64]*models.Rule
}

func newStubRuleStore() *stubRuleStore {
	return &stubRuleStore{rules: make(map[int64]*models.Rule)}
}

func (f *stubRuleStore) CreateRule(_ context.Context, params store.RuleCreateParams) (*models.Rule, error) {
	f.nextID++
	rule := &models.Rule{
		ID:           f.nextID,
		PublicID:     uuid.New(),
		Name:         params.Name,
		Scope:        params.Scope,
		ScopeValue:   params.ScopeValue,
		Priority:     params.Priority,
		Enabled:      true,
		Condition:    params.Condition,
		ActionType:   params.ActionType,
		ActionParams: params.ActionParams,
		CreatedAt:    time.Now().UTC(),
	}
	f.rules[rule.ID] = rule
	return rule, nil
}

func (f *stubRuleStore) ListRules(_ context.Context, limit, offset int) ([]models.Rule, error) {
	var out []models.Rule
	for id := int64(1); id <= f.nextID; id++ {
		if rule, ok := f.rules[id]; ok {
			out = append(out, *rule)
		}
	}
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *stubRuleStore) GetRuleByPublicID(_ context.Context, publicID uuid.UUID) (*models.Rule, error) {
	for _, rule := range f.rules {
		if rule.PublicID == publicID {
			return rule, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *stubRuleStore) DisableRule(_ context.Context, id int64, reason string) error {
	rule, ok := f.rules[id]
	if !ok {
		return store.ErrNotFound
	}
	rule.Enabled = false
	rule.DisabledReason = reason
	return nil
}

func (f *stubRuleStore) DeleteRule(_ context.Context, id int64) error {
	delete(f.rules, id)
	return nil
}

func newTestService(jobs *stubJobStore, actions *stubActionStore) *pipeline.Service {
	return pipeline.NewService(pipeline.Deps{
		Jobs:    jobs,
		Actions: actions,
	})
}

func decodeBody(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
