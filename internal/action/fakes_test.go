package action

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quartzlabs/mailpilot/internal/models"
	"github.com/quartzlabs/mailpilot/internal/provider"
	"github.com/quartzlabs/mailpilot/internal/store"
)

// fakeActionStore mirrors the conditional-update semantics of the postgres
// store: transitions match on the current status and report
// ErrInvalidTransition when they match nothing.
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
	return copyAction(a), nil
}

func (f *fakeActionStore) GetActionByID(_ context.Context, id int64) (*models.Action, error) {
	a, ok := f.actions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyAction(a), nil
}

func (f *fakeActionStore) GetActionByPublicID(_ context.Context, publicID uuid.UUID) (*models.Action, error) {
	for _, a := range f.actions {
		if a.PublicID == publicID {
			return copyAction(a), nil
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

func copyAction(a *models.Action) *models.Action {
	cp := *a
	return &cp
}

// fakeJobStore records enqueues and cancellations.
type fakeJobStore struct {
	store.JobStore

	nextID   int64
	enqueued []*models.Job
	canceled []int64

	cancelErr error
}

func (f *fakeJobStore) EnqueueJob(_ context.Context, params store.EnqueueJobParams) (*models.Job, error) {
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
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceled = append(f.canceled, id)
	return nil
}

// countingClient wraps a provider client and counts mutating calls.
type countingClient struct {
	provider.Client
	mutations int
	fetchErr  error
}

func (c *countingClient) FetchMessage(ctx context.Context, id string) (*provider.Message, error) {
	if c.fetchErr != nil {
		return nil, fmt.Errorf("fetch %s: %w", id, c.fetchErr)
	}
	return c.Client.FetchMessage(ctx, id)
}

func (c *countingClient) MutateLabels(ctx context.Context, id string, add, remove []string) error {
	c.mutations++
	return c.Client.MutateLabels(ctx, id, add, remove)
}

func (c *countingClient) MoveToTrash(ctx context.Context, id string) error {
	c.mutations++
	return c.Client.MoveToTrash(ctx, id)
}

func (c *countingClient) RestoreFromTrash(ctx context.Context, id string) error {
	c.mutations++
	return c.Client.RestoreFromTrash(ctx, id)
}

func (c *countingClient) PermanentlyDelete(ctx context.Context, id string) error {
	c.mutations++
	return c.Client.PermanentlyDelete(ctx, id)
}

func factoryFor(client provider.Client) provider.ClientFactory {
	return func(string) (provider.Client, error) { return client, nil }
}
