package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/quartzlabs/mailpilot/internal/models"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a conditional status update
	// matched no row, meaning another writer got there first or the caller
	// holds a stale view.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrAlreadyUndone is returned when an undo-of link already exists for
	// the target action.
	ErrAlreadyUndone = errors.New("action already undone")
)

type EnqueueJobParams struct {
	Type           string
	Payload        json.RawMessage
	Priority       int
	MaxAttempts    int
	NotBefore      *time.Time
	IdempotencyKey string
}

type JobStore interface {
	// EnqueueJob creates a queued job. A duplicate idempotency key is not an
	// error: the existing job is returned unchanged.
	EnqueueJob(ctx context.Context, params EnqueueJobParams) (*models.Job, error)
	// ClaimNextJob atomically claims the highest-priority eligible job, or
	// returns nil when none is eligible.
	ClaimNextJob(ctx context.Context) (*models.Job, error)
	HeartbeatJob(ctx context.Context, id int64) error
	CompleteJob(ctx context.Context, id int64) error
	FailJob(ctx context.Context, id int64, lastError string) error
	RetryJob(ctx context.Context, id int64, notBefore time.Time, lastError string) error
	CancelJob(ctx context.Context, id int64) error
	GetJobByID(ctx context.Context, id int64) (*models.Job, error)
	// RequeueStaleJobs returns running jobs whose heartbeat is older than
	// olderThan to the queue so another worker can pick them up.
	RequeueStaleJobs(ctx context.Context, olderThan time.Duration) (int, error)
}

type RuleCreateParams struct {
	Name         string
	Scope        models.RuleScope
	ScopeValue   string
	Priority     int
	Condition    json.RawMessage
	ActionType   string
	ActionParams json.RawMessage
}

type ScopeFilter struct {
	Scope models.RuleScope
	Value string
}

type RuleStore interface {
	CreateRule(ctx context.Context, params RuleCreateParams) (*models.Rule, error)
	// ListEnabledRules returns enabled rules matching any of the given scope
	// filters, ordered by priority ascending with creation order as the
	// tiebreak.
	ListEnabledRules(ctx context.Context, scopes []ScopeFilter) ([]models.Rule, error)
	ListRules(ctx context.Context, limit, offset int) ([]models.Rule, error)
	GetRuleByID(ctx context.Context, id int64) (*models.Rule, error)
	GetRuleByPublicID(ctx context.Context, publicID uuid.UUID) (*models.Rule, error)
	DisableRule(ctx context.Context, id int64, reason string) error
	DeleteRule(ctx context.Context, id int64) error
}

type DecisionStore interface {
	CreateDecision(ctx context.Context, params models.DecisionCreateParams) (*models.Decision, error)
	GetDecisionByID(ctx context.Context, id int64) (*models.Decision, error)
}

type ActionStore interface {
	CreateAction(ctx context.Context, params models.ActionCreateParams) (*models.Action, error)
	GetActionByID(ctx context.Context, id int64) (*models.Action, error)
	GetActionByPublicID(ctx context.Context, publicID uuid.UUID) (*models.Action, error)
	// TransitionAction performs a conditional single-row status update and
	// returns ErrInvalidTransition when the action was not in from.
	TransitionAction(ctx context.Context, id int64, from, to models.ActionStatus) error
	// CompleteAction moves an executing action to completed, persisting its
	// undo hint and executed-at timestamp.
	CompleteAction(ctx context.Context, id int64, hint json.RawMessage) error
	FailAction(ctx context.Context, id int64, message string) error
	// UpdateActionUndoHint replaces the hint of an action that is still
	// executing. Used by delayed/outbound actions to persist side-effect
	// identifiers before completion.
	UpdateActionUndoHint(ctx context.Context, id int64, hint json.RawMessage) error
	SetActionJobID(ctx context.Context, id, jobID int64) error
	// CreateActionLink records a directed edge between two actions. For the
	// undo-of relation a second insert for the same effect action returns
	// ErrAlreadyUndone.
	CreateActionLink(ctx context.Context, causeID, effectID int64, relation models.LinkRelation) (*models.ActionLink, error)
	GetUndoLink(ctx context.Context, effectID int64) (*models.ActionLink, error)
}
