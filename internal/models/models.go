package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCanceled  JobStatus = "canceled"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCanceled
}

type Job struct {
	ID             int64
	PublicID       uuid.UUID
	Type           string
	Payload        json.RawMessage
	Priority       int
	Status         JobStatus
	Attempts       int
	MaxAttempts    int
	NotBefore      time.Time
	IdempotencyKey string
	HeartbeatAt    *time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DoneAt         *time.Time
}

// LastAttempt reports whether the current run is the job's final allowed
// attempt. Handlers use this to settle dependent records before the queue
// marks the job failed.
func (j *Job) LastAttempt() bool {
	return j.Attempts >= j.MaxAttempts
}

type RuleScope string

const (
	ScopeGlobal  RuleScope = "global"
	ScopeAccount RuleScope = "account"
	ScopeDomain  RuleScope = "domain"
	ScopeSender  RuleScope = "sender"
)

type Rule struct {
	ID             int64
	PublicID       uuid.UUID
	Name           string
	Scope          RuleScope
	ScopeValue     string
	Priority       int
	Enabled        bool
	DisabledReason string
	Condition      json.RawMessage
	ActionType     string
	ActionParams   json.RawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type DecisionSource string

const (
	SourceRule  DecisionSource = "rule"
	SourceModel DecisionSource = "model"
)

type Decision struct {
	ID               int64
	PublicID         uuid.UUID
	AccountID        string
	MessageID        string
	Source           DecisionSource
	RuleID           *int64
	ActionType       string
	ActionParams     json.RawMessage
	Confidence       float64
	ApprovalRequired bool
	ApprovalReasons  []string
	Rationale        string
	Telemetry        json.RawMessage
	CreatedAt        time.Time
}

type DecisionCreateParams struct {
	AccountID        string
	MessageID        string
	Source           DecisionSource
	RuleID           *int64
	ActionType       string
	ActionParams     json.RawMessage
	Confidence       float64
	ApprovalRequired bool
	ApprovalReasons  []string
	Rationale        string
	Telemetry        json.RawMessage
}

type ActionStatus string

const (
	ActionQueued          ActionStatus = "queued"
	ActionExecuting       ActionStatus = "executing"
	ActionApprovalPending ActionStatus = "approval_pending"
	ActionCompleted       ActionStatus = "completed"
	ActionFailed          ActionStatus = "failed"
	ActionCanceled        ActionStatus = "canceled"
	ActionRejected        ActionStatus = "rejected"
)

func (s ActionStatus) Terminal() bool {
	switch s {
	case ActionCompleted, ActionFailed, ActionCanceled, ActionRejected:
		return true
	}
	return false
}

type Action struct {
	ID         int64
	PublicID   uuid.UUID
	AccountID  string
	MessageID  string
	DecisionID *int64
	Type       string
	Params     json.RawMessage
	Status     ActionStatus
	Error      string
	ExecutedAt *time.Time
	UndoHint   json.RawMessage
	JobID      *int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type ActionCreateParams struct {
	AccountID  string
	MessageID  string
	DecisionID *int64
	Type       string
	Params     json.RawMessage
	Status     ActionStatus
	JobID      *int64
}

type LinkRelation string

const (
	RelationUndoOf      LinkRelation = "undo_of"
	RelationApprovalFor LinkRelation = "approval_for"
	RelationSpawned     LinkRelation = "spawned"
	RelationRelated     LinkRelation = "related"
)

type ActionLink struct {
	ID             int64
	CauseActionID  int64
	EffectActionID int64
	Relation       LinkRelation
	CreatedAt      time.Time
}

// UndoHint is the structured record an action leaves behind so a later undo
// can derive its inverse. Reversible=false is honored unconditionally by the
// undo resolver.
type UndoHint struct {
	PreLabels     []string        `json:"pre_labels"`
	PreUnread     bool            `json:"pre_unread"`
	PreStarred    bool            `json:"pre_starred"`
	PreInInbox    bool            `json:"pre_in_inbox"`
	PreInTrash    bool            `json:"pre_in_trash"`
	Action        string          `json:"action"`
	InverseAction string          `json:"inverse_action"`
	InverseParams json.RawMessage `json:"inverse_parameters,omitempty"`
	Reversible    bool            `json:"reversible"`
	WakeJobID     int64           `json:"wake_job_id,omitempty"`
}
