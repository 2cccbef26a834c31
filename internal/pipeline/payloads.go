package pipeline

import (
	"fmt"
	"strings"

	"github.com/quartzlabs/mailpilot/internal/models"
)

// Job types owned by the pipeline. The action executor owns the send and
// wake job types it schedules itself.
const (
	JobTypeClassify      = "classify"
	JobTypeExecuteAction = "execute_action"
	JobTypeUndoAction    = "undo_action"
	JobTypeApproval      = "resolve_approval"
)

// Key builds the idempotency key convention {job_type}:{account_id}:{natural_key}.
func Key(jobType, accountID, naturalKey string) string {
	return fmt.Sprintf("%s:%s:%s", jobType, accountID, naturalKey)
}

type ClassifyJobPayload struct {
	AccountID string `json:"account_id"`
	MessageID string `json:"message_id"`
	// Facts, when present, are the message metadata delivered with the
	// inbound event. When absent the handler fetches them from the provider.
	Facts *models.MessageFacts `json:"facts,omitempty"`
}

func (p *ClassifyJobPayload) Normalize() {
	p.AccountID = strings.TrimSpace(p.AccountID)
	p.MessageID = strings.TrimSpace(p.MessageID)
}

func (p ClassifyJobPayload) IsUsable() bool {
	return p.AccountID != "" && p.MessageID != ""
}

type ActionJobPayload struct {
	AccountID string `json:"account_id"`
	ActionID  int64  `json:"action_id"`
}

type UndoJobPayload struct {
	AccountID string `json:"account_id"`
	// ActionID identifies the original, completed action being reversed.
	ActionID int64 `json:"action_id"`
}

type ApprovalJobPayload struct {
	AccountID string `json:"account_id"`
	ActionID  int64  `json:"action_id"`
	Approve   bool   `json:"approve"`
	DecidedBy string `json:"decided_by,omitempty"`
}
