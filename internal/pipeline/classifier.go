package pipeline

import (
	"context"
	"encoding/json"

	"github.com/quartzlabs/mailpilot/internal/models"
)

// Proposal is a model-assisted action suggestion for a message that no rule
// matched.
type Proposal struct {
	ActionType       string
	Params           json.RawMessage
	Confidence       float64
	Rationale        string
	AdvisoryApproval bool
	Telemetry        json.RawMessage
}

// Classifier is the LLM-assisted second pass. It is an external
// collaborator; a nil proposal with a nil error means "no action suggested".
type Classifier interface {
	Classify(ctx context.Context, msg models.MessageFacts) (*Proposal, error)
}

// NoopClassifier never proposes anything. It is the default when no model
// backend is configured.
type NoopClassifier struct{}

func (NoopClassifier) Classify(context.Context, models.MessageFacts) (*Proposal, error) {
	return nil, nil
}
