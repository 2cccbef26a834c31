// Package notify renders decision and action summaries for human visibility.
// Delivery is fire-and-forget: the pipeline never depends on it succeeding.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"
)

type Event struct {
	Kind       string `json:"kind"`
	AccountID  string `json:"account_id"`
	MessageID  string `json:"message_id"`
	ActionType string `json:"action_type,omitempty"`
	Summary    string `json:"summary"`
}

const (
	KindDecision        = "decision"
	KindActionCompleted = "action_completed"
	KindActionFailed    = "action_failed"
	KindApprovalNeeded  = "approval_needed"
	KindUndo            = "undo"
)

type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, Event) {}

// NATSPublisher publishes one message per event on a subject derived from
// the event kind. Publish failures are logged and dropped.
type NATSPublisher struct {
	conn          *nats.Conn
	subjectPrefix string
}

func NewNATSPublisher(url, subjectPrefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	if subjectPrefix == "" {
		subjectPrefix = "mailpilot"
	}
	return &NATSPublisher{conn: conn, subjectPrefix: subjectPrefix}, nil
}

func (p *NATSPublisher) Notify(_ context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to encode notification", "kind", ev.Kind, "error", err)
		return
	}
	subject := p.subjectPrefix + ".events." + ev.Kind
	if err := p.conn.Publish(subject, data); err != nil {
		slog.Error("failed to publish notification", "subject", subject, "error", err)
	}
}

func (p *NATSPublisher) Close() {
	p.conn.Close()
}
