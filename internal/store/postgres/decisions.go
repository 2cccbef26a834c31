package postgres

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/quartzlabs/mailpilot/internal/models"
	"github.com/quartzlabs/mailpilot/internal/store"
)

const decisionColumns = `id, public_id, account_id, message_id, source, rule_id, action_type,
	action_params, confidence, approval_required, approval_reasons, rationale, telemetry, created_at`

type DecisionStore struct {
	db *sql.DB
}

func NewDecisionStore(db *sql.DB) *DecisionStore {
	return &DecisionStore{db: db}
}

func scanDecision(row interface{ Scan(...any) error }) (*models.Decision, error) {
	d := &models.Decision{}
	var reasons pq.StringArray
	err := row.Scan(
		&d.ID, &d.PublicID, &d.AccountID, &d.MessageID, &d.Source, &d.RuleID,
		&d.ActionType, &d.ActionParams, &d.Confidence, &d.ApprovalRequired,
		&reasons, &d.Rationale, &d.Telemetry, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.ApprovalReasons = []string(reasons)
	return d, nil
}

func (s *DecisionStore) CreateDecision(ctx context.Context, params models.DecisionCreateParams) (*models.Decision, error) {
	actionParams := params.ActionParams
	if len(actionParams) == 0 {
		actionParams = []byte("{}")
	}
	telemetry := params.Telemetry
	if len(telemetry) == 0 {
		telemetry = []byte("{}")
	}
	return scanDecision(s.db.QueryRowContext(ctx,
		`INSERT INTO decisions (account_id, message_id, source, rule_id, action_type, action_params,
			confidence, approval_required, approval_reasons, rationale, telemetry)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING `+decisionColumns,
		params.AccountID, params.MessageID, params.Source, params.RuleID,
		params.ActionType, []byte(actionParams), params.Confidence,
		params.ApprovalRequired, pq.Array(params.ApprovalReasons),
		params.Rationale, []byte(telemetry),
	))
}

func (s *DecisionStore) GetDecisionByID(ctx context.Context, id int64) (*models.Decision, error) {
	d, err := scanDecision(s.db.QueryRowContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return d, err
}
