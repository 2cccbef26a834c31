package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/quartzlabs/mailpilot/internal/models"
	"github.com/quartzlabs/mailpilot/internal/store"
)

const actionColumns = `id, public_id, account_id, message_id, decision_id, type, params, status,
	error, executed_at, undo_hint, job_id, created_at, updated_at`

type ActionStore struct {
	db *sql.DB
}

func NewActionStore(db *sql.DB) *ActionStore {
	return &ActionStore{db: db}
}

func scanAction(row interface{ Scan(...any) error }) (*models.Action, error) {
	a := &models.Action{}
	err := row.Scan(
		&a.ID, &a.PublicID, &a.AccountID, &a.MessageID, &a.DecisionID,
		&a.Type, &a.Params, &a.Status, &a.Error, &a.ExecutedAt,
		&a.UndoHint, &a.JobID, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *ActionStore) CreateAction(ctx context.Context, params models.ActionCreateParams) (*models.Action, error) {
	actionParams := params.Params
	if len(actionParams) == 0 {
		actionParams = []byte("{}")
	}
	status := params.Status
	if status == "" {
		status = models.ActionQueued
	}
	return scanAction(s.db.QueryRowContext(ctx,
		`INSERT INTO actions (account_id, message_id, decision_id, type, params, status, job_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+actionColumns,
		params.AccountID, params.MessageID, params.DecisionID, params.Type,
		[]byte(actionParams), status, params.JobID,
	))
}

func (s *ActionStore) GetActionByID(ctx context.Context, id int64) (*models.Action, error) {
	a, err := scanAction(s.db.QueryRowContext(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return a, err
}

func (s *ActionStore) GetActionByPublicID(ctx context.Context, publicID uuid.UUID) (*models.Action, error) {
	a, err := scanAction(s.db.QueryRowContext(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE public_id = $1`, publicID))
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return a, err
}

func (s *ActionStore) TransitionAction(ctx context.Context, id int64, from, to models.ActionStatus) error {
	return s.conditionalUpdate(ctx,
		`UPDATE actions SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		id, from, to)
}

func (s *ActionStore) CompleteAction(ctx context.Context, id int64, hint json.RawMessage) error {
	return s.conditionalUpdate(ctx,
		`UPDATE actions
		 SET status = 'completed', undo_hint = $2, error = '', executed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = 'executing'`,
		id, []byte(hint))
}

func (s *ActionStore) FailAction(ctx context.Context, id int64, message string) error {
	return s.conditionalUpdate(ctx,
		`UPDATE actions
		 SET status = 'failed', error = $2, updated_at = NOW()
		 WHERE id = $1 AND status NOT IN ('completed', 'failed', 'canceled', 'rejected')`,
		id, message)
}

func (s *ActionStore) UpdateActionUndoHint(ctx context.Context, id int64, hint json.RawMessage) error {
	return s.conditionalUpdate(ctx,
		`UPDATE actions SET undo_hint = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'executing'`,
		id, []byte(hint))
}

func (s *ActionStore) SetActionJobID(ctx context.Context, id, jobID int64) error {
	return s.conditionalUpdate(ctx,
		`UPDATE actions SET job_id = $2, updated_at = NOW() WHERE id = $1`,
		id, jobID)
}

func (s *ActionStore) CreateActionLink(ctx context.Context, causeID, effectID int64, relation models.LinkRelation) (*models.ActionLink, error) {
	link := &models.ActionLink{}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO action_links (cause_action_id, effect_action_id, relation)
		 VALUES ($1, $2, $3)
		 RETURNING id, cause_action_id, effect_action_id, relation, created_at`,
		causeID, effectID, relation,
	).Scan(&link.ID, &link.CauseActionID, &link.EffectActionID, &link.Relation, &link.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && relation == models.RelationUndoOf {
			return nil, store.ErrAlreadyUndone
		}
		return nil, err
	}
	return link, nil
}

func (s *ActionStore) GetUndoLink(ctx context.Context, effectID int64) (*models.ActionLink, error) {
	link := &models.ActionLink{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, cause_action_id, effect_action_id, relation, created_at
		 FROM action_links WHERE effect_action_id = $1 AND relation = 'undo_of'`,
		effectID,
	).Scan(&link.ID, &link.CauseActionID, &link.EffectActionID, &link.Relation, &link.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return link, nil
}

func (s *ActionStore) conditionalUpdate(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrInvalidTransition
	}
	return nil
}
