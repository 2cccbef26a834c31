package postgres

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/quartzlabs/mailpilot/internal/models"
	"github.com/quartzlabs/mailpilot/internal/store"
)

const ruleColumns = `id, public_id, name, scope, scope_value, priority, enabled, disabled_reason,
	condition, action_type, action_params, created_at, updated_at`

type RuleStore struct {
	db *sql.DB
}

func NewRuleStore(db *sql.DB) *RuleStore {
	return &RuleStore{db: db}
}

func scanRule(row interface{ Scan(...any) error }) (*models.Rule, error) {
	rule := &models.Rule{}
	err := row.Scan(
		&rule.ID, &rule.PublicID, &rule.Name, &rule.Scope, &rule.ScopeValue,
		&rule.Priority, &rule.Enabled, &rule.DisabledReason,
		&rule.Condition, &rule.ActionType, &rule.ActionParams,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *RuleStore) CreateRule(ctx context.Context, params store.RuleCreateParams) (*models.Rule, error) {
	actionParams := params.ActionParams
	if len(actionParams) == 0 {
		actionParams = []byte("{}")
	}
	return scanRule(s.db.QueryRowContext(ctx,
		`INSERT INTO rules (name, scope, scope_value, priority, condition, action_type, action_params)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+ruleColumns,
		params.Name, params.Scope, params.ScopeValue, params.Priority,
		[]byte(params.Condition), params.ActionType, []byte(actionParams),
	))
}

func (s *RuleStore) ListEnabledRules(ctx context.Context, scopes []store.ScopeFilter) ([]models.Rule, error) {
	if len(scopes) == 0 {
		return nil, nil
	}

	clauses := make([]string, 0, len(scopes))
	args := make([]any, 0, len(scopes)*2)
	for _, f := range scopes {
		args = append(args, string(f.Scope))
		if f.Scope == models.ScopeGlobal {
			clauses = append(clauses, "(scope = $"+strconv.Itoa(len(args))+")")
			continue
		}
		args = append(args, f.Value)
		clauses = append(clauses, "(scope = $"+strconv.Itoa(len(args)-1)+" AND LOWER(scope_value) = LOWER($"+strconv.Itoa(len(args))+"))")
	}

	query := `SELECT ` + ruleColumns + ` FROM rules
		WHERE enabled = TRUE AND (` + strings.Join(clauses, " OR ") + `)
		ORDER BY priority ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []models.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

func (s *RuleStore) ListRules(ctx context.Context, limit, offset int) ([]models.Rule, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM rules ORDER BY priority ASC, id ASC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []models.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

func (s *RuleStore) GetRuleByID(ctx context.Context, id int64) (*models.Rule, error) {
	rule, err := scanRule(s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return rule, err
}

func (s *RuleStore) GetRuleByPublicID(ctx context.Context, publicID uuid.UUID) (*models.Rule, error) {
	rule, err := scanRule(s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE public_id = $1`, publicID))
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return rule, err
}

func (s *RuleStore) DisableRule(ctx context.Context, id int64, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rules SET enabled = FALSE, disabled_reason = $2, updated_at = NOW() WHERE id = $1`,
		id, reason,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *RuleStore) DeleteRule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
