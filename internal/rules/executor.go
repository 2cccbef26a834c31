package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/quartzlabs/mailpilot/internal/models"
	"github.com/quartzlabs/mailpilot/internal/store"
)

// Match is a rule whose condition tree matched the message.
type Match struct {
	Rule      models.Rule
	Condition *Condition
}

// Executor loads the rules applicable to a message and evaluates them in
// priority order.
type Executor struct {
	rules store.RuleStore
}

func NewExecutor(rules store.RuleStore) *Executor {
	return &Executor{rules: rules}
}

// LoadApplicable returns the enabled rules scoped to the message, ordered by
// priority ascending with creation order as the tiebreak. Domain and sender
// scoping are omitted when the sender address is absent or malformed.
func (e *Executor) LoadApplicable(ctx context.Context, accountID string, msg models.MessageFacts) ([]models.Rule, error) {
	scopes := []store.ScopeFilter{
		{Scope: models.ScopeGlobal},
		{Scope: models.ScopeAccount, Value: accountID},
	}
	if domain := msg.SenderDomain(); domain != "" {
		scopes = append(scopes,
			store.ScopeFilter{Scope: models.ScopeDomain, Value: domain},
			store.ScopeFilter{Scope: models.ScopeSender, Value: strings.ToLower(msg.Sender)},
		)
	}
	return e.rules.ListEnabledRules(ctx, scopes)
}

// Evaluate returns the first matching rule, or nil when nothing matches.
// Evaluation stops at the first match: later rules are never looked at, even
// malformed ones. A malformed rule that is reached is an error for the
// caller; silently skipping it could mask a misconfiguration.
func (e *Executor) Evaluate(ctx context.Context, accountID string, msg models.MessageFacts) (*Match, error) {
	applicable, err := e.LoadApplicable(ctx, accountID, msg)
	if err != nil {
		return nil, fmt.Errorf("load applicable rules: %w", err)
	}

	cache := NewRegexCache()
	for _, rule := range applicable {
		cond, err := ParseCondition(rule.Condition)
		if err != nil {
			return nil, fmt.Errorf("rule %q (id %d): %w", rule.Name, rule.ID, err)
		}
		ok, err := Evaluate(cond, msg, cache)
		if err != nil {
			return nil, fmt.Errorf("rule %q (id %d): %w", rule.Name, rule.ID, err)
		}
		if ok {
			return &Match{Rule: rule, Condition: cond}, nil
		}
	}
	return nil, nil
}

// EvaluateAll collects every matching rule in order. The pipeline uses
// first-match semantics via Evaluate; this exists as the seam for a future
// multi-match mode and intentionally carries no conflict resolution.
func (e *Executor) EvaluateAll(ctx context.Context, accountID string, msg models.MessageFacts) ([]Match, error) {
	applicable, err := e.LoadApplicable(ctx, accountID, msg)
	if err != nil {
		return nil, fmt.Errorf("load applicable rules: %w", err)
	}

	cache := NewRegexCache()
	var matches []Match
	for _, rule := range applicable {
		cond, err := ParseCondition(rule.Condition)
		if err != nil {
			return nil, fmt.Errorf("rule %q (id %d): %w", rule.Name, rule.ID, err)
		}
		ok, err := Evaluate(cond, msg, cache)
		if err != nil {
			return nil, fmt.Errorf("rule %q (id %d): %w", rule.Name, rule.ID, err)
		}
		if ok {
			matches = append(matches, Match{Rule: rule, Condition: cond})
		}
	}
	return matches, nil
}
