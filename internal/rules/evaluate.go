package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/quartzlabs/mailpilot/internal/models"
)

// RegexCache memoizes compiled patterns for the duration of one evaluation
// pass across a rule set. It is not safe for concurrent use; each pass gets
// its own.
type RegexCache struct {
	compiled map[string]*regexp.Regexp
}

func NewRegexCache() *RegexCache {
	return &RegexCache{compiled: make(map[string]*regexp.Regexp)}
}

func (c *RegexCache) Get(pattern string) (*regexp.Regexp, error) {
	if re, ok := c.compiled[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	c.compiled[pattern] = re
	return re, nil
}

// Evaluate walks the condition tree against the message facts. AND and OR
// short-circuit left to right; NOT with wrong arity is an error, not a
// silent false.
func Evaluate(cond *Condition, msg models.MessageFacts, cache *RegexCache) (bool, error) {
	if cond == nil {
		return false, fmt.Errorf("condition node is nil")
	}

	switch cond.Op {
	case OpAnd:
		if len(cond.Children) == 0 {
			return false, fmt.Errorf("and node has no children")
		}
		for _, child := range cond.Children {
			ok, err := Evaluate(child, msg, cache)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case OpOr:
		if len(cond.Children) == 0 {
			return false, fmt.Errorf("or node has no children")
		}
		for _, child := range cond.Children {
			ok, err := Evaluate(child, msg, cache)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case OpNot:
		if len(cond.Children) != 1 {
			return false, fmt.Errorf("not node must have exactly one child, got %d", len(cond.Children))
		}
		ok, err := Evaluate(cond.Children[0], msg, cache)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case "":
		return evaluateLeaf(cond, msg, cache)
	default:
		return false, fmt.Errorf("unknown logical operator %q", cond.Op)
	}
}

func evaluateLeaf(cond *Condition, msg models.MessageFacts, cache *RegexCache) (bool, error) {
	switch cond.Type {
	case LeafSenderEmail:
		return matchSenderEmail(cond.Value, msg.Sender), nil
	case LeafSenderDomain:
		domain := msg.SenderDomain()
		return domain != "" && domain == strings.ToLower(cond.Value), nil
	case LeafSubjectContains:
		return strings.Contains(strings.ToLower(msg.Subject), strings.ToLower(cond.Value)), nil
	case LeafSubjectRegex:
		re, err := cache.Get(cond.Pattern)
		if err != nil {
			return false, fmt.Errorf("subject_regex: %w", err)
		}
		return re.MatchString(msg.Subject), nil
	case LeafHeaderMatch:
		value, ok := msg.Headers.Get(cond.Header)
		if !ok {
			return false, nil
		}
		re, err := cache.Get(cond.Pattern)
		if err != nil {
			return false, fmt.Errorf("header_match: %w", err)
		}
		return re.MatchString(value), nil
	case LeafLabelPresent:
		for _, label := range msg.Labels {
			if label == cond.Label {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("unknown condition type %q", cond.Type)
	}
}

// matchSenderEmail compares case-insensitively and supports a single
// leading-segment wildcard of the form *@domain.
func matchSenderEmail(pattern, sender string) bool {
	if sender == "" {
		return false
	}
	if strings.HasPrefix(pattern, "*@") {
		at := strings.LastIndex(sender, "@")
		if at < 0 {
			return false
		}
		return strings.EqualFold(sender[at+1:], pattern[2:])
	}
	return strings.EqualFold(sender, pattern)
}
