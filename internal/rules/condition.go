package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const (
	OpAnd = "and"
	OpOr  = "or"
	OpNot = "not"
)

const (
	LeafSenderEmail     = "sender_email"
	LeafSenderDomain    = "sender_domain"
	LeafSubjectContains = "subject_contains"
	LeafSubjectRegex    = "subject_regex"
	LeafHeaderMatch     = "header_match"
	LeafLabelPresent    = "label_present"
)

// Condition is one node of a rule's condition tree: either a logical node
// (Op + Children) or a leaf (Type + its fields). The zero value is invalid;
// trees always come from ParseCondition.
type Condition struct {
	Op       string       `json:"op,omitempty"`
	Children []*Condition `json:"children,omitempty"`

	Type    string `json:"type,omitempty"`
	Value   string `json:"value,omitempty"`
	Pattern string `json:"pattern,omitempty"`
	Header  string `json:"header,omitempty"`
	Label   string `json:"label,omitempty"`
}

// ParseCondition decodes and validates a condition tree. All structural
// errors (wrong arity, unknown kinds, invalid regexes) surface here, never
// at evaluation time where short-circuiting could hide them.
func ParseCondition(raw json.RawMessage) (*Condition, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("condition is empty")
	}
	var cond Condition
	if err := json.Unmarshal(raw, &cond); err != nil {
		return nil, fmt.Errorf("invalid condition JSON: %w", err)
	}
	if err := cond.validate(); err != nil {
		return nil, err
	}
	return &cond, nil
}

func (c *Condition) validate() error {
	if c == nil {
		return fmt.Errorf("condition node is null")
	}
	if c.Op != "" && c.Type != "" {
		return fmt.Errorf("condition node has both op %q and type %q", c.Op, c.Type)
	}
	if c.Op == "" && len(c.Children) > 0 {
		return fmt.Errorf("leaf node cannot have children")
	}

	switch c.Op {
	case OpAnd, OpOr:
		if len(c.Children) == 0 {
			return fmt.Errorf("%s node must have at least one child", c.Op)
		}
	case OpNot:
		if len(c.Children) != 1 {
			return fmt.Errorf("not node must have exactly one child, got %d", len(c.Children))
		}
	case "":
		return c.validateLeaf()
	default:
		return fmt.Errorf("unknown logical operator %q", c.Op)
	}

	for _, child := range c.Children {
		if err := child.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Condition) validateLeaf() error {
	switch c.Type {
	case LeafSenderEmail, LeafSenderDomain, LeafSubjectContains:
		if strings.TrimSpace(c.Value) == "" {
			return fmt.Errorf("%s leaf requires a value", c.Type)
		}
	case LeafSubjectRegex:
		if c.Pattern == "" {
			return fmt.Errorf("subject_regex leaf requires a pattern")
		}
		if _, err := regexp.Compile(c.Pattern); err != nil {
			return fmt.Errorf("invalid subject_regex pattern: %w", err)
		}
	case LeafHeaderMatch:
		if strings.TrimSpace(c.Header) == "" {
			return fmt.Errorf("header_match leaf requires a header name")
		}
		if c.Pattern == "" {
			return fmt.Errorf("header_match leaf requires a pattern")
		}
		if _, err := regexp.Compile(c.Pattern); err != nil {
			return fmt.Errorf("invalid header_match pattern: %w", err)
		}
	case LeafLabelPresent:
		if c.Label == "" {
			return fmt.Errorf("label_present leaf requires a label")
		}
	case "":
		return fmt.Errorf("condition node has neither op nor type")
	default:
		return fmt.Errorf("unknown condition type %q", c.Type)
	}
	return nil
}
