// Package safety gates action proposals behind human approval. Enforce is a
// pure function: every check that fires is recorded, even when one alone
// would already require approval, so the audit trail shows the full picture.
package safety

type Danger string

const (
	DangerSafe       Danger = "safe"
	DangerReversible Danger = "reversible"
	DangerDangerous  Danger = "dangerous"
)

// dangerTable is the static classification of every action type. It is not
// configurable at runtime. Unknown types classify as dangerous.
var dangerTable = map[string]Danger{
	"archive":            DangerSafe,
	"apply_label":        DangerSafe,
	"remove_label":       DangerSafe,
	"mark_read":          DangerSafe,
	"mark_unread":        DangerSafe,
	"move_to_trash":      DangerSafe,
	"restore_from_trash": DangerSafe,

	"star":     DangerReversible,
	"unstar":   DangerReversible,
	"snooze":   DangerReversible,
	"unsnooze": DangerReversible,
	"note":     DangerReversible,
	"task":     DangerReversible,

	"permanently_delete": DangerDangerous,
	"forward":            DangerDangerous,
	"auto_reply":         DangerDangerous,
	"escalate":           DangerDangerous,
}

// Classify returns the static danger tier for an action type.
func Classify(actionType string) Danger {
	if d, ok := dangerTable[actionType]; ok {
		return d
	}
	return DangerDangerous
}

type Reason string

const (
	ReasonDangerousAction Reason = "dangerous_action"
	ReasonLowConfidence   Reason = "low_confidence"
	ReasonAlwaysApprove   Reason = "always_approve_list"
	ReasonAdvisoryFlag    Reason = "advisory_flag"
)

// Proposal is the subset of a decision the enforcer looks at.
type Proposal struct {
	ActionType       string
	Confidence       float64
	AdvisoryApproval bool
}

type Policy struct {
	ConfidenceThreshold float64
	// AlwaysApprove lists canonical snake_case action type names that
	// require approval regardless of anything else. Matching is exact and
	// case-sensitive.
	AlwaysApprove []string
}

type Result struct {
	ApprovalRequired bool
	Reasons          []Reason
}

// Enforce runs the four independent approval checks and ORs them together.
func Enforce(p Proposal, policy Policy) Result {
	var reasons []Reason

	if Classify(p.ActionType) == DangerDangerous {
		reasons = append(reasons, ReasonDangerousAction)
	}
	if p.Confidence < policy.ConfidenceThreshold {
		reasons = append(reasons, ReasonLowConfidence)
	}
	for _, name := range policy.AlwaysApprove {
		if name == p.ActionType {
			reasons = append(reasons, ReasonAlwaysApprove)
			break
		}
	}
	if p.AdvisoryApproval {
		reasons = append(reasons, ReasonAdvisoryFlag)
	}

	return Result{ApprovalRequired: len(reasons) > 0, Reasons: reasons}
}

// ReasonStrings converts reasons for storage in the decision row.
func ReasonStrings(reasons []Reason) []string {
	out := make([]string, len(reasons))
	for i, r := range reasons {
		out[i] = string(r)
	}
	return out
}
