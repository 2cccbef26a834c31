package action

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quartzlabs/mailpilot/internal/provider"
)

// Canonical action type names. Strings appear only at the serialization
// boundary; the executor core dispatches through the typeSpecs table.
const (
	TypeArchive          = "archive"
	TypeApplyLabel       = "apply_label"
	TypeRemoveLabel      = "remove_label"
	TypeMarkRead         = "mark_read"
	TypeMarkUnread       = "mark_unread"
	TypeMoveToTrash      = "move_to_trash"
	TypeRestoreFromTrash = "restore_from_trash"
	TypeStar             = "star"
	TypeUnstar           = "unstar"
	TypeSnooze           = "snooze"
	TypeUnsnooze         = "unsnooze"
	TypePermanentDelete  = "permanently_delete"
	TypeForward          = "forward"
	TypeAutoReply        = "auto_reply"
	TypeEscalate         = "escalate"
	TypeNote             = "note"
	TypeTask             = "task"
)

const (
	labelInbox     = "INBOX"
	labelUnread    = "UNREAD"
	labelStarred   = "STARRED"
	labelSnoozed   = "SNOOZED"
	labelEscalated = "ESCALATED"
)

// Params carries the type-specific parameters of an action.
type Params struct {
	Label  string     `json:"label,omitempty"`
	WakeAt *time.Time `json:"wake_at,omitempty"`
	To     string     `json:"to,omitempty"`
	Body   string     `json:"body,omitempty"`
}

func parseParams(raw json.RawMessage) (Params, error) {
	var p Params
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("invalid action parameters: %w", err)
	}
	return p, nil
}

// inverse describes how to reverse an executed action.
type inverse struct {
	actionType string
	params     Params
	reversible bool
}

// typeSpec is one row of the closed action-type table: how the action runs
// forward and how its inverse is derived from the pre-mutation snapshot.
type typeSpec struct {
	delayed  bool
	outbound bool
	execute  func(ctx context.Context, client provider.Client, messageID string, p Params) error
	derive   func(p Params, snap provider.MessageState) inverse
}

var typeSpecs = map[string]typeSpec{
	TypeArchive: {
		execute: func(ctx context.Context, c provider.Client, id string, _ Params) error {
			return c.MutateLabels(ctx, id, nil, []string{labelInbox})
		},
		derive: func(_ Params, _ provider.MessageState) inverse {
			return inverse{actionType: TypeApplyLabel, params: Params{Label: labelInbox}, reversible: true}
		},
	},
	TypeApplyLabel: {
		execute: func(ctx context.Context, c provider.Client, id string, p Params) error {
			return c.MutateLabels(ctx, id, []string{p.Label}, nil)
		},
		derive: func(p Params, _ provider.MessageState) inverse {
			return inverse{actionType: TypeRemoveLabel, params: Params{Label: p.Label}, reversible: true}
		},
	},
	TypeRemoveLabel: {
		execute: func(ctx context.Context, c provider.Client, id string, p Params) error {
			return c.MutateLabels(ctx, id, nil, []string{p.Label})
		},
		derive: func(p Params, _ provider.MessageState) inverse {
			return inverse{actionType: TypeApplyLabel, params: Params{Label: p.Label}, reversible: true}
		},
	},
	TypeMarkRead: {
		execute: func(ctx context.Context, c provider.Client, id string, _ Params) error {
			return c.MutateLabels(ctx, id, nil, []string{labelUnread})
		},
		derive: func(_ Params, _ provider.MessageState) inverse {
			return inverse{actionType: TypeMarkUnread, reversible: true}
		},
	},
	TypeMarkUnread: {
		execute: func(ctx context.Context, c provider.Client, id string, _ Params) error {
			return c.MutateLabels(ctx, id, []string{labelUnread}, nil)
		},
		derive: func(_ Params, _ provider.MessageState) inverse {
			return inverse{actionType: TypeMarkRead, reversible: true}
		},
	},
	TypeMoveToTrash: {
		execute: func(ctx context.Context, c provider.Client, id string, _ Params) error {
			return c.MoveToTrash(ctx, id)
		},
		derive: func(_ Params, _ provider.MessageState) inverse {
			return inverse{actionType: TypeRestoreFromTrash, reversible: true}
		},
	},
	TypeRestoreFromTrash: {
		execute: func(ctx context.Context, c provider.Client, id string, _ Params) error {
			return c.RestoreFromTrash(ctx, id)
		},
		derive: func(_ Params, _ provider.MessageState) inverse {
			return inverse{actionType: TypeMoveToTrash, reversible: true}
		},
	},
	TypeStar: {
		execute: func(ctx context.Context, c provider.Client, id string, _ Params) error {
			return c.MutateLabels(ctx, id, []string{labelStarred}, nil)
		},
		derive: func(_ Params, _ provider.MessageState) inverse {
			return inverse{actionType: TypeUnstar, reversible: true}
		},
	},
	TypeUnstar: {
		execute: func(ctx context.Context, c provider.Client, id string, _ Params) error {
			return c.MutateLabels(ctx, id, nil, []string{labelStarred})
		},
		derive: func(_ Params, _ provider.MessageState) inverse {
			return inverse{actionType: TypeStar, reversible: true}
		},
	},
	TypeSnooze: {
		delayed: true,
		execute: func(ctx context.Context, c provider.Client, id string, _ Params) error {
			return c.MutateLabels(ctx, id, []string{labelSnoozed}, []string{labelInbox})
		},
		derive: func(_ Params, _ provider.MessageState) inverse {
			return inverse{actionType: TypeUnsnooze, reversible: true}
		},
	},
	TypeUnsnooze: {
		execute: func(ctx context.Context, c provider.Client, id string, _ Params) error {
			return c.MutateLabels(ctx, id, []string{labelInbox}, []string{labelSnoozed})
		},
		derive: func(_ Params, _ provider.MessageState) inverse {
			return inverse{actionType: TypeSnooze, reversible: false}
		},
	},
	TypeEscalate: {
		execute: func(ctx context.Context, c provider.Client, id string, _ Params) error {
			return c.MutateLabels(ctx, id, []string{labelEscalated}, nil)
		},
		derive: func(_ Params, _ provider.MessageState) inverse {
			return inverse{actionType: TypeRemoveLabel, params: Params{Label: labelEscalated}, reversible: true}
		},
	},
	TypePermanentDelete: {
		execute: func(ctx context.Context, c provider.Client, id string, _ Params) error {
			return c.PermanentlyDelete(ctx, id)
		},
		derive: func(_ Params, _ provider.MessageState) inverse {
			return inverse{reversible: false}
		},
	},
	TypeForward: {
		outbound: true,
		derive: func(_ Params, _ provider.MessageState) inverse {
			return inverse{reversible: false}
		},
	},
	TypeAutoReply: {
		outbound: true,
		derive: func(_ Params, _ provider.MessageState) inverse {
			return inverse{reversible: false}
		},
	},
	// note and task mutate nothing provider-side; the action row itself is
	// the record. There is no state to reverse.
	TypeNote: {
		execute: func(context.Context, provider.Client, string, Params) error { return nil },
		derive: func(_ Params, _ provider.MessageState) inverse {
			return inverse{reversible: false}
		},
	},
	TypeTask: {
		execute: func(context.Context, provider.Client, string, Params) error { return nil },
		derive: func(_ Params, _ provider.MessageState) inverse {
			return inverse{reversible: false}
		},
	},
}

// KnownType reports whether actionType is in the closed variant set.
func KnownType(actionType string) bool {
	_, ok := typeSpecs[actionType]
	return ok
}
