// Package provider defines the capability surface of the email provider
// client. The wire-level implementation lives outside this module; the
// pipeline consumes it through the Client interface and classifies its
// failures into retryable and fatal.
package provider

import (
	"context"
	"errors"
)

// MessageState is the mutable provider-side state of a message, captured as
// the pre-mutation snapshot before every action.
type MessageState struct {
	Labels  []string `json:"labels"`
	Unread  bool     `json:"unread"`
	Starred bool     `json:"starred"`
	InInbox bool     `json:"in_inbox"`
	InTrash bool     `json:"in_trash"`
}

type Message struct {
	ID      string
	Sender  string
	Subject string
	State   MessageState
}

type Label struct {
	ID   string
	Name string
}

type ChangePage struct {
	MessageIDs []string
	NextCursor string
}

type Client interface {
	FetchMessage(ctx context.Context, id string) (*Message, error)
	ListChanges(ctx context.Context, cursor string) (*ChangePage, error)
	MutateLabels(ctx context.Context, id string, add, remove []string) error
	MoveToTrash(ctx context.Context, id string) error
	RestoreFromTrash(ctx context.Context, id string) error
	PermanentlyDelete(ctx context.Context, id string) error
	Send(ctx context.Context, raw []byte) error
	CreateLabel(ctx context.Context, name string) (string, error)
	ListLabels(ctx context.Context) ([]Label, error)
}

// ClientFactory builds a client bound to one account's credentials. It is
// passed into handlers explicitly so tests can substitute fakes per call.
type ClientFactory func(accountID string) (Client, error)

var (
	// ErrNotFound: the resource is gone. Fatal.
	ErrNotFound = errors.New("provider: not found")
	// ErrUnauthorized: credentials expired; refresh once and retry.
	ErrUnauthorized = errors.New("provider: unauthorized")
	// ErrRateLimited: backpressure from the provider. Retryable.
	ErrRateLimited = errors.New("provider: rate limited")
	// ErrServer: provider-side 5xx. Retryable.
	ErrServer = errors.New("provider: server error")
	// ErrDecode: malformed response body. Fatal.
	ErrDecode = errors.New("provider: decode error")
)

// IsRetryable reports whether the error is transient: rate limiting, server
// errors and caller-imposed timeouts all map to a later retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrServer) ||
		errors.Is(err, context.DeadlineExceeded)
}
