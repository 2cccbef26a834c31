package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// TokenRefresher renews the credentials for one account. Acquisition itself
// is an external concern; the pipeline only needs the call.
type TokenRefresher interface {
	Refresh(ctx context.Context, accountID string) error
}

// NoopRefresher satisfies TokenRefresher for backends whose credentials
// never expire.
type NoopRefresher struct{}

func (NoopRefresher) Refresh(context.Context, string) error { return nil }

// RefreshGroup serializes credential refreshes per account so concurrent
// workers hitting the same expired token do not trigger redundant refreshes.
// The per-account lock is held around the refresh call only.
type RefreshGroup struct {
	refresher TokenRefresher

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRefreshGroup(refresher TokenRefresher) *RefreshGroup {
	return &RefreshGroup{
		refresher: refresher,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (g *RefreshGroup) Refresh(ctx context.Context, accountID string) error {
	g.mu.Lock()
	lock, ok := g.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		g.locks[accountID] = lock
	}
	g.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return g.refresher.Refresh(ctx, accountID)
}

// authClient retries a call once after a transparent credential refresh when
// the provider reports expired credentials.
type authClient struct {
	inner     Client
	accountID string
	refresh   *RefreshGroup
}

// WithAuthRetry wraps client so ErrUnauthorized triggers one serialized
// refresh followed by a single retry.
func WithAuthRetry(client Client, accountID string, refresh *RefreshGroup) Client {
	return &authClient{inner: client, accountID: accountID, refresh: refresh}
}

func (c *authClient) do(ctx context.Context, call func(context.Context) error) error {
	err := call(ctx)
	if err == nil || !errors.Is(err, ErrUnauthorized) {
		return err
	}
	if refreshErr := c.refresh.Refresh(ctx, c.accountID); refreshErr != nil {
		return fmt.Errorf("credential refresh: %w", refreshErr)
	}
	return call(ctx)
}

func (c *authClient) FetchMessage(ctx context.Context, id string) (*Message, error) {
	var msg *Message
	err := c.do(ctx, func(ctx context.Context) error {
		var callErr error
		msg, callErr = c.inner.FetchMessage(ctx, id)
		return callErr
	})
	return msg, err
}

func (c *authClient) ListChanges(ctx context.Context, cursor string) (*ChangePage, error) {
	var page *ChangePage
	err := c.do(ctx, func(ctx context.Context) error {
		var callErr error
		page, callErr = c.inner.ListChanges(ctx, cursor)
		return callErr
	})
	return page, err
}

func (c *authClient) MutateLabels(ctx context.Context, id string, add, remove []string) error {
	return c.do(ctx, func(ctx context.Context) error {
		return c.inner.MutateLabels(ctx, id, add, remove)
	})
}

func (c *authClient) MoveToTrash(ctx context.Context, id string) error {
	return c.do(ctx, func(ctx context.Context) error { return c.inner.MoveToTrash(ctx, id) })
}

func (c *authClient) RestoreFromTrash(ctx context.Context, id string) error {
	return c.do(ctx, func(ctx context.Context) error { return c.inner.RestoreFromTrash(ctx, id) })
}

func (c *authClient) PermanentlyDelete(ctx context.Context, id string) error {
	return c.do(ctx, func(ctx context.Context) error { return c.inner.PermanentlyDelete(ctx, id) })
}

func (c *authClient) Send(ctx context.Context, raw []byte) error {
	return c.do(ctx, func(ctx context.Context) error { return c.inner.Send(ctx, raw) })
}

func (c *authClient) CreateLabel(ctx context.Context, name string) (string, error) {
	var id string
	err := c.do(ctx, func(ctx context.Context) error {
		var callErr error
		id, callErr = c.inner.CreateLabel(ctx, name)
		return callErr
	})
	return id, err
}

func (c *authClient) ListLabels(ctx context.Context) ([]Label, error) {
	var labels []Label
	err := c.do(ctx, func(ctx context.Context) error {
		var callErr error
		labels, callErr = c.inner.ListLabels(ctx)
		return callErr
	})
	return labels, err
}
