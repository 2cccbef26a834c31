package provider

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// limitedClient imposes a token bucket and a per-call timeout on every
// outbound provider call. A timeout maps to a retryable error so the queue's
// backoff handles it.
type limitedClient struct {
	inner   Client
	limiter *rate.Limiter
	timeout time.Duration
}

// WithLimits wraps client with an rps/burst token bucket and a per-call
// deadline. No provider call blocks indefinitely.
func WithLimits(client Client, rps float64, burst int, timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &limitedClient{
		inner:   client,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		timeout: timeout,
	}
}

func (c *limitedClient) do(ctx context.Context, call func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: local rate limit: %v", ErrRateLimited, err)
	}
	err := call(ctx)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("provider call timed out after %s: %w", c.timeout, context.DeadlineExceeded)
	}
	return err
}

func (c *limitedClient) FetchMessage(ctx context.Context, id string) (*Message, error) {
	var msg *Message
	err := c.do(ctx, func(ctx context.Context) error {
		var callErr error
		msg, callErr = c.inner.FetchMessage(ctx, id)
		return callErr
	})
	return msg, err
}

func (c *limitedClient) ListChanges(ctx context.Context, cursor string) (*ChangePage, error) {
	var page *ChangePage
	err := c.do(ctx, func(ctx context.Context) error {
		var callErr error
		page, callErr = c.inner.ListChanges(ctx, cursor)
		return callErr
	})
	return page, err
}

func (c *limitedClient) MutateLabels(ctx context.Context, id string, add, remove []string) error {
	return c.do(ctx, func(ctx context.Context) error {
		return c.inner.MutateLabels(ctx, id, add, remove)
	})
}

func (c *limitedClient) MoveToTrash(ctx context.Context, id string) error {
	return c.do(ctx, func(ctx context.Context) error { return c.inner.MoveToTrash(ctx, id) })
}

func (c *limitedClient) RestoreFromTrash(ctx context.Context, id string) error {
	return c.do(ctx, func(ctx context.Context) error { return c.inner.RestoreFromTrash(ctx, id) })
}

func (c *limitedClient) PermanentlyDelete(ctx context.Context, id string) error {
	return c.do(ctx, func(ctx context.Context) error { return c.inner.PermanentlyDelete(ctx, id) })
}

func (c *limitedClient) Send(ctx context.Context, raw []byte) error {
	return c.do(ctx, func(ctx context.Context) error { return c.inner.Send(ctx, raw) })
}

func (c *limitedClient) CreateLabel(ctx context.Context, name string) (string, error) {
	var id string
	err := c.do(ctx, func(ctx context.Context) error {
		var callErr error
		id, callErr = c.inner.CreateLabel(ctx, name)
		return callErr
	})
	return id, err
}

func (c *limitedClient) ListLabels(ctx context.Context) ([]Label, error) {
	var labels []Label
	err := c.do(ctx, func(ctx context.Context) error {
		var callErr error
		labels, callErr = c.inner.ListLabels(ctx)
		return callErr
	})
	return labels, err
}
