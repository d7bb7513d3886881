package llm

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// Retry policy for transient provider failures. No backoff library is used;
// the policy is small enough to state directly.
const (
	retryAttempts = 3
	retryBase     = time.Second
	retryFactor   = 2
	retryJitter   = 0.25
)

// RetryClient wraps a Client with bounded exponential backoff. Only
// transient failures (network, 429, 5xx) are retried; everything else
// surfaces immediately.
type RetryClient struct {
	inner Client
	sleep func(context.Context, time.Duration) error
}

// NewRetryClient wraps the given client with the retry policy.
func NewRetryClient(inner Client) *RetryClient {
	return &RetryClient{inner: inner, sleep: sleepCtx}
}

// Complete implements Client.
func (c *RetryClient) Complete(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	delay := retryBase

	for attempt := 1; attempt <= retryAttempts; attempt++ {
		resp, err := c.inner.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var apierr *APIError
		if !errors.As(err, &apierr) || !apierr.Transient() {
			return nil, err
		}
		if attempt == retryAttempts {
			break
		}

		wait := jitter(delay)
		slog.Warn("transient provider error, retrying",
			"model", req.Model,
			"attempt", attempt,
			"wait", wait,
			"error", err)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, lastErr
		}
		delay *= retryFactor
	}

	return nil, lastErr
}

// jitter spreads the delay by ±25% to avoid synchronized retries.
func jitter(d time.Duration) time.Duration {
	spread := 1 + retryJitter*(2*rand.Float64()-1)
	return time.Duration(float64(d) * spread)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
