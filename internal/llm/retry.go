package llm

import (
	"context"
	"time"
)

// RetryProvider wraps a Provider with a bounded retry budget. Each attempt
// is given its own timeout; failed attempts back off exponentially. The
// last error is returned once the budget is exhausted, and the caller
// decides what the fallback is.
type RetryProvider struct {
	provider   Provider
	maxRetries int
	timeout    time.Duration
	baseDelay  time.Duration
}

// NewRetryProvider wraps the given provider with maxRetries retry attempts
// (in addition to the initial attempt) and a per-attempt timeout.
func NewRetryProvider(provider Provider, maxRetries int, timeout time.Duration) *RetryProvider {
	return &RetryProvider{
		provider:   provider,
		maxRetries: maxRetries,
		timeout:    timeout,
		baseDelay:  500 * time.Millisecond,
	}
}

func (r *RetryProvider) Name() string {
	return r.provider.Name()
}

func (r *RetryProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			delay := r.baseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if r.timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.timeout)
		}

		resp, err := r.provider.Complete(attemptCtx, req)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// Do not retry when the parent context is gone.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}
