package feed

import (
	"context"
	"log/slog"
	"time"

	"fxsignal/internal/model"
)

// RetryPolicy controls exponential backoff on transient fetch errors.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// DefaultRetryPolicy returns 3 retries starting at 5s, doubling, capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Delay: 5 * time.Second, Multiplier: 2, MaxDelay: 30 * time.Second}
}

// backoff returns the wait before retry n (0-based).
func (p RetryPolicy) backoff(n int) time.Duration {
	d := float64(p.Delay)
	for i := 0; i < n; i++ {
		d *= p.Multiplier
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

type retrying struct {
	next   Fetcher
	policy RetryPolicy
	logger *slog.Logger

	onRetry func(inst string)
}

// RetryOption customises WithRetry.
type RetryOption func(*retrying)

// OnRetry registers a callback invoked before each retry attempt.
func OnRetry(fn func(instrument string)) RetryOption {
	return func(r *retrying) { r.onRetry = fn }
}

// WithRetry wraps f so transient errors are retried up to policy.MaxRetries
// times. Permanent errors and context cancellation return immediately.
func WithRetry(f Fetcher, policy RetryPolicy, log *slog.Logger, opts ...RetryOption) Fetcher {
	if log == nil {
		log = slog.Default()
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = 1
	}
	r := &retrying{next: f, policy: policy, logger: log}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *retrying) Fetch(ctx context.Context, inst model.Instrument) (float64, error) {
	for attempt := 0; ; attempt++ {
		price, err := r.next.Fetch(ctx, inst)
		if err == nil || !IsTransient(err) || attempt >= r.policy.MaxRetries {
			return price, err
		}

		wait := r.policy.backoff(attempt)
		r.logger.Warn("fetch failed, retrying",
			"instrument", inst.Symbol,
			"attempt", attempt+1,
			"max_retries", r.policy.MaxRetries,
			"wait", wait,
			"error", err,
		)
		if r.onRetry != nil {
			r.onRetry(inst.Symbol)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return 0, ctx.Err()
		case <-t.C:
		}
	}
}
