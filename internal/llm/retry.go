package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how a RetryClient retries transient failures.
type RetryPolicy struct {
	MaxAttempts  int           // total calls including the first
	InitialDelay time.Duration // first backoff interval
	MaxDelay     time.Duration // cap on any single interval
	CallTimeout  time.Duration // deadline applied to each attempt; zero disables
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  4,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		CallTimeout:  2 * time.Minute,
	}
}

// RetryClient wraps a Client with a per-call timeout and bounded
// exponential backoff on transient provider errors. Non-transient
// errors are returned after the first attempt.
type RetryClient struct {
	inner   Client
	policy  RetryPolicy
	logger  *slog.Logger
	onRetry func(err error)
}

// NewRetryClient wraps inner with policy.
func NewRetryClient(inner Client, policy RetryPolicy, logger *slog.Logger) *RetryClient {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &RetryClient{inner: inner, policy: policy, logger: logger}
}

// OnRetry registers fn to be called before each retry sleep.
func (r *RetryClient) OnRetry(fn func(err error)) {
	r.onRetry = fn
}

func (r *RetryClient) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.policy.InitialDelay
	exp.MaxInterval = r.policy.MaxDelay
	exp.MaxElapsedTime = 0 // bounded by attempt count instead
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.policy.MaxAttempts-1)), ctx)
}

// Chat calls the wrapped client, retrying transient failures.
func (r *RetryClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	var (
		resp     *ChatResponse
		attempts int
	)

	op := func() error {
		attempts++
		callCtx, cancel := r.callContext(ctx)
		defer cancel()

		out, err := r.inner.Chat(callCtx, model, messages, tools)
		if err == nil {
			resp = out
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		r.logger.Warn("transient model error, retrying",
			"model", model,
			"attempt", attempts,
			"wait", wait,
			"error", err,
		)
		if r.onRetry != nil {
			r.onRetry(err)
		}
	}

	if err := backoff.RetryNotify(op, r.newBackOff(ctx), notify); err != nil {
		if attempts > 1 && IsTransient(err) {
			return nil, fmt.Errorf("model call failed after %d attempts: %w", attempts, err)
		}
		return nil, err
	}
	return resp, nil
}

// Ping checks the wrapped client once under the call timeout.
func (r *RetryClient) Ping(ctx context.Context) error {
	callCtx, cancel := r.callContext(ctx)
	defer cancel()
	return r.inner.Ping(callCtx)
}

func (r *RetryClient) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.policy.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.policy.CallTimeout)
}
