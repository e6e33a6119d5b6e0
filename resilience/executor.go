package resilience

import (
	"context"
	"time"
)

// Executor composes admission, retry and per-attempt timeout.
type Executor struct {
	rateLimiter *RateLimiter
	retry       *Retry
	timeout     *Timeout
	onAdmit     func(wait time.Duration, admitted bool)
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates a new resilience executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithRetry adds retry logic to the executor.
func WithRetry(r *Retry) ExecutorOption {
	return func(e *Executor) {
		e.retry = r
	}
}

// WithRateLimiter adds admission control to the executor.
func WithRateLimiter(rl *RateLimiter) ExecutorOption {
	return func(e *Executor) {
		e.rateLimiter = rl
	}
}

// WithTimeout bounds every attempt to d.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = NewTimeout(TimeoutConfig{Timeout: d})
	}
}

// WithAdmissionHook registers fn to observe every admission decision
// with the time spent waiting.
func WithAdmissionHook(fn func(wait time.Duration, admitted bool)) ExecutorOption {
	return func(e *Executor) {
		e.onAdmit = fn
	}
}

// Execute runs op using the rate limiter's own wait policy, which waits
// for a free slot unless the limiter is configured to fail fast.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	wait := WaitForever
	if e.rateLimiter != nil {
		wait = e.rateLimiter.AdmitTimeout()
	}
	return e.ExecuteWithin(ctx, wait, op)
}

// ExecuteWithin runs op, waiting at most wait for admission (negative
// waits indefinitely).
//
// The execution order is:
// 1. Rate Limiter (if configured) - one admission per call
// 2. Retry (if configured) - retries transient failures
// 3. Timeout (if configured) - bounds each attempt
func (e *Executor) ExecuteWithin(ctx context.Context, wait time.Duration, op func(context.Context) error) error {
	execute := op

	if e.timeout != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.timeout.Execute(ctx, inner)
		}
	}

	if e.retry != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.retry.Execute(ctx, inner)
		}
	}

	if e.rateLimiter != nil {
		start := time.Now()
		ok, err := e.rateLimiter.Acquire(ctx, wait)
		if e.onAdmit != nil {
			e.onAdmit(time.Since(start), ok)
		}
		if err != nil {
			return err
		}
		if !ok {
			return &Error{Kind: KindRateLimitTimeout, Op: "ratelimit"}
		}
	}

	return execute(ctx)
}

// RateLimiter returns the configured limiter, or nil.
func (e *Executor) RateLimiter() *RateLimiter { return e.rateLimiter }
