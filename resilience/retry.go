package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// BackoffStrategy defines how delays increase between retries.
type BackoffStrategy int

const (
	// BackoffLinear waits BaseDelay * n before retry n.
	BackoffLinear BackoffStrategy = iota
	// BackoffExponential multiplies the delay by Multiplier each retry.
	BackoffExponential
	// BackoffConstant uses the same delay for all retries.
	BackoffConstant
)

const (
	// NoRetries makes a single attempt.
	NoRetries = 0

	// DefaultMaxRetries is the retry budget configuration layers apply
	// when none is given.
	DefaultMaxRetries = 3
)

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first, so R retries
	// make R+1 attempts. Zero or less makes a single attempt.
	MaxRetries int

	// BaseDelay is the unit of backoff.
	// Default: 1s
	BaseDelay time.Duration

	// MaxDelay caps the delay between retries. Zero leaves it uncapped.
	MaxDelay time.Duration

	// Multiplier is the growth factor for BackoffExponential.
	// Default: 2.0
	Multiplier float64

	// Strategy is the backoff strategy.
	// Default: BackoffLinear
	Strategy BackoffStrategy

	// Jitter adds up to 25% random delay.
	// Default: false
	Jitter bool

	// Classify decides whether a failure is retried. Only
	// KindTransientUpstream is retried.
	// Default: Classify
	Classify func(err error) Kind

	// OnRetry is called before each retry with the 1-indexed retry number.
	OnRetry func(retry int, err error, delay time.Duration)
}

// Retry implements bounded retry with backoff for transient failures.
type Retry struct {
	config RetryConfig
}

// NewRetry creates a new retry handler.
func NewRetry(config RetryConfig) *Retry {
	// Apply defaults
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = time.Second
	}
	if config.MaxDelay < 0 {
		config.MaxDelay = 0
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.Classify == nil {
		config.Classify = Classify
	}

	return &Retry{config: config}
}

// Execute runs op, retrying transient failures up to MaxRetries times.
//
// A terminal failure is returned on first occurrence, classified. When
// every attempt fails transiently the result is an *Error of
// KindExhaustedRetries wrapping the last failure. If ctx ends, its error
// is returned unchanged.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	attempts := r.config.MaxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		lastErr = err
		kind := r.config.Classify(err)
		if kind != KindTransientUpstream {
			return classified(kind, attempt, err)
		}

		if attempt == attempts {
			break
		}

		delay := r.Delay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return &Error{Kind: KindExhaustedRetries, Attempts: attempts, Err: lastErr}
}

func classified(kind Kind, attempt int, err error) error {
	var re *Error
	if errors.As(err, &re) || kind == KindUnknown {
		return err
	}
	return &Error{Kind: kind, Attempts: attempt, Err: err}
}

// Delay returns the wait before retry n (1-indexed).
func (r *Retry) Delay(n int) time.Duration {
	var delay time.Duration

	switch r.config.Strategy {
	case BackoffConstant:
		delay = r.config.BaseDelay

	case BackoffExponential:
		multiplier := math.Pow(r.config.Multiplier, float64(n-1))
		delay = time.Duration(float64(r.config.BaseDelay) * multiplier)

	default:
		delay = r.config.BaseDelay * time.Duration(n)
	}

	if r.config.MaxDelay > 0 && delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}

	if r.config.Jitter && delay >= 4 {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		delay += time.Duration(rand.Int64N(int64(delay / 4)))
	}

	return delay
}

// Config returns the retry configuration.
func (r *Retry) Config() RetryConfig {
	return r.config
}
