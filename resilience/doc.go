// Package resilience provides admission control, retry and failure
// classification for calls to external providers.
//
// # Patterns
//
//   - Rate Limiter: admits at most Rate calls in any trailing Period. Callers
//     choose to fail fast, wait up to a timeout, or wait indefinitely.
//
//   - Retry: retries transient failures with linear backoff by default
//     (exponential and constant are available). Terminal failures are
//     returned on first occurrence.
//
//   - Timeout: bounds each individual attempt.
//
// # Errors
//
// Failures are classified into a small taxonomy (see Kind). Provider
// errors carrying an HTTP status are mapped by ClassifyStatus; other errors
// fall back to timeout detection and message patterns, and are otherwise
// terminal. Every classified failure is an *Error matching the sentinel of
// its kind:
//
//	if errors.Is(err, resilience.ErrExhaustedRetries) {
//	    // all attempts failed transiently
//	}
//
// # Usage
//
//	executor := resilience.NewExecutor(
//	    resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{
//	        Rate:   10,
//	        Period: time.Minute,
//	    })),
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
//	        MaxRetries: 4,
//	        BaseDelay:  10 * time.Second,
//	    })),
//	    resilience.WithTimeout(3*time.Minute),
//	)
//
//	err := executor.ExecuteWithin(ctx, 30*time.Second, func(ctx context.Context) error {
//	    return callProvider(ctx)
//	})
package resilience
