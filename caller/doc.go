// Package caller runs upstream operations behind a result cache, a rate
// limiter and a retry policy.
//
// A call first derives a fingerprint from its logical key and arguments
// and consults the cache. Hits return immediately. Misses wait for rate
// limit admission, run the operation under the retry policy and store
// successful results for the effective TTL. Failures are never stored,
// and cache failures are logged rather than returned.
//
// # Usage
//
//	c, err := caller.New(store,
//	    caller.WithProvider("perplexity"),
//	    caller.WithRateLimiter(limiter),
//	    caller.WithRetry(resilience.NewRetry(resilience.RetryConfig{MaxRetries: 3})),
//	)
//
//	answer, err := caller.Call(ctx, c, "search", query, client.Search,
//	    caller.WithTTL(time.Hour),
//	    caller.WithTimeout(30*time.Second),
//	)
package caller
