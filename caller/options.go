package caller

import (
	"time"

	"github.com/jonwraymond/flowguard/cache"
	"github.com/jonwraymond/flowguard/observe"
	"github.com/jonwraymond/flowguard/resilience"
)

// Option configures a Caller.
type Option func(*Caller)

// WithProvider names the upstream for telemetry.
func WithProvider(name string) Option {
	return func(c *Caller) {
		c.provider = name
	}
}

// WithRateLimiter admits at most the limiter's rate of cache misses.
// A nil limiter means unlimited.
func WithRateLimiter(rl *resilience.RateLimiter) Option {
	return func(c *Caller) {
		c.limiter = rl
	}
}

// WithRetry retries transient failures of the operation. Without it each
// call makes a single, still classified, attempt.
func WithRetry(r *resilience.Retry) Option {
	return func(c *Caller) {
		c.retry = r
	}
}

// WithAttemptTimeout bounds every individual attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Caller) {
		c.attemptTimeout = d
	}
}

// WithPolicy sets the TTL policy.
// Default: cache.DefaultPolicy()
func WithPolicy(p cache.Policy) Option {
	return func(c *Caller) {
		c.policy = p
	}
}

// WithKeyer replaces the fingerprinting strategy.
// Default: cache.DefaultKeyer
func WithKeyer(k cache.Keyer) Option {
	return func(c *Caller) {
		if k != nil {
			c.keyer = k
		}
	}
}

// WithMiddleware records spans, metrics and logs through mw.
func WithMiddleware(mw *observe.Middleware) Option {
	return func(c *Caller) {
		if mw != nil {
			c.mw = mw
		}
	}
}

// WithSingleFlight collapses concurrent misses for the same fingerprint
// into one upstream invocation. Followers share the leader's result and
// error, and the leader's context governs the shared work.
func WithSingleFlight() Option {
	return func(c *Caller) {
		c.singleFlight = true
	}
}

// CallOption adjusts a single call.
type CallOption func(*callOptions)

type callOptions struct {
	ttl     time.Duration
	ttlSet  bool
	wait    time.Duration
	waitSet bool
	noCache bool
}

// WithTTL overrides the policy TTL for this call. A non-positive ttl
// means the result is not stored. The value is still clamped to the
// policy's MaxTTL.
func WithTTL(ttl time.Duration) CallOption {
	return func(o *callOptions) {
		o.ttl = ttl
		o.ttlSet = true
	}
}

// WithTimeout bounds the wait for rate limit admission: zero fails fast
// and resilience.WaitForever waits until ctx ends. When unset the
// limiter's own policy applies, which waits for a slot unless it was
// configured with FailFast or MaxWait.
func WithTimeout(wait time.Duration) CallOption {
	return func(o *callOptions) {
		o.wait = wait
		o.waitSet = true
	}
}

// WithoutCache skips both the lookup and the write for this call.
func WithoutCache() CallOption {
	return func(o *callOptions) {
		o.noCache = true
	}
}

func buildCallOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
