package health

import (
	"context"
	"fmt"

	"github.com/jonwraymond/flowguard/cache"
	"github.com/jonwraymond/flowguard/resilience"
)

// StoreChecker reports a cache backend as unhealthy when its ping fails.
// Stores without a Ping method are always healthy.
type StoreChecker struct {
	name  string
	store cache.Store
}

// NewStoreChecker creates a checker for store.
func NewStoreChecker(name string, store cache.Store) *StoreChecker {
	return &StoreChecker{name: name, store: store}
}

// Name returns the checker name.
func (c *StoreChecker) Name() string { return c.name }

// Check pings the store.
func (c *StoreChecker) Check(ctx context.Context) Result {
	pinger, ok := c.store.(cache.Pinger)
	if !ok {
		return Healthy("store has no remote dependency")
	}
	if err := pinger.Ping(ctx); err != nil {
		return Unhealthy("store ping failed", err)
	}
	return Healthy("store reachable")
}

// LimiterChecker reports a rate limiter as degraded while its window is
// full. A full window only delays calls, so it never reports unhealthy.
type LimiterChecker struct {
	name    string
	limiter *resilience.RateLimiter
}

// NewLimiterChecker creates a checker for limiter.
func NewLimiterChecker(name string, limiter *resilience.RateLimiter) *LimiterChecker {
	return &LimiterChecker{name: name, limiter: limiter}
}

// Name returns the checker name.
func (c *LimiterChecker) Name() string { return c.name }

// Check inspects the remaining capacity.
func (c *LimiterChecker) Check(_ context.Context) Result {
	cfg := c.limiter.Config()
	available := c.limiter.Available()
	details := map[string]any{
		"available": available,
		"rate":      cfg.Rate,
		"period":    cfg.Period.String(),
	}

	if available == 0 {
		r := Degraded(fmt.Sprintf("no capacity left in %s window", cfg.Period))
		r.Error = ErrNoCapacity
		return r.WithDetails(details)
	}
	return Healthy(fmt.Sprintf("%d of %d admissions available", available, cfg.Rate)).WithDetails(details)
}

var (
	_ Checker = (*CheckerFunc)(nil)
	_ Checker = (*StoreChecker)(nil)
	_ Checker = (*LimiterChecker)(nil)
)
