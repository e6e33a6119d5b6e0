package resilience

import (
	"context"
	"sync"
	"time"
)

// WaitForever passed as a timeout makes Acquire block until a slot frees
// or the context ends.
const WaitForever time.Duration = -1

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// Rate is the number of admissions allowed per Period.
	// Default: 10
	Rate int

	// Period is the length of the trailing window.
	// Default: 60 seconds
	Period time.Duration

	// FailFast rejects an admission at once when the window is full
	// instead of waiting for the oldest slot to free.
	// Default: false
	FailFast bool

	// MaxWait bounds the wait for a slot. Zero waits until a slot frees
	// or the context ends.
	MaxWait time.Duration
}

// RateLimiter admits at most Rate operations in any trailing Period.
//
// Each admission records a timestamp. Timestamps older than Period are
// pruned before every decision, so the window never holds more than Rate
// entries. The mutex is held only for bookkeeping, never across a wait;
// waiters re-check the window after waking and any of them may win the
// freed slot.
type RateLimiter struct {
	config RateLimiterConfig

	mu     sync.Mutex
	window []time.Time
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	// Apply defaults
	if config.Rate <= 0 {
		config.Rate = 10
	}
	if config.Period <= 0 {
		config.Period = time.Minute
	}

	return &RateLimiter{
		config: config,
		window: make([]time.Time, 0, config.Rate),
	}
}

// Acquire reserves one slot in the window.
//
// A zero timeout returns false at once when the window is full. A
// positive timeout returns false without reserving when the slot would
// free after the timeout. A negative timeout (WaitForever) waits as long
// as needed. The error is non-nil only when ctx ends first.
func (rl *RateLimiter) Acquire(ctx context.Context, timeout time.Duration) (bool, error) {
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		wait, ok := rl.reserve()
		if ok {
			return true, nil
		}
		if !deadline.IsZero() && time.Now().Add(wait).After(deadline) {
			return false, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
			// Re-evaluate; another waiter may have taken the slot.
		}
	}
}

// Wait blocks until a slot is reserved or ctx ends.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	_, err := rl.Acquire(ctx, WaitForever)
	return err
}

// AdmitTimeout is the Acquire timeout implied by the configuration:
// zero with FailFast, MaxWait when set, otherwise WaitForever.
func (rl *RateLimiter) AdmitTimeout() time.Duration {
	switch {
	case rl.config.FailFast:
		return 0
	case rl.config.MaxWait > 0:
		return rl.config.MaxWait
	default:
		return WaitForever
	}
}

// reserve appends a timestamp when the window has room. Otherwise it
// returns how long until the oldest entry leaves the window.
func (rl *RateLimiter) reserve() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.pruneLocked(now)

	if len(rl.window) < rl.config.Rate {
		rl.window = append(rl.window, now)
		return 0, true
	}
	return rl.window[0].Add(rl.config.Period).Sub(now), false
}

func (rl *RateLimiter) pruneLocked(now time.Time) {
	i := 0
	for i < len(rl.window) && now.Sub(rl.window[i]) >= rl.config.Period {
		i++
	}
	if i > 0 {
		rl.window = append(rl.window[:0], rl.window[i:]...)
	}
}

// Available returns the number of slots free right now.
func (rl *RateLimiter) Available() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.pruneLocked(time.Now())
	return rl.config.Rate - len(rl.window)
}

// Reset empties the window.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.window = rl.window[:0]
}

// Config returns the rate limiter configuration.
func (rl *RateLimiter) Config() RateLimiterConfig {
	return rl.config
}
