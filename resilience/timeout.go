package resilience

import (
	"context"
	"fmt"
	"time"
)

// TimeoutConfig configures the per-attempt timeout.
type TimeoutConfig struct {
	// Timeout is the maximum duration of one attempt.
	// Default: 180 seconds
	Timeout time.Duration
}

// Timeout bounds a single attempt. Expiry yields ErrTimeout, which
// Classify treats as transient so the attempt can be retried.
type Timeout struct {
	config TimeoutConfig
}

// NewTimeout creates a new timeout wrapper.
func NewTimeout(config TimeoutConfig) *Timeout {
	if config.Timeout <= 0 {
		config.Timeout = 180 * time.Second
	}

	return &Timeout{config: config}
}

// Execute runs op with the attempt deadline applied. If the parent
// context ends first its error is returned instead.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(attemptCtx)
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil && attemptCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w after %s: %w", ErrTimeout, t.config.Timeout, err)
		}
		return err
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w after %s", ErrTimeout, t.config.Timeout)
	}
}

// Config returns the timeout configuration.
func (t *Timeout) Config() TimeoutConfig {
	return t.config
}
