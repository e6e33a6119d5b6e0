package health

import "errors"

var (
	// ErrCheckTimeout indicates a health check did not finish before the
	// aggregator deadline.
	ErrCheckTimeout = errors.New("health: check timeout")

	// ErrCheckerNotFound indicates a checker was not found.
	ErrCheckerNotFound = errors.New("health: checker not found")

	// ErrNoCapacity indicates a rate limiter has no admissions left in its
	// current window.
	ErrNoCapacity = errors.New("health: rate limiter exhausted")
)
