package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	ErrNilStore   = errors.New("cache: store is nil")
	ErrInvalidKey = errors.New("cache: key is invalid")
	ErrKeyTooLong = errors.New("cache: key exceeds max length")
)

// Store is a TTL-expiring key/value store for call results.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: methods should honor cancellation/deadlines where applicable.
// - Errors: Get never errors; a miss, an expired entry and an unreadable
// entry all return (nil, false). Unreadable entries are discarded.
// - Expiry: an entry is only returned while now < expiresAt.
type Store interface {
	// Get retrieves a live value. Returns (nil, false) on miss.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores value until now+ttl, replacing any existing entry.
	// A ttl <= 0 leaves the key absent.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a cached value. Idempotent - no error on miss.
	Delete(ctx context.Context, key string) error

	// Clear removes every entry whose key contains pattern, or all
	// entries when pattern is empty. It returns the number removed.
	Clear(ctx context.Context, pattern string) (int, error)
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Sweeper is implemented by stores that can purge expired entries
// eagerly instead of waiting for lookups to find them.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// ErrorHandler receives read failures that a store absorbs as misses.
// op is the store operation, for example "get" or "decode".
type ErrorHandler func(ctx context.Context, op, key string, err error)

func (h ErrorHandler) report(ctx context.Context, op, key string, err error) {
	if h != nil && err != nil {
		h(ctx, op, key, err)
	}
}

// ValidateKey checks if a key is valid for caching.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	// Reject keys with newlines or carriage returns
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}

func matches(key, pattern string) bool {
	return pattern == "" || strings.Contains(key, pattern)
}
