package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind classifies a failure surfaced by a guarded call.
type Kind int

const (
	// KindUnknown is reported for nil errors and for cancellation.
	KindUnknown Kind = iota
	// KindTransientUpstream marks a retryable upstream condition: overload,
	// upstream rate limiting, timeouts and 5xx responses.
	KindTransientUpstream
	// KindTerminalUpstream marks a failure certain to repeat on retry:
	// authentication failures, malformed requests, any other 4xx.
	KindTerminalUpstream
	// KindRateLimitTimeout means local admission control gave up.
	KindRateLimitTimeout
	// KindExhaustedRetries means every retryable attempt was used up.
	KindExhaustedRetries
	// KindCacheIO marks a cache read or write failure. It is never
	// returned from a call; backends report it to their error handler.
	KindCacheIO
)

func (k Kind) String() string {
	switch k {
	case KindTransientUpstream:
		return "transient_upstream"
	case KindTerminalUpstream:
		return "terminal_upstream"
	case KindRateLimitTimeout:
		return "rate_limit_timeout"
	case KindExhaustedRetries:
		return "exhausted_retries"
	case KindCacheIO:
		return "cache_io"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per Kind. An *Error matches the sentinel of its
// kind with errors.Is.
var (
	// ErrTransientUpstream matches retryable upstream failures.
	ErrTransientUpstream = errors.New("resilience: transient upstream failure")

	// ErrTerminalUpstream matches non-retryable upstream failures.
	ErrTerminalUpstream = errors.New("resilience: terminal upstream failure")

	// ErrRateLimitTimeout is returned when admission could not be obtained
	// within the allowed wait.
	ErrRateLimitTimeout = errors.New("resilience: rate limit wait timed out")

	// ErrExhaustedRetries is returned when max retries are exhausted.
	ErrExhaustedRetries = errors.New("resilience: retries exhausted")

	// ErrCacheIO is reported for cache backend failures.
	ErrCacheIO = errors.New("resilience: cache io failure")

	// ErrTimeout is returned when a single attempt exceeds its timeout.
	ErrTimeout = errors.New("resilience: operation timed out")
)

func (k Kind) sentinel() error {
	switch k {
	case KindTransientUpstream:
		return ErrTransientUpstream
	case KindTerminalUpstream:
		return ErrTerminalUpstream
	case KindRateLimitTimeout:
		return ErrRateLimitTimeout
	case KindExhaustedRetries:
		return ErrExhaustedRetries
	case KindCacheIO:
		return ErrCacheIO
	default:
		return nil
	}
}

// Error is a classified failure. Callers branch on Kind (or errors.Is
// against the sentinels) instead of matching messages.
type Error struct {
	Kind Kind

	// Op names the guarded call, usually its logical cache key name.
	Op string

	// Attempts is the number of invocations made, when known.
	Attempts int

	// Err is the underlying failure. For KindExhaustedRetries it is the
	// failure of the last attempt.
	Err error
}

// NewError returns an *Error of the given kind.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Transient marks err as retryable.
func Transient(err error) error {
	return &Error{Kind: KindTransientUpstream, Err: err}
}

// Terminal marks err as non-retryable.
func Terminal(err error) error {
	return &Error{Kind: KindTerminalUpstream, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("resilience: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// ProviderError is returned by upstream integrations. StatusCode is the
// HTTP status when one was received.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	name := e.Provider
	if name == "" {
		name = "provider"
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", name, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", name, msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ClassifyStatus maps an HTTP status code onto the taxonomy.
// 408, 429 and 5xx are transient; other 4xx are terminal.
func ClassifyStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return KindTransientUpstream
	case code >= 500:
		return KindTransientUpstream
	case code >= 400:
		return KindTerminalUpstream
	default:
		return KindUnknown
	}
}

// transientPatterns are matched case-insensitively against messages of
// otherwise unclassified errors.
var transientPatterns = []string{
	"overloaded",
	"rate limit",
	"rate_limit",
	"too many requests",
	"timeout",
	"timed out",
	"temporarily unavailable",
	"connection reset",
}

// Classify returns the Kind of err. Unrecognised failures are terminal.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindUnknown
	}

	var pe *ProviderError
	if errors.As(err, &pe) && pe.StatusCode != 0 {
		if k := ClassifyStatus(pe.StatusCode); k != KindUnknown {
			return k
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return KindTransientUpstream
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTransientUpstream
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return KindTransientUpstream
		}
	}
	return KindTerminalUpstream
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return Classify(err) == KindTransientUpstream
}
