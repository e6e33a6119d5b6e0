// Package observe provides tracing, metrics and structured logging for
// guarded calls.
//
// It is a pure instrumentation library. An Observer owns the OpenTelemetry
// providers selected by Config; Middleware wraps a call so it produces one
// span named flowguard.call.<key>, call counters and a log entry. Logs are
// written through log/slog and fields that may carry credentials or call
// arguments are redacted.
package observe
