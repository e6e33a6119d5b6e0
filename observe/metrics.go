package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records call, cache, retry and admission metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordCall records a completed call with its duration and outcome.
	RecordCall(ctx context.Context, meta CallMeta, duration time.Duration, err error)

	// RecordCacheLookup records a cache hit or miss.
	RecordCacheLookup(ctx context.Context, meta CallMeta, hit bool)

	// RecordRetry records one retry of a call.
	RecordRetry(ctx context.Context, meta CallMeta)

	// RecordAdmission records a rate limit decision and the time waited.
	RecordAdmission(ctx context.Context, meta CallMeta, wait time.Duration, admitted bool)
}

type metricsImpl struct {
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	durationHist metric.Float64Histogram
	cacheHits    metric.Int64Counter
	cacheMisses  metric.Int64Counter
	retries      metric.Int64Counter
	waitHist     metric.Float64Histogram
	rejected     metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	m := &metricsImpl{}
	var err error

	if m.totalCount, err = meter.Int64Counter(
		"flowguard.call.total",
		metric.WithDescription("Total number of guarded calls"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}
	if m.errorCount, err = meter.Int64Counter(
		"flowguard.call.errors",
		metric.WithDescription("Total number of failed guarded calls"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}
	if m.durationHist, err = meter.Float64Histogram(
		"flowguard.call.duration_ms",
		metric.WithDescription("Guarded call duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.cacheHits, err = meter.Int64Counter(
		"flowguard.cache.hits",
		metric.WithDescription("Cache lookups that returned a live entry"),
		metric.WithUnit("{lookup}"),
	); err != nil {
		return nil, err
	}
	if m.cacheMisses, err = meter.Int64Counter(
		"flowguard.cache.misses",
		metric.WithDescription("Cache lookups that found no live entry"),
		metric.WithUnit("{lookup}"),
	); err != nil {
		return nil, err
	}
	if m.retries, err = meter.Int64Counter(
		"flowguard.retry.attempts",
		metric.WithDescription("Retries of transient upstream failures"),
		metric.WithUnit("{retry}"),
	); err != nil {
		return nil, err
	}
	if m.waitHist, err = meter.Float64Histogram(
		"flowguard.ratelimit.wait_ms",
		metric.WithDescription("Time spent waiting for rate limit admission"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.rejected, err = meter.Int64Counter(
		"flowguard.ratelimit.rejected",
		metric.WithDescription("Calls refused admission by the rate limiter"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metricsImpl) RecordCall(ctx context.Context, meta CallMeta, duration time.Duration, err error) {
	opt := metric.WithAttributes(meta.attrs()...)

	m.totalCount.Add(ctx, 1, opt)
	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(duration)/float64(time.Millisecond), opt)
}

func (m *metricsImpl) RecordCacheLookup(ctx context.Context, meta CallMeta, hit bool) {
	opt := metric.WithAttributes(meta.attrs()...)
	if hit {
		m.cacheHits.Add(ctx, 1, opt)
	} else {
		m.cacheMisses.Add(ctx, 1, opt)
	}
}

func (m *metricsImpl) RecordRetry(ctx context.Context, meta CallMeta) {
	m.retries.Add(ctx, 1, metric.WithAttributes(meta.attrs()...))
}

func (m *metricsImpl) RecordAdmission(ctx context.Context, meta CallMeta, wait time.Duration, admitted bool) {
	attrs := append(meta.attrs(), attribute.Bool("admitted", admitted))
	opt := metric.WithAttributes(attrs...)

	m.waitHist.Record(ctx, float64(wait)/float64(time.Millisecond), opt)
	if !admitted {
		m.rejected.Add(ctx, 1, metric.WithAttributes(meta.attrs()...))
	}
}

// NewNoopMetrics returns a Metrics that records nothing.
func NewNoopMetrics() Metrics { return noopMetrics{} }

type noopMetrics struct{}

func (noopMetrics) RecordCall(context.Context, CallMeta, time.Duration, error)     {}
func (noopMetrics) RecordCacheLookup(context.Context, CallMeta, bool)              {}
func (noopMetrics) RecordRetry(context.Context, CallMeta)                          {}
func (noopMetrics) RecordAdmission(context.Context, CallMeta, time.Duration, bool) {}
