package caller

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/flowguard/cache"
	"github.com/jonwraymond/flowguard/observe"
	"github.com/jonwraymond/flowguard/resilience"
)

// Operation performs one upstream attempt and returns the raw result.
type Operation func(ctx context.Context) ([]byte, error)

// Caller wraps upstream operations with a result cache, rate limit
// admission and retry.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Caching: only successful results are stored. Cache failures are
//     logged and never surface to the caller.
//   - Errors: failures are *resilience.Error values whose Op is the
//     logical call key, except ctx errors which are returned unchanged.
type Caller struct {
	store          cache.Store
	keyer          cache.Keyer
	policy         cache.Policy
	limiter        *resilience.RateLimiter
	retry          *resilience.Retry
	attemptTimeout time.Duration
	provider       string
	mw             *observe.Middleware
	singleFlight   bool
	group          singleflight.Group
}

// New creates a Caller over store.
func New(store cache.Store, opts ...Option) (*Caller, error) {
	if store == nil {
		return nil, cache.ErrNilStore
	}

	c := &Caller{
		store:  store,
		keyer:  cache.NewDefaultKeyer(),
		policy: cache.DefaultPolicy(),
		mw:     observe.NewMiddleware(nil, nil, nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry == nil {
		c.retry = resilience.NewRetry(resilience.RetryConfig{MaxRetries: resilience.NoRetries})
	}
	return c, nil
}

// Store returns the backing cache store.
func (c *Caller) Store() cache.Store { return c.store }

// RateLimiter returns the admission limiter, or nil.
func (c *Caller) RateLimiter() *resilience.RateLimiter { return c.limiter }

// Provider returns the configured provider name.
func (c *Caller) Provider() string { return c.provider }

// Do runs op for the logical call key with args as the fingerprint input.
// A cached result is returned without admission or retry.
func (c *Caller) Do(ctx context.Context, key string, args any, op Operation, opts ...CallOption) ([]byte, error) {
	out, err := c.run(ctx, key, args, rawCodec, func(ctx context.Context) (any, error) {
		return op(ctx)
	}, buildCallOptions(opts))
	if err != nil {
		return nil, err
	}
	payload, _ := out.([]byte)
	return payload, nil
}

// Call runs fn through c, storing its result as JSON.
//
// A cached payload that no longer decodes into R is discarded and the
// call proceeds as a miss.
func Call[A, R any](ctx context.Context, c *Caller, key string, args A, fn func(context.Context, A) (R, error), opts ...CallOption) (R, error) {
	out, err := c.run(ctx, key, args, jsonCodec[R](), func(ctx context.Context) (any, error) {
		return fn(ctx, args)
	}, buildCallOptions(opts))
	result, _ := out.(R)
	return result, err
}

type codec struct {
	encode func(v any) ([]byte, error)
	decode func(payload []byte) (any, error)
}

var rawCodec = codec{
	encode: func(v any) ([]byte, error) { return v.([]byte), nil },
	decode: func(payload []byte) (any, error) { return payload, nil },
}

func jsonCodec[R any]() codec {
	return codec{
		encode: json.Marshal,
		decode: func(payload []byte) (any, error) {
			var out R
			if err := json.Unmarshal(payload, &out); err != nil {
				return nil, err
			}
			return out, nil
		},
	}
}

func (c *Caller) run(ctx context.Context, key string, args any, cd codec, op func(context.Context) (any, error), o callOptions) (any, error) {
	exec := c.mw.Wrap(func(ctx context.Context, meta observe.CallMeta, args any) (any, error) {
		return c.call(ctx, meta, args, cd, op, o)
	})
	return exec(ctx, observe.CallMeta{Key: key, Provider: c.provider}, args)
}

func (c *Caller) call(ctx context.Context, meta observe.CallMeta, args any, cd codec, op func(context.Context) (any, error), o callOptions) (any, error) {
	logger := c.mw.Logger().WithCall(meta)

	cacheKey := ""
	if !o.noCache {
		k, err := c.keyer.Key(meta.Key, args)
		if err != nil {
			logger.Warn(ctx, "cache key failed, calling uncached", observe.Field{Key: "error", Value: err})
		} else {
			cacheKey = k
		}
	}

	if cacheKey != "" {
		if v, ok := c.lookup(ctx, meta, cacheKey, cd); ok {
			return v, nil
		}
	}

	miss := func() (any, error) {
		return c.invoke(ctx, meta, cacheKey, cd, op, o)
	}
	if c.singleFlight && cacheKey != "" {
		v, err, _ := c.group.Do(cacheKey, miss)
		return v, err
	}
	return miss()
}

func (c *Caller) lookup(ctx context.Context, meta observe.CallMeta, cacheKey string, cd codec) (any, bool) {
	payload, ok := c.store.Get(ctx, cacheKey)
	if ok {
		v, err := cd.decode(payload)
		if err == nil {
			c.mw.Metrics().RecordCacheLookup(ctx, meta, true)
			return v, true
		}
		c.mw.Logger().WithCall(meta).Warn(ctx, "discarding undecodable cache entry",
			observe.Field{Key: "cache_key", Value: cacheKey},
			observe.Field{Key: "error", Value: err},
		)
		if err := c.store.Delete(ctx, cacheKey); err != nil {
			c.cacheFailure(ctx, meta, "delete", cacheKey, err)
		}
	}
	c.mw.Metrics().RecordCacheLookup(ctx, meta, false)
	return nil, false
}

func (c *Caller) invoke(ctx context.Context, meta observe.CallMeta, cacheKey string, cd codec, op func(context.Context) (any, error), o callOptions) (any, error) {
	metrics := c.mw.Metrics()

	execOpts := []resilience.ExecutorOption{
		resilience.WithRetry(c.retry),
		resilience.WithAdmissionHook(func(wait time.Duration, admitted bool) {
			metrics.RecordAdmission(ctx, meta, wait, admitted)
		}),
	}
	if c.limiter != nil {
		execOpts = append(execOpts, resilience.WithRateLimiter(c.limiter))
	}
	if c.attemptTimeout > 0 {
		execOpts = append(execOpts, resilience.WithTimeout(c.attemptTimeout))
	}
	executor := resilience.NewExecutor(execOpts...)

	var (
		mu       sync.Mutex
		result   any
		attempts atomic.Int32
	)
	attempt := func(ctx context.Context) error {
		if attempts.Add(1) > 1 {
			metrics.RecordRetry(ctx, meta)
		}
		v, err := op(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		result = v
		mu.Unlock()
		return nil
	}

	var err error
	if o.waitSet {
		err = executor.ExecuteWithin(ctx, o.wait, attempt)
	} else {
		err = executor.Execute(ctx, attempt)
	}
	if err != nil {
		return nil, withOp(err, meta.Key)
	}

	mu.Lock()
	v := result
	mu.Unlock()

	if cacheKey != "" {
		c.write(ctx, meta, cacheKey, cd, v, o)
	}
	return v, nil
}

func (c *Caller) write(ctx context.Context, meta observe.CallMeta, cacheKey string, cd codec, v any, o callOptions) {
	ttl := c.ttl(o)
	if ttl <= 0 {
		return
	}

	payload, err := cd.encode(v)
	if err != nil {
		c.cacheFailure(ctx, meta, "encode", cacheKey, err)
		return
	}
	if err := c.store.Set(ctx, cacheKey, payload, ttl); err != nil {
		c.cacheFailure(ctx, meta, "set", cacheKey, err)
	}
}

func (c *Caller) ttl(o callOptions) time.Duration {
	if o.ttlSet {
		if o.ttl <= 0 {
			return 0
		}
		return c.policy.Clamp(o.ttl)
	}
	if !c.policy.ShouldCache() {
		return 0
	}
	return c.policy.EffectiveTTL(0)
}

func (c *Caller) cacheFailure(ctx context.Context, meta observe.CallMeta, op, cacheKey string, err error) {
	cacheErr := resilience.NewError(resilience.KindCacheIO, meta.Key, fmt.Errorf("%s %s: %w", op, cacheKey, err))
	c.mw.Logger().WithCall(meta).Warn(ctx, "cache operation failed",
		observe.Field{Key: "op", Value: op},
		observe.Field{Key: "error", Value: cacheErr},
	)
}

// withOp stamps the logical key onto errors produced by the resilience
// layer. Errors returned by the operation itself are not mutated.
func withOp(err error, key string) error {
	re, ok := err.(*resilience.Error) //nolint:errorlint // only the outermost error is stamped
	if !ok || (re.Op != "" && re.Op != "ratelimit") {
		return err
	}
	stamped := *re
	stamped.Op = key
	return &stamped
}
