package harness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"

	"github.com/jonwraymond/flowguard/cache"
	"github.com/jonwraymond/flowguard/caller"
	"github.com/jonwraymond/flowguard/config"
	"github.com/jonwraymond/flowguard/health"
	"github.com/jonwraymond/flowguard/observe"
	"github.com/jonwraymond/flowguard/provider"
	"github.com/jonwraymond/flowguard/resilience"
	"github.com/jonwraymond/flowguard/secret"
)

// ErrUnknownProvider indicates a provider name that is not configured.
var ErrUnknownProvider = errors.New("harness: unknown provider")

// Harness owns every long-lived dependency of a flowguard process. It is
// passed explicitly to whatever needs a caller, the store or telemetry;
// nothing is held in package globals.
type Harness struct {
	cfg      config.Config
	observer observe.Observer
	logger   observe.Logger
	registry *prometheus.Registry
	store    cache.Store
	health   *health.Aggregator

	callers map[string]*caller.Caller
	clients map[string]*provider.HTTP

	closers   []func() error
	stopSweep context.CancelFunc
	sweepDone chan struct{}
	closeOnce sync.Once
}

type options struct {
	resolver  *secret.Resolver
	logWriter io.Writer
	store     cache.Store
}

// Option configures Build.
type Option func(*options)

// WithResolver replaces the secret resolver used for provider keys and
// headers.
func WithResolver(r *secret.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithLogWriter redirects log output.
func WithLogWriter(w io.Writer) Option {
	return func(o *options) { o.logWriter = w }
}

// WithStore uses store instead of the configured backend.
func WithStore(store cache.Store) Option {
	return func(o *options) { o.store = store }
}

// Build wires a Harness from cfg. On error every resource created so far
// is released.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (h *Harness, err error) {
	o := options{
		resolver: secret.NewResolver(true, secret.EnvProvider{}, secret.FileProvider{Dir: "/run/secrets"}),
	}
	for _, opt := range opts {
		opt(&o)
	}

	h = &Harness{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		callers:  make(map[string]*caller.Caller),
		clients:  make(map[string]*provider.HTTP),
	}
	defer func() {
		if err != nil {
			_ = h.Close(context.WithoutCancel(ctx))
			h = nil
		}
	}()

	h.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	obsCfg := cfg.Observe()
	obsCfg.Metrics.Registerer = h.registry
	obsCfg.Logging.Writer = o.logWriter
	if h.observer, err = observe.NewObserver(ctx, obsCfg); err != nil {
		return h, fmt.Errorf("harness: observer: %w", err)
	}
	h.closers = append(h.closers, func() error { return h.observer.Shutdown(context.Background()) })
	h.logger = h.observer.Logger()

	mw, err := observe.MiddlewareFromObserver(h.observer)
	if err != nil {
		return h, fmt.Errorf("harness: middleware: %w", err)
	}

	if o.store != nil {
		h.store = o.store
	} else if h.store, err = h.openStore(ctx, cfg.Cache); err != nil {
		return h, err
	}

	h.health = health.NewAggregator()
	h.health.Register(health.NewStoreChecker("cache", h.store))

	for _, name := range sortedKeys(cfg.Providers) {
		if err := h.addProvider(ctx, name, cfg.Providers[name], mw, o.resolver); err != nil {
			return h, err
		}
	}

	if _, ok := h.store.(cache.Sweeper); ok && cfg.Cache.SweepInterval > 0 {
		h.startSweeper(cfg.Cache.SweepInterval)
	}

	h.logger.Info(ctx, "harness ready",
		observe.Field{Key: "cache_backend", Value: cfg.Cache.Backend},
		observe.Field{Key: "providers", Value: len(h.callers)},
	)
	return h, nil
}

func (h *Harness) openStore(ctx context.Context, cfg config.CacheConfig) (cache.Store, error) {
	onError := func(ctx context.Context, op, key string, err error) {
		h.logger.Warn(ctx, "cache read failed",
			observe.Field{Key: "op", Value: op},
			observe.Field{Key: "cache_key", Value: key},
			observe.Field{Key: "error", Value: resilience.NewError(resilience.KindCacheIO, op, err)},
		)
	}

	switch cfg.Backend {
	case "memory":
		return cache.NewMemoryStore(), nil

	case "file":
		store, err := cache.NewFileStore(cache.FileConfig{Dir: cfg.Dir, OnError: onError})
		if err != nil {
			return nil, fmt.Errorf("harness: %w", err)
		}
		return store, nil

	case "sqlite":
		db, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("harness: open sqlite: %w", err)
		}
		// SQLite serialises writers; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		h.closers = append(h.closers, db.Close)

		store, err := cache.NewSQLiteStore(ctx, db, cache.SQLiteConfig{Table: cfg.Table, OnError: onError})
		if err != nil {
			return nil, fmt.Errorf("harness: %w", err)
		}
		return store, nil

	case "valkey":
		store, err := cache.NewValkeyStore(ctx, cache.ValkeyConfig{
			Address:  cfg.Valkey.Address,
			Username: cfg.Valkey.Username,
			Password: cfg.Valkey.Password,
			DB:       cfg.Valkey.DB,
			Prefix:   cfg.Valkey.Prefix,
			OnError:  onError,
		})
		if err != nil {
			return nil, fmt.Errorf("harness: %w", err)
		}
		h.closers = append(h.closers, store.Close)
		return store, nil

	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidBackend, cfg.Backend)
	}
}

func (h *Harness) addProvider(ctx context.Context, name string, pc config.ProviderConfig, mw *observe.Middleware, resolver *secret.Resolver) error {
	policy := h.cfg.Cache.Policy()
	if pc.CacheTTL > 0 {
		policy.DefaultTTL = pc.CacheTTL
	}

	opts := []caller.Option{
		caller.WithProvider(name),
		caller.WithPolicy(policy),
		caller.WithRetry(resilience.NewRetry(pc.RetryPolicy())),
		caller.WithAttemptTimeout(pc.AttemptTimeout),
		caller.WithMiddleware(mw),
	}
	if lc, ok := pc.Limiter(); ok {
		limiter := resilience.NewRateLimiter(lc)
		opts = append(opts, caller.WithRateLimiter(limiter))
		h.health.Register(health.NewLimiterChecker("ratelimit."+name, limiter))
	}

	c, err := caller.New(h.store, opts...)
	if err != nil {
		return fmt.Errorf("harness: provider %s: %w", name, err)
	}
	h.callers[name] = c

	if pc.BaseURL == "" {
		return nil
	}

	apiKey, err := resolver.Resolve(ctx, pc.APIKey)
	if err != nil {
		return fmt.Errorf("harness: provider %s api key: %w", name, err)
	}
	headers, err := resolver.ResolveMap(ctx, pc.Headers)
	if err != nil {
		return fmt.Errorf("harness: provider %s headers: %w", name, err)
	}
	client, err := provider.New(provider.Config{
		Name:       name,
		BaseURL:    pc.BaseURL,
		APIKey:     apiKey,
		AuthHeader: pc.AuthHeader,
		AuthScheme: pc.AuthScheme,
		Headers:    headers,
	})
	if err != nil {
		return fmt.Errorf("harness: %w", err)
	}
	h.clients[name] = client
	return nil
}

func (h *Harness) startSweeper(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	h.stopSweep = cancel
	h.sweepDone = make(chan struct{})

	go func() {
		defer close(h.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := h.Sweep(ctx); err != nil && ctx.Err() == nil {
					h.logger.Warn(ctx, "cache sweep failed", observe.Field{Key: "error", Value: err})
				}
			}
		}
	}()
}

// Sweep removes expired entries when the store supports it.
func (h *Harness) Sweep(ctx context.Context) (int, error) {
	sweeper, ok := h.store.(cache.Sweeper)
	if !ok {
		return 0, nil
	}
	n, err := sweeper.Sweep(ctx)
	if n > 0 {
		h.logger.Debug(ctx, "cache swept", observe.Field{Key: "removed", Value: n})
	}
	return n, err
}

// Caller returns the resilient caller for a configured provider.
func (h *Harness) Caller(name string) (*caller.Caller, error) {
	c, ok := h.callers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return c, nil
}

// Client returns the HTTP client for a provider with a base URL. The
// boolean is false for providers that only have a caller.
func (h *Harness) Client(name string) (*provider.HTTP, bool) {
	c, ok := h.clients[name]
	return c, ok
}

// Providers returns the configured provider names in sorted order.
func (h *Harness) Providers() []string { return sortedKeys(h.callers) }

func (h *Harness) Config() config.Config { return h.cfg }

func (h *Harness) Store() cache.Store { return h.store }

func (h *Harness) Logger() observe.Logger { return h.logger }

func (h *Harness) Health() *health.Aggregator { return h.health }

// Registry returns the registry backing the prometheus metrics exporter.
func (h *Harness) Registry() *prometheus.Registry { return h.registry }

// Close stops the sweeper and releases the store and telemetry in
// reverse order of creation. It is safe to call more than once.
func (h *Harness) Close(ctx context.Context) error {
	var errs []error
	h.closeOnce.Do(func() {
		if h.stopSweep != nil {
			h.stopSweep()
			select {
			case <-h.sweepDone:
			case <-ctx.Done():
				errs = append(errs, ctx.Err())
			}
		}
		for i := len(h.closers) - 1; i >= 0; i-- {
			if err := h.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
