package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonwraymond/flowguard/config"
	"github.com/jonwraymond/flowguard/harness"
	"github.com/jonwraymond/flowguard/health"
	"github.com/jonwraymond/flowguard/observe"
	"github.com/jonwraymond/flowguard/pipeline"
)

const usage = `usage: flowguard <command> [flags]

commands:
  serve         serve health and metrics endpoints
  cache clear   remove cached results
  run           run a query through a provider pipeline
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "serve":
		err = serve(ctx, args)
	case "cache":
		if len(args) == 0 || args[0] != "clear" {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		err = clearCache(ctx, args[1:])
	case "run":
		err = run(ctx, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type commonFlags struct {
	configFile string
	envPrefix  string
}

func newFlagSet(name string) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	c := &commonFlags{}
	fs.StringVar(&c.configFile, "config", "", "path to configuration file")
	fs.StringVar(&c.envPrefix, "env-prefix", config.DefaultEnvPrefix, "environment variable prefix")
	return fs, c
}

func open(ctx context.Context, c *commonFlags, mutate func(*config.Config)) (*harness.Harness, error) {
	var files []string
	if c.configFile != "" {
		files = append(files, c.configFile)
	}
	cfg, err := config.NewLoader(c.envPrefix, files...).Load(ctx)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return harness.Build(ctx, cfg)
}

func closeHarness(h *harness.Harness) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Close(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

func serve(ctx context.Context, args []string) error {
	fs, common := newFlagSet("serve")
	addr := fs.String("addr", "", "listen address (overrides server.address)")
	_ = fs.Parse(args)

	h, err := open(ctx, common, func(cfg *config.Config) {
		if *addr != "" {
			cfg.Server.Address = *addr
		}
	})
	if err != nil {
		return err
	}
	defer closeHarness(h)

	mux := http.NewServeMux()
	health.RegisterHandlers(mux, h.Health())
	mux.Handle("/metrics", promhttp.HandlerFor(h.Registry(), promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              h.Config().Server.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		h.Logger().Info(ctx, "listening", observe.Field{Key: "address", Value: srv.Addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	h.Logger().Info(shutdownCtx, "server shutdown complete")
	return nil
}

func clearCache(ctx context.Context, args []string) error {
	fs, common := newFlagSet("cache clear")
	pattern := fs.String("pattern", "", "only remove keys containing this substring")
	expired := fs.Bool("expired", false, "only remove expired entries")
	_ = fs.Parse(args)

	h, err := open(ctx, common, func(cfg *config.Config) { cfg.Cache.SweepInterval = 0 })
	if err != nil {
		return err
	}
	defer closeHarness(h)

	var n int
	if *expired {
		n, err = h.Sweep(ctx)
	} else {
		n, err = h.Store().Clear(ctx, *pattern)
	}
	if err != nil {
		return err
	}
	fmt.Printf("removed %d entries\n", n)
	return nil
}

func run(ctx context.Context, args []string) error {
	fs, common := newFlagSet("run")
	providerName := fs.String("provider", "", "configured provider name")
	query := fs.String("query", "", "query text")
	ttl := fs.Duration("ttl", 0, "cache ttl for this call (0 uses the provider default)")
	_ = fs.Parse(args)

	if *providerName == "" || *query == "" {
		fs.Usage()
		return errors.New("flowguard: -provider and -query are required")
	}

	h, err := open(ctx, common, nil)
	if err != nil {
		return err
	}
	defer closeHarness(h)

	p, err := buildQueryPipeline(h, *providerName, *ttl)
	if err != nil {
		return err
	}
	out, err := p.Run(ctx, pipeline.State{"query": *query})
	if err != nil {
		return err
	}
	result, _ := out.String("result")
	fmt.Println(result)
	return nil
}
