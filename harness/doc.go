// Package harness builds the explicit context a flowguard process runs
// with: the observer, the cache backend selected by configuration, one
// caller.Caller per provider and the health checks covering them.
//
// Build replaces any package level state. Everything it creates is owned
// by the Harness and released by Close:
//
//	cfg, err := config.NewLoader("FLOWGUARD", "flowguard.yaml").Load(ctx)
//	h, err := harness.Build(ctx, cfg)
//	defer h.Close(ctx)
//
//	c, err := h.Caller("perplexity")
package harness
