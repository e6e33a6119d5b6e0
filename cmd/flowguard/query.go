package main

import (
	"context"
	"time"

	"github.com/jonwraymond/flowguard/caller"
	"github.com/jonwraymond/flowguard/harness"
	"github.com/jonwraymond/flowguard/pipeline"
)

// buildQueryPipeline normalises the query with a template and sends it
// through the provider's caller. Providers without a base URL echo the
// query back.
func buildQueryPipeline(h *harness.Harness, name string, ttl time.Duration) (*pipeline.Pipeline, error) {
	c, err := h.Caller(name)
	if err != nil {
		return nil, err
	}

	normalise, err := pipeline.NewTemplateStep("normalise", "normalised", `{{ .query | trim | lower }}`)
	if err != nil {
		return nil, err
	}

	fn := func(_ context.Context, q string) (string, error) {
		return "echo: " + q, nil
	}
	if client, ok := h.Client(name); ok {
		path := h.Config().Providers[name].Path
		fn = func(ctx context.Context, q string) (string, error) {
			raw, err := client.PostRaw(ctx, path, map[string]string{"query": q})
			return string(raw), err
		}
	}

	var opts []caller.CallOption
	if ttl > 0 {
		opts = append(opts, caller.WithTTL(ttl))
	}

	return pipeline.New("query", pipeline.WithLogger(h.Logger())).Add(
		normalise,
		&pipeline.CallStep[string, string]{
			StepName: "call",
			Key:      name + ".query",
			Output:   "result",
			Caller:   c,
			Args:     pipeline.FromKey("normalised"),
			Fn:       fn,
			Options:  opts,
		},
	)
}
