package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/flowguard/config"
	"github.com/jonwraymond/flowguard/harness"
	"github.com/jonwraymond/flowguard/pipeline"
)

func newHarness(t *testing.T, providers map[string]config.ProviderConfig) *harness.Harness {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Telemetry.Metrics.Enabled = false
	cfg.Providers = providers

	h, err := harness.Build(context.Background(), cfg, harness.WithLogWriter(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close(context.Background()) })
	return h
}

func TestQueryPipeline_Echo(t *testing.T) {
	h := newHarness(t, map[string]config.ProviderConfig{"echo": {}})

	p, err := buildQueryPipeline(h, "echo", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"normalise", "call"}, p.Steps())

	out, err := p.Run(context.Background(), pipeline.State{"query": "  Hello World "})
	require.NoError(t, err)
	result, ok := out.String("result")
	require.True(t, ok)
	assert.Equal(t, "echo: hello world", result)
}

func TestQueryPipeline_HTTPProvider(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/search", r.URL.Path)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"answer":"` + body["query"] + `"}`))
	}))
	defer srv.Close()

	h := newHarness(t, map[string]config.ProviderConfig{
		"search": {BaseURL: srv.URL, Path: "/search"},
	})

	p, err := buildQueryPipeline(h, "search", 0)
	require.NoError(t, err)

	for range 2 {
		out, err := p.Run(context.Background(), pipeline.State{"query": "Go"})
		require.NoError(t, err)
		result, _ := out.String("result")
		assert.JSONEq(t, `{"answer":"go"}`, result)
	}
	assert.Equal(t, int32(1), hits.Load(), "second run is served from cache")
}

func TestQueryPipeline_UnknownProvider(t *testing.T) {
	h := newHarness(t, nil)

	_, err := buildQueryPipeline(h, "missing", 0)
	require.ErrorIs(t, err, harness.ErrUnknownProvider)
}
