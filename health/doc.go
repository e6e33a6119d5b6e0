// Package health reports the state of cache backends and rate limiters.
//
// A Checker reports one component as Healthy, Degraded or Unhealthy.
// StoreChecker pings cache backends that have a remote dependency and
// LimiterChecker reports a limiter with a full window as degraded, since
// callers will wait rather than fail. An Aggregator runs every checker
// concurrently under one deadline and the HTTP handlers expose the
// result as liveness, readiness and detailed JSON endpoints:
//
//	agg := health.NewAggregator()
//	agg.Register(health.NewStoreChecker("cache", store))
//	agg.Register(health.NewLimiterChecker("ratelimit.perplexity", limiter))
//
//	mux := http.NewServeMux()
//	health.RegisterHandlers(mux, agg)
package health
