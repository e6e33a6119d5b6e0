// Package provider is a minimal JSON-over-HTTP client for upstream APIs
// whose failures need to flow through the resilience taxonomy.
package provider
