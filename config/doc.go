// Package config loads flowguard configuration with koanf.
//
// Sources are merged in order: built-in defaults, then each YAML file,
// then environment variables prefixed with FLOWGUARD_. A double
// underscore separates nesting levels:
//
//	FLOWGUARD_CACHE__BACKEND=valkey
//	FLOWGUARD_PROVIDERS__PERPLEXITY__RATE_LIMIT__RATE=5
//
// Provider credentials are kept as written (typically a secretref) and
// resolved when the harness is built.
package config
