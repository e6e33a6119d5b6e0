package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the environment prefix used by the CLI.
const DefaultEnvPrefix = "FLOWGUARD"

// Loader builds a Config from defaults, YAML files and the environment,
// later sources overriding earlier ones.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader creates a loader. An empty envPrefix skips the environment.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{envPrefix: envPrefix, files: files}
}

// Load merges every source, unmarshals and validates the result.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultsMap(DefaultConfig()), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Config{}, err
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		prefix := l.envPrefix + "_"
		transform := func(s string) string {
			// Double underscores nest: FLOWGUARD_CACHE__VALKEY__ADDRESS -> cache.valkey.address.
			key := strings.TrimPrefix(s, prefix)
			segments := strings.Split(key, "__")
			for i, seg := range segments {
				segments[i] = canonicalSegment(seg)
			}
			return strings.Join(segments, ".")
		}
		if err := k.Load(env.Provider(prefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// camelKeys maps lowercased environment segments to the koanf tags they
// override, so env and file values land on the same key.
var camelKeys = map[string]string{
	"samplepct":      "samplePct",
	"defaultttl":     "defaultTTL",
	"maxttl":         "maxTTL",
	"sweepinterval":  "sweepInterval",
	"baseurl":        "baseURL",
	"apikey":         "apiKey",
	"authheader":     "authHeader",
	"authscheme":     "authScheme",
	"ratelimit":      "rateLimit",
	"maxwait":        "maxWait",
	"failfast":       "failFast",
	"maxretries":     "maxRetries",
	"basedelay":      "baseDelay",
	"maxdelay":       "maxDelay",
	"cachettl":       "cacheTTL",
	"attempttimeout": "attemptTimeout",
}

func canonicalSegment(seg string) string {
	lower := strings.ToLower(seg)
	// Known keys match with or without underscores so RATE_LIMIT and
	// RATELIMIT agree. Anything else, such as a provider name, keeps them.
	if mapped, ok := camelKeys[strings.ReplaceAll(lower, "_", "")]; ok {
		return mapped
	}
	return lower
}

func defaultsMap(cfg Config) map[string]any {
	return map[string]any{
		"service": map[string]any{
			"name":    cfg.Service.Name,
			"version": cfg.Service.Version,
		},
		"server": map[string]any{
			"address": cfg.Server.Address,
		},
		"logging": map[string]any{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
		},
		"telemetry": map[string]any{
			"tracing": map[string]any{
				"enabled":   cfg.Telemetry.Tracing.Enabled,
				"exporter":  cfg.Telemetry.Tracing.Exporter,
				"samplePct": cfg.Telemetry.Tracing.SamplePct,
			},
			"metrics": map[string]any{
				"enabled":  cfg.Telemetry.Metrics.Enabled,
				"exporter": cfg.Telemetry.Metrics.Exporter,
			},
		},
		"cache": map[string]any{
			"backend":       cfg.Cache.Backend,
			"dir":           cfg.Cache.Dir,
			"dsn":           cfg.Cache.DSN,
			"table":         cfg.Cache.Table,
			"defaultTTL":    cfg.Cache.DefaultTTL.String(),
			"maxTTL":        cfg.Cache.MaxTTL.String(),
			"sweepInterval": cfg.Cache.SweepInterval.String(),
			"valkey": map[string]any{
				"address":  cfg.Cache.Valkey.Address,
				"username": cfg.Cache.Valkey.Username,
				"password": cfg.Cache.Valkey.Password,
				"db":       cfg.Cache.Valkey.DB,
				"prefix":   cfg.Cache.Valkey.Prefix,
			},
		},
	}
}
