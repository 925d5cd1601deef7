package enricher

import (
	"context"
	"os"
	"runtime"
)

// RuntimeInfoEnricher attaches service/env/host/pid/version/runtime
// fields, reading from environment variables with CHAINLOG_ prefix.
// Grounded on original_source's
// plugins.enrichers.runtime_info.RuntimeInfoEnricher.
type RuntimeInfoEnricher struct {
	Hostname func() (string, error)
}

func (RuntimeInfoEnricher) Name() string { return "runtime_info" }

func (e RuntimeInfoEnricher) Enrich(ctx context.Context, fields map[string]any) (map[string]any, error) {
	hostnameFn := e.Hostname
	if hostnameFn == nil {
		hostnameFn = os.Hostname
	}

	out := map[string]any{
		"service": envOrDefault("CHAINLOG_SERVICE", "chainlog"),
		"env":     envOrDefault("CHAINLOG_ENV", envOrDefault("ENV", "dev")),
		"pid":     os.Getpid(),
		"go":      runtime.Version(),
	}
	if version := os.Getenv("CHAINLOG_VERSION"); version != "" {
		out["version"] = version
	}
	if host, err := hostnameFn(); err == nil && host != "" {
		out["host"] = host
	}
	return out, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
