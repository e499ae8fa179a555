// Package config loads orchestrator configuration from TOML, grounded on the
// teacher's internal/config.Config: defaults-then-overlay loading via
// BurntSushi/toml plus direct environment overrides for deployment (values
// in the file are not ${VAR}-expanded). Trimmed to the tables this module's
// scope owns: retry, cache, routing, per-provider connection settings, the
// model catalog and logging; the HTTP/database/telemetry/security
// tables the teacher owned for its product shell are dropped along with it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"llmorch/internal/domain"
)

// Config is the root configuration structure.
type Config struct {
	Retry     RetryConfig                      `toml:"retry"`
	Cache     CacheConfig                      `toml:"cache"`
	Routing   RoutingConfig                    `toml:"routing"`
	Providers map[string]domain.ProviderConfig `toml:"providers"`
	Models    map[string]domain.ModelMetadata  `toml:"models"`
	Log       LogConfig                        `toml:"log"`
}

// RetryConfig controls the orchestrator's default retry/backoff behavior;
// per-request LLMOptions.MaxRetries/RetryDelay override these.
type RetryConfig struct {
	MaxRetries    int `toml:"max_retries"`
	BaseDelayMs   int `toml:"base_delay_ms"`
	MaxDelayMs    int `toml:"max_delay_ms"`
}

// CacheConfig describes the response cache settings. Its defaults
// (3600s chat / 86400s embedding) equal the TTLs orchestrator.Service applies
// when a request doesn't set options.cacheTtl itself. Service does not read
// this table: it keeps its own 1h / 24h defaults, and Enabled,
// EmbeddingsEnabled (the CACHE_EMBEDDINGS override) and the TTL fields do not
// change its caching.
type CacheConfig struct {
	Enabled                  bool `toml:"enabled"`
	EmbeddingsEnabled        bool `toml:"embeddings_enabled"`
	DefaultTTLSeconds        int  `toml:"default_ttl_seconds"`
	EmbeddingDefaultTTLSeconds int `toml:"embedding_default_ttl_seconds"`
}

// RoutingConfig names the providers spec.md §4.6 step 1 routes complex or
// code-generation requests to when the caller names no preferred provider
// and privacy doesn't already force local/on-prem.
type RoutingConfig struct {
	ComplexReasoningProvider string `toml:"complex_reasoning_provider"`
	CodeGenerationProvider   string `toml:"code_generation_provider"`
}

// LogConfig controls the slog handler the orchestrator logs through.
type LogConfig struct {
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
	Format string `toml:"format"` // "json", "text"
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Retry: RetryConfig{MaxRetries: 3, BaseDelayMs: 1000, MaxDelayMs: 30000},
		Cache: CacheConfig{
			Enabled:                    true,
			EmbeddingsEnabled:          true,
			DefaultTTLSeconds:          3600,
			EmbeddingDefaultTTLSeconds: 86400,
		},
		Routing: RoutingConfig{},
		Providers: map[string]domain.ProviderConfig{
			"local": {Provider: domain.ProviderLocal, Enabled: true, BaseURL: "http://localhost:11434", ConnectionSettings: domain.DefaultConnectionSettings()},
		},
		Models: make(map[string]domain.ModelMetadata),
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads configuration from path, falling back to defaults if the file
// does not exist, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// LoadOrDefault loads config from path, or returns defaults on any error.
func LoadOrDefault(path string) *Config {
	if path == "" {
		cfg := Default()
		cfg.applyEnvOverrides()
		return cfg
	}
	cfg, err := Load(path)
	if err != nil {
		fmt.Printf("warning: failed to load config from %s: %v\n", path, err)
		cfg = Default()
		cfg.applyEnvOverrides()
	}
	return cfg
}

// applyEnvOverrides applies direct environment variable overrides, the way
// the teacher's substituteEnvVars did for its MODELGATE_* variables: here
// LLM_DEFAULT_MAX_RETRIES / LLM_DEFAULT_RETRY_DELAY_MS / CACHE_EMBEDDINGS and
// a <PROVIDER>_API_KEY per configured provider.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LLM_DEFAULT_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retry.MaxRetries = n
		}
	}
	if v := os.Getenv("LLM_DEFAULT_RETRY_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retry.BaseDelayMs = n
		}
	}
	if v := os.Getenv("CACHE_EMBEDDINGS"); v != "" {
		c.Cache.EmbeddingsEnabled = v == "true" || v == "1"
	}

	for name, pc := range c.Providers {
		envVar := providerAPIKeyEnvVar(name)
		if v := os.Getenv(envVar); v != "" {
			pc.APIKey = v
			c.Providers[name] = pc
		}
	}
}

func providerAPIKeyEnvVar(provider string) string {
	upper := make([]byte, 0, len(provider)+8)
	for i := 0; i < len(provider); i++ {
		ch := provider[i]
		if ch >= 'a' && ch <= 'z' {
			ch -= 'a' - 'A'
		}
		upper = append(upper, ch)
	}
	return string(upper) + "_API_KEY"
}

// RetryDuration converts RetryConfig's millisecond fields to durations.
func (r RetryConfig) RetryDuration() (base, max time.Duration) {
	return time.Duration(r.BaseDelayMs) * time.Millisecond, time.Duration(r.MaxDelayMs) * time.Millisecond
}
