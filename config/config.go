// Package config holds the server configuration.
//
// Configuration starts from Default, is optionally overlaid by an HCL file
// (see Load) and finally by command-line flags in cmd/nodegraphd.
//
//	listen_addr = ":8000"
//	log_level   = "debug"
//
//	cache {
//	  driver         = "sqlite"
//	  path           = "/var/lib/nodegraph/cache.db"
//	  flush_interval = "1m"
//	  expiry         = "2h"
//	}
//
//	llm {
//	  provider          = "anthropic"
//	  anthropic_api_key = env("ANTHROPIC_API_KEY")
//	}
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Config is the complete server configuration.
type Config struct {
	ListenAddr     string
	LogLevel       string
	LogFormat      string
	AllowedOrigins []string

	Cache   CacheConfig
	Metrics MetricsConfig
	Tracing TracingConfig
	LLM     LLMConfig

	// StreamStepDelay paces the streaming test nodes.
	StreamStepDelay time.Duration
}

// CacheConfig configures the large-object cache.
type CacheConfig struct {
	// ThresholdMB is the size at and above which payloads are cached.
	ThresholdMB   float64
	FlushInterval time.Duration
	Expiry        time.Duration

	// Driver is sqlite, mysql or memory.
	Driver string
	Path   string
	DSN    string
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// TracingConfig configures OpenTelemetry spans for engine events.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
}

// LLMConfig selects the chat model behind the llm nodes. An empty Provider
// leaves the llm namespace out of the catalog.
type LLMConfig struct {
	Provider        string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string
	DefaultModel    string
}

// Cache drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// LLM providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:     ":8000",
		LogLevel:       "info",
		LogFormat:      "text",
		AllowedOrigins: []string{"*"},
		Cache: CacheConfig{
			ThresholdMB:   0.1,
			FlushInterval: time.Minute,
			Expiry:        2 * time.Hour,
			Driver:        DriverSQLite,
			Path:          "large_objects.db",
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		Tracing: TracingConfig{ServiceName: "nodegraphd"},

		StreamStepDelay: time.Second,
	}
}

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Validate checks enumerations, bounds and cross-field requirements.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.ListenAddr == "" {
		add("listen_addr is empty")
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.LogLevel) {
		add("log_level %q must be debug, info, warn or error", c.LogLevel)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		add("log_format %q must be text or json", c.LogFormat)
	}
	if c.Cache.ThresholdMB <= 0 {
		add("cache.threshold_mb must be positive")
	}
	if c.Cache.FlushInterval <= 0 || c.Cache.Expiry <= 0 {
		add("cache.flush_interval and cache.expiry must be positive")
	}
	switch c.Cache.Driver {
	case DriverSQLite:
		if c.Cache.Path == "" {
			add("cache.path is required for the sqlite driver")
		}
	case DriverMySQL:
		if c.Cache.DSN == "" {
			add("cache.dsn is required for the mysql driver")
		}
	case DriverMemory:
	default:
		add("cache.driver %q must be sqlite, mysql or memory", c.Cache.Driver)
	}
	if c.Metrics.Enabled && c.Metrics.Path == "" {
		add("metrics.path is required when metrics are enabled")
	}
	switch c.LLM.Provider {
	case "":
	case ProviderAnthropic, ProviderOpenAI, ProviderGoogle:
		if c.LLM.APIKey() == "" {
			add("llm: no api key configured for provider %s", c.LLM.Provider)
		}
	default:
		add("llm.provider %q must be anthropic, openai or google", c.LLM.Provider)
	}
	if c.StreamStepDelay < 0 {
		add("stream_step_delay must not be negative")
	}
	return errors.Join(errs...)
}

// APIKey returns the key of the selected provider.
func (l LLMConfig) APIKey() string {
	switch l.Provider {
	case ProviderAnthropic:
		return l.AnthropicAPIKey
	case ProviderOpenAI:
		return l.OpenAIAPIKey
	case ProviderGoogle:
		return l.GoogleAPIKey
	}
	return ""
}
