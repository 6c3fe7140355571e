package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// file mirrors the HCL layout. Pointers distinguish absent attributes from
// zero values so that only present keys override the defaults.
type file struct {
	ListenAddr      *string      `hcl:"listen_addr,optional"`
	LogLevel        *string      `hcl:"log_level,optional"`
	LogFormat       *string      `hcl:"log_format,optional"`
	AllowedOrigins  *[]string    `hcl:"allowed_origins,optional"`
	StreamStepDelay *string      `hcl:"stream_step_delay,optional"`
	Cache           *cacheBlock  `hcl:"cache,block"`
	Metrics         *metricBlock `hcl:"metrics,block"`
	Tracing         *traceBlock  `hcl:"tracing,block"`
	LLM             *llmBlock    `hcl:"llm,block"`
}

type cacheBlock struct {
	ThresholdMB   *float64 `hcl:"threshold_mb,optional"`
	FlushInterval *string  `hcl:"flush_interval,optional"`
	Expiry        *string  `hcl:"expiry,optional"`
	Driver        *string  `hcl:"driver,optional"`
	Path          *string  `hcl:"path,optional"`
	DSN           *string  `hcl:"dsn,optional"`
}

type metricBlock struct {
	Enabled *bool   `hcl:"enabled,optional"`
	Path    *string `hcl:"path,optional"`
}

type traceBlock struct {
	Enabled     *bool   `hcl:"enabled,optional"`
	ServiceName *string `hcl:"service_name,optional"`
}

type llmBlock struct {
	Provider        *string `hcl:"provider,optional"`
	AnthropicAPIKey *string `hcl:"anthropic_api_key,optional"`
	OpenAIAPIKey    *string `hcl:"openai_api_key,optional"`
	GoogleAPIKey    *string `hcl:"google_api_key,optional"`
	DefaultModel    *string `hcl:"default_model,optional"`
}

// Load reads an HCL file over Default and validates the result.
func Load(path string) (Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(path, src)
}

// Parse decodes HCL source over Default and validates the result. The
// filename is used in diagnostics and must end in .hcl.
func Parse(filename string, src []byte) (Config, error) {
	var f file
	if err := hclsimple.Decode(filename, src, evalContext(), &f); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg := Default()
	if err := f.apply(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envFunc returns the value of an environment variable, or "" when unset.
var envFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "name", Type: cty.String}},
	Type:   function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		return cty.StringVal(os.Getenv(args[0].AsString())), nil
	},
})

func evalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Functions: map[string]function.Function{"env": envFunc},
	}
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string, key string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	}
	*dst = d
	return nil
}

func (f *file) apply(c *Config) error {
	set(&c.ListenAddr, f.ListenAddr)
	set(&c.LogLevel, f.LogLevel)
	set(&c.LogFormat, f.LogFormat)
	set(&c.AllowedOrigins, f.AllowedOrigins)
	if err := setDuration(&c.StreamStepDelay, f.StreamStepDelay, "stream_step_delay"); err != nil {
		return err
	}

	if b := f.Cache; b != nil {
		set(&c.Cache.ThresholdMB, b.ThresholdMB)
		set(&c.Cache.Driver, b.Driver)
		set(&c.Cache.Path, b.Path)
		set(&c.Cache.DSN, b.DSN)
		if err := setDuration(&c.Cache.FlushInterval, b.FlushInterval, "cache.flush_interval"); err != nil {
			return err
		}
		if err := setDuration(&c.Cache.Expiry, b.Expiry, "cache.expiry"); err != nil {
			return err
		}
	}
	if b := f.Metrics; b != nil {
		set(&c.Metrics.Enabled, b.Enabled)
		set(&c.Metrics.Path, b.Path)
	}
	if b := f.Tracing; b != nil {
		set(&c.Tracing.Enabled, b.Enabled)
		set(&c.Tracing.ServiceName, b.ServiceName)
	}
	if b := f.LLM; b != nil {
		set(&c.LLM.Provider, b.Provider)
		set(&c.LLM.AnthropicAPIKey, b.AnthropicAPIKey)
		set(&c.LLM.OpenAIAPIKey, b.OpenAIAPIKey)
		set(&c.LLM.GoogleAPIKey, b.GoogleAPIKey)
		set(&c.LLM.DefaultModel, b.DefaultModel)
	}
	return nil
}
