package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
	if cfg.Cache.Expiry != 2*time.Hour || cfg.Cache.FlushInterval != time.Minute {
		t.Errorf("unexpected cache timings %v / %v", cfg.Cache.Expiry, cfg.Cache.FlushInterval)
	}
	if cfg.Cache.ThresholdMB != 0.1 {
		t.Errorf("expected threshold 0.1, got %v", cfg.Cache.ThresholdMB)
	}
}

func TestParse(t *testing.T) {
	t.Setenv("NODEGRAPH_TEST_KEY", "sk-test")
	src := []byte(`
listen_addr     = "127.0.0.1:9000"
log_level       = "debug"
allowed_origins = ["http://localhost:3000"]

cache {
  driver         = "memory"
  threshold_mb   = 0.5
  flush_interval = "30s"
}

metrics {
  enabled = false
}

llm {
  provider          = "openai"
  openai_api_key    = env("NODEGRAPH_TEST_KEY")
  default_model     = "gpt-4o"
}
`)
	cfg, err := Parse("test.hcl", src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9000" || cfg.LogLevel != "debug" {
		t.Errorf("unexpected top-level values %+v", cfg)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("expected default log format to survive, got %q", cfg.LogFormat)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://localhost:3000" {
		t.Errorf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.Cache.Driver != DriverMemory || cfg.Cache.ThresholdMB != 0.5 || cfg.Cache.FlushInterval != 30*time.Second {
		t.Errorf("unexpected cache config %+v", cfg.Cache)
	}
	if cfg.Cache.Expiry != 2*time.Hour {
		t.Errorf("expected default expiry, got %v", cfg.Cache.Expiry)
	}
	if cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("unexpected metrics config %+v", cfg.Metrics)
	}
	if cfg.LLM.APIKey() != "sk-test" || cfg.LLM.DefaultModel != "gpt-4o" {
		t.Errorf("unexpected llm config %+v", cfg.LLM)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"syntax", `listen_addr = `},
		{"unknown attribute", `port = 80`},
		{"bad duration", "cache {\n  expiry = \"soon\"\n}"},
		{"bad driver", "cache {\n  driver = \"redis\"\n}"},
		{"mysql without dsn", "cache {\n  driver = \"mysql\"\n}"},
		{"bad level", `log_level = "verbose"`},
		{"provider without key", "llm {\n  provider = \"anthropic\"\n}"},
		{"unknown provider", "llm {\n  provider = \"mistral\"\n}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse("test.hcl", []byte(tt.src)); err == nil {
				t.Errorf("expected error for %q", tt.src)
			}
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "xml"
	cfg.Cache.ThresholdMB = 0
	err := cfg.Validate()
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) || len(joined.Unwrap()) != 2 {
		t.Errorf("expected two joined errors, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodegraph.hcl")
	if err := os.WriteFile(path, []byte(`log_format = "json"`), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("expected json, got %s", cfg.LogFormat)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.hcl")); err == nil {
		t.Error("expected error for missing file")
	}
}
