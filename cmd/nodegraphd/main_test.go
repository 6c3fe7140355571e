package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dshills/nodegraph-go/config"
	"github.com/dshills/nodegraph-go/graph/emit"
)

func TestParseFlags(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, ok, err := parseFlags(nil, io.Discard)
		if err != nil || !ok {
			t.Fatalf("unexpected result ok=%v err=%v", ok, err)
		}
		if cfg.ListenAddr != ":8000" {
			t.Errorf("expected :8000, got %s", cfg.ListenAddr)
		}
	})

	t.Run("flags override file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nodegraph.hcl")
		src := "listen_addr = \":9000\"\nlog_level = \"debug\"\n"
		if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
			t.Fatal(err)
		}
		cfg, _, err := parseFlags([]string{"-config", path, "-addr", ":9100", "-cache-driver", "memory", "-allowed-origins", "http://a,http://b"}, io.Discard)
		if err != nil {
			t.Fatalf("parseFlags: %v", err)
		}
		if cfg.ListenAddr != ":9100" {
			t.Errorf("expected flag to win, got %s", cfg.ListenAddr)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("expected file log level, got %s", cfg.LogLevel)
		}
		if cfg.Cache.Driver != config.DriverMemory || len(cfg.AllowedOrigins) != 2 {
			t.Errorf("unexpected config %+v", cfg)
		}
	})

	t.Run("help", func(t *testing.T) {
		var out bytes.Buffer
		_, ok, err := parseFlags([]string{"-help"}, &out)
		if err != nil || ok {
			t.Errorf("expected clean exit, got ok=%v err=%v", ok, err)
		}
		if !strings.Contains(out.String(), "-cache-driver") {
			t.Error("expected usage text")
		}
	})

	t.Run("unknown flag", func(t *testing.T) {
		_, _, err := parseFlags([]string{"-nope"}, io.Discard)
		var exitErr *ExitError
		if !errors.As(err, &exitErr) || exitErr.Code != 2 {
			t.Errorf("expected exit code 2, got %v", err)
		}
	})

	t.Run("invalid value", func(t *testing.T) {
		_, _, err := parseFlags([]string{"-log-level", "loud"}, io.Discard)
		if !errors.Is(err, config.ErrInvalid) {
			t.Errorf("expected ErrInvalid, got %v", err)
		}
	})
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("warn", "json", &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info should be filtered at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("expected json record, got %q", out)
	}
}

func TestOpenStore(t *testing.T) {
	for _, cfg := range []config.CacheConfig{
		{Driver: config.DriverMemory},
		{Driver: config.DriverSQLite, Path: filepath.Join(t.TempDir(), "cache.db")},
	} {
		t.Run(cfg.Driver, func(t *testing.T) {
			s, err := openStore(cfg)
			if err != nil {
				t.Fatalf("openStore: %v", err)
			}
			if err := s.Close(); err != nil {
				t.Errorf("Close: %v", err)
			}
		})
	}
	if _, err := openStore(config.CacheConfig{Driver: "redis"}); !errors.Is(err, config.ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestNewChatModel(t *testing.T) {
	ctx := context.Background()
	if m, err := newChatModel(ctx, config.LLMConfig{}); err != nil || m != nil {
		t.Errorf("expected no model, got %v %v", m, err)
	}
	if _, err := newChatModel(ctx, config.LLMConfig{Provider: config.ProviderOpenAI}); err == nil {
		t.Error("expected missing key error")
	}
	if m, err := newChatModel(ctx, config.LLMConfig{Provider: config.ProviderAnthropic, AnthropicAPIKey: "k"}); err != nil || m == nil {
		t.Errorf("expected anthropic model, got %v", err)
	}
}

func TestLogExporter(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("debug", "text", &buf)
	tp := newTracerProvider("test", logger)
	otel := emit.NewOTelEmitter(tp.Tracer("nodegraph"))
	otel.Emit(emit.Event{RunID: "r1", NodeID: "n1", Msg: emit.MsgSingleNodeUpdate})
	if err := otel.Flush(context.Background(), tp); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	_ = tp.Shutdown(context.Background())
	if !strings.Contains(buf.String(), "span single_node_update") || !strings.Contains(buf.String(), "nodegraph.run_id=r1") {
		t.Errorf("expected exported span in log, got %q", buf.String())
	}
}

func TestApp(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Driver = config.DriverMemory
	cfg.Tracing.Enabled = true
	cfg.StreamStepDelay = time.Millisecond

	a, err := newApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()

	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	for _, path := range []string{"/healthz", "/all_nodes", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Cache.Driver = config.DriverMemory
	cfg.Metrics.Enabled = false

	a, err := newApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
