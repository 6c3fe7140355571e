package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dshills/nodegraph-go/config"
	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/cache"
	"github.com/dshills/nodegraph-go/graph/cache/store"
	"github.com/dshills/nodegraph-go/graph/data"
	"github.com/dshills/nodegraph-go/graph/emit"
	"github.com/dshills/nodegraph-go/graph/model"
	"github.com/dshills/nodegraph-go/graph/model/anthropic"
	"github.com/dshills/nodegraph-go/graph/model/google"
	"github.com/dshills/nodegraph-go/graph/model/openai"
	"github.com/dshills/nodegraph-go/graph/nodes"
	"github.com/dshills/nodegraph-go/graph/tool"
	"github.com/dshills/nodegraph-go/server"
)

// shutdownTimeout bounds graceful shutdown of the HTTP server and the final
// cache flush.
const shutdownTimeout = 10 * time.Second

// app owns every long-lived component of the process.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	cache    *cache.Cache
	chat     model.ChatModel
	costs    *model.CostTracker
	tracer   *sdktrace.TracerProvider
	otel     *emit.OTelEmitter
	handler  http.Handler
	promReg  *prometheus.Registry
	registry *graph.Registry
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, costs: model.NewCostTracker()}

	var metrics *graph.PrometheusMetrics
	if cfg.Metrics.Enabled {
		a.promReg = prometheus.NewRegistry()
		a.promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = graph.NewPrometheusMetrics(a.promReg)
	}

	types := data.NewRegistry()
	if err := nodes.RegisterTypes(types); err != nil {
		return nil, err
	}

	st, err := openStore(cfg.Cache)
	if err != nil {
		return nil, err
	}
	cacheOpts := []cache.Option{
		cache.WithStore(st),
		cache.WithFlushInterval(cfg.Cache.FlushInterval),
		cache.WithExpiry(cfg.Cache.Expiry),
		cache.WithLogger(logger.With("component", "cache")),
	}
	if metrics != nil {
		cacheOpts = append(cacheOpts, cache.WithMetrics(metrics))
	}
	a.cache = cache.New(data.CacheCodec{Registry: types}, cacheOpts...)
	a.cache.Start(ctx)
	serializer := data.NewSerializer(types, a.cache, data.WithThreshold(cfg.Cache.ThresholdMB))

	a.chat, err = newChatModel(ctx, cfg.LLM)
	if err != nil {
		_ = a.cache.Close(ctx)
		return nil, err
	}

	a.registry, err = graph.NewRegistry(nodes.Loader(nodes.Deps{
		Fetcher:   tool.NewHTTPFetcher(tool.WithFetchLogger(logger.With("component", "fetch"))),
		Chat:      a.chat,
		Costs:     a.costs,
		StepDelay: cfg.StreamStepDelay,
	}))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("load node catalog: %w", err)
	}

	observers := []emit.Emitter{emit.NewLogEmitter(logger.With("component", "engine"), slog.LevelDebug)}
	if cfg.Tracing.Enabled {
		a.tracer = newTracerProvider(cfg.Tracing.ServiceName, logger)
		a.otel = emit.NewOTelEmitter(a.tracer.Tracer("nodegraph"))
		observers = append(observers, a.otel)
	}

	opts := server.Options{
		Registry:       a.registry,
		Serializer:     serializer,
		Metrics:        metrics,
		MetricsPath:    cfg.Metrics.Path,
		Observer:       emit.NewMultiEmitter(observers...),
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
	}
	if a.promReg != nil {
		opts.Gatherer = a.promReg
	}
	srv, err := server.New(opts)
	if err != nil {
		a.close()
		return nil, err
	}
	a.handler = srv.Handler()
	return a, nil
}

// serve runs the HTTP server until ctx is done, then shuts it down.
func (a *app) serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "addr", a.cfg.ListenAddr, "namespaces", a.registry.Namespaces())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// close releases components in reverse order of creation.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.tracer != nil {
		if err := a.otel.Flush(ctx, a.tracer); err != nil {
			a.logger.Warn("flush spans", "error", err)
		}
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("shutdown tracer", "error", err)
		}
	}
	if c, ok := a.chat.(io.Closer); ok {
		_ = c.Close()
	}
	if total := a.costs.Total(); total > 0 {
		a.logger.Info("llm usage", "cost_usd", total, "calls", len(a.costs.Calls()))
	}
	if err := a.cache.Close(ctx); err != nil {
		a.logger.Error("close cache", "error", err)
	}
}

func openStore(cfg config.CacheConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		s, err := store.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case config.DriverMySQL:
		s, err := store.NewMySQLStore(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open mysql store: %w", err)
		}
		return s, nil
	case config.DriverMemory:
		return store.NewMemStore(), nil
	}
	return nil, fmt.Errorf("%w: unknown cache driver %q", config.ErrInvalid, cfg.Driver)
}

// newChatModel returns nil when no provider is configured.
func newChatModel(ctx context.Context, cfg config.LLMConfig) (model.ChatModel, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case config.ProviderAnthropic:
		return anthropic.New(cfg.AnthropicAPIKey, cfg.DefaultModel)
	case config.ProviderOpenAI:
		return openai.New(cfg.OpenAIAPIKey, cfg.DefaultModel)
	case config.ProviderGoogle:
		return google.New(ctx, cfg.GoogleAPIKey, cfg.DefaultModel)
	}
	return nil, fmt.Errorf("%w: unknown llm provider %q", config.ErrInvalid, cfg.Provider)
}
