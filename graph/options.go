package graph

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dshills/nodegraph-go/graph/data"
	"github.com/dshills/nodegraph-go/graph/emit"
)

// Options configures an Engine. Zero values are replaced by defaults:
// a NullEmitter, no metrics, slog.Default() and a Serializer without a
// cache.
type Options struct {
	// Emitter receives the run's events.
	Emitter emit.Emitter

	// Metrics, when set, records run and node metrics.
	Metrics *PrometheusMetrics

	// Logger receives engine diagnostics (skipped nodes, edge warnings).
	Logger *slog.Logger

	// Serializer encodes nodes for node update events and decodes submitted
	// port values.
	Serializer *data.Serializer
}

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine, err := graph.New(reg,
//	    graph.WithEmitter(emitter),
//	    graph.WithSerializer(data.NewSerializer(types, largeObjects)),
//	)
type Option func(*engineConfig) error

type engineConfig struct {
	opts Options
}

// WithEmitter sets the event sink for runs.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Emitter = e
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Metrics = metrics
		return nil
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *engineConfig) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		cfg.opts.Logger = logger
		return nil
	}
}

// WithSerializer sets the payload serializer. Share one Serializer (and its
// cache) across engines so that previews emitted by one run resolve in the
// next.
func WithSerializer(s *data.Serializer) Option {
	return func(cfg *engineConfig) error {
		if s == nil {
			return errors.New("serializer must not be nil")
		}
		cfg.opts.Serializer = s
		return nil
	}
}

type loggerKey struct{}

// ContextWithLogger returns a context carrying logger.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in ctx, or slog.Default().
func LoggerFrom(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}
