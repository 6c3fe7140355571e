// Package server exposes the engine over HTTP.
//
// Routes:
//
//	GET  /execute            websocket duplex channel (execute / cancel)
//	GET  /all_nodes          node catalog, per namespace
//	POST /large_file_upload  multipart ingestion of one large payload
//	GET  /metrics            Prometheus metrics, when configured
//	GET  /healthz            liveness probe
//
// Every connection to /execute owns its own graph.Engine; connections run
// concurrently and share the registry, serializer and cache.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/data"
	"github.com/dshills/nodegraph-go/graph/emit"
)

// DefaultMaxUploadBytes bounds a large_file_upload request.
const DefaultMaxUploadBytes = 512 << 20

// Options configures a Server.
type Options struct {
	// Registry and Serializer are required.
	Registry   *graph.Registry
	Serializer *data.Serializer

	// Metrics is passed to every engine. Nil disables engine metrics.
	Metrics *graph.PrometheusMetrics

	// Gatherer backs the metrics route. Nil disables the route.
	Gatherer    prometheus.Gatherer
	MetricsPath string

	// Observer receives a copy of every engine event, for logs and traces.
	Observer emit.Emitter

	Logger         *slog.Logger
	AllowedOrigins []string
	MaxUploadBytes int64

	// WriteTimeout bounds one websocket write. Zero means 10 seconds.
	WriteTimeout time.Duration
}

// Server serves the engine routes. Use Handler to mount it.
type Server struct {
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// New validates opts and builds the route table.
func New(opts Options) (*Server, error) {
	if opts.Registry == nil {
		return nil, errors.New("server: registry is required")
	}
	if opts.Serializer == nil {
		return nil, errors.New("server: serializer is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}

	s := &Server{
		opts:   opts,
		logger: opts.Logger.With("component", "server"),
		mux:    http.NewServeMux(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  64 << 10,
		WriteBufferSize: 64 << 10,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}

	s.mux.HandleFunc("GET /execute", s.handleExecute)
	s.mux.HandleFunc("GET /all_nodes", s.handleCatalog)
	s.mux.HandleFunc("POST /large_file_upload", s.handleUpload)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if opts.Gatherer != nil {
		s.mux.Handle("GET "+opts.MetricsPath, promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return s, nil
}

// Handler returns the root handler with CORS and request logging applied.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.cors(s.mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	catalog, err := s.opts.Registry.Catalog(r.Context(), s.opts.Serializer)
	if err != nil {
		s.logger.Error("catalog failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, catalog)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}
