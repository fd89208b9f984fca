// Package debugapi serves an HTTP introspection API over a Hub of named
// controllers: a typed JSON API, Prometheus metrics and a websocket stream of
// notifications.
//
//	GET  /api/controllers
//	GET  /api/controllers/{name}?keys=a,b
//	POST /api/controllers/{name}/notify
//	GET  /api/watchers
//	GET  /metrics
//	GET  /stream?controller={name}&key={key}
//	GET  /healthz
package debugapi

import (
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/herald/pkg/stream"
	"github.com/vango-dev/herald/pkg/watch"
)

// Config configures the debug server.
type Config struct {
	// Title and Version describe the API in the OpenAPI document.
	Title   string
	Version string

	// Gatherer is scraped by /metrics. Default: prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Registry is the watch registry reported by /api/watchers and used by
	// stream clients. Default: watch.DefaultRegistry().
	Registry *watch.Registry

	// Logger receives request logs. Default: slog.Default().
	Logger *slog.Logger

	// AllowAnyOrigin disables the websocket origin check.
	AllowAnyOrigin bool
}

// Server is the debug HTTP server.
type Server struct {
	hub    *Hub
	router chi.Router
	api    huma.API
	stream *stream.Server
}

// New builds the router for hub.
func New(hub *Hub, config Config) *Server {
	if config.Title == "" {
		config.Title = "Herald"
	}
	if config.Version == "" {
		config.Version = "dev"
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}
	if config.Registry == nil {
		config.Registry = watch.DefaultRegistry()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(config.Logger))
	r.Use(middleware.Recoverer)

	streamOpts := []stream.Option{
		stream.WithRegistry(config.Registry),
		stream.WithLogger(config.Logger),
	}
	if config.AllowAnyOrigin {
		streamOpts = append(streamOpts, stream.WithCheckOrigin(func(*http.Request) bool { return true }))
	}

	s := &Server{
		hub:    hub,
		router: r,
		stream: stream.NewServer(hub.Lookup, streamOpts...),
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{}))
	r.Handle("/stream", s.stream)

	s.api = humachi.New(r, huma.DefaultConfig(config.Title, config.Version))
	registerOperations(s.api, hub, config.Registry)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Stream returns the websocket stream server.
func (s *Server) Stream() *stream.Server {
	return s.stream
}

// API returns the huma API, for registering additional operations.
func (s *Server) API() huma.API {
	return s.api
}

// Close disconnects every stream client.
func (s *Server) Close() {
	s.stream.Close()
}
