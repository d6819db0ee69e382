// Package server hosts the HTTP API: plugin routes under /api/v1, static
// plugin assets, health, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/HerbHall/phonebook/internal/plugin"
	"github.com/HerbHall/phonebook/internal/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouteRegistrar is a core handler outside the plugin system.
type RouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// Options tune the server's middleware and add core handlers.
type Options struct {
	RateLimitRPS   float64 // Requests per second per client; 0 disables limiting.
	RateLimitBurst int
	Handlers       []RouteRegistrar
}

// Server is the phonebook HTTP server.
type Server struct {
	httpServer *http.Server
	registry   *plugin.Registry
	logger     *zap.Logger
	mux        *http.ServeMux
}

// New creates a Server serving the routes of every enabled plugin in reg.
func New(addr string, reg *plugin.Registry, logger *zap.Logger, opts Options) *Server {
	mux := http.NewServeMux()

	s := &Server{
		registry: reg,
		logger:   logger,
		mux:      mux,
	}

	s.registerCoreRoutes()
	for _, h := range opts.Handlers {
		h.RegisterRoutes(mux)
	}
	s.mountPluginRoutes()
	s.mountPluginAssets()

	handler := Chain(mux,
		Recoverer(logger),
		RequestLogger(logger),
		Metrics(),
		RateLimit(newClientLimiter(opts.RateLimitRPS, opts.RateLimitBurst)),
	)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// registerCoreRoutes sets up routes that are always available.
func (s *Server) registerCoreRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/plugins", s.handlePlugins)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("/api/", func(w http.ResponseWriter, _ *http.Request) {
		NotFound(w, "no such endpoint")
	})
}

// mountPluginRoutes registers all plugin routes under /api/v1/{plugin}.
func (s *Server) mountPluginRoutes() {
	allRoutes := s.registry.AllRoutes()
	for pluginName, routes := range allRoutes {
		for _, route := range routes {
			pattern := fmt.Sprintf("%s /api/v1/%s%s", route.Method, pluginName, route.Path)
			s.mux.HandleFunc(pattern, route.Handler)
			s.logger.Debug("mounted route",
				zap.String("plugin", pluginName),
				zap.String("pattern", pattern),
			)
		}
	}
}

// mountPluginAssets serves each plugin's static files under its prefix.
func (s *Server) mountPluginAssets() {
	for prefix, h := range s.registry.AllAssets() {
		pattern := "GET " + strings.TrimSuffix(prefix, "/") + "/"
		s.mux.Handle(pattern, h)
		s.logger.Debug("mounted assets", zap.String("pattern", pattern))
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// healthResponse is the data of GET /api/v1/health.
type healthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Version map[string]string `json:"version"`
	Plugins map[string]any    `json:"plugins,omitempty"`
}

// handleHealth returns the server health status.
//
//	@Summary		Health check
//	@Tags			system
//	@Produce		json
//	@Success		200 {object} Envelope
//	@Failure		503 {object} Envelope
//	@Router			/health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Service: "phonebook",
		Version: version.Map(),
		Plugins: map[string]any{},
	}
	status := http.StatusOK
	for name, h := range s.registry.Health(r.Context()) {
		resp.Plugins[name] = h
		if h.Status != "ok" {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("X-Phonebook-Version", version.Short())
	WriteEnvelope(w, status, Envelope{Success: status == http.StatusOK, Data: resp})
}

// pluginResponse describes one registered plugin.
type pluginResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// handlePlugins returns the list of registered plugins.
//
//	@Summary		List plugins
//	@Tags			system
//	@Produce		json
//	@Success		200 {object} Envelope
//	@Router			/plugins [get]
func (s *Server) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	plugins := s.registry.All()
	info := make([]pluginResponse, 0, len(plugins))
	for _, p := range plugins {
		info = append(info, pluginResponse{Name: p.Name(), Version: p.Version()})
	}
	sort.Slice(info, func(i, j int) bool { return info[i].Name < info[j].Name })
	w.Header().Set("X-Phonebook-Version", version.Short())
	WriteData(w, http.StatusOK, "", info)
}
