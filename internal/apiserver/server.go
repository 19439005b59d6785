// Package apiserver provides the HTTP API for manifest generation and cache
// operations.
package apiserver

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/wellintake/manifestcache/internal/apiserver/handlers"
	customMiddleware "github.com/wellintake/manifestcache/internal/apiserver/middleware"
	"github.com/wellintake/manifestcache/internal/cache"
	"github.com/wellintake/manifestcache/internal/config"
	"github.com/wellintake/manifestcache/internal/logging"
	"github.com/wellintake/manifestcache/internal/manifest"
	"github.com/wellintake/manifestcache/internal/monitor"
	"github.com/wellintake/manifestcache/internal/webhook"
)

// APIServer wires the manifest service, cache client, webhook handler, and
// monitor behind one chi router
type APIServer struct {
	router         chi.Router
	server         *http.Server
	cacheClient    *cache.Client
	service        *manifest.Service
	webhookHandler *webhook.Handler
	cacheMonitor   *monitor.CacheMonitor
	scheduler      handlers.Scheduler
	config         *config.ServerConfig
	logger         *logging.Logger
}

// Components carries the optional collaborators of the API server. The
// webhook handler, monitor, and scheduler may each be nil; the corresponding
// routes or payload sections degrade gracefully.
type Components struct {
	WebhookHandler *webhook.Handler
	CacheMonitor   *monitor.CacheMonitor
	Scheduler      handlers.Scheduler
}

// NewAPIServer creates the API server with its routes mounted
func NewAPIServer(
	cfg *config.ServerConfig,
	cacheClient *cache.Client,
	service *manifest.Service,
	components Components,
) (*APIServer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if cacheClient == nil {
		return nil, fmt.Errorf("cache client is required")
	}
	if service == nil {
		return nil, fmt.Errorf("manifest service is required")
	}

	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.StripSlashes)
	router.Use(middleware.Timeout(30 * time.Second))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	apiServer := &APIServer{
		router:         router,
		server:         server,
		cacheClient:    cacheClient,
		service:        service,
		webhookHandler: components.WebhookHandler,
		cacheMonitor:   components.CacheMonitor,
		scheduler:      components.Scheduler,
		config:         cfg,
		logger:         logging.NewLogger("apiserver"),
	}

	if err := apiServer.setupRoutes(); err != nil {
		return nil, err
	}

	// Global 404 handler that returns JSON instead of HTML. Set after routes
	// to ensure it's the fallback.
	router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusNotFound, "not_found", "The requested endpoint was not found")
	})

	return apiServer, nil
}

// setupRoutes mounts all endpoints on the router
func (s *APIServer) setupRoutes() error {
	manifestHandler, err := handlers.NewManifestHandler(s.service)
	if err != nil {
		return fmt.Errorf("failed to create manifest handler: %w", err)
	}
	opsHandler, err := handlers.NewOperationsHandler(s.service, s.cacheClient, s.scheduler)
	if err != nil {
		return fmt.Errorf("failed to create operations handler: %w", err)
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			WriteError(w, http.StatusNotFound, "not_found", "The requested endpoint was not found")
		})

		r.Use(customMiddleware.ContentTypeValidator())

		r.Get("/manifest", manifestHandler.GetManifest)

		r.Route("/cache", func(r chi.Router) {
			r.Post("/invalidate", opsHandler.InvalidateCache)
			r.Post("/warmup", opsHandler.Warmup)
			r.Get("/status", opsHandler.GetStatus)
		})

		r.Route("/templates/{environment}/{variant}", func(r chi.Router) {
			r.Use(customMiddleware.ParamValidator("environment", environmentNames()))
			r.Use(customMiddleware.ParamValidator("variant", variantNames()))
			r.Put("/", opsHandler.UpdateTemplate)
		})

		r.Get("/system/health", s.getSystemHealth)
	})

	// Webhook lives outside /api/v1: the CI system posts raw JSON with its
	// own signature header, content-type validation does not apply.
	if s.webhookHandler != nil {
		s.router.Post("/webhook", s.webhookHandler.ServeHTTP)
	}

	// Prometheus scrape endpoint backed by the cache metrics collector
	registry := monitor.NewRegistry(s.cacheClient)
	s.router.Get("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).ServeHTTP)

	// Swagger UI endpoint, backed by the static document in docs.go
	s.router.Get("/swagger/doc.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(swaggerDoc))
	})
	s.router.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL(fmt.Sprintf("http://localhost:%d/swagger/doc.json", s.config.Port)),
	))

	return nil
}

func environmentNames() []string {
	envs := manifest.Environments()
	names := make([]string, 0, len(envs))
	for _, e := range envs {
		names = append(names, string(e))
	}
	return names
}

func variantNames() []string {
	variants := manifest.Variants()
	names := make([]string, 0, len(variants))
	for _, v := range variants {
		names = append(names, string(v))
	}
	return names
}

// getSystemHealth returns system health status
// @Summary Health check
// @Description Check the cache backend, template registry, and monitor
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{} "Service is healthy"
// @Success 503 {object} map[string]interface{} "Service degraded"
// @Router /system/health [get]
func (s *APIServer) getSystemHealth(w http.ResponseWriter, _ *http.Request) {
	cacheHealth := s.checkCacheHealth()
	templateHealth := s.checkTemplateHealth()

	components := map[string]interface{}{
		"cache":     cacheHealth.Details,
		"templates": templateHealth.Details,
	}
	if s.cacheMonitor != nil {
		components["monitor"] = s.checkMonitorHealth().Details
	}

	// The cache going down must not take the service down with it: fallback
	// mode degrades the health report but template availability decides
	// whether we can serve at all.
	overallHealthy := templateHealth.Healthy

	status := "healthy"
	statusCode := http.StatusOK
	switch {
	case !overallHealthy:
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	case !cacheHealth.Healthy:
		status = "degraded"
	}

	WriteJSON(w, statusCode, map[string]interface{}{
		"status":     status,
		"time":       time.Now().Format(time.RFC3339),
		"components": components,
		"system":     s.getSystemMetrics(),
		"version": map[string]interface{}{
			"api": "v1",
		},
	})
}

// componentHealth represents the health status of one component
type componentHealth struct {
	Details map[string]interface{}
	Healthy bool
}

func (s *APIServer) checkCacheHealth() componentHealth {
	summary := s.cacheClient.HealthSummary()
	snap := s.cacheClient.Metrics().Snapshot()
	fallback, reason := s.cacheClient.FallbackState()

	details := map[string]interface{}{
		"status":        summary,
		"health":        snap.Health,
		"hit_rate":      snap.HitRate,
		"fallback_mode": fallback,
	}
	if reason != "" {
		details["fallback_reason"] = reason
	}

	return componentHealth{
		Details: details,
		Healthy: summary == "healthy" || summary == "not_configured",
	}
}

func (s *APIServer) checkTemplateHealth() componentHealth {
	count := s.service.TemplatesConfigured()
	details := map[string]interface{}{
		"status":     "healthy",
		"configured": count,
	}
	healthy := count > 0
	if !healthy {
		details["status"] = "unhealthy"
		details["message"] = "No manifest templates configured"
	}
	return componentHealth{Details: details, Healthy: healthy}
}

func (s *APIServer) checkMonitorHealth() componentHealth {
	stats := s.cacheMonitor.GetStats()
	return componentHealth{
		Details: map[string]interface{}{
			"status":        "healthy",
			"running":       stats.Running,
			"active_alerts": stats.ActiveAlerts,
			"snapshots":     stats.Snapshots,
			"last_check":    stats.LastCheck,
		},
		Healthy: true,
	}
}

func (s *APIServer) getSystemMetrics() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"memory": map[string]interface{}{
			"alloc_mb": m.Alloc / 1024 / 1024,
			"sys_mb":   m.Sys / 1024 / 1024,
			"gc_count": m.NumGC,
		},
	}
}

// Start begins serving; it blocks until the server stops
func (s *APIServer) Start() error {
	s.logger.Infof("Starting API server on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Router exposes the handler for tests
func (s *APIServer) Router() http.Handler {
	return s.router
}

// Shutdown drains in-flight requests and stops the server
func (s *APIServer) Shutdown(ctx context.Context) error {
	s.logger.Infof("Shutting down API server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
