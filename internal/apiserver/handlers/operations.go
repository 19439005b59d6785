package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	chi "github.com/go-chi/chi/v5"

	"github.com/wellintake/manifestcache/internal/cache"
	"github.com/wellintake/manifestcache/internal/logging"
	"github.com/wellintake/manifestcache/internal/manifest"
)

// Scheduler enqueues background cache warmups, best-effort
type Scheduler interface {
	Schedule(ctx context.Context, environments []string) error
}

// OperationsHandler implements cache operation endpoints
type OperationsHandler struct {
	service     *manifest.Service
	cacheClient *cache.Client
	scheduler   Scheduler // may be nil
	logger      *logging.Logger
}

// NewOperationsHandler creates the operations handler
func NewOperationsHandler(service *manifest.Service, cacheClient *cache.Client, scheduler Scheduler) (*OperationsHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("manifest service is required")
	}
	if cacheClient == nil {
		return nil, fmt.Errorf("cache client is required")
	}
	return &OperationsHandler{
		service:     service,
		cacheClient: cacheClient,
		scheduler:   scheduler,
		logger:      logging.NewLogger("operations-handler"),
	}, nil
}

// InvalidateRequest is the body of POST /cache/invalidate
type InvalidateRequest struct {
	Environment string `json:"environment,omitempty"`
	Variant     string `json:"variant,omitempty"`
	Pattern     string `json:"pattern,omitempty"`
}

// InvalidateCache deletes cached manifests matching the given filters
// @Summary Invalidate cache entries
// @Description Delete cached manifests by environment, variant, or explicit pattern
// @Tags cache
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{} "Deleted entry count"
// @Failure 400 {object} handlers.ErrorResponse "Malformed body"
// @Router /cache/invalidate [post]
func (h *OperationsHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req InvalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_body", "Request body must be valid JSON")
		return
	}

	deleted := h.service.Invalidate(r.Context(), req.Environment, req.Variant, req.Pattern)

	if h.scheduler != nil && deleted > 0 {
		envs := []string(nil)
		if req.Environment != "" {
			envs = []string{req.Environment}
		}
		if err := h.scheduler.Schedule(r.Context(), envs); err != nil {
			h.logger.Warnf("Failed to schedule warmup after invalidation: %v", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted_count": deleted,
	})
}

// WarmupRequest is the body of POST /cache/warmup
type WarmupRequest struct {
	Environments []string `json:"environments,omitempty"`
}

// Warmup pre-generates manifests for the requested environments
// @Summary Warm the cache
// @Description Pre-generate and store manifests for every environment/variant pair
// @Tags cache
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{} "Per-environment results"
// @Router /cache/warmup [post]
func (h *OperationsHandler) Warmup(w http.ResponseWriter, r *http.Request) {
	var req WarmupRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed_body", "Request body must be valid JSON")
			return
		}
	}

	results := h.service.WarmCache(r.Context(), req.Environments)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
	})
}

// UpdateTemplateRequest is the body of PUT /templates/{environment}/{variant}
type UpdateTemplateRequest struct {
	Fields map[string]interface{} `json:"fields"`
}

// UpdateTemplate mutates a manifest template and invalidates its cache pair
// @Summary Update a manifest template
// @Description Apply field updates to one (environment, variant) template; its cached manifests are invalidated
// @Tags templates
// @Accept json
// @Produce json
// @Param environment path string true "Environment"
// @Param variant path string true "Variant"
// @Success 200 {object} map[string]interface{} "Applied template"
// @Failure 400 {object} handlers.ErrorResponse "Invalid fields"
// @Router /templates/{environment}/{variant} [put]
func (h *OperationsHandler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	// Path params are pre-validated against the closed sets by middleware
	env, _ := manifest.ParseEnvironment(chi.URLParam(r, "environment"))
	variant, _ := manifest.ParseVariant(chi.URLParam(r, "variant"))

	var req UpdateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_body", "Request body must be valid JSON")
		return
	}
	if len(req.Fields) == 0 {
		writeError(w, http.StatusBadRequest, "empty_update", "At least one template field is required")
		return
	}

	tpl, err := h.service.UpdateTemplate(r.Context(), env, variant, req.Fields)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_fields", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"applied":  true,
		"template": tpl,
	})
}

// GetStatus reports cache metrics, health, and A/B distribution
// @Summary Cache status
// @Description Report cache metrics, circuit breaker state, health summary, and A/B distribution
// @Tags cache
// @Produce json
// @Success 200 {object} map[string]interface{} "Status payload"
// @Router /cache/status [get]
func (h *OperationsHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	_ = r
	fallback, reason := h.cacheClient.FallbackState()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metrics":              h.cacheClient.Metrics().Snapshot(),
		"health":               h.cacheClient.HealthSummary(),
		"circuit_breaker":      h.cacheClient.BreakerState(),
		"fallback_mode":        fallback,
		"fallback_reason":      reason,
		"ab_distribution":      h.service.ABDistribution(),
		"templates_configured": h.service.TemplatesConfigured(),
	})
}
