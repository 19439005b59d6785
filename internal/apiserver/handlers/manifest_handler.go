// Package handlers implements the HTTP handlers for manifest generation and
// cache operations.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/wellintake/manifestcache/internal/logging"
	"github.com/wellintake/manifestcache/internal/manifest"
)

// Package-level logger for the response helpers
var logger = logging.NewLogger("handlers")

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSON safely writes a JSON response with proper error handling
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encoding_error", "Failed to encode response")
		logger.Errorf("JSON encoding error: %v", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(jsonData); err != nil {
		logger.Errorf("Failed to write response body: %v", err)
	}
}

// writeError writes a structured error response
func writeError(w http.ResponseWriter, status int, code string, message string) {
	jsonData, err := json.Marshal(ErrorResponse{Error: code, Message: message})
	if err != nil {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error: failed to encode error response"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(jsonData)
}

// Response headers carrying cache provenance
const (
	HeaderCacheStatus      = "X-Cache-Status"
	HeaderEnvironment      = "X-Manifest-Environment"
	HeaderVariant          = "X-Manifest-Variant"
	HeaderAccessCount      = "X-Cache-Access-Count"
	HeaderGenerationTimeMs = "X-Generation-Time-Ms"
)

// ManifestHandler serves manifest documents
type ManifestHandler struct {
	service *manifest.Service
	logger  *logging.Logger
}

// NewManifestHandler creates the manifest handler
func NewManifestHandler(service *manifest.Service) (*ManifestHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("manifest service is required")
	}
	return &ManifestHandler{
		service: service,
		logger:  logging.NewLogger("manifest-handler"),
	}, nil
}

// GetManifest serves a manifest document
// @Summary Get manifest
// @Description Serve the add-in manifest for the resolved environment and variant
// @Tags manifest
// @Produce xml
// @Param environment query string false "Environment override"
// @Param variant query string false "Variant override"
// @Param version query string false "Explicit version (cache-bust token)"
// @Param beta query string false "Request the beta variant"
// @Success 200 {string} string "Manifest XML"
// @Failure 500 {object} handlers.ErrorResponse "No template configured"
// @Router /manifest [get]
func (h *ManifestHandler) GetManifest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := manifest.Request{
		Environment: q.Get("environment"),
		Variant:     q.Get("variant"),
		Version:     q.Get("version"),
		Beta:        q.Get("beta") == "true" || q.Get("beta") == "1",
		Host:        r.Host,
		ClientAddr:  r.RemoteAddr,
		ClientUA:    r.UserAgent(),
	}

	generated, err := h.service.Generate(r.Context(), req)
	if err != nil {
		// The one hard error: no template and no safe default to serve
		if errors.Is(err, manifest.ErrNoTemplate) {
			writeError(w, http.StatusInternalServerError, "configuration_error", err.Error())
			return
		}
		h.logger.Errorf("Manifest generation failed: %v", err)
		writeError(w, http.StatusInternalServerError, "generation_failed", "Failed to generate manifest")
		return
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.Header().Set(HeaderCacheStatus, generated.CacheStatus)
	w.Header().Set(HeaderEnvironment, string(generated.Environment))
	w.Header().Set(HeaderVariant, string(generated.Variant))
	if generated.CacheStatus == manifest.ProvenanceHit {
		w.Header().Set(HeaderAccessCount, strconv.FormatInt(generated.AccessCount, 10))
	} else {
		w.Header().Set(HeaderGenerationTimeMs, strconv.FormatInt(generated.Elapsed.Milliseconds(), 10))
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(generated.Body); err != nil {
		h.logger.Errorf("Failed to write manifest body: %v", err)
	}
}
