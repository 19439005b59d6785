// Package webhook verifies signed repository push events and drives cache
// invalidation for the files they touch.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/wellintake/manifestcache/internal/logging"
	"github.com/wellintake/manifestcache/internal/manifest"
)

// SignatureHeader carries the HMAC-SHA256 of the raw request body
const SignatureHeader = "X-Signature-256"

// EventHeader names the event type; push events drive invalidation
const EventHeader = "X-Event-Type"

// maxBodySize bounds webhook payloads (1MB)
const maxBodySize = 1 << 20

// Invalidation categories derived from changed file paths
const (
	CategoryManifest = "manifest"
	CategoryAssets   = "assets"
	CategoryIcons    = "icons"
)

// Scheduler enqueues a cache warmup after an invalidation wave. Best-effort;
// a nil scheduler disables warmup scheduling.
type Scheduler interface {
	Schedule(ctx context.Context, environments []string) error
}

// PushEvent is the inbound payload shape for push events
type PushEvent struct {
	Ref        string `json:"ref"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Commits []Commit `json:"commits"`
}

// Commit lists the files one commit touched
type Commit struct {
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Removed  []string `json:"removed"`
}

// Result describes exactly what a webhook event did and did not invalidate.
// This endpoint is judged entirely by whether stale manifests stop being
// served, so the payload is precise about what happened.
type Result struct {
	Status             string          `json:"status"` // processed | ignored | acknowledged
	Event              string          `json:"event"`
	Branch             string          `json:"branch,omitempty"`
	Reason             string          `json:"reason,omitempty"`
	InvalidationNeeded bool            `json:"cache_invalidation_needed"`
	Categories         map[string]bool `json:"categories,omitempty"`
	DeletedEntries     int             `json:"deleted_entries"`
	CDNPurged          bool            `json:"cdn_purged"`
	SignatureEnforced  bool            `json:"signature_enforced"`
}

// Config configures the webhook handler
type Config struct {
	Secret      string
	Branch      string
	CDNPurgeURL string
}

// Handler is the invalidation webhook endpoint
type Handler struct {
	service    *manifest.Service
	scheduler  Scheduler
	secret     []byte
	branch     string
	cdnURL     string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewHandler creates the webhook handler. An empty secret skips signature
// verification; that is development-only behavior and is logged loudly.
func NewHandler(service *manifest.Service, scheduler Scheduler, cfg Config) *Handler {
	logger := logging.NewLogger("webhook")
	if cfg.Secret == "" {
		logger.Warnf("No webhook secret configured; signature verification is DISABLED (development only)")
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}

	return &Handler{
		service:    service,
		scheduler:  scheduler,
		secret:     []byte(cfg.Secret),
		branch:     cfg.Branch,
		cdnURL:     cfg.CDNPurgeURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Verify checks the HMAC-SHA256 signature of the raw body against the
// signature header, in constant time. With no secret configured it passes
// unconditionally.
func (h *Handler) Verify(body []byte, signatureHeader string) bool {
	if len(h.secret) == 0 {
		h.logger.Warnf("Accepting unverified webhook event (no secret configured)")
		return true
	}

	const prefix = "sha256="
	if !strings.HasPrefix(signatureHeader, prefix) {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(signatureHeader, prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}

// ServeHTTP handles POST /webhook. Responses: 200 with a structured result
// for verified events, 401 on failed verification, 400 on malformed payload.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable_body"})
		return
	}

	if !h.Verify(body, r.Header.Get(SignatureHeader)) {
		h.logger.Warnf("Webhook signature verification failed")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "signature_verification_failed"})
		return
	}

	eventType := r.Header.Get(EventHeader)
	if eventType == "" {
		eventType = r.Header.Get("X-GitHub-Event")
	}
	if eventType == "" {
		eventType = "push"
	}

	// Non-push events (connectivity probes etc) acknowledge without
	// touching the cache.
	if eventType != "push" {
		writeJSON(w, http.StatusOK, Result{
			Status:            "acknowledged",
			Event:             eventType,
			SignatureEnforced: len(h.secret) > 0,
		})
		return
	}

	var event PushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed_payload"})
		return
	}

	writeJSON(w, http.StatusOK, h.Process(r.Context(), event))
}

// Process classifies a push event's changed files and runs the resulting
// invalidation wave.
func (h *Handler) Process(ctx context.Context, event PushEvent) Result {
	result := Result{
		Status:            "processed",
		Event:             "push",
		SignatureEnforced: len(h.secret) > 0,
	}

	branch := strings.TrimPrefix(event.Ref, "refs/heads/")
	result.Branch = branch
	if branch != h.branch {
		result.Status = "ignored"
		result.Reason = "push outside tracked branch"
		h.logger.Debugf("Ignoring push to %q (tracking %q)", branch, h.branch)
		return result
	}

	categories := classifyChanges(event.Commits)
	result.Categories = categories

	for _, flagged := range categories {
		if flagged {
			result.InvalidationNeeded = true
			break
		}
	}
	if !result.InvalidationNeeded {
		h.logger.Infof("Push on %q touched no cache-relevant files", branch)
		return result
	}

	for category, flagged := range categories {
		if !flagged {
			continue
		}
		deleted := h.service.Invalidate(ctx, "", "", patternFor(category))
		result.DeletedEntries += deleted
		h.logger.Infof("Invalidated %d entries for category %q", deleted, category)
	}

	result.CDNPurged = h.purgeCDN(ctx)

	if h.scheduler != nil {
		if err := h.scheduler.Schedule(ctx, nil); err != nil {
			h.logger.Warnf("Failed to schedule cache warmup: %v", err)
		}
	}

	return result
}

// classifyChanges maps the union of changed files across all commits to
// invalidation categories.
func classifyChanges(commits []Commit) map[string]bool {
	categories := map[string]bool{
		CategoryManifest: false,
		CategoryAssets:   false,
		CategoryIcons:    false,
	}

	for _, commit := range commits {
		for _, files := range [][]string{commit.Added, commit.Modified, commit.Removed} {
			for _, file := range files {
				classifyFile(file, categories)
			}
		}
	}
	return categories
}

// classifyFile flags the category a single changed file belongs to
func classifyFile(file string, categories map[string]bool) {
	lower := strings.ToLower(file)
	base := path.Base(lower)

	switch {
	case base == "manifest.xml" || strings.HasSuffix(base, ".manifest.xml"):
		categories[CategoryManifest] = true
	case strings.HasSuffix(lower, ".png") || strings.HasSuffix(lower, ".ico") || strings.HasSuffix(lower, ".svg"):
		categories[CategoryIcons] = true
	case strings.HasSuffix(lower, ".js") || strings.HasSuffix(lower, ".css") || strings.HasSuffix(lower, ".html"):
		categories[CategoryAssets] = true
	}
}

// patternFor maps a category to its invalidation pattern. Generated manifest
// bodies embed asset and icon URLs, so every category currently widens to
// the full manifest keyspace; the mapping stays per-category so narrower
// patterns can be introduced without touching the classifier.
func patternFor(_ string) string {
	return ""
}

// purgeCDN fires the optional downstream purge, best-effort. A CDN failure
// must not fail the webhook response.
func (h *Handler) purgeCDN(ctx context.Context) bool {
	if h.cdnURL == "" {
		return false
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"purge": "manifest",
		"time":  time.Now().UTC().Format(time.RFC3339),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cdnURL, bytes.NewReader(payload))
	if err != nil {
		h.logger.Warnf("CDN purge request failed to build: %v", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		h.logger.Warnf("CDN purge failed: %v", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		h.logger.Warnf("CDN purge returned status %d", resp.StatusCode)
		return false
	}
	return true
}

// writeJSON writes a JSON response body
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
