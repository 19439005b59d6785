package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wellintake/manifestcache/internal/cache"
	"github.com/wellintake/manifestcache/internal/manifest"
)

const testSecret = "it-is-a-secret"

type recordingScheduler struct {
	calls int
}

func (r *recordingScheduler) Schedule(context.Context, []string) error {
	r.calls++
	return nil
}

func setupHandler(t *testing.T, cfg Config) (*Handler, *manifest.Service, *recordingScheduler) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := cache.NewClient(cache.ClientConfig{
		URL:              "redis://" + mr.Addr(),
		ConnectTimeout:   time.Second,
		OperationTimeout: time.Second,
		Retry:            cache.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond},
	})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	service := manifest.NewService(client, cache.NewKeyCodec("manifest"), manifest.NewRegistry(), manifest.ServiceConfig{TTL: time.Minute})
	scheduler := &recordingScheduler{}
	return NewHandler(service, scheduler, cfg), service, scheduler
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func pushBody(t *testing.T, ref string, modified ...string) []byte {
	t.Helper()
	body, err := json.Marshal(PushEvent{
		Ref:     ref,
		Commits: []Commit{{Modified: modified}},
	})
	require.NoError(t, err)
	return body
}

func postWebhook(h *Handler, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestVerify(t *testing.T) {
	t.Parallel()

	h, _, _ := setupHandler(t, Config{Secret: testSecret})
	body := []byte(`{"ref":"refs/heads/main"}`)

	assert.True(t, h.Verify(body, sign(body)))
	assert.False(t, h.Verify(body, "sha256=deadbeef"))
	assert.False(t, h.Verify(body, "sha256=zznothex"))
	assert.False(t, h.Verify(body, "md5=whatever"))
	assert.False(t, h.Verify(body, ""))

	tampered := append([]byte(nil), body...)
	tampered[0] = '['
	assert.False(t, h.Verify(tampered, sign(body)))
}

func TestVerifyWithoutSecretAcceptsEverything(t *testing.T) {
	t.Parallel()

	h, _, _ := setupHandler(t, Config{})
	assert.True(t, h.Verify([]byte("anything"), ""))
}

func TestServeHTTPRejectsBadSignature(t *testing.T) {
	t.Parallel()

	h, _, _ := setupHandler(t, Config{Secret: testSecret})
	body := pushBody(t, "refs/heads/main", "manifest.xml")

	rec := postWebhook(h, body, map[string]string{SignatureHeader: "sha256=deadbeef"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "signature_verification_failed", resp["error"])
}

func TestServeHTTPRejectsMalformedPayload(t *testing.T) {
	t.Parallel()

	h, _, _ := setupHandler(t, Config{Secret: testSecret})
	body := []byte("not json")

	rec := postWebhook(h, body, map[string]string{SignatureHeader: sign(body)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeHTTPAcknowledgesNonPushEvents(t *testing.T) {
	t.Parallel()

	h, _, _ := setupHandler(t, Config{Secret: testSecret})
	body := []byte(`{}`)

	rec := postWebhook(h, body, map[string]string{
		SignatureHeader: sign(body),
		EventHeader:     "ping",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "acknowledged", result.Status)
	assert.Equal(t, "ping", result.Event)
	assert.False(t, result.InvalidationNeeded)
	assert.True(t, result.SignatureEnforced)
}

func TestServeHTTPFallsBackToGitHubEventHeader(t *testing.T) {
	t.Parallel()

	h, _, _ := setupHandler(t, Config{Secret: testSecret})
	body := []byte(`{}`)

	rec := postWebhook(h, body, map[string]string{
		SignatureHeader:  sign(body),
		"X-GitHub-Event": "ping",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "acknowledged", result.Status)
}

func TestProcessIgnoresOtherBranches(t *testing.T) {
	t.Parallel()

	h, _, scheduler := setupHandler(t, Config{Secret: testSecret, Branch: "main"})

	result := h.Process(context.Background(), PushEvent{
		Ref:     "refs/heads/feature/new-icons",
		Commits: []Commit{{Modified: []string{"manifest.xml"}}},
	})

	assert.Equal(t, "ignored", result.Status)
	assert.Equal(t, "feature/new-icons", result.Branch)
	assert.False(t, result.InvalidationNeeded)
	assert.Zero(t, result.DeletedEntries)
	assert.Zero(t, scheduler.calls)
}

func TestProcessIrrelevantFilesSkipInvalidation(t *testing.T) {
	t.Parallel()

	h, service, scheduler := setupHandler(t, Config{Secret: testSecret})
	ctx := context.Background()

	_, err := service.Generate(ctx, manifest.Request{Environment: "production", Variant: "default"})
	require.NoError(t, err)

	result := h.Process(ctx, PushEvent{
		Ref:     "refs/heads/main",
		Commits: []Commit{{Modified: []string{"README.md", "docs/setup.md", "go.sum"}}},
	})

	assert.Equal(t, "processed", result.Status)
	assert.False(t, result.InvalidationNeeded)
	assert.Zero(t, result.DeletedEntries)
	assert.Zero(t, scheduler.calls)

	// Cached entry survives
	out, err := service.Generate(ctx, manifest.Request{Environment: "production", Variant: "default"})
	require.NoError(t, err)
	assert.Equal(t, manifest.ProvenanceHit, out.CacheStatus)
}

func TestProcessManifestChangeInvalidates(t *testing.T) {
	t.Parallel()

	h, service, scheduler := setupHandler(t, Config{Secret: testSecret})
	ctx := context.Background()

	_, err := service.Generate(ctx, manifest.Request{Environment: "production", Variant: "default"})
	require.NoError(t, err)

	result := h.Process(ctx, PushEvent{
		Ref: "refs/heads/main",
		Commits: []Commit{
			{Modified: []string{"src/manifest.xml"}},
			{Added: []string{"assets/icon-64.png"}},
		},
	})

	assert.Equal(t, "processed", result.Status)
	assert.True(t, result.InvalidationNeeded)
	assert.True(t, result.Categories[CategoryManifest])
	assert.True(t, result.Categories[CategoryIcons])
	assert.False(t, result.Categories[CategoryAssets])
	assert.Equal(t, 1, result.DeletedEntries, "one artifact entry; its sidecar is not counted")
	assert.Equal(t, 1, scheduler.calls)

	out, err := service.Generate(ctx, manifest.Request{Environment: "production", Variant: "default"})
	require.NoError(t, err)
	assert.Equal(t, manifest.ProvenanceGenerated, out.CacheStatus)
}

func TestProcessCDNPurge(t *testing.T) {
	t.Parallel()

	purged := 0
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		purged++
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(cdn.Close)

	h, _, _ := setupHandler(t, Config{Secret: testSecret, CDNPurgeURL: cdn.URL})

	result := h.Process(context.Background(), PushEvent{
		Ref:     "refs/heads/main",
		Commits: []Commit{{Modified: []string{"taskpane.js"}}},
	})

	assert.True(t, result.CDNPurged)
	assert.Equal(t, 1, purged)
}

func TestProcessCDNFailureDoesNotFailEvent(t *testing.T) {
	t.Parallel()

	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(cdn.Close)

	h, _, _ := setupHandler(t, Config{Secret: testSecret, CDNPurgeURL: cdn.URL})

	result := h.Process(context.Background(), PushEvent{
		Ref:     "refs/heads/main",
		Commits: []Commit{{Modified: []string{"taskpane.js"}}},
	})

	assert.Equal(t, "processed", result.Status)
	assert.False(t, result.CDNPurged)
}

func TestClassifyChanges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		files    []string
		manifest bool
		icons    bool
		assets   bool
	}{
		{name: "manifest file", files: []string{"manifest.xml"}, manifest: true},
		{name: "nested manifest", files: []string{"deploy/staging.manifest.xml"}, manifest: true},
		{name: "icons", files: []string{"assets/icon.png", "favicon.ico", "logo.svg"}, icons: true},
		{name: "assets", files: []string{"app.js", "style.css", "taskpane.html"}, assets: true},
		{name: "mixed", files: []string{"manifest.xml", "app.js"}, manifest: true, assets: true},
		{name: "irrelevant", files: []string{"README.md", "main.go"}},
		{name: "case insensitive", files: []string{"Manifest.XML", "ICON.PNG"}, manifest: true, icons: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			categories := classifyChanges([]Commit{{Modified: tt.files}})
			assert.Equal(t, tt.manifest, categories[CategoryManifest])
			assert.Equal(t, tt.icons, categories[CategoryIcons])
			assert.Equal(t, tt.assets, categories[CategoryAssets])
		})
	}
}
