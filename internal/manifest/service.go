package manifest

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/wellintake/manifestcache/internal/cache"
	"github.com/wellintake/manifestcache/internal/logging"
)

// ErrNoTemplate is the one hard error this service produces: no template
// exists for the requested pair and no default fallback exists either, so
// there is nothing safe to serve.
var ErrNoTemplate = errors.New("no manifest template configured")

// Cache provenance values reported in response headers
const (
	ProvenanceHit       = "hit"
	ProvenanceGenerated = "generated"
)

// warmPoolSize bounds concurrent warmup generation
const warmPoolSize = 4

// Request carries everything the service needs to resolve and serve one
// manifest: explicit overrides from query parameters plus requester identity
// from the transport layer.
type Request struct {
	Environment string // explicit environment override, may be empty
	Variant     string // explicit variant override, may be empty
	Version     string // explicit version query parameter, may be empty
	Beta        bool   // beta flag
	Host        string // request host, used for environment inference
	ClientAddr  string // requester address, used for A/B bucketing
	ClientUA    string // requester signature (user agent), used for A/B bucketing
}

// Generated is the outcome of one manifest request
type Generated struct {
	Body        []byte
	CacheStatus string // hit | generated
	Environment Environment
	Variant     Variant
	AccessCount int64         // populated on hit
	Elapsed     time.Duration // populated on generation
	Key         string
}

// EntryMetadata is the sidecar record stored under {key}:metadata
type EntryMetadata struct {
	Key            string    `json:"key"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	AccessCount    int64     `json:"access_count"`
	TTLSeconds     int       `json:"ttl_seconds"`
}

// ServiceConfig configures the manifest cache service
type ServiceConfig struct {
	TTL           time.Duration
	ABTestEnabled bool
	ABTestRatio   float64
}

// Service produces versioned, environment/variant-specific manifests on
// demand, caches them through the resilient client, and keeps cache entries
// consistent with template state.
type Service struct {
	client   *cache.Client
	codec    *cache.KeyCodec
	registry *Registry
	cfg      ServiceConfig
	logger   *logging.Logger

	bustToken atomic.Int64

	mu           sync.Mutex
	distribution map[Variant]int64
}

// NewService creates the manifest cache service
func NewService(client *cache.Client, codec *cache.KeyCodec, registry *Registry, cfg ServiceConfig) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.ABTestRatio <= 0 || cfg.ABTestRatio > 1 {
		cfg.ABTestRatio = 0.5
	}

	s := &Service{
		client:       client,
		codec:        codec,
		registry:     registry,
		cfg:          cfg,
		logger:       logging.NewLogger("manifest-service"),
		distribution: make(map[Variant]int64),
	}
	s.bustToken.Store(time.Now().Unix())
	return s
}

// SelectVariant resolves the variant for a request: an explicit valid
// override wins, then the beta flag, then A/B bucketing on a stable
// requester identity, then the default.
func (s *Service) SelectVariant(req Request) Variant {
	if req.Variant != "" {
		if v, ok := ParseVariant(req.Variant); ok {
			s.recordBucket(v)
			return v
		}
		// Invalid explicit variant falls through rather than erroring
	}

	if req.Beta {
		s.recordBucket(VariantBeta)
		return VariantBeta
	}

	if s.cfg.ABTestEnabled {
		v := VariantB
		if bucketValue(req.ClientAddr+req.ClientUA) < s.cfg.ABTestRatio {
			v = VariantA
		}
		s.recordBucket(v)
		return v
	}

	s.recordBucket(VariantDefault)
	return VariantDefault
}

// bucketValue hashes a requester identity to a stable value in [0,1)
func bucketValue(identity string) float64 {
	sum := sha256.Sum256([]byte(identity))
	n := binary.BigEndian.Uint64(sum[:8])
	return float64(n) / float64(1<<63) / 2
}

// SelectEnvironment resolves the environment: an explicit valid override
// wins, otherwise it is inferred from the request host.
func (s *Service) SelectEnvironment(req Request) Environment {
	if req.Environment != "" {
		if env, ok := ParseEnvironment(req.Environment); ok {
			return env
		}
	}

	host := strings.ToLower(req.Host)
	switch {
	case strings.HasPrefix(host, "localhost") || strings.HasPrefix(host, "127.0.0.1") || strings.HasPrefix(host, "[::1]"):
		return EnvDevelopment
	case strings.Contains(host, "staging"):
		return EnvStaging
	case strings.Contains(host, "test"):
		return EnvTesting
	default:
		return EnvProduction
	}
}

// Generate serves one manifest request: cache read, render on miss,
// best-effort cache write. Backend unavailability is invisible here; the
// only failure mode is a missing template.
func (s *Service) Generate(ctx context.Context, req Request) (*Generated, error) {
	env := s.SelectEnvironment(req)
	variant := s.SelectVariant(req)

	// The explicit version parameter doubles as the bust token; without it
	// the live process token takes that role.
	bust := req.Version
	tokenSegment := ""
	if bust == "" {
		bust = strconv.FormatInt(s.bustToken.Load(), 10)
		tokenSegment = bust
	}

	key := s.codec.ArtifactKey(string(env), string(variant), req.Version, tokenSegment)

	if res := s.client.Get(ctx, key); res.Hit {
		meta := s.bumpAccess(ctx, key)
		return &Generated{
			Body:        res.Value,
			CacheStatus: ProvenanceHit,
			Environment: env,
			Variant:     variant,
			AccessCount: meta.AccessCount,
			Key:         key,
		}, nil
	}

	started := time.Now()

	tpl, ok := s.registry.Get(env, variant)
	if !ok {
		// Fall back to the environment's default variant before giving up
		tpl, ok = s.registry.Get(env, VariantDefault)
		if !ok {
			return nil, fmt.Errorf("%w for %s/%s", ErrNoTemplate, env, variant)
		}
	}

	body, err := Render(tpl, env, variant, bust)
	if err != nil {
		return nil, err
	}

	// Both writes are best-effort: a failed store still serves fresh bytes
	if s.client.Set(ctx, key, body, s.cfg.TTL) {
		s.writeMetadata(ctx, key, EntryMetadata{
			Key:            key,
			CreatedAt:      time.Now(),
			LastAccessedAt: time.Now(),
			TTLSeconds:     int(s.cfg.TTL.Seconds()),
		})
	}

	return &Generated{
		Body:        body,
		CacheStatus: ProvenanceGenerated,
		Environment: env,
		Variant:     variant,
		Elapsed:     time.Since(started),
		Key:         key,
	}, nil
}

// bumpAccess increments the sidecar access counters, best-effort, and
// returns the updated metadata.
func (s *Service) bumpAccess(ctx context.Context, key string) EntryMetadata {
	metaKey := cache.MetadataKey(key)
	meta := EntryMetadata{Key: key}

	if res := s.client.Get(ctx, metaKey); res.Hit {
		if err := json.Unmarshal(res.Value, &meta); err != nil {
			meta = EntryMetadata{Key: key}
		}
	}

	meta.AccessCount++
	meta.LastAccessedAt = time.Now()
	s.writeMetadata(ctx, key, meta)
	return meta
}

// writeMetadata stores the sidecar record, best-effort
func (s *Service) writeMetadata(ctx context.Context, key string, meta EntryMetadata) {
	payload, err := json.Marshal(meta)
	if err != nil {
		return
	}
	s.client.Set(ctx, cache.MetadataKey(key), payload, s.cfg.TTL)
}

// Invalidate deletes cached manifests matching the given filters. An
// explicit pattern wins; otherwise the most specific filter set builds the
// pattern. Sidecar metadata keys share the prefix so the pattern covers
// them too; the returned count reports artifact entries only.
func (s *Service) Invalidate(ctx context.Context, environment, variant, pattern string) int {
	if pattern == "" {
		pattern = s.codec.Pattern(environment, variant)
	}
	return s.client.Invalidate(ctx, pattern)
}

// UpdateTemplate applies a typed field update to the pair's template, bumps
// the cache-bust token, and unconditionally invalidates the pair's cache
// entries. A template update and a stale cached manifest must never coexist.
func (s *Service) UpdateTemplate(ctx context.Context, env Environment, variant Variant, fields map[string]interface{}) (Template, error) {
	update, err := DecodeTemplateUpdate(fields)
	if err != nil {
		return Template{}, err
	}

	tpl := s.registry.Update(env, variant, update)
	s.bustToken.Store(time.Now().UnixNano())

	deleted := s.client.Invalidate(ctx, s.codec.Pattern(string(env), string(variant)))
	s.logger.Infof("Template updated for %s/%s, invalidated %d cache entries", env, variant, deleted)
	return tpl, nil
}

// WarmResult reports the outcome of warming one environment
type WarmResult struct {
	Success int `json:"success"`
	Errors  int `json:"errors"`
}

// WarmCache pre-generates and stores a manifest for every (environment,
// variant) combination in the requested set, independent of live requests.
// An empty set means all environments.
func (s *Service) WarmCache(ctx context.Context, environments []string) map[string]WarmResult {
	envs := make([]Environment, 0, len(environments))
	for _, e := range environments {
		if env, ok := ParseEnvironment(e); ok {
			envs = append(envs, env)
		}
	}
	if len(envs) == 0 {
		envs = Environments()
	}

	results := make(map[string]WarmResult, len(envs))
	var mu sync.Mutex
	pool := workerpool.New(warmPoolSize)

	for _, env := range envs {
		for _, variant := range Variants() {
			env, variant := env, variant
			pool.Submit(func() {
				_, err := s.Generate(ctx, Request{
					Environment: string(env),
					Variant:     string(variant),
				})
				mu.Lock()
				r := results[string(env)]
				if err != nil {
					r.Errors++
				} else {
					r.Success++
				}
				results[string(env)] = r
				mu.Unlock()
			})
		}
	}
	pool.StopWait()

	s.logger.Infof("Cache warmup finished for %d environments", len(envs))
	return results
}

// ABDistribution returns the observed bucket counts
func (s *Service) ABDistribution() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.distribution))
	for v, n := range s.distribution {
		out[string(v)] = n
	}
	return out
}

// TemplatesConfigured returns the number of configured templates
func (s *Service) TemplatesConfigured() int {
	return s.registry.Count()
}

// recordBucket counts a variant selection for the distribution report
func (s *Service) recordBucket(v Variant) {
	s.mu.Lock()
	s.distribution[v]++
	s.mu.Unlock()
}
