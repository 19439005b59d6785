// Package config provides typed configuration for the manifestcache server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// AppVersion is the application version, can be set at build time or runtime
var AppVersion = "dev"

// ServerConfig holds all configuration for the manifestcache server
type ServerConfig struct {
	// Server settings
	Port  int  `json:"port" env:"MANIFESTCACHE_PORT" default:"8085" desc:"Server port"`
	Debug bool `json:"debug" env:"MANIFESTCACHE_DEBUG" default:"false" desc:"Enable debug mode"`

	// Redis backend configuration
	Redis RedisConfig `json:"redis"`

	// Cache behavior configuration
	Cache CacheConfig `json:"cache"`

	// A/B testing configuration
	ABTest ABTestConfig `json:"ab_test"`

	// Webhook configuration
	Webhook WebhookConfig `json:"webhook"`

	// Monitor configuration
	Monitor MonitorConfig `json:"monitor"`
}

// RedisConfig holds remote cache backend configuration. An empty URL is a
// valid state: the service runs in fallback mode from process start.
type RedisConfig struct {
	URL              string        `json:"url" env:"MANIFESTCACHE_REDIS_URL" desc:"Redis URL (empty = not configured)"`
	ConnectTimeout   time.Duration `json:"connect_timeout" env:"MANIFESTCACHE_REDIS_CONNECT_TIMEOUT" default:"10s" desc:"Connection attempt timeout"`
	OperationTimeout time.Duration `json:"operation_timeout" env:"MANIFESTCACHE_REDIS_OPERATION_TIMEOUT" default:"5s" desc:"Per-operation timeout"`
	MaxRetries       int           `json:"max_retries" env:"MANIFESTCACHE_REDIS_MAX_RETRIES" default:"3" desc:"Connection retry attempts"`
	RetryBaseDelay   time.Duration `json:"retry_base_delay" env:"MANIFESTCACHE_REDIS_RETRY_BASE_DELAY" default:"250ms" desc:"Base delay for exponential backoff"`
	RetryMaxDelay    time.Duration `json:"retry_max_delay" env:"MANIFESTCACHE_REDIS_RETRY_MAX_DELAY" default:"5s" desc:"Backoff delay cap"`
}

// CacheConfig holds cache entry and circuit breaker configuration
type CacheConfig struct {
	KeyPrefix        string        `json:"key_prefix" env:"MANIFESTCACHE_KEY_PREFIX" default:"manifest" desc:"Key prefix for cached manifests"`
	ManifestTTL      time.Duration `json:"manifest_ttl" env:"MANIFESTCACHE_MANIFEST_TTL" default:"5m" desc:"TTL for cached manifests"`
	BreakerThreshold int           `json:"breaker_threshold" env:"MANIFESTCACHE_BREAKER_THRESHOLD" default:"5" desc:"Failures before the circuit opens"`
	BreakerTimeout   time.Duration `json:"breaker_timeout" env:"MANIFESTCACHE_BREAKER_TIMEOUT" default:"5m" desc:"Time the circuit stays open"`
	WarmOnStart      bool          `json:"warm_on_start" env:"MANIFESTCACHE_WARM_ON_START" default:"true" desc:"Pre-generate manifests at startup"`
}

// ABTestConfig holds A/B bucketing configuration
type ABTestConfig struct {
	Enabled bool    `json:"enabled" env:"MANIFESTCACHE_AB_ENABLED" default:"false" desc:"Enable A/B variant bucketing"`
	Ratio   float64 `json:"ratio" env:"MANIFESTCACHE_AB_RATIO" default:"0.5" desc:"Share of requesters assigned variant A"`
}

// WebhookConfig holds invalidation webhook configuration
type WebhookConfig struct {
	Secret      string `json:"-" env:"MANIFESTCACHE_WEBHOOK_SECRET" desc:"Shared secret for HMAC signature verification"`
	Branch      string `json:"branch" env:"MANIFESTCACHE_WEBHOOK_BRANCH" default:"main" desc:"Tracked branch for push events"`
	CDNPurgeURL string `json:"cdn_purge_url" env:"MANIFESTCACHE_CDN_PURGE_URL" desc:"Optional CDN purge endpoint"`
}

// MonitorConfig holds cache monitor configuration
type MonitorConfig struct {
	Enabled               bool          `json:"enabled" env:"MANIFESTCACHE_MONITOR_ENABLED" default:"true" desc:"Enable the cache monitor"`
	Interval              time.Duration `json:"interval" env:"MANIFESTCACHE_MONITOR_INTERVAL" default:"5m" desc:"Snapshot interval"`
	AlertCooldown         time.Duration `json:"alert_cooldown" env:"MANIFESTCACHE_ALERT_COOLDOWN" default:"15m" desc:"Per-type alert cooldown"`
	ConnFailureThreshold  int64         `json:"conn_failure_threshold" env:"MANIFESTCACHE_CONN_FAILURE_THRESHOLD" default:"10" desc:"Connection failures before alerting"`
	ErrorRateThreshold    float64       `json:"error_rate_threshold" env:"MANIFESTCACHE_ERROR_RATE_THRESHOLD" default:"0.25" desc:"Hourly error rate before alerting"`
	UptimeDropThreshold   float64       `json:"uptime_drop_threshold" env:"MANIFESTCACHE_UPTIME_DROP_THRESHOLD" default:"0.2" desc:"Uptime degradation before alerting"`
	ChatWebhookURL        string        `json:"chat_webhook_url" env:"MANIFESTCACHE_CHAT_WEBHOOK_URL" desc:"Chat webhook alert sink"`
	ChatWebhookTimeout    time.Duration `json:"chat_webhook_timeout" env:"MANIFESTCACHE_CHAT_WEBHOOK_TIMEOUT" default:"10s" desc:"Alert dispatch timeout"`
}

// NewServerConfig creates a new server configuration with defaults
func NewServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:  8085,
		Debug: false,
		Redis: RedisConfig{
			ConnectTimeout:   10 * time.Second,
			OperationTimeout: 5 * time.Second,
			MaxRetries:       3,
			RetryBaseDelay:   250 * time.Millisecond,
			RetryMaxDelay:    5 * time.Second,
		},
		Cache: CacheConfig{
			KeyPrefix:        "manifest",
			ManifestTTL:      5 * time.Minute,
			BreakerThreshold: 5,
			BreakerTimeout:   5 * time.Minute,
			WarmOnStart:      true,
		},
		ABTest: ABTestConfig{
			Enabled: false,
			Ratio:   0.5,
		},
		Webhook: WebhookConfig{
			Branch: "main",
		},
		Monitor: MonitorConfig{
			Enabled:              true,
			Interval:             5 * time.Minute,
			AlertCooldown:        15 * time.Minute,
			ConnFailureThreshold: 10,
			ErrorRateThreshold:   0.25,
			UptimeDropThreshold:  0.2,
			ChatWebhookTimeout:   10 * time.Second,
		},
	}
}

// LoadFromEnv overrides configuration from MANIFESTCACHE_* environment variables
//
//nolint:gocognit // Straight-line env parsing, one block per setting
func (c *ServerConfig) LoadFromEnv() error {
	if v := os.Getenv("MANIFESTCACHE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MANIFESTCACHE_PORT %q: %w", v, err)
		}
		c.Port = port
	}
	if v := os.Getenv("MANIFESTCACHE_DEBUG"); v != "" {
		c.Debug = v == "true" || v == "1"
	}

	c.Redis.URL = envString("MANIFESTCACHE_REDIS_URL", c.Redis.URL)
	if err := envDuration("MANIFESTCACHE_REDIS_CONNECT_TIMEOUT", &c.Redis.ConnectTimeout); err != nil {
		return err
	}
	if err := envDuration("MANIFESTCACHE_REDIS_OPERATION_TIMEOUT", &c.Redis.OperationTimeout); err != nil {
		return err
	}
	if err := envInt("MANIFESTCACHE_REDIS_MAX_RETRIES", &c.Redis.MaxRetries); err != nil {
		return err
	}
	if err := envDuration("MANIFESTCACHE_REDIS_RETRY_BASE_DELAY", &c.Redis.RetryBaseDelay); err != nil {
		return err
	}
	if err := envDuration("MANIFESTCACHE_REDIS_RETRY_MAX_DELAY", &c.Redis.RetryMaxDelay); err != nil {
		return err
	}

	c.Cache.KeyPrefix = envString("MANIFESTCACHE_KEY_PREFIX", c.Cache.KeyPrefix)
	if err := envDuration("MANIFESTCACHE_MANIFEST_TTL", &c.Cache.ManifestTTL); err != nil {
		return err
	}
	if err := envInt("MANIFESTCACHE_BREAKER_THRESHOLD", &c.Cache.BreakerThreshold); err != nil {
		return err
	}
	if err := envDuration("MANIFESTCACHE_BREAKER_TIMEOUT", &c.Cache.BreakerTimeout); err != nil {
		return err
	}
	if v := os.Getenv("MANIFESTCACHE_WARM_ON_START"); v != "" {
		c.Cache.WarmOnStart = v == "true" || v == "1"
	}

	if v := os.Getenv("MANIFESTCACHE_AB_ENABLED"); v != "" {
		c.ABTest.Enabled = v == "true" || v == "1"
	}
	if err := envFloat("MANIFESTCACHE_AB_RATIO", &c.ABTest.Ratio); err != nil {
		return err
	}

	c.Webhook.Secret = envString("MANIFESTCACHE_WEBHOOK_SECRET", c.Webhook.Secret)
	c.Webhook.Branch = envString("MANIFESTCACHE_WEBHOOK_BRANCH", c.Webhook.Branch)
	c.Webhook.CDNPurgeURL = envString("MANIFESTCACHE_CDN_PURGE_URL", c.Webhook.CDNPurgeURL)

	if v := os.Getenv("MANIFESTCACHE_MONITOR_ENABLED"); v != "" {
		c.Monitor.Enabled = v == "true" || v == "1"
	}
	if err := envDuration("MANIFESTCACHE_MONITOR_INTERVAL", &c.Monitor.Interval); err != nil {
		return err
	}
	if err := envDuration("MANIFESTCACHE_ALERT_COOLDOWN", &c.Monitor.AlertCooldown); err != nil {
		return err
	}
	if err := envInt64("MANIFESTCACHE_CONN_FAILURE_THRESHOLD", &c.Monitor.ConnFailureThreshold); err != nil {
		return err
	}
	if err := envFloat("MANIFESTCACHE_ERROR_RATE_THRESHOLD", &c.Monitor.ErrorRateThreshold); err != nil {
		return err
	}
	if err := envFloat("MANIFESTCACHE_UPTIME_DROP_THRESHOLD", &c.Monitor.UptimeDropThreshold); err != nil {
		return err
	}
	c.Monitor.ChatWebhookURL = envString("MANIFESTCACHE_CHAT_WEBHOOK_URL", c.Monitor.ChatWebhookURL)
	if err := envDuration("MANIFESTCACHE_CHAT_WEBHOOK_TIMEOUT", &c.Monitor.ChatWebhookTimeout); err != nil {
		return err
	}

	return nil
}

// Validate checks the configuration for invalid values
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Redis.MaxRetries < 1 {
		return fmt.Errorf("redis max retries must be at least 1, got %d", c.Redis.MaxRetries)
	}
	if c.Cache.BreakerThreshold < 1 {
		return fmt.Errorf("breaker threshold must be at least 1, got %d", c.Cache.BreakerThreshold)
	}
	if c.Cache.ManifestTTL <= 0 {
		return fmt.Errorf("manifest TTL must be positive, got %v", c.Cache.ManifestTTL)
	}
	if c.ABTest.Ratio < 0 || c.ABTest.Ratio > 1 {
		return fmt.Errorf("A/B ratio must be in [0,1], got %v", c.ABTest.Ratio)
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor interval must be positive, got %v", c.Monitor.Interval)
	}
	return nil
}

// SignatureEnforced reports whether webhook signature verification is active
func (c *ServerConfig) SignatureEnforced() bool {
	return c.Webhook.Secret != ""
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = parsed
	return nil
}

func envInt64(key string, dst *int64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = parsed
	return nil
}

func envFloat(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = parsed
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = parsed
	return nil
}
