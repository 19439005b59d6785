package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv(t *testing.T) { //nolint:funlen // Test function with comprehensive test cases
	// Cannot use t.Parallel() with t.Setenv
	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(*testing.T, *ServerConfig)
	}{
		{
			name:    "default values",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *ServerConfig) {
				t.Helper()
				assert.Equal(t, 8085, cfg.Port)
				assert.False(t, cfg.Debug)
				assert.Empty(t, cfg.Redis.URL)
				assert.Equal(t, "manifest", cfg.Cache.KeyPrefix)
				assert.Equal(t, 5*time.Minute, cfg.Cache.ManifestTTL)
				assert.Equal(t, 5, cfg.Cache.BreakerThreshold)
				assert.Equal(t, 5*time.Minute, cfg.Cache.BreakerTimeout)
				assert.True(t, cfg.Cache.WarmOnStart)
				assert.False(t, cfg.ABTest.Enabled)
				assert.InDelta(t, 0.5, cfg.ABTest.Ratio, 1e-9)
				assert.Equal(t, "main", cfg.Webhook.Branch)
				assert.True(t, cfg.Monitor.Enabled)
				assert.Equal(t, 5*time.Minute, cfg.Monitor.Interval)
				assert.Equal(t, 15*time.Minute, cfg.Monitor.AlertCooldown)
			},
		},
		{
			name: "server overrides",
			envVars: map[string]string{
				"MANIFESTCACHE_PORT":  "9090",
				"MANIFESTCACHE_DEBUG": "true",
			},
			validate: func(t *testing.T, cfg *ServerConfig) {
				t.Helper()
				assert.Equal(t, 9090, cfg.Port)
				assert.True(t, cfg.Debug)
			},
		},
		{
			name: "redis overrides",
			envVars: map[string]string{
				"MANIFESTCACHE_REDIS_URL":             "redis://cache.internal:6379/2",
				"MANIFESTCACHE_REDIS_CONNECT_TIMEOUT": "3s",
				"MANIFESTCACHE_REDIS_MAX_RETRIES":     "5",
			},
			validate: func(t *testing.T, cfg *ServerConfig) {
				t.Helper()
				assert.Equal(t, "redis://cache.internal:6379/2", cfg.Redis.URL)
				assert.Equal(t, 3*time.Second, cfg.Redis.ConnectTimeout)
				assert.Equal(t, 5, cfg.Redis.MaxRetries)
			},
		},
		{
			name: "cache and breaker overrides",
			envVars: map[string]string{
				"MANIFESTCACHE_KEY_PREFIX":        "addin",
				"MANIFESTCACHE_MANIFEST_TTL":      "10m",
				"MANIFESTCACHE_BREAKER_THRESHOLD": "3",
				"MANIFESTCACHE_BREAKER_TIMEOUT":   "1m",
				"MANIFESTCACHE_WARM_ON_START":     "false",
			},
			validate: func(t *testing.T, cfg *ServerConfig) {
				t.Helper()
				assert.Equal(t, "addin", cfg.Cache.KeyPrefix)
				assert.Equal(t, 10*time.Minute, cfg.Cache.ManifestTTL)
				assert.Equal(t, 3, cfg.Cache.BreakerThreshold)
				assert.Equal(t, time.Minute, cfg.Cache.BreakerTimeout)
				assert.False(t, cfg.Cache.WarmOnStart)
			},
		},
		{
			name: "ab test and webhook overrides",
			envVars: map[string]string{
				"MANIFESTCACHE_AB_ENABLED":     "1",
				"MANIFESTCACHE_AB_RATIO":       "0.3",
				"MANIFESTCACHE_WEBHOOK_SECRET": "hunter2",
				"MANIFESTCACHE_WEBHOOK_BRANCH": "release",
				"MANIFESTCACHE_CDN_PURGE_URL":  "https://cdn.internal/purge",
			},
			validate: func(t *testing.T, cfg *ServerConfig) {
				t.Helper()
				assert.True(t, cfg.ABTest.Enabled)
				assert.InDelta(t, 0.3, cfg.ABTest.Ratio, 1e-9)
				assert.Equal(t, "hunter2", cfg.Webhook.Secret)
				assert.Equal(t, "release", cfg.Webhook.Branch)
				assert.Equal(t, "https://cdn.internal/purge", cfg.Webhook.CDNPurgeURL)
				assert.True(t, cfg.SignatureEnforced())
			},
		},
		{
			name: "monitor overrides",
			envVars: map[string]string{
				"MANIFESTCACHE_MONITOR_ENABLED":        "false",
				"MANIFESTCACHE_MONITOR_INTERVAL":       "30s",
				"MANIFESTCACHE_ALERT_COOLDOWN":         "5m",
				"MANIFESTCACHE_CONN_FAILURE_THRESHOLD": "25",
				"MANIFESTCACHE_ERROR_RATE_THRESHOLD":   "0.5",
			},
			validate: func(t *testing.T, cfg *ServerConfig) {
				t.Helper()
				assert.False(t, cfg.Monitor.Enabled)
				assert.Equal(t, 30*time.Second, cfg.Monitor.Interval)
				assert.Equal(t, 5*time.Minute, cfg.Monitor.AlertCooldown)
				assert.Equal(t, int64(25), cfg.Monitor.ConnFailureThreshold)
				assert.InDelta(t, 0.5, cfg.Monitor.ErrorRateThreshold, 1e-9)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := NewServerConfig()
			require.NoError(t, cfg.LoadFromEnv())
			tt.validate(t, cfg)
		})
	}
}

func TestLoadFromEnvRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "bad port", key: "MANIFESTCACHE_PORT", value: "eighty"},
		{name: "bad duration", key: "MANIFESTCACHE_MANIFEST_TTL", value: "5 minutes"},
		{name: "bad int", key: "MANIFESTCACHE_BREAKER_THRESHOLD", value: "many"},
		{name: "bad float", key: "MANIFESTCACHE_AB_RATIO", value: "half"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			cfg := NewServerConfig()
			err := cfg.LoadFromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*ServerConfig)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*ServerConfig) {}},
		{name: "port too low", mutate: func(c *ServerConfig) { c.Port = 0 }, wantErr: "port"},
		{name: "port too high", mutate: func(c *ServerConfig) { c.Port = 70000 }, wantErr: "port"},
		{name: "zero retries", mutate: func(c *ServerConfig) { c.Redis.MaxRetries = 0 }, wantErr: "retries"},
		{name: "zero breaker threshold", mutate: func(c *ServerConfig) { c.Cache.BreakerThreshold = 0 }, wantErr: "breaker threshold"},
		{name: "negative TTL", mutate: func(c *ServerConfig) { c.Cache.ManifestTTL = -time.Second }, wantErr: "TTL"},
		{name: "ratio above one", mutate: func(c *ServerConfig) { c.ABTest.Ratio = 1.5 }, wantErr: "ratio"},
		{name: "zero monitor interval", mutate: func(c *ServerConfig) { c.Monitor.Interval = 0 }, wantErr: "interval"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := NewServerConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
