package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wellintake/manifestcache/internal/apiserver"
	"github.com/wellintake/manifestcache/internal/cache"
	"github.com/wellintake/manifestcache/internal/logging"
	"github.com/wellintake/manifestcache/internal/manifest"
	"github.com/wellintake/manifestcache/internal/monitor"
	"github.com/wellintake/manifestcache/internal/warmup"
	"github.com/wellintake/manifestcache/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	var port int
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the manifest cache server",
		Long:  "Start the HTTP server that serves manifests, cache operations, and the invalidation webhook",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServer(port, debug)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Server port (overrides MANIFESTCACHE_PORT)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	return cmd
}

//nolint:funlen // Server initialization function with comprehensive setup
func runServer(port int, debug bool) error {
	logger := logging.NewLogger("server")

	cfg, err := loadStandardConfig()
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Port = port
	}
	if debug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Infof("Starting manifestcache server v%s", version)
	logger.Infof("Configuration:")
	logger.Infof("  Port: %d", cfg.Port)
	logger.Infof("  Debug: %t", cfg.Debug)
	logger.Infof("  Cache backend configured: %t", cfg.Redis.URL != "")
	logger.Infof("  Signature enforcement: %t", cfg.SignatureEnforced())
	logger.Infof("  A/B testing: %t (ratio %.2f)", cfg.ABTest.Enabled, cfg.ABTest.Ratio)

	// Core components: cache client, key codec, template registry, service
	cacheClient := cache.NewClient(cache.ClientConfig{
		URL:              cfg.Redis.URL,
		ConnectTimeout:   cfg.Redis.ConnectTimeout,
		OperationTimeout: cfg.Redis.OperationTimeout,
		Retry: cache.RetryPolicy{
			MaxAttempts: cfg.Redis.MaxRetries,
			BaseDelay:   cfg.Redis.RetryBaseDelay,
			MaxDelay:    cfg.Redis.RetryMaxDelay,
			Factor:      2.0,
			Jitter:      0.2,
		},
		BreakerThreshold: cfg.Cache.BreakerThreshold,
		BreakerTimeout:   cfg.Cache.BreakerTimeout,
	})

	codec := cache.NewKeyCodec(cfg.Cache.KeyPrefix)
	registry := manifest.NewRegistry()
	service := manifest.NewService(cacheClient, codec, registry, manifest.ServiceConfig{
		TTL:           cfg.Cache.ManifestTTL,
		ABTestEnabled: cfg.ABTest.Enabled,
		ABTestRatio:   cfg.ABTest.Ratio,
	})

	// Background warmup queue, only when a redis backend exists to carry it
	var scheduler *warmup.Scheduler
	var worker *warmup.Worker
	if cfg.Redis.URL != "" {
		scheduler, err = warmup.NewScheduler(cfg.Redis.URL)
		if err != nil {
			logger.Warnf("Warmup scheduler unavailable: %v", err)
			scheduler = nil
		}
		worker, err = warmup.NewWorker(cfg.Redis.URL, service)
		if err != nil {
			logger.Warnf("Warmup worker unavailable: %v", err)
			worker = nil
		}
	}

	webhookHandler := webhook.NewHandler(service, schedulerOrNil(scheduler), webhook.Config{
		Secret:      cfg.Webhook.Secret,
		Branch:      cfg.Webhook.Branch,
		CDNPurgeURL: cfg.Webhook.CDNPurgeURL,
	})

	var cacheMonitor *monitor.CacheMonitor
	if cfg.Monitor.Enabled {
		sinks := []monitor.AlertSink{monitor.NewLogSink()}
		if cfg.Monitor.ChatWebhookURL != "" {
			sinks = append(sinks, monitor.NewChatWebhookSink(cfg.Monitor.ChatWebhookURL, cfg.Monitor.ChatWebhookTimeout))
		}
		cacheMonitor = monitor.NewCacheMonitor(cacheClient, cfg.Monitor, sinks)
		if err := cacheMonitor.Start(); err != nil {
			return fmt.Errorf("failed to start cache monitor: %w", err)
		}
	}

	server, err := apiserver.NewAPIServer(cfg, cacheClient, service, apiserver.Components{
		WebhookHandler: webhookHandler,
		CacheMonitor:   cacheMonitor,
		Scheduler:      schedulerOrNil(scheduler),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if worker != nil {
		if err := worker.Start(); err != nil {
			logger.Warnf("Warmup worker failed to start: %v", err)
			worker = nil
		}
	}

	// Startup warmup runs in the background so a slow or down cache backend
	// never delays serving
	if cfg.Cache.WarmOnStart {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			results := service.WarmCache(ctx, nil)
			warmed := 0
			for _, r := range results {
				warmed += r.Success
			}
			logger.Infof("Startup warmup complete: %d manifests cached", warmed)
		}()
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Warnf("Server shutdown: %v", err)
		}
		if worker != nil {
			worker.Shutdown()
		}
		if scheduler != nil {
			if err := scheduler.Close(); err != nil {
				logger.Warnf("Scheduler close: %v", err)
			}
		}
		if cacheMonitor != nil {
			if err := cacheMonitor.Stop(ctx); err != nil {
				logger.Warnf("Monitor stop: %v", err)
			}
		}
		if err := cacheClient.Close(); err != nil {
			logger.Warnf("Cache client close: %v", err)
		}
		return nil
	case err := <-errChan:
		return err
	}
}

// schedulerOrNil keeps a typed-nil *warmup.Scheduler from leaking into the
// Scheduler interfaces as a non-nil value
func schedulerOrNil(s *warmup.Scheduler) webhook.Scheduler {
	if s == nil {
		return nil
	}
	return s
}
