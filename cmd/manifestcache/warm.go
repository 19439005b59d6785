//nolint:forbidigo // CLI command needs fmt.Print* for user output
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wellintake/manifestcache/internal/cache"
	"github.com/wellintake/manifestcache/internal/manifest"
)

func newWarmCommand() *cobra.Command {
	var environments []string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Pre-generate and cache manifests",
		Long:  "Generate and cache manifests for every environment/variant pair without starting the server",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadStandardConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			cacheClient := cache.NewClient(cache.ClientConfig{
				URL:              cfg.Redis.URL,
				ConnectTimeout:   cfg.Redis.ConnectTimeout,
				OperationTimeout: cfg.Redis.OperationTimeout,
				BreakerThreshold: cfg.Cache.BreakerThreshold,
				BreakerTimeout:   cfg.Cache.BreakerTimeout,
			})
			defer func() { _ = cacheClient.Close() }()

			service := manifest.NewService(
				cacheClient,
				cache.NewKeyCodec(cfg.Cache.KeyPrefix),
				manifest.NewRegistry(),
				manifest.ServiceConfig{
					TTL:           cfg.Cache.ManifestTTL,
					ABTestEnabled: cfg.ABTest.Enabled,
					ABTestRatio:   cfg.ABTest.Ratio,
				},
			)

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			results := service.WarmCache(ctx, environments)
			for env, r := range results {
				fmt.Printf("%s: %d cached, %d errors\n", env, r.Success, r.Errors)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&environments, "environment", "e", nil,
		"Environments to warm (default: all)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Warmup timeout")

	return cmd
}
