package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wellintake/manifestcache/internal/config"
)

var (
	version = "dev"
	commit  = "none"    //nolint:gochecknoglobals // Build-time commit info
	date    = "unknown" //nolint:gochecknoglobals // Build-time date info
)

// loadStandardConfig creates a new config and loads it from the environment.
// This is the standard pattern used by all commands.
func loadStandardConfig() (*config.ServerConfig, error) {
	cfg := config.NewServerConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	return cfg, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "manifestcache",
		Short: "Resilient cache server for Outlook add-in manifests",
		Long: `Manifestcache serves versioned Outlook add-in manifests per environment
and variant, backed by a Redis cache that fails safe: cache outages degrade
to direct generation, never to request failures.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}

	rootCmd.AddCommand(
		newServeCommand(),
		newWarmCommand(),
		newConfigCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
