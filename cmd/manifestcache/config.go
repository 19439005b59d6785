//nolint:forbidigo // CLI command needs fmt.Print* for user output
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wellintake/manifestcache/internal/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage manifestcache configuration",
		Long:  "View and validate manifestcache server configuration settings",
	}

	cmd.AddCommand(
		newConfigShowCommand(),
		newConfigValidateCommand(),
	)

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long:  "Display the current configuration resolved from defaults and environment variables",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadStandardConfig()
			if err != nil {
				return err
			}

			switch format {
			case "json":
				return displayConfigJSON(cfg)
			case "table":
				return displayConfigTable(cfg)
			default:
				return fmt.Errorf("unknown format: %s. Supported formats: table, json", format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format (table, json)")

	return cmd
}

func newConfigValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate current configuration",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadStandardConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}
			fmt.Println("Configuration is valid")
			if !cfg.SignatureEnforced() {
				fmt.Println("WARNING: no webhook secret configured, signature verification is disabled")
			}
			return nil
		},
	}
}

func displayConfigJSON(cfg *config.ServerConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func displayConfigTable(cfg *config.ServerConfig) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SETTING\tVALUE\tSOURCE")
	_, _ = fmt.Fprintln(w, "-------\t-----\t------")

	printConfigSection(w, "", reflect.ValueOf(cfg).Elem())

	return w.Flush()
}

// printConfigSection walks the config struct and prints leaf fields with
// their env var names, secrets redacted
func printConfigSection(w *tabwriter.Writer, prefix string, v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)

		name := field.Name
		if prefix != "" {
			name = prefix + "." + field.Name
		}

		if value.Kind() == reflect.Struct && field.Type.Name() != "Duration" {
			printConfigSection(w, name, value)
			continue
		}

		envVar := field.Tag.Get("env")
		source := "default"
		if envVar != "" && os.Getenv(envVar) != "" {
			source = envVar
		}

		display := fmt.Sprintf("%v", value.Interface())
		if field.Tag.Get("json") == "-" && display != "" {
			display = "(redacted)"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", name, display, source)
	}
}
