// Package main is the entry point for the folio CLI.
package main

import (
	"fmt"
	"os"

	"github.com/helixml/folio/internal/config"
	"github.com/spf13/cobra"
)

// Version information set via ldflags during build.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folio",
		Short: "Paged document server and render cache",
		Long:  `Folio serves PDF documents by page range and streams them into a render cache one chunk at a time.`,
	}

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(renderCmd())
	cmd.AddCommand(versionCmd())

	return cmd
}

// loadConfig loads configuration from .env file and environment variables.
func loadConfig(envFile string) (config.AppConfig, error) {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return config.AppConfig{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
