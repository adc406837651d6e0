package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/helixml/folio/infrastructure/api"
	"github.com/helixml/folio/infrastructure/library"
	"github.com/helixml/folio/internal/config"
	"github.com/helixml/folio/internal/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var (
		envFile    string
		host       string
		port       int
		libraryDir string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a directory of PDFs by page range",
		Long: `Serve a directory of PDFs over HTTP. Each document is addressable by
page range: GET /api/v1/documents/{id}/content with "Range: pages=9-16"
returns a standalone PDF holding pages 9 to 16.

Configuration is loaded in the following order (later sources override earlier):
  1. Default values
  2. .env file (if --env-file specified or .env exists in current directory)
  3. Environment variables
  4. Command line flags

Environment variables:
  HOST                         Server host to bind to (default: 0.0.0.0)
  PORT                         Server port to listen on (default: 8080)
  DATA_DIR                     Data directory (default: ~/.folio)
  LIBRARY_DIR                  Directory of served PDFs (default: {data_dir}/library)
  LIBRARY_CACHE_SIZE           Parsed documents kept in memory (default: 16)
  ALLOWED_ORIGINS              Comma-separated CORS origins (default: any)
  LOG_LEVEL                    Log level: DEBUG, INFO, WARN, ERROR (default: INFO)
  LOG_FORMAT                   Log format: pretty, json (default: pretty)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), envFile, host, port, libraryDir)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "Path to .env file (default: .env in current directory)")
	cmd.Flags().StringVar(&host, "host", "", "Server host to bind to (default: 0.0.0.0)")
	cmd.Flags().IntVar(&port, "port", 0, "Server port to listen on (default: 8080)")
	cmd.Flags().StringVar(&libraryDir, "library", "", "Directory of PDFs to serve")

	return cmd
}

func runServe(parent context.Context, envFile, host string, port int, libraryDir string) error {
	cfg, err := loadConfig(envFile)
	if err != nil {
		return err
	}
	cfg = applyServeOverrides(cfg, host, port, libraryDir)

	if err := os.MkdirAll(cfg.LibraryDir(), 0o755); err != nil {
		return fmt.Errorf("create library directory: %w", err)
	}

	logger := log.Configure(cfg).Slog()
	attrs := append([]slog.Attr{slog.String("version", version)}, cfg.LogAttrs()...)
	logger.LogAttrs(context.Background(), slog.LevelInfo, "starting folio", attrs...)

	lib, err := library.New(cfg.LibraryDir(), cfg.LibraryCacheSize(), library.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open library: %w", err)
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := api.NewAPIServer(lib, logger, cfg.AllowedOrigins()...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return lib.Watch(gctx, nil)
	})
	g.Go(func() error {
		return server.ListenAndServe(cfg.Addr())
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", slog.Any("error", err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// applyServeOverrides applies command line flag overrides to the config.
func applyServeOverrides(cfg config.AppConfig, host string, port int, libraryDir string) config.AppConfig {
	var opts []config.AppConfigOption

	if host != "" {
		opts = append(opts, config.WithHost(host))
	}
	if port != 0 {
		opts = append(opts, config.WithPort(port))
	}
	if libraryDir != "" {
		opts = append(opts, config.WithLibraryDir(libraryDir))
	}

	return cfg.Apply(opts...)
}
