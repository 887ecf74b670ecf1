package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jobrunner/geopack/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the GeoPackages of the configured storage",
	Args:  cobra.NoArgs,
	RunE:  runServer,
}

func init() {
	f := serveCmd.Flags()
	f.String("host", "0.0.0.0", "server host")
	f.Int("port", 8080, "server port")
	f.Bool("tls", false, "enable TLS")
	f.StringSlice("tls-domains", nil, "TLS domains")
	f.String("tls-email", "", "TLS email for Let's Encrypt")
	f.String("storage-type", "local", "storage type (local, s3, azure, http)")
	f.Duration("sync-interval", 0, "remote storage polling interval (0 disables)")
	f.StringSlice("cors", nil, "allowed CORS origins (e.g., https://example.com,*.sub.domain.tld)")
	f.Bool("metrics", true, "expose Prometheus metrics")
	f.Int("metrics-port", 9090, "metrics port (0 serves metrics on the API port)")

	_ = viper.BindPFlag("server.host", f.Lookup("host"))
	_ = viper.BindPFlag("server.port", f.Lookup("port"))
	_ = viper.BindPFlag("tls.enabled", f.Lookup("tls"))
	_ = viper.BindPFlag("tls.domains", f.Lookup("tls-domains"))
	_ = viper.BindPFlag("tls.email", f.Lookup("tls-email"))
	_ = viper.BindPFlag("storage.type", f.Lookup("storage-type"))
	_ = viper.BindPFlag("storage.sync_interval", f.Lookup("sync-interval"))
	_ = viper.BindPFlag("server.cors.allowed_origins", f.Lookup("cors"))
	_ = viper.BindPFlag("metrics.enabled", f.Lookup("metrics"))
	_ = viper.BindPFlag("metrics.port", f.Lookup("metrics-port"))
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger.Info("starting geopack",
		"version", version,
		"address", cfg.Server.Address(),
		"storage_type", cfg.Storage.Type,
	)

	ctx := cmd.Context()
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	// Start returns once the signal context is cancelled or a server fails.
	serveErr := application.Start(ctx)
	if serveErr != nil {
		logger.Error("server error", "error", serveErr)
	} else {
		logger.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return serveErr
}
