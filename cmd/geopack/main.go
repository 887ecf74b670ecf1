// Package main provides the geopack command: the GeoPackage query server
// and the offline indexing, tiling and sampling tools.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jobrunner/geopack/internal/app"
	"github.com/jobrunner/geopack/internal/config"
	"github.com/jobrunner/geopack/internal/logger"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "geopack",
	Short: "GeoPackage query, tiling and coverage service",
	Long: `geopack serves OGC GeoPackage files over a REST API.

Features:
  - GeoJSON feature queries backed by a persistent spatial index
  - Tile pyramids and tile generation from remote or vector sources
  - Gridded coverage sampling with nearest or bilinear interpolation
  - Coordinate transformation between EPSG reference systems
  - Multiple storage backends (local, AWS S3, Azure, HTTP)
  - Hot-reload of GeoPackages
  - TLS with automatic certificate management
  - Prometheus metrics`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "geopack %s\n", version)
		fmt.Fprintf(out, "  Commit:     %s\n", commit)
		fmt.Fprintf(out, "  Build Date: %s\n", buildDate)
	},
}

func init() {
	cobra.OnInitialize(config.Defaults)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text, console)")
	rootCmd.PersistentFlags().String("storage-path", "./data", "local storage path")
	rootCmd.PersistentFlags().Bool("spatialite", false, "use SpatiaLite for EPSG codes beyond the built-in projections")

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("storage.local_path", rootCmd.PersistentFlags().Lookup("storage-path"))
	_ = viper.BindPFlag("projection.spatialite", rootCmd.PersistentFlags().Lookup("spatialite"))

	rootCmd.AddCommand(versionCmd, serveCmd, indexCmd, tilesCmd, coverageCmd, infoCmd)
}

// loadConfig reads the configuration and builds the logger. Tool commands
// log to stderr so their results can be piped.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	out := cmd.ErrOrStderr()
	if cmd.Name() == "serve" {
		out = cmd.OutOrStdout()
	}
	log := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}, out)
	slog.SetDefault(log)
	return cfg, log, nil
}

// withCore runs fn with the storage, projections and repository the tool
// commands share.
func withCore(cmd *cobra.Command, fn func(ctx context.Context, core *app.Core) error) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	core, err := app.NewCore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("initializing: %w", err)
	}
	err = fn(ctx, core)
	return errors.Join(err, core.Close())
}
