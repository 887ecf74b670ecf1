// Package app wires the adapters and services into the geopack server
// and the offline commands.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jobrunner/geopack/internal/adapters/geopackage"
	httpAdapter "github.com/jobrunner/geopack/internal/adapters/http"
	"github.com/jobrunner/geopack/internal/adapters/metrics"
	tlsAdapter "github.com/jobrunner/geopack/internal/adapters/tls"
	"github.com/jobrunner/geopack/internal/adapters/watcher"
	"github.com/jobrunner/geopack/internal/application"
	"github.com/jobrunner/geopack/internal/config"
	"github.com/jobrunner/geopack/internal/ports/output"
)

const defaultShutdownTimeout = 10 * time.Second

// App holds all application components.
type App struct {
	*Core

	Registry      *application.PackageRegistry
	QueryService  *application.QueryService
	HealthService *application.HealthService
	SyncService   *application.SyncService
	HTTPServer    *httpAdapter.Server
	TLS           *tlsAdapter.Manager
	Watcher       *watcher.Watcher
	Metrics       *metrics.Collector
	MetricsServer *metrics.Server

	syncStarted bool
}

// New creates and initializes a new application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	core, err := NewCore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app := &App{Core: core}

	var collector output.MetricsCollector = &output.NoOpMetrics{}
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector("geopack", nil)
		collector = app.Metrics
	}

	app.Registry = application.NewPackageRegistry(
		app.Repository,
		app.Storage,
		collector,
		logger,
		application.RegistryConfig{
			LocalPath: cfg.Storage.LocalPath,
			AutoIndex: cfg.Index.AutoIndex,
		},
	)

	app.QueryService, err = application.NewQueryService(
		app.Registry,
		app.Repository,
		app.Projections,
		collector,
		logger,
		application.QueryServiceConfig{
			DefaultSRID:   cfg.Query.DefaultSRID,
			MaxFeatures:   cfg.Query.MaxFeatures,
			Timeout:       cfg.Query.Timeout,
			TileCacheSize: cfg.Tiles.CacheSize,
		},
	)
	if err != nil {
		_ = core.Close()
		return nil, fmt.Errorf("initializing query service: %w", err)
	}

	app.HealthService = application.NewHealthService(app.Registry)
	app.SyncService = application.NewSyncService(
		app.Registry,
		cfg.Storage.SyncInterval,
		logger,
		application.WithReindex(cfg.Index.AutoIndex),
		application.WithCooldown(cfg.Storage.SyncCooldown),
	)

	app.HTTPServer = httpAdapter.NewServer(
		cfg.Server,
		app.QueryService,
		app.Registry,
		app.HealthService,
		app.SyncService,
		logger,
	)

	if app.Metrics != nil {
		app.HTTPServer.Use(app.Metrics.Middleware)
		if cfg.Metrics.Port == 0 || cfg.Metrics.Port == cfg.Server.Port {
			app.HTTPServer.Router().Handle(cfg.Metrics.Path, app.Metrics.Handler())
		} else {
			app.MetricsServer = metrics.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, app.Metrics.Handler(), logger)
		}
	}

	if cfg.TLS.Enabled {
		if app.TLS, err = tlsAdapter.NewManager(cfg.TLS, logger); err != nil {
			_ = core.Close()
			return nil, fmt.Errorf("initializing TLS: %w", err)
		}
	}

	if output.StorageType(cfg.Storage.Type) == output.StorageTypeLocal {
		w, err := watcher.New(
			watcher.Config{Paths: []string{cfg.Storage.LocalPath}},
			app.handleFileEvent,
			logger,
		)
		if err != nil {
			logger.Warn("failed to initialize file watcher", "error", err)
		} else {
			app.Watcher = w
		}
	}

	return app, nil
}

// Start loads the packages and serves until ctx is cancelled or a server
// fails. A failing server stops the others.
func (a *App) Start(ctx context.Context) error {
	if err := a.Registry.LoadAll(ctx); err != nil {
		a.Logger.Warn("failed to load packages", "error", err)
	}

	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start file watcher", "error", err)
		}
	}

	if a.SyncService.Interval() > 0 {
		a.SyncService.Start(ctx)
		a.syncStarted = true
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if a.TLS == nil {
			return a.HTTPServer.Start()
		}
		if err := a.TLS.Manage(gctx); err != nil {
			return err
		}
		return a.HTTPServer.StartTLS(a.TLS.TLSConfig())
	})

	if a.MetricsServer != nil {
		g.Go(a.MetricsServer.Start)
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.shutdownTimeout())
		defer cancel()
		a.stopServers(shutdownCtx)
		return nil
	})

	return g.Wait()
}

func (a *App) shutdownTimeout() time.Duration {
	if t := a.Config.Server.ShutdownTimeout; t > 0 {
		return t
	}
	return defaultShutdownTimeout
}

func (a *App) stopServers(ctx context.Context) {
	if a.MetricsServer != nil {
		if err := a.MetricsServer.Shutdown(ctx); err != nil {
			a.Logger.Error("metrics server shutdown error", "error", err)
		}
	}
	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		a.Logger.Error("HTTP server shutdown error", "error", err)
	}
}

// Shutdown stops the servers and background work and closes all
// packages.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}
	if a.syncStarted {
		a.SyncService.Stop()
		a.syncStarted = false
	}

	a.stopServers(ctx)

	packages, _ := a.Registry.ListPackages(ctx)
	for _, pkg := range packages {
		if err := a.Registry.UnloadPackage(ctx, pkg.ID); err != nil {
			a.Logger.Error("failed to unload package", "id", pkg.ID, "error", err)
		}
	}

	return closeAll(a.Core.Close)
}

// handleFileEvent reloads changed packages, which reindexes stale feature
// tables, and unloads deleted ones.
func (a *App) handleFileEvent(ctx context.Context, event watcher.Event) error {
	packageID := geopackage.DerivePackageID(event.Path)
	a.Logger.Info("file event", "path", event.Path, "id", packageID, "operation", event.Operation.String())

	switch event.Operation {
	case watcher.OpCreate, watcher.OpModify:
		if a.Registry.IsLoaded(packageID) {
			if err := a.Registry.UnloadPackage(ctx, packageID); err != nil {
				return fmt.Errorf("unloading %s for reload: %w", packageID, err)
			}
		}
		return a.Registry.LoadPackage(ctx, event.Path)

	case watcher.OpDelete:
		if err := a.Registry.UnloadPackage(ctx, packageID); err != nil {
			a.Logger.Warn("failed to unload deleted package", "id", packageID, "error", err)
		}
	}

	return nil
}
