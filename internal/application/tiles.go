package application

import (
	"context"
	"log/slog"

	"github.com/jobrunner/geopack/internal/ports/output"
	"github.com/jobrunner/geopack/internal/tilegen"
)

// TileService builds tile pyramids into GeoPackages.
type TileService struct {
	builder  output.TileBuilder
	registry *PackageRegistry
	metrics  output.MetricsCollector
	logger   *slog.Logger
}

// NewTileService creates a new tile service.
func NewTileService(builder output.TileBuilder, registry *PackageRegistry, metrics output.MetricsCollector, logger *slog.Logger) *TileService {
	return &TileService{
		builder:  builder,
		registry: registry,
		metrics:  metrics,
		logger:   logger,
	}
}

// GenerateTiles runs job. When the target package is loaded it is reloaded
// afterwards so the new tiles are served, also after a cancelled build.
func (s *TileService) GenerateTiles(ctx context.Context, job *tilegen.Job, progress tilegen.ProgressFunc) (tilegen.Result, error) {
	if err := job.Validate(); err != nil {
		return tilegen.Result{}, err
	}
	logger := s.logger.With("package", job.Package, "table", job.Table)
	logger.Info("generating tiles", "min_zoom", job.MinZoom, "max_zoom", job.MaxZoom, "source", job.Source.Type)

	result, err := s.builder.BuildTiles(ctx, job, progress)
	if err != nil {
		logger.Error("tile generation failed", "error", err)
		return result, err
	}

	s.metrics.AddTilesGenerated("stored", result.Count)
	s.metrics.AddTilesGenerated("skipped", result.Skipped)
	s.metrics.AddTilesGenerated("failed", result.Failed)
	logger.Info("tiles generated",
		"count", result.Count,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"cancelled", result.Cancelled,
		"duration", result.Duration)

	if s.registry != nil {
		s.reload(context.WithoutCancel(ctx), job.Package)
	}
	return result, nil
}

func (s *TileService) reload(ctx context.Context, path string) {
	id := derivePackageID(path)
	if !s.registry.IsLoaded(id) {
		return
	}
	if err := s.registry.UnloadPackage(ctx, id); err != nil {
		s.logger.Warn("failed to unload package for reload", "package", id, "error", err)
		return
	}
	if err := s.registry.LoadPackage(ctx, path); err != nil {
		s.logger.Warn("failed to reload package", "package", id, "error", err)
	}
}
