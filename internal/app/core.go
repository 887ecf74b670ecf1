package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jobrunner/geopack/internal/adapters/geopackage"
	"github.com/jobrunner/geopack/internal/adapters/storage"
	"github.com/jobrunner/geopack/internal/config"
	"github.com/jobrunner/geopack/internal/domain"
	"github.com/jobrunner/geopack/internal/ports/output"
	"github.com/jobrunner/geopack/internal/projection"
	"github.com/jobrunner/geopack/internal/tilegen"
)

// Core holds the components every command needs: object storage, the
// projection registry and the GeoPackage repository.
type Core struct {
	Config      *config.Config
	Logger      *slog.Logger
	Storage     output.ObjectStorage
	Projections *projection.Registry
	Repository  *geopackage.Repository

	spatiaLite *geopackage.SpatiaLiteFactory
}

// NewCore builds the core components. A SpatiaLite extension that fails
// to load is logged and leaves only the built-in projections.
func NewCore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Core, error) {
	c := &Core{Config: cfg, Logger: logger}

	store, err := initStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	c.Storage = store

	var projOpts []projection.Option
	if cfg.Projection.SpatiaLite {
		f, err := geopackage.NewSpatiaLiteFactory(ctx)
		if err != nil {
			logger.Warn("SpatiaLite unavailable, using built-in projections only", "error", err)
		} else {
			c.spatiaLite = f
			projOpts = append(projOpts, projection.WithFactory(f))
		}
	}
	if c.Projections, err = projection.NewRegistry(cfg.Projection.CacheSize, projOpts...); err != nil {
		_ = c.Close()
		return nil, err
	}

	repoOpts := []geopackage.Option{
		geopackage.WithLogger(logger),
		geopackage.WithChunkSize(cfg.Index.ChunkSize),
		geopackage.WithProjections(c.Projections),
		geopackage.WithObjectStorage(store),
	}
	if c.spatiaLite != nil {
		repoOpts = append(repoOpts, geopackage.WithDriver(geopackage.SpatiaLiteDriver))
	}
	c.Repository = geopackage.NewRepository(repoOpts...)

	return c, nil
}

// ApplyTileDefaults fills the image settings a job leaves open from the
// tiles configuration.
func (c *Core) ApplyTileDefaults(job *tilegen.Job) {
	if job.ImageFormat == "" {
		job.ImageFormat = c.Config.Tiles.DefaultFormat
	}
	if job.Quality == 0 {
		job.Quality = c.Config.Tiles.Quality
	}
	if job.TileSize == 0 {
		job.TileSize = c.Config.Tiles.TileSize
	}
}

// Close releases the SpatiaLite transform database.
func (c *Core) Close() error {
	if c.spatiaLite != nil {
		return c.spatiaLite.Close()
	}
	return nil
}

// initStorage initializes the appropriate storage adapter.
func initStorage(ctx context.Context, cfg config.StorageConfig) (output.ObjectStorage, error) {
	switch output.StorageType(cfg.Type) {
	case output.StorageTypeLocal:
		return storage.NewLocalStorage(cfg.LocalPath), nil

	case output.StorageTypeS3:
		return storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})

	case output.StorageTypeAzure:
		return storage.NewAzureStorage(storage.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
			Prefix:           cfg.Azure.Prefix,
		})

	case output.StorageTypeHTTP:
		return storage.NewHTTPStorage(storage.HTTPConfig{
			BaseURL:   cfg.HTTP.BaseURL,
			IndexFile: cfg.HTTP.IndexFile,
			Timeout:   cfg.HTTP.Timeout,
			Username:  cfg.HTTP.Username,
			Password:  cfg.HTTP.Password,
		}), nil

	default:
		return nil, &domain.ConfigError{Field: "storage.type", Message: fmt.Sprintf("unknown storage type %q", cfg.Type)}
	}
}

// closeAll closes every closer and joins the errors.
func closeAll(closers ...func() error) error {
	var errs []error
	for _, c := range closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
