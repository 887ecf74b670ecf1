package geopackage

import (
	"context"
	"fmt"

	"github.com/jobrunner/geopack/internal/domain"
	"github.com/jobrunner/geopack/internal/featureindex"
	"github.com/jobrunner/geopack/internal/gpkg"
	"github.com/jobrunner/geopack/internal/projection"
	"github.com/jobrunner/geopack/internal/tilegen"
)

// BuildTiles runs a tile job against its target package, creating the
// package when the file does not exist yet. The package is opened on its
// own connection so a copy served by the repository stays untouched until
// it is reloaded.
func (r *Repository) BuildTiles(ctx context.Context, job *tilegen.Job, progress tilegen.ProgressFunc) (tilegen.Result, error) {
	db, err := gpkg.Create(ctx, job.Package, gpkg.WithDriver(r.driver))
	if err != nil {
		return tilegen.Result{}, &domain.StorageError{Operation: "create", Key: job.Package, Err: err}
	}
	defer func() { _ = db.Close() }()

	reg := r.projections
	if reg == nil {
		if reg, err = projection.NewRegistry(0); err != nil {
			return tilegen.Result{}, err
		}
	}
	source, err := r.tileSource(ctx, db, job, reg)
	if err != nil {
		return tilegen.Result{}, err
	}

	gen, err := tilegen.New(db, source, job.Config(),
		tilegen.WithLogger(r.logger.With("package", DerivePackageID(job.Package), "table", job.Table)),
		tilegen.WithProjections(reg),
		tilegen.WithBatchSize(job.BatchSize),
	)
	if err != nil {
		return tilegen.Result{}, err
	}
	return gen.Generate(ctx, progress)
}

func (r *Repository) tileSource(ctx context.Context, db *gpkg.DB, job *tilegen.Job, reg *projection.Registry) (tilegen.Source, error) {
	src := job.Source
	switch src.Type {
	case tilegen.SourceURL:
		return tilegen.NewURLSource(src.URL, src.TMS, src.Timeout), nil

	case tilegen.SourceStorage:
		if r.objects == nil {
			return nil, &domain.ConfigError{Field: "source.type", Message: "storage tile jobs need an object storage"}
		}
		return &tilegen.StorageSource{Storage: r.objects, Pattern: src.Pattern, TMS: src.TMS}, nil

	case tilegen.SourceFeatures:
		ixOpts := []featureindex.Option{featureindex.WithLogger(r.logger), featureindex.WithProjections(reg)}
		if r.chunkSize > 0 {
			ixOpts = append(ixOpts, featureindex.WithChunkSize(r.chunkSize))
		}
		ix, err := featureindex.Open(ctx, db, src.FeatureTable, ixOpts...)
		if err != nil {
			return nil, err
		}
		if _, err := ix.EnsureIndexed(ctx, nil); err != nil {
			return nil, err
		}

		style := tilegen.DefaultStyle
		if job.Style != nil {
			if style, err = job.Style.Style(); err != nil {
				return nil, err
			}
		}
		codec, err := tilegen.CodecFor(job.ImageFormat, job.Quality)
		if err != nil {
			return nil, err
		}
		return &tilegen.FeatureSource{
			Features:     ix,
			SRID:         ix.Table().SRID(),
			Projections:  reg,
			Drawer:       tilegen.VectorDrawer{Style: style},
			Codec:        codec,
			BufferPixels: src.BufferPixels,
		}, nil
	}
	return nil, fmt.Errorf("tile source %q: %w", src.Type, domain.ErrUnsupported)
}
