package output

import (
	"context"

	"github.com/jobrunner/geopack/internal/domain"
	"github.com/jobrunner/geopack/internal/tilegen"
)

// GeoPackageRepository defines the secondary port for GeoPackage data access.
type GeoPackageRepository interface {
	// Open opens a GeoPackage file and returns its metadata.
	Open(ctx context.Context, path string) (*domain.GeoPackage, error)

	// Close closes a GeoPackage connection.
	Close(ctx context.Context, packageID string) error

	// Tables returns the contents of a GeoPackage with current index states.
	Tables(ctx context.Context, packageID string) ([]domain.Table, error)

	// IndexTable builds the geometry index of a feature table. Unless force
	// is set a fresh index is left alone.
	IndexTable(ctx context.Context, packageID, table string, force bool) (domain.IndexReport, error)

	// QueryFeatures selects features of an indexed table.
	QueryFeatures(ctx context.Context, packageID, table string, q domain.FeatureQuery) ([]domain.Feature, error)

	// Tile reads one tile of a tile pyramid table.
	Tile(ctx context.Context, packageID, table string, cell domain.GridCell) (domain.Tile, error)

	// CoverageValue samples a gridded coverage at a position.
	CoverageValue(ctx context.Context, packageID, table string, at domain.Coordinate, interpolation string) (domain.CoverageValue, error)
}

// CoordinateTransformer defines the secondary port for coordinate transformations.
type CoordinateTransformer interface {
	// TransformCoordinate transforms a coordinate to another SRID.
	TransformCoordinate(ctx context.Context, c domain.Coordinate, to int) (domain.Coordinate, error)

	// TransformBBox transforms a bounding box to another SRID.
	TransformBBox(ctx context.Context, b domain.BoundingBox, to int) (domain.BoundingBox, error)

	// Supports checks if an SRID can be transformed.
	Supports(ctx context.Context, srid int) bool
}

// TileBuilder defines the secondary port that writes tile pyramids.
type TileBuilder interface {
	// BuildTiles runs a tile job against its target package.
	BuildTiles(ctx context.Context, job *tilegen.Job, progress tilegen.ProgressFunc) (tilegen.Result, error)
}
