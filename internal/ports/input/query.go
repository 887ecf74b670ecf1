// Package input defines the primary/driving ports of the application.
package input

import (
	"context"

	"github.com/jobrunner/geopack/internal/domain"
	"github.com/jobrunner/geopack/internal/tilegen"
)

// QueryService defines the primary port for reading GeoPackage content.
type QueryService interface {
	// QueryFeatures selects features of one table of one package.
	QueryFeatures(ctx context.Context, packageID, table string, q domain.FeatureQuery) (*domain.QueryResult, error)

	// SearchFeatures selects features of every ready feature table.
	SearchFeatures(ctx context.Context, q domain.FeatureQuery) (*domain.QueryResponse, error)

	// GetTile returns one stored tile.
	GetTile(ctx context.Context, packageID, table string, cell domain.GridCell) (domain.Tile, error)

	// CoverageValue samples a gridded coverage.
	CoverageValue(ctx context.Context, packageID, table string, at domain.Coordinate, interpolation string) (domain.CoverageValue, error)
}

// PackageRegistry defines the primary port for GeoPackage management.
type PackageRegistry interface {
	// ListPackages returns all registered GeoPackages.
	ListPackages(ctx context.Context) ([]domain.GeoPackage, error)

	// GetPackage returns a specific GeoPackage by ID.
	GetPackage(ctx context.Context, id string) (*domain.GeoPackage, error)

	// GetPackageStatus returns the status of a GeoPackage.
	GetPackageStatus(ctx context.Context, id string) (domain.GeoPackageStatus, error)
}

// IndexService defines the primary port for spatial index administration.
type IndexService interface {
	// IndexTable indexes a feature table; force rebuilds a fresh index.
	IndexTable(ctx context.Context, packageID, table string, force bool) (domain.IndexReport, error)
}

// TileGenerator defines the primary port for building tile pyramids.
type TileGenerator interface {
	// GenerateTiles runs a tile job and reloads the package if it is served.
	GenerateTiles(ctx context.Context, job *tilegen.Job, progress tilegen.ProgressFunc) (tilegen.Result, error)
}

// HealthChecker defines the primary port for health checks.
type HealthChecker interface {
	// IsHealthy returns true if the service is healthy.
	IsHealthy(ctx context.Context) bool

	// IsReady returns true if the service is ready to accept requests.
	IsReady(ctx context.Context) bool

	// GetHealthDetails returns detailed health information.
	GetHealthDetails(ctx context.Context) HealthDetails
}

// HealthDetails contains detailed health information.
type HealthDetails struct {
	Healthy        bool              // Overall health status
	Ready          bool              // Ready to accept requests
	PackagesLoaded int               // Number of loaded packages
	PackagesReady  int               // Number of ready packages
	Components     map[string]string // Component statuses
	Packages       []PackageHealth   // Per package, ordered by ID
}

// PackageHealth is the state of one registered package.
type PackageHealth struct {
	ID      string
	Status  domain.GeoPackageStatus
	Ready   bool // serves requests
	Indexed bool // every feature table has a fresh index
}
