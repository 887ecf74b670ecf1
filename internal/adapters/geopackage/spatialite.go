package geopackage

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb"

	"github.com/jobrunner/geopack/internal/domain"
	"github.com/jobrunner/geopack/internal/projection"
)

// SpatiaLiteDriver is the sqlite3 driver that loads mod_spatialite on
// every connection.
const SpatiaLiteDriver = "sqlite3_with_extensions"

func init() {
	sql.Register(SpatiaLiteDriver, &sqlite3.SQLiteDriver{
		Extensions: getSpatiaLiteLibraryPaths(),
	})
}

// getSpatiaLiteLibraryPaths returns a list of paths to try for loading SpatiaLite.
// The environment variable wins over the platform defaults.
func getSpatiaLiteLibraryPaths() []string {
	if envPath := os.Getenv("SPATIALITE_LIBRARY_PATH"); envPath != "" {
		return []string{envPath}
	}

	return []string{
		// Alpine Linux (Docker containers)
		"/usr/lib/mod_spatialite.so",
		"/usr/lib/mod_spatialite.so.8",

		// Debian/Ubuntu
		"/usr/lib/x86_64-linux-gnu/mod_spatialite.so",
		"/usr/lib/x86_64-linux-gnu/mod_spatialite.so.8",
		"/usr/lib/aarch64-linux-gnu/mod_spatialite.so",
		"/usr/lib/aarch64-linux-gnu/mod_spatialite.so.8",

		// macOS Homebrew
		"/usr/local/lib/mod_spatialite.dylib",
		"/opt/homebrew/lib/mod_spatialite.dylib",

		// Let the loader search LD_LIBRARY_PATH
		"mod_spatialite.so",
		"mod_spatialite",
		"mod_spatialite.dylib",
	}
}

// SpatiaLiteFactory resolves EPSG codes that are not built into the
// projection registry through SpatiaLite's Transform(). It keeps a private
// in-memory database because GeoPackage files lack the spatial_ref_sys
// table SpatiaLite needs.
type SpatiaLiteFactory struct {
	db *sql.DB
}

// NewSpatiaLiteFactory opens the in-memory transform database.
func NewSpatiaLiteFactory(ctx context.Context) (*SpatiaLiteFactory, error) {
	db, err := sql.Open(SpatiaLiteDriver, ":memory:")
	if err != nil {
		return nil, err
	}
	// One connection: every pooled :memory: connection is a separate database.
	db.SetMaxOpenConns(1)

	var version string
	if err := db.QueryRowContext(ctx, "SELECT spatialite_version()").Scan(&version); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("SpatiaLite extension not available: %w", err)
	}
	// InitSpatialMetaDataFull populates spatial_ref_sys with the EPSG definitions.
	if _, err := db.ExecContext(ctx, "SELECT InitSpatialMetaDataFull(1)"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing spatial metadata: %w", err)
	}
	return &SpatiaLiteFactory{db: db}, nil
}

// Projector implements projection.Factory.
func (f *SpatiaLiteFactory) Projector(ctx context.Context, srid int) (projection.Projector, error) {
	var count int
	err := f.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM spatial_ref_sys WHERE srid = ?", srid).Scan(&count)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("EPSG:%d: %w", srid, domain.ErrInvalidSRID)
	}
	return &spatiaLiteProjector{db: f.db, srid: srid}, nil
}

// Close closes the transform database.
func (f *SpatiaLiteFactory) Close() error {
	return f.db.Close()
}

type spatiaLiteProjector struct {
	db   *sql.DB
	srid int
}

func (p *spatiaLiteProjector) SRID() int { return p.srid }

func (p *spatiaLiteProjector) ToWGS84(ctx context.Context, pt orb.Point) (orb.Point, error) {
	return p.transform(ctx, pt, p.srid, domain.SRIDWGS84)
}

func (p *spatiaLiteProjector) FromWGS84(ctx context.Context, pt orb.Point) (orb.Point, error) {
	return p.transform(ctx, pt, domain.SRIDWGS84, p.srid)
}

func (p *spatiaLiteProjector) transform(ctx context.Context, pt orb.Point, from, to int) (orb.Point, error) {
	const query = `SELECT X(t), Y(t) FROM (SELECT Transform(MakePoint(?, ?, ?), ?) AS t)`
	var x, y sql.NullFloat64
	if err := p.db.QueryRowContext(ctx, query, pt[0], pt[1], from, to).Scan(&x, &y); err != nil {
		return pt, &domain.ProjectionError{From: from, To: to, Err: err}
	}
	if !x.Valid || !y.Valid {
		return pt, &domain.ProjectionError{From: from, To: to, Err: fmt.Errorf("transform returned null: %w", domain.ErrInvalidInput)}
	}
	return orb.Point{x.Float64, y.Float64}, nil
}
