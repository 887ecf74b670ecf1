package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jobrunner/geopack/internal/domain"
	"github.com/jobrunner/geopack/internal/ports/output"
)

// QueryService reads features, tiles and coverage values of loaded
// GeoPackages.
type QueryService struct {
	registry    *PackageRegistry
	repo        output.GeoPackageRepository
	transformer output.CoordinateTransformer
	metrics     output.MetricsCollector
	logger      *slog.Logger
	defaultSRID int
	maxFeatures int
	timeout     time.Duration
	tiles       *lru.Cache[tileKey, domain.Tile]
}

// QueryServiceConfig holds configuration for the query service.
type QueryServiceConfig struct {
	DefaultSRID   int
	MaxFeatures   int
	Timeout       time.Duration
	TileCacheSize int // 0 disables the tile cache
}

// tileKey includes the load time so a reloaded package never serves
// tiles cached from its previous file.
type tileKey struct {
	packageID string
	loadedAt  int64
	table     string
	cell      domain.GridCell
}

// NewQueryService creates a new query service.
func NewQueryService(
	registry *PackageRegistry,
	repo output.GeoPackageRepository,
	transformer output.CoordinateTransformer,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	cfg QueryServiceConfig,
) (*QueryService, error) {
	if cfg.DefaultSRID == 0 {
		cfg.DefaultSRID = domain.SRIDWGS84
	}
	if cfg.MaxFeatures == 0 {
		cfg.MaxFeatures = 1000
	}

	s := &QueryService{
		registry:    registry,
		repo:        repo,
		transformer: transformer,
		metrics:     metrics,
		logger:      logger,
		defaultSRID: cfg.DefaultSRID,
		maxFeatures: cfg.MaxFeatures,
		timeout:     cfg.Timeout,
	}
	if cfg.TileCacheSize > 0 {
		c, err := lru.New[tileKey, domain.Tile](cfg.TileCacheSize)
		if err != nil {
			return nil, fmt.Errorf("creating tile cache: %w", err)
		}
		s.tiles = c
	}
	return s, nil
}

func (s *QueryService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// table resolves a table of a ready package and checks its data type.
func (s *QueryService) table(ctx context.Context, packageID, name string, types ...domain.DataType) (*domain.GeoPackage, *domain.Table, error) {
	pkg, err := s.registry.GetPackage(ctx, packageID)
	if err != nil {
		return nil, nil, err
	}
	if !s.registry.IsReady(packageID) {
		return nil, nil, domain.ErrNotReady
	}
	t, ok := pkg.GetTable(name)
	if !ok {
		return nil, nil, fmt.Errorf("%s/%s: %w", packageID, name, domain.ErrTableNotFound)
	}
	for _, dt := range types {
		if t.DataType == dt {
			return pkg, t, nil
		}
	}
	return nil, nil, fmt.Errorf("%s/%s is %s: %w", packageID, name, t.DataType, domain.ErrTableNotFound)
}

// normalize fills in default SRIDs, caps the page size and checks that the
// requested projections are available.
func (s *QueryService) normalize(ctx context.Context, q domain.FeatureQuery) (domain.FeatureQuery, error) {
	if err := q.Validate(); err != nil {
		return q, err
	}
	if q.Limit == 0 || q.Limit > s.maxFeatures {
		q.Limit = s.maxFeatures
	}
	if q.OutSRID == 0 {
		q.OutSRID = s.defaultSRID
	}
	if q.BBox != nil && q.BBox.SRID == 0 {
		b := *q.BBox
		b.SRID = s.defaultSRID
		q.BBox = &b
	}
	if s.transformer != nil {
		for _, srid := range []int{q.OutSRID, bboxSRID(q.BBox)} {
			if srid != 0 && !s.transformer.Supports(ctx, srid) {
				return q, &domain.ProjectionError{From: srid, To: domain.SRIDWGS84}
			}
		}
	}
	return q, nil
}

func bboxSRID(b *domain.BoundingBox) int {
	if b == nil {
		return 0
	}
	return b.SRID
}

// QueryFeatures selects features of one table of one package.
func (s *QueryService) QueryFeatures(ctx context.Context, packageID, table string, q domain.FeatureQuery) (*domain.QueryResult, error) {
	start := time.Now()
	if _, _, err := s.table(ctx, packageID, table, domain.DataTypeFeatures); err != nil {
		return nil, err
	}
	q, err := s.normalize(ctx, q)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	features, err := s.repo.QueryFeatures(ctx, packageID, table, q)
	s.metrics.IncQueryCount(packageID, err == nil)
	if err != nil {
		return nil, &domain.QueryError{PackageID: packageID, Table: table, Err: err}
	}
	s.metrics.ObserveQueryDuration(packageID, time.Since(start))

	return &domain.QueryResult{PackageID: packageID, Table: table, Features: features}, nil
}

// SearchFeatures selects features of every indexed feature table of every
// ready package until the feature limit is reached. Tables that fail are
// logged and skipped.
func (s *QueryService) SearchFeatures(ctx context.Context, q domain.FeatureQuery) (*domain.QueryResponse, error) {
	q, err := s.normalize(ctx, q)
	if err != nil {
		return nil, err
	}
	response := &domain.QueryResponse{}
	if q.BBox != nil {
		response.BoundingBox = *q.BBox
	}

	remaining := q.Limit
	for _, pkgID := range s.registry.ReadyPackageIDs() {
		pkg, err := s.registry.GetPackage(ctx, pkgID)
		if err != nil {
			continue
		}
		for _, t := range pkg.TablesOfType(domain.DataTypeFeatures) {
			if remaining == 0 {
				return response, nil
			}
			if t.IndexState != domain.IndexStateIndexed {
				s.logger.Debug("skipping unindexed table", "package", pkgID, "table", t.Name)
				continue
			}
			tq := q
			tq.Limit = remaining
			result, err := s.QueryFeatures(ctx, pkgID, t.Name, tq)
			if err != nil {
				s.logger.Warn("query failed for table", "package", pkgID, "table", t.Name, "error", err)
				continue
			}
			if result.FeatureCount() > 0 {
				response.AddResult(*result)
				remaining -= result.FeatureCount()
			}
		}
	}
	return response, nil
}

// GetTile returns one stored tile of a tile or coverage table.
func (s *QueryService) GetTile(ctx context.Context, packageID, table string, cell domain.GridCell) (domain.Tile, error) {
	if cell.Zoom < 0 || cell.Column < 0 || cell.Row < 0 {
		return domain.Tile{}, &domain.ValidationError{
			Field:      "tile",
			Value:      cell,
			Constraint: ">= 0",
			Message:    "zoom, column and row must not be negative",
		}
	}
	pkg, _, err := s.table(ctx, packageID, table, domain.DataTypeTiles, domain.DataTypeGriddedCoverage)
	if err != nil {
		return domain.Tile{}, err
	}

	key := tileKey{packageID: packageID, loadedAt: pkg.LoadedAt.UnixNano(), table: table, cell: cell}
	if s.tiles != nil {
		if tile, ok := s.tiles.Get(key); ok {
			s.metrics.IncTileRequests(packageID, true)
			return tile, nil
		}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tile, err := s.repo.Tile(ctx, packageID, table, cell)
	if err != nil {
		return domain.Tile{}, err
	}
	s.metrics.IncTileRequests(packageID, false)
	if s.tiles != nil {
		s.tiles.Add(key, tile)
	}
	return tile, nil
}

// CoverageValue samples a gridded coverage. A coordinate without SRID is
// taken in the default SRID.
func (s *QueryService) CoverageValue(ctx context.Context, packageID, table string, at domain.Coordinate, interpolation string) (domain.CoverageValue, error) {
	if at.SRID == 0 {
		at.SRID = s.defaultSRID
	}
	if err := at.Validate(); err != nil {
		return domain.CoverageValue{}, err
	}
	if _, _, err := s.table(ctx, packageID, table, domain.DataTypeGriddedCoverage); err != nil {
		return domain.CoverageValue{}, err
	}
	if s.transformer != nil && !s.transformer.Supports(ctx, at.SRID) {
		return domain.CoverageValue{}, &domain.ProjectionError{From: at.SRID, To: domain.SRIDWGS84}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	v, err := s.repo.CoverageValue(ctx, packageID, table, at, interpolation)
	s.metrics.IncQueryCount(packageID, err == nil)
	return v, err
}
