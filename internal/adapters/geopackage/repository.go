// Package geopackage provides the GeoPackage repository over internal/gpkg.
package geopackage

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/jobrunner/geopack/internal/coverage"
	"github.com/jobrunner/geopack/internal/domain"
	"github.com/jobrunner/geopack/internal/featureindex"
	"github.com/jobrunner/geopack/internal/geom"
	"github.com/jobrunner/geopack/internal/gpkg"
	"github.com/jobrunner/geopack/internal/projection"
	"github.com/jobrunner/geopack/internal/tilegen"
)

// Repository implements the GeoPackageRepository port. Every open package
// keeps one connection together with the indexers, tile tables and
// coverages opened on it.
type Repository struct {
	mu          sync.RWMutex
	packages    map[string]*openPackage
	projections *projection.Registry
	logger      *slog.Logger
	driver      string
	chunkSize   int
	objects     tilegen.ObjectReader
}

type openPackage struct {
	pkg *domain.GeoPackage
	db  *gpkg.DB

	mu        sync.Mutex
	indexers  map[string]*featureindex.Indexer
	tiles     map[string]*gpkg.TileTable
	coverages map[string]*coverage.Table
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the logger handed to the indexers.
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// WithDriver selects the database/sql driver, e.g. SpatiaLiteDriver.
func WithDriver(name string) Option {
	return func(r *Repository) { r.driver = name }
}

// WithChunkSize sets the number of rows read per index chunk.
func WithChunkSize(n int) Option {
	return func(r *Repository) { r.chunkSize = n }
}

// WithProjections sets the registry used for reprojected queries.
func WithProjections(reg *projection.Registry) Option {
	return func(r *Repository) { r.projections = reg }
}

// WithObjectStorage sets the storage that "storage" tile jobs read from.
func WithObjectStorage(o tilegen.ObjectReader) Option {
	return func(r *Repository) { r.objects = o }
}

// NewRepository creates a new GeoPackage repository.
func NewRepository(opts ...Option) *Repository {
	r := &Repository{
		packages: make(map[string]*openPackage),
		logger:   slog.New(slog.DiscardHandler),
		driver:   gpkg.DefaultDriver,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open opens a GeoPackage file and returns its metadata.
func (r *Repository) Open(ctx context.Context, path string) (*domain.GeoPackage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	packageID := DerivePackageID(path)
	if p, ok := r.packages[packageID]; ok {
		return p.pkg, nil
	}

	db, err := gpkg.Open(ctx, path, gpkg.WithDriver(r.driver))
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}

	p := &openPackage{
		db:        db,
		indexers:  make(map[string]*featureindex.Indexer),
		tiles:     make(map[string]*gpkg.TileTable),
		coverages: make(map[string]*coverage.Table),
	}
	p.pkg = &domain.GeoPackage{ID: packageID, Name: packageID, Path: path}
	if info, err := os.Stat(path); err == nil {
		p.pkg.Size = info.Size()
	}
	if p.pkg.Tables, err = r.tables(ctx, p); err != nil {
		_ = db.Close()
		return nil, err
	}
	p.pkg.Description = readDescription(ctx, db.SQL())
	p.pkg.Indexed = allIndexed(p.pkg.Tables)

	r.packages[packageID] = p
	return p.pkg, nil
}

// Close closes a GeoPackage connection.
func (r *Repository) Close(_ context.Context, packageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.packages[packageID]
	if !ok {
		return nil
	}
	if err := p.db.Close(); err != nil {
		return err
	}
	delete(r.packages, packageID)
	return nil
}

func (r *Repository) get(packageID string) (*openPackage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.packages[packageID]
	if !ok {
		return nil, domain.ErrPackageNotFound
	}
	return p, nil
}

// Tables returns the contents of a GeoPackage with current index states.
func (r *Repository) Tables(ctx context.Context, packageID string) ([]domain.Table, error) {
	p, err := r.get(packageID)
	if err != nil {
		return nil, err
	}
	return r.tables(ctx, p)
}

func (r *Repository) tables(ctx context.Context, p *openPackage) ([]domain.Table, error) {
	tables, err := p.db.ListContents(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tables {
		if tables[i].DataType != domain.DataTypeFeatures {
			continue
		}
		ix, err := r.indexer(ctx, p, tables[i].Name)
		if err != nil {
			r.logger.Warn("skipping feature table", "table", tables[i].Name, "error", err)
			continue
		}
		st, err := ix.Status(ctx)
		if err != nil {
			return nil, err
		}
		tables[i].IndexState = indexState(st)
		tables[i].FeatureCount = st.Rows
	}
	return tables, nil
}

func indexState(st featureindex.Status) domain.IndexState {
	switch {
	case st.State == featureindex.Indexing:
		return domain.IndexStateIndexing
	case st.State == featureindex.Indexed && !st.Stale:
		return domain.IndexStateIndexed
	default:
		return domain.IndexStateNotIndexed
	}
}

func allIndexed(tables []domain.Table) bool {
	for _, t := range tables {
		if t.DataType == domain.DataTypeFeatures && t.IndexState != domain.IndexStateIndexed {
			return false
		}
	}
	return true
}

func (r *Repository) indexer(ctx context.Context, p *openPackage, table string) (*featureindex.Indexer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ix, ok := p.indexers[table]; ok {
		return ix, nil
	}
	opts := []featureindex.Option{featureindex.WithLogger(r.logger.With("package", p.pkg.ID))}
	if r.chunkSize > 0 {
		opts = append(opts, featureindex.WithChunkSize(r.chunkSize))
	}
	if r.projections != nil {
		opts = append(opts, featureindex.WithProjections(r.projections))
	}
	ix, err := featureindex.Open(ctx, p.db, table, opts...)
	if err != nil {
		return nil, err
	}
	p.indexers[table] = ix
	return ix, nil
}

func (p *openPackage) tileTable(ctx context.Context, table string) (*gpkg.TileTable, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.tiles[table]; ok {
		return t, nil
	}
	t, err := gpkg.OpenTileTable(ctx, p.db, table)
	if err != nil {
		return nil, err
	}
	p.tiles[table] = t
	return t, nil
}

func (p *openPackage) coverage(ctx context.Context, table string) (*coverage.Table, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.coverages[table]; ok {
		return c, nil
	}
	c, err := coverage.OpenTable(ctx, p.db, table)
	if err != nil {
		return nil, err
	}
	p.coverages[table] = c
	return c, nil
}

// IndexTable builds the geometry index of a feature table.
func (r *Repository) IndexTable(ctx context.Context, packageID, table string, force bool) (domain.IndexReport, error) {
	report := domain.IndexReport{PackageID: packageID, Table: table}
	p, err := r.get(packageID)
	if err != nil {
		return report, err
	}
	ix, err := r.indexer(ctx, p, table)
	if err != nil {
		return report, err
	}

	var res featureindex.IndexResult
	if force {
		res, err = ix.IndexTable(ctx, nil)
		res.Rebuilt = true
	} else {
		res, err = ix.EnsureIndexed(ctx, nil)
	}
	if err != nil {
		return report, err
	}

	report.Count = res.Count
	report.Skipped = res.Skipped
	report.Cancelled = res.Cancelled
	report.Rebuilt = res.Rebuilt
	report.Duration = res.Duration
	return report, nil
}

// QueryFeatures selects features of an indexed table. Geometries are
// reprojected when q.OutSRID differs from the table SRID.
func (r *Repository) QueryFeatures(ctx context.Context, packageID, table string, q domain.FeatureQuery) ([]domain.Feature, error) {
	p, err := r.get(packageID)
	if err != nil {
		return nil, err
	}
	ix, err := r.indexer(ctx, p, table)
	if err != nil {
		return nil, err
	}

	rows, err := ix.QueryFeatures(ctx, featureindex.Filter{
		BBox:    q.BBox,
		Fields:  q.Properties,
		OrderBy: gpkg.Quote(ix.Table().IDColumn()),
		Limit:   q.Limit,
		Offset:  q.Offset,
	})
	if err != nil {
		return nil, err
	}

	srid := ix.Table().SRID()
	features := make([]domain.Feature, 0, len(rows))
	for _, row := range rows {
		f, err := r.toFeature(ctx, row, table, srid, q.OutSRID)
		if err != nil {
			return nil, err
		}
		features = append(features, f)
	}
	return features, nil
}

func (r *Repository) toFeature(ctx context.Context, row gpkg.FeatureRow, table string, srid, outSRID int) (domain.Feature, error) {
	f := domain.Feature{ID: row.ID, Table: table, Properties: row.Values}
	data, err := row.Decode()
	if err != nil {
		r.logger.Warn("returning feature without geometry", "table", table, "id", row.ID, "error", err)
		return f, nil
	}
	if data == nil || data.Empty || data.Geometry.IsEmpty() {
		return f, nil
	}

	g := data.Geometry
	blob := row.Geometry
	if outSRID != 0 && outSRID != srid {
		if r.projections == nil {
			return f, &domain.ProjectionError{From: srid, To: outSRID}
		}
		o, err := geom.ToOrb(g)
		if err != nil {
			return f, err
		}
		o, err = r.projections.TransformGeometry(ctx, o, srid, outSRID)
		if err != nil {
			return f, err
		}
		if g, err = geom.FromOrb(o); err != nil {
			return f, err
		}
		if blob, err = geom.Encode(g, int32(outSRID), geom.EncodeOptions{}); err != nil {
			return f, err
		}
		srid = outSRID
	}

	wkt, err := geom.WKT(g)
	if err != nil {
		return f, err
	}
	env := g.Envelope().BoundingBox(srid)
	f.Geometry = domain.Geometry{
		Type:     g.Type().String(),
		WKT:      wkt,
		WKB:      blob,
		SRID:     srid,
		Envelope: &env,
	}
	return f, nil
}

// Tile reads one tile of a tile pyramid or coverage table.
func (r *Repository) Tile(ctx context.Context, packageID, table string, cell domain.GridCell) (domain.Tile, error) {
	p, err := r.get(packageID)
	if err != nil {
		return domain.Tile{}, err
	}
	t, err := p.tileTable(ctx, table)
	if err != nil {
		return domain.Tile{}, err
	}
	return t.Tile(ctx, p.db.SQL(), cell.Zoom, cell.Column, cell.Row)
}

// CoverageValue samples a gridded coverage at a position given in any
// supported projection.
func (r *Repository) CoverageValue(ctx context.Context, packageID, table string, at domain.Coordinate, interpolation string) (domain.CoverageValue, error) {
	out := domain.CoverageValue{PackageID: packageID, Table: table, Coordinate: at, NoData: true}
	interp, err := coverage.ParseInterpolation(interpolation)
	if err != nil {
		return out, err
	}
	p, err := r.get(packageID)
	if err != nil {
		return out, err
	}
	c, err := p.coverage(ctx, table)
	if err != nil {
		return out, err
	}
	out.UOM = c.Coverage().UOM

	pos := at
	if pos.SRID != 0 && pos.SRID != c.SRID() {
		if r.projections == nil {
			return out, &domain.ProjectionError{From: pos.SRID, To: c.SRID()}
		}
		if pos, err = r.projections.TransformCoordinate(ctx, pos, c.SRID()); err != nil {
			return out, err
		}
	}

	v, ok, err := c.Value(ctx, pos.X, pos.Y, interp)
	if err != nil {
		return out, err
	}
	out.Value, out.NoData = v, !ok
	return out, nil
}

// readDescription returns the first gpkg_metadata document, if the
// optional metadata extension is present.
func readDescription(ctx context.Context, db *sql.DB) string {
	var metadata string
	err := db.QueryRowContext(ctx, "SELECT metadata FROM gpkg_metadata ORDER BY id LIMIT 1").Scan(&metadata)
	if err != nil {
		return ""
	}
	return metadata
}

// DerivePackageID extracts a package ID from a file path.
func DerivePackageID(path string) string {
	base := filepath.Base(path)
	if base == "." || base == "/" {
		return ""
	}
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}
