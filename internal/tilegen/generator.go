package tilegen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jobrunner/geopack/internal/domain"
	"github.com/jobrunner/geopack/internal/gpkg"
	"github.com/jobrunner/geopack/internal/projection"
	"github.com/jobrunner/geopack/internal/tilegrid"
)

// Format selects how tiles are addressed inside the table.
type Format string

const (
	// FormatGeoPackage stores tiles relative to a matrix set that is the
	// world grid cropped to the bbox at the minimum zoom.
	FormatGeoPackage Format = "geopackage"
	// FormatXYZ stores world tile addresses with a world matrix set.
	FormatXYZ Format = "xyz"
)

const (
	defaultTileSize  = 256
	defaultBatchSize = 256
)

// Config describes one pyramid build.
type Config struct {
	Table       string
	Description string
	MinZoom     int
	MaxZoom     int
	// BBox may be in any projection the registry supports. SRID 0 means
	// the tiling projection.
	BBox domain.BoundingBox
	// SRID is the tiling projection: 3857 (default), 900913 or 4326.
	SRID   int
	Format Format
	// ImageFormat re-encodes source tiles when set.
	ImageFormat string
	Quality     int
	TileSize    int
}

func (c *Config) setDefaults() {
	if c.SRID == 0 {
		c.SRID = domain.SRIDWebMercator
	}
	if c.Format == "" {
		c.Format = FormatGeoPackage
	}
	if c.TileSize <= 0 {
		c.TileSize = defaultTileSize
	}
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	var errs []error
	if c.Table == "" {
		errs = append(errs, &domain.ValidationError{Field: "table", Message: "is required"})
	}
	if c.MinZoom < 0 || c.MaxZoom < c.MinZoom || c.MaxZoom > tilegrid.DefaultMaxZoom {
		errs = append(errs, &domain.ValidationError{
			Field:   "zoom",
			Message: fmt.Sprintf("range %d..%d must lie within 0..%d", c.MinZoom, c.MaxZoom, tilegrid.DefaultMaxZoom),
		})
	}
	if err := c.BBox.Validate(); err != nil {
		errs = append(errs, &domain.ValidationError{Field: "bbox", Message: err.Error()})
	}
	switch c.Format {
	case "", FormatGeoPackage, FormatXYZ:
	default:
		errs = append(errs, &domain.ValidationError{Field: "format", Message: fmt.Sprintf("unknown tile format %q", c.Format)})
	}
	return errors.Join(errs...)
}

// ProgressFunc reports processed cells out of the total for the build.
type ProgressFunc func(processed, total int64)

// Result summarizes a build. Skipped counts cells the source had nothing
// for; Failed counts cells whose fetch or encode failed.
type Result struct {
	Count     int64
	Skipped   int64
	Failed    int64
	Cancelled bool
	Duration  time.Duration
}

// Generator builds a tile pyramid into a GeoPackage tile table.
type Generator struct {
	db          *gpkg.DB
	source      Source
	cfg         Config
	logger      *slog.Logger
	projections *projection.Registry
	codec       ImageCodec
	batchSize   int
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// WithProjections sets the registry used to bring the bbox into the
// tiling projection. The default knows the built-in projections only.
func WithProjections(r *projection.Registry) Option {
	return func(g *Generator) { g.projections = r }
}

// WithBatchSize sets how many tiles are written per transaction.
func WithBatchSize(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.batchSize = n
		}
	}
}

// New validates cfg and returns a generator writing into db.
func New(db *gpkg.DB, source Source, cfg Config, opts ...Option) (*Generator, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, &domain.ValidationError{Field: "source", Message: "is required"}
	}
	g := &Generator{
		db:        db,
		source:    source,
		cfg:       cfg,
		logger:    slog.Default(),
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.projections == nil {
		r, err := projection.NewRegistry(0)
		if err != nil {
			return nil, err
		}
		g.projections = r
	}
	if cfg.ImageFormat != "" {
		c, err := CodecFor(cfg.ImageFormat, cfg.Quality)
		if err != nil {
			return nil, err
		}
		g.codec = c
	}
	if _, err := tilegrid.SchemeFor(cfg.SRID); err != nil {
		return nil, err
	}
	return g, nil
}

// plan is the resolved geometry of a build.
type plan struct {
	scheme tilegrid.Scheme
	bbox   domain.BoundingBox // in the tiling projection, clipped to the world
	// origin is the world grid at zoom covering the bbox and any tiles
	// already in the table; relative tables are offset by its top left
	// cell.
	origin tilegrid.Grid
	zoom   int
	bounds domain.BoundingBox // tile matrix set extent
	total  int64
}

func (g *Generator) plan(ctx context.Context) (plan, error) {
	scheme, err := tilegrid.SchemeFor(g.cfg.SRID)
	if err != nil {
		return plan{}, err
	}
	bbox := g.cfg.BBox
	if bbox.SRID != 0 && bbox.SRID != scheme.SRID {
		if bbox, err = g.projections.TransformBBox(ctx, bbox, scheme.SRID); err != nil {
			return plan{}, err
		}
	}
	bbox.SRID = scheme.SRID
	clipped, ok := bbox.Intersection(scheme.Bounds)
	if !ok {
		return plan{}, fmt.Errorf("bbox %s outside %s: %w", bbox, scheme.Name, domain.ErrInvalidBoundingBox)
	}
	clipped.SRID = scheme.SRID

	p := plan{scheme: scheme, bbox: clipped, zoom: g.cfg.MinZoom}
	cover := clipped
	if err := g.mergeExisting(ctx, &p, &cover); err != nil {
		return plan{}, err
	}
	p.origin = scheme.Grid(cover, p.zoom)
	if g.cfg.Format == FormatXYZ {
		p.bounds = scheme.Bounds
	} else {
		p.bounds = scheme.GridBounds(p.origin, p.zoom)
	}
	p.bounds.SRID = scheme.SRID
	for z := g.cfg.MinZoom; z <= g.cfg.MaxZoom; z++ {
		p.total += scheme.Grid(clipped, z).Count()
	}
	return p, nil
}

// mergeExisting widens the plan to keep the tiles of an existing table
// addressable. The matrix set grows to cover the stored bounds as well and
// is anchored at the lowest zoom level of either.
func (g *Generator) mergeExisting(ctx context.Context, p *plan, cover *domain.BoundingBox) error {
	tms, err := g.db.TileMatrixSet(ctx, g.cfg.Table)
	if errors.Is(err, domain.ErrTableNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if tms.SRID != p.scheme.SRID {
		return &domain.ValidationError{
			Field:   "srid",
			Message: fmt.Sprintf("table %s is tiled in srs %d, not %d", g.cfg.Table, tms.SRID, p.scheme.SRID),
		}
	}
	matrices, err := g.db.TileMatrices(ctx, g.cfg.Table)
	if err != nil {
		return err
	}
	for _, tm := range matrices {
		if tm.ZoomLevel >= g.cfg.MinZoom && tm.ZoomLevel <= g.cfg.MaxZoom &&
			(tm.TileWidth != g.cfg.TileSize || tm.TileHeight != g.cfg.TileSize) {
			return &domain.ValidationError{
				Field:   "tile_size",
				Message: fmt.Sprintf("zoom %d of table %s holds %dx%d tiles", tm.ZoomLevel, g.cfg.Table, tm.TileWidth, tm.TileHeight),
			}
		}
	}
	if len(matrices) > 0 {
		p.zoom = min(p.zoom, matrices[0].ZoomLevel)
	}
	merged, ok := cover.Union(tms.BoundingBox).Intersection(p.scheme.Bounds)
	if ok {
		merged.SRID = p.scheme.SRID
		*cover = merged
	}
	return nil
}

// TileCount returns the number of cells a build visits.
func (g *Generator) TileCount(ctx context.Context) (int64, error) {
	p, err := g.plan(ctx)
	if err != nil {
		return 0, err
	}
	return p.total, nil
}

// matrix returns the gpkg_tile_matrix row for zoom.
func (g *Generator) matrix(p plan, zoom int) domain.TileMatrix {
	w, h := p.scheme.MatrixSize(zoom)
	if g.cfg.Format != FormatXYZ {
		shift := zoom - p.zoom
		w, h = p.origin.Width()<<shift, p.origin.Height()<<shift
	}
	return tilegrid.NewTileMatrix(g.cfg.Table, zoom, p.bounds, w, h, g.cfg.TileSize, g.cfg.TileSize)
}

// address maps a world cell to the table's column and row.
func (g *Generator) address(p plan, c domain.GridCell) (int, int) {
	if g.cfg.Format == FormatXYZ {
		return c.Column, c.Row
	}
	shift := c.Zoom - p.zoom
	return c.Column - p.origin.MinColumn<<shift, c.Row - p.origin.MinRow<<shift
}

// Generate fetches every cell of every zoom level and stores the tiles.
// Cells the source has nothing for and cells whose fetch fails are left
// out. Each zoom level gets a tile matrix row. Cancellation is checked
// between cells; tiles fetched so far are kept and the partial result is
// returned without error.
func (g *Generator) Generate(ctx context.Context, progress ProgressFunc) (Result, error) {
	started := time.Now()
	var res Result
	p, err := g.plan(ctx)
	if err != nil {
		return res, err
	}
	work := context.WithoutCancel(ctx)

	extent := p.bbox
	table, err := gpkg.CreateTileTable(work, g.db, gpkg.TileTableSpec{
		Name:        g.cfg.Table,
		DataType:    domain.DataTypeTiles,
		SRID:        p.scheme.SRID,
		Bounds:      p.bounds,
		Extent:      &extent,
		Description: g.cfg.Description,
	})
	if err != nil {
		return res, err
	}

	g.logger.Info("generating tiles",
		"table", g.cfg.Table,
		"zooms", fmt.Sprintf("%d-%d", g.cfg.MinZoom, g.cfg.MaxZoom),
		"cells", p.total,
		"format", string(g.cfg.Format),
	)

	var processed int64
	for z := g.cfg.MinZoom; z <= g.cfg.MaxZoom && !res.Cancelled; z++ {
		matrix := g.matrix(p, z)
		batch := make([]domain.Tile, 0, g.batchSize)
		flush := func(final bool) error {
			if len(batch) == 0 && !final {
				return nil
			}
			err := g.db.InTx(work, func(tx *sql.Tx) error {
				if final {
					if err := gpkg.PutTileMatrix(work, tx, matrix); err != nil {
						return err
					}
				}
				for _, t := range batch {
					if _, err := table.PutTile(work, tx, t); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			res.Count += int64(len(batch))
			batch = batch[:0]
			return nil
		}

		grid := p.scheme.Grid(p.bbox, z)
	cells:
		for r := grid.MinRow; r <= grid.MaxRow; r++ {
			for c := grid.MinColumn; c <= grid.MaxColumn; c++ {
				if ctx.Err() != nil {
					res.Cancelled = true
					break cells
				}
				cell := domain.GridCell{Zoom: z, Column: c, Row: r}
				data, ok := g.fetch(ctx, p, cell, &res)
				if ctx.Err() != nil && !ok {
					res.Cancelled = true
					break cells
				}
				processed++
				if progress != nil {
					progress(processed, p.total)
				}
				if !ok {
					continue
				}
				col, row := g.address(p, cell)
				batch = append(batch, domain.Tile{ZoomLevel: z, Column: col, Row: row, Data: data})
				if len(batch) >= g.batchSize {
					if err := flush(false); err != nil {
						return res, err
					}
				}
			}
		}
		if err := flush(true); err != nil {
			return res, err
		}
	}

	res.Duration = time.Since(started)
	g.logger.Info("tile generation finished",
		"table", g.cfg.Table,
		"tiles", res.Count,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"cancelled", res.Cancelled,
		"duration", res.Duration,
	)
	return res, nil
}

// fetch loads one cell, counting skips and failures in res.
func (g *Generator) fetch(ctx context.Context, p plan, cell domain.GridCell, res *Result) ([]byte, bool) {
	bounds := p.scheme.CellBounds(cell.Column, cell.Row, cell.Zoom)
	bounds.SRID = p.scheme.SRID
	req := Request{Cell: cell, Bounds: bounds, LonLat: bounds, Width: g.cfg.TileSize, Height: g.cfg.TileSize}
	if p.scheme.SRID != domain.SRIDWGS84 {
		if ll, err := g.projections.TransformBBox(ctx, bounds, domain.SRIDWGS84); err == nil {
			req.LonLat = ll
		}
	}

	data, err := g.source.Fetch(ctx, req)
	switch {
	case errors.Is(err, ErrNoTile):
		res.Skipped++
		return nil, false
	case err != nil:
		if ctx.Err() == nil {
			res.Failed++
			g.logger.Warn("skipping tile after fetch failure",
				"table", g.cfg.Table, "z", cell.Zoom, "x", cell.Column, "y", cell.Row, "error", err)
		}
		return nil, false
	}
	if g.codec != nil {
		if data, err = Transcode(data, g.codec); err != nil {
			res.Failed++
			g.logger.Warn("skipping undecodable tile",
				"table", g.cfg.Table, "z", cell.Zoom, "x", cell.Column, "y", cell.Row, "error", err)
			return nil, false
		}
	}
	return data, true
}
