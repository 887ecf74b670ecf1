package coverage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/jobrunner/geopack/internal/domain"
	"github.com/jobrunner/geopack/internal/gpkg"
	"github.com/jobrunner/geopack/internal/tilegrid"
)

// Interpolation selects how Value samples between pixel centres.
type Interpolation int

const (
	Nearest Interpolation = iota
	Bilinear
)

// ParseInterpolation maps a name to an Interpolation.
func ParseInterpolation(s string) (Interpolation, error) {
	switch s {
	case "", "nearest":
		return Nearest, nil
	case "bilinear":
		return Bilinear, nil
	default:
		return Nearest, fmt.Errorf("interpolation %q: %w", s, domain.ErrInvalidInput)
	}
}

// TableSpec describes a coverage table to create.
type TableSpec struct {
	Name        string
	Description string
	SRID        int
	// Bounds is the tile matrix set extent.
	Bounds   domain.BoundingBox
	Coverage domain.GriddedCoverage
	// Matrices defaults to a single tile at MinZoom doubling up to MaxZoom.
	Matrices         []domain.TileMatrix
	MinZoom, MaxZoom int
	TileWidth        int
	TileHeight       int
}

// Table reads and writes the tiles of one gridded coverage.
type Table struct {
	db       *gpkg.DB
	tiles    *gpkg.TileTable
	coverage domain.GriddedCoverage
	bounds   domain.BoundingBox
	codec    ImageCodec
	matrices map[int]domain.TileMatrix
	maxZoom  int
}

// TileValues is a decoded coverage tile.
type TileValues struct {
	Cell   domain.GridCell
	Width  int
	Height int
	// Values holds real-world values row by row; NaN marks no-data.
	Values []float64
	Stats  domain.GriddedTile
}

// At returns the value at pixel (x, y).
func (v TileValues) At(x, y int) float64 {
	return v.Values[y*v.Width+x]
}

// CreateTable creates a coverage table with its ancillary and tile matrix
// rows.
func CreateTable(ctx context.Context, db *gpkg.DB, spec TableSpec) (*Table, error) {
	c := spec.Coverage
	c.TableName = spec.Name
	if c.DataType == "" {
		c.DataType = domain.CoverageInteger
	}
	if _, err := NewTransform(c, nil); err != nil {
		return nil, err
	}
	if spec.TileWidth <= 0 {
		spec.TileWidth = 256
	}
	if spec.TileHeight <= 0 {
		spec.TileHeight = spec.TileWidth
	}
	matrices := spec.Matrices
	if len(matrices) == 0 {
		for z := spec.MinZoom; z <= max(spec.MinZoom, spec.MaxZoom); z++ {
			n := 1 << (z - spec.MinZoom)
			matrices = append(matrices, tilegrid.NewTileMatrix(spec.Name, z, spec.Bounds, n, n, spec.TileWidth, spec.TileHeight))
		}
	}

	if _, err := gpkg.CreateTileTable(ctx, db, gpkg.TileTableSpec{
		Name:        spec.Name,
		DataType:    domain.DataTypeGriddedCoverage,
		SRID:        spec.SRID,
		Bounds:      spec.Bounds,
		Description: spec.Description,
	}); err != nil {
		return nil, err
	}
	err := db.InTx(ctx, func(tx *sql.Tx) error {
		if err := gpkg.PutGriddedCoverage(ctx, tx, c); err != nil {
			return err
		}
		for _, tm := range matrices {
			tm.TableName = spec.Name
			if err := gpkg.PutTileMatrix(ctx, tx, tm); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return OpenTable(ctx, db, spec.Name)
}

// OpenTable binds an existing coverage table.
func OpenTable(ctx context.Context, db *gpkg.DB, name string) (*Table, error) {
	tiles, err := gpkg.OpenTileTable(ctx, db, name)
	if err != nil {
		return nil, err
	}
	if tiles.Info().DataType != domain.DataTypeGriddedCoverage {
		return nil, &domain.StoreError{
			Op:    "open coverage",
			Table: name,
			Err:   fmt.Errorf("%s is not a coverage: %w", tiles.Info().DataType, domain.ErrInvalidInput),
		}
	}
	c, err := db.GriddedCoverage(ctx, name)
	if err != nil {
		return nil, err
	}
	codec, err := CodecFor(c.DataType)
	if err != nil {
		return nil, err
	}
	tms, err := db.TileMatrixSet(ctx, name)
	if err != nil {
		return nil, err
	}
	list, err := db.TileMatrices(ctx, name)
	if err != nil {
		return nil, err
	}
	t := &Table{
		db:       db,
		tiles:    tiles,
		coverage: c,
		bounds:   tms.BoundingBox,
		codec:    codec,
		matrices: make(map[int]domain.TileMatrix, len(list)),
		maxZoom:  -1,
	}
	for _, tm := range list {
		t.matrices[tm.ZoomLevel] = tm
		t.maxZoom = max(t.maxZoom, tm.ZoomLevel)
	}
	return t, nil
}

// Name returns the table name.
func (t *Table) Name() string { return t.tiles.Name() }

// Coverage returns the coverage ancillary row.
func (t *Table) Coverage() domain.GriddedCoverage { return t.coverage }

// Bounds returns the tile matrix set extent.
func (t *Table) Bounds() domain.BoundingBox { return t.bounds }

// SRID returns the spatial reference of the coverage.
func (t *Table) SRID() int { return t.tiles.Info().SRID }

// MaxZoom returns the highest zoom level with a tile matrix, or -1.
func (t *Table) MaxZoom() int { return t.maxZoom }

func (t *Table) matrix(zoom int) (domain.TileMatrix, error) {
	tm, ok := t.matrices[zoom]
	if !ok {
		return tm, &domain.StoreError{
			Op:    "tile matrix",
			Table: t.Name(),
			Err:   fmt.Errorf("zoom %d: %w", zoom, domain.ErrTileNotFound),
		}
	}
	return tm, nil
}

// TileOption adjusts a tile write.
type TileOption func(*domain.GriddedTile)

// WithTileTransform stores the tile with its own scale and offset.
func WithTileTransform(scale, offset float64) TileOption {
	return func(gt *domain.GriddedTile) {
		gt.Scale = domain.Float64(scale)
		gt.Offset = domain.Float64(offset)
	}
}

// WriteTile encodes row-major values for one cell and stores the tile with
// its ancillary row and statistics. NaN values become no-data. An existing
// tile at the cell is replaced.
func (t *Table) WriteTile(ctx context.Context, cell domain.GridCell, values []float64, opts ...TileOption) (int64, error) {
	tm, err := t.matrix(cell.Zoom)
	if err != nil {
		return 0, err
	}
	if cell.Column < 0 || cell.Row < 0 || cell.Column >= tm.MatrixWidth || cell.Row >= tm.MatrixHeight {
		return 0, &domain.InvalidCoverageParametersError{
			Field:  "cell",
			Value:  cell,
			Reason: fmt.Sprintf("outside the %dx%d matrix", tm.MatrixWidth, tm.MatrixHeight),
		}
	}
	if len(values) != tm.TileWidth*tm.TileHeight {
		return 0, &domain.InvalidCoverageParametersError{
			Field:  "values",
			Value:  len(values),
			Reason: fmt.Sprintf("tile is %dx%d", tm.TileWidth, tm.TileHeight),
		}
	}

	gt := domain.GriddedTile{TableName: t.Name()}
	for _, opt := range opts {
		opt(&gt)
	}
	tr, err := NewTransform(t.coverage, &gt)
	if err != nil {
		return 0, err
	}
	data, err := EncodeValues(t.codec, tr, values, tm.TileWidth)
	if err != nil {
		return 0, err
	}
	gt.Min, gt.Max, gt.Mean, gt.StandardDeviation = Stats(values)

	var id int64
	err = t.db.InTx(ctx, func(tx *sql.Tx) error {
		old, err := t.tiles.Tile(ctx, tx, cell.Zoom, cell.Column, cell.Row)
		switch {
		case err == nil:
			// the replaced row gets a new id
			if err := gpkg.DeleteGriddedTile(ctx, tx, t.Name(), old.ID); err != nil {
				return err
			}
		case !errors.Is(err, domain.ErrTileNotFound):
			return err
		}
		id, err = t.tiles.PutTile(ctx, tx, domain.Tile{
			ZoomLevel: cell.Zoom,
			Column:    cell.Column,
			Row:       cell.Row,
			Data:      data,
		})
		if err != nil {
			return err
		}
		gt.TileID = id
		return gpkg.PutGriddedTile(ctx, tx, gt)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ReadTile decodes the tile at cell.
func (t *Table) ReadTile(ctx context.Context, cell domain.GridCell) (TileValues, error) {
	tile, err := t.tiles.Tile(ctx, t.db.SQL(), cell.Zoom, cell.Column, cell.Row)
	if err != nil {
		return TileValues{}, err
	}
	gt, err := t.db.GriddedTile(ctx, t.Name(), tile.ID)
	if err != nil {
		return TileValues{}, err
	}
	tr, err := NewTransform(t.coverage, gt)
	if err != nil {
		return TileValues{}, err
	}
	values, width, err := DecodeValues(t.codec, tr, tile.Data)
	if err != nil {
		return TileValues{}, err
	}
	out := TileValues{Cell: cell, Width: width, Height: len(values) / width, Values: values}
	if gt != nil {
		out.Stats = *gt
	}
	return out, nil
}

// Value samples the coverage at (x, y) in the coverage projection using the
// highest zoom level. ok is false outside the coverage or on no-data.
func (t *Table) Value(ctx context.Context, x, y float64, interp Interpolation) (value float64, ok bool, err error) {
	s, err := t.newSampler(t.maxZoom)
	if err != nil {
		return math.NaN(), false, err
	}
	v, err := s.at(ctx, x, y, interp)
	if err != nil {
		return math.NaN(), false, err
	}
	return v, !math.IsNaN(v), nil
}

// Values samples a width x height grid of cell centres over bbox, row 0 at
// the top. No-data cells are NaN.
func (t *Table) Values(ctx context.Context, bbox domain.BoundingBox, width, height int, interp Interpolation) ([]float64, error) {
	if width <= 0 || height <= 0 {
		return nil, &domain.InvalidCoverageParametersError{
			Field:  "dimensions",
			Value:  fmt.Sprintf("%dx%d", width, height),
			Reason: "width and height must be positive",
		}
	}
	s, err := t.newSampler(t.maxZoom)
	if err != nil {
		return nil, err
	}
	dx := bbox.Width() / float64(width)
	dy := bbox.Height() / float64(height)
	out := make([]float64, 0, width*height)
	for r := 0; r < height; r++ {
		y := bbox.MaxY - (float64(r)+0.5)*dy
		for c := 0; c < width; c++ {
			x := bbox.MinX + (float64(c)+0.5)*dx
			v, err := s.at(ctx, x, y, interp)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
	return out, nil
}

// sampler reads pixels across tile boundaries of one zoom level, decoding
// each tile once.
type sampler struct {
	t      *Table
	tm     domain.TileMatrix
	center bool
	tiles  map[[2]int]*TileValues
}

func (t *Table) newSampler(zoom int) (*sampler, error) {
	tm, err := t.matrix(zoom)
	if err != nil {
		return nil, err
	}
	return &sampler{
		t:      t,
		tm:     tm,
		center: t.coverage.GridCellEncoding != "grid-value-is-corner",
		tiles:  make(map[[2]int]*TileValues),
	}, nil
}

// pixel returns the value of global pixel (px, py), NaN when missing.
func (s *sampler) pixel(ctx context.Context, px, py int) (float64, error) {
	tw, th := s.tm.TileWidth, s.tm.TileHeight
	if px < 0 || py < 0 || px >= s.tm.MatrixWidth*tw || py >= s.tm.MatrixHeight*th {
		return math.NaN(), nil
	}
	key := [2]int{px / tw, py / th}
	tv, ok := s.tiles[key]
	if !ok {
		v, err := s.t.ReadTile(ctx, domain.GridCell{Zoom: s.tm.ZoomLevel, Column: key[0], Row: key[1]})
		switch {
		case err == nil:
			tv = &v
		case !errors.Is(err, domain.ErrTileNotFound):
			return math.NaN(), err
		}
		s.tiles[key] = tv
	}
	if tv == nil {
		return math.NaN(), nil
	}
	x, y := px%tw, py%th
	if x >= tv.Width || y >= tv.Height {
		return math.NaN(), nil
	}
	return tv.At(x, y), nil
}

func (s *sampler) at(ctx context.Context, x, y float64, interp Interpolation) (float64, error) {
	b := s.t.bounds
	if x < b.MinX || x > b.MaxX || y < b.MinY || y > b.MaxY {
		return math.NaN(), nil
	}
	// continuous pixel coordinates
	fx := (x - b.MinX) / s.tm.PixelXSize
	fy := (b.MaxY - y) / s.tm.PixelYSize
	if s.center {
		fx -= 0.5
		fy -= 0.5
	}

	if interp == Nearest {
		maxX := s.tm.MatrixWidth*s.tm.TileWidth - 1
		maxY := s.tm.MatrixHeight*s.tm.TileHeight - 1
		px := min(max(int(math.Round(fx)), 0), maxX)
		py := min(max(int(math.Round(fy)), 0), maxY)
		return s.pixel(ctx, px, py)
	}

	x0, y0 := math.Floor(fx), math.Floor(fy)
	ax, ay := fx-x0, fy-y0
	var sum, weight float64
	for _, n := range [4]struct {
		dx, dy int
		w      float64
	}{
		{0, 0, (1 - ax) * (1 - ay)},
		{1, 0, ax * (1 - ay)},
		{0, 1, (1 - ax) * ay},
		{1, 1, ax * ay},
	} {
		if n.w == 0 {
			continue
		}
		v, err := s.pixel(ctx, int(x0)+n.dx, int(y0)+n.dy)
		if err != nil {
			return math.NaN(), err
		}
		if math.IsNaN(v) {
			continue
		}
		sum += v * n.w
		weight += n.w
	}
	if weight == 0 {
		return math.NaN(), nil
	}
	return sum / weight, nil
}
