package gpkg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/jobrunner/geopack/internal/domain"
)

// TileSchema is the fixed layout of a tile pyramid user table.
func TileSchema(name string) Schema {
	return Schema{
		Table: name,
		Columns: []Column{
			{Name: "id", Type: "INTEGER", PrimaryKey: true},
			{Name: "zoom_level", Type: "INTEGER", NotNull: true},
			{Name: "tile_column", Type: "INTEGER", NotNull: true},
			{Name: "tile_row", Type: "INTEGER", NotNull: true},
			{Name: "tile_data", Type: "BLOB", NotNull: true},
		},
		Unique: [][]string{{"zoom_level", "tile_column", "tile_row"}},
	}
}

// TileTable reads and writes a tile pyramid table.
type TileTable struct {
	*Table
	info domain.Table
}

// TileTableSpec describes a tile or coverage table to create.
type TileTableSpec struct {
	Name        string
	DataType    domain.DataType // tiles or 2d-gridded-coverage
	SRID        int
	Bounds      domain.BoundingBox  // tile matrix set bounds
	Extent      *domain.BoundingBox // contents bounds, defaults to Bounds
	Description string
}

// CreateTileTable creates a tile table with its contents and tile matrix
// set rows. Existing tables are reused: the recorded extent grows to cover
// spec.Extent and the matrix set becomes spec.Bounds. When those bounds
// differ from the stored ones, every stored zoom level is re-addressed
// onto the new set; the new bounds must contain the old ones and be made
// of whole tiles at every stored level.
func CreateTileTable(ctx context.Context, db *DB, spec TileTableSpec) (*TileTable, error) {
	if spec.DataType == "" {
		spec.DataType = domain.DataTypeTiles
	}
	if spec.Extent == nil {
		b := spec.Bounds
		spec.Extent = &b
	}
	t := NewTable(db, TileSchema(spec.Name))
	err := db.InTx(ctx, func(tx *sql.Tx) error {
		exists, err := tableExists(ctx, tx, spec.Name)
		if err != nil {
			return err
		}
		if err := t.Create(ctx, tx); err != nil {
			return err
		}
		if !exists {
			info := domain.Table{
				Name:        spec.Name,
				DataType:    spec.DataType,
				Description: spec.Description,
				SRID:        spec.SRID,
				Extent:      spec.Extent,
			}
			if err := AddContents(ctx, tx, info, db.Now()); err != nil {
				return err
			}
		} else {
			if err := widenExtent(ctx, tx, spec.Name, *spec.Extent); err != nil {
				return err
			}
			if err := regrid(ctx, tx, spec.Name, spec.SRID, spec.Bounds); err != nil {
				return err
			}
		}
		return PutTileMatrixSet(ctx, tx, domain.TileMatrixSet{
			TableName:   spec.Name,
			SRID:        spec.SRID,
			BoundingBox: spec.Bounds,
		})
	})
	if err != nil {
		return nil, err
	}
	return OpenTileTable(ctx, db, spec.Name)
}

func widenExtent(ctx context.Context, q Querier, table string, b domain.BoundingBox) error {
	var minX, minY, maxX, maxY sql.NullFloat64
	err := q.QueryRowContext(ctx,
		"SELECT min_x, min_y, max_x, max_y FROM gpkg_contents WHERE table_name = ?", table,
	).Scan(&minX, &minY, &maxX, &maxY)
	if err != nil {
		return storeErr("read extent", table, err)
	}
	if minX.Valid && minY.Valid && maxX.Valid && maxY.Valid {
		b = b.Union(domain.BoundingBox{MinX: minX.Float64, MinY: minY.Float64, MaxX: maxX.Float64, MaxY: maxY.Float64})
	}
	return UpdateExtent(ctx, q, table, b)
}

// regrid moves the stored zoom levels of table onto a matrix set with the
// given bounds. Tile spans stay fixed, so each level only gains columns and
// rows and its tiles shift by the offset of the old top left corner.
func regrid(ctx context.Context, q Querier, table string, srid int, bounds domain.BoundingBox) error {
	old, err := tileMatrixSet(ctx, q, table)
	if errors.Is(err, domain.ErrTableNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	ob := old.BoundingBox
	if ob.MinX == bounds.MinX && ob.MinY == bounds.MinY && ob.MaxX == bounds.MaxX && ob.MaxY == bounds.MaxY {
		return nil
	}
	if old.SRID != srid {
		return &domain.StoreError{Op: "regrid tiles", Table: table,
			Err: fmt.Errorf("matrix set srs %d differs from %d: %w", old.SRID, srid, domain.ErrInvalidInput)}
	}
	matrices, err := tileMatrices(ctx, q, table)
	if err != nil {
		return err
	}
	for _, tm := range matrices {
		if tm.MatrixWidth <= 0 || tm.MatrixHeight <= 0 {
			continue
		}
		spanX := ob.Width() / float64(tm.MatrixWidth)
		spanY := ob.Height() / float64(tm.MatrixHeight)
		dx, okX := wholeTiles(ob.MinX-bounds.MinX, spanX)
		dy, okY := wholeTiles(bounds.MaxY-ob.MaxY, spanY)
		w, okW := wholeTiles(bounds.Width(), spanX)
		h, okH := wholeTiles(bounds.Height(), spanY)
		if !okX || !okY || !okW || !okH || dx < 0 || dy < 0 || dx+tm.MatrixWidth > w || dy+tm.MatrixHeight > h {
			return &domain.StoreError{Op: "regrid tiles", Table: table,
				Err: fmt.Errorf("zoom %d does not fit matrix set %s: %w", tm.ZoomLevel, bounds, domain.ErrInvalidInput)}
		}
		if dx != 0 || dy != 0 {
			if err := shiftTiles(ctx, q, table, tm.ZoomLevel, dx, dy); err != nil {
				return err
			}
		}
		tm.MatrixWidth, tm.MatrixHeight = w, h
		if err := PutTileMatrix(ctx, q, tm); err != nil {
			return err
		}
	}
	return nil
}

// wholeTiles returns length/span when it is an integer within rounding.
func wholeTiles(length, span float64) (int, bool) {
	if span <= 0 {
		return 0, false
	}
	n := length / span
	r := math.Round(n)
	return int(r), math.Abs(n-r) < 1e-6
}

// shiftTiles adds (dx, dy) to the addresses of one zoom level. Addresses
// pass through negative values so the unique index never sees two tiles
// on the same cell mid-update. dx and dy must not be negative.
func shiftTiles(ctx context.Context, q Querier, table string, zoom, dx, dy int) error {
	name := Quote(table)
	_, err := q.ExecContext(ctx, fmt.Sprintf( //#nosec G201 -- identifier is quoted
		"UPDATE %s SET tile_column = -1 - (tile_column + ?), tile_row = -1 - (tile_row + ?) WHERE zoom_level = ?",
		name), dx, dy, zoom)
	if err != nil {
		return &domain.StoreError{Op: "shift tiles", Table: table, Err: err}
	}
	_, err = q.ExecContext(ctx, fmt.Sprintf( //#nosec G201 -- identifier is quoted
		"UPDATE %s SET tile_column = -1 - tile_column, tile_row = -1 - tile_row WHERE zoom_level = ?",
		name), zoom)
	return storeErr("shift tiles", table, err)
}

// OpenTileTable binds an existing tile or coverage table.
func OpenTileTable(ctx context.Context, db *DB, name string) (*TileTable, error) {
	info, err := db.Contents(ctx, name)
	if err != nil {
		return nil, err
	}
	if info.DataType != domain.DataTypeTiles && info.DataType != domain.DataTypeGriddedCoverage {
		return nil, &domain.StoreError{
			Op:    "open tile table",
			Table: name,
			Err:   fmt.Errorf("%s is not a tile table: %w", info.DataType, domain.ErrInvalidInput),
		}
	}
	return &TileTable{Table: NewTable(db, TileSchema(name)), info: info}, nil
}

// Info returns the catalog entry.
func (t *TileTable) Info() domain.Table { return t.info }

// PutTile inserts or replaces the tile at (zoom, column, row) and returns
// its id.
func (t *TileTable) PutTile(ctx context.Context, q Querier, tile domain.Tile) (int64, error) {
	res, err := q.ExecContext(ctx, fmt.Sprintf( //#nosec G201 -- identifier is quoted
		"INSERT OR REPLACE INTO %s (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)",
		Quote(t.Name())), tile.ZoomLevel, tile.Column, tile.Row, tile.Data)
	if err != nil {
		return 0, &domain.StoreError{Op: "put tile", Table: t.Name(), Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &domain.StoreError{Op: "put tile", Table: t.Name(), Err: err}
	}
	return id, nil
}

// Tile reads the tile at (zoom, column, row).
func (t *TileTable) Tile(ctx context.Context, q Querier, zoom, column, row int) (domain.Tile, error) {
	tile := domain.Tile{ZoomLevel: zoom, Column: column, Row: row}
	err := q.QueryRowContext(ctx, fmt.Sprintf( //#nosec G201 -- identifier is quoted
		"SELECT id, tile_data FROM %s WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?",
		Quote(t.Name())), zoom, column, row).Scan(&tile.ID, &tile.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return tile, fmt.Errorf("%s %d/%d/%d: %w", t.Name(), zoom, column, row, domain.ErrTileNotFound)
	}
	if err != nil {
		return tile, &domain.StoreError{Op: "get tile", Table: t.Name(), Err: err}
	}
	return tile, nil
}

// TileByID reads a tile by its row id.
func (t *TileTable) TileByID(ctx context.Context, q Querier, id int64) (domain.Tile, error) {
	tile := domain.Tile{ID: id}
	err := q.QueryRowContext(ctx, fmt.Sprintf( //#nosec G201 -- identifier is quoted
		"SELECT zoom_level, tile_column, tile_row, tile_data FROM %s WHERE id = ?",
		Quote(t.Name())), id).Scan(&tile.ZoomLevel, &tile.Column, &tile.Row, &tile.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return tile, fmt.Errorf("%s id %d: %w", t.Name(), id, domain.ErrTileNotFound)
	}
	if err != nil {
		return tile, &domain.StoreError{Op: "get tile", Table: t.Name(), Err: err}
	}
	return tile, nil
}

// DeleteTile removes one tile.
func (t *TileTable) DeleteTile(ctx context.Context, q Querier, zoom, column, row int) (int64, error) {
	return t.DeleteWhere(ctx, q, "zoom_level = ? AND tile_column = ? AND tile_row = ?", zoom, column, row)
}

// CountTiles returns the number of tiles, optionally for one zoom level
// (zoom < 0 counts all).
func (t *TileTable) CountTiles(ctx context.Context, q Querier, zoom int) (int64, error) {
	query := Query{}
	if zoom >= 0 {
		query = query.And("zoom_level = ?", zoom)
	}
	return t.Count(ctx, q, query)
}
