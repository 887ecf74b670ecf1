package gpkg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jobrunner/geopack/internal/domain"
)

// Contents reads one gpkg_contents entry with its data-type specific
// descriptor rows.
func (d *DB) Contents(ctx context.Context, table string) (domain.Table, error) {
	tables, err := d.listContents(ctx, "WHERE c.table_name = ?", table)
	if err != nil {
		return domain.Table{}, err
	}
	if len(tables) == 0 {
		return domain.Table{}, &domain.StoreError{Op: "contents", Table: table, Err: domain.ErrTableNotFound}
	}
	return tables[0], nil
}

// ListContents returns the catalog, optionally filtered by data type.
func (d *DB) ListContents(ctx context.Context, types ...domain.DataType) ([]domain.Table, error) {
	all, err := d.listContents(ctx, "")
	if err != nil || len(types) == 0 {
		return all, err
	}
	var out []domain.Table
	for _, t := range all {
		for _, dt := range types {
			if t.DataType == dt {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

func (d *DB) listContents(ctx context.Context, where string, args ...any) ([]domain.Table, error) {
	query := `
		SELECT
			c.table_name, c.data_type,
			COALESCE(c.identifier, ''), COALESCE(c.description, ''),
			c.last_change,
			c.min_x, c.min_y, c.max_x, c.max_y,
			COALESCE(c.srs_id, 0),
			COALESCE(g.column_name, ''), COALESCE(g.geometry_type_name, ''),
			COALESCE(g.srs_id, c.srs_id, 0), COALESCE(g.z, 0), COALESCE(g.m, 0)
		FROM gpkg_contents c
		LEFT JOIN gpkg_geometry_columns g ON g.table_name = c.table_name
		` + where + `
		ORDER BY c.table_name`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.StoreError{Op: "list contents", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var tables []domain.Table
	for rows.Next() {
		var t domain.Table
		var dataType string
		var lastChange any
		var minX, minY, maxX, maxY sql.NullFloat64
		var contentsSRID int
		err := rows.Scan(
			&t.Name, &dataType, &t.Identifier, &t.Description,
			&lastChange,
			&minX, &minY, &maxX, &maxY,
			&contentsSRID,
			&t.GeometryColumn, &t.GeometryType,
			&t.SRID, &t.Z, &t.M,
		)
		if err != nil {
			return nil, &domain.StoreError{Op: "scan contents", Err: err}
		}
		t.DataType = domain.DataType(dataType)
		if t.GeometryColumn == "" {
			t.SRID = contentsSRID
		}
		t.LastChange, _ = ScanTime(lastChange)
		if minX.Valid && minY.Valid && maxX.Valid && maxY.Valid {
			b := domain.NewBoundingBox(minX.Float64, minY.Float64, maxX.Float64, maxY.Float64, contentsSRID)
			t.Extent = &b
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StoreError{Op: "list contents", Err: err}
	}

	for i := range tables {
		if tables[i].DataType == domain.DataTypeTiles || tables[i].DataType == domain.DataTypeGriddedCoverage {
			minZ, maxZ, err := d.zoomRange(ctx, tables[i].Name)
			if err != nil {
				return nil, err
			}
			tables[i].MinZoom, tables[i].MaxZoom = minZ, maxZ
		}
	}
	return tables, nil
}

func (d *DB) zoomRange(ctx context.Context, table string) (minZoom, maxZoom int, err error) {
	var lo, hi sql.NullInt64
	err = d.db.QueryRowContext(ctx,
		"SELECT MIN(zoom_level), MAX(zoom_level) FROM gpkg_tile_matrix WHERE table_name = ?", table,
	).Scan(&lo, &hi)
	if err != nil {
		return 0, 0, &domain.StoreError{Op: "zoom range", Table: table, Err: err}
	}
	return int(lo.Int64), int(hi.Int64), nil
}

// AddContents inserts a gpkg_contents row and, for feature tables, the
// matching gpkg_geometry_columns row.
func AddContents(ctx context.Context, q Querier, t domain.Table, at time.Time) error {
	var minX, minY, maxX, maxY any
	if t.Extent != nil {
		minX, minY, maxX, maxY = t.Extent.MinX, t.Extent.MinY, t.Extent.MaxX, t.Extent.MaxY
	}
	identifier := t.Identifier
	if identifier == "" {
		identifier = t.Name
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO gpkg_contents
			(table_name, data_type, identifier, description, last_change, min_x, min_y, max_x, max_y, srs_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Name, string(t.DataType), identifier, t.Description, FormatTime(at),
		minX, minY, maxX, maxY, t.SRID,
	)
	if err != nil {
		return &domain.StoreError{Op: "insert contents", Table: t.Name, Err: err}
	}
	if t.DataType != domain.DataTypeFeatures {
		return nil
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO gpkg_geometry_columns (table_name, column_name, geometry_type_name, srs_id, z, m)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.Name, t.GeometryColumn, t.GeometryType, t.SRID, t.Z, t.M,
	)
	if err != nil {
		return &domain.StoreError{Op: "insert geometry column", Table: t.Name, Err: err}
	}
	return nil
}

// TouchContents sets gpkg_contents.last_change.
func TouchContents(ctx context.Context, q Querier, table string, at time.Time) error {
	_, err := q.ExecContext(ctx,
		"UPDATE gpkg_contents SET last_change = ? WHERE table_name = ?", FormatTime(at), table)
	return storeErr("touch contents", table, err)
}

// LastChange reads gpkg_contents.last_change.
func LastChange(ctx context.Context, q Querier, table string) (time.Time, error) {
	var v any
	err := q.QueryRowContext(ctx,
		"SELECT last_change FROM gpkg_contents WHERE table_name = ?", table).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, &domain.StoreError{Op: "last change", Table: table, Err: domain.ErrTableNotFound}
	}
	if err != nil {
		return time.Time{}, &domain.StoreError{Op: "last change", Table: table, Err: err}
	}
	t, _ := ScanTime(v)
	return t, nil
}

// UpdateExtent replaces the bounds recorded in gpkg_contents.
func UpdateExtent(ctx context.Context, q Querier, table string, b domain.BoundingBox) error {
	_, err := q.ExecContext(ctx,
		"UPDATE gpkg_contents SET min_x = ?, min_y = ?, max_x = ?, max_y = ? WHERE table_name = ?",
		b.MinX, b.MinY, b.MaxX, b.MaxY, table)
	return storeErr("update extent", table, err)
}

// SRS reads a gpkg_spatial_ref_sys row.
func (d *DB) SRS(ctx context.Context, id int) (SpatialRefSys, error) {
	var s SpatialRefSys
	var desc sql.NullString
	err := d.db.QueryRowContext(ctx, `
		SELECT srs_name, srs_id, organization, organization_coordsys_id, definition, description
		FROM gpkg_spatial_ref_sys WHERE srs_id = ?`, id,
	).Scan(&s.Name, &s.ID, &s.Organization, &s.OrgCoordsysID, &s.Definition, &desc)
	if errors.Is(err, sql.ErrNoRows) {
		return SpatialRefSys{}, &domain.StoreError{Op: "srs", Err: fmt.Errorf("srs %d: %w", id, domain.ErrInvalidSRID)}
	}
	if err != nil {
		return SpatialRefSys{}, &domain.StoreError{Op: "srs", Err: err}
	}
	s.Description = desc.String
	return s, nil
}

// PutSRS inserts or replaces a spatial reference system.
func (d *DB) PutSRS(ctx context.Context, s SpatialRefSys) error {
	return putSRS(ctx, d.db, s, true)
}

func putSRS(ctx context.Context, q Querier, s SpatialRefSys, replace bool) error {
	verb := "INSERT OR IGNORE"
	if replace {
		verb = "INSERT OR REPLACE"
	}
	_, err := q.ExecContext(ctx, verb+` INTO gpkg_spatial_ref_sys
		(srs_name, srs_id, organization, organization_coordsys_id, definition, description)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.Name, s.ID, s.Organization, s.OrgCoordsysID, s.Definition, s.Description)
	return storeErr("put srs", "gpkg_spatial_ref_sys", err)
}

// TileMatrixSet reads the pyramid bounds of a tile table.
func (d *DB) TileMatrixSet(ctx context.Context, table string) (domain.TileMatrixSet, error) {
	return tileMatrixSet(ctx, d.db, table)
}

func tileMatrixSet(ctx context.Context, q Querier, table string) (domain.TileMatrixSet, error) {
	tms := domain.TileMatrixSet{TableName: table}
	var b domain.BoundingBox
	err := q.QueryRowContext(ctx,
		"SELECT srs_id, min_x, min_y, max_x, max_y FROM gpkg_tile_matrix_set WHERE table_name = ?", table,
	).Scan(&tms.SRID, &b.MinX, &b.MinY, &b.MaxX, &b.MaxY)
	if errors.Is(err, sql.ErrNoRows) {
		return tms, &domain.StoreError{Op: "tile matrix set", Table: table, Err: domain.ErrTableNotFound}
	}
	if err != nil {
		return tms, &domain.StoreError{Op: "tile matrix set", Table: table, Err: err}
	}
	b.SRID = tms.SRID
	tms.BoundingBox = b
	return tms, nil
}

// PutTileMatrixSet inserts or replaces a gpkg_tile_matrix_set row.
func PutTileMatrixSet(ctx context.Context, q Querier, tms domain.TileMatrixSet) error {
	b := tms.BoundingBox
	_, err := q.ExecContext(ctx, `
		INSERT OR REPLACE INTO gpkg_tile_matrix_set (table_name, srs_id, min_x, min_y, max_x, max_y)
		VALUES (?, ?, ?, ?, ?, ?)`,
		tms.TableName, tms.SRID, b.MinX, b.MinY, b.MaxX, b.MaxY)
	return storeErr("put tile matrix set", tms.TableName, err)
}

// TileMatrices returns all zoom levels of a tile table, lowest first.
func (d *DB) TileMatrices(ctx context.Context, table string) ([]domain.TileMatrix, error) {
	return tileMatrices(ctx, d.db, table)
}

func tileMatrices(ctx context.Context, q Querier, table string) ([]domain.TileMatrix, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT zoom_level, matrix_width, matrix_height, tile_width, tile_height, pixel_x_size, pixel_y_size
		FROM gpkg_tile_matrix WHERE table_name = ? ORDER BY zoom_level`, table)
	if err != nil {
		return nil, &domain.StoreError{Op: "tile matrices", Table: table, Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []domain.TileMatrix
	for rows.Next() {
		tm := domain.TileMatrix{TableName: table}
		if err := rows.Scan(&tm.ZoomLevel, &tm.MatrixWidth, &tm.MatrixHeight,
			&tm.TileWidth, &tm.TileHeight, &tm.PixelXSize, &tm.PixelYSize); err != nil {
			return nil, &domain.StoreError{Op: "scan tile matrix", Table: table, Err: err}
		}
		out = append(out, tm)
	}
	return out, storeErr("tile matrices", table, rows.Err())
}

// TileMatrix returns one zoom level of a tile table.
func (d *DB) TileMatrix(ctx context.Context, table string, zoom int) (domain.TileMatrix, error) {
	tms, err := d.TileMatrices(ctx, table)
	if err != nil {
		return domain.TileMatrix{}, err
	}
	for _, tm := range tms {
		if tm.ZoomLevel == zoom {
			return tm, nil
		}
	}
	return domain.TileMatrix{}, &domain.StoreError{
		Op:    "tile matrix",
		Table: table,
		Err:   fmt.Errorf("zoom %d: %w", zoom, domain.ErrTileNotFound),
	}
}

// PutTileMatrix inserts or replaces a gpkg_tile_matrix row.
func PutTileMatrix(ctx context.Context, q Querier, tm domain.TileMatrix) error {
	_, err := q.ExecContext(ctx, `
		INSERT OR REPLACE INTO gpkg_tile_matrix
			(table_name, zoom_level, matrix_width, matrix_height, tile_width, tile_height, pixel_x_size, pixel_y_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tm.TableName, tm.ZoomLevel, tm.MatrixWidth, tm.MatrixHeight,
		tm.TileWidth, tm.TileHeight, tm.PixelXSize, tm.PixelYSize)
	return storeErr("put tile matrix", tm.TableName, err)
}

// GriddedCoverage reads the coverage ancillary row of a coverage table.
func (d *DB) GriddedCoverage(ctx context.Context, table string) (domain.GriddedCoverage, error) {
	c := domain.GriddedCoverage{TableName: table}
	var dataType string
	var precision, dataNull sql.NullFloat64
	var encoding, uom, field, quantity sql.NullString
	err := d.db.QueryRowContext(ctx, `
		SELECT id, datatype, scale, "offset", precision, data_null,
			grid_cell_encoding, uom, field_name, quantity_definition
		FROM gpkg_2d_gridded_coverage_ancillary WHERE tile_matrix_set_name = ?`, table,
	).Scan(&c.ID, &dataType, &c.Scale, &c.Offset, &precision, &dataNull,
		&encoding, &uom, &field, &quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return c, &domain.StoreError{Op: "gridded coverage", Table: table, Err: domain.ErrTableNotFound}
	}
	if err != nil {
		return c, &domain.StoreError{Op: "gridded coverage", Table: table, Err: err}
	}
	c.DataType = domain.CoverageDataType(dataType)
	c.Precision = 1
	if precision.Valid {
		c.Precision = precision.Float64
	}
	if dataNull.Valid {
		c.DataNull = domain.Float64(dataNull.Float64)
	}
	c.GridCellEncoding, c.UOM = encoding.String, uom.String
	c.FieldName, c.QuantityDefinition = field.String, quantity.String
	return c, nil
}

// PutGriddedCoverage inserts or replaces a coverage ancillary row.
func PutGriddedCoverage(ctx context.Context, q Querier, c domain.GriddedCoverage) error {
	var dataNull any
	if c.DataNull != nil {
		dataNull = *c.DataNull
	}
	_, err := q.ExecContext(ctx, `
		INSERT OR REPLACE INTO gpkg_2d_gridded_coverage_ancillary
			(tile_matrix_set_name, datatype, scale, "offset", precision, data_null,
			 grid_cell_encoding, uom, field_name, quantity_definition)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.TableName, string(c.DataType), c.Scale, c.Offset, c.Precision, dataNull,
		c.GridCellEncoding, nullString(c.UOM), c.FieldName, c.QuantityDefinition)
	return storeErr("put gridded coverage", c.TableName, err)
}

// GriddedTile reads the ancillary row of one coverage tile. A missing row
// is not an error: the tile inherits the coverage transform.
func (d *DB) GriddedTile(ctx context.Context, table string, tileID int64) (*domain.GriddedTile, error) {
	gt := domain.GriddedTile{TableName: table, TileID: tileID}
	var scale, offset float64
	var minV, maxV, mean, std sql.NullFloat64
	err := d.db.QueryRowContext(ctx, `
		SELECT id, scale, "offset", min, max, mean, std_dev
		FROM gpkg_2d_gridded_tile_ancillary WHERE tpudt_name = ? AND tpudt_id = ?`, table, tileID,
	).Scan(&gt.ID, &scale, &offset, &minV, &maxV, &mean, &std)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.StoreError{Op: "gridded tile", Table: table, Err: err}
	}
	gt.Scale, gt.Offset = domain.Float64(scale), domain.Float64(offset)
	gt.Min, gt.Max = nullFloat(minV), nullFloat(maxV)
	gt.Mean, gt.StandardDeviation = nullFloat(mean), nullFloat(std)
	return &gt, nil
}

// PutGriddedTile inserts or replaces the ancillary row of a coverage tile.
// Unset scale and offset are stored as the identity transform.
func PutGriddedTile(ctx context.Context, q Querier, gt domain.GriddedTile) error {
	scale, offset := 1.0, 0.0
	if gt.Scale != nil {
		scale = *gt.Scale
	}
	if gt.Offset != nil {
		offset = *gt.Offset
	}
	_, err := q.ExecContext(ctx, `
		INSERT OR REPLACE INTO gpkg_2d_gridded_tile_ancillary
			(tpudt_name, tpudt_id, scale, "offset", min, max, mean, std_dev)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		gt.TableName, gt.TileID, scale, offset,
		ptrValue(gt.Min), ptrValue(gt.Max), ptrValue(gt.Mean), ptrValue(gt.StandardDeviation))
	return storeErr("put gridded tile", gt.TableName, err)
}

// DeleteGriddedTile removes the ancillary row of a coverage tile.
func DeleteGriddedTile(ctx context.Context, q Querier, table string, tileID int64) error {
	_, err := q.ExecContext(ctx,
		"DELETE FROM gpkg_2d_gridded_tile_ancillary WHERE tpudt_name = ? AND tpudt_id = ?", table, tileID)
	return storeErr("delete gridded tile", table, err)
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return domain.Float64(v.Float64)
}

func ptrValue(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ScanTime converts a DATETIME column value. The sqlite3 driver already
// parses well-formed values into time.Time; text is parsed as a fallback.
func ScanTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case string:
		parsed, err := ParseTime(t)
		return parsed, err == nil
	case []byte:
		parsed, err := ParseTime(string(t))
		return parsed, err == nil
	default:
		return time.Time{}, false
	}
}
