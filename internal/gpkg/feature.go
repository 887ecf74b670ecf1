package gpkg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jobrunner/geopack/internal/domain"
	"github.com/jobrunner/geopack/internal/geom"
)

// FeatureRow is one row of a feature table. Geometry holds the stored
// GeoPackage blob and is nil for a null geometry.
type FeatureRow struct {
	ID       int64
	Geometry []byte
	Values   map[string]any
}

// Decode parses the row geometry. It returns nil data for null geometries.
func (r FeatureRow) Decode() (*geom.GeometryData, error) {
	if len(r.Geometry) == 0 {
		return nil, nil
	}
	return geom.Decode(r.Geometry)
}

// FeatureTableSpec describes a feature table to create.
type FeatureTableSpec struct {
	Name           string
	GeometryColumn string // defaults to "geom"
	GeometryType   geom.Type
	SRID           int
	Z, M           int    // 0 prohibited, 1 mandatory, 2 optional
	IDColumn       string // defaults to "fid"
	Columns        []Column
	Description    string
	Extent         *domain.BoundingBox
}

// FeatureTable reads and writes rows of a features table. Every write
// bumps gpkg_contents.last_change so index staleness can be detected.
type FeatureTable struct {
	*Table
	info domain.Table
}

// CreateFeatureTable creates a user feature table and registers it in the
// catalog.
func CreateFeatureTable(ctx context.Context, db *DB, spec FeatureTableSpec) (*FeatureTable, error) {
	if spec.GeometryColumn == "" {
		spec.GeometryColumn = "geom"
	}
	if spec.IDColumn == "" {
		spec.IDColumn = "fid"
	}
	schema := Schema{Table: spec.Name, Columns: []Column{
		{Name: spec.IDColumn, Type: "INTEGER", PrimaryKey: true, NotNull: true},
		{Name: spec.GeometryColumn, Type: spec.GeometryType.String()},
	}}
	schema.Columns = append(schema.Columns, spec.Columns...)

	info := domain.Table{
		Name:           spec.Name,
		DataType:       domain.DataTypeFeatures,
		Description:    spec.Description,
		SRID:           spec.SRID,
		Extent:         spec.Extent,
		GeometryColumn: spec.GeometryColumn,
		GeometryType:   spec.GeometryType.String(),
		Z:              spec.Z,
		M:              spec.M,
	}
	t := NewTable(db, schema)
	err := db.InTx(ctx, func(tx *sql.Tx) error {
		if err := t.Create(ctx, tx); err != nil {
			return err
		}
		return AddContents(ctx, tx, info, db.Now())
	})
	if err != nil {
		return nil, err
	}
	return OpenFeatureTable(ctx, db, spec.Name)
}

// OpenFeatureTable binds an existing feature table.
func OpenFeatureTable(ctx context.Context, db *DB, name string) (*FeatureTable, error) {
	info, err := db.Contents(ctx, name)
	if err != nil {
		return nil, err
	}
	if info.DataType != domain.DataTypeFeatures || info.GeometryColumn == "" {
		return nil, &domain.StoreError{
			Op:    "open feature table",
			Table: name,
			Err:   fmt.Errorf("%s is not a feature table: %w", info.DataType, domain.ErrInvalidInput),
		}
	}
	t, err := OpenTable(ctx, db, name)
	if err != nil {
		return nil, err
	}
	return &FeatureTable{Table: t, info: info}, nil
}

// Info returns the catalog entry the table was opened with.
func (f *FeatureTable) Info() domain.Table { return f.info }

// GeometryColumn returns the geometry column name.
func (f *FeatureTable) GeometryColumn() string { return f.info.GeometryColumn }

// IDColumn returns the primary key column name.
func (f *FeatureTable) IDColumn() string { return f.schema.PrimaryKey() }

// SRID returns the native spatial reference of the geometry column.
func (f *FeatureTable) SRID() int { return f.info.SRID }

func (f *FeatureTable) values(row FeatureRow) map[string]any {
	values := make(map[string]any, len(row.Values)+1)
	for k, v := range row.Values {
		values[k] = v
	}
	if row.Geometry != nil {
		values[f.info.GeometryColumn] = row.Geometry
	} else {
		values[f.info.GeometryColumn] = nil
	}
	return values
}

// Insert adds a row and returns its id.
func (f *FeatureTable) Insert(ctx context.Context, q Querier, row FeatureRow) (int64, error) {
	values := f.values(row)
	if row.ID != 0 {
		values[f.IDColumn()] = row.ID
	}
	id, err := f.Table.Insert(ctx, q, values)
	if err != nil {
		return 0, err
	}
	return id, TouchContents(ctx, q, f.Name(), f.db.Now())
}

// Update replaces the geometry and the given attribute values of a row.
func (f *FeatureTable) Update(ctx context.Context, q Querier, row FeatureRow) (int64, error) {
	n, err := f.Table.Update(ctx, q, row.ID, f.values(row))
	if err != nil || n == 0 {
		return n, err
	}
	return n, TouchContents(ctx, q, f.Name(), f.db.Now())
}

// Delete removes a row.
func (f *FeatureTable) Delete(ctx context.Context, q Querier, id int64) (int64, error) {
	n, err := f.Table.Delete(ctx, q, id)
	if err != nil || n == 0 {
		return n, err
	}
	return n, TouchContents(ctx, q, f.Name(), f.db.Now())
}

// GetFeature reads a row by id.
func (f *FeatureTable) GetFeature(ctx context.Context, q Querier, id int64) (FeatureRow, error) {
	r, err := f.Table.Get(ctx, q, id)
	if err != nil {
		return FeatureRow{}, err
	}
	return f.toFeature(r), nil
}

// QueryFeatures runs a select and converts rows. A projection that omits
// the id or geometry column leaves those fields zero.
func (f *FeatureTable) QueryFeatures(ctx context.Context, q Querier, query Query) ([]FeatureRow, error) {
	rows, err := f.Table.Query(ctx, q, query)
	if err != nil {
		return nil, err
	}
	out := make([]FeatureRow, len(rows))
	for i, r := range rows {
		out[i] = f.toFeature(r)
	}
	return out, nil
}

// Chunk returns up to limit rows ordered by id. A nil after starts at the
// lowest id, including zero and negative fids; otherwise only ids greater
// than *after are returned. Iterating with the last returned id walks the
// whole table.
func (f *FeatureTable) Chunk(ctx context.Context, q Querier, after *int64, limit int) ([]FeatureRow, error) {
	id := Quote(f.IDColumn())
	query := Query{
		Columns: []string{f.IDColumn(), f.info.GeometryColumn},
		OrderBy: id,
		Limit:   limit,
	}
	if after != nil {
		query.Where = id + " > ?"
		query.Args = []any{*after}
	}
	return f.QueryFeatures(ctx, q, query)
}

func (f *FeatureTable) toFeature(r Row) FeatureRow {
	id, _ := r.Int64(f.IDColumn())
	return FeatureRow{
		ID:       id,
		Geometry: r.Bytes(f.info.GeometryColumn),
		Values:   r.Map(f.IDColumn(), f.info.GeometryColumn),
	}
}
