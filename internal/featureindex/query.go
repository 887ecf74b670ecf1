package featureindex

import (
	"context"
	"fmt"

	"github.com/jobrunner/geopack/internal/domain"
	"github.com/jobrunner/geopack/internal/geom"
	"github.com/jobrunner/geopack/internal/gpkg"
)

// Filter selects features through the index. Window restrictions are
// combined with the attribute predicates; a filter with neither BBox nor
// Envelope selects every indexed feature.
type Filter struct {
	// BBox is a window in any supported projection. SRID 0 means the
	// table projection.
	BBox *domain.BoundingBox
	// Envelope is a window in the table projection. Z and M ranges are
	// matched when present.
	Envelope *geom.Envelope
	// Fields are equality predicates; nil values match NULL.
	Fields map[string]any
	Where  string
	Args   []any

	Columns  []string
	Distinct bool
	OrderBy  string
	Limit    int
	Offset   int
}

// window returns the native envelope the filter restricts to, if any.
func (ix *Indexer) window(ctx context.Context, f Filter) (*geom.Envelope, error) {
	if f.Envelope != nil {
		return f.Envelope, nil
	}
	if f.BBox == nil {
		return nil, nil
	}
	b := *f.BBox
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if b.SRID != 0 && b.SRID != ix.table.SRID() {
		if ix.projections == nil {
			return nil, &domain.ProjectionError{From: b.SRID, To: ix.table.SRID()}
		}
		var err error
		if b, err = ix.projections.TransformBBox(ctx, b, ix.table.SRID()); err != nil {
			return nil, err
		}
	}
	env := geom.EnvelopeFromBoundingBox(b)
	return &env, nil
}

// overlapWhere renders the predicate selecting index entries of table
// that intersect env, edges included.
func overlapWhere(table string, env *geom.Envelope) (string, []any) {
	s := "table_name = ?"
	args := []any{table}
	if env == nil {
		return s, args
	}
	s += " AND min_x <= ? AND max_x >= ? AND min_y <= ? AND max_y >= ?"
	args = append(args, env.MaxX, env.MinX, env.MaxY, env.MinY)
	if env.HasZ && env.MinZ <= env.MaxZ {
		s += " AND (min_z IS NULL OR (min_z <= ? AND max_z >= ?))"
		args = append(args, env.MaxZ, env.MinZ)
	}
	if env.HasM && env.MinM <= env.MaxM {
		s += " AND (min_m IS NULL OR (min_m <= ? AND max_m >= ?))"
		args = append(args, env.MaxM, env.MinM)
	}
	return s, args
}

// buildQuery turns a filter into a feature table query of the form
// id IN (SELECT geom_id FROM index WHERE overlap) AND predicates.
func (ix *Indexer) buildQuery(ctx context.Context, f Filter) (gpkg.Query, error) {
	env, err := ix.window(ctx, f)
	if err != nil {
		return gpkg.Query{}, err
	}
	for name := range f.Fields {
		if !ix.table.Schema().HasColumn(name) {
			return gpkg.Query{}, fmt.Errorf("unknown column %q: %w", name, domain.ErrInvalidInput)
		}
	}
	for _, name := range f.Columns {
		if !ix.table.Schema().HasColumn(name) {
			return gpkg.Query{}, fmt.Errorf("unknown column %q: %w", name, domain.ErrInvalidInput)
		}
	}

	where, args := overlapWhere(ix.name(), env)
	q := gpkg.Query{
		Columns:  f.Columns,
		Distinct: f.Distinct,
		OrderBy:  f.OrderBy,
		Limit:    f.Limit,
		Offset:   f.Offset,
	}
	q = q.And(gpkg.Quote(ix.table.IDColumn())+" IN (SELECT geom_id FROM "+geometryIndexTable+" WHERE "+where+")", args...)
	if len(f.Fields) > 0 {
		fwhere, fargs := gpkg.FieldValues(f.Fields)
		q = q.And(fwhere, fargs...)
	}
	q = q.And(f.Where, f.Args...)
	return q, nil
}

// QueryFeatures returns the features matching f. The table must have been
// indexed.
func (ix *Indexer) QueryFeatures(ctx context.Context, f Filter) ([]gpkg.FeatureRow, error) {
	if _, err := ix.requireIndexed(ctx, ix.db.SQL()); err != nil {
		return nil, err
	}
	q, err := ix.buildQuery(ctx, f)
	if err != nil {
		return nil, &domain.QueryError{Table: ix.name(), Err: err}
	}
	rows, err := ix.table.QueryFeatures(ctx, ix.db.SQL(), q)
	if err != nil {
		return nil, &domain.QueryError{Table: ix.name(), Err: err}
	}
	return rows, nil
}

// CountFeatures counts the features matching f. Limit and offset are
// ignored.
func (ix *Indexer) CountFeatures(ctx context.Context, f Filter) (int64, error) {
	if _, err := ix.requireIndexed(ctx, ix.db.SQL()); err != nil {
		return 0, err
	}
	q, err := ix.buildQuery(ctx, f)
	if err != nil {
		return 0, &domain.QueryError{Table: ix.name(), Err: err}
	}
	n, err := ix.table.Count(ctx, ix.db.SQL(), q)
	if err != nil {
		return 0, &domain.QueryError{Table: ix.name(), Err: err}
	}
	return n, nil
}

// QueryBBox returns the features whose envelope intersects b.
func (ix *Indexer) QueryBBox(ctx context.Context, b domain.BoundingBox) ([]gpkg.FeatureRow, error) {
	return ix.QueryFeatures(ctx, Filter{BBox: &b})
}

// CountBBox counts the features whose envelope intersects b.
func (ix *Indexer) CountBBox(ctx context.Context, b domain.BoundingBox) (int64, error) {
	return ix.CountFeatures(ctx, Filter{BBox: &b})
}

// Entries returns the raw index rows intersecting env, or all rows when
// env is nil.
func (ix *Indexer) Entries(ctx context.Context, env *geom.Envelope) ([]Entry, error) {
	if _, err := ix.requireIndexed(ctx, ix.db.SQL()); err != nil {
		return nil, err
	}
	where, args := overlapWhere(ix.name(), env)
	stmt := "SELECT geom_id, min_x, max_x, min_y, max_y, min_z, max_z, min_m, max_m FROM " +
		geometryIndexTable + " WHERE " + where + " ORDER BY geom_id"
	rows, err := ix.db.SQL().QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, &domain.QueryError{Table: ix.name(), Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var e Entry
		var minZ, maxZ, minM, maxM *float64
		if err := rows.Scan(&e.GeomID, &e.Envelope.MinX, &e.Envelope.MaxX, &e.Envelope.MinY, &e.Envelope.MaxY,
			&minZ, &maxZ, &minM, &maxM); err != nil {
			return nil, &domain.QueryError{Table: ix.name(), Err: err}
		}
		if minZ != nil && maxZ != nil {
			e.Envelope.HasZ, e.Envelope.MinZ, e.Envelope.MaxZ = true, *minZ, *maxZ
		}
		if minM != nil && maxM != nil {
			e.Envelope.HasM, e.Envelope.MinM, e.Envelope.MaxM = true, *minM, *maxM
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.QueryError{Table: ix.name(), Err: err}
	}
	return out, nil
}

// Feature reads one feature by id. Concurrent reads of the same id share
// a single store fetch.
func (ix *Indexer) Feature(ctx context.Context, id int64) (gpkg.FeatureRow, error) {
	return ix.cache.Get(ctx, id)
}
