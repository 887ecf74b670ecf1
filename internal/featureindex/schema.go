// Package featureindex maintains a minimum bounding rectangle index over
// the geometries of a GeoPackage feature table and answers windowed
// queries against it.
package featureindex

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jobrunner/geopack/internal/domain"
	"github.com/jobrunner/geopack/internal/geom"
	"github.com/jobrunner/geopack/internal/gpkg"
)

const (
	tableIndexTable    = "nga_table_index"
	geometryIndexTable = "nga_geometry_index"
)

var indexSchema = []string{
	`CREATE TABLE IF NOT EXISTS nga_table_index (
		table_name TEXT NOT NULL PRIMARY KEY,
		last_indexed DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS nga_geometry_index (
		table_name TEXT NOT NULL,
		geom_id INTEGER NOT NULL,
		min_x DOUBLE NOT NULL,
		max_x DOUBLE NOT NULL,
		min_y DOUBLE NOT NULL,
		max_y DOUBLE NOT NULL,
		min_z DOUBLE,
		max_z DOUBLE,
		min_m DOUBLE,
		max_m DOUBLE,
		CONSTRAINT pk_ngi PRIMARY KEY (table_name, geom_id),
		CONSTRAINT fk_ngi_nti FOREIGN KEY (table_name) REFERENCES nga_table_index(table_name)
	)`,
}

func ensureSchema(ctx context.Context, q gpkg.Querier) error {
	for _, stmt := range indexSchema {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return &domain.StoreError{Op: "create index schema", Err: err}
		}
	}
	return nil
}

// Entry is one geometry index row.
type Entry struct {
	GeomID   int64
	Envelope geom.Envelope
}

func insertEntry(ctx context.Context, q gpkg.Querier, table string, e Entry) error {
	env := e.Envelope
	var minZ, maxZ, minM, maxM any
	if env.HasZ && env.MinZ <= env.MaxZ {
		minZ, maxZ = env.MinZ, env.MaxZ
	}
	if env.HasM && env.MinM <= env.MaxM {
		minM, maxM = env.MinM, env.MaxM
	}
	_, err := q.ExecContext(ctx, `
		INSERT OR REPLACE INTO nga_geometry_index
			(table_name, geom_id, min_x, max_x, min_y, max_y, min_z, max_z, min_m, max_m)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		table, e.GeomID, env.MinX, env.MaxX, env.MinY, env.MaxY, minZ, maxZ, minM, maxM)
	if err != nil {
		return &domain.StoreError{Op: "insert geometry index", Table: table, Err: err}
	}
	return nil
}

func deleteEntry(ctx context.Context, q gpkg.Querier, table string, id int64) (int64, error) {
	res, err := q.ExecContext(ctx,
		"DELETE FROM nga_geometry_index WHERE table_name = ? AND geom_id = ?", table, id)
	if err != nil {
		return 0, &domain.StoreError{Op: "delete geometry index", Table: table, Err: err}
	}
	return res.RowsAffected()
}

func clearTable(ctx context.Context, q gpkg.Querier, table string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM nga_geometry_index WHERE table_name = ?", table); err != nil {
		return &domain.StoreError{Op: "clear geometry index", Table: table, Err: err}
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM nga_table_index WHERE table_name = ?", table); err != nil {
		return &domain.StoreError{Op: "clear table index", Table: table, Err: err}
	}
	return nil
}

// resetTable drops the geometry rows of a table and marks it not indexed.
func resetTable(ctx context.Context, q gpkg.Querier, table string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM nga_geometry_index WHERE table_name = ?", table); err != nil {
		return &domain.StoreError{Op: "clear geometry index", Table: table, Err: err}
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO nga_table_index (table_name, last_indexed) VALUES (?, NULL)
		ON CONFLICT(table_name) DO UPDATE SET last_indexed = NULL`, table)
	if err != nil {
		return &domain.StoreError{Op: "reset table index", Table: table, Err: err}
	}
	return nil
}

func setLastIndexed(ctx context.Context, q gpkg.Querier, table string, at time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO nga_table_index (table_name, last_indexed) VALUES (?, ?)
		ON CONFLICT(table_name) DO UPDATE SET last_indexed = excluded.last_indexed`,
		table, gpkg.FormatTime(at))
	if err != nil {
		return &domain.StoreError{Op: "update table index", Table: table, Err: err}
	}
	return nil
}

// lastIndexed returns the completion time of the last full pass. ok is
// false when the table has never been indexed.
func lastIndexed(ctx context.Context, q gpkg.Querier, table string) (at time.Time, ok bool, err error) {
	var v any
	err = q.QueryRowContext(ctx,
		"SELECT last_indexed FROM nga_table_index WHERE table_name = ?", table).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, &domain.StoreError{Op: "read table index", Table: table, Err: err}
	}
	at, ok = gpkg.ScanTime(v)
	return at, ok, nil
}

func countEntries(ctx context.Context, q gpkg.Querier, table string) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM nga_geometry_index WHERE table_name = ?", table).Scan(&n)
	if err != nil {
		return 0, &domain.StoreError{Op: "count geometry index", Table: table, Err: err}
	}
	return n, nil
}
