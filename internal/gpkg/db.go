// Package gpkg is the relational store beneath the core: a GeoPackage
// SQLite container with its catalog tables, a schema-driven generic table
// and the feature and tile tables built on it.
package gpkg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/jobrunner/geopack/internal/domain"
)

// DefaultDriver is the database/sql driver used unless WithDriver is given.
const DefaultDriver = "sqlite3"

// TimeLayout is the GeoPackage DATETIME text format.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Querier executes parameterized SQL. *sql.DB and *sql.Tx both satisfy it.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is an open GeoPackage container.
type DB struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

type options struct {
	driver   string
	readOnly bool
	now      func() time.Time
}

// Option configures Open and Create.
type Option func(*options)

// WithDriver selects a registered database/sql driver, e.g. one that
// loads SpatiaLite.
func WithDriver(name string) Option {
	return func(o *options) { o.driver = name }
}

// ReadOnly opens the file without write access.
func ReadOnly() Option {
	return func(o *options) { o.readOnly = true }
}

// WithClock overrides the clock used for last_change timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{driver: DefaultDriver, now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func dsn(path string, readOnly bool) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	q := "_busy_timeout=5000&_txlock=immediate&_foreign_keys=0"
	if readOnly {
		q = "mode=ro&_busy_timeout=5000"
	}
	return fmt.Sprintf("file:%s?%s", path, q)
}

func open(ctx context.Context, path string, o options) (*DB, error) {
	sqlDB, err := sql.Open(o.driver, dsn(path, o.readOnly))
	if err != nil {
		return nil, &domain.StoreError{Op: "open", Err: err}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, &domain.StoreError{Op: "open", Err: err}
	}
	return &DB{db: sqlDB, path: path, now: o.now}, nil
}

// Open opens an existing GeoPackage and checks that it carries the core
// tables.
func Open(ctx context.Context, path string, opts ...Option) (*DB, error) {
	o := buildOptions(opts)
	d, err := open(ctx, path, o)
	if err != nil {
		return nil, err
	}
	for _, table := range requiredTables {
		ok, err := d.TableExists(ctx, table)
		if err != nil {
			_ = d.Close()
			return nil, err
		}
		if !ok {
			_ = d.Close()
			return nil, &domain.StoreError{Op: "open", Table: table, Err: fmt.Errorf("not a geopackage: %w", domain.ErrTableNotFound)}
		}
	}
	return d, nil
}

// Create opens or creates a GeoPackage and makes sure the core tables and
// default spatial reference systems exist.
func Create(ctx context.Context, path string, opts ...Option) (*DB, error) {
	o := buildOptions(opts)
	o.readOnly = false
	d, err := open(ctx, path, o)
	if err != nil {
		return nil, err
	}
	err = d.InTx(ctx, func(tx *sql.Tx) error {
		pragmas := fmt.Sprintf("PRAGMA application_id = %d; PRAGMA user_version = %d", applicationID, userVersion)
		if _, err := tx.ExecContext(ctx, pragmas); err != nil {
			return err
		}
		for _, stmt := range coreSchema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		for _, srs := range DefaultSRS {
			if err := putSRS(ctx, tx, srs, false); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = d.Close()
		return nil, &domain.StoreError{Op: "create", Err: err}
	}
	return d, nil
}

// SQL returns the underlying handle.
func (d *DB) SQL() *sql.DB { return d.db }

// Path returns the file the container was opened from.
func (d *DB) Path() string { return d.path }

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }

// Now returns the current time in the container's clock.
func (d *DB) Now() time.Time { return d.now().UTC() }

// InTx runs fn in a transaction and commits when it returns nil.
func (d *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.StoreError{Op: "begin", Err: err}
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return &domain.StoreError{Op: "commit", Err: err}
	}
	return nil
}

// TableExists reports whether a table or view with the given name exists.
func (d *DB) TableExists(ctx context.Context, name string) (bool, error) {
	return tableExists(ctx, d.db, name)
}

func tableExists(ctx context.Context, q Querier, name string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table','view') AND name = ?", name,
	).Scan(&count)
	if err != nil {
		return false, &domain.StoreError{Op: "table exists", Table: name, Err: err}
	}
	return count > 0, nil
}

// FormatTime renders t in the GeoPackage DATETIME format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts the GeoPackage DATETIME format and the looser variants
// other writers produce.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q: %w", s, domain.ErrInvalidInput)
}

// Quote returns an SQL identifier in double quotes.
func Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func storeErr(op, table string, err error) error {
	if err == nil {
		return nil
	}
	var se *domain.StoreError
	if errors.As(err, &se) {
		return err
	}
	return &domain.StoreError{Op: op, Table: table, Err: err}
}
