package featureindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jobrunner/geopack/internal/domain"
	"github.com/jobrunner/geopack/internal/geom"
	"github.com/jobrunner/geopack/internal/gpkg"
	"github.com/jobrunner/geopack/internal/projection"
)

// DefaultChunkSize is the number of rows read and indexed per transaction.
const DefaultChunkSize = 1000

// ErrIndexing is returned when a full pass is already running.
var ErrIndexing = fmt.Errorf("indexing in progress: %w", domain.ErrUnavailable)

// State is the index lifecycle of a table.
type State int

const (
	NotIndexed State = iota
	Indexing
	Indexed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Indexing:
		return "indexing"
	case Indexed:
		return "indexed"
	default:
		return "not_indexed"
	}
}

// Status describes the index of one table.
type Status struct {
	Table       string
	State       State
	LastIndexed time.Time
	LastChange  time.Time
	// Stale is set when the table changed after the last full pass.
	Stale bool
	Rows  int64
}

// IndexResult summarizes a full pass.
type IndexResult struct {
	// Count is the number of geometries written to the index.
	Count int64
	// Skipped counts rows whose geometry could not be decoded.
	Skipped int64
	// Cancelled is set when the context ended between chunks.
	Cancelled bool
	// Rebuilt is false when EnsureIndexed found a fresh index.
	Rebuilt  bool
	Duration time.Duration
}

// ProgressFunc is called after each row of a full pass with the number of
// rows processed and the table row count at the start of the pass.
type ProgressFunc func(processed, total int64)

// Indexer owns the geometry index of one feature table.
type Indexer struct {
	db          *gpkg.DB
	table       *gpkg.FeatureTable
	logger      *slog.Logger
	chunkSize   int
	projections *projection.Registry
	cache       *RowCache
	indexing    atomic.Bool
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ix *Indexer) { ix.logger = l }
}

// WithChunkSize sets the rows per transaction of a full pass.
func WithChunkSize(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.chunkSize = n
		}
	}
}

// WithProjections enables bounding box queries in foreign projections.
func WithProjections(r *projection.Registry) Option {
	return func(ix *Indexer) { ix.projections = r }
}

// New returns an indexer for a feature table.
func New(db *gpkg.DB, table *gpkg.FeatureTable, opts ...Option) *Indexer {
	ix := &Indexer{
		db:        db,
		table:     table,
		logger:    slog.Default(),
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(ix)
	}
	ix.cache = NewRowCache(func(ctx context.Context, id int64) (gpkg.FeatureRow, error) {
		return ix.table.GetFeature(ctx, ix.db.SQL(), id)
	})
	return ix
}

// Open binds an indexer to a feature table by name.
func Open(ctx context.Context, db *gpkg.DB, table string, opts ...Option) (*Indexer, error) {
	ft, err := gpkg.OpenFeatureTable(ctx, db, table)
	if err != nil {
		return nil, err
	}
	return New(db, ft, opts...), nil
}

// Table returns the indexed feature table.
func (ix *Indexer) Table() *gpkg.FeatureTable { return ix.table }

func (ix *Indexer) name() string { return ix.table.Name() }

// Status reports the index state of the table.
func (ix *Indexer) Status(ctx context.Context) (Status, error) {
	return ix.status(ctx, ix.db.SQL())
}

func (ix *Indexer) status(ctx context.Context, q gpkg.Querier) (Status, error) {
	st := Status{Table: ix.name(), State: NotIndexed}
	if ix.indexing.Load() {
		st.State = Indexing
		return st, nil
	}
	var exists int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", tableIndexTable).Scan(&exists)
	if err != nil {
		return st, &domain.StoreError{Op: "index status", Table: ix.name(), Err: err}
	}
	if exists == 0 {
		return st, nil
	}
	at, ok, err := lastIndexed(ctx, q, ix.name())
	if err != nil || !ok {
		return st, err
	}
	changed, err := gpkg.LastChange(ctx, q, ix.name())
	if err != nil {
		return st, err
	}
	rows, err := countEntries(ctx, q, ix.name())
	if err != nil {
		return st, err
	}
	st.State = Indexed
	st.LastIndexed = at
	st.LastChange = changed
	st.Stale = changed.After(at)
	st.Rows = rows
	return st, nil
}

// IsIndexed reports whether a completed pass covers every table change.
func (ix *Indexer) IsIndexed(ctx context.Context) (bool, error) {
	st, err := ix.Status(ctx)
	if err != nil {
		return false, err
	}
	return st.State == Indexed && !st.Stale, nil
}

// IndexTable rebuilds the index of the whole table. Rows are read in
// primary key order, one transaction per chunk. Cancellation is checked
// before each chunk; a chunk that has started always completes, and a
// cancelled pass leaves the table not indexed with a nil error.
func (ix *Indexer) IndexTable(ctx context.Context, progress ProgressFunc) (IndexResult, error) {
	if !ix.indexing.CompareAndSwap(false, true) {
		return IndexResult{}, &domain.IndexError{Table: ix.name(), Err: ErrIndexing}
	}
	defer ix.indexing.Store(false)

	began := time.Now()
	res := IndexResult{Rebuilt: true}
	started := ix.db.Now()
	logger := ix.logger.With("table", ix.name())
	// store calls never see the cancellation; it is polled between chunks
	work := context.WithoutCancel(ctx)

	total, err := ix.table.Count(work, ix.db.SQL(), gpkg.Query{})
	if err != nil {
		return res, &domain.IndexError{Table: ix.name(), Err: err}
	}
	err = ix.db.InTx(work, func(tx *sql.Tx) error {
		if err := ensureSchema(work, tx); err != nil {
			return err
		}
		return resetTable(work, tx, ix.name())
	})
	if err != nil {
		return res, &domain.IndexError{Table: ix.name(), Err: err}
	}

	var (
		after     *int64
		processed int64
	)
	for {
		if ctx.Err() != nil {
			res.Cancelled = true
			res.Duration = time.Since(began)
			logger.Info("indexing cancelled", "indexed", res.Count, "processed", processed)
			return res, nil
		}

		var n int
		err := ix.db.InTx(work, func(tx *sql.Tx) error {
			rows, err := ix.table.Chunk(work, tx, after, ix.chunkSize)
			if err != nil {
				return err
			}
			n = len(rows)
			for _, row := range rows {
				id := row.ID
				after = &id
				processed++
				indexed, err := ix.indexRow(work, tx, row)
				var mge *domain.MalformedGeometryError
				switch {
				case errors.As(err, &mge):
					res.Skipped++
					logger.Warn("skipping row with invalid geometry", "id", row.ID, "error", err)
				case err != nil:
					return err
				case indexed:
					res.Count++
				}
				if progress != nil {
					progress(processed, total)
				}
			}
			return nil
		})
		if err != nil {
			return res, &domain.IndexError{Table: ix.name(), Err: err}
		}
		if n < ix.chunkSize {
			break
		}
	}

	if err := setLastIndexed(work, ix.db.SQL(), ix.name(), started); err != nil {
		return res, &domain.IndexError{Table: ix.name(), Err: err}
	}
	res.Duration = time.Since(began)
	logger.Info("table indexed",
		"indexed", res.Count,
		"skipped", res.Skipped,
		"duration", res.Duration)
	return res, nil
}

// EnsureIndexed runs a full pass unless the index is fresh.
func (ix *Indexer) EnsureIndexed(ctx context.Context, progress ProgressFunc) (IndexResult, error) {
	st, err := ix.Status(ctx)
	if err != nil {
		return IndexResult{}, err
	}
	if st.State == Indexed && !st.Stale {
		return IndexResult{Count: st.Rows}, nil
	}
	return ix.IndexTable(ctx, progress)
}

// indexRow replaces the index entry of one row. It reports whether an entry
// was written; null and empty geometries have none.
func (ix *Indexer) indexRow(ctx context.Context, q gpkg.Querier, row gpkg.FeatureRow) (bool, error) {
	if _, err := deleteEntry(ctx, q, ix.name(), row.ID); err != nil {
		return false, err
	}
	if len(row.Geometry) == 0 {
		return false, nil
	}
	env, ok, err := geom.DecodeEnvelope(row.Geometry)
	if err != nil || !ok {
		return false, err
	}
	return true, insertEntry(ctx, q, ix.name(), Entry{GeomID: row.ID, Envelope: env})
}

func (ix *Indexer) requireIndexed(ctx context.Context, q gpkg.Querier) (Status, error) {
	st, err := ix.status(ctx, q)
	if err != nil {
		return st, err
	}
	if st.State != Indexed {
		return st, &domain.NotIndexedError{Table: ix.name()}
	}
	return st, nil
}

// IndexRow updates the index entry of a single row and the last indexed
// time. It fails with NotIndexedError unless a full pass has completed.
func (ix *Indexer) IndexRow(ctx context.Context, row gpkg.FeatureRow) (bool, error) {
	var indexed bool
	err := ix.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := ix.requireIndexed(ctx, tx); err != nil {
			return err
		}
		var err error
		if indexed, err = ix.indexRow(ctx, tx, row); err != nil {
			return err
		}
		return setLastIndexed(ctx, tx, ix.name(), ix.db.Now())
	})
	return indexed, err
}

// DeleteIndex removes the entry of one row and returns the number of
// entries removed (0 or 1).
func (ix *Indexer) DeleteIndex(ctx context.Context, id int64) (int64, error) {
	var n int64
	err := ix.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := ix.requireIndexed(ctx, tx); err != nil {
			return err
		}
		var err error
		n, err = deleteEntry(ctx, tx, ix.name(), id)
		return err
	})
	return n, err
}

// DeleteTableIndex drops every entry of the table and its index record.
func (ix *Indexer) DeleteTableIndex(ctx context.Context) error {
	if ix.indexing.Load() {
		return &domain.IndexError{Table: ix.name(), Err: ErrIndexing}
	}
	return ix.db.InTx(ctx, func(tx *sql.Tx) error {
		if err := ensureSchema(ctx, tx); err != nil {
			return err
		}
		return clearTable(ctx, tx, ix.name())
	})
}

// Insert writes a feature and indexes it in the same transaction when the
// table is indexed.
func (ix *Indexer) Insert(ctx context.Context, row gpkg.FeatureRow) (int64, error) {
	var id int64
	err := ix.write(ctx, func(tx *sql.Tx) (int64, bool, error) {
		var err error
		id, err = ix.table.Insert(ctx, tx, row)
		row.ID = id
		return id, true, err
	}, &row)
	return id, err
}

// Update rewrites a feature and its index entry.
func (ix *Indexer) Update(ctx context.Context, row gpkg.FeatureRow) (int64, error) {
	var n int64
	err := ix.write(ctx, func(tx *sql.Tx) (int64, bool, error) {
		var err error
		n, err = ix.table.Update(ctx, tx, row)
		return row.ID, n > 0, err
	}, &row)
	return n, err
}

// Delete removes a feature and its index entry.
func (ix *Indexer) Delete(ctx context.Context, id int64) (int64, error) {
	var n int64
	err := ix.write(ctx, func(tx *sql.Tx) (int64, bool, error) {
		var err error
		n, err = ix.table.Delete(ctx, tx, id)
		return id, n > 0, err
	}, nil)
	return n, err
}

// write runs a feature mutation and keeps the index in step. A fresh index
// stays fresh; a stale one is updated but left stale.
func (ix *Indexer) write(ctx context.Context, mutate func(tx *sql.Tx) (int64, bool, error), row *gpkg.FeatureRow) error {
	return ix.db.InTx(ctx, func(tx *sql.Tx) error {
		st, err := ix.status(ctx, tx)
		if err != nil {
			return err
		}
		id, changed, err := mutate(tx)
		if err != nil || !changed || st.State != Indexed {
			return err
		}
		if row == nil {
			if _, err := deleteEntry(ctx, tx, ix.name(), id); err != nil {
				return err
			}
		} else if _, err := ix.indexRow(ctx, tx, *row); err != nil {
			var mge *domain.MalformedGeometryError
			if !errors.As(err, &mge) {
				return err
			}
			ix.logger.Warn("feature written without index entry", "table", ix.name(), "id", id, "error", err)
		}
		if st.Stale {
			return nil
		}
		return setLastIndexed(ctx, tx, ix.name(), ix.db.Now())
	})
}
