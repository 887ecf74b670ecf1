package coverage

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/jobrunner/geopack/internal/domain"
	"github.com/jobrunner/geopack/internal/gpkg"
)

func newCoverageTable(t *testing.T, dt domain.CoverageDataType) (*gpkg.DB, *Table) {
	t.Helper()
	ctx := context.Background()
	db, err := gpkg.Create(ctx, filepath.Join(t.TempDir(), "coverage.gpkg"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	c := domain.NewGriddedCoverage("dem", dt)
	c.DataNull = domain.Float64(65535)
	if dt == domain.CoverageFloat {
		c.DataNull = domain.Float64(-9999)
	}
	table, err := CreateTable(ctx, db, TableSpec{
		Name:      "dem",
		SRID:      domain.SRIDWebMercator,
		Bounds:    domain.BoundingBox{MinX: 0, MinY: 0, MaxX: 4, MaxY: 2, SRID: domain.SRIDWebMercator},
		Coverage:  c,
		Matrices:  []domain.TileMatrix{{ZoomLevel: 0, MatrixWidth: 2, MatrixHeight: 1, TileWidth: 2, TileHeight: 2, PixelXSize: 1, PixelYSize: 1}},
		TileWidth: 2,
	})
	if err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}
	return db, table
}

func sameValues(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.IsNaN(a[i]) != math.IsNaN(b[i]) {
			return false
		}
		if !math.IsNaN(a[i]) && math.Abs(a[i]-b[i]) > 1e-9 {
			return false
		}
	}
	return true
}

func TestTableWriteRead(t *testing.T) {
	ctx := context.Background()
	_, table := newCoverageTable(t, domain.CoverageInteger)
	cell := domain.GridCell{Zoom: 0, Column: 0, Row: 0}

	in := []float64{1, 2, 3, math.NaN()}
	if _, err := table.WriteTile(ctx, cell, in); err != nil {
		t.Fatalf("WriteTile() error = %v", err)
	}
	got, err := table.ReadTile(ctx, cell)
	if err != nil {
		t.Fatalf("ReadTile() error = %v", err)
	}
	if got.Width != 2 || got.Height != 2 || !sameValues(got.Values, in) {
		t.Errorf("ReadTile() = %+v", got)
	}
	if got.Stats.Min == nil || *got.Stats.Min != 1 || *got.Stats.Max != 3 || *got.Stats.Mean != 2 {
		t.Errorf("stats = %+v", got.Stats)
	}

	if _, err := table.ReadTile(ctx, domain.GridCell{Zoom: 0, Column: 1, Row: 0}); !errors.Is(err, domain.ErrTileNotFound) {
		t.Errorf("missing tile error = %v", err)
	}
}

func TestTableReplaceTile(t *testing.T) {
	ctx := context.Background()
	db, table := newCoverageTable(t, domain.CoverageInteger)
	cell := domain.GridCell{Zoom: 0, Column: 1, Row: 0}

	if _, err := table.WriteTile(ctx, cell, []float64{5, 5, 5, 5}); err != nil {
		t.Fatal(err)
	}
	in := []float64{10, 12, 14, 16}
	id, err := table.WriteTile(ctx, cell, in, WithTileTransform(2, 10))
	if err != nil {
		t.Fatalf("WriteTile() error = %v", err)
	}

	var rows int
	if err := db.SQL().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM gpkg_2d_gridded_tile_ancillary WHERE tpudt_name = 'dem'").Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 1 {
		t.Errorf("ancillary rows = %d, want 1", rows)
	}

	gt, err := db.GriddedTile(ctx, "dem", id)
	if err != nil || gt == nil || *gt.Scale != 2 || *gt.Offset != 10 {
		t.Fatalf("GriddedTile() = %+v, %v", gt, err)
	}
	got, err := table.ReadTile(ctx, cell)
	if err != nil {
		t.Fatal(err)
	}
	if !sameValues(got.Values, in) {
		t.Errorf("values = %v, want %v", got.Values, in)
	}
}

func TestTableValue(t *testing.T) {
	ctx := context.Background()
	_, table := newCoverageTable(t, domain.CoverageInteger)
	// left tile 10 12 / 14 16, right tile 20 22 / 24 NaN
	if _, err := table.WriteTile(ctx, domain.GridCell{Column: 0}, []float64{10, 12, 14, 16}); err != nil {
		t.Fatal(err)
	}
	if _, err := table.WriteTile(ctx, domain.GridCell{Column: 1}, []float64{20, 22, 24, math.NaN()}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		x, y   float64
		interp Interpolation
		want   float64
		ok     bool
	}{
		{"nearest centre", 0.5, 1.5, Nearest, 10, true},
		{"nearest right tile", 2.5, 0.5, Nearest, 24, true},
		{"nearest no-data", 3.5, 0.5, Nearest, 0, false},
		{"bilinear middle", 1, 1, Bilinear, 13, true},
		{"bilinear across tiles", 2, 1.5, Bilinear, 16, true},
		{"bilinear skips no-data", 3, 1, Bilinear, (20 + 22 + 24) / 3.0, true},
		{"outside", 5, 1, Nearest, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := table.Value(ctx, tt.x, tt.y, tt.interp)
			if err != nil {
				t.Fatalf("Value() error = %v", err)
			}
			if ok != tt.ok {
				t.Fatalf("Value() ok = %v, want %v (value %v)", ok, tt.ok, got)
			}
			if ok && math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Value() = %v, want %v", got, tt.want)
			}
		})
	}

	grid, err := table.Values(ctx, table.Bounds(), 4, 2, Nearest)
	if err != nil {
		t.Fatalf("Values() error = %v", err)
	}
	want := []float64{10, 12, 20, 22, 14, 16, 24, math.NaN()}
	if !sameValues(grid, want) {
		t.Errorf("Values() = %v, want %v", grid, want)
	}
}

func TestTableFloat(t *testing.T) {
	ctx := context.Background()
	_, table := newCoverageTable(t, domain.CoverageFloat)
	in := []float64{0.25, -3.5, math.NaN(), 1e6}
	if _, err := table.WriteTile(ctx, domain.GridCell{}, in); err != nil {
		t.Fatalf("WriteTile() error = %v", err)
	}
	got, err := table.ReadTile(ctx, domain.GridCell{})
	if err != nil {
		t.Fatal(err)
	}
	if !sameValues(got.Values, in) {
		t.Errorf("values = %v, want %v", got.Values, in)
	}
}

func TestTableRejects(t *testing.T) {
	ctx := context.Background()
	db, table := newCoverageTable(t, domain.CoverageInteger)

	var pe *domain.InvalidCoverageParametersError
	if _, err := table.WriteTile(ctx, domain.GridCell{}, []float64{1, 2, 3}); !errors.As(err, &pe) {
		t.Errorf("short tile error = %v", err)
	}
	if _, err := table.WriteTile(ctx, domain.GridCell{Column: 2}, []float64{1, 2, 3, 4}); !errors.As(err, &pe) {
		t.Errorf("out of matrix error = %v", err)
	}
	if _, err := table.WriteTile(ctx, domain.GridCell{Zoom: 3}, []float64{1, 2, 3, 4}); !errors.Is(err, domain.ErrTileNotFound) {
		t.Errorf("unknown zoom error = %v", err)
	}

	c := domain.NewGriddedCoverage("bad", domain.CoverageFloat)
	c.Scale = 2
	_, err := CreateTable(ctx, db, TableSpec{Name: "bad", SRID: 3857, Bounds: domain.BoundingBox{MaxX: 1, MaxY: 1}, Coverage: c})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("float with scale error = %v", err)
	}

	if _, err := ParseInterpolation("cubic"); err == nil {
		t.Error("ParseInterpolation(cubic) should fail")
	}
}
