package tilegen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jobrunner/geopack/internal/domain"
	"github.com/jobrunner/geopack/internal/featureindex"
	"github.com/jobrunner/geopack/internal/geom"
	"github.com/jobrunner/geopack/internal/gpkg"
	"github.com/jobrunner/geopack/internal/projection"
	"github.com/jobrunner/geopack/internal/tilegrid"
)

const half = tilegrid.WebMercatorHalfWorld

func newDB(t *testing.T) *gpkg.DB {
	t.Helper()
	db, err := gpkg.Create(context.Background(), filepath.Join(t.TempDir(), "tiles.gpkg"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func worldMercator() domain.BoundingBox {
	return domain.BoundingBox{MinX: -half, MinY: -half, MaxX: half, MaxY: half, SRID: domain.SRIDWebMercator}
}

func openTiles(t *testing.T, db *gpkg.DB, name string) *gpkg.TileTable {
	t.Helper()
	tt, err := gpkg.OpenTileTable(context.Background(), db, name)
	if err != nil {
		t.Fatalf("OpenTileTable() error = %v", err)
	}
	return tt
}

func TestGenerateFromURLSkipsMissingTiles(t *testing.T) {
	tile := pngTile(t, color.RGBA{R: 255, A: 255})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/1/1/1.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(tile)
	}))
	defer srv.Close()

	ctx := context.Background()
	db := newDB(t)
	gen, err := New(db, NewURLSource(srv.URL+"/{z}/{x}/{y}.png", false, 0), Config{
		Table:   "osm",
		MinZoom: 0,
		MaxZoom: 1,
		BBox:    worldMercator(),
	}, WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := gen.TileCount(ctx); n != 5 {
		t.Errorf("TileCount() = %d, want 5", n)
	}

	var progress []int64
	res, err := gen.Generate(ctx, func(processed, total int64) {
		if total != 5 {
			t.Errorf("progress total = %d", total)
		}
		progress = append(progress, processed)
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Count != 4 || res.Skipped != 1 || res.Failed != 0 || res.Cancelled {
		t.Errorf("Generate() = %+v", res)
	}
	if len(progress) != 5 || progress[4] != 5 {
		t.Errorf("progress = %v", progress)
	}

	tt := openTiles(t, db, "osm")
	if n, _ := tt.CountTiles(ctx, db.SQL(), 1); n != 3 {
		t.Errorf("zoom 1 tiles = %d, want 3", n)
	}
	if _, err := tt.Tile(ctx, db.SQL(), 1, 1, 1); !errors.Is(err, domain.ErrTileNotFound) {
		t.Errorf("missing source tile stored: %v", err)
	}
	got, err := tt.Tile(ctx, db.SQL(), 0, 0, 0)
	if err != nil || !bytes.Equal(got.Data, tile) {
		t.Errorf("zoom 0 tile = %v, %v", len(got.Data), err)
	}

	matrices, err := db.TileMatrices(ctx, "osm")
	if err != nil {
		t.Fatal(err)
	}
	if len(matrices) != 2 || matrices[1].MatrixWidth != 2 || matrices[1].TileWidth != 256 {
		t.Errorf("tile matrices = %+v", matrices)
	}
	wantPixel := 2 * half / 512
	if math.Abs(matrices[1].PixelXSize-wantPixel) > 1e-6 {
		t.Errorf("zoom 1 pixel size = %v, want %v", matrices[1].PixelXSize, wantPixel)
	}
}

func TestGenerateAddressing(t *testing.T) {
	ne := domain.BoundingBox{MinX: 1, MinY: 1, MaxX: half - 1, MaxY: half - 1, SRID: domain.SRIDWebMercator}

	tests := []struct {
		name       string
		format     Format
		wantBounds domain.BoundingBox
		wantWidth  int // at zoom 2
		wantCell   [2]int
	}{
		{
			name:       "geopackage",
			format:     FormatGeoPackage,
			wantBounds: domain.BoundingBox{MinX: 0, MinY: 0, MaxX: half, MaxY: half},
			wantWidth:  2,
			wantCell:   [2]int{0, 0},
		},
		{
			name:       "xyz",
			format:     FormatXYZ,
			wantBounds: worldMercator(),
			wantWidth:  4,
			wantCell:   [2]int{2, 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			db := newDB(t)
			src := &fakeSource{tile: pngTile(t, color.Black)}
			gen, err := New(db, src, Config{Table: "t", MinZoom: 1, MaxZoom: 2, BBox: ne, Format: tt.format})
			if err != nil {
				t.Fatal(err)
			}
			res, err := gen.Generate(ctx, nil)
			if err != nil {
				t.Fatal(err)
			}
			if res.Count != 5 {
				t.Errorf("Count = %d, want 5", res.Count)
			}
			// requests always carry world XYZ cells
			for _, r := range src.requests {
				if r.Cell.Zoom == 2 && (r.Cell.Column < 2 || r.Cell.Row > 1) {
					t.Errorf("request outside the north east quadrant: %+v", r.Cell)
				}
			}

			tms, err := db.TileMatrixSet(ctx, "t")
			if err != nil {
				t.Fatal(err)
			}
			b := tms.BoundingBox
			if math.Abs(b.MinX-tt.wantBounds.MinX) > 1e-6 || math.Abs(b.MaxY-tt.wantBounds.MaxY) > 1e-6 ||
				math.Abs(b.MaxX-tt.wantBounds.MaxX) > 1e-6 || math.Abs(b.MinY-tt.wantBounds.MinY) > 1e-6 {
				t.Errorf("matrix set bounds = %s, want %s", b, tt.wantBounds)
			}
			tm, err := db.TileMatrix(ctx, "t", 2)
			if err != nil {
				t.Fatal(err)
			}
			if tm.MatrixWidth != tt.wantWidth || tm.MatrixHeight != tt.wantWidth {
				t.Errorf("zoom 2 matrix = %dx%d", tm.MatrixWidth, tm.MatrixHeight)
			}
			if _, err := openTiles(t, db, "t").Tile(ctx, db.SQL(), 2, tt.wantCell[0], tt.wantCell[1]); err != nil {
				t.Errorf("north west tile of the quadrant at zoom 2: %v", err)
			}
		})
	}
}

func TestGenerateIntoExistingTable(t *testing.T) {
	nw := domain.BoundingBox{MinX: -half + 1, MinY: 1, MaxX: -1, MaxY: half - 1, SRID: domain.SRIDWebMercator}
	se := domain.BoundingBox{MinX: 1, MinY: -half + 1, MaxX: half - 1, MaxY: -1, SRID: domain.SRIDWebMercator}
	type job struct {
		bbox domain.BoundingBox
		tile []byte
		col  int
		row  int
	}
	red := pngTile(t, color.RGBA{R: 255, A: 255})
	blue := pngTile(t, color.RGBA{B: 255, A: 255})
	a := job{bbox: nw, tile: red, col: 0, row: 0}
	b := job{bbox: se, tile: blue, col: 1, row: 1}

	tests := []struct {
		name string
		jobs []job
	}{
		{"north west first", []job{a, b}},
		{"south east first", []job{b, a}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			db := newDB(t)
			for _, j := range tt.jobs {
				gen, err := New(db, &fakeSource{tile: j.tile}, Config{Table: "t", MinZoom: 1, MaxZoom: 1, BBox: j.bbox},
					WithLogger(slog.New(slog.DiscardHandler)))
				if err != nil {
					t.Fatal(err)
				}
				if res, err := gen.Generate(ctx, nil); err != nil || res.Count != 1 {
					t.Fatalf("Generate() = %+v, %v", res, err)
				}
			}

			tms, err := db.TileMatrixSet(ctx, "t")
			if err != nil {
				t.Fatal(err)
			}
			w := worldMercator()
			if b := tms.BoundingBox; math.Abs(b.MinX-w.MinX) > 1e-6 || math.Abs(b.MinY-w.MinY) > 1e-6 ||
				math.Abs(b.MaxX-w.MaxX) > 1e-6 || math.Abs(b.MaxY-w.MaxY) > 1e-6 {
				t.Errorf("matrix set bounds = %s, want the world", b)
			}
			tm, err := db.TileMatrix(ctx, "t", 1)
			if err != nil {
				t.Fatal(err)
			}
			if tm.MatrixWidth != 2 || tm.MatrixHeight != 2 {
				t.Errorf("zoom 1 matrix = %dx%d, want 2x2", tm.MatrixWidth, tm.MatrixHeight)
			}
			tiles := openTiles(t, db, "t")
			if n, _ := tiles.CountTiles(ctx, db.SQL(), -1); n != 2 {
				t.Errorf("stored tiles = %d, want 2", n)
			}
			for _, j := range []job{a, b} {
				got, err := tiles.Tile(ctx, db.SQL(), 1, j.col, j.row)
				if err != nil {
					t.Errorf("Tile(1, %d, %d) error = %v", j.col, j.row, err)
					continue
				}
				if !bytes.Equal(got.Data, j.tile) {
					t.Errorf("Tile(1, %d, %d) holds the wrong image", j.col, j.row)
				}
			}
		})
	}
}

func TestGenerateRejectsMismatchedTable(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	src := &fakeSource{tile: pngTile(t, color.Black)}
	gen, err := New(db, src, Config{Table: "t", MinZoom: 1, MaxZoom: 1, BBox: worldMercator()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gen.Generate(ctx, nil); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		cfg  Config
	}{
		{"srs", Config{Table: "t", MinZoom: 1, MaxZoom: 1, BBox: domain.WorldWGS84(), SRID: domain.SRIDWGS84}},
		{"tile size", Config{Table: "t", MinZoom: 1, MaxZoom: 1, BBox: worldMercator(), TileSize: 512}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen, err := New(db, src, tt.cfg)
			if err != nil {
				t.Fatal(err)
			}
			var ve *domain.ValidationError
			if _, err := gen.Generate(ctx, nil); !errors.As(err, &ve) {
				t.Errorf("Generate() error = %v, want a validation error", err)
			}
		})
	}
}

func TestGenerateReprojectsBBox(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{tile: pngTile(t, color.Black)}
	// a small box around lon 10, lat 50 lies in one zoom 3 tile
	gen, err := New(newDB(t), src, Config{
		Table:   "t",
		MinZoom: 3,
		MaxZoom: 3,
		BBox:    domain.NewBoundingBox(10, 50, 10.1, 50.1, domain.SRIDWGS84),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gen.Generate(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if src.count() != 1 {
		t.Fatalf("requests = %d, want 1", src.count())
	}
	r := src.requests[0]
	want := tilegrid.CellAt(10.05, 50.05, 3)
	if r.Cell != want {
		t.Errorf("requested %+v, want %+v", r.Cell, want)
	}
	if r.LonLat.MinX > 10 || r.LonLat.MaxX < 10.1 || r.LonLat.SRID != domain.SRIDWGS84 {
		t.Errorf("request lon/lat bounds = %s", r.LonLat)
	}
}

func TestGenerateCancelKeepsPartialResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	db := newDB(t)
	tile := pngTile(t, color.Black)
	src := &fakeSource{}
	src.fetch = func(context.Context, Request) ([]byte, error) {
		if src.count() == 2 {
			cancel()
		}
		return tile, nil
	}
	gen, err := New(db, src, Config{Table: "t", MinZoom: 0, MaxZoom: 2, BBox: worldMercator()}, WithBatchSize(1))
	if err != nil {
		t.Fatal(err)
	}
	res, err := gen.Generate(ctx, nil)
	if err != nil {
		t.Fatalf("cancelled build returned error %v", err)
	}
	if !res.Cancelled || res.Count != 2 {
		t.Errorf("Generate() = %+v, want cancelled with 2 tiles", res)
	}
	if n, _ := openTiles(t, db, "t").CountTiles(context.Background(), db.SQL(), -1); n != 2 {
		t.Errorf("stored tiles = %d", n)
	}
	// every zoom level reached has its matrix row
	if ms, _ := db.TileMatrices(context.Background(), "t"); len(ms) != 2 {
		t.Errorf("tile matrices after cancel = %d", len(ms))
	}
}

func TestGenerateCancelOnHugeGrid(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	db := newDB(t)
	tile := pngTile(t, color.Black)
	src := &fakeSource{}
	src.fetch = func(context.Context, Request) ([]byte, error) {
		cancel()
		return tile, nil
	}
	// 2^40 cells at zoom 20; walking them must not materialize the grid
	gen, err := New(db, src, Config{Table: "t", MinZoom: 20, MaxZoom: 20, BBox: worldMercator()},
		WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := gen.TileCount(ctx); n != 1<<40 {
		t.Errorf("TileCount() = %d, want %d", n, int64(1)<<40)
	}

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := gen.Generate(ctx, nil)
		done <- outcome{res, err}
	}()
	select {
	case out := <-done:
		if out.err != nil {
			t.Fatalf("Generate() error = %v", out.err)
		}
		if !out.res.Cancelled || out.res.Count != 1 || src.count() != 1 {
			t.Errorf("Generate() = %+v after %d fetches, want cancelled with 1 tile", out.res, src.count())
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Generate() did not return after cancellation")
	}
	if _, err := openTiles(t, db, "t").Tile(context.Background(), db.SQL(), 20, 0, 0); err != nil {
		t.Errorf("first cell not stored: %v", err)
	}
}

func TestGenerateSkipsFailedCells(t *testing.T) {
	var logs bytes.Buffer
	tile := pngTile(t, color.Black)
	src := &fakeSource{fetch: func(_ context.Context, r Request) ([]byte, error) {
		switch {
		case r.Cell.Zoom == 1 && r.Cell.Column == 0 && r.Cell.Row == 0:
			return nil, errors.New("connection reset")
		case r.Cell.Zoom == 1 && r.Cell.Column == 1 && r.Cell.Row == 0:
			return []byte("not an image"), nil
		}
		return tile, nil
	}}
	gen, err := New(newDB(t), src, Config{
		Table:       "t",
		MinZoom:     0,
		MaxZoom:     1,
		BBox:        worldMercator(),
		ImageFormat: "jpeg",
	}, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	if err != nil {
		t.Fatal(err)
	}
	res, err := gen.Generate(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 3 || res.Failed != 2 {
		t.Errorf("Generate() = %+v", res)
	}
	if !strings.Contains(logs.String(), "connection reset") {
		t.Errorf("fetch failure not logged: %s", logs.String())
	}
}

func TestGenerateTranscodes(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	src := &fakeSource{tile: pngTile(t, color.RGBA{G: 200, A: 255})}
	gen, err := New(db, src, Config{Table: "t", MaxZoom: 0, BBox: worldMercator(), ImageFormat: "jpg", Quality: 90})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gen.Generate(ctx, nil); err != nil {
		t.Fatal(err)
	}
	tile, err := openTiles(t, db, "t").Tile(ctx, db.SQL(), 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(tile.Data)); err != nil {
		t.Errorf("stored tile is not jpeg: %v", err)
	}
}

func TestNewValidates(t *testing.T) {
	src := &fakeSource{}
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no table", Config{MaxZoom: 1, BBox: worldMercator()}},
		{"inverted zooms", Config{Table: "t", MinZoom: 3, MaxZoom: 1, BBox: worldMercator()}},
		{"zoom too deep", Config{Table: "t", MaxZoom: 30, BBox: worldMercator()}},
		{"bad bbox", Config{Table: "t", BBox: domain.BoundingBox{MinX: 1, MaxX: 0}}},
		{"bad format", Config{Table: "t", BBox: worldMercator(), Format: "mbtiles"}},
		{"bad image format", Config{Table: "t", BBox: worldMercator(), ImageFormat: "gif"}},
		{"no scheme", Config{Table: "t", BBox: worldMercator(), SRID: 25832}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(nil, src, tt.cfg); err == nil {
				t.Error("New() accepted invalid config")
			}
		})
	}
	if _, err := New(nil, nil, Config{Table: "t", BBox: worldMercator()}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("New() without source error = %v", err)
	}
}

func TestGenerateRendersFeatures(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	ft, err := gpkg.CreateFeatureTable(ctx, db, gpkg.FeatureTableSpec{
		Name:         "poi",
		GeometryType: geom.TypePoint,
		SRID:         domain.SRIDWGS84,
	})
	if err != nil {
		t.Fatal(err)
	}
	blob, err := geom.Encode(geom.NewPoint(10, 10), domain.SRIDWGS84, geom.EncodeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ft.Insert(ctx, db.SQL(), gpkg.FeatureRow{Geometry: blob}); err != nil {
		t.Fatal(err)
	}
	reg, err := projection.NewRegistry(128)
	if err != nil {
		t.Fatal(err)
	}
	ix := featureindex.New(db, ft, featureindex.WithProjections(reg))
	if _, err := ix.IndexTable(ctx, nil); err != nil {
		t.Fatal(err)
	}

	src := &FeatureSource{Features: ix, SRID: domain.SRIDWGS84, Projections: reg}
	gen, err := New(db, src, Config{Table: "rendered", MaxZoom: 1, BBox: worldMercator()}, WithProjections(reg))
	if err != nil {
		t.Fatal(err)
	}
	res, err := gen.Generate(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 2 || res.Skipped != 3 {
		t.Fatalf("Generate() = %+v, want the two tiles holding the point", res)
	}

	tile, err := openTiles(t, db, "rendered").Tile(ctx, db.SQL(), 1, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	img, _, err := image.Decode(bytes.NewReader(tile.Data))
	if err != nil {
		t.Fatal(err)
	}
	// lon 10 lat 10 falls at about pixel (14, 242) of the north east tile
	if _, _, _, a := img.At(14, 242).RGBA(); a == 0 {
		t.Error("point not drawn")
	}
	if _, _, _, a := img.At(128, 128).RGBA(); a != 0 {
		t.Error("tile center painted")
	}
}

func TestStorageSource(t *testing.T) {
	tile := []byte("tile")
	src := &StorageSource{
		Storage: &mockObjects{objects: map[string][]byte{"tiles/2/1/2.png": tile}},
		Pattern: "tiles/{z}/{x}/{y}.png",
		TMS:     true,
	}
	// XYZ row 1 at zoom 2 is TMS row 2
	got, err := src.Fetch(context.Background(), Request{Cell: domain.GridCell{Zoom: 2, Column: 1, Row: 1}})
	if err != nil || string(got) != "tile" {
		t.Errorf("Fetch() = %q, %v", got, err)
	}
	_, err = src.Fetch(context.Background(), Request{Cell: domain.GridCell{Zoom: 2, Column: 0, Row: 0}})
	if !errors.Is(err, ErrNoTile) {
		t.Errorf("Fetch(missing) error = %v", err)
	}
	if key := (&StorageSource{}).Key(Request{Cell: domain.GridCell{Zoom: 3, Column: 4, Row: 5}}); key != "3/4/5.png" {
		t.Errorf("default key = %q", key)
	}
}

func TestURLSourceTemplate(t *testing.T) {
	req := Request{
		Cell:   domain.GridCell{Zoom: 3, Column: 4, Row: 1},
		Bounds: domain.BoundingBox{MinX: -1.5, MinY: 2, MaxX: 3, MaxY: 4},
		LonLat: domain.BoundingBox{MinX: 5, MinY: 6, MaxX: 7, MaxY: 8.25},
		Width:  256, Height: 256,
	}
	tests := []struct {
		template string
		tms      bool
		want     string
	}{
		{"http://t/{z}/{x}/{y}.png", false, "http://t/3/4/1.png"},
		{"http://t/{z}/{x}/{y}.png", true, "http://t/3/4/6.png"},
		{"http://t/wms?bbox={minLon},{minLat},{maxLon},{maxLat}", false, "http://t/wms?bbox=5,6,7,8.25"},
		{"http://t/wms?bbox={minX},{minY},{maxX},{maxY}&w={width}&h={height}", false, "http://t/wms?bbox=-1.5,2,3,4&w=256&h=256"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s tms=%v", tt.template, tt.tms), func(t *testing.T) {
			s := &URLSource{Template: tt.template, TMS: tt.tms}
			if got := s.URL(req); got != tt.want {
				t.Errorf("URL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestURLSourceStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/empty":
			w.WriteHeader(http.StatusNoContent)
		case "/boom":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	for path, noTile := range map[string]bool{"/empty": true, "/missing": true, "/boom": false} {
		_, err := NewURLSource(srv.URL+path, false, 0).Fetch(ctx, Request{})
		if errors.Is(err, ErrNoTile) != noTile || err == nil {
			t.Errorf("Fetch(%s) error = %v", path, err)
		}
	}
}
