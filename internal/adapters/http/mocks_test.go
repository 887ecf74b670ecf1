package http

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jobrunner/geopack/internal/application"
	"github.com/jobrunner/geopack/internal/config"
	"github.com/jobrunner/geopack/internal/domain"
	"github.com/jobrunner/geopack/internal/geom"
	"github.com/jobrunner/geopack/internal/ports/output"
)

// mockRepository serves one package, "city", with a point table, a tile
// table and a coverage.
type mockRepository struct {
	indexed bool
}

const cityPath = "/data/city.gpkg"

func (m *mockRepository) Open(_ context.Context, path string) (*domain.GeoPackage, error) {
	if path != cityPath {
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: domain.ErrObjectNotFound}
	}
	tables, _ := m.Tables(context.Background(), "city")
	return &domain.GeoPackage{ID: "city", Name: "city", Path: path, Tables: tables, Description: "test city"}, nil
}

func (m *mockRepository) Close(_ context.Context, _ string) error {
	return nil
}

func (m *mockRepository) Tables(_ context.Context, _ string) ([]domain.Table, error) {
	state := domain.IndexStateNotIndexed
	if m.indexed {
		state = domain.IndexStateIndexed
	}
	return []domain.Table{
		{Name: "poi", DataType: domain.DataTypeFeatures, SRID: 4326, GeometryColumn: "geom", GeometryType: "POINT", IndexState: state, FeatureCount: 1},
		{Name: "basemap", DataType: domain.DataTypeTiles, SRID: 3857, MaxZoom: 3},
		{Name: "dem", DataType: domain.DataTypeGriddedCoverage, SRID: 4326},
	}, nil
}

func (m *mockRepository) IndexTable(_ context.Context, packageID, table string, force bool) (domain.IndexReport, error) {
	rebuilt := force || !m.indexed
	m.indexed = true
	return domain.IndexReport{PackageID: packageID, Table: table, Count: 1, Rebuilt: rebuilt}, nil
}

func (m *mockRepository) QueryFeatures(_ context.Context, _, table string, q domain.FeatureQuery) ([]domain.Feature, error) {
	if !m.indexed {
		return nil, &domain.NotIndexedError{Table: table}
	}
	if q.BBox != nil && !q.BBox.Contains(domain.NewWGS84Coordinate(7.44, 46.95)) {
		return nil, nil
	}
	blob, err := geom.Encode(geom.NewPoint(7.44, 46.95), 4326, geom.EncodeOptions{})
	if err != nil {
		return nil, err
	}
	return []domain.Feature{{
		ID:         1,
		Table:      table,
		Geometry:   domain.Geometry{Type: "POINT", WKB: blob, SRID: 4326},
		Properties: map[string]interface{}{"name": "Bern"},
	}}, nil
}

var pngTile = []byte("\x89PNG\r\n\x1a\n tile")

func (m *mockRepository) Tile(_ context.Context, _, _ string, cell domain.GridCell) (domain.Tile, error) {
	if cell != (domain.GridCell{Zoom: 1, Column: 1, Row: 0}) {
		return domain.Tile{}, domain.ErrTileNotFound
	}
	return domain.Tile{ZoomLevel: 1, Column: 1, Data: pngTile}, nil
}

func (m *mockRepository) CoverageValue(_ context.Context, packageID, table string, at domain.Coordinate, interpolation string) (domain.CoverageValue, error) {
	if interpolation == "cubic" {
		return domain.CoverageValue{}, &domain.ValidationError{Field: "interpolation", Value: interpolation, Message: "unknown interpolation"}
	}
	v := domain.CoverageValue{PackageID: packageID, Table: table, Coordinate: at, Value: 540, UOM: "m"}
	if at.X > 10 {
		v.NoData, v.Value = true, 0
	}
	return v, nil
}

type mockStorage struct{}

func (m *mockStorage) List(_ context.Context) ([]output.StorageObject, error) {
	return []output.StorageObject{{Key: "city.gpkg"}}, nil
}

func (m *mockStorage) Download(_ context.Context, _, _ string) error {
	return nil
}

func (m *mockStorage) GetReader(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, domain.ErrObjectNotFound
}

func (m *mockStorage) Exists(_ context.Context, _ string) (bool, error) {
	return true, nil
}

type mockTransformer struct{}

func (mockTransformer) TransformCoordinate(_ context.Context, c domain.Coordinate, to int) (domain.Coordinate, error) {
	c.SRID = to
	return c, nil
}

func (mockTransformer) TransformBBox(_ context.Context, b domain.BoundingBox, to int) (domain.BoundingBox, error) {
	b.SRID = to
	return b, nil
}

func (mockTransformer) Supports(_ context.Context, srid int) bool {
	return srid == domain.SRIDWGS84 || srid == domain.SRIDWebMercator
}

type testServer struct {
	*Server
	repo     *mockRepository
	registry *application.PackageRegistry
}

// newTestServer wires the real application services to the mocks. With
// load set the city package is loaded and indexed.
func newTestServer(t *testing.T, load bool, cfg config.ServerConfig) *testServer {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	repo := &mockRepository{}
	metrics := &output.NoOpMetrics{}

	registry := application.NewPackageRegistry(repo, &mockStorage{}, metrics, logger,
		application.RegistryConfig{LocalPath: "/data", AutoIndex: true})
	if load {
		if err := registry.LoadPackage(context.Background(), cityPath); err != nil {
			t.Fatal(err)
		}
	}
	query, err := application.NewQueryService(registry, repo, mockTransformer{}, metrics, logger,
		application.QueryServiceConfig{MaxFeatures: 100, TileCacheSize: 16})
	if err != nil {
		t.Fatal(err)
	}
	sync := application.NewSyncService(registry, time.Hour, logger)

	if cfg.Port == 0 {
		cfg = config.ServerConfig{Host: "localhost", Port: 8080, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}
	}
	srv := NewServer(cfg, query, registry, application.NewHealthService(registry), sync, logger)
	return &testServer{Server: srv, repo: repo, registry: registry}
}
