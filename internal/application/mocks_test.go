package application

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jobrunner/geopack/internal/domain"
	"github.com/jobrunner/geopack/internal/ports/output"
	"github.com/jobrunner/geopack/internal/tilegen"
)

// mockRepository implements output.GeoPackageRepository for testing.
type mockRepository struct {
	mu       sync.Mutex
	packages map[string]*domain.GeoPackage
	features map[string][]domain.Feature // key: package:table
	tiles    map[string][]byte           // key: package:table
	values   map[string]float64          // key: package:table
	openErr  error
	indexErr error

	indexed    map[string]bool // key: package:table
	indexCalls int
	tileCalls  int
	queries    []domain.FeatureQuery
}

func (m *mockRepository) Open(_ context.Context, path string) (*domain.GeoPackage, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	if pkg, ok := m.packages[path]; ok {
		cp := *pkg
		return &cp, nil
	}
	return &domain.GeoPackage{
		ID:   derivePackageID(path),
		Name: path,
		Path: path,
	}, nil
}

func (m *mockRepository) Close(_ context.Context, _ string) error {
	return nil
}

func (m *mockRepository) lookup(packageID string) (*domain.GeoPackage, bool) {
	for _, pkg := range m.packages {
		if pkg.ID == packageID {
			return pkg, true
		}
	}
	return nil, false
}

func (m *mockRepository) Tables(_ context.Context, packageID string) ([]domain.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pkg, ok := m.lookup(packageID)
	if !ok {
		return nil, nil
	}
	tables := make([]domain.Table, len(pkg.Tables))
	copy(tables, pkg.Tables)
	for i := range tables {
		if tables[i].DataType == domain.DataTypeFeatures && m.indexed[packageID+":"+tables[i].Name] {
			tables[i].IndexState = domain.IndexStateIndexed
		}
	}
	return tables, nil
}

func (m *mockRepository) IndexTable(_ context.Context, packageID, table string, force bool) (domain.IndexReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexCalls++
	report := domain.IndexReport{PackageID: packageID, Table: table}
	if m.indexErr != nil {
		return report, m.indexErr
	}
	if m.indexed == nil {
		m.indexed = make(map[string]bool)
	}
	key := packageID + ":" + table
	if m.indexed[key] && !force {
		return report, nil
	}
	m.indexed[key] = true
	report.Rebuilt = true
	report.Count = int64(len(m.features[key]))
	return report, nil
}

func (m *mockRepository) QueryFeatures(_ context.Context, packageID, table string, q domain.FeatureQuery) ([]domain.Feature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, q)
	features := m.features[packageID+":"+table]
	if q.Limit > 0 && len(features) > q.Limit {
		features = features[:q.Limit]
	}
	return features, nil
}

func (m *mockRepository) Tile(_ context.Context, packageID, table string, cell domain.GridCell) (domain.Tile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tileCalls++
	data, ok := m.tiles[packageID+":"+table]
	if !ok || cell.Zoom != 0 {
		return domain.Tile{}, domain.ErrTileNotFound
	}
	return domain.Tile{ZoomLevel: cell.Zoom, Column: cell.Column, Row: cell.Row, Data: data}, nil
}

func (m *mockRepository) CoverageValue(_ context.Context, packageID, table string, at domain.Coordinate, _ string) (domain.CoverageValue, error) {
	v, ok := m.values[packageID+":"+table]
	return domain.CoverageValue{PackageID: packageID, Table: table, Coordinate: at, Value: v, NoData: !ok}, nil
}

// mockStorage implements output.ObjectStorage for testing.
type mockStorage struct {
	mu          sync.Mutex
	objects     []output.StorageObject
	downloadErr error
	listErr     error
}

func (m *mockStorage) setObjects(objects []output.StorageObject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects = objects
}

func (m *mockStorage) List(_ context.Context) ([]output.StorageObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.objects, nil
}

func (m *mockStorage) Download(_ context.Context, _, _ string) error {
	return m.downloadErr
}

func (m *mockStorage) GetReader(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, nil
}

func (m *mockStorage) Exists(_ context.Context, _ string) (bool, error) {
	return true, nil
}

// mockTransformer implements output.CoordinateTransformer for testing.
type mockTransformer struct {
	supported map[int]bool
}

func (m *mockTransformer) TransformCoordinate(_ context.Context, c domain.Coordinate, to int) (domain.Coordinate, error) {
	if !m.supported[to] {
		return domain.Coordinate{}, domain.ErrUnsupportedProjection
	}
	c.SRID = to
	return c, nil
}

func (m *mockTransformer) TransformBBox(_ context.Context, b domain.BoundingBox, to int) (domain.BoundingBox, error) {
	if !m.supported[to] {
		return domain.BoundingBox{}, domain.ErrUnsupportedProjection
	}
	b.SRID = to
	return b, nil
}

func (m *mockTransformer) Supports(_ context.Context, srid int) bool {
	return m.supported[srid]
}

// mockBuilder implements output.TileBuilder for testing.
type mockBuilder struct {
	result tilegen.Result
	err    error
	jobs   []*tilegen.Job
}

func (m *mockBuilder) BuildTiles(_ context.Context, job *tilegen.Job, progress tilegen.ProgressFunc) (tilegen.Result, error) {
	m.jobs = append(m.jobs, job)
	if progress != nil {
		progress(m.result.Count, m.result.Count)
	}
	return m.result, m.err
}

// recordingMetrics counts the observations the services make.
type recordingMetrics struct {
	output.NoOpMetrics
	mu        sync.Mutex
	indexes   int
	tileHits  int
	tileMiss  int
	generated map[string]int64
}

func (m *recordingMetrics) ObserveIndex(_ string, _, _ int64, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexes++
}

func (m *recordingMetrics) IncTileRequests(_ string, hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.tileHits++
	} else {
		m.tileMiss++
	}
}

func (m *recordingMetrics) AddTilesGenerated(outcome string, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generated == nil {
		m.generated = make(map[string]int64)
	}
	m.generated[outcome] += n
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestRegistry() *PackageRegistry {
	return NewPackageRegistry(&mockRepository{}, &mockStorage{}, &output.NoOpMetrics{}, discardLogger(), RegistryConfig{LocalPath: "/tmp"})
}

// addReadyPackage registers pkg as ready without going through the repository.
func addReadyPackage(r *PackageRegistry, pkg *domain.GeoPackage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packages[pkg.ID] = &packageEntry{Package: pkg, Status: domain.StatusReady}
}
