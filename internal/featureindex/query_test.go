package featureindex

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/jobrunner/geopack/internal/domain"
	"github.com/jobrunner/geopack/internal/geom"
	"github.com/jobrunner/geopack/internal/gpkg"
	"github.com/jobrunner/geopack/internal/projection"
)

func indexedFixture(t *testing.T) (fixture, *Indexer) {
	t.Helper()
	f := newFixture(t, 4326)
	f.insert(t, pointBlob(t, 0, 0, 4326), "a")
	f.insert(t, pointBlob(t, 1, 1, 4326), "a")
	f.insert(t, pointBlob(t, 2, 2, 4326), "b")
	f.insert(t, pointBlob(t, 3, 3, 4326), "c")
	f.insert(t, pointBlob(t, 50, 50, 4326), "a")
	ix := New(f.db, f.table)
	if _, err := ix.IndexTable(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	return f, ix
}

func ids(rows []gpkg.FeatureRow) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestQueryFilters(t *testing.T) {
	ctx := context.Background()
	_, ix := indexedFixture(t)
	window := &domain.BoundingBox{MinX: -1, MinY: -1, MaxX: 3, MaxY: 3}

	tests := []struct {
		name   string
		filter Filter
		want   []int64
	}{
		{"all", Filter{OrderBy: "fid"}, []int64{1, 2, 3, 4, 5}},
		{"bbox", Filter{BBox: window, OrderBy: "fid"}, []int64{1, 2, 3, 4}},
		{"bbox edge touches", Filter{BBox: &domain.BoundingBox{MinX: 3, MinY: 3, MaxX: 4, MaxY: 4}}, []int64{4}},
		{"envelope", Filter{Envelope: &geom.Envelope{MinX: 40, MaxX: 60, MinY: 40, MaxY: 60}}, []int64{5}},
		{"fields", Filter{BBox: window, Fields: map[string]any{"name": "a"}, OrderBy: "fid"}, []int64{1, 2}},
		{"where", Filter{BBox: window, Where: "name <> ?", Args: []any{"a"}, OrderBy: "fid"}, []int64{3, 4}},
		{"paged", Filter{BBox: window, OrderBy: "fid DESC", Limit: 2, Offset: 1}, []int64{3, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := ix.QueryFeatures(ctx, tt.filter)
			if err != nil {
				t.Fatalf("QueryFeatures() error = %v", err)
			}
			if got := ids(rows); !equalIDs(got, tt.want) {
				t.Errorf("QueryFeatures() ids = %v, want %v", got, tt.want)
			}
			n, err := ix.CountFeatures(ctx, tt.filter)
			if err != nil {
				t.Fatalf("CountFeatures() error = %v", err)
			}
			if tt.filter.Limit == 0 && n != int64(len(tt.want)) {
				t.Errorf("CountFeatures() = %d, want %d", n, len(tt.want))
			}
		})
	}
}

func TestQueryDistinctColumns(t *testing.T) {
	ctx := context.Background()
	_, ix := indexedFixture(t)
	f := Filter{
		BBox:     &domain.BoundingBox{MinX: -1, MinY: -1, MaxX: 3, MaxY: 3},
		Columns:  []string{"name"},
		Distinct: true,
		OrderBy:  "name",
	}
	rows, err := ix.QueryFeatures(ctx, f)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 || rows[0].Values["name"] != "a" || rows[2].Values["name"] != "c" {
		t.Errorf("distinct rows = %+v", rows)
	}
	if n, _ := ix.CountFeatures(ctx, f); n != 3 {
		t.Errorf("distinct count = %d", n)
	}

	if _, err := ix.QueryFeatures(ctx, Filter{Columns: []string{"nope"}}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("unknown column error = %v", err)
	}
	if _, err := ix.QueryFeatures(ctx, Filter{BBox: &domain.BoundingBox{MinX: 1, MaxX: 0}}); !errors.Is(err, domain.ErrInvalidBoundingBox) {
		t.Errorf("inverted bbox error = %v", err)
	}
}

func TestQueryForeignProjection(t *testing.T) {
	ctx := context.Background()
	reg, err := projection.NewRegistry(64)
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, 3857)
	for _, lonlat := range []orb.Point{{0, 0}, {10, 10}} {
		p, err := reg.TransformPoint(ctx, lonlat, 4326, 3857)
		if err != nil {
			t.Fatal(err)
		}
		f.insert(t, pointBlob(t, p[0], p[1], 3857), "p")
	}

	ix := New(f.db, f.table, WithProjections(reg))
	if _, err := ix.IndexTable(ctx, nil); err != nil {
		t.Fatal(err)
	}
	rows, err := ix.QueryBBox(ctx, domain.BoundingBox{MinX: -1, MinY: -1, MaxX: 1, MaxY: 1, SRID: 4326})
	if err != nil {
		t.Fatalf("QueryBBox() error = %v", err)
	}
	if !equalIDs(ids(rows), []int64{1}) {
		t.Errorf("QueryBBox() ids = %v", ids(rows))
	}

	plain := New(f.db, f.table)
	_, err = plain.QueryBBox(ctx, domain.BoundingBox{MinX: -1, MinY: -1, MaxX: 1, MaxY: 1, SRID: 4326})
	var pe *domain.ProjectionError
	if !errors.As(err, &pe) {
		t.Errorf("query without projections error = %v", err)
	}
}

func TestEntriesCarryZ(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 4326)
	blob, err := geom.Encode(geom.NewPointZ(1, 2, 30), 4326, geom.EncodeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	f.insert(t, blob, "z")
	ix := New(f.db, f.table)
	if _, err := ix.IndexTable(ctx, nil); err != nil {
		t.Fatal(err)
	}

	entries, err := ix.Entries(ctx, nil)
	if err != nil || len(entries) != 1 {
		t.Fatalf("Entries() = %v, %v", entries, err)
	}
	e := entries[0].Envelope
	if !e.HasZ || e.MinZ != 30 || e.MaxZ != 30 || e.HasM {
		t.Errorf("entry envelope = %+v", e)
	}

	low := geom.Envelope{MinX: 0, MaxX: 5, MinY: 0, MaxY: 5, MinZ: 0, MaxZ: 10, HasZ: true}
	if entries, _ := ix.Entries(ctx, &low); len(entries) != 0 {
		t.Errorf("z window below the point matched %v", entries)
	}
}

func TestFeatureSharesConcurrentFetches(t *testing.T) {
	var calls atomic.Int32
	started := make(chan int64, 10)
	release := make(chan struct{})
	cache := NewRowCache(func(_ context.Context, id int64) (gpkg.FeatureRow, error) {
		calls.Add(1)
		started <- id
		<-release
		return gpkg.FeatureRow{ID: id}, nil
	})

	ctx := context.Background()
	var wg sync.WaitGroup
	results := make([]gpkg.FeatureRow, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			row, err := cache.Get(ctx, 7)
			if err != nil {
				t.Errorf("Get() error = %v", err)
			}
			results[i] = row
		}(i)
	}
	<-started
	// give the remaining callers time to join the flight
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("fetch ran %d times, want 1", calls.Load())
	}
	for _, r := range results {
		if r.ID != 7 {
			t.Errorf("shared result = %+v", r)
		}
	}
}

func TestRowCacheDistinctIDsRunInParallel(t *testing.T) {
	started := make(chan int64, 2)
	release := make(chan struct{})
	cache := NewRowCache(func(_ context.Context, id int64) (gpkg.FeatureRow, error) {
		started <- id
		<-release
		return gpkg.FeatureRow{ID: id}, nil
	})

	var wg sync.WaitGroup
	for _, id := range []int64{1, 2} {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, _ = cache.Get(context.Background(), id)
		}(id)
	}
	// both fetches are in flight at once
	timeout := time.After(2 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-timeout:
			t.Fatal("fetches for different ids did not overlap")
		}
	}
	close(release)
	wg.Wait()
}

func TestRowCacheContextAndErrors(t *testing.T) {
	wantErr := errors.New("boom")
	cache := NewRowCache(func(_ context.Context, id int64) (gpkg.FeatureRow, error) {
		return gpkg.FeatureRow{}, wantErr
	})
	if _, err := cache.Get(context.Background(), 1); !errors.Is(err, wantErr) {
		t.Errorf("Get() error = %v", err)
	}

	block := make(chan struct{})
	defer close(block)
	slow := NewRowCache(func(_ context.Context, id int64) (gpkg.FeatureRow, error) {
		<-block
		return gpkg.FeatureRow{ID: id}, nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := slow.Get(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Get() with expired context error = %v", err)
	}
}

func TestFeatureByID(t *testing.T) {
	ctx := context.Background()
	_, ix := indexedFixture(t)
	row, err := ix.Feature(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if row.ID != 3 || row.Values["name"] != "b" {
		t.Errorf("Feature(3) = %+v", row)
	}
	if _, err := ix.Feature(ctx, 42); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Feature(42) error = %v", err)
	}
}
