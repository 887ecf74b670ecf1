package application

import (
	"context"
	"testing"

	"github.com/jobrunner/geopack/internal/domain"
)

func TestHealthServiceIsHealthy(t *testing.T) {
	service := NewHealthService(newTestRegistry())

	if !service.IsHealthy(context.Background()) {
		t.Error("IsHealthy should return true")
	}
}

func TestHealthServiceIsReady(t *testing.T) {
	registry := newTestRegistry()
	service := NewHealthService(registry)

	tests := []struct {
		name     string
		packages map[string]*packageEntry
		want     bool
	}{
		{
			name:     "empty registry is ready",
			packages: map[string]*packageEntry{},
			want:     true,
		},
		{
			name: "ready package",
			packages: map[string]*packageEntry{
				"test": {Package: &domain.GeoPackage{ID: "test", Indexed: true}, Status: domain.StatusReady},
			},
			want: true,
		},
		{
			name: "no ready packages",
			packages: map[string]*packageEntry{
				"test": {Package: &domain.GeoPackage{ID: "test"}, Status: domain.StatusIndexing},
			},
			want: false,
		},
		{
			name: "mixed packages - one ready",
			packages: map[string]*packageEntry{
				"loading": {Package: &domain.GeoPackage{ID: "loading"}, Status: domain.StatusLoading},
				"ready":   {Package: &domain.GeoPackage{ID: "ready"}, Status: domain.StatusReady},
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry.mu.Lock()
			registry.packages = tt.packages
			registry.mu.Unlock()

			if got := service.IsReady(context.Background()); got != tt.want {
				t.Errorf("IsReady() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHealthServiceGetHealthDetails(t *testing.T) {
	registry := newTestRegistry()
	service := NewHealthService(registry)

	registry.mu.Lock()
	registry.packages = map[string]*packageEntry{
		"ready1": {
			Package: &domain.GeoPackage{
				ID:      "ready1",
				Indexed: true,
				Tables:  []domain.Table{{Name: "poi", DataType: domain.DataTypeFeatures, IndexState: domain.IndexStateIndexed}},
			},
			Status: domain.StatusReady,
		},
		"ready2": {
			Package: &domain.GeoPackage{
				ID:     "ready2",
				Tables: []domain.Table{{Name: "roads", DataType: domain.DataTypeFeatures, IndexState: domain.IndexStateNotIndexed}},
			},
			Status: domain.StatusReady,
		},
		"loading": {
			Package: &domain.GeoPackage{ID: "loading"},
			Status:  domain.StatusLoading,
		},
	}
	registry.mu.Unlock()

	details := service.GetHealthDetails(context.Background())

	if !details.Healthy || !details.Ready {
		t.Errorf("details = %+v", details)
	}
	if details.PackagesLoaded != 3 {
		t.Errorf("PackagesLoaded = %d, want 3", details.PackagesLoaded)
	}
	if details.PackagesReady != 2 {
		t.Errorf("PackagesReady = %d, want 2", details.PackagesReady)
	}
	if details.Components["storage"] != "ok" {
		t.Errorf("Components[storage] = %q, want %q", details.Components["storage"], "ok")
	}
	if details.Components["index"] != "1 feature tables not indexed" {
		t.Errorf("Components[index] = %q", details.Components["index"])
	}
	if len(details.Packages) != 3 || details.Packages[0].ID != "loading" || details.Packages[0].Ready {
		t.Errorf("Packages = %+v", details.Packages)
	}
}

func TestHealthServiceGetPackageHealth(t *testing.T) {
	registry := newTestRegistry()
	service := NewHealthService(registry)

	registry.mu.Lock()
	registry.packages = map[string]*packageEntry{
		"pkg1": {Package: &domain.GeoPackage{ID: "pkg1", Indexed: true}, Status: domain.StatusReady},
		"pkg2": {Package: &domain.GeoPackage{ID: "pkg2"}, Status: domain.StatusIndexing},
	}
	registry.mu.Unlock()

	health := service.GetPackageHealth(context.Background())
	if len(health) != 2 {
		t.Fatalf("len(health) = %d, want 2", len(health))
	}

	// ListPackages orders by ID
	if h := health[0]; h.ID != "pkg1" || h.Status != domain.StatusReady || !h.Ready || !h.Indexed {
		t.Errorf("pkg1 = %+v", h)
	}
	if h := health[1]; h.ID != "pkg2" || h.Ready || h.Indexed {
		t.Errorf("pkg2 = %+v", h)
	}
}
