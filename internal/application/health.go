package application

import (
	"context"
	"fmt"

	"github.com/jobrunner/geopack/internal/domain"
	"github.com/jobrunner/geopack/internal/ports/input"
)

// HealthService provides health check functionality.
type HealthService struct {
	registry *PackageRegistry
}

// NewHealthService creates a new health service.
func NewHealthService(registry *PackageRegistry) *HealthService {
	return &HealthService{
		registry: registry,
	}
}

// IsHealthy returns true if the service is healthy.
func (s *HealthService) IsHealthy(_ context.Context) bool {
	return true
}

// IsReady reports whether at least one package serves requests, or no
// package is configured at all.
func (s *HealthService) IsReady(ctx context.Context) bool {
	packages, err := s.registry.ListPackages(ctx)
	if err != nil {
		return false
	}
	return len(packages) == 0 || len(s.registry.ReadyPackageIDs()) > 0
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	packages, _ := s.registry.ListPackages(ctx)

	ready := len(s.registry.ReadyPackageIDs())
	unindexed := 0
	for _, pkg := range packages {
		for _, t := range pkg.TablesOfType(domain.DataTypeFeatures) {
			if t.IndexState != domain.IndexStateIndexed {
				unindexed++
			}
		}
	}

	components := map[string]string{
		"storage": "ok",
		"index":   "ok",
	}
	if unindexed > 0 {
		components["index"] = fmt.Sprintf("%d feature tables not indexed", unindexed)
	}

	return input.HealthDetails{
		Healthy:        s.IsHealthy(ctx),
		Ready:          s.IsReady(ctx),
		PackagesLoaded: len(packages),
		PackagesReady:  ready,
		Components:     components,
		Packages:       s.GetPackageHealth(ctx),
	}
}

// GetPackageHealth returns health info for all packages.
func (s *HealthService) GetPackageHealth(ctx context.Context) []input.PackageHealth {
	packages, _ := s.registry.ListPackages(ctx)

	health := make([]input.PackageHealth, len(packages))
	for i, pkg := range packages {
		status, _ := s.registry.GetPackageStatus(ctx, pkg.ID)
		health[i] = input.PackageHealth{
			ID:      pkg.ID,
			Status:  status,
			Ready:   status == domain.StatusReady,
			Indexed: pkg.IsReady(),
		}
	}

	return health
}
