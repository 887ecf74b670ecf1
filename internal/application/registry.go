package application

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jobrunner/geopack/internal/domain"
	"github.com/jobrunner/geopack/internal/ports/output"
)

// PackageRegistry manages loaded GeoPackages.
type PackageRegistry struct {
	mu        sync.RWMutex
	packages  map[string]*packageEntry
	repo      output.GeoPackageRepository
	storage   output.ObjectStorage
	metrics   output.MetricsCollector
	logger    *slog.Logger
	localPath string
	autoIndex bool
	now       func() time.Time
}

type packageEntry struct {
	Package *domain.GeoPackage
	Status  domain.GeoPackageStatus
	Error   error
}

// RegistryConfig holds configuration for the package registry.
type RegistryConfig struct {
	LocalPath string // Download directory for remote packages
	AutoIndex bool   // Index missing or stale feature indexes on load
}

// NewPackageRegistry creates a new package registry.
func NewPackageRegistry(
	repo output.GeoPackageRepository,
	storage output.ObjectStorage,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	cfg RegistryConfig,
) *PackageRegistry {
	return &PackageRegistry{
		packages:  make(map[string]*packageEntry),
		repo:      repo,
		storage:   storage,
		metrics:   metrics,
		logger:    logger,
		localPath: cfg.LocalPath,
		autoIndex: cfg.AutoIndex,
		now:       time.Now,
	}
}

// LoadPackage opens a GeoPackage and, with auto-indexing enabled, brings
// the index of every feature table up to date.
func (r *PackageRegistry) LoadPackage(ctx context.Context, path string) error {
	r.logger.Info("loading package", "path", path)

	pkg, err := r.repo.Open(ctx, path)
	if err != nil {
		r.logger.Error("failed to open package", "path", path, "error", err)
		return err
	}

	r.mu.Lock()
	r.packages[pkg.ID] = &packageEntry{Package: pkg, Status: domain.StatusLoading}
	r.mu.Unlock()

	if r.autoIndex {
		r.setStatus(pkg.ID, domain.StatusIndexing, nil)
		for _, t := range pkg.TablesOfType(domain.DataTypeFeatures) {
			if _, err := r.index(ctx, pkg.ID, t.Name, false); err != nil {
				r.logger.Warn("failed to index table", "package", pkg.ID, "table", t.Name, "error", err)
			}
		}
	}

	if err := r.refresh(ctx, pkg.ID); err != nil {
		r.setStatus(pkg.ID, domain.StatusError, err)
		r.updateMetrics()
		return err
	}

	r.mu.Lock()
	if entry, ok := r.packages[pkg.ID]; ok {
		entry.Status = domain.StatusReady
		entry.Package.LoadedAt = r.now()
	}
	r.mu.Unlock()

	r.updateMetrics()
	r.logger.Info("package loaded", "id", pkg.ID, "tables", pkg.TableCount())
	return nil
}

// IndexTable indexes one feature table of a loaded package. Unless force
// is set a fresh index is kept.
func (r *PackageRegistry) IndexTable(ctx context.Context, packageID, table string, force bool) (domain.IndexReport, error) {
	pkg, err := r.GetPackage(ctx, packageID)
	if err != nil {
		return domain.IndexReport{}, err
	}
	t, ok := pkg.GetTable(table)
	if !ok || t.DataType != domain.DataTypeFeatures {
		return domain.IndexReport{}, domain.ErrTableNotFound
	}

	report, err := r.index(ctx, packageID, table, force)
	if err != nil {
		return report, err
	}
	if err := r.refresh(ctx, packageID); err != nil {
		return report, err
	}
	return report, nil
}

// Reindex brings every stale feature index of every loaded package up to
// date and returns the passes that rebuilt an index.
func (r *PackageRegistry) Reindex(ctx context.Context) []domain.IndexReport {
	var reports []domain.IndexReport
	for _, id := range r.ReadyPackageIDs() {
		pkg, err := r.GetPackage(ctx, id)
		if err != nil {
			continue
		}
		for _, t := range pkg.TablesOfType(domain.DataTypeFeatures) {
			report, err := r.index(ctx, id, t.Name, false)
			if err != nil {
				r.logger.Warn("failed to reindex table", "package", id, "table", t.Name, "error", err)
				continue
			}
			if report.Rebuilt {
				reports = append(reports, report)
			}
		}
		if err := r.refresh(ctx, id); err != nil {
			r.logger.Warn("failed to refresh package", "package", id, "error", err)
		}
	}
	return reports
}

func (r *PackageRegistry) index(ctx context.Context, packageID, table string, force bool) (domain.IndexReport, error) {
	report, err := r.repo.IndexTable(ctx, packageID, table, force)
	if err != nil {
		return report, err
	}
	if report.Rebuilt {
		r.metrics.ObserveIndex(packageID, report.Count, report.Skipped, report.Duration)
		r.logger.Info("table indexed",
			"package", packageID,
			"table", table,
			"indexed", report.Count,
			"skipped", report.Skipped,
			"cancelled", report.Cancelled)
	}
	return report, nil
}

// refresh re-reads the table list of a package after an index pass.
func (r *PackageRegistry) refresh(ctx context.Context, packageID string) error {
	tables, err := r.repo.Tables(ctx, packageID)
	if err != nil {
		return err
	}
	indexed := true
	for _, t := range tables {
		if t.DataType == domain.DataTypeFeatures && t.IndexState != domain.IndexStateIndexed {
			indexed = false
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.packages[packageID]; ok {
		pkg := *entry.Package
		pkg.Tables = tables
		pkg.Indexed = indexed
		entry.Package = &pkg
	}
	return nil
}

func (r *PackageRegistry) setStatus(packageID string, status domain.GeoPackageStatus, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.packages[packageID]; ok {
		entry.Status = status
		entry.Error = err
	}
}

// UnloadPackage unloads a GeoPackage.
func (r *PackageRegistry) UnloadPackage(ctx context.Context, packageID string) error {
	r.logger.Info("unloading package", "id", packageID)

	r.setStatus(packageID, domain.StatusUnloading, nil)

	if err := r.repo.Close(ctx, packageID); err != nil {
		r.logger.Error("failed to close package", "id", packageID, "error", err)
		return err
	}

	r.mu.Lock()
	delete(r.packages, packageID)
	r.mu.Unlock()

	r.updateMetrics()
	return nil
}

// ListPackages returns all registered GeoPackages ordered by ID.
func (r *PackageRegistry) ListPackages(_ context.Context) ([]domain.GeoPackage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	packages := make([]domain.GeoPackage, 0, len(r.packages))
	for _, entry := range r.packages {
		packages = append(packages, *entry.Package)
	}
	sort.Slice(packages, func(i, j int) bool { return packages[i].ID < packages[j].ID })

	return packages, nil
}

// GetPackage returns a specific GeoPackage by ID.
func (r *PackageRegistry) GetPackage(_ context.Context, id string) (*domain.GeoPackage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.packages[id]
	if !ok {
		return nil, domain.ErrPackageNotFound
	}

	return entry.Package, nil
}

// GetPackageStatus returns the status of a GeoPackage.
func (r *PackageRegistry) GetPackageStatus(_ context.Context, id string) (domain.GeoPackageStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.packages[id]
	if !ok {
		return "", domain.ErrPackageNotFound
	}

	return entry.Status, nil
}

// IsReady returns true if a package is ready for queries.
func (r *PackageRegistry) IsReady(packageID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.packages[packageID]
	if !ok {
		return false
	}

	return entry.Status == domain.StatusReady
}

// ReadyPackageIDs returns IDs of all ready packages in ID order.
func (r *PackageRegistry) ReadyPackageIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0)
	for id, entry := range r.packages {
		if entry.Status == domain.StatusReady {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// updateMetrics updates the metrics collector with current package counts.
func (r *PackageRegistry) updateMetrics() {
	r.mu.RLock()
	total := len(r.packages)
	ready := 0
	for _, entry := range r.packages {
		if entry.Status == domain.StatusReady {
			ready++
		}
	}
	r.mu.RUnlock()

	r.metrics.SetPackagesLoaded(total)
	r.metrics.SetPackagesReady(ready)
}

// LoadAll loads all GeoPackages from storage.
func (r *PackageRegistry) LoadAll(ctx context.Context) error {
	r.logger.Info("loading all packages from storage")

	objects, err := r.listObjects(ctx)
	if err != nil {
		return err
	}

	for _, obj := range objects {
		localPath, err := r.download(ctx, obj.Key)
		if err != nil {
			r.logger.Error("failed to download package", "key", obj.Key, "error", err)
			continue
		}

		if err := r.LoadPackage(ctx, localPath); err != nil {
			r.logger.Error("failed to load package", "path", localPath, "error", err)
		}
	}

	return nil
}

func (r *PackageRegistry) listObjects(ctx context.Context) ([]output.StorageObject, error) {
	start := r.now()
	objects, err := r.storage.List(ctx)
	r.metrics.IncStorageOperations("list", err == nil)
	r.metrics.ObserveStorageDuration("list", r.now().Sub(start))
	return objects, err
}

func (r *PackageRegistry) download(ctx context.Context, key string) (string, error) {
	localPath := filepath.Join(r.localPath, key)
	start := r.now()
	err := r.storage.Download(ctx, key, localPath)
	r.metrics.IncStorageOperations("download", err == nil)
	r.metrics.ObserveStorageDuration("download", r.now().Sub(start))
	return localPath, err
}

// IsLoaded returns true if a package with the given ID is already loaded.
func (r *PackageRegistry) IsLoaded(packageID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.packages[packageID]
	return ok
}

// PackageCount returns the number of loaded packages.
func (r *PackageRegistry) PackageCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.packages)
}

// SyncStats contains statistics from a sync operation.
type SyncStats struct {
	Added   int
	Removed int
}

// Sync synchronizes with remote storage, downloading new packages and removing
// packages that no longer exist in remote storage.
func (r *PackageRegistry) Sync(ctx context.Context) (SyncStats, error) {
	r.logger.Info("syncing packages from storage")

	objects, err := r.listObjects(ctx)
	if err != nil {
		return SyncStats{}, err
	}

	remotePackages := make(map[string]string) // packageID -> objectKey
	for _, obj := range objects {
		remotePackages[derivePackageID(obj.Key)] = obj.Key
	}

	stats := SyncStats{}

	for packageID, objectKey := range remotePackages {
		if r.IsLoaded(packageID) {
			r.logger.Debug("package already loaded, skipping", "id", packageID)
			continue
		}

		localPath, err := r.download(ctx, objectKey)
		if err != nil {
			r.logger.Error("failed to download package", "key", objectKey, "error", err)
			continue
		}

		if err := r.LoadPackage(ctx, localPath); err != nil {
			r.logger.Error("failed to load package", "path", localPath, "error", err)
			continue
		}

		stats.Added++
		r.logger.Info("new package synced", "id", packageID)
	}

	for _, packageID := range r.findPackagesToRemove(remotePackages) {
		r.logger.Info("removing package not in remote storage", "id", packageID)

		localPath := r.getPackagePath(packageID)
		if err := r.UnloadPackage(ctx, packageID); err != nil {
			r.logger.Error("failed to unload removed package", "id", packageID, "error", err)
			continue
		}

		if localPath != "" {
			if err := os.Remove(localPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				r.logger.Warn("failed to delete local cache file", "path", localPath, "error", err)
			}
		}

		stats.Removed++
	}

	r.logger.Info("sync completed", "added", stats.Added, "removed", stats.Removed, "total", r.PackageCount())
	return stats, nil
}

// findPackagesToRemove returns package IDs that are loaded but not in remote storage.
func (r *PackageRegistry) findPackagesToRemove(remotePackages map[string]string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var toRemove []string
	for packageID := range r.packages {
		if _, exists := remotePackages[packageID]; !exists {
			toRemove = append(toRemove, packageID)
		}
	}
	return toRemove
}

// getPackagePath returns the local file path for a loaded package.
func (r *PackageRegistry) getPackagePath(packageID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.packages[packageID]; ok && entry.Package != nil {
		return entry.Package.Path
	}
	return ""
}

// derivePackageID extracts a package ID from a file path or object key.
func derivePackageID(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}
