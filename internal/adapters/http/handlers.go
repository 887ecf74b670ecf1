package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/jobrunner/geopack/internal/application"
	"github.com/jobrunner/geopack/internal/domain"
)

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	packages := make([]map[string]interface{}, len(details.Packages))
	for i, p := range details.Packages {
		packages[i] = map[string]interface{}{
			"id":      p.ID,
			"status":  string(p.Status),
			"ready":   p.Ready,
			"indexed": p.Indexed,
		}
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":          boolToStatus(details.Healthy),
		"ready":           details.Ready,
		"packages_loaded": details.PackagesLoaded,
		"packages_ready":  details.PackagesReady,
		"components":      details.Components,
		"packages":        packages,
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// handleListPackages returns all registered packages.
func (s *Server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	packages, err := s.registry.ListPackages(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list packages")
		return
	}

	response := make([]map[string]interface{}, len(packages))
	for i := range packages {
		response[i] = s.formatPackage(r, &packages[i])
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"packages": response,
		"count":    len(packages),
	})
}

// handleGetPackage returns a specific package.
func (s *Server) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	pkg, err := s.registry.GetPackage(r.Context(), mux.Vars(r)["packageId"])
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.formatPackage(r, pkg))
}

// handleGetTables returns the contents of a package.
func (s *Server) handleGetTables(w http.ResponseWriter, r *http.Request) {
	packageID := mux.Vars(r)["packageId"]

	pkg, err := s.registry.GetPackage(r.Context(), packageID)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	tables := make([]map[string]interface{}, len(pkg.Tables))
	for i := range pkg.Tables {
		tables[i] = formatTable(&pkg.Tables[i])
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"package_id": packageID,
		"tables":     tables,
		"count":      len(tables),
	})
}

// handleIndexTable indexes one feature table. force=true rebuilds a fresh
// index.
func (s *Server) handleIndexTable(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid force parameter")
			return
		}
		force = b
	}

	report, err := s.registry.IndexTable(r.Context(), vars["packageId"], vars["table"], force)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"package_id":  report.PackageID,
		"table":       report.Table,
		"indexed":     report.Count,
		"skipped":     report.Skipped,
		"rebuilt":     report.Rebuilt,
		"cancelled":   report.Cancelled,
		"duration_ms": report.Duration.Milliseconds(),
	})
}

// handleSync handles the sync trigger endpoint.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.syncService.TriggerSync(r.Context())
	if err != nil {
		if errors.Is(err, application.ErrRateLimited) {
			retry := int(s.syncService.Cooldown().Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			s.writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again in "+strconv.Itoa(retry)+" seconds.")
			return
		}
		s.logger.ErrorContext(r.Context(), "sync failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Sync failed")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleOpenAPI returns the OpenAPI specification.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	spec, err := getOpenAPIJSON()
	if err != nil {
		s.logger.Error("failed to get OpenAPI spec", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load OpenAPI specification")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(spec)
}

// formatPackage formats a GeoPackage for JSON output.
func (s *Server) formatPackage(r *http.Request, pkg *domain.GeoPackage) map[string]interface{} {
	status, _ := s.registry.GetPackageStatus(r.Context(), pkg.ID)
	out := map[string]interface{}{
		"id":          pkg.ID,
		"name":        pkg.Name,
		"path":        pkg.Path,
		"size":        pkg.Size,
		"table_count": pkg.TableCount(),
		"indexed":     pkg.Indexed,
		"status":      status,
		"loaded_at":   pkg.LoadedAt,
	}
	if pkg.Description != "" {
		out["description"] = pkg.Description
	}
	return out
}

func formatTable(t *domain.Table) map[string]interface{} {
	out := map[string]interface{}{
		"name":      t.Name,
		"data_type": t.DataType,
		"srid":      t.SRID,
	}
	if t.Identifier != "" {
		out["identifier"] = t.Identifier
	}
	if t.Description != "" {
		out["description"] = t.Description
	}
	if t.Extent != nil {
		out["extent"] = []float64{t.Extent.MinX, t.Extent.MinY, t.Extent.MaxX, t.Extent.MaxY}
	}
	switch t.DataType {
	case domain.DataTypeFeatures:
		out["geometry_column"] = t.GeometryColumn
		out["geometry_type"] = t.GeometryType
		out["index_state"] = t.IndexState
		out["feature_count"] = t.FeatureCount
	case domain.DataTypeTiles, domain.DataTypeGriddedCoverage:
		out["min_zoom"] = t.MinZoom
		out["max_zoom"] = t.MaxZoom
	}
	return out
}

// handleError maps domain errors to HTTP status codes.
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		s.writeError(w, http.StatusBadRequest, validationErr.Message)
	case errors.Is(err, domain.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrPackageNotFound):
		s.writeError(w, http.StatusNotFound, "Package not found")
	case errors.Is(err, domain.ErrTableNotFound):
		s.writeError(w, http.StatusNotFound, "Table not found")
	case errors.Is(err, domain.ErrTileNotFound):
		s.writeError(w, http.StatusNotFound, "Tile not found")
	case errors.Is(err, domain.ErrUnsupported):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Request failed")
	}
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}
