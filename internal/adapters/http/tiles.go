package http

import (
	"net/http"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/gorilla/mux"

	"github.com/jobrunner/geopack/internal/domain"
)

// handleGetTile serves one stored tile. The ETag is a hash of the image
// bytes, so clients revalidate cheaply across package reloads.
func (s *Server) handleGetTile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var cell domain.GridCell
	var err error
	// the route only admits digits, so Atoi fails only on overflow
	if cell.Zoom, err = strconv.Atoi(vars["z"]); err == nil {
		if cell.Column, err = strconv.Atoi(vars["x"]); err == nil {
			cell.Row, err = strconv.Atoi(vars["y"])
		}
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid tile address")
		return
	}

	tile, err := s.queryService.GetTile(r.Context(), vars["packageId"], vars["table"], cell)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	etag := `"` + strconv.FormatUint(xxhash.Sum64(tile.Data), 16) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if match := r.Header.Get("If-None-Match"); match == etag || match == "*" {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(tile.Data))
	w.Header().Set("Content-Length", strconv.Itoa(len(tile.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(tile.Data)
}

// handleCoverageValue samples a gridded coverage at x/y in srid.
func (s *Server) handleCoverageValue(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	q := r.URL.Query()

	x, err := floatParam(q, "x")
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	y, err := floatParam(q, "y")
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	srid, err := intParam(q, "srid")
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	v, err := s.queryService.CoverageValue(r.Context(), vars["packageId"], vars["table"],
		domain.Coordinate{X: x, Y: y, SRID: srid}, q.Get("interpolation"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	out := map[string]interface{}{
		"package_id": v.PackageID,
		"table":      v.Table,
		"x":          v.Coordinate.X,
		"y":          v.Coordinate.Y,
		"srid":       v.Coordinate.SRID,
		"nodata":     v.NoData,
		"value":      nil,
	}
	if !v.NoData {
		out["value"] = v.Value
	}
	if v.UOM != "" {
		out["uom"] = v.UOM
	}
	s.writeJSON(w, http.StatusOK, out)
}
