package http

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/geopack/internal/domain"
	"github.com/jobrunner/geopack/internal/geom"
)

const geoJSONContentType = "application/geo+json"

// handleQueryFeatures returns features of one table as a GeoJSON
// FeatureCollection.
func (s *Server) handleQueryFeatures(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	q, err := parseFeatureQuery(r.URL.Query())
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	result, err := s.queryService.QueryFeatures(r.Context(), vars["packageId"], vars["table"], q)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	fc := geojson.NewFeatureCollection()
	fc.ExtraMembers = geojson.Properties{
		"package_id":    result.PackageID,
		"table":         result.Table,
		"feature_count": result.FeatureCount(),
	}
	s.appendFeatures(r, fc, result)
	s.writeGeoJSON(w, fc)
}

// handleSearchFeatures returns features of every indexed table of every
// ready package. Each feature carries its package and table as foreign
// members.
func (s *Server) handleSearchFeatures(w http.ResponseWriter, r *http.Request) {
	q, err := parseFeatureQuery(r.URL.Query())
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	resp, err := s.queryService.SearchFeatures(r.Context(), q)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	fc := geojson.NewFeatureCollection()
	fc.ExtraMembers = geojson.Properties{"total_features": resp.TotalFeatures}
	for i := range resp.Results {
		s.appendFeatures(r, fc, &resp.Results[i])
	}
	s.writeGeoJSON(w, fc)
}

func (s *Server) appendFeatures(r *http.Request, fc *geojson.FeatureCollection, result *domain.QueryResult) {
	for i := range result.Features {
		f := &result.Features[i]
		g, err := orbGeometry(f.Geometry)
		if err != nil {
			s.logger.WarnContext(r.Context(), "dropping undecodable geometry",
				"package", result.PackageID, "table", result.Table, "id", f.ID, "error", err)
			g = orb.Collection{}
		}
		gf := geojson.NewFeature(g)
		gf.ID = f.ID
		for k, v := range f.Properties {
			gf.Properties[k] = v
		}
		gf.ExtraMembers = geojson.Properties{"package_id": result.PackageID, "table": result.Table}
		fc.Append(gf)
	}
}

// orbGeometry decodes the stored blob. Empty geometries become an empty
// GeometryCollection.
func orbGeometry(g domain.Geometry) (orb.Geometry, error) {
	if g.IsEmpty() {
		return orb.Collection{}, nil
	}
	gd, err := geom.Decode(g.WKB)
	if err != nil {
		return nil, err
	}
	if gd.Empty || gd.Geometry == nil {
		return orb.Collection{}, nil
	}
	return geom.ToOrb(gd.Geometry)
}

func (s *Server) writeGeoJSON(w http.ResponseWriter, fc *geojson.FeatureCollection) {
	w.Header().Set("Content-Type", geoJSONContentType)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(fc)
}
