package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/geopack/internal/config"
	"github.com/jobrunner/geopack/internal/domain"
)

func (ts *testServer) do(t *testing.T, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	ts.Router().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthEndpoints(t *testing.T) {
	tests := []struct {
		name       string
		load       bool
		path       string
		wantStatus int
	}{
		{"health", true, "/health", http.StatusOK},
		{"liveness", false, "/health/live", http.StatusOK},
		{"readiness without packages", false, "/health/ready", http.StatusOK},
		{"readiness with ready package", true, "/health/ready", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.load, config.ServerConfig{})
			rec := ts.do(t, http.MethodGet, tt.path, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if body := decodeJSON(t, rec); body["status"] != "ok" {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestHealthDetails(t *testing.T) {
	ts := newTestServer(t, true, config.ServerConfig{})
	body := decodeJSON(t, ts.do(t, http.MethodGet, "/health", nil))

	if body["packages_loaded"] != float64(1) || body["packages_ready"] != float64(1) {
		t.Errorf("body = %v", body)
	}
	if ready, _ := body["ready"].(bool); !ready {
		t.Error("ready = false")
	}
	packages, _ := body["packages"].([]interface{})
	if len(packages) != 1 {
		t.Fatalf("packages = %v", body["packages"])
	}
	if p := packages[0].(map[string]interface{}); p["id"] != "city" || p["ready"] != true {
		t.Errorf("package health = %v", p)
	}
}

func TestRequestID(t *testing.T) {
	ts := newTestServer(t, false, config.ServerConfig{})

	rec := ts.do(t, http.MethodGet, "/health/live", nil)
	if rec.Header().Get(requestIDHeader) == "" {
		t.Error("no request id assigned")
	}

	rec = ts.do(t, http.MethodGet, "/health/live", http.Header{requestIDHeader: {"abc-123"}})
	if got := rec.Header().Get(requestIDHeader); got != "abc-123" {
		t.Errorf("request id = %q, want the incoming one", got)
	}
}

func TestListPackages(t *testing.T) {
	ts := newTestServer(t, true, config.ServerConfig{})
	rec := ts.do(t, http.MethodGet, "/api/v1/packages", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	body := decodeJSON(t, rec)
	if body["count"] != float64(1) {
		t.Fatalf("body = %v", body)
	}
	pkg := body["packages"].([]interface{})[0].(map[string]interface{})
	if pkg["id"] != "city" || pkg["status"] != string(domain.StatusReady) || pkg["table_count"] != float64(3) {
		t.Errorf("package = %v", pkg)
	}
	if pkg["indexed"] != true || pkg["description"] != "test city" {
		t.Errorf("package = %v", pkg)
	}
}

func TestGetPackage(t *testing.T) {
	ts := newTestServer(t, true, config.ServerConfig{})

	if rec := ts.do(t, http.MethodGet, "/api/v1/packages/city", nil); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	rec := ts.do(t, http.MethodGet, "/api/v1/packages/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if body := decodeJSON(t, rec); body["message"] != "Package not found" {
		t.Errorf("body = %v", body)
	}
}

func TestGetTables(t *testing.T) {
	ts := newTestServer(t, true, config.ServerConfig{})
	body := decodeJSON(t, ts.do(t, http.MethodGet, "/api/v1/packages/city/tables", nil))

	tables := body["tables"].([]interface{})
	if len(tables) != 3 {
		t.Fatalf("tables = %v", tables)
	}
	poi := tables[0].(map[string]interface{})
	if poi["index_state"] != string(domain.IndexStateIndexed) || poi["geometry_type"] != "POINT" {
		t.Errorf("poi = %v", poi)
	}
	basemap := tables[1].(map[string]interface{})
	if basemap["max_zoom"] != float64(3) {
		t.Errorf("basemap = %v", basemap)
	}
	if _, ok := basemap["index_state"]; ok {
		t.Error("tile table reports an index state")
	}
}

func TestQueryFeatures(t *testing.T) {
	ts := newTestServer(t, true, config.ServerConfig{})
	rec := ts.do(t, http.MethodGet, "/api/v1/packages/city/features/poi?bbox=7,46,8,47", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != geoJSONContentType {
		t.Errorf("Content-Type = %q", ct)
	}

	fc, err := geojson.UnmarshalFeatureCollection(rec.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(fc.Features) != 1 {
		t.Fatalf("features = %d, want 1", len(fc.Features))
	}
	f := fc.Features[0]
	if p, ok := f.Geometry.(orb.Point); !ok || p != (orb.Point{7.44, 46.95}) {
		t.Errorf("geometry = %#v", f.Geometry)
	}
	if f.Properties["name"] != "Bern" {
		t.Errorf("properties = %v", f.Properties)
	}

	body := decodeJSON(t, rec)
	if body["package_id"] != "city" || body["feature_count"] != float64(1) {
		t.Errorf("members = %v", body)
	}
}

func TestQueryFeaturesOutsideBBox(t *testing.T) {
	ts := newTestServer(t, true, config.ServerConfig{})
	rec := ts.do(t, http.MethodGet, "/api/v1/packages/city/features/poi?bbox=0,0,1,1", nil)

	fc, err := geojson.UnmarshalFeatureCollection(rec.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(fc.Features) != 0 {
		t.Errorf("features = %d, want an empty collection", len(fc.Features))
	}
}

func TestQueryFeaturesErrors(t *testing.T) {
	ts := newTestServer(t, true, config.ServerConfig{})

	tests := []struct {
		name       string
		target     string
		wantStatus int
	}{
		{"malformed bbox", "/api/v1/packages/city/features/poi?bbox=1,2,3", http.StatusBadRequest},
		{"non-finite bbox", "/api/v1/packages/city/features/poi?bbox=NaN,46,8,47", http.StatusBadRequest},
		{"bad limit", "/api/v1/packages/city/features/poi?limit=many", http.StatusBadRequest},
		{"unsupported srid", "/api/v1/packages/city/features/poi?srid=2056", http.StatusBadRequest},
		{"unknown package", "/api/v1/packages/nope/features/poi", http.StatusNotFound},
		{"unknown table", "/api/v1/packages/city/features/rivers", http.StatusNotFound},
		{"tile table", "/api/v1/packages/city/features/basemap", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := ts.do(t, http.MethodGet, tt.target, nil); rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestSearchFeatures(t *testing.T) {
	ts := newTestServer(t, true, config.ServerConfig{})
	rec := ts.do(t, http.MethodGet, "/api/v1/features?limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	body := decodeJSON(t, rec)
	if body["total_features"] != float64(1) {
		t.Errorf("total_features = %v", body["total_features"])
	}
	feature := body["features"].([]interface{})[0].(map[string]interface{})
	if feature["package_id"] != "city" || feature["table"] != "poi" {
		t.Errorf("feature = %v", feature)
	}
}

func TestGetTile(t *testing.T) {
	ts := newTestServer(t, true, config.ServerConfig{})
	const target = "/api/v1/packages/city/tiles/basemap/1/1/0"

	rec := ts.do(t, http.MethodGet, target, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Body.String() != string(pngTile) {
		t.Error("tile body differs")
	}
	etag := rec.Header().Get("ETag")
	if !strings.HasPrefix(etag, `"`) || !strings.HasSuffix(etag, `"`) {
		t.Fatalf("ETag = %q", etag)
	}

	rec = ts.do(t, http.MethodGet, target, http.Header{"If-None-Match": {etag}})
	if rec.Code != http.StatusNotModified || rec.Body.Len() != 0 {
		t.Errorf("revalidation = %d with %d bytes, want 304", rec.Code, rec.Body.Len())
	}

	rec = ts.do(t, http.MethodGet, target, http.Header{"If-None-Match": {`"stale"`}})
	if rec.Code != http.StatusOK {
		t.Errorf("stale ETag status = %d, want 200", rec.Code)
	}
}

func TestGetTileErrors(t *testing.T) {
	ts := newTestServer(t, true, config.ServerConfig{})

	tests := []struct {
		name       string
		target     string
		wantStatus int
	}{
		{"missing tile", "/api/v1/packages/city/tiles/basemap/2/0/0", http.StatusNotFound},
		{"feature table", "/api/v1/packages/city/tiles/poi/1/1/0", http.StatusNotFound},
		{"non numeric", "/api/v1/packages/city/tiles/basemap/a/1/0", http.StatusNotFound},
		{"overflow", "/api/v1/packages/city/tiles/basemap/1/99999999999999999999/0", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := ts.do(t, http.MethodGet, tt.target, nil); rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestCoverageValue(t *testing.T) {
	ts := newTestServer(t, true, config.ServerConfig{})

	rec := ts.do(t, http.MethodGet, "/api/v1/packages/city/coverage/dem/value?x=7.4&y=46.9", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeJSON(t, rec)
	if body["value"] != float64(540) || body["nodata"] != false || body["uom"] != "m" {
		t.Errorf("body = %v", body)
	}
	if body["srid"] != float64(domain.SRIDWGS84) {
		t.Errorf("srid = %v, want the default", body["srid"])
	}

	body = decodeJSON(t, ts.do(t, http.MethodGet, "/api/v1/packages/city/coverage/dem/value?x=20&y=46.9", nil))
	if body["value"] != nil || body["nodata"] != true {
		t.Errorf("nodata body = %v", body)
	}
}

func TestCoverageValueErrors(t *testing.T) {
	ts := newTestServer(t, true, config.ServerConfig{})

	tests := []struct {
		name       string
		query      string
		wantStatus int
	}{
		{"missing x", "y=46.9", http.StatusBadRequest},
		{"bad y", "x=7&y=north", http.StatusBadRequest},
		{"out of range", "x=200&y=0", http.StatusBadRequest},
		{"unknown interpolation", "x=7&y=46&interpolation=cubic", http.StatusBadRequest},
		{"unsupported srid", "x=7&y=46&srid=2056", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, "/api/v1/packages/city/coverage/dem/value?"+tt.query, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestIndexTable(t *testing.T) {
	ts := newTestServer(t, true, config.ServerConfig{})

	body := decodeJSON(t, ts.do(t, http.MethodPost, "/api/v1/packages/city/index/poi", nil))
	if body["rebuilt"] != false || body["table"] != "poi" {
		t.Errorf("fresh index body = %v", body)
	}

	body = decodeJSON(t, ts.do(t, http.MethodPost, "/api/v1/packages/city/index/poi?force=true", nil))
	if body["rebuilt"] != true || body["indexed"] != float64(1) {
		t.Errorf("forced body = %v", body)
	}

	tests := []struct {
		name       string
		target     string
		wantStatus int
	}{
		{"bad force", "/api/v1/packages/city/index/poi?force=maybe", http.StatusBadRequest},
		{"tile table", "/api/v1/packages/city/index/basemap", http.StatusNotFound},
		{"unknown package", "/api/v1/packages/nope/index/poi", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := ts.do(t, http.MethodPost, tt.target, nil); rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}

	if rec := ts.do(t, http.MethodGet, "/api/v1/packages/city/index/poi", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", rec.Code)
	}
}

func TestSyncRateLimited(t *testing.T) {
	ts := newTestServer(t, false, config.ServerConfig{})

	rec := ts.do(t, http.MethodPost, "/api/v1/sync", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("first sync status = %d: %s", rec.Code, rec.Body.String())
	}
	if body := decodeJSON(t, rec); body["packages_added"] != float64(1) {
		t.Errorf("body = %v", body)
	}
	if !ts.registry.IsLoaded("city") {
		t.Error("synced package not loaded")
	}

	rec = ts.do(t, http.MethodPost, "/api/v1/sync", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second sync status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "30" {
		t.Errorf("Retry-After = %q, want 30", got)
	}
}

func TestOpenAPI(t *testing.T) {
	ts := newTestServer(t, false, config.ServerConfig{})
	rec := ts.do(t, http.MethodGet, "/openapi.json", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	body := decodeJSON(t, rec)
	paths, ok := body["paths"].(map[string]interface{})
	if !ok {
		t.Fatalf("no paths in %v", body)
	}
	if _, ok := paths["/api/v1/packages/{packageId}/tiles/{table}/{z}/{x}/{y}"]; !ok {
		t.Error("tile route not documented")
	}
}

func TestParseFeatureQuery(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    domain.FeatureQuery
		wantErr bool
	}{
		{name: "empty", query: ""},
		{
			name:  "paging",
			query: "limit=10&offset=20&srid=3857",
			want:  domain.FeatureQuery{Limit: 10, Offset: 20, OutSRID: 3857},
		},
		{
			name:  "bbox inherits srid",
			query: "bbox=1,2,3,4&srid=3857",
			want:  domain.FeatureQuery{OutSRID: 3857, BBox: &domain.BoundingBox{MinX: 1, MinY: 2, MaxX: 3, MaxY: 4, SRID: 3857}},
		},
		{
			name:  "bbox srid",
			query: "bbox=1,2,3,4&bbox_srid=4326&srid=3857",
			want:  domain.FeatureQuery{OutSRID: 3857, BBox: &domain.BoundingBox{MinX: 1, MinY: 2, MaxX: 3, MaxY: 4, SRID: 4326}},
		},
		{
			name:  "property filter",
			query: "property.name=Bern&property.=x",
			want:  domain.FeatureQuery{Properties: map[string]any{"name": "Bern"}},
		},
		{name: "bbox not a number", query: "bbox=a,2,3,4", wantErr: true},
		{name: "bbox too short", query: "bbox=1,2,3", wantErr: true},
		{name: "offset not an integer", query: "offset=1.5", wantErr: true},
		{name: "negative offset", query: "offset=-1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatal(err)
			}
			got, err := parseFeatureQuery(values)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFeatureQuery() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Limit != tt.want.Limit || got.Offset != tt.want.Offset || got.OutSRID != tt.want.OutSRID {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
			if (got.BBox == nil) != (tt.want.BBox == nil) || (got.BBox != nil && *got.BBox != *tt.want.BBox) {
				t.Errorf("bbox = %v, want %v", got.BBox, tt.want.BBox)
			}
			if len(got.Properties) != len(tt.want.Properties) || got.Properties["name"] != tt.want.Properties["name"] {
				t.Errorf("properties = %v, want %v", got.Properties, tt.want.Properties)
			}
		})
	}
}

func TestBoolToStatus(t *testing.T) {
	if got := boolToStatus(true); got != "ok" {
		t.Errorf("boolToStatus(true) = %q, want %q", got, "ok")
	}
	if got := boolToStatus(false); got != "unhealthy" {
		t.Errorf("boolToStatus(false) = %q, want %q", got, "unhealthy")
	}
}
