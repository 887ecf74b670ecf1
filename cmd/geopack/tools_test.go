package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/jobrunner/geopack/internal/domain"
)

func TestDescribe(t *testing.T) {
	pkg := &domain.GeoPackage{
		ID:   "city",
		Path: "/data/city.gpkg",
		Tables: []domain.Table{
			{
				Name:         "poi",
				DataType:     domain.DataTypeFeatures,
				SRID:         4326,
				Extent:       &domain.BoundingBox{MinX: 7, MinY: 46, MaxX: 8, MaxY: 47},
				GeometryType: "POINT",
				FeatureCount: 12,
				IndexState:   domain.IndexStateIndexed,
			},
			{Name: "basemap", DataType: domain.DataTypeTiles, SRID: 3857, MinZoom: 2, MaxZoom: 9},
		},
	}

	info := describe(pkg)
	if len(info.Tables) != 2 {
		t.Fatalf("tables = %d, want 2", len(info.Tables))
	}
	poi := info.Tables[0]
	if poi.Features != 12 || poi.Index != string(domain.IndexStateIndexed) || len(poi.Extent) != 4 || poi.Zoom != nil {
		t.Errorf("poi = %+v", poi)
	}
	if z := info.Tables[1].Zoom; len(z) != 2 || z[0] != 2 || z[1] != 9 {
		t.Errorf("basemap zoom = %v", z)
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	if !strings.HasPrefix(out.String(), "geopack dev") {
		t.Errorf("output = %q", out.String())
	}
}
