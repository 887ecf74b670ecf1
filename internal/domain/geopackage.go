package domain

import "time"

// GeoPackage represents a registered GeoPackage file.
type GeoPackage struct {
	ID          string    // Unique identifier (derived from filename)
	Name        string    // Display name
	Path        string    // File path
	Size        int64     // File size in bytes
	Tables      []Table   // Feature, tile and coverage tables from gpkg_contents
	Description string    // First gpkg_metadata entry, if any
	Indexed     bool      // Are all feature tables indexed?
	LoadedAt    time.Time // Load timestamp
	LastQueried time.Time // Last query timestamp
}

// IsReady returns true if the GeoPackage is fully indexed and ready for queries.
func (g *GeoPackage) IsReady() bool {
	if !g.Indexed {
		return false
	}
	for _, t := range g.Tables {
		if t.DataType == DataTypeFeatures && t.IndexState != IndexStateIndexed {
			return false
		}
	}
	return true
}

// TableCount returns the number of tables.
func (g *GeoPackage) TableCount() int {
	return len(g.Tables)
}

// GetTable returns a table by name.
func (g *GeoPackage) GetTable(name string) (*Table, bool) {
	for i := range g.Tables {
		if g.Tables[i].Name == name {
			return &g.Tables[i], true
		}
	}
	return nil, false
}

// TablesOfType returns all tables with the given data type.
func (g *GeoPackage) TablesOfType(dt DataType) []Table {
	var out []Table
	for _, t := range g.Tables {
		if t.DataType == dt {
			out = append(out, t)
		}
	}
	return out
}

// DataType is the gpkg_contents.data_type value.
type DataType string

const (
	DataTypeFeatures        DataType = "features"
	DataTypeTiles           DataType = "tiles"
	DataTypeAttributes      DataType = "attributes"
	DataTypeGriddedCoverage DataType = "2d-gridded-coverage"
)

// Table describes one entry of gpkg_contents together with the
// descriptor rows relevant to its data type.
type Table struct {
	Name           string       // gpkg_contents.table_name
	DataType       DataType     // gpkg_contents.data_type
	Identifier     string       // gpkg_contents.identifier
	Description    string       // gpkg_contents.description
	SRID           int          // gpkg_contents.srs_id
	Extent         *BoundingBox // gpkg_contents bounds (optional)
	LastChange     time.Time    // gpkg_contents.last_change
	GeometryColumn string       // features only
	GeometryType   string       // features only, e.g. POINT
	Z              int          // 0 prohibited, 1 mandatory, 2 optional
	M              int          // 0 prohibited, 1 mandatory, 2 optional
	IndexState     IndexState   // features only
	FeatureCount   int64        // features only
	MinZoom        int          // tiles/coverage only
	MaxZoom        int          // tiles/coverage only
}

// IndexState is the spatial index lifecycle of a feature table.
type IndexState string

const (
	IndexStateNotIndexed IndexState = "not_indexed"
	IndexStateIndexing   IndexState = "indexing"
	IndexStateIndexed    IndexState = "indexed"
)

// GeoPackageStatus represents the status of a GeoPackage.
type GeoPackageStatus string

const (
	StatusLoading   GeoPackageStatus = "loading"
	StatusIndexing  GeoPackageStatus = "indexing"
	StatusReady     GeoPackageStatus = "ready"
	StatusError     GeoPackageStatus = "error"
	StatusUnloading GeoPackageStatus = "unloading"
)
