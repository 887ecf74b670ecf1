package domain

// Feature represents a feature row with its decoded geometry and attributes.
type Feature struct {
	ID         int64          // Primary key
	Table      string         // Feature table name
	Geometry   Geometry       // Geometry data
	Properties map[string]any // Attribute columns by name
}

// Geometry is the transport form of a feature geometry.
type Geometry struct {
	Type     string       // GeoPackage geometry type name (POINT, POLYGON, ...)
	WKT      string       // Well-Known Text representation
	WKB      []byte       // GeoPackage binary blob as stored
	SRID     int          // Spatial Reference ID
	Envelope *BoundingBox // Envelope, if non-empty
}

// IsEmpty returns true if there is no geometry.
func (g *Geometry) IsEmpty() bool {
	return len(g.WKB) == 0
}

// QueryResult holds the features found in one table of one package.
type QueryResult struct {
	PackageID string    // GeoPackage identifier
	Table     string    // Feature table
	Features  []Feature // Found features
}

// FeatureCount returns the number of features in the result.
func (r *QueryResult) FeatureCount() int {
	return len(r.Features)
}

// QueryResponse aggregates results across packages.
type QueryResponse struct {
	Results       []QueryResult
	TotalFeatures int
	BoundingBox   BoundingBox // Queried window in the request SRID
}

// AddResult adds a query result to the response.
func (r *QueryResponse) AddResult(result QueryResult) {
	r.Results = append(r.Results, result)
	r.TotalFeatures += result.FeatureCount()
}
