package domain

import "time"

// FeatureQuery selects features of one table.
type FeatureQuery struct {
	BBox       *BoundingBox   // Window in its own SRID; nil selects every feature
	Properties map[string]any // Equality filters on attribute columns
	Limit      int
	Offset     int
	OutSRID    int // Projection of returned geometries; 0 keeps the table SRID
}

// Validate checks paging and window parameters.
func (q FeatureQuery) Validate() error {
	if q.Limit < 0 {
		return &ValidationError{Field: "limit", Value: q.Limit, Constraint: ">= 0", Message: "limit must not be negative"}
	}
	if q.Offset < 0 {
		return &ValidationError{Field: "offset", Value: q.Offset, Constraint: ">= 0", Message: "offset must not be negative"}
	}
	if q.BBox != nil {
		return q.BBox.Validate()
	}
	return nil
}

// IndexReport summarizes an index pass over one feature table.
type IndexReport struct {
	PackageID string
	Table     string
	Count     int64
	Skipped   int64
	Cancelled bool
	Rebuilt   bool // false when the index was already fresh
	Duration  time.Duration
}

// CoverageValue is a sampled coverage value.
type CoverageValue struct {
	PackageID  string
	Table      string
	Coordinate Coordinate // Sampled position in the request SRID
	Value      float64
	NoData     bool // set when the position is outside the coverage or null
	UOM        string
}
