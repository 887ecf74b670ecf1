package domain

// CoverageDataType is the gpkg_2d_gridded_coverage_ancillary.datatype value.
type CoverageDataType string

const (
	CoverageInteger CoverageDataType = "integer"
	CoverageFloat   CoverageDataType = "float"
)

// GriddedCoverage holds the table-level pixel transform of a coverage.
type GriddedCoverage struct {
	ID                 int64
	TableName          string
	DataType           CoverageDataType
	Scale              float64
	Offset             float64
	Precision          float64
	DataNull           *float64
	GridCellEncoding   string
	UOM                string
	FieldName          string
	QuantityDefinition string
}

// NewGriddedCoverage returns a coverage with the standard defaults.
func NewGriddedCoverage(table string, dt CoverageDataType) GriddedCoverage {
	return GriddedCoverage{
		TableName:          table,
		DataType:           dt,
		Scale:              1.0,
		Offset:             0.0,
		Precision:          1.0,
		GridCellEncoding:   "grid-value-is-center",
		FieldName:          "Height",
		QuantityDefinition: "Height",
	}
}

// GriddedTile holds the per-tile transform and statistics of a coverage tile.
type GriddedTile struct {
	ID                int64
	TableName         string
	TileID            int64
	Scale             *float64
	Offset            *float64
	Min               *float64
	Max               *float64
	Mean              *float64
	StandardDeviation *float64
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 {
	return &v
}
