package domain

// TileMatrixSet is a gpkg_tile_matrix_set row.
type TileMatrixSet struct {
	TableName   string
	SRID        int
	BoundingBox BoundingBox
}

// TileMatrix is a gpkg_tile_matrix row for one zoom level.
type TileMatrix struct {
	TableName    string
	ZoomLevel    int
	MatrixWidth  int
	MatrixHeight int
	TileWidth    int
	TileHeight   int
	PixelXSize   float64
	PixelYSize   float64
}

// Tile is one row of a tile pyramid table.
type Tile struct {
	ID        int64
	ZoomLevel int
	Column    int
	Row       int
	Data      []byte
}

// GridCell addresses a tile within a zoom level.
type GridCell struct {
	Zoom   int
	Column int
	Row    int
}
