// Package tilegrid implements quad-tree tile arithmetic: bounding box to
// tile grid conversion and back, zoom level selection and tile matrix rows.
package tilegrid

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/jobrunner/geopack/internal/domain"
)

// WebMercatorHalfWorld is half the width of the spherical mercator plane
// in metres.
const WebMercatorHalfWorld = 20037508.342789244

// WebMercatorMaxLatitude is the latitude at which the mercator plane is
// square.
const WebMercatorMaxLatitude = 85.0511287798066

// Precision absorbs floating point noise when a coordinate sits on a tile
// edge. It is expressed in tile units.
const Precision = 1e-10

// DefaultMaxZoom bounds zoom level selection.
const DefaultMaxZoom = 24

// Grid is an inclusive range of tile columns and rows at one zoom level.
type Grid struct {
	MinColumn, MinRow int
	MaxColumn, MaxRow int
}

// Empty reports whether the grid contains no tiles.
func (g Grid) Empty() bool {
	return g.MaxColumn < g.MinColumn || g.MaxRow < g.MinRow
}

// Width returns the number of columns.
func (g Grid) Width() int {
	if g.Empty() {
		return 0
	}
	return g.MaxColumn - g.MinColumn + 1
}

// Height returns the number of rows.
func (g Grid) Height() int {
	if g.Empty() {
		return 0
	}
	return g.MaxRow - g.MinRow + 1
}

// Count returns the number of tiles in the grid.
func (g Grid) Count() int64 {
	return int64(g.Width()) * int64(g.Height())
}

// Contains reports whether (column, row) lies within the grid.
func (g Grid) Contains(column, row int) bool {
	return column >= g.MinColumn && column <= g.MaxColumn && row >= g.MinRow && row <= g.MaxRow
}

// Cells lists the grid cells row by row. It allocates every cell, so large
// grids should be walked with nested row and column loops instead.
func (g Grid) Cells(zoom int) []domain.GridCell {
	if g.Empty() {
		return nil
	}
	out := make([]domain.GridCell, 0, g.Count())
	for row := g.MinRow; row <= g.MaxRow; row++ {
		for col := g.MinColumn; col <= g.MaxColumn; col++ {
			out = append(out, domain.GridCell{Zoom: zoom, Column: col, Row: row})
		}
	}
	return out
}

// String formats the grid for logs.
func (g Grid) String() string {
	return fmt.Sprintf("cols %d..%d rows %d..%d", g.MinColumn, g.MaxColumn, g.MinRow, g.MaxRow)
}

// emptyGrid has no tiles.
var emptyGrid = Grid{MinColumn: 0, MinRow: 0, MaxColumn: -1, MaxRow: -1}

// GridInBounds returns the tiles of a matrixWidth x matrixHeight matrix
// spanning bounds that intersect bbox. Row 0 is the top (max y) row. A box
// edge lying exactly on a tile edge does not pull in the neighbouring tile.
func GridInBounds(bounds domain.BoundingBox, matrixWidth, matrixHeight int, bbox domain.BoundingBox) Grid {
	if matrixWidth <= 0 || matrixHeight <= 0 || !bbox.Intersects(bounds) {
		return emptyGrid
	}
	tw := bounds.Width() / float64(matrixWidth)
	th := bounds.Height() / float64(matrixHeight)
	if tw <= 0 || th <= 0 {
		return emptyGrid
	}

	g := Grid{
		MinColumn: int(math.Floor((bbox.MinX-bounds.MinX)/tw + Precision)),
		MaxColumn: int(math.Ceil((bbox.MaxX-bounds.MinX)/tw-Precision)) - 1,
		MinRow:    int(math.Floor((bounds.MaxY-bbox.MaxY)/th + Precision)),
		MaxRow:    int(math.Ceil((bounds.MaxY-bbox.MinY)/th-Precision)) - 1,
	}
	// degenerate boxes on a tile edge still select one tile
	if g.MaxColumn < g.MinColumn {
		g.MaxColumn = g.MinColumn
	}
	if g.MaxRow < g.MinRow {
		g.MaxRow = g.MinRow
	}
	g.MinColumn = clamp(g.MinColumn, 0, matrixWidth-1)
	g.MaxColumn = clamp(g.MaxColumn, 0, matrixWidth-1)
	g.MinRow = clamp(g.MinRow, 0, matrixHeight-1)
	g.MaxRow = clamp(g.MaxRow, 0, matrixHeight-1)
	return g
}

// BoundsOfCell returns the extent of (column, row) in a matrix spanning
// bounds.
func BoundsOfCell(bounds domain.BoundingBox, matrixWidth, matrixHeight, column, row int) domain.BoundingBox {
	return BoundsOfGrid(bounds, matrixWidth, matrixHeight, Grid{MinColumn: column, MaxColumn: column, MinRow: row, MaxRow: row})
}

// BoundsOfGrid returns the extent covered by g in a matrix spanning bounds.
func BoundsOfGrid(bounds domain.BoundingBox, matrixWidth, matrixHeight int, g Grid) domain.BoundingBox {
	tw := bounds.Width() / float64(matrixWidth)
	th := bounds.Height() / float64(matrixHeight)
	return domain.BoundingBox{
		MinX: bounds.MinX + float64(g.MinColumn)*tw,
		MaxX: bounds.MinX + float64(g.MaxColumn+1)*tw,
		MaxY: bounds.MaxY - float64(g.MinRow)*th,
		MinY: bounds.MaxY - float64(g.MaxRow+1)*th,
		SRID: bounds.SRID,
	}
}

// TileColumn returns the column holding x, or -1 / matrixWidth when x lies
// outside bounds.
func TileColumn(bounds domain.BoundingBox, matrixWidth int, x float64) int {
	if x < bounds.MinX {
		return -1
	}
	if x >= bounds.MaxX {
		return matrixWidth
	}
	return int((x - bounds.MinX) / (bounds.Width() / float64(matrixWidth)))
}

// TileRow returns the row holding y, or -1 / matrixHeight when y lies
// outside bounds.
func TileRow(bounds domain.BoundingBox, matrixHeight int, y float64) int {
	if y > bounds.MaxY {
		return -1
	}
	if y <= bounds.MinY {
		return matrixHeight
	}
	return int((bounds.MaxY - y) / (bounds.Height() / float64(matrixHeight)))
}

// NewTileMatrix computes the tile matrix row for a matrix spanning bounds.
func NewTileMatrix(table string, zoom int, bounds domain.BoundingBox, matrixWidth, matrixHeight, tileWidth, tileHeight int) domain.TileMatrix {
	return domain.TileMatrix{
		TableName:    table,
		ZoomLevel:    zoom,
		MatrixWidth:  matrixWidth,
		MatrixHeight: matrixHeight,
		TileWidth:    tileWidth,
		TileHeight:   tileHeight,
		PixelXSize:   bounds.Width() / float64(matrixWidth*tileWidth),
		PixelYSize:   bounds.Height() / float64(matrixHeight*tileHeight),
	}
}

// FlipRow converts between TMS (origin bottom-left) and XYZ (origin
// top-left) row numbering at zoom for a matrix of height 2^zoom.
func FlipRow(row, zoom int) int {
	return (1 << zoom) - 1 - row
}

// ToMapTile converts an XYZ web mercator cell.
func ToMapTile(c domain.GridCell) maptile.Tile {
	return maptile.New(uint32(c.Column), uint32(c.Row), maptile.Zoom(c.Zoom))
}

// FromMapTile converts a map tile to a grid cell.
func FromMapTile(t maptile.Tile) domain.GridCell {
	return domain.GridCell{Zoom: int(t.Z), Column: int(t.X), Row: int(t.Y)}
}

// CellAt returns the XYZ web mercator cell containing a WGS84 position.
func CellAt(lon, lat float64, zoom int) domain.GridCell {
	return FromMapTile(maptile.At(orb.Point{lon, lat}, maptile.Zoom(zoom)))
}

// WGS84Bounds returns the WGS84 extent of an XYZ web mercator cell.
func WGS84Bounds(c domain.GridCell) domain.BoundingBox {
	b := ToMapTile(c).Bound()
	return domain.BoundingBox{MinX: b.Min[0], MinY: b.Min[1], MaxX: b.Max[0], MaxY: b.Max[1], SRID: domain.SRIDWGS84}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
