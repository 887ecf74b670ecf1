package tilegrid

import (
	"fmt"
	"math"

	"github.com/jobrunner/geopack/internal/domain"
)

// Scheme is a world tiling: the projected extent split into
// ZoomZeroWidth x ZoomZeroHeight tiles at zoom 0, each zoom level doubling
// both dimensions.
type Scheme struct {
	Name           string
	SRID           int
	Bounds         domain.BoundingBox
	ZoomZeroWidth  int
	ZoomZeroHeight int
	MaxZoom        int
}

// WebMercator is the 1x1 spherical mercator tiling used by web maps.
var WebMercator = Scheme{
	Name: "WebMercatorQuad",
	SRID: domain.SRIDWebMercator,
	Bounds: domain.BoundingBox{
		MinX: -WebMercatorHalfWorld, MinY: -WebMercatorHalfWorld,
		MaxX: WebMercatorHalfWorld, MaxY: WebMercatorHalfWorld,
		SRID: domain.SRIDWebMercator,
	},
	ZoomZeroWidth:  1,
	ZoomZeroHeight: 1,
	MaxZoom:        DefaultMaxZoom,
}

// WGS84Geodetic is the 2x1 plate carrée tiling over longitude/latitude.
var WGS84Geodetic = Scheme{
	Name:           "WorldCRS84Quad",
	SRID:           domain.SRIDWGS84,
	Bounds:         domain.WorldWGS84(),
	ZoomZeroWidth:  2,
	ZoomZeroHeight: 1,
	MaxZoom:        DefaultMaxZoom,
}

// SchemeFor returns the world tiling for a spatial reference.
func SchemeFor(srid int) (Scheme, error) {
	switch srid {
	case domain.SRIDWebMercator, domain.SRIDGoogleMercator:
		return WebMercator, nil
	case domain.SRIDWGS84:
		return WGS84Geodetic, nil
	default:
		return Scheme{}, fmt.Errorf("no world tiling for srid %d: %w", srid, domain.ErrUnsupportedProjection)
	}
}

// MatrixSize returns the tile counts at zoom.
func (s Scheme) MatrixSize(zoom int) (width, height int) {
	return s.ZoomZeroWidth << zoom, s.ZoomZeroHeight << zoom
}

// TileSize returns the extent of one tile at zoom in projected units.
func (s Scheme) TileSize(zoom int) (width, height float64) {
	w, h := s.MatrixSize(zoom)
	return s.Bounds.Width() / float64(w), s.Bounds.Height() / float64(h)
}

// Grid returns the tiles at zoom intersecting bbox, which must be in the
// scheme's projection.
func (s Scheme) Grid(bbox domain.BoundingBox, zoom int) Grid {
	w, h := s.MatrixSize(zoom)
	return GridInBounds(s.Bounds, w, h, bbox)
}

// CellBounds returns the extent of one tile.
func (s Scheme) CellBounds(column, row, zoom int) domain.BoundingBox {
	w, h := s.MatrixSize(zoom)
	return BoundsOfCell(s.Bounds, w, h, column, row)
}

// GridBounds returns the extent covered by g at zoom.
func (s Scheme) GridBounds(g Grid, zoom int) domain.BoundingBox {
	w, h := s.MatrixSize(zoom)
	return BoundsOfGrid(s.Bounds, w, h, g)
}

// ZoomLevel returns the highest zoom at which a single tile is at least as
// large as bbox along both axes, clamped to [0, MaxZoom]. A bbox exactly
// the size of a tile at zoom Z yields Z.
func (s Scheme) ZoomLevel(bbox domain.BoundingBox) int {
	maxZoom := s.MaxZoom
	if maxZoom <= 0 {
		maxZoom = DefaultMaxZoom
	}
	tw, th := s.TileSize(0)
	zoom := maxZoom
	if w := bbox.Width(); w > 0 {
		zoom = min(zoom, zoomFor(tw, w))
	}
	if h := bbox.Height(); h > 0 {
		zoom = min(zoom, zoomFor(th, h))
	}
	return clamp(zoom, 0, maxZoom)
}

func zoomFor(tileSize, extent float64) int {
	return int(math.Floor(math.Log2(tileSize/extent) + 1e-9))
}

// TileMatrices returns the world tile matrix rows for a zoom range.
func (s Scheme) TileMatrices(table string, minZoom, maxZoom, tileWidth, tileHeight int) []domain.TileMatrix {
	var out []domain.TileMatrix
	for z := minZoom; z <= maxZoom; z++ {
		w, h := s.MatrixSize(z)
		out = append(out, NewTileMatrix(table, z, s.Bounds, w, h, tileWidth, tileHeight))
	}
	return out
}

// RelativeMatrix describes a GeoPackage tile pyramid whose matrix set is
// the world-aligned tile grid covering a bbox at the minimum zoom.
type RelativeMatrix struct {
	Scheme  Scheme
	MinZoom int
	// Bounds is the tile matrix set extent.
	Bounds domain.BoundingBox
	// Width and Height are the matrix dimensions at MinZoom.
	Width, Height int
}

// NewRelativeMatrix aligns bbox to the scheme's grid at minZoom.
func (s Scheme) NewRelativeMatrix(bbox domain.BoundingBox, minZoom int) (RelativeMatrix, error) {
	g := s.Grid(bbox, minZoom)
	if g.Empty() {
		return RelativeMatrix{}, fmt.Errorf("bbox %s outside %s: %w", bbox, s.Name, domain.ErrInvalidBoundingBox)
	}
	return RelativeMatrix{
		Scheme:  s,
		MinZoom: minZoom,
		Bounds:  s.GridBounds(g, minZoom),
		Width:   g.Width(),
		Height:  g.Height(),
	}, nil
}

// MatrixSize returns the matrix dimensions at zoom (zoom >= MinZoom).
func (r RelativeMatrix) MatrixSize(zoom int) (width, height int) {
	shift := zoom - r.MinZoom
	return r.Width << shift, r.Height << shift
}

// Grid returns the tiles at zoom intersecting bbox, relative to Bounds.
func (r RelativeMatrix) Grid(bbox domain.BoundingBox, zoom int) Grid {
	w, h := r.MatrixSize(zoom)
	return GridInBounds(r.Bounds, w, h, bbox)
}

// CellBounds returns the extent of a relative cell.
func (r RelativeMatrix) CellBounds(column, row, zoom int) domain.BoundingBox {
	w, h := r.MatrixSize(zoom)
	return BoundsOfCell(r.Bounds, w, h, column, row)
}

// TileMatrix returns the gpkg_tile_matrix row for zoom.
func (r RelativeMatrix) TileMatrix(table string, zoom, tileWidth, tileHeight int) domain.TileMatrix {
	w, h := r.MatrixSize(zoom)
	return NewTileMatrix(table, zoom, r.Bounds, w, h, tileWidth, tileHeight)
}
