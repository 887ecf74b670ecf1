package tilegen

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/paulmach/orb"
	"golang.org/x/image/vector"

	"github.com/jobrunner/geopack/internal/domain"
	"github.com/jobrunner/geopack/internal/geom"
	"github.com/jobrunner/geopack/internal/gpkg"
	"github.com/jobrunner/geopack/internal/projection"
)

// Drawer rasterizes features that are already in the tiling projection.
type Drawer interface {
	Draw(ctx context.Context, req Request, features []orb.Geometry) (image.Image, error)
}

// Style controls how VectorDrawer paints features.
type Style struct {
	Fill        color.Color
	Stroke      color.Color
	LineWidth   float64 // pixels
	PointRadius float64 // pixels
}

// DefaultStyle paints translucent blue areas with a solid outline.
var DefaultStyle = Style{
	Fill:        color.NRGBA{R: 0x33, G: 0x66, B: 0xcc, A: 0x66},
	Stroke:      color.NRGBA{R: 0x1a, G: 0x33, B: 0x99, A: 0xff},
	LineWidth:   1.5,
	PointRadius: 3,
}

// VectorDrawer renders features with an anti-aliasing scanline
// rasterizer.
type VectorDrawer struct {
	Style Style
}

// pixelMapper maps projected coordinates to tile pixel space, y down.
type pixelMapper struct {
	bounds domain.BoundingBox
	sx, sy float64
}

func newPixelMapper(b domain.BoundingBox, w, h int) pixelMapper {
	return pixelMapper{bounds: b, sx: float64(w) / b.Width(), sy: float64(h) / b.Height()}
}

func (m pixelMapper) point(p orb.Point) (float32, float32) {
	return float32((p[0] - m.bounds.MinX) * m.sx), float32((m.bounds.MaxY - p[1]) * m.sy)
}

// Draw implements Drawer.
func (d VectorDrawer) Draw(ctx context.Context, req Request, features []orb.Geometry) (image.Image, error) {
	if req.Width <= 0 || req.Height <= 0 || req.Bounds.Width() <= 0 || req.Bounds.Height() <= 0 {
		return nil, fmt.Errorf("render %dx%d tile over %s: %w", req.Width, req.Height, req.Bounds, domain.ErrInvalidInput)
	}
	style := d.Style
	if style.Fill == nil && style.Stroke == nil {
		style = DefaultStyle
	}
	img := image.NewRGBA(image.Rect(0, 0, req.Width, req.Height))
	m := newPixelMapper(req.Bounds, req.Width, req.Height)

	fill := vector.NewRasterizer(req.Width, req.Height)
	stroke := vector.NewRasterizer(req.Width, req.Height)
	for _, g := range features {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d.add(fill, stroke, m, g, style)
	}
	if style.Fill != nil {
		fill.Draw(img, img.Bounds(), image.NewUniform(style.Fill), image.Point{})
	}
	if style.Stroke != nil {
		stroke.Draw(img, img.Bounds(), image.NewUniform(style.Stroke), image.Point{})
	}
	return img, nil
}

func (d VectorDrawer) add(fill, stroke *vector.Rasterizer, m pixelMapper, g orb.Geometry, s Style) {
	switch v := g.(type) {
	case orb.Point:
		disc(stroke, m, v, s.PointRadius)
	case orb.MultiPoint:
		for _, p := range v {
			disc(stroke, m, p, s.PointRadius)
		}
	case orb.LineString:
		line(stroke, m, v, s.LineWidth)
	case orb.MultiLineString:
		for _, ls := range v {
			line(stroke, m, ls, s.LineWidth)
		}
	case orb.Ring:
		d.add(fill, stroke, m, orb.Polygon{v}, s)
	case orb.Polygon:
		polygon(fill, m, v)
		for _, r := range v {
			line(stroke, m, orb.LineString(r), s.LineWidth)
		}
	case orb.MultiPolygon:
		for _, p := range v {
			d.add(fill, stroke, m, p, s)
		}
	case orb.Collection:
		for _, c := range v {
			d.add(fill, stroke, m, c, s)
		}
	case orb.Bound:
		d.add(fill, stroke, m, v.ToPolygon(), s)
	}
}

// polygon adds the rings with the exterior counter-clockwise and holes
// clockwise so holes cancel under the rasterizer's winding accumulation.
func polygon(r *vector.Rasterizer, m pixelMapper, p orb.Polygon) {
	for i, ring := range p {
		if len(ring) < 3 {
			continue
		}
		want := orb.CCW
		if i > 0 {
			want = orb.CW
		}
		if ring.Orientation() != want {
			ring = ring.Clone()
			ring.Reverse()
		}
		x, y := m.point(ring[0])
		r.MoveTo(x, y)
		for _, pt := range ring[1:] {
			x, y := m.point(pt)
			r.LineTo(x, y)
		}
		r.ClosePath()
	}
}

// line strokes each segment as a quad and rounds the joints with discs.
func line(r *vector.Rasterizer, m pixelMapper, ls orb.LineString, width float64) {
	if width <= 0 {
		width = 1
	}
	half := width / 2
	for i := 1; i < len(ls); i++ {
		ax, ay := m.point(ls[i-1])
		bx, by := m.point(ls[i])
		dx, dy := float64(bx-ax), float64(by-ay)
		n := math.Hypot(dx, dy)
		if n == 0 {
			continue
		}
		ox, oy := float32(-dy/n*half), float32(dx/n*half)
		r.MoveTo(ax+ox, ay+oy)
		r.LineTo(bx+ox, by+oy)
		r.LineTo(bx-ox, by-oy)
		r.LineTo(ax-ox, ay-oy)
		r.ClosePath()
		if i < len(ls)-1 {
			pixelDisc(r, bx, by, half)
		}
	}
}

func disc(r *vector.Rasterizer, m pixelMapper, p orb.Point, radius float64) {
	if radius <= 0 {
		radius = 1
	}
	x, y := m.point(p)
	pixelDisc(r, x, y, radius)
}

func pixelDisc(r *vector.Rasterizer, x, y float32, radius float64) {
	const sides = 16
	for i := 0; i <= sides; i++ {
		a := 2 * math.Pi * float64(i) / sides
		px := x + float32(radius*math.Cos(a))
		py := y + float32(radius*math.Sin(a))
		if i == 0 {
			r.MoveTo(px, py)
			continue
		}
		r.LineTo(px, py)
	}
	r.ClosePath()
}

// FeatureQuerier finds features through a spatial index.
type FeatureQuerier interface {
	QueryBBox(ctx context.Context, b domain.BoundingBox) ([]gpkg.FeatureRow, error)
}

// FeatureSource renders the features of an indexed table.
type FeatureSource struct {
	Features FeatureQuerier
	// SRID is the feature table projection.
	SRID        int
	Projections *projection.Registry
	Drawer      Drawer
	Codec       ImageCodec
	// BufferPixels widens the query window so symbols straddling a cell
	// edge are drawn on both tiles.
	BufferPixels int
}

// Fetch queries the cell and renders what it finds. Cells without
// features yield ErrNoTile.
func (s *FeatureSource) Fetch(ctx context.Context, req Request) ([]byte, error) {
	window := req.Bounds
	if s.BufferPixels > 0 && req.Width > 0 && req.Height > 0 {
		bx := window.Width() / float64(req.Width) * float64(s.BufferPixels)
		by := window.Height() / float64(req.Height) * float64(s.BufferPixels)
		window.MinX, window.MaxX = window.MinX-bx, window.MaxX+bx
		window.MinY, window.MaxY = window.MinY-by, window.MaxY+by
	}
	rows, err := s.Features.QueryBBox(ctx, window)
	if err != nil {
		return nil, err
	}

	features := make([]orb.Geometry, 0, len(rows))
	for _, row := range rows {
		if len(row.Geometry) == 0 {
			continue
		}
		gd, err := geom.Decode(row.Geometry)
		if err != nil || gd.Geometry == nil || gd.Empty {
			continue
		}
		g, err := geom.ToOrb(gd.Geometry)
		if err != nil {
			continue
		}
		if s.SRID != 0 && s.SRID != req.Bounds.SRID {
			if s.Projections == nil {
				return nil, &domain.ProjectionError{From: s.SRID, To: req.Bounds.SRID}
			}
			if g, err = s.Projections.TransformGeometry(ctx, g, s.SRID, req.Bounds.SRID); err != nil {
				return nil, err
			}
		}
		features = append(features, g)
	}
	if len(features) == 0 {
		return nil, ErrNoTile
	}

	drawer := s.Drawer
	if drawer == nil {
		drawer = VectorDrawer{}
	}
	img, err := drawer.Draw(ctx, req, features)
	if err != nil {
		return nil, err
	}
	codec := s.Codec
	if codec == nil {
		codec = PNGCodec{}
	}
	return codec.Encode(img)
}
