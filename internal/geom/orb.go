package geom

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/jobrunner/geopack/internal/domain"
)

// arcSegmentsPerCircle controls curve flattening resolution.
const arcSegmentsPerCircle = 64

// ToOrb converts g to a two-dimensional orb geometry. Curves are
// approximated by vertex sequences. Z and M are dropped.
func ToOrb(g Geometry) (orb.Geometry, error) {
	switch v := g.(type) {
	case Point:
		return orb.Point{v.X, v.Y}, nil
	case LineString:
		return toOrbLine(v.Points), nil
	case CircularString:
		return toOrbLine(LinearizeArcs(v.Points)), nil
	case CompoundCurve:
		return compoundToOrb(v)
	case Polygon:
		return polygonToOrb(v), nil
	case CurvePolygon:
		return curvePolygonToOrb(v)
	case MultiPoint:
		mp := make(orb.MultiPoint, 0, len(v.Points))
		for _, p := range v.Points {
			if !p.Empty {
				mp = append(mp, orb.Point{p.X, p.Y})
			}
		}
		return mp, nil
	case MultiLineString:
		ml := make(orb.MultiLineString, 0, len(v.LineStrings))
		for _, ls := range v.LineStrings {
			ml = append(ml, toOrbLine(ls.Points))
		}
		return ml, nil
	case MultiCurve:
		ml := make(orb.MultiLineString, 0, len(v.Curves))
		for _, c := range v.Curves {
			line, err := curveToOrbLine(c)
			if err != nil {
				return nil, err
			}
			ml = append(ml, line)
		}
		return ml, nil
	case MultiPolygon:
		mp := make(orb.MultiPolygon, 0, len(v.Polygons))
		for _, p := range v.Polygons {
			mp = append(mp, polygonToOrb(p))
		}
		return mp, nil
	case MultiSurface:
		mp := make(orb.MultiPolygon, 0, len(v.Surfaces))
		for _, s := range v.Surfaces {
			o, err := ToOrb(s)
			if err != nil {
				return nil, err
			}
			poly, ok := o.(orb.Polygon)
			if !ok {
				return nil, fmt.Errorf("surface converted to %T: %w", o, domain.ErrUnsupportedGeometry)
			}
			mp = append(mp, poly)
		}
		return mp, nil
	case GeometryCollection:
		c := make(orb.Collection, 0, len(v.Geometries))
		for _, child := range v.Geometries {
			o, err := ToOrb(child)
			if err != nil {
				return nil, err
			}
			c = append(c, o)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("cannot convert %T: %w", g, domain.ErrUnsupportedGeometry)
	}
}

// FromOrb converts an orb geometry into an XY geometry.
func FromOrb(o orb.Geometry) (Geometry, error) {
	switch v := o.(type) {
	case orb.Point:
		return NewPoint(v[0], v[1]), nil
	case orb.LineString:
		return LineString{Points: fromOrbPoints(v)}, nil
	case orb.Ring:
		return LineString{Points: fromOrbPoints(v)}, nil
	case orb.Polygon:
		return polygonFromOrb(v), nil
	case orb.MultiPoint:
		return MultiPoint{Points: fromOrbPoints(v)}, nil
	case orb.MultiLineString:
		ml := MultiLineString{}
		for _, ls := range v {
			ml.LineStrings = append(ml.LineStrings, LineString{Points: fromOrbPoints(ls)})
		}
		return ml, nil
	case orb.MultiPolygon:
		mp := MultiPolygon{}
		for _, p := range v {
			mp.Polygons = append(mp.Polygons, polygonFromOrb(p))
		}
		return mp, nil
	case orb.Bound:
		return polygonFromOrb(v.ToPolygon()), nil
	case orb.Collection:
		gc := GeometryCollection{}
		for _, child := range v {
			g, err := FromOrb(child)
			if err != nil {
				return nil, err
			}
			gc.Geometries = append(gc.Geometries, g)
		}
		return gc, nil
	default:
		return nil, fmt.Errorf("cannot convert %T: %w", o, domain.ErrUnsupportedGeometry)
	}
}

// WKT renders g as well-known text. Curves are rendered linearized.
func WKT(g Geometry) (string, error) {
	if g.IsEmpty() {
		return g.Type().String() + " EMPTY", nil
	}
	o, err := ToOrb(g)
	if err != nil {
		return "", err
	}
	return wkt.MarshalString(o), nil
}

func toOrbLine(pts []Point) orb.LineString {
	ls := make(orb.LineString, 0, len(pts))
	for _, p := range pts {
		if !p.Empty {
			ls = append(ls, orb.Point{p.X, p.Y})
		}
	}
	return ls
}

func polygonToOrb(p Polygon) orb.Polygon {
	poly := make(orb.Polygon, 0, len(p.Rings))
	for _, r := range p.Rings {
		poly = append(poly, orb.Ring(toOrbLine(r.Points)))
	}
	return poly
}

func curveToOrbLine(c Geometry) (orb.LineString, error) {
	switch v := c.(type) {
	case LineString:
		return toOrbLine(v.Points), nil
	case CircularString:
		return toOrbLine(LinearizeArcs(v.Points)), nil
	case CompoundCurve:
		o, err := compoundToOrb(v)
		if err != nil {
			return nil, err
		}
		return o.(orb.LineString), nil
	default:
		return nil, fmt.Errorf("%s is not a curve: %w", c.Type(), domain.ErrUnsupportedGeometry)
	}
}

func compoundToOrb(cc CompoundCurve) (orb.Geometry, error) {
	var out orb.LineString
	for _, seg := range cc.Curves {
		line, err := curveToOrbLine(seg)
		if err != nil {
			return nil, err
		}
		// segments share their joining vertex
		if len(out) > 0 && len(line) > 0 && out[len(out)-1] == line[0] {
			line = line[1:]
		}
		out = append(out, line...)
	}
	return out, nil
}

func curvePolygonToOrb(cp CurvePolygon) (orb.Geometry, error) {
	poly := make(orb.Polygon, 0, len(cp.Rings))
	for _, r := range cp.Rings {
		line, err := curveToOrbLine(r)
		if err != nil {
			return nil, err
		}
		poly = append(poly, orb.Ring(line))
	}
	return poly, nil
}

func fromOrbPoints[T ~[]orb.Point](pts T) []Point {
	if len(pts) == 0 {
		return nil
	}
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = NewPoint(p[0], p[1])
	}
	return out
}

func polygonFromOrb(p orb.Polygon) Polygon {
	poly := Polygon{}
	for _, r := range p {
		ring := LineString{Points: fromOrbPoints(r)}
		if len(ring.Points) > 0 && !ring.IsClosed() {
			ring.Points = append(ring.Points, ring.Points[0])
		}
		poly.Rings = append(poly.Rings, ring)
	}
	return poly
}

// LinearizeArcs approximates a circular string by line segments. Every
// triple (start, mid, end) describes one arc; collinear triples are kept
// as straight segments.
func LinearizeArcs(pts []Point) []Point {
	if len(pts) < 3 {
		return append([]Point(nil), pts...)
	}
	out := []Point{pts[0]}
	for i := 0; i+2 < len(pts); i += 2 {
		out = append(out, arc(pts[i], pts[i+1], pts[i+2])...)
	}
	return out
}

// arc returns the vertices after p0 up to and including p2.
func arc(p0, p1, p2 Point) []Point {
	cx, cy, r, ok := circumcircle(p0, p1, p2)
	if !ok {
		return []Point{p1, p2}
	}
	// a full circle repeats its start point
	if p0.X == p2.X && p0.Y == p2.Y {
		cx, cy = (p0.X+p1.X)/2, (p0.Y+p1.Y)/2
		r = math.Hypot(p0.X-cx, p0.Y-cy)
	}

	a0 := math.Atan2(p0.Y-cy, p0.X-cx)
	a1 := math.Atan2(p1.Y-cy, p1.X-cx)
	a2 := math.Atan2(p2.Y-cy, p2.X-cx)

	sweep := normalizeAngle(a2 - a0)
	mid := normalizeAngle(a1 - a0)
	clockwise := mid > sweep
	if p0.X == p2.X && p0.Y == p2.Y {
		sweep = 2 * math.Pi
		clockwise = orientation(p0, p1, Point{X: cx, Y: cy}) < 0
	}
	if clockwise {
		sweep -= 2 * math.Pi
	}

	steps := int(math.Ceil(math.Abs(sweep) / (2 * math.Pi) * arcSegmentsPerCircle))
	if steps < 2 {
		steps = 2
	}
	out := make([]Point, 0, steps)
	for s := 1; s < steps; s++ {
		a := a0 + sweep*float64(s)/float64(steps)
		out = append(out, Point{X: cx + r*math.Cos(a), Y: cy + r*math.Sin(a), L: p0.L})
	}
	return append(out, p2)
}

func circumcircle(p0, p1, p2 Point) (cx, cy, r float64, ok bool) {
	d := 2 * (p0.X*(p1.Y-p2.Y) + p1.X*(p2.Y-p0.Y) + p2.X*(p0.Y-p1.Y))
	if math.Abs(d) < 1e-12 {
		if p0.X == p2.X && p0.Y == p2.Y && (p0.X != p1.X || p0.Y != p1.Y) {
			return 0, 0, 0, true
		}
		return 0, 0, 0, false
	}
	s0 := p0.X*p0.X + p0.Y*p0.Y
	s1 := p1.X*p1.X + p1.Y*p1.Y
	s2 := p2.X*p2.X + p2.Y*p2.Y
	cx = (s0*(p1.Y-p2.Y) + s1*(p2.Y-p0.Y) + s2*(p0.Y-p1.Y)) / d
	cy = (s0*(p2.X-p1.X) + s1*(p0.X-p2.X) + s2*(p1.X-p0.X)) / d
	return cx, cy, math.Hypot(p0.X-cx, p0.Y-cy), true
}

func normalizeAngle(a float64) float64 {
	for a < 0 {
		a += 2 * math.Pi
	}
	for a >= 2*math.Pi {
		a -= 2 * math.Pi
	}
	return a
}

func orientation(a, b, c Point) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}
