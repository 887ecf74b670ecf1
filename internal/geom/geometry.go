// Package geom implements the geometry model used by GeoPackage feature
// tables together with its well-known binary and GeoPackage blob codecs.
package geom

import (
	"fmt"
	"strings"
)

// Layout describes which optional ordinates a geometry carries.
type Layout uint8

const (
	XY Layout = iota
	XYZ
	XYM
	XYZM
)

// HasZ reports whether the layout carries a Z ordinate.
func (l Layout) HasZ() bool { return l == XYZ || l == XYZM }

// HasM reports whether the layout carries an M ordinate.
func (l Layout) HasM() bool { return l == XYM || l == XYZM }

// Stride is the number of doubles per vertex.
func (l Layout) Stride() int {
	switch l {
	case XYZ, XYM:
		return 3
	case XYZM:
		return 4
	default:
		return 2
	}
}

func (l Layout) String() string {
	switch l {
	case XYZ:
		return "XYZ"
	case XYM:
		return "XYM"
	case XYZM:
		return "XYZM"
	default:
		return "XY"
	}
}

// LayoutOf returns the layout for the given dimension flags.
func LayoutOf(hasZ, hasM bool) Layout {
	switch {
	case hasZ && hasM:
		return XYZM
	case hasZ:
		return XYZ
	case hasM:
		return XYM
	default:
		return XY
	}
}

// Type is the ISO base geometry type code.
type Type uint32

const (
	TypeGeometry           Type = 0
	TypePoint              Type = 1
	TypeLineString         Type = 2
	TypePolygon            Type = 3
	TypeMultiPoint         Type = 4
	TypeMultiLineString    Type = 5
	TypeMultiPolygon       Type = 6
	TypeGeometryCollection Type = 7
	TypeCircularString     Type = 8
	TypeCompoundCurve      Type = 9
	TypeCurvePolygon       Type = 10
	TypeMultiCurve         Type = 11
	TypeMultiSurface       Type = 12
	TypeCurve              Type = 13
	TypeSurface            Type = 14
)

var typeNames = map[Type]string{
	TypeGeometry:           "GEOMETRY",
	TypePoint:              "POINT",
	TypeLineString:         "LINESTRING",
	TypePolygon:            "POLYGON",
	TypeMultiPoint:         "MULTIPOINT",
	TypeMultiLineString:    "MULTILINESTRING",
	TypeMultiPolygon:       "MULTIPOLYGON",
	TypeGeometryCollection: "GEOMETRYCOLLECTION",
	TypeCircularString:     "CIRCULARSTRING",
	TypeCompoundCurve:      "COMPOUNDCURVE",
	TypeCurvePolygon:       "CURVEPOLYGON",
	TypeMultiCurve:         "MULTICURVE",
	TypeMultiSurface:       "MULTISURFACE",
	TypeCurve:              "CURVE",
	TypeSurface:            "SURFACE",
}

// String returns the geometry_type_name used in gpkg_geometry_columns.
func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("TYPE(%d)", uint32(t))
}

// ParseType resolves a gpkg_geometry_columns.geometry_type_name.
func ParseType(name string) (Type, error) {
	up := strings.ToUpper(strings.TrimSpace(name))
	for t, n := range typeNames {
		if n == up {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown geometry type name %q", name)
}

// Geometry is implemented by all geometry variants.
type Geometry interface {
	Type() Type
	Layout() Layout
	IsEmpty() bool
	// Envelope returns the bounding box of all vertices.
	Envelope() Envelope
}

// Point is a single position. An empty point has Empty set and zero ordinates.
type Point struct {
	X, Y, Z, M float64
	L          Layout
	Empty      bool
}

// NewPoint returns an XY point.
func NewPoint(x, y float64) Point { return Point{X: x, Y: y} }

// NewPointZ returns an XYZ point.
func NewPointZ(x, y, z float64) Point { return Point{X: x, Y: y, Z: z, L: XYZ} }

// NewPointM returns an XYM point.
func NewPointM(x, y, m float64) Point { return Point{X: x, Y: y, M: m, L: XYM} }

// NewPointZM returns an XYZM point.
func NewPointZM(x, y, z, m float64) Point { return Point{X: x, Y: y, Z: z, M: m, L: XYZM} }

func (p Point) Type() Type     { return TypePoint }
func (p Point) Layout() Layout { return p.L }
func (p Point) IsEmpty() bool  { return p.Empty }
func (p Point) Envelope() Envelope {
	e := NewEnvelope(p.L)
	e.ExtendPoint(p)
	return e
}

// Equal compares ordinates present in the layout.
func (p Point) Equal(o Point) bool {
	if p.Empty || o.Empty {
		return p.Empty == o.Empty
	}
	if p.X != o.X || p.Y != o.Y {
		return false
	}
	if p.L.HasZ() && o.L.HasZ() && p.Z != o.Z {
		return false
	}
	if p.L.HasM() && o.L.HasM() && p.M != o.M {
		return false
	}
	return true
}

// LineString is an ordered sequence of vertices.
type LineString struct {
	L      Layout
	Points []Point
}

func (ls LineString) Type() Type     { return TypeLineString }
func (ls LineString) Layout() Layout { return ls.L }
func (ls LineString) IsEmpty() bool  { return len(ls.Points) == 0 }
func (ls LineString) Envelope() Envelope {
	return pointsEnvelope(ls.L, ls.Points)
}

// IsClosed reports whether the first and last vertex are coordinate-equal.
func (ls LineString) IsClosed() bool {
	n := len(ls.Points)
	return n > 0 && ls.Points[0].Equal(ls.Points[n-1])
}

// CircularString is a sequence of circular arcs, each defined by three
// consecutive vertices sharing end points.
type CircularString struct {
	L      Layout
	Points []Point
}

func (cs CircularString) Type() Type     { return TypeCircularString }
func (cs CircularString) Layout() Layout { return cs.L }
func (cs CircularString) IsEmpty() bool  { return len(cs.Points) == 0 }
func (cs CircularString) Envelope() Envelope {
	return pointsEnvelope(cs.L, cs.Points)
}

// Polygon is an exterior ring followed by interior rings.
type Polygon struct {
	L     Layout
	Rings []LineString
}

// NewPolygon builds an XY polygon from rings, closing any open ring.
func NewPolygon(rings ...[]Point) Polygon {
	p := Polygon{}
	for _, r := range rings {
		ls := LineString{Points: append([]Point(nil), r...)}
		if len(r) > 0 && !ls.IsClosed() {
			ls.Points = append(ls.Points, r[0])
		}
		p.Rings = append(p.Rings, ls)
	}
	return p
}

func (p Polygon) Type() Type     { return TypePolygon }
func (p Polygon) Layout() Layout { return p.L }
func (p Polygon) IsEmpty() bool  { return len(p.Rings) == 0 }
func (p Polygon) Envelope() Envelope {
	e := NewEnvelope(p.L)
	for _, r := range p.Rings {
		e.ExtendEnvelope(r.Envelope())
	}
	return e
}

// MultiPoint is a collection of points.
type MultiPoint struct {
	L      Layout
	Points []Point
}

func (mp MultiPoint) Type() Type     { return TypeMultiPoint }
func (mp MultiPoint) Layout() Layout { return mp.L }
func (mp MultiPoint) IsEmpty() bool  { return len(mp.Points) == 0 }
func (mp MultiPoint) Envelope() Envelope {
	return pointsEnvelope(mp.L, mp.Points)
}

// MultiLineString is a collection of line strings.
type MultiLineString struct {
	L           Layout
	LineStrings []LineString
}

func (ml MultiLineString) Type() Type     { return TypeMultiLineString }
func (ml MultiLineString) Layout() Layout { return ml.L }
func (ml MultiLineString) IsEmpty() bool  { return len(ml.LineStrings) == 0 }
func (ml MultiLineString) Envelope() Envelope {
	e := NewEnvelope(ml.L)
	for _, ls := range ml.LineStrings {
		e.ExtendEnvelope(ls.Envelope())
	}
	return e
}

// MultiPolygon is a collection of polygons.
type MultiPolygon struct {
	L        Layout
	Polygons []Polygon
}

func (mp MultiPolygon) Type() Type     { return TypeMultiPolygon }
func (mp MultiPolygon) Layout() Layout { return mp.L }
func (mp MultiPolygon) IsEmpty() bool  { return len(mp.Polygons) == 0 }
func (mp MultiPolygon) Envelope() Envelope {
	e := NewEnvelope(mp.L)
	for _, p := range mp.Polygons {
		e.ExtendEnvelope(p.Envelope())
	}
	return e
}

// GeometryCollection is a heterogeneous collection.
type GeometryCollection struct {
	L          Layout
	Geometries []Geometry
}

func (gc GeometryCollection) Type() Type     { return TypeGeometryCollection }
func (gc GeometryCollection) Layout() Layout { return gc.L }
func (gc GeometryCollection) IsEmpty() bool  { return len(gc.Geometries) == 0 }
func (gc GeometryCollection) Envelope() Envelope {
	return geometriesEnvelope(gc.L, gc.Geometries)
}

// CompoundCurve is a contiguous sequence of LineString and CircularString segments.
type CompoundCurve struct {
	L      Layout
	Curves []Geometry
}

func (cc CompoundCurve) Type() Type     { return TypeCompoundCurve }
func (cc CompoundCurve) Layout() Layout { return cc.L }
func (cc CompoundCurve) IsEmpty() bool  { return len(cc.Curves) == 0 }
func (cc CompoundCurve) Envelope() Envelope {
	return geometriesEnvelope(cc.L, cc.Curves)
}

// CurvePolygon is a polygon whose rings may be any curve type.
type CurvePolygon struct {
	L     Layout
	Rings []Geometry
}

func (cp CurvePolygon) Type() Type     { return TypeCurvePolygon }
func (cp CurvePolygon) Layout() Layout { return cp.L }
func (cp CurvePolygon) IsEmpty() bool  { return len(cp.Rings) == 0 }
func (cp CurvePolygon) Envelope() Envelope {
	return geometriesEnvelope(cp.L, cp.Rings)
}

// MultiCurve is a collection of curves.
type MultiCurve struct {
	L      Layout
	Curves []Geometry
}

func (mc MultiCurve) Type() Type     { return TypeMultiCurve }
func (mc MultiCurve) Layout() Layout { return mc.L }
func (mc MultiCurve) IsEmpty() bool  { return len(mc.Curves) == 0 }
func (mc MultiCurve) Envelope() Envelope {
	return geometriesEnvelope(mc.L, mc.Curves)
}

// MultiSurface is a collection of surfaces.
type MultiSurface struct {
	L        Layout
	Surfaces []Geometry
}

func (ms MultiSurface) Type() Type     { return TypeMultiSurface }
func (ms MultiSurface) Layout() Layout { return ms.L }
func (ms MultiSurface) IsEmpty() bool  { return len(ms.Surfaces) == 0 }
func (ms MultiSurface) Envelope() Envelope {
	return geometriesEnvelope(ms.L, ms.Surfaces)
}

func pointsEnvelope(l Layout, pts []Point) Envelope {
	e := NewEnvelope(l)
	for _, p := range pts {
		e.ExtendPoint(p)
	}
	return e
}

func geometriesEnvelope(l Layout, gs []Geometry) Envelope {
	e := NewEnvelope(l)
	for _, g := range gs {
		if g != nil {
			e.ExtendEnvelope(g.Envelope())
		}
	}
	return e
}
