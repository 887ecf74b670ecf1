package geom

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/jobrunner/geopack/internal/domain"
)

const (
	wkbBigEndian    = 0
	wkbLittleEndian = 1

	ewkbZFlag    = 0x80000000
	ewkbMFlag    = 0x40000000
	ewkbSRIDFlag = 0x20000000
)

// Unmarshal decodes an ISO (or EWKB Z/M flagged) well-known binary geometry.
func Unmarshal(b []byte) (Geometry, error) {
	r := &wkbReader{buf: b}
	g, err := r.readGeometry(nil)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Marshal encodes g as ISO well-known binary in the given byte order.
// It only fails for nil or foreign Geometry implementations.
func Marshal(g Geometry, bo binary.ByteOrder) ([]byte, error) {
	if bo == nil {
		bo = binary.LittleEndian
	}
	w := &wkbWriter{bo: bo}
	if err := w.writeGeometry(g); err != nil {
		return nil, err
	}
	return w.buf, nil
}

type wkbReader struct {
	buf []byte
	off int
}

func (r *wkbReader) fail(reason string) error {
	return &domain.MalformedGeometryError{Offset: r.off, Reason: reason}
}

func (r *wkbReader) remaining() int {
	return len(r.buf) - r.off
}

func (r *wkbReader) byteOrder() (binary.ByteOrder, error) {
	if r.remaining() < 1 {
		return nil, r.fail("truncated byte order")
	}
	v := r.buf[r.off]
	switch v {
	case wkbBigEndian:
		r.off++
		return binary.BigEndian, nil
	case wkbLittleEndian:
		r.off++
		return binary.LittleEndian, nil
	default:
		return nil, r.fail(fmt.Sprintf("invalid byte order %d", v))
	}
}

func (r *wkbReader) uint32(bo binary.ByteOrder) (uint32, error) {
	if r.remaining() < 4 {
		return 0, r.fail("truncated integer")
	}
	v := bo.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *wkbReader) float64(bo binary.ByteOrder) (float64, error) {
	if r.remaining() < 8 {
		return 0, r.fail("truncated coordinate")
	}
	v := math.Float64frombits(bo.Uint64(r.buf[r.off:]))
	r.off += 8
	return v, nil
}

// count reads an element count and rejects counts the buffer cannot hold.
func (r *wkbReader) count(bo binary.ByteOrder, minElemSize int) (int, error) {
	n, err := r.uint32(bo)
	if err != nil {
		return 0, err
	}
	if uint64(n)*uint64(minElemSize) > uint64(r.remaining()) {
		return 0, r.fail(fmt.Sprintf("element count %d exceeds buffer", n))
	}
	return int(n), nil
}

func parseTypeCode(code uint32) (Type, Layout, error) {
	if code&ewkbSRIDFlag != 0 {
		return 0, XY, fmt.Errorf("EWKB SRID flag is not allowed in GeoPackage geometries")
	}
	ewkbZ := code&ewkbZFlag != 0
	ewkbM := code&ewkbMFlag != 0
	base := code &^ (ewkbZFlag | ewkbMFlag)

	dim := base / 1000
	t := Type(base % 1000)
	if (ewkbZ || ewkbM) && dim != 0 {
		return 0, XY, fmt.Errorf("type code %#x mixes EWKB and ISO dimension flags", code)
	}
	if t < TypePoint || t > TypeMultiSurface {
		return 0, XY, fmt.Errorf("unknown geometry type code %d", base)
	}

	switch dim {
	case 0:
		return t, LayoutOf(ewkbZ, ewkbM), nil
	case 1:
		return t, XYZ, nil
	case 2:
		return t, XYM, nil
	case 3:
		return t, XYZM, nil
	default:
		return 0, XY, fmt.Errorf("unknown dimension in type code %d", base)
	}
}

func (r *wkbReader) readGeometry(parent *Layout) (Geometry, error) {
	start := r.off
	bo, err := r.byteOrder()
	if err != nil {
		return nil, err
	}
	code, err := r.uint32(bo)
	if err != nil {
		return nil, err
	}
	t, l, err := parseTypeCode(code)
	if err != nil {
		return nil, &domain.MalformedGeometryError{Offset: start, Reason: err.Error()}
	}
	if parent != nil && *parent != l {
		return nil, &domain.MalformedGeometryError{
			Offset: start,
			Reason: fmt.Sprintf("%s child has layout %s inside %s parent", t, l, *parent),
		}
	}

	switch t {
	case TypePoint:
		return r.readPoint(bo, l)
	case TypeLineString:
		pts, err := r.readPoints(bo, l)
		if err != nil {
			return nil, err
		}
		return LineString{L: l, Points: pts}, nil
	case TypeCircularString:
		pts, err := r.readPoints(bo, l)
		if err != nil {
			return nil, err
		}
		return CircularString{L: l, Points: pts}, nil
	case TypePolygon:
		rings, err := r.readRings(bo, l)
		if err != nil {
			return nil, err
		}
		return Polygon{L: l, Rings: rings}, nil
	}

	children, err := r.readChildren(bo, l, t)
	if err != nil {
		return nil, err
	}

	switch t {
	case TypeMultiPoint:
		mp := MultiPoint{L: l}
		for _, c := range children {
			mp.Points = append(mp.Points, c.(Point))
		}
		return mp, nil
	case TypeMultiLineString:
		ml := MultiLineString{L: l}
		for _, c := range children {
			ml.LineStrings = append(ml.LineStrings, c.(LineString))
		}
		return ml, nil
	case TypeMultiPolygon:
		mp := MultiPolygon{L: l}
		for _, c := range children {
			mp.Polygons = append(mp.Polygons, c.(Polygon))
		}
		return mp, nil
	case TypeGeometryCollection:
		return GeometryCollection{L: l, Geometries: children}, nil
	case TypeCompoundCurve:
		return CompoundCurve{L: l, Curves: children}, nil
	case TypeCurvePolygon:
		return CurvePolygon{L: l, Rings: children}, nil
	case TypeMultiCurve:
		return MultiCurve{L: l, Curves: children}, nil
	default:
		return MultiSurface{L: l, Surfaces: children}, nil
	}
}

func (r *wkbReader) readPoint(bo binary.ByteOrder, l Layout) (Point, error) {
	var ords [4]float64
	for i := 0; i < l.Stride(); i++ {
		v, err := r.float64(bo)
		if err != nil {
			return Point{}, err
		}
		ords[i] = v
	}

	p := Point{L: l, X: ords[0], Y: ords[1]}
	switch l {
	case XYZ:
		p.Z = ords[2]
	case XYM:
		p.M = ords[2]
	case XYZM:
		p.Z, p.M = ords[2], ords[3]
	}
	if math.IsNaN(p.X) && math.IsNaN(p.Y) {
		return Point{L: l, Empty: true}, nil
	}
	return p, nil
}

func (r *wkbReader) readPoints(bo binary.ByteOrder, l Layout) ([]Point, error) {
	n, err := r.count(bo, l.Stride()*8)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	pts := make([]Point, n)
	for i := range pts {
		p, err := r.readPoint(bo, l)
		if err != nil {
			return nil, err
		}
		pts[i] = p
	}
	return pts, nil
}

func (r *wkbReader) readRings(bo binary.ByteOrder, l Layout) ([]LineString, error) {
	n, err := r.count(bo, 4)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	rings := make([]LineString, n)
	for i := range rings {
		start := r.off
		pts, err := r.readPoints(bo, l)
		if err != nil {
			return nil, err
		}
		ring := LineString{L: l, Points: pts}
		if len(pts) > 0 && !ring.IsClosed() {
			return nil, &domain.MalformedGeometryError{Offset: start, Reason: fmt.Sprintf("polygon ring %d is not closed", i)}
		}
		rings[i] = ring
	}
	return rings, nil
}

func (r *wkbReader) readChildren(bo binary.ByteOrder, l Layout, parent Type) ([]Geometry, error) {
	n, err := r.count(bo, 5)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	children := make([]Geometry, n)
	for i := range children {
		start := r.off
		c, err := r.readGeometry(&l)
		if err != nil {
			return nil, err
		}
		if !childAllowed(parent, c.Type()) {
			return nil, &domain.MalformedGeometryError{
				Offset: start,
				Reason: fmt.Sprintf("%s cannot contain %s", parent, c.Type()),
			}
		}
		children[i] = c
	}
	return children, nil
}

func childAllowed(parent, child Type) bool {
	switch parent {
	case TypeMultiPoint:
		return child == TypePoint
	case TypeMultiLineString:
		return child == TypeLineString
	case TypeMultiPolygon:
		return child == TypePolygon
	case TypeCompoundCurve:
		return child == TypeLineString || child == TypeCircularString
	case TypeCurvePolygon, TypeMultiCurve:
		return child == TypeLineString || child == TypeCircularString || child == TypeCompoundCurve
	case TypeMultiSurface:
		return child == TypePolygon || child == TypeCurvePolygon
	default:
		return true
	}
}

type wkbWriter struct {
	buf []byte
	bo  binary.ByteOrder
}

func (w *wkbWriter) header(t Type, l Layout) {
	if w.bo == binary.LittleEndian {
		w.buf = append(w.buf, wkbLittleEndian)
	} else {
		w.buf = append(w.buf, wkbBigEndian)
	}
	code := uint32(t)
	switch l {
	case XYZ:
		code += 1000
	case XYM:
		code += 2000
	case XYZM:
		code += 3000
	}
	w.uint32(code)
}

func (w *wkbWriter) uint32(v uint32) {
	var b [4]byte
	w.bo.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *wkbWriter) float64(v float64) {
	var b [8]byte
	w.bo.PutUint64(b[:], math.Float64bits(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *wkbWriter) coords(p Point, l Layout) {
	if p.Empty {
		for i := 0; i < l.Stride(); i++ {
			w.float64(math.NaN())
		}
		return
	}
	w.float64(p.X)
	w.float64(p.Y)
	if l.HasZ() {
		w.float64(p.Z)
	}
	if l.HasM() {
		w.float64(p.M)
	}
}

func (w *wkbWriter) points(pts []Point, l Layout) {
	w.uint32(uint32(len(pts)))
	for _, p := range pts {
		w.coords(p, l)
	}
}

func (w *wkbWriter) children(gs []Geometry) error {
	w.uint32(uint32(len(gs)))
	for _, g := range gs {
		if err := w.writeGeometry(g); err != nil {
			return err
		}
	}
	return nil
}

func (w *wkbWriter) writeGeometry(g Geometry) error {
	switch v := g.(type) {
	case Point:
		w.header(TypePoint, v.L)
		w.coords(v, v.L)
	case LineString:
		w.header(TypeLineString, v.L)
		w.points(v.Points, v.L)
	case CircularString:
		w.header(TypeCircularString, v.L)
		w.points(v.Points, v.L)
	case Polygon:
		w.header(TypePolygon, v.L)
		w.uint32(uint32(len(v.Rings)))
		for _, ring := range v.Rings {
			w.points(ring.Points, v.L)
		}
	case MultiPoint:
		w.header(TypeMultiPoint, v.L)
		w.uint32(uint32(len(v.Points)))
		for _, p := range v.Points {
			w.header(TypePoint, v.L)
			w.coords(p, v.L)
		}
	case MultiLineString:
		w.header(TypeMultiLineString, v.L)
		w.uint32(uint32(len(v.LineStrings)))
		for _, ls := range v.LineStrings {
			ls.L = v.L
			if err := w.writeGeometry(ls); err != nil {
				return err
			}
		}
	case MultiPolygon:
		w.header(TypeMultiPolygon, v.L)
		w.uint32(uint32(len(v.Polygons)))
		for _, p := range v.Polygons {
			p.L = v.L
			if err := w.writeGeometry(p); err != nil {
				return err
			}
		}
	case GeometryCollection:
		w.header(TypeGeometryCollection, v.L)
		return w.children(v.Geometries)
	case CompoundCurve:
		w.header(TypeCompoundCurve, v.L)
		return w.children(v.Curves)
	case CurvePolygon:
		w.header(TypeCurvePolygon, v.L)
		return w.children(v.Rings)
	case MultiCurve:
		w.header(TypeMultiCurve, v.L)
		return w.children(v.Curves)
	case MultiSurface:
		w.header(TypeMultiSurface, v.L)
		return w.children(v.Surfaces)
	case nil:
		return fmt.Errorf("cannot encode nil geometry: %w", domain.ErrInvalidInput)
	default:
		return fmt.Errorf("cannot encode %T: %w", g, domain.ErrUnsupportedGeometry)
	}
	return nil
}
