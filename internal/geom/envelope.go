package geom

import (
	"math"

	"github.com/jobrunner/geopack/internal/domain"
)

// Envelope is an axis-aligned bounding box over all vertices of a geometry.
// An envelope with no vertices has MinX > MaxX.
type Envelope struct {
	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
	MinM, MaxM float64
	HasZ, HasM bool
}

// NewEnvelope returns an empty envelope for the layout.
func NewEnvelope(l Layout) Envelope {
	inf := math.Inf(1)
	return Envelope{
		MinX: inf, MaxX: -inf,
		MinY: inf, MaxY: -inf,
		MinZ: inf, MaxZ: -inf,
		MinM: inf, MaxM: -inf,
		HasZ: l.HasZ(),
		HasM: l.HasM(),
	}
}

// IsEmpty reports whether no vertex has been accumulated.
func (e Envelope) IsEmpty() bool {
	return !(e.MinX <= e.MaxX) || !(e.MinY <= e.MaxY)
}

// Layout returns the layout matching the optional dimensions.
func (e Envelope) Layout() Layout {
	return LayoutOf(e.HasZ, e.HasM)
}

// ExtendPoint grows the envelope to include p. Empty points are ignored.
func (e *Envelope) ExtendPoint(p Point) {
	if p.Empty {
		return
	}
	e.MinX = math.Min(e.MinX, p.X)
	e.MaxX = math.Max(e.MaxX, p.X)
	e.MinY = math.Min(e.MinY, p.Y)
	e.MaxY = math.Max(e.MaxY, p.Y)
	if e.HasZ && p.L.HasZ() {
		e.MinZ = math.Min(e.MinZ, p.Z)
		e.MaxZ = math.Max(e.MaxZ, p.Z)
	}
	if e.HasM && p.L.HasM() {
		e.MinM = math.Min(e.MinM, p.M)
		e.MaxM = math.Max(e.MaxM, p.M)
	}
}

// ExtendEnvelope grows the envelope to include o.
func (e *Envelope) ExtendEnvelope(o Envelope) {
	if o.IsEmpty() {
		return
	}
	e.MinX = math.Min(e.MinX, o.MinX)
	e.MaxX = math.Max(e.MaxX, o.MaxX)
	e.MinY = math.Min(e.MinY, o.MinY)
	e.MaxY = math.Max(e.MaxY, o.MaxY)
	if e.HasZ && o.HasZ {
		e.MinZ = math.Min(e.MinZ, o.MinZ)
		e.MaxZ = math.Max(e.MaxZ, o.MaxZ)
	}
	if e.HasM && o.HasM {
		e.MinM = math.Min(e.MinM, o.MinM)
		e.MaxM = math.Max(e.MaxM, o.MaxM)
	}
}

// Intersects reports whether the XY extents overlap, edges included.
func (e Envelope) Intersects(o Envelope) bool {
	if e.IsEmpty() || o.IsEmpty() {
		return false
	}
	return e.MinX <= o.MaxX && e.MaxX >= o.MinX && e.MinY <= o.MaxY && e.MaxY >= o.MinY
}

// Contains reports whether o lies within e in XY.
func (e Envelope) Contains(o Envelope) bool {
	if e.IsEmpty() || o.IsEmpty() {
		return false
	}
	return o.MinX >= e.MinX && o.MaxX <= e.MaxX && o.MinY >= e.MinY && o.MaxY <= e.MaxY
}

// Indicator returns the GeoPackage envelope contents indicator (1..4).
func (e Envelope) Indicator() int {
	switch {
	case e.HasZ && e.HasM:
		return 4
	case e.HasM:
		return 3
	case e.HasZ:
		return 2
	default:
		return 1
	}
}

// BoundingBox returns the XY extent as a domain bounding box.
func (e Envelope) BoundingBox(srid int) domain.BoundingBox {
	return domain.BoundingBox{MinX: e.MinX, MinY: e.MinY, MaxX: e.MaxX, MaxY: e.MaxY, SRID: srid}
}

// EnvelopeFromBoundingBox returns an XY envelope covering b.
func EnvelopeFromBoundingBox(b domain.BoundingBox) Envelope {
	e := NewEnvelope(XY)
	e.MinX, e.MaxX, e.MinY, e.MaxY = b.MinX, b.MaxX, b.MinY, b.MaxY
	return e
}

// envelopeSize is the byte length of an inlined envelope per indicator.
func envelopeSize(indicator int) int {
	switch indicator {
	case 1:
		return 32
	case 2, 3:
		return 48
	case 4:
		return 64
	default:
		return 0
	}
}
