package geom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/jobrunner/geopack/internal/domain"
)

const (
	gpMagic0   = 'G'
	gpMagic1   = 'P'
	gpVersion1 = 0

	flagByteOrder    = 0x01
	flagEnvelopeMask = 0x0E
	flagEmpty        = 0x10
	flagExtended     = 0x20

	headerFixedSize = 8
)

// Header is the GeoPackage binary header that precedes the WKB payload.
type Header struct {
	Version   byte
	ByteOrder binary.ByteOrder
	Empty     bool
	Extended  bool
	SRID      int32
	// Envelope is nil when the blob carries no inlined envelope.
	Envelope *Envelope
	// Size is the header length in bytes, i.e. the WKB offset.
	Size int
}

// GeometryData is a decoded GeoPackage geometry blob.
type GeometryData struct {
	Header
	Geometry Geometry
}

// EnvelopeMode selects which envelope Encode inlines in the header.
type EnvelopeMode int

const (
	// EnvelopeAuto omits the envelope for points and matches the geometry layout otherwise.
	EnvelopeAuto EnvelopeMode = iota
	EnvelopeNone
	EnvelopeXY
	EnvelopeXYZ
	EnvelopeXYM
	EnvelopeXYZM
)

// EncodeOptions controls GeoPackage blob encoding.
type EncodeOptions struct {
	ByteOrder binary.ByteOrder
	Envelope  EnvelopeMode
}

// Encode writes g as a GeoPackage geometry blob.
func Encode(g Geometry, srid int32, opts EncodeOptions) ([]byte, error) {
	bo := opts.ByteOrder
	if bo == nil {
		bo = binary.LittleEndian
	}

	wkb, err := Marshal(g, bo)
	if err != nil {
		return nil, err
	}

	empty := g.IsEmpty()
	indicator := 0
	var env Envelope
	if !empty {
		env = g.Envelope()
		indicator = envelopeIndicator(opts.Envelope, g)
	}

	var flags byte
	if bo == binary.LittleEndian {
		flags |= flagByteOrder
	}
	flags |= byte(indicator<<1) & flagEnvelopeMask
	if empty {
		flags |= flagEmpty
	}

	buf := make([]byte, headerFixedSize, headerFixedSize+envelopeSize(indicator)+len(wkb))
	buf[0], buf[1], buf[2], buf[3] = gpMagic0, gpMagic1, gpVersion1, flags
	bo.PutUint32(buf[4:], uint32(srid))

	put := func(v float64) {
		var b [8]byte
		bo.PutUint64(b[:], math.Float64bits(v))
		buf = append(buf, b[:]...)
	}
	if indicator > 0 {
		put(env.MinX)
		put(env.MaxX)
		put(env.MinY)
		put(env.MaxY)
		if indicator == 2 || indicator == 4 {
			put(env.MinZ)
			put(env.MaxZ)
		}
		if indicator == 3 || indicator == 4 {
			put(env.MinM)
			put(env.MaxM)
		}
	}

	return append(buf, wkb...), nil
}

func envelopeIndicator(mode EnvelopeMode, g Geometry) int {
	switch mode {
	case EnvelopeNone:
		return 0
	case EnvelopeXY:
		return 1
	case EnvelopeXYZ:
		return 2
	case EnvelopeXYM:
		return 3
	case EnvelopeXYZM:
		return 4
	}
	if g.Type() == TypePoint {
		return 0
	}
	return g.Envelope().Indicator()
}

// DecodeHeader parses the GeoPackage header without touching the WKB payload.
func DecodeHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < headerFixedSize {
		return h, &domain.MalformedGeometryError{Offset: len(b), Reason: "truncated GeoPackage header"}
	}
	if b[0] != gpMagic0 || b[1] != gpMagic1 {
		return h, &domain.MalformedGeometryError{Offset: 0, Reason: "missing GP magic"}
	}
	h.Version = b[2]
	if h.Version != gpVersion1 {
		return h, &domain.MalformedGeometryError{Offset: 2, Reason: fmt.Sprintf("unsupported version %d", h.Version)}
	}

	flags := b[3]
	if flags&0xC0 != 0 {
		return h, &domain.MalformedGeometryError{Offset: 3, Reason: "reserved flag bits set"}
	}
	if flags&flagByteOrder != 0 {
		h.ByteOrder = binary.LittleEndian
	} else {
		h.ByteOrder = binary.BigEndian
	}
	h.Empty = flags&flagEmpty != 0
	h.Extended = flags&flagExtended != 0
	indicator := int(flags&flagEnvelopeMask) >> 1
	if indicator > 4 {
		return h, &domain.MalformedGeometryError{Offset: 3, Reason: fmt.Sprintf("invalid envelope indicator %d", indicator)}
	}
	h.SRID = int32(h.ByteOrder.Uint32(b[4:8]))

	size := envelopeSize(indicator)
	if len(b) < headerFixedSize+size {
		return h, &domain.MalformedGeometryError{Offset: len(b), Reason: "truncated envelope"}
	}
	if indicator > 0 {
		vals := make([]float64, size/8)
		for i := range vals {
			off := headerFixedSize + i*8
			vals[i] = math.Float64frombits(h.ByteOrder.Uint64(b[off : off+8]))
		}
		env := Envelope{
			MinX: vals[0], MaxX: vals[1], MinY: vals[2], MaxY: vals[3],
			HasZ: indicator == 2 || indicator == 4,
			HasM: indicator == 3 || indicator == 4,
		}
		rest := vals[4:]
		inf := math.Inf(1)
		env.MinZ, env.MaxZ, env.MinM, env.MaxM = inf, -inf, inf, -inf
		if env.HasZ {
			env.MinZ, env.MaxZ = rest[0], rest[1]
			rest = rest[2:]
		}
		if env.HasM {
			env.MinM, env.MaxM = rest[0], rest[1]
		}
		h.Envelope = &env
	}
	h.Size = headerFixedSize + size
	return h, nil
}

// Decode parses a full GeoPackage geometry blob.
func Decode(b []byte) (*GeometryData, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	if h.Extended {
		return nil, &domain.MalformedGeometryError{
			Offset: 3,
			Reason: "extended geometry types are not supported",
			Err:    domain.ErrUnsupportedGeometry,
		}
	}
	g, err := Unmarshal(b[h.Size:])
	if err != nil {
		var mge *domain.MalformedGeometryError
		if errors.As(err, &mge) {
			mge.Offset += h.Size
		}
		return nil, err
	}
	return &GeometryData{Header: h, Geometry: g}, nil
}

// DecodeEnvelope returns the envelope of a blob, reading only the header when
// it inlines one. ok is false for empty geometries.
func DecodeEnvelope(b []byte) (env Envelope, ok bool, err error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return Envelope{}, false, err
	}
	if h.Empty {
		return NewEnvelope(XY), false, nil
	}
	if h.Envelope != nil {
		return *h.Envelope, !h.Envelope.IsEmpty(), nil
	}
	if h.Extended {
		return Envelope{}, false, &domain.MalformedGeometryError{
			Offset: 3,
			Reason: "extended geometry without inlined envelope",
			Err:    domain.ErrUnsupportedGeometry,
		}
	}
	g, err := Unmarshal(b[h.Size:])
	if err != nil {
		return Envelope{}, false, err
	}
	env = g.Envelope()
	return env, !env.IsEmpty(), nil
}
