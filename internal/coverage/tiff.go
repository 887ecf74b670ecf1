package coverage

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"golang.org/x/image/tiff/lzw"

	"github.com/jobrunner/geopack/internal/domain"
)

// TIFF tags written or understood by the codec.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagSampleFormat    = 339
)

const (
	dtShort = 3
	dtLong  = 4

	compressionNone    = 1
	compressionLZW     = 5
	compressionDeflate = 8
	compressionAdobe   = 32946

	sampleUint  = 1
	sampleInt   = 2
	sampleFloat = 3
)

// TIFFCodec stores samples as a single-strip uncompressed TIFF. Float data
// uses 32-bit IEEE samples, integer data 16-bit unsigned samples. A nil
// ByteOrder means little endian.
type TIFFCodec struct {
	ByteOrder binary.ByteOrder
}

// Format implements ImageCodec.
func (TIFFCodec) Format() string { return "image/tiff" }

func (c TIFFCodec) order() binary.ByteOrder {
	if c.ByteOrder == nil {
		return binary.LittleEndian
	}
	return c.ByteOrder
}

// Encode implements ImageCodec.
func (c TIFFCodec) Encode(p Pixels) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	bo := c.order()

	bps, format := 16, sampleUint
	if p.DataType == domain.CoverageFloat {
		bps, format = 32, sampleFloat
	}
	dataLen := p.Len() * bps / 8

	const headerLen = 8
	const entries = 11
	ifdOffset := headerLen + dataLen
	buf := make([]byte, ifdOffset+2+entries*12+4)

	if bo == binary.LittleEndian {
		copy(buf, "II")
	} else {
		copy(buf, "MM")
	}
	bo.PutUint16(buf[2:], 42)
	bo.PutUint32(buf[4:], uint32(ifdOffset))

	data := buf[headerLen:ifdOffset]
	if p.DataType == domain.CoverageFloat {
		for i, v := range p.Floats {
			bo.PutUint32(data[4*i:], math.Float32bits(v))
		}
	} else {
		for i, v := range p.Ints {
			bo.PutUint16(data[2*i:], v)
		}
	}

	ifd := buf[ifdOffset:]
	bo.PutUint16(ifd, entries)
	pos := 2
	put := func(tag uint16, typ uint16, value uint32) {
		bo.PutUint16(ifd[pos:], tag)
		bo.PutUint16(ifd[pos+2:], typ)
		bo.PutUint32(ifd[pos+4:], 1)
		if typ == dtShort {
			bo.PutUint16(ifd[pos+8:], uint16(value))
		} else {
			bo.PutUint32(ifd[pos+8:], value)
		}
		pos += 12
	}
	put(tagImageWidth, dtLong, uint32(p.Width))
	put(tagImageLength, dtLong, uint32(p.Height))
	put(tagBitsPerSample, dtShort, uint32(bps))
	put(tagCompression, dtShort, compressionNone)
	put(tagPhotometric, dtShort, 1)
	put(tagStripOffsets, dtLong, headerLen)
	put(tagSamplesPerPixel, dtShort, 1)
	put(tagRowsPerStrip, dtLong, uint32(p.Height))
	put(tagStripByteCounts, dtLong, uint32(dataLen))
	put(tagPlanarConfig, dtShort, 1)
	put(tagSampleFormat, dtShort, uint32(format))
	// next IFD offset stays zero
	return buf, nil
}

type tiffDecoder struct {
	buf []byte
	bo  binary.ByteOrder
	ifd map[uint16][]uint32
}

func tiffError(reason string, args ...any) error {
	return &domain.InvalidCoverageParametersError{Field: "tiff", Value: nil, Reason: fmt.Sprintf(reason, args...)}
}

// Decode implements ImageCodec. It accepts single-sample, strip-organised
// TIFFs with no, deflate or LZW compression.
func (TIFFCodec) Decode(b []byte) (Pixels, error) {
	if len(b) < 8 {
		return Pixels{}, tiffError("short header")
	}
	d := &tiffDecoder{buf: b, ifd: make(map[uint16][]uint32)}
	switch string(b[:2]) {
	case "II":
		d.bo = binary.LittleEndian
	case "MM":
		d.bo = binary.BigEndian
	default:
		return Pixels{}, tiffError("bad byte order mark %q", b[:2])
	}
	if d.bo.Uint16(b[2:]) != 42 {
		return Pixels{}, tiffError("not a classic tiff")
	}
	if err := d.readIFD(d.bo.Uint32(b[4:])); err != nil {
		return Pixels{}, err
	}
	return d.decode()
}

func (d *tiffDecoder) readIFD(off uint32) error {
	if int(off)+2 > len(d.buf) {
		return tiffError("ifd offset %d out of range", off)
	}
	n := int(d.bo.Uint16(d.buf[off:]))
	p := int(off) + 2
	if p+n*12 > len(d.buf) {
		return tiffError("truncated ifd")
	}
	for i := 0; i < n; i, p = i+1, p+12 {
		tag := d.bo.Uint16(d.buf[p:])
		typ := d.bo.Uint16(d.buf[p+2:])
		count := d.bo.Uint32(d.buf[p+4:])

		var size uint32
		switch typ {
		case dtShort:
			size = 2
		case dtLong:
			size = 4
		default:
			// types carrying no values we need
			continue
		}
		raw := d.buf[p+8 : p+12]
		if total := uint64(size) * uint64(count); total > 4 {
			vo := uint64(d.bo.Uint32(raw))
			if vo+total > uint64(len(d.buf)) {
				return tiffError("tag %d values out of range", tag)
			}
			raw = d.buf[vo : vo+total]
		}
		vals := make([]uint32, count)
		for j := range vals {
			if typ == dtShort {
				vals[j] = uint32(d.bo.Uint16(raw[2*j:]))
			} else {
				vals[j] = d.bo.Uint32(raw[4*j:])
			}
		}
		d.ifd[tag] = vals
	}
	return nil
}

func (d *tiffDecoder) first(tag uint16, def uint32) uint32 {
	if v, ok := d.ifd[tag]; ok && len(v) > 0 {
		return v[0]
	}
	return def
}

func (d *tiffDecoder) decode() (Pixels, error) {
	width := int(d.first(tagImageWidth, 0))
	height := int(d.first(tagImageLength, 0))
	if width <= 0 || height <= 0 {
		return Pixels{}, tiffError("missing image dimensions")
	}
	if _, tiled := d.ifd[tagTileWidth]; tiled {
		return Pixels{}, tiffError("tiled tiffs are not supported")
	}
	if spp := d.first(tagSamplesPerPixel, 1); spp != 1 {
		return Pixels{}, tiffError("%d samples per pixel, want 1", spp)
	}
	if pred := d.first(tagPredictor, 1); pred != 1 {
		return Pixels{}, tiffError("predictor %d not supported", pred)
	}
	bps := d.first(tagBitsPerSample, 1)
	format := d.first(tagSampleFormat, sampleUint)

	var dt domain.CoverageDataType
	switch {
	case bps == 16 && (format == sampleUint || format == sampleInt):
		dt = domain.CoverageInteger
	case bps == 32 && format == sampleFloat:
		dt = domain.CoverageFloat
	default:
		return Pixels{}, tiffError("unsupported sample layout: %d bits, format %d", bps, format)
	}

	data, err := d.strips()
	if err != nil {
		return Pixels{}, err
	}
	n := width * height
	if len(data) < n*int(bps)/8 {
		return Pixels{}, tiffError("pixel data has %d bytes, want %d", len(data), n*int(bps)/8)
	}

	p := Pixels{Width: width, Height: height, DataType: dt}
	if dt == domain.CoverageFloat {
		p.Floats = make([]float32, n)
		for i := range p.Floats {
			p.Floats[i] = math.Float32frombits(d.bo.Uint32(data[4*i:]))
		}
	} else {
		p.Ints = make([]uint16, n)
		for i := range p.Ints {
			p.Ints[i] = d.bo.Uint16(data[2*i:])
		}
	}
	return p, p.Validate()
}

func (d *tiffDecoder) strips() ([]byte, error) {
	offsets := d.ifd[tagStripOffsets]
	counts := d.ifd[tagStripByteCounts]
	if len(offsets) == 0 || len(offsets) != len(counts) {
		return nil, tiffError("strip offsets and byte counts disagree")
	}
	compression := d.first(tagCompression, compressionNone)

	var out []byte
	for i, off := range offsets {
		end := uint64(off) + uint64(counts[i])
		if end > uint64(len(d.buf)) {
			return nil, tiffError("strip %d out of range", i)
		}
		strip := d.buf[off:end]

		switch compression {
		case compressionNone:
			out = append(out, strip...)
		case compressionDeflate, compressionAdobe:
			r, err := zlib.NewReader(bytes.NewReader(strip))
			if err != nil {
				return nil, fmt.Errorf("inflating strip %d: %w", i, err)
			}
			b, err := io.ReadAll(r)
			r.Close()
			if err != nil {
				return nil, fmt.Errorf("inflating strip %d: %w", i, err)
			}
			out = append(out, b...)
		case compressionLZW:
			r := lzw.NewReader(bytes.NewReader(strip), lzw.MSB, 8)
			b, err := io.ReadAll(r)
			r.Close()
			if err != nil {
				return nil, fmt.Errorf("decompressing strip %d: %w", i, err)
			}
			out = append(out, b...)
		default:
			return nil, tiffError("compression %d not supported", compression)
		}
	}
	return out, nil
}
