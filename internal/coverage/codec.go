package coverage

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/jobrunner/geopack/internal/domain"
)

// ImageCodec encodes raw coverage pixels to tile image bytes and back.
type ImageCodec interface {
	// Format is the MIME type of encoded tiles.
	Format() string
	Encode(p Pixels) ([]byte, error)
	Decode(b []byte) (Pixels, error)
}

// CodecFor returns the default codec for a data type: PNG for integer
// coverages and little-endian TIFF for float coverages.
func CodecFor(dt domain.CoverageDataType) (ImageCodec, error) {
	switch dt {
	case domain.CoverageInteger:
		return PNGCodec{}, nil
	case domain.CoverageFloat:
		return TIFFCodec{}, nil
	default:
		return nil, &domain.InvalidCoverageParametersError{Field: "datatype", Value: dt, Reason: "unknown data type"}
	}
}

// PNGCodec stores integer samples as 16-bit grayscale PNG.
type PNGCodec struct {
	Compression png.CompressionLevel
}

// Format implements ImageCodec.
func (PNGCodec) Format() string { return "image/png" }

// Encode implements ImageCodec.
func (c PNGCodec) Encode(p Pixels) ([]byte, error) {
	img, err := p.Image()
	if err != nil {
		return nil, err
	}
	return c.EncodeImage(img)
}

// EncodeImage encodes a 16-bit grayscale image directly.
func (c PNGCodec) EncodeImage(img image.Image) ([]byte, error) {
	if _, ok := img.(*image.Gray16); !ok {
		p, err := IntPixelsFromImage(img)
		if err != nil {
			return nil, err
		}
		if img, err = p.Image(); err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: c.Compression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png tile: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode implements ImageCodec.
func (PNGCodec) Decode(b []byte) (Pixels, error) {
	img, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		return Pixels{}, fmt.Errorf("decoding png tile: %w", err)
	}
	if _, ok := img.(*image.Gray16); !ok {
		return Pixels{}, &domain.InvalidCoverageParametersError{
			Field:  "image",
			Value:  fmt.Sprintf("%T", img),
			Reason: "integer coverage tiles must be 16-bit grayscale",
		}
	}
	return IntPixelsFromImage(img)
}

// EncodeValues applies t to a row-major grid of values and encodes it.
// NaN values are written as the no-data sentinel.
func EncodeValues(codec ImageCodec, t Transform, values []float64, width int) ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	p, err := t.Pixels(values, width)
	if err != nil {
		return nil, err
	}
	return codec.Encode(p)
}

// DecodeValues decodes a tile and applies t to every sample. No-data
// samples are returned as NaN.
func DecodeValues(codec ImageCodec, t Transform, b []byte) ([]float64, int, error) {
	if err := t.Validate(); err != nil {
		return nil, 0, err
	}
	p, err := codec.Decode(b)
	if err != nil {
		return nil, 0, err
	}
	if p.DataType != t.DataType {
		return nil, 0, &domain.InvalidCoverageParametersError{
			Field:  "datatype",
			Value:  p.DataType,
			Reason: fmt.Sprintf("tile samples do not match %s coverage", t.DataType),
		}
	}
	values, err := t.Elevations(p)
	return values, p.Width, err
}
