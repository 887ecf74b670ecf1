package tilegen

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"strings"

	_ "golang.org/x/image/webp" // decode webp source tiles

	"github.com/jobrunner/geopack/internal/domain"
)

// ImageCodec encodes rendered or transcoded tiles.
type ImageCodec interface {
	// Format is the image.RegisterFormat name of the output.
	Format() string
	Encode(img image.Image) ([]byte, error)
}

// PNGCodec writes PNG tiles.
type PNGCodec struct {
	Level png.CompressionLevel
}

// Format implements ImageCodec.
func (PNGCodec) Format() string { return "png" }

// Encode implements ImageCodec.
func (c PNGCodec) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: c.Level}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// JPEGCodec writes JPEG tiles. Transparent pixels become white.
type JPEGCodec struct {
	Quality int
}

// Format implements ImageCodec.
func (JPEGCodec) Format() string { return "jpeg" }

// Encode implements ImageCodec.
func (c JPEGCodec) Encode(img image.Image) ([]byte, error) {
	q := c.Quality
	if q <= 0 || q > 100 {
		q = jpeg.DefaultQuality
	}
	flat := image.NewRGBA(img.Bounds())
	draw.Draw(flat, flat.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), img, img.Bounds().Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: q}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CodecFor returns the codec for an image format name. An empty name
// selects PNG.
func CodecFor(format string, quality int) (ImageCodec, error) {
	switch strings.ToLower(format) {
	case "", "png":
		return PNGCodec{}, nil
	case "jpeg", "jpg":
		return JPEGCodec{Quality: quality}, nil
	default:
		return nil, fmt.Errorf("image format %q: %w", format, domain.ErrUnsupported)
	}
}

// Transcode re-encodes data with c unless it already is in c's format.
func Transcode(data []byte, c ImageCodec) ([]byte, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding source tile: %w", err)
	}
	if format == c.Format() {
		return data, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding source tile: %w", err)
	}
	return c.Encode(img)
}
