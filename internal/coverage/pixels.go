// Package coverage implements gridded coverage (elevation) tiles: raw pixel
// containers, the scale/offset/null transform and lossless tile codecs.
package coverage

import (
	"fmt"
	"image"
	"image/color"

	"github.com/jobrunner/geopack/internal/domain"
)

// Pixels is a row-major grid of raw samples. Exactly one of Ints or Floats
// is populated, matching DataType.
type Pixels struct {
	Width    int
	Height   int
	DataType domain.CoverageDataType
	Ints     []uint16
	Floats   []float32
}

// Len returns the number of samples.
func (p Pixels) Len() int {
	return p.Width * p.Height
}

// Value returns the raw sample at (x, y) as float64.
func (p Pixels) Value(x, y int) float64 {
	i := y*p.Width + x
	if p.DataType == domain.CoverageFloat {
		return float64(p.Floats[i])
	}
	return float64(p.Ints[i])
}

// Validate checks dimensions against the sample buffer.
func (p Pixels) Validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return &domain.InvalidCoverageParametersError{
			Field:  "dimensions",
			Value:  fmt.Sprintf("%dx%d", p.Width, p.Height),
			Reason: "width and height must be positive",
		}
	}
	switch p.DataType {
	case domain.CoverageInteger:
		if len(p.Ints) != p.Len() {
			return &domain.InvalidCoverageParametersError{
				Field:  "pixels",
				Value:  len(p.Ints),
				Reason: fmt.Sprintf("integer tile %dx%d needs %d samples", p.Width, p.Height, p.Len()),
			}
		}
	case domain.CoverageFloat:
		if len(p.Floats) != p.Len() {
			return &domain.InvalidCoverageParametersError{
				Field:  "pixels",
				Value:  len(p.Floats),
				Reason: fmt.Sprintf("float tile %dx%d needs %d samples", p.Width, p.Height, p.Len()),
			}
		}
	default:
		return &domain.InvalidCoverageParametersError{Field: "datatype", Value: p.DataType, Reason: "unknown data type"}
	}
	return nil
}

// IntPixels2D builds integer pixels from a row-major 2D grid.
func IntPixels2D(rows [][]uint16) (Pixels, error) {
	if len(rows) == 0 {
		return Pixels{}, &domain.InvalidCoverageParametersError{Field: "rows", Value: 0, Reason: "empty grid"}
	}
	w := len(rows[0])
	flat := make([]uint16, 0, w*len(rows))
	for y, row := range rows {
		if len(row) != w {
			return Pixels{}, &domain.InvalidCoverageParametersError{
				Field:  "rows",
				Value:  y,
				Reason: fmt.Sprintf("row length %d differs from %d", len(row), w),
			}
		}
		flat = append(flat, row...)
	}
	return IntPixels(flat, w)
}

// IntPixels builds integer pixels from a flat row-major array.
func IntPixels(values []uint16, width int) (Pixels, error) {
	if width <= 0 || len(values)%width != 0 {
		return Pixels{}, &domain.InvalidCoverageParametersError{
			Field:  "width",
			Value:  width,
			Reason: fmt.Sprintf("does not divide %d samples", len(values)),
		}
	}
	p := Pixels{
		Width:    width,
		Height:   len(values) / width,
		DataType: domain.CoverageInteger,
		Ints:     append([]uint16(nil), values...),
	}
	return p, p.Validate()
}

// SignedIntPixels builds integer pixels from samples stored as signed
// 16-bit values, reinterpreting each as unsigned.
func SignedIntPixels(values []int16, width int) (Pixels, error) {
	u := make([]uint16, len(values))
	for i, v := range values {
		u[i] = UnsignedPixel(v)
	}
	return IntPixels(u, width)
}

// FloatPixels2D builds float pixels from a row-major 2D grid.
func FloatPixels2D(rows [][]float32) (Pixels, error) {
	if len(rows) == 0 {
		return Pixels{}, &domain.InvalidCoverageParametersError{Field: "rows", Value: 0, Reason: "empty grid"}
	}
	w := len(rows[0])
	flat := make([]float32, 0, w*len(rows))
	for y, row := range rows {
		if len(row) != w {
			return Pixels{}, &domain.InvalidCoverageParametersError{
				Field:  "rows",
				Value:  y,
				Reason: fmt.Sprintf("row length %d differs from %d", len(row), w),
			}
		}
		flat = append(flat, row...)
	}
	return FloatPixels(flat, w)
}

// FloatPixels builds float pixels from a flat row-major array.
func FloatPixels(values []float32, width int) (Pixels, error) {
	if width <= 0 || len(values)%width != 0 {
		return Pixels{}, &domain.InvalidCoverageParametersError{
			Field:  "width",
			Value:  width,
			Reason: fmt.Sprintf("does not divide %d samples", len(values)),
		}
	}
	p := Pixels{
		Width:    width,
		Height:   len(values) / width,
		DataType: domain.CoverageFloat,
		Floats:   append([]float32(nil), values...),
	}
	return p, p.Validate()
}

// IntPixelsFromImage reads 16-bit gray samples from any image.
func IntPixelsFromImage(img image.Image) (Pixels, error) {
	b := img.Bounds()
	if b.Empty() {
		return Pixels{}, &domain.InvalidCoverageParametersError{Field: "image", Value: b, Reason: "empty image"}
	}
	values := make([]uint16, 0, b.Dx()*b.Dy())
	if g, ok := img.(*image.Gray16); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				values = append(values, g.Gray16At(x, y).Y)
			}
		}
	} else {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				values = append(values, color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y)
			}
		}
	}
	return IntPixels(values, b.Dx())
}

// Image returns the integer pixels as a 16-bit grayscale image.
func (p Pixels) Image() (*image.Gray16, error) {
	if p.DataType != domain.CoverageInteger {
		return nil, &domain.InvalidCoverageParametersError{Field: "datatype", Value: p.DataType, Reason: "only integer tiles map to an image"}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	img := image.NewGray16(image.Rect(0, 0, p.Width, p.Height))
	for i, v := range p.Ints {
		img.Pix[2*i] = byte(v >> 8)
		img.Pix[2*i+1] = byte(v)
	}
	return img, nil
}

// UnsignedPixel reinterprets a signed 16-bit sample as unsigned.
func UnsignedPixel(v int16) uint16 {
	return uint16(v)
}

// SignedPixel reinterprets an unsigned 16-bit sample as signed.
func SignedPixel(v uint16) int16 {
	return int16(v)
}
