package coverage

import (
	"math"

	"github.com/jobrunner/geopack/internal/domain"
)

const maxIntPixel = math.MaxUint16

// Transform maps raw samples to real-world values and back.
type Transform struct {
	DataType domain.CoverageDataType
	Scale    float64
	Offset   float64
	DataNull *float64
}

// NewTransform resolves the effective transform for a tile. Tile-level scale
// and offset take precedence over the coverage values; tile may be nil.
func NewTransform(c domain.GriddedCoverage, tile *domain.GriddedTile) (Transform, error) {
	t := Transform{
		DataType: c.DataType,
		Scale:    c.Scale,
		Offset:   c.Offset,
		DataNull: c.DataNull,
	}
	if tile != nil {
		if tile.Scale != nil {
			t.Scale = *tile.Scale
		}
		if tile.Offset != nil {
			t.Offset = *tile.Offset
		}
	}
	return t, t.Validate()
}

// Validate rejects transforms that cannot be inverted.
func (t Transform) Validate() error {
	if t.Scale == 0 || math.IsNaN(t.Scale) || math.IsInf(t.Scale, 0) {
		return &domain.InvalidCoverageParametersError{Field: "scale", Value: t.Scale, Reason: "must be a finite non-zero number"}
	}
	if math.IsNaN(t.Offset) || math.IsInf(t.Offset, 0) {
		return &domain.InvalidCoverageParametersError{Field: "offset", Value: t.Offset, Reason: "must be finite"}
	}
	switch t.DataType {
	case domain.CoverageInteger:
	case domain.CoverageFloat:
		// float samples carry real values directly
		if t.Scale != 1 || t.Offset != 0 {
			return &domain.InvalidCoverageParametersError{
				Field:  "scale/offset",
				Value:  [2]float64{t.Scale, t.Offset},
				Reason: "float coverages require scale 1 and offset 0",
			}
		}
	default:
		return &domain.InvalidCoverageParametersError{Field: "datatype", Value: t.DataType, Reason: "unknown data type"}
	}
	return nil
}

// IsNull reports whether raw equals the no-data sentinel.
func (t Transform) IsNull(raw float64) bool {
	if t.DataNull == nil {
		return false
	}
	if t.DataType == domain.CoverageFloat {
		return float32(raw) == float32(*t.DataNull)
	}
	return raw == *t.DataNull
}

// PixelToElevation converts a raw sample. ok is false for no-data samples.
func (t Transform) PixelToElevation(raw float64) (value float64, ok bool) {
	if t.IsNull(raw) {
		return 0, false
	}
	return raw*t.Scale + t.Offset, true
}

// SignedPixelToElevation converts a sample stored as signed 16-bit.
func (t Transform) SignedPixelToElevation(raw int16) (float64, bool) {
	return t.PixelToElevation(float64(UnsignedPixel(raw)))
}

// ElevationToPixel is the inverse of PixelToElevation. NaN denotes no data
// and maps to the sentinel. Integer samples are rounded and clamped to the
// unsigned 16-bit range.
func (t Transform) ElevationToPixel(value float64) (float64, error) {
	if math.IsNaN(value) {
		if t.DataNull == nil {
			return 0, &domain.InvalidCoverageParametersError{Field: "data_null", Value: nil, Reason: "no-data value without a sentinel"}
		}
		return *t.DataNull, nil
	}
	raw := (value - t.Offset) / t.Scale
	if t.DataType == domain.CoverageFloat {
		return float64(float32(raw)), nil
	}
	raw = math.Round(raw)
	if raw < 0 {
		raw = 0
	}
	if raw > maxIntPixel {
		raw = maxIntPixel
	}
	return raw, nil
}

// Elevations converts all samples of p. No-data samples become NaN.
func (t Transform) Elevations(p Pixels) ([]float64, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	out := make([]float64, p.Len())
	for i := range out {
		var raw float64
		if p.DataType == domain.CoverageFloat {
			raw = float64(p.Floats[i])
		} else {
			raw = float64(p.Ints[i])
		}
		if v, ok := t.PixelToElevation(raw); ok {
			out[i] = v
		} else {
			out[i] = math.NaN()
		}
	}
	return out, nil
}

// Pixels converts a row-major grid of values into raw samples.
func (t Transform) Pixels(values []float64, width int) (Pixels, error) {
	if width <= 0 || len(values)%width != 0 {
		return Pixels{}, &domain.InvalidCoverageParametersError{Field: "width", Value: width, Reason: "does not divide value count"}
	}
	p := Pixels{Width: width, Height: len(values) / width, DataType: t.DataType}
	if t.DataType == domain.CoverageFloat {
		p.Floats = make([]float32, len(values))
	} else {
		p.Ints = make([]uint16, len(values))
	}
	for i, v := range values {
		raw, err := t.ElevationToPixel(v)
		if err != nil {
			return Pixels{}, err
		}
		if t.DataType == domain.CoverageFloat {
			p.Floats[i] = float32(raw)
		} else {
			p.Ints[i] = uint16(raw)
		}
	}
	return p, p.Validate()
}

// Stats computes GriddedTile statistics over non-null values.
func Stats(values []float64) (minV, maxV, mean, stddev *float64) {
	var n int
	var sum, sumSq float64
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		n++
		sum += v
		sumSq += v * v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if n == 0 {
		return nil, nil, nil, nil
	}
	m := sum / float64(n)
	variance := sumSq/float64(n) - m*m
	if variance < 0 {
		variance = 0
	}
	return domain.Float64(lo), domain.Float64(hi), domain.Float64(m), domain.Float64(math.Sqrt(variance))
}
