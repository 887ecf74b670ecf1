package coverage

import (
	"errors"
	"math"
	"testing"

	"github.com/jobrunner/geopack/internal/domain"
)

func TestPixelToElevation(t *testing.T) {
	tests := []struct {
		name   string
		scale  float64
		offset float64
		raw    float64
		want   float64
	}{
		{"identity", 1, 0, 1661, 1661},
		{"scaled and offset", 2, 10, 1661, 3342},
		{"fractional scale", 0.1, -100, 1500, 50},
		{"zero raw", 1, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := domain.NewGriddedCoverage("dem", domain.CoverageInteger)
			c.Scale, c.Offset = tt.scale, tt.offset
			tr, err := NewTransform(c, nil)
			if err != nil {
				t.Fatalf("NewTransform() error = %v", err)
			}
			got, ok := tr.PixelToElevation(tt.raw)
			if !ok {
				t.Fatal("unexpected no-data")
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("PixelToElevation(%v) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestTileOverridesCoverage(t *testing.T) {
	c := domain.NewGriddedCoverage("dem", domain.CoverageInteger)
	c.Scale, c.Offset = 5, 5

	tile := &domain.GriddedTile{Scale: domain.Float64(2), Offset: domain.Float64(10)}
	tr, err := NewTransform(c, tile)
	if err != nil {
		t.Fatalf("NewTransform() error = %v", err)
	}
	if got, _ := tr.PixelToElevation(1661); got != 3342 {
		t.Errorf("tile override: got %v, want 3342", got)
	}

	// a tile without its own values falls back to the coverage
	tr, _ = NewTransform(c, &domain.GriddedTile{})
	if got, _ := tr.PixelToElevation(1); got != 10 {
		t.Errorf("fallback: got %v, want 10", got)
	}
}

func TestDataNull(t *testing.T) {
	c := domain.NewGriddedCoverage("dem", domain.CoverageInteger)
	c.DataNull = domain.Float64(65535)
	tr, err := NewTransform(c, nil)
	if err != nil {
		t.Fatalf("NewTransform() error = %v", err)
	}

	if _, ok := tr.PixelToElevation(65535); ok {
		t.Error("sentinel must decode to no-data")
	}
	if _, ok := tr.SignedPixelToElevation(-1); ok {
		t.Error("signed -1 is the unsigned sentinel 65535")
	}
	raw, err := tr.ElevationToPixel(math.NaN())
	if err != nil || raw != 65535 {
		t.Errorf("ElevationToPixel(NaN) = %v, %v; want 65535", raw, err)
	}

	c.DataNull = nil
	tr, _ = NewTransform(c, nil)
	if _, err := tr.ElevationToPixel(math.NaN()); err == nil {
		t.Error("no-data without a sentinel should fail")
	}
}

func TestElevationToPixelRoundsAndClamps(t *testing.T) {
	tr := Transform{DataType: domain.CoverageInteger, Scale: 2, Offset: 10}

	tests := []struct {
		value float64
		want  float64
	}{
		{3342, 1661},
		{3343, 1667}, // 1666.5 rounds half away from zero
		{-500, 0},
		{1e9, 65535},
	}
	for _, tt := range tests {
		got, err := tr.ElevationToPixel(tt.value)
		if err != nil {
			t.Fatalf("ElevationToPixel(%v) error = %v", tt.value, err)
		}
		if got != tt.want {
			t.Errorf("ElevationToPixel(%v) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestInvalidParameters(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name string
		tr   Transform
	}{
		{"zero scale", Transform{DataType: domain.CoverageInteger, Scale: 0}},
		{"nan scale", Transform{DataType: domain.CoverageInteger, Scale: nan}},
		{"infinite offset", Transform{DataType: domain.CoverageInteger, Scale: 1, Offset: math.Inf(1)}},
		{"scaled float", Transform{DataType: domain.CoverageFloat, Scale: 2}},
		{"unknown type", Transform{DataType: "complex", Scale: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tr.Validate()
			var icp *domain.InvalidCoverageParametersError
			if !errors.As(err, &icp) {
				t.Fatalf("Validate() = %v, want InvalidCoverageParametersError", err)
			}
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Error("error should wrap ErrInvalidInput")
			}
		})
	}
}

func TestStats(t *testing.T) {
	minV, maxV, mean, std := Stats([]float64{1, 2, 3, math.NaN(), 4})
	if *minV != 1 || *maxV != 4 || *mean != 2.5 {
		t.Errorf("Stats() = %v %v %v", *minV, *maxV, *mean)
	}
	if math.Abs(*std-math.Sqrt(1.25)) > 1e-12 {
		t.Errorf("std = %v", *std)
	}
	if minV, _, _, _ := Stats([]float64{math.NaN()}); minV != nil {
		t.Error("all no-data should yield nil stats")
	}
}
