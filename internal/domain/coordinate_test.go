package domain

import (
	"errors"
	"math"
	"testing"
)

func TestCoordinateValidate(t *testing.T) {
	tests := []struct {
		name    string
		coord   Coordinate
		wantErr bool
	}{
		{
			name:  "valid WGS84 coordinate",
			coord: NewWGS84Coordinate(9.9, 52.5),
		},
		{
			name:  "valid WGS84 at max bounds",
			coord: NewWGS84Coordinate(180, 90),
		},
		{
			name:    "longitude too large",
			coord:   NewWGS84Coordinate(181, 0),
			wantErr: true,
		},
		{
			name:    "latitude too small",
			coord:   NewWGS84Coordinate(0, -91),
			wantErr: true,
		},
		{
			name:  "projected coordinates are not range checked",
			coord: Coordinate{X: 1e7, Y: -1e7, SRID: SRIDWebMercator},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.coord.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewBoundingBoxNormalizes(t *testing.T) {
	b := NewBoundingBox(10, 20, -10, -20, SRIDWGS84)

	if b.MinX != -10 || b.MaxX != 10 || b.MinY != -20 || b.MaxY != 20 {
		t.Errorf("NewBoundingBox did not normalize corners: %v", b)
	}
}

func TestBoundingBoxValidate(t *testing.T) {
	tests := []struct {
		name    string
		box     BoundingBox
		wantErr bool
	}{
		{name: "valid", box: BoundingBox{MinX: -1, MinY: -1, MaxX: 1, MaxY: 1}},
		{name: "degenerate point", box: BoundingBox{MinX: 1, MinY: 1, MaxX: 1, MaxY: 1}},
		{name: "inverted x", box: BoundingBox{MinX: 2, MinY: -1, MaxX: 1, MaxY: 1}, wantErr: true},
		{name: "NaN", box: BoundingBox{MinX: math.NaN(), MinY: -1, MaxX: 1, MaxY: 1}, wantErr: true},
		{name: "Inf", box: BoundingBox{MinX: -1, MinY: -1, MaxX: math.Inf(1), MaxY: 1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.box.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidBoundingBox) {
				t.Errorf("expected ErrInvalidBoundingBox, got %v", err)
			}
		})
	}
}

func TestBoundingBoxIntersects(t *testing.T) {
	base := BoundingBox{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}

	tests := []struct {
		name  string
		other BoundingBox
		want  bool
	}{
		{name: "overlapping", other: BoundingBox{MinX: 5, MinY: 5, MaxX: 15, MaxY: 15}, want: true},
		{name: "contained", other: BoundingBox{MinX: 2, MinY: 2, MaxX: 3, MaxY: 3}, want: true},
		{name: "touching edge", other: BoundingBox{MinX: 10, MinY: 0, MaxX: 20, MaxY: 10}, want: true},
		{name: "disjoint", other: BoundingBox{MinX: 11, MinY: 11, MaxX: 20, MaxY: 20}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := base.Intersects(tt.other); got != tt.want {
				t.Errorf("Intersects() = %v, want %v", got, tt.want)
			}
			if got := tt.other.Intersects(base); got != tt.want {
				t.Errorf("Intersects() is not symmetric")
			}
		})
	}
}

func TestBoundingBoxIntersectionAndUnion(t *testing.T) {
	a := BoundingBox{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10, SRID: SRIDWebMercator}
	b := BoundingBox{MinX: 5, MinY: -5, MaxX: 15, MaxY: 5}

	got, ok := a.Intersection(b)
	if !ok {
		t.Fatal("expected intersection")
	}
	want := BoundingBox{MinX: 5, MinY: 0, MaxX: 10, MaxY: 5, SRID: SRIDWebMercator}
	if got != want {
		t.Errorf("Intersection() = %v, want %v", got, want)
	}

	u := a.Union(b)
	if u.MinX != 0 || u.MinY != -5 || u.MaxX != 15 || u.MaxY != 10 {
		t.Errorf("Union() = %v", u)
	}

	if _, ok := a.Intersection(BoundingBox{MinX: 20, MinY: 20, MaxX: 30, MaxY: 30}); ok {
		t.Error("expected no intersection for disjoint boxes")
	}
}

func TestBoundingBoxDimensions(t *testing.T) {
	b := BoundingBox{MinX: -2, MinY: 1, MaxX: 4, MaxY: 5, SRID: SRIDWGS84}

	if b.Width() != 6 {
		t.Errorf("Width() = %f, want 6", b.Width())
	}
	if b.Height() != 4 {
		t.Errorf("Height() = %f, want 4", b.Height())
	}
	c := b.Center()
	if c.X != 1 || c.Y != 3 || c.SRID != SRIDWGS84 {
		t.Errorf("Center() = %+v", c)
	}
	if !b.Contains(c) {
		t.Error("box should contain its center")
	}
}
