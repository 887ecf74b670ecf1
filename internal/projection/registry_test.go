package projection

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"

	"github.com/jobrunner/geopack/internal/domain"
)

const halfWorld = 20037508.342789244

type countingProjector struct {
	srid  int
	calls int
}

func (c *countingProjector) SRID() int { return c.srid }

func (c *countingProjector) ToWGS84(_ context.Context, p orb.Point) (orb.Point, error) {
	c.calls++
	return orb.Point{p[0] / 1000, p[1] / 1000}, nil
}

func (c *countingProjector) FromWGS84(_ context.Context, p orb.Point) (orb.Point, error) {
	c.calls++
	return orb.Point{p[0] * 1000, p[1] * 1000}, nil
}

type staticFactory struct {
	projectors map[int]Projector
}

func (f staticFactory) Projector(_ context.Context, srid int) (Projector, error) {
	if p, ok := f.projectors[srid]; ok {
		return p, nil
	}
	return nil, errors.New("unknown srid")
}

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestTransformPointMercator(t *testing.T) {
	ctx := context.Background()
	r, err := NewRegistry(0)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		in   orb.Point
		want orb.Point
	}{
		{"origin", orb.Point{0, 0}, orb.Point{0, 0}},
		{"antimeridian", orb.Point{180, 0}, orb.Point{halfWorld, 0}},
		{"square corner", orb.Point{-180, maxMercatorLatitude}, orb.Point{-halfWorld, halfWorld}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.TransformPoint(ctx, tt.in, 4326, 3857)
			if err != nil {
				t.Fatalf("TransformPoint() error = %v", err)
			}
			if !near(got[0], tt.want[0], 1e-3) || !near(got[1], tt.want[1], 1e-3) {
				t.Errorf("TransformPoint() = %v, want %v", got, tt.want)
			}
			back, err := r.TransformPoint(ctx, got, 3857, 4326)
			if err != nil {
				t.Fatalf("inverse error = %v", err)
			}
			if !near(back[0], tt.in[0], 1e-9) || !near(back[1], tt.in[1], 1e-9) {
				t.Errorf("round trip = %v, want %v", back, tt.in)
			}
		})
	}

	// poles are clamped rather than sent to infinity
	p, err := r.TransformPoint(ctx, orb.Point{0, 90}, 4326, 900913)
	if err != nil {
		t.Fatalf("pole error = %v", err)
	}
	if !near(p[1], halfWorld, 1e-3) {
		t.Errorf("pole y = %v", p[1])
	}
}

func TestTransformPointUnsupported(t *testing.T) {
	r, _ := NewRegistry(0)
	_, err := r.TransformPoint(context.Background(), orb.Point{1, 1}, 4326, 25832)
	if !errors.Is(err, domain.ErrUnsupportedProjection) {
		t.Errorf("error = %v, want ErrUnsupportedProjection", err)
	}
	var pe *domain.ProjectionError
	if !errors.As(err, &pe) || pe.From != 4326 || pe.To != 25832 {
		t.Errorf("error = %#v, want ProjectionError 4326->25832", err)
	}
	if r.Supports(context.Background(), 25832) {
		t.Error("25832 should not be supported")
	}
}

func TestFactoryAndCache(t *testing.T) {
	ctx := context.Background()
	custom := &countingProjector{srid: 99999}
	r, err := NewRegistry(16, WithFactory(staticFactory{projectors: map[int]Projector{99999: custom}}))
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		got, err := r.TransformPoint(ctx, orb.Point{7000, 50000}, 99999, 4326)
		if err != nil {
			t.Fatalf("TransformPoint() error = %v", err)
		}
		if got != (orb.Point{7, 50}) {
			t.Errorf("TransformPoint() = %v", got)
		}
	}
	if custom.calls != 1 {
		t.Errorf("projector called %d times, want 1", custom.calls)
	}
	if !r.Supports(ctx, 99999) {
		t.Error("factory code should be supported")
	}

	_, err = r.TransformPoint(ctx, orb.Point{1, 1}, 12345, 4326)
	if !errors.Is(err, domain.ErrUnsupportedProjection) {
		t.Errorf("unknown factory code error = %v", err)
	}
}

func TestTransformBBox(t *testing.T) {
	ctx := context.Background()
	r, _ := NewRegistry(128)

	world := domain.BoundingBox{MinX: -180, MinY: -90, MaxX: 180, MaxY: 90, SRID: 4326}
	got, err := r.TransformBBox(ctx, world, 3857)
	if err != nil {
		t.Fatalf("TransformBBox() error = %v", err)
	}
	if got.SRID != 3857 || !near(got.MinX, -halfWorld, 1e-3) || !near(got.MaxY, halfWorld, 1e-3) {
		t.Errorf("TransformBBox() = %v", got)
	}

	same, err := r.TransformBBox(ctx, world, 4326)
	if err != nil || same != world {
		t.Errorf("identity transform = %v, %v", same, err)
	}

	_, err = r.TransformBBox(ctx, world, 31467)
	if err == nil {
		t.Error("unsupported target should fail")
	}
}

func TestTransformGeometry(t *testing.T) {
	ctx := context.Background()
	r, _ := NewRegistry(0)
	line := orb.LineString{{0, 0}, {180, 0}}

	out, err := r.TransformGeometry(ctx, line, 4326, 3857)
	if err != nil {
		t.Fatalf("TransformGeometry() error = %v", err)
	}
	ls := out.(orb.LineString)
	if !near(ls[1][0], halfWorld, 1e-3) {
		t.Errorf("transformed line = %v", ls)
	}
	if line[1][0] != 180 {
		t.Error("input geometry was modified")
	}

	if _, err := r.TransformGeometry(ctx, line, 4326, 2154); err == nil {
		t.Error("unsupported target should fail")
	}
}

func TestTransformCoordinate(t *testing.T) {
	r, _ := NewRegistry(0)
	c, err := r.TransformCoordinate(context.Background(), domain.NewWGS84Coordinate(180, 0), 3857)
	if err != nil {
		t.Fatal(err)
	}
	if c.SRID != 3857 || !near(c.X, halfWorld, 1e-3) {
		t.Errorf("TransformCoordinate() = %+v", c)
	}
}
