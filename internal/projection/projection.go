// Package projection transforms coordinates between spatial reference
// systems. WGS84 (4326) and web mercator (3857, 900913) are built in;
// other codes are served by a pluggable Factory such as SpatiaLite.
package projection

import (
	"context"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/jobrunner/geopack/internal/domain"
)

// maxMercatorLatitude keeps mercator y finite.
const maxMercatorLatitude = 85.0511287798066

// Projector converts between one spatial reference system and WGS84.
type Projector interface {
	SRID() int
	ToWGS84(ctx context.Context, p orb.Point) (orb.Point, error)
	FromWGS84(ctx context.Context, p orb.Point) (orb.Point, error)
}

// Factory builds projectors for codes that are not built in.
type Factory interface {
	Projector(ctx context.Context, srid int) (Projector, error)
}

// Geographic is the identity projector for WGS84 longitude/latitude.
type Geographic struct{}

// SRID implements Projector.
func (Geographic) SRID() int { return domain.SRIDWGS84 }

// ToWGS84 implements Projector.
func (Geographic) ToWGS84(_ context.Context, p orb.Point) (orb.Point, error) { return p, nil }

// FromWGS84 implements Projector.
func (Geographic) FromWGS84(_ context.Context, p orb.Point) (orb.Point, error) { return p, nil }

// Mercator is spherical web mercator. Latitudes beyond the square extent
// are clamped.
type Mercator struct {
	Code int
}

// SRID implements Projector.
func (m Mercator) SRID() int {
	if m.Code == 0 {
		return domain.SRIDWebMercator
	}
	return m.Code
}

// ToWGS84 implements Projector.
func (Mercator) ToWGS84(_ context.Context, p orb.Point) (orb.Point, error) {
	if !finite(p) {
		return p, &domain.ProjectionError{From: domain.SRIDWebMercator, To: domain.SRIDWGS84, Err: errNotFinite}
	}
	return project.Mercator.ToWGS84(p), nil
}

// FromWGS84 implements Projector.
func (Mercator) FromWGS84(_ context.Context, p orb.Point) (orb.Point, error) {
	if !finite(p) {
		return p, &domain.ProjectionError{From: domain.SRIDWGS84, To: domain.SRIDWebMercator, Err: errNotFinite}
	}
	p[1] = math.Max(-maxMercatorLatitude, math.Min(maxMercatorLatitude, p[1]))
	return project.WGS84.ToMercator(p), nil
}

func finite(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsNaN(p[1]) && !math.IsInf(p[0], 0) && !math.IsInf(p[1], 0)
}
