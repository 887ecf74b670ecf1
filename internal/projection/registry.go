package projection

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/jobrunner/geopack/internal/domain"
)

var errNotFinite = errors.New("coordinate is not finite")

// edgeSamples is the number of points sampled along each bbox edge.
const edgeSamples = 16

type cacheKey struct {
	from, to int
	x, y     float64
}

// Registry resolves projectors by SRID and transforms points, boxes and
// geometries between any two supported codes. Point transforms are cached.
type Registry struct {
	mu         sync.RWMutex
	projectors map[int]Projector
	factory    Factory
	cache      *lru.Cache[cacheKey, orb.Point]
}

// Option configures a Registry.
type Option func(*Registry)

// WithFactory resolves codes that are not registered.
func WithFactory(f Factory) Option {
	return func(r *Registry) { r.factory = f }
}

// NewRegistry returns a registry holding the built-in projectors. A
// cacheSize of zero disables the point cache.
func NewRegistry(cacheSize int, opts ...Option) (*Registry, error) {
	r := &Registry{projectors: make(map[int]Projector)}
	r.Register(Geographic{})
	r.Register(Mercator{Code: domain.SRIDWebMercator})
	r.Register(Mercator{Code: domain.SRIDGoogleMercator})
	for _, opt := range opts {
		opt(r)
	}
	if cacheSize > 0 {
		c, err := lru.New[cacheKey, orb.Point](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("creating projection cache: %w", err)
		}
		r.cache = c
	}
	return r, nil
}

// Register adds or replaces a projector.
func (r *Registry) Register(p Projector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projectors[p.SRID()] = p
}

// Projector returns the projector for srid, asking the factory for codes
// that are not registered yet.
func (r *Registry) Projector(ctx context.Context, srid int) (Projector, error) {
	r.mu.RLock()
	p, ok := r.projectors[srid]
	factory := r.factory
	r.mu.RUnlock()
	if ok {
		return p, nil
	}
	if factory == nil {
		return nil, &domain.ProjectionError{From: srid, To: domain.SRIDWGS84}
	}
	p, err := factory.Projector(ctx, srid)
	if err != nil {
		return nil, &domain.ProjectionError{
			From: srid,
			To:   domain.SRIDWGS84,
			Err:  fmt.Errorf("%w: %w", domain.ErrUnsupportedProjection, err),
		}
	}
	r.Register(p)
	return p, nil
}

// Supports reports whether srid can be transformed.
func (r *Registry) Supports(ctx context.Context, srid int) bool {
	_, err := r.Projector(ctx, srid)
	return err == nil
}

// TransformPoint converts p from one code to another.
func (r *Registry) TransformPoint(ctx context.Context, p orb.Point, from, to int) (orb.Point, error) {
	if from == to {
		return p, nil
	}
	key := cacheKey{from: from, to: to, x: p[0], y: p[1]}
	if r.cache != nil {
		if out, ok := r.cache.Get(key); ok {
			return out, nil
		}
	}

	src, err := r.Projector(ctx, from)
	if err != nil {
		return p, &domain.ProjectionError{From: from, To: to, Err: err}
	}
	dst, err := r.Projector(ctx, to)
	if err != nil {
		return p, &domain.ProjectionError{From: from, To: to, Err: err}
	}
	wgs, err := src.ToWGS84(ctx, p)
	if err != nil {
		return p, &domain.ProjectionError{From: from, To: to, Err: err}
	}
	out, err := dst.FromWGS84(ctx, wgs)
	if err != nil {
		return p, &domain.ProjectionError{From: from, To: to, Err: err}
	}
	if !finite(out) {
		return p, &domain.ProjectionError{From: from, To: to, Err: errNotFinite}
	}

	if r.cache != nil {
		r.cache.Add(key, out)
	}
	return out, nil
}

// TransformCoordinate converts c to the target code.
func (r *Registry) TransformCoordinate(ctx context.Context, c domain.Coordinate, to int) (domain.Coordinate, error) {
	p, err := r.TransformPoint(ctx, orb.Point{c.X, c.Y}, c.SRID, to)
	if err != nil {
		return domain.Coordinate{}, err
	}
	return domain.Coordinate{X: p[0], Y: p[1], SRID: to}, nil
}

// TransformBBox converts b to the target code. Each edge is sampled so the
// result encloses curved edges of the projected box.
func (r *Registry) TransformBBox(ctx context.Context, b domain.BoundingBox, to int) (domain.BoundingBox, error) {
	if b.SRID == to {
		return b, nil
	}
	out := domain.BoundingBox{
		MinX: math.Inf(1), MinY: math.Inf(1),
		MaxX: math.Inf(-1), MaxY: math.Inf(-1),
		SRID: to,
	}
	for i := 0; i <= edgeSamples; i++ {
		f := float64(i) / edgeSamples
		x := b.MinX + f*(b.MaxX-b.MinX)
		y := b.MinY + f*(b.MaxY-b.MinY)
		for _, p := range []orb.Point{{x, b.MinY}, {x, b.MaxY}, {b.MinX, y}, {b.MaxX, y}} {
			q, err := r.TransformPoint(ctx, p, b.SRID, to)
			if err != nil {
				return domain.BoundingBox{}, err
			}
			out.MinX = math.Min(out.MinX, q[0])
			out.MinY = math.Min(out.MinY, q[1])
			out.MaxX = math.Max(out.MaxX, q[0])
			out.MaxY = math.Max(out.MaxY, q[1])
		}
	}
	return out, nil
}

// TransformGeometry returns a transformed copy of g.
func (r *Registry) TransformGeometry(ctx context.Context, g orb.Geometry, from, to int) (orb.Geometry, error) {
	if g == nil || from == to {
		return g, nil
	}
	var firstErr error
	out := project.Geometry(orb.Clone(g), func(p orb.Point) orb.Point {
		if firstErr != nil {
			return p
		}
		q, err := r.TransformPoint(ctx, p, from, to)
		if err != nil {
			firstErr = err
			return p
		}
		return q
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
