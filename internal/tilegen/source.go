// Package tilegen builds GeoPackage tile pyramids from external tile
// services, object storage or features rendered from a spatial index.
package tilegen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jobrunner/geopack/internal/domain"
	"github.com/jobrunner/geopack/internal/tilegrid"
)

// ErrNoTile reports that a source has nothing for a cell. The generator
// leaves such cells out of the pyramid.
var ErrNoTile = fmt.Errorf("source tile: %w", domain.ErrNotFound)

// Request identifies one cell of the world tiling.
type Request struct {
	// Cell uses XYZ addressing: row 0 is the northernmost row.
	Cell domain.GridCell
	// Bounds is the cell extent in the tiling projection.
	Bounds domain.BoundingBox
	// LonLat is the cell extent in WGS84.
	LonLat domain.BoundingBox
	// Width and Height are the tile dimensions in pixels.
	Width, Height int
}

// Source produces the encoded image for a cell.
type Source interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

// URLSource fetches tiles over HTTP from a template such as
// https://tile.example.org/{z}/{x}/{y}.png. Bounding box placeholders
// {minLon} {minLat} {maxLon} {maxLat} and {minX} {minY} {maxX} {maxY}
// serve WMS style endpoints.
type URLSource struct {
	Template string
	// TMS addresses rows from the south.
	TMS    bool
	Client *http.Client
	Header http.Header
}

// NewURLSource returns a source with a client bounded by timeout.
func NewURLSource(template string, tms bool, timeout time.Duration) *URLSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &URLSource{
		Template: template,
		TMS:      tms,
		Client:   &http.Client{Timeout: timeout},
	}
}

// URL expands the template for req.
func (s *URLSource) URL(req Request) string {
	row := req.Cell.Row
	if s.TMS {
		row = tilegrid.FlipRow(row, req.Cell.Zoom)
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(req.Cell.Zoom),
		"{x}", strconv.Itoa(req.Cell.Column),
		"{y}", strconv.Itoa(row),
		"{minLon}", f(req.LonLat.MinX),
		"{minLat}", f(req.LonLat.MinY),
		"{maxLon}", f(req.LonLat.MaxX),
		"{maxLat}", f(req.LonLat.MaxY),
		"{minX}", f(req.Bounds.MinX),
		"{minY}", f(req.Bounds.MinY),
		"{maxX}", f(req.Bounds.MaxX),
		"{maxY}", f(req.Bounds.MaxY),
		"{width}", strconv.Itoa(req.Width),
		"{height}", strconv.Itoa(req.Height),
	)
	return r.Replace(s.Template)
}

// Fetch downloads the tile. 404 and 204 responses yield ErrNoTile.
func (s *URLSource) Fetch(ctx context.Context, req Request) ([]byte, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	u := s.URL(req)
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range s.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}

	resp, err := client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", u, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusNoContent:
		return nil, ErrNoTile
	default:
		return nil, fmt.Errorf("fetching %s: status %d", u, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", u, err)
	}
	if len(data) == 0 {
		return nil, ErrNoTile
	}
	return data, nil
}

// ObjectReader is the part of object storage a StorageSource needs.
type ObjectReader interface {
	GetReader(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// StorageSource reads pre-rendered tiles from object storage under keys
// built from Pattern, by default {z}/{x}/{y}.png.
type StorageSource struct {
	Storage ObjectReader
	Pattern string
	TMS     bool
}

// Key returns the object key for req.
func (s *StorageSource) Key(req Request) string {
	pattern := s.Pattern
	if pattern == "" {
		pattern = "{z}/{x}/{y}.png"
	}
	row := req.Cell.Row
	if s.TMS {
		row = tilegrid.FlipRow(row, req.Cell.Zoom)
	}
	return strings.NewReplacer(
		"{z}", strconv.Itoa(req.Cell.Zoom),
		"{x}", strconv.Itoa(req.Cell.Column),
		"{y}", strconv.Itoa(row),
	).Replace(pattern)
}

// Fetch reads the object for req. Missing objects yield ErrNoTile.
func (s *StorageSource) Fetch(ctx context.Context, req Request) ([]byte, error) {
	key := s.Key(req)
	ok, err := s.Storage.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoTile
	}
	rc, err := s.Storage.GetReader(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrNoTile
		}
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}
