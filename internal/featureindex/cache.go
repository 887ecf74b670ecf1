package featureindex

import (
	"context"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/jobrunner/geopack/internal/gpkg"
)

// FetchFunc loads one feature row.
type FetchFunc func(ctx context.Context, id int64) (gpkg.FeatureRow, error)

// RowCache collapses concurrent fetches of the same row into one store
// read. Results are shared by the callers waiting at that moment and are
// not retained afterwards, so callers must treat Values as read-only.
type RowCache struct {
	group singleflight.Group
	fetch FetchFunc
}

// NewRowCache wraps fetch.
func NewRowCache(fetch FetchFunc) *RowCache {
	return &RowCache{fetch: fetch}
}

// Get returns the row with id. A caller whose context ends stops waiting;
// the fetch keeps running for the others.
func (c *RowCache) Get(ctx context.Context, id int64) (gpkg.FeatureRow, error) {
	ch := c.group.DoChan(strconv.FormatInt(id, 10), func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), id)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return gpkg.FeatureRow{}, res.Err
		}
		return res.Val.(gpkg.FeatureRow), nil
	case <-ctx.Done():
		return gpkg.FeatureRow{}, ctx.Err()
	}
}
