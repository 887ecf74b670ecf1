// Package domain contains the core business entities and value objects.
package domain

import (
	"fmt"
	"math"
)

// Coordinate represents a position in a spatial reference system.
type Coordinate struct {
	X    float64 // Longitude or Easting
	Y    float64 // Latitude or Northing
	SRID int     // Spatial Reference ID
}

// NewWGS84Coordinate creates a WGS84 (EPSG:4326) coordinate.
func NewWGS84Coordinate(lon, lat float64) Coordinate {
	return Coordinate{X: lon, Y: lat, SRID: SRIDWGS84}
}

// Validate checks if the coordinate is valid for its SRID.
func (c Coordinate) Validate() error {
	if c.SRID == SRIDWGS84 {
		if c.X < -180 || c.X > 180 {
			return &ValidationError{
				Field:      "longitude",
				Value:      c.X,
				Constraint: "[-180, 180]",
				Message:    "longitude must be between -180 and 180",
			}
		}
		if c.Y < -90 || c.Y > 90 {
			return &ValidationError{
				Field:      "latitude",
				Value:      c.Y,
				Constraint: "[-90, 90]",
				Message:    "latitude must be between -90 and 90",
			}
		}
	}
	return nil
}

// WKT returns the Well-Known Text representation.
func (c Coordinate) WKT() string {
	return fmt.Sprintf("POINT(%f %f)", c.X, c.Y)
}

// Common SRID constants.
const (
	SRIDUndefinedCartesian  = -1     // Undefined cartesian SRS
	SRIDUndefinedGeographic = 0      // Undefined geographic SRS
	SRIDWGS84               = 4326   // WGS 84
	SRIDWebMercator         = 3857   // Web Mercator
	SRIDGoogleMercator      = 900913 // Legacy alias of Web Mercator
)

// BoundingBox is an axis-aligned rectangle in a spatial reference system.
type BoundingBox struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
	SRID int
}

// NewBoundingBox creates a bounding box, normalizing swapped corners.
func NewBoundingBox(minX, minY, maxX, maxY float64, srid int) BoundingBox {
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	if minY > maxY {
		minY, maxY = maxY, minY
	}
	return BoundingBox{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY, SRID: srid}
}

// WorldWGS84 returns the full geographic extent.
func WorldWGS84() BoundingBox {
	return BoundingBox{MinX: -180, MinY: -90, MaxX: 180, MaxY: 90, SRID: SRIDWGS84}
}

// Validate checks that the box has non-negative, finite dimensions.
func (b BoundingBox) Validate() error {
	for _, v := range []float64{b.MinX, b.MinY, b.MaxX, b.MaxY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate", ErrInvalidBoundingBox)
		}
	}
	if b.MinX > b.MaxX || b.MinY > b.MaxY {
		return fmt.Errorf("%w: min exceeds max", ErrInvalidBoundingBox)
	}
	return nil
}

// Contains checks if a coordinate is within the box, edges included.
func (b BoundingBox) Contains(c Coordinate) bool {
	return c.X >= b.MinX && c.X <= b.MaxX && c.Y >= b.MinY && c.Y <= b.MaxY
}

// Intersects reports whether two boxes overlap, touching edges included.
func (b BoundingBox) Intersects(o BoundingBox) bool {
	return b.MinX <= o.MaxX && b.MaxX >= o.MinX && b.MinY <= o.MaxY && b.MaxY >= o.MinY
}

// Intersection returns the overlap of two boxes and whether one exists.
func (b BoundingBox) Intersection(o BoundingBox) (BoundingBox, bool) {
	if !b.Intersects(o) {
		return BoundingBox{}, false
	}
	return BoundingBox{
		MinX: math.Max(b.MinX, o.MinX),
		MinY: math.Max(b.MinY, o.MinY),
		MaxX: math.Min(b.MaxX, o.MaxX),
		MaxY: math.Min(b.MaxY, o.MaxY),
		SRID: b.SRID,
	}, true
}

// Union returns the smallest box containing both boxes.
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	return BoundingBox{
		MinX: math.Min(b.MinX, o.MinX),
		MinY: math.Min(b.MinY, o.MinY),
		MaxX: math.Max(b.MaxX, o.MaxX),
		MaxY: math.Max(b.MaxY, o.MaxY),
		SRID: b.SRID,
	}
}

// Width returns the width of the box.
func (b BoundingBox) Width() float64 {
	return math.Abs(b.MaxX - b.MinX)
}

// Height returns the height of the box.
func (b BoundingBox) Height() float64 {
	return math.Abs(b.MaxY - b.MinY)
}

// Center returns the center coordinate of the box.
func (b BoundingBox) Center() Coordinate {
	return Coordinate{
		X:    (b.MinX + b.MaxX) / 2,
		Y:    (b.MinY + b.MaxY) / 2,
		SRID: b.SRID,
	}
}

// String returns a compact representation.
func (b BoundingBox) String() string {
	return fmt.Sprintf("[%g,%g,%g,%g] SRID=%d", b.MinX, b.MinY, b.MaxX, b.MaxY, b.SRID)
}
