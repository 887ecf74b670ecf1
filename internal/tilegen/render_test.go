package tilegen

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/paulmach/orb"

	"github.com/jobrunner/geopack/internal/domain"
	"github.com/jobrunner/geopack/internal/gpkg"
)

func alphaAt(img image.Image, x, y int) uint32 {
	_, _, _, a := img.At(x, y).RGBA()
	return a
}

func TestVectorDrawerPolygonWithHole(t *testing.T) {
	req := Request{
		Bounds: domain.BoundingBox{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100},
		Width:  100,
		Height: 100,
	}
	// both rings wound the same way; the drawer fixes the orientation
	outer := orb.Ring{{10, 10}, {90, 10}, {90, 90}, {10, 90}, {10, 10}}
	hole := orb.Ring{{40, 40}, {60, 40}, {60, 60}, {40, 60}, {40, 40}}
	d := VectorDrawer{Style: Style{Fill: color.NRGBA{B: 255, A: 255}}}

	img, err := d.Draw(context.Background(), req, []orb.Geometry{orb.Polygon{outer, hole}})
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name   string
		x, y   int
		filled bool
	}{
		{"inside ring", 25, 25, true},
		{"inside hole", 50, 50, false},
		{"outside", 5, 5, false},
	}
	for _, tt := range tests {
		if got := alphaAt(img, tt.x, tt.y) > 0; got != tt.filled {
			t.Errorf("%s: painted = %v", tt.name, got)
		}
	}
}

func TestVectorDrawerLinesAndPoints(t *testing.T) {
	req := Request{Bounds: domain.BoundingBox{MaxX: 64, MaxY: 64}, Width: 64, Height: 64}
	features := []orb.Geometry{
		orb.LineString{{0, 32}, {64, 32}},
		orb.MultiPoint{{8, 56}},
	}
	img, err := VectorDrawer{}.Draw(context.Background(), req, features)
	if err != nil {
		t.Fatal(err)
	}
	// y grows downwards in pixel space
	if alphaAt(img, 32, 31) == 0 {
		t.Error("line not drawn")
	}
	if alphaAt(img, 8, 7) == 0 {
		t.Error("point not drawn")
	}
	if alphaAt(img, 32, 10) != 0 {
		t.Error("empty area painted")
	}

	if _, err := (VectorDrawer{}).Draw(context.Background(), Request{}, features); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Draw() with zero size error = %v", err)
	}
}

type staticFeatures []gpkg.FeatureRow

func (s staticFeatures) QueryBBox(context.Context, domain.BoundingBox) ([]gpkg.FeatureRow, error) {
	return s, nil
}

func TestFeatureSourceWithoutFeatures(t *testing.T) {
	src := &FeatureSource{Features: staticFeatures{{ID: 1}, {ID: 2, Geometry: []byte("junk")}}}
	req := Request{Bounds: domain.BoundingBox{MaxX: 1, MaxY: 1}, Width: 8, Height: 8}
	if _, err := src.Fetch(context.Background(), req); !errors.Is(err, ErrNoTile) {
		t.Errorf("Fetch() error = %v, want ErrNoTile", err)
	}
}

func TestCodecFor(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for _, name := range []string{"", "png", "JPEG", "jpg"} {
		c, err := CodecFor(name, 0)
		if err != nil {
			t.Fatalf("CodecFor(%q) error = %v", name, err)
		}
		data, err := c.Encode(img)
		if err != nil {
			t.Fatal(err)
		}
		_, format, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil || format != c.Format() {
			t.Errorf("CodecFor(%q) wrote %q, %v", name, format, err)
		}
	}
	if _, err := CodecFor("bmp", 0); !errors.Is(err, domain.ErrUnsupported) {
		t.Errorf("CodecFor(bmp) error = %v", err)
	}
}

func TestTranscodeKeepsMatchingFormat(t *testing.T) {
	data := pngTile(t, color.White)
	out, err := Transcode(data, PNGCodec{})
	if err != nil || !bytes.Equal(out, data) {
		t.Errorf("Transcode() changed a png tile: %v", err)
	}
}
