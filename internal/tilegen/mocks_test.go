package tilegen

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"sync"
	"testing"
)

// fakeSource records requests and answers through fetch, or with a PNG
// tile when fetch is nil.
type fakeSource struct {
	mu       sync.Mutex
	requests []Request
	fetch    func(ctx context.Context, req Request) ([]byte, error)
	tile     []byte
}

func (s *fakeSource) Fetch(ctx context.Context, req Request) ([]byte, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.fetch != nil {
		return s.fetch(ctx, req)
	}
	return s.tile, nil
}

func (s *fakeSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// mockObjects is an in-memory ObjectReader.
type mockObjects struct {
	objects map[string][]byte
}

func (m *mockObjects) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.objects[key]
	return ok, nil
}

func (m *mockObjects) GetReader(_ context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(string(m.objects[key]))), nil
}

func pngTile(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
