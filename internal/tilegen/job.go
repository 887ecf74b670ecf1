package tilegen

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jobrunner/geopack/internal/domain"
)

// Source types accepted in job files.
const (
	SourceURL      = "url"
	SourceStorage  = "storage"
	SourceFeatures = "features"
)

// Job is a tile build described in YAML:
//
//	package: /data/osm.gpkg
//	table: basemap
//	min_zoom: 0
//	max_zoom: 6
//	bbox: [5.8, 47.2, 15.1, 55.1]
//	bbox_srid: 4326
//	source:
//	  type: url
//	  url: https://tile.example.org/{z}/{x}/{y}.png
type Job struct {
	Package     string    `yaml:"package"`
	Table       string    `yaml:"table"`
	Description string    `yaml:"description"`
	MinZoom     int       `yaml:"min_zoom"`
	MaxZoom     int       `yaml:"max_zoom"`
	BBox        []float64 `yaml:"bbox"`
	BBoxSRID    int       `yaml:"bbox_srid"`
	SRID        int       `yaml:"srid"`
	Format      string    `yaml:"format"`
	ImageFormat string    `yaml:"image_format"`
	Quality     int       `yaml:"quality"`
	TileSize    int       `yaml:"tile_size"`
	BatchSize   int       `yaml:"batch_size"` // tiles per transaction
	Source      JobSource `yaml:"source"`
	Style       *JobStyle `yaml:"style,omitempty"`
}

// JobSource selects where tile images come from.
type JobSource struct {
	Type string `yaml:"type"`
	// url
	URL     string        `yaml:"url"`
	TMS     bool          `yaml:"tms"`
	Timeout time.Duration `yaml:"timeout"`
	// storage
	Pattern string `yaml:"pattern"`
	// features
	FeatureTable string `yaml:"feature_table"`
	BufferPixels int    `yaml:"buffer_pixels"`
}

// JobStyle overrides the feature rendering style. Colors are #rrggbb or
// #rrggbbaa.
type JobStyle struct {
	Fill        string  `yaml:"fill"`
	Stroke      string  `yaml:"stroke"`
	LineWidth   float64 `yaml:"line_width"`
	PointRadius float64 `yaml:"point_radius"`
}

// LoadJob reads a job file.
func LoadJob(path string) (*Job, error) {
	f, err := os.Open(path) //#nosec G304 -- path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("opening job file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ParseJob(f)
}

// ParseJob decodes and validates a job. Unknown keys are rejected.
func ParseJob(r io.Reader) (*Job, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var job Job
	if err := dec.Decode(&job); err != nil {
		return nil, &domain.ConfigError{Field: "job", Message: err.Error()}
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

// Validate checks fields the generator config does not cover.
func (j *Job) Validate() error {
	var errs []error
	if len(j.BBox) != 4 {
		errs = append(errs, &domain.ValidationError{Field: "bbox", Value: j.BBox, Message: "needs minx, miny, maxx, maxy"})
	}
	switch j.Source.Type {
	case SourceURL:
		if j.Source.URL == "" {
			errs = append(errs, &domain.ValidationError{Field: "source.url", Message: "is required"})
		}
	case SourceStorage:
	case SourceFeatures:
		if j.Source.FeatureTable == "" {
			errs = append(errs, &domain.ValidationError{Field: "source.feature_table", Message: "is required"})
		}
	default:
		errs = append(errs, &domain.ValidationError{Field: "source.type", Value: j.Source.Type, Message: "must be url, storage or features"})
	}
	if j.Style != nil {
		if _, err := j.Style.Style(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return j.Config().Validate()
}

// Config converts the job into generator settings.
func (j *Job) Config() Config {
	cfg := Config{
		Table:       j.Table,
		Description: j.Description,
		MinZoom:     j.MinZoom,
		MaxZoom:     j.MaxZoom,
		SRID:        j.SRID,
		Format:      Format(strings.ToLower(j.Format)),
		ImageFormat: j.ImageFormat,
		Quality:     j.Quality,
		TileSize:    j.TileSize,
	}
	if len(j.BBox) == 4 {
		cfg.BBox = domain.NewBoundingBox(j.BBox[0], j.BBox[1], j.BBox[2], j.BBox[3], j.BBoxSRID)
	}
	cfg.setDefaults()
	return cfg
}

// Style converts the colors.
func (s *JobStyle) Style() (Style, error) {
	out := DefaultStyle
	if s.Fill != "" {
		c, err := parseColor(s.Fill)
		if err != nil {
			return Style{}, &domain.ValidationError{Field: "style.fill", Value: s.Fill, Message: err.Error()}
		}
		out.Fill = c
	}
	if s.Stroke != "" {
		c, err := parseColor(s.Stroke)
		if err != nil {
			return Style{}, &domain.ValidationError{Field: "style.stroke", Value: s.Stroke, Message: err.Error()}
		}
		out.Stroke = c
	}
	if s.LineWidth > 0 {
		out.LineWidth = s.LineWidth
	}
	if s.PointRadius > 0 {
		out.PointRadius = s.PointRadius
	}
	return out, nil
}

func parseColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 && len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("color %q is not #rrggbb or #rrggbbaa", s)
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("color %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
