package http

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/jobrunner/geopack/internal/domain"
)

// propertyPrefix marks attribute filters, e.g. property.name=Bern.
const propertyPrefix = "property."

func invalidParam(name, value, msg string) error {
	return &domain.ValidationError{Field: name, Value: value, Message: fmt.Sprintf("invalid %s parameter: %s", name, msg)}
}

func intParam(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, invalidParam(name, v, "not an integer")
	}
	return n, nil
}

func floatParam(q url.Values, name string) (float64, error) {
	v := q.Get(name)
	if v == "" {
		return 0, invalidParam(name, v, "is required")
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, invalidParam(name, v, "not a number")
	}
	return f, nil
}

// parseBBox reads "minx,miny,maxx,maxy".
func parseBBox(v string, srid int) (*domain.BoundingBox, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 4 {
		return nil, invalidParam("bbox", v, "needs minx,miny,maxx,maxy")
	}
	var c [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, invalidParam("bbox", v, "not a number")
		}
		c[i] = f
	}
	b := domain.NewBoundingBox(c[0], c[1], c[2], c[3], srid)
	return &b, nil
}

// parseFeatureQuery reads bbox, bbox_srid, srid, limit, offset and
// property filters. The bbox is taken in bbox_srid, falling back to srid.
func parseFeatureQuery(q url.Values) (domain.FeatureQuery, error) {
	var fq domain.FeatureQuery
	var err error
	if fq.OutSRID, err = intParam(q, "srid"); err != nil {
		return fq, err
	}
	if fq.Limit, err = intParam(q, "limit"); err != nil {
		return fq, err
	}
	if fq.Offset, err = intParam(q, "offset"); err != nil {
		return fq, err
	}
	if v := q.Get("bbox"); v != "" {
		bboxSRID, err := intParam(q, "bbox_srid")
		if err != nil {
			return fq, err
		}
		if bboxSRID == 0 {
			bboxSRID = fq.OutSRID
		}
		if fq.BBox, err = parseBBox(v, bboxSRID); err != nil {
			return fq, err
		}
	}
	for key, values := range q {
		name, ok := strings.CutPrefix(key, propertyPrefix)
		if !ok || name == "" || len(values) == 0 {
			continue
		}
		if fq.Properties == nil {
			fq.Properties = make(map[string]any)
		}
		fq.Properties[name] = values[0]
	}
	return fq, fq.Validate()
}
