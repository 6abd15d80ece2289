package router

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/postgis-collections/internal/core/model"
)

// CollectionSchema is the part of a collection the query parser needs.
type CollectionSchema interface {
	Properties() []model.Property
	AdditionalQueryParameters() []model.QueryParameter
}

var reserved = map[string]bool{
	"limit":     true,
	"nexttoken": true,
	"bbox":      true,
	"bbox-crs":  true,
	"datetime":  true,
	"f":         true,
}

// ParseItemsQuery turns the items query string into a model.Query.
// Property and additional parameter names match case-insensitively and
// are rewritten to their declared spelling.
func ParseItemsQuery(v url.Values, col CollectionSchema, defLimit, maxLimit int) (model.Query, error) {
	q := model.Query{Limit: defLimit}

	if raw := strings.TrimSpace(v.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return model.Query{}, fmt.Errorf("invalid limit %q: must be a positive integer", raw)
		}
		q.Limit = min(n, maxLimit)
	}
	q.NextToken = strings.TrimSpace(v.Get("nextToken"))

	if raw := strings.TrimSpace(v.Get("bbox")); raw != "" {
		bb, err := parseBBox(raw)
		if err != nil {
			return model.Query{}, fmt.Errorf("invalid bbox: %w", err)
		}
		q.Filters = append(q.Filters, model.BBoxFilter{BBox: bb, CRS: strings.TrimSpace(v.Get("bbox-crs"))})
	} else if v.Get("bbox-crs") != "" {
		return model.Query{}, errors.New("bbox-crs given without bbox")
	}

	if raw := strings.TrimSpace(v.Get("datetime")); raw != "" {
		tf, err := parseDatetime(raw)
		if err != nil {
			return model.Query{}, fmt.Errorf("invalid datetime: %w", err)
		}
		q.Filters = append(q.Filters, tf)
	}

	props := map[string]model.Property{}
	for _, p := range col.Properties() {
		props[strings.ToLower(p.Name)] = p
	}
	params := map[string]string{}
	for _, p := range col.AdditionalQueryParameters() {
		params[strings.ToLower(p.Name)] = p.Name
	}

	var pf, af map[string]any
	for key, vals := range v {
		lk := strings.ToLower(key)
		if reserved[lk] || len(vals) == 0 {
			continue
		}
		if p, ok := props[lk]; ok {
			if pf == nil {
				pf = map[string]any{}
			}
			val, err := typedValue(p.Type, vals[0])
			if err != nil {
				return model.Query{}, fmt.Errorf("%s: %w", key, err)
			}
			pf[p.Name] = val
			continue
		}
		if name, ok := params[lk]; ok {
			if af == nil {
				af = map[string]any{}
			}
			af[name] = vals[0]
			continue
		}
		return model.Query{}, fmt.Errorf("unknown query parameter %q", key)
	}
	if pf != nil {
		q.Filters = append(q.Filters, model.PropertyFilter{Properties: pf})
	}
	if af != nil {
		q.Filters = append(q.Filters, model.AdditionalParameterFilter{Parameters: af})
	}
	return q, nil
}

func typedValue(typ, raw string) (any, error) {
	if typ != "number" {
		return raw, nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%q is not a number", raw)
	}
	return f, nil
}

func parseBBox(raw string) (model.BBox, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return model.BBox{}, errors.New("expected 4 comma-separated values: minx,miny,maxx,maxy")
	}
	var f [4]float64
	for i, p := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return model.BBox{}, fmt.Errorf("value %d: %w", i+1, err)
		}
		f[i] = n
	}
	if f[2] < f[0] || f[3] < f[1] {
		return model.BBox{}, errors.New("max corner must not be below min corner")
	}
	return model.BBox{X1: f[0], Y1: f[1], X2: f[2], Y2: f[3]}, nil
}

// parseDatetime accepts an instant or an interval "start/end" where
// either end may be ".." or empty.
func parseDatetime(raw string) (model.TimeFilter, error) {
	start, end, interval := strings.Cut(raw, "/")
	if !interval {
		t, err := parseInstant(raw)
		if err != nil {
			return model.TimeFilter{}, err
		}
		return model.TimeFilter{Start: &t, End: &t}, nil
	}

	var tf model.TimeFilter
	if !openEnd(start) {
		t, err := parseInstant(start)
		if err != nil {
			return model.TimeFilter{}, fmt.Errorf("start: %w", err)
		}
		tf.Start = &t
	}
	if !openEnd(end) {
		t, err := parseInstant(end)
		if err != nil {
			return model.TimeFilter{}, fmt.Errorf("end: %w", err)
		}
		tf.End = &t
	}
	if tf.Start == nil && tf.End == nil {
		return model.TimeFilter{}, errors.New("interval open at both ends")
	}
	if tf.Start != nil && tf.End != nil && tf.End.Before(*tf.Start) {
		return model.TimeFilter{}, errors.New("end before start")
	}
	return tf, nil
}

func openEnd(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || s == ".."
}

func parseInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC 3339 nor a date", s)
	}
	return t, nil
}
