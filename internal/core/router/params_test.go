package router

import (
	"net/url"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/postgis-collections/internal/core/model"
)

type schema struct{}

func (schema) Properties() []model.Property {
	return []model.Property{{Name: "roadName", Type: "string"}, {Name: "lanes", Type: "number"}}
}

func (schema) AdditionalQueryParameters() []model.QueryParameter {
	return []model.QueryParameter{{Name: "surfaceType"}}
}

func TestParseItemsQuery_AllParameters(t *testing.T) {
	v, _ := url.ParseQuery("limit=500&nextToken=20&bbox=11,55,12,56&bbox-crs=EPSG:4326&datetime=2024-01-01/..&ROADNAME=Main&lanes=2&SurfaceType=gravel&f=json")
	q, err := ParseItemsQuery(v, schema{}, 10, 100)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.Limit != 100 || q.NextToken != "20" {
		t.Fatalf("limit=%d token=%q", q.Limit, q.NextToken)
	}

	var (
		bb   *model.BBoxFilter
		tf   *model.TimeFilter
		pf   *model.PropertyFilter
		af   *model.AdditionalParameterFilter
		seen = map[model.FilterClass]int{}
	)
	for _, f := range q.Filters {
		seen[f.Class()]++
		switch v := f.(type) {
		case model.BBoxFilter:
			bb = &v
		case model.TimeFilter:
			tf = &v
		case model.PropertyFilter:
			pf = &v
		case model.AdditionalParameterFilter:
			af = &v
		}
	}
	if len(seen) != 4 {
		t.Fatalf("filter classes=%v", seen)
	}
	if bb.BBox != (model.BBox{X1: 11, Y1: 55, X2: 12, Y2: 56}) || bb.CRS != "EPSG:4326" {
		t.Fatalf("bbox=%+v", bb)
	}
	if tf.Start == nil || tf.End != nil || !tf.Start.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("time=%+v", tf)
	}
	if !reflect.DeepEqual(pf.Properties, map[string]any{"roadName": "Main", "lanes": int64(2)}) {
		t.Fatalf("properties=%v", pf.Properties)
	}
	if !reflect.DeepEqual(af.Parameters, map[string]any{"surfaceType": "gravel"}) {
		t.Fatalf("additional=%v", af.Parameters)
	}
}

func TestParseItemsQuery_DefaultsAndUnknown(t *testing.T) {
	q, err := ParseItemsQuery(url.Values{}, schema{}, 10, 100)
	if err != nil || q.Limit != 10 || len(q.Filters) != 0 {
		t.Fatalf("q=%+v err=%v", q, err)
	}
	if _, err := ParseItemsQuery(url.Values{"colour": {"red"}}, schema{}, 10, 100); err == nil {
		t.Fatal("expected error for undeclared parameter")
	}
	if _, err := ParseItemsQuery(url.Values{"lanes": {"two"}}, schema{}, 10, 100); err == nil || !strings.Contains(err.Error(), "two") {
		t.Fatalf("expected error for non-numeric number property, got %v", err)
	}
}

func TestParseDatetime(t *testing.T) {
	instant, err := parseDatetime("2024-03-01T12:00:00Z")
	if err != nil || instant.Start == nil || instant.End == nil || !instant.Start.Equal(*instant.End) {
		t.Fatalf("instant=%+v err=%v", instant, err)
	}
	closed, err := parseDatetime("2024-01-01T00:00:00Z/2024-02-01T00:00:00Z")
	if err != nil || closed.Start == nil || closed.End == nil {
		t.Fatalf("closed=%+v err=%v", closed, err)
	}
	open, err := parseDatetime("../2024-02-01")
	if err != nil || open.Start != nil || open.End == nil {
		t.Fatalf("open start=%+v err=%v", open, err)
	}
	for _, bad := range []string{"../..", "/", "2024-02-01/2024-01-01", "soon"} {
		if _, err := parseDatetime(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func TestParseBBox(t *testing.T) {
	if _, err := parseBBox("1,2,3,4"); err != nil {
		t.Fatalf("valid bbox: %v", err)
	}
	for _, bad := range []string{"1,2,3", "1,2,3,4,5", "a,2,3,4", "3,2,1,4"} {
		if _, err := parseBBox(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}
