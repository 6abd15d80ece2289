package collection

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/postgis-collections/internal/core/model"
	"github.com/mohammed-shakir/postgis-collections/internal/derived"
	"github.com/mohammed-shakir/postgis-collections/internal/store"
)

func roadRow() store.Row {
	return store.Row{
		"id":          int64(7),
		"road_name":   "Main",
		"tags":        []string{"paved", "lit"},
		"valid_from":  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		"valid_to":    nil,
		"centre":      "POINT(1 2)",
		"props":       map[string]any{"surfaceType": "asphalt", "lanes": float64(2)},
		GeometryAlias: "LINESTRING(0 0,1 1)",
	}
}

func newMaterializer(t *testing.T, def TableDefinition, fns *derived.Registry, hook derived.Hook) *Materializer {
	t.Helper()
	cols, err := NewColumnModel(def, fns)
	if err != nil {
		t.Fatalf("NewColumnModel: %v", err)
	}
	return NewMaterializer(cols, def.HidePrimaryKey, hook)
}

func TestToFeature_PropertiesInDeclarationOrder(t *testing.T) {
	def := roadsDef()
	def.Columns[3].OutputTz = "Europe/Helsinki"
	def.Columns[3].DateFormat = "2006-01-02 15:04"
	m := newMaterializer(t, def, testRegistry(), nil)

	f, err := m.ToFeature(roadRow())
	if err != nil {
		t.Fatalf("ToFeature: %v", err)
	}
	if f.ID != int64(7) {
		t.Fatalf("id=%v", f.ID)
	}
	if _, ok := f.Geometry.(orb.LineString); !ok {
		t.Fatalf("geometry=%T", f.Geometry)
	}

	wantKeys := []string{"id", "Name", "tags", "validFrom", "validTo", "centre", "lanes", "surfaceType", "kind"}
	if got := f.Properties.Keys(); !reflect.DeepEqual(got, wantKeys) {
		t.Fatalf("keys=%v want %v", got, wantKeys)
	}
	if v, _ := f.Properties.Get("validFrom"); v != "2024-03-01 14:00" {
		t.Fatalf("validFrom=%v", v)
	}
	if v, _ := f.Properties.Get("validTo"); v != nil {
		t.Fatalf("validTo=%v want nil", v)
	}
	if v, _ := f.Properties.Get("kind"); v != "LineString" {
		t.Fatalf("kind=%v", v)
	}
	if v, _ := f.Properties.Get("centre"); !reflect.DeepEqual(v, geojson.NewGeometry(orb.Point{1, 2})) {
		t.Fatalf("centre=%#v", v)
	}
}

func TestDateColumn_MomentFormat(t *testing.T) {
	col, err := compileColumn(ColumnDefinition{
		Name: "validFrom", ColumnName: "valid_from", Type: KindDate,
		DateFormat: "YYYY-MM-DD", OutputTz: "Europe/Helsinki",
	}, nil)
	if err != nil {
		t.Fatalf("compileColumn: %v", err)
	}
	dc := col.(*DateColumn)
	if got := dc.Format(time.Date(2020, 3, 4, 22, 30, 0, 0, time.UTC)); got != "2020-03-05" {
		t.Fatalf("got %v want 2020-03-05", got)
	}

	layouts := map[string]string{
		"YYYY-MM-DDTHH:mm:ss.SSSZ": "2006-01-02T15:04:05.000-07:00",
		"DD.MM.YYYY [klo] HH:mm":   "02.01.2006 klo 15:04",
		"2006-01-02 15:04":         "2006-01-02 15:04",
		"":                         time.RFC3339,
	}
	for in, want := range layouts {
		got, err := dateLayout(in)
		if err != nil || got != want {
			t.Fatalf("dateLayout(%q)=%q,%v want %q", in, got, err, want)
		}
	}

	_, err = compileColumn(ColumnDefinition{
		Name: "validFrom", ColumnName: "valid_from", Type: KindDate, DateFormat: "[date]",
	}, nil)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for a format without fields, got %v", err)
	}
}

func TestToFeature_HidePrimaryKeyStillSetsID(t *testing.T) {
	def := roadsDef()
	def.HidePrimaryKey = true
	m := newMaterializer(t, def, testRegistry(), nil)

	f, err := m.ToFeature(roadRow())
	if err != nil {
		t.Fatalf("ToFeature: %v", err)
	}
	if f.ID != int64(7) {
		t.Fatalf("id=%v", f.ID)
	}
	if _, ok := f.Properties.Get("id"); ok {
		t.Fatalf("primary key leaked into properties: %v", f.Properties.Keys())
	}
}

func TestToFeature_WildcardFlattened(t *testing.T) {
	m := newMaterializer(t, roadsDef(), testRegistry(), nil)

	row := roadRow()
	row["props"] = []byte(`{"surfaceType":"gravel","owner":{"name":"city"}}`)
	f, err := m.ToFeature(row)
	if err != nil {
		t.Fatalf("ToFeature: %v", err)
	}
	if _, ok := f.Properties.Get("*"); ok {
		t.Fatal("wildcard nested under its own name")
	}
	if _, ok := f.Properties.Get("props"); ok {
		t.Fatal("wildcard nested under its column name")
	}
	if v, _ := f.Properties.Get("surfaceType"); v != "gravel" {
		t.Fatalf("surfaceType=%v", v)
	}
	if v, _ := f.Properties.Get("owner"); !reflect.DeepEqual(v, map[string]any{"name": "city"}) {
		t.Fatalf("owner=%v", v)
	}
}

func TestToFeature_DerivedSeesEarlierDerived(t *testing.T) {
	fns := derived.NewRegistry()
	fns.Register("upper", func(f *model.Feature) any {
		v, _ := f.Properties.Get("label")
		s, _ := v.(string)
		return strings.ToUpper(s)
	})
	fns.Register("shout", func(f *model.Feature) any {
		v, _ := f.Properties.Get("upperLabel")
		s, _ := v.(string)
		return s + "!"
	})

	def := simpleDef()
	def.Columns = append(def.Columns,
		ColumnDefinition{Name: "upperLabel", Derived: "upper"},
		ColumnDefinition{Name: "loud", Derived: "shout"},
	)
	m := newMaterializer(t, def, fns, nil)

	f, err := m.ToFeature(letterRows("A")[0])
	if err != nil {
		t.Fatalf("ToFeature: %v", err)
	}
	if v, _ := f.Properties.Get("loud"); v != "ROW A!" {
		t.Fatalf("loud=%v", v)
	}
	if got := f.Properties.Keys(); !reflect.DeepEqual(got, []string{"id", "label", "upperLabel", "loud"}) {
		t.Fatalf("keys=%v", got)
	}
}

func TestToFeature_PostProcessRunsLast(t *testing.T) {
	var sawLabel any
	hook := func(f *model.Feature) *model.Feature {
		sawLabel, _ = f.Properties.Get("label")
		out := model.NewFeature("rewritten")
		out.Geometry = f.Geometry
		return out
	}
	m := newMaterializer(t, simpleDef(), nil, hook)

	f, err := m.ToFeature(letterRows("A")[0])
	if err != nil {
		t.Fatalf("ToFeature: %v", err)
	}
	if sawLabel != "row A" {
		t.Fatalf("hook saw label=%v", sawLabel)
	}
	if f.ID != "rewritten" || f.Properties.Len() != 0 {
		t.Fatalf("hook result not used: %+v", f)
	}
}

func TestToFeature_MissingGeometryIsJSONNull(t *testing.T) {
	m := newMaterializer(t, simpleDef(), nil, nil)

	f, err := m.ToFeature(store.Row{"id": "A", "label": "x", GeometryAlias: nil})
	if err != nil {
		t.Fatalf("ToFeature: %v", err)
	}
	if f.Geometry != nil {
		t.Fatalf("geometry=%v want nil", f.Geometry)
	}
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"geometry":null`) {
		t.Fatalf("json=%s", b)
	}
	if !strings.HasPrefix(string(b), `{"type":"Feature","id":"A"`) {
		t.Fatalf("json=%s", b)
	}
}

func TestToFeature_BadGeometryText(t *testing.T) {
	m := newMaterializer(t, simpleDef(), nil, nil)
	if _, err := m.ToFeature(store.Row{"id": "A", GeometryAlias: "POINT(oops"}); err == nil {
		t.Fatal("expected parse error")
	}
}
