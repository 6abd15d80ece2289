package collection

import (
	"context"
	"regexp"
	"strconv"
	"sync"

	"github.com/mohammed-shakir/postgis-collections/internal/core/model"
	"github.com/mohammed-shakir/postgis-collections/internal/derived"
	"github.com/mohammed-shakir/postgis-collections/internal/store"
)

const crs4326 = "http://www.opengis.net/def/crs/EPSG/0/4326"

func roadsDef() TableDefinition {
	return TableDefinition{
		Title:              "Roads",
		Name:               "roads",
		Description:        "Road segments",
		TableName:          "roads",
		SchemaName:         "public",
		CRS:                crs4326,
		GeometryColumnName: "geom",
		Columns: []ColumnDefinition{
			{Name: "id", Type: KindNumber, PrimaryKey: true},
			{Name: "Name", ColumnName: "road_name", Type: KindString},
			{Name: "tags", Type: KindString, Array: true},
			{Name: "validFrom", ColumnName: "valid_from", Type: KindDate, TimeStart: true},
			{Name: "validTo", ColumnName: "valid_to", Type: KindDate, TimeEnd: true},
			{Name: "centre", Type: KindGeometry},
			{Name: "*", ColumnName: "props", Type: KindWildcard},
			{Name: "kind", Derived: "geometry_type"},
		},
		AdditionalQueryParameters: []model.QueryParameter{
			{Name: "surfaceType", Type: "string"},
		},
	}
}

func testRegistry() *derived.Registry {
	return derived.Builtins(9)
}

// fakeStore serves a fixed row set, honoring literal LIMIT/OFFSET clauses
// so pagination can be exercised end to end.
type fakeStore struct {
	mu    sync.Mutex
	rows  []store.Row
	err   error
	calls []fakeCall
}

type fakeCall struct {
	SQL  string
	Args []any
}

var (
	limitRe  = regexp.MustCompile(`LIMIT (\d+)`)
	offsetRe = regexp.MustCompile(`OFFSET (\d+)`)
)

func (f *fakeStore) Query(_ context.Context, sql string, args ...any) ([]store.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{SQL: sql, Args: args})
	if f.err != nil {
		return nil, f.err
	}
	out := f.rows
	if m := offsetRe.FindStringSubmatch(sql); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n > len(out) {
			n = len(out)
		}
		out = out[n:]
	}
	if m := limitRe.FindStringSubmatch(sql); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n < len(out) {
			out = out[:n]
		}
	}
	return out, nil
}

func (f *fakeStore) lastCall() fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return fakeCall{}
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// simpleDef is a table with a string key and one property.
func simpleDef() TableDefinition {
	return TableDefinition{
		Title:              "Points",
		Name:               "points",
		TableName:          "points",
		CRS:                crs4326,
		GeometryColumnName: "geom",
		Columns: []ColumnDefinition{
			{Name: "id", Type: KindString, PrimaryKey: true},
			{Name: "label", Type: KindString},
		},
	}
}

func letterRows(ids ...string) []store.Row {
	out := make([]store.Row, 0, len(ids))
	for i, id := range ids {
		out = append(out, store.Row{
			"id":          id,
			"label":       "row " + id,
			GeometryAlias: "POINT(" + strconv.Itoa(i) + " 1)",
		})
	}
	return out
}
