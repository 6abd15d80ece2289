package collection

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/postgis-collections/internal/core/model"
	"github.com/mohammed-shakir/postgis-collections/internal/derived"
	"github.com/mohammed-shakir/postgis-collections/internal/spatial"
	"github.com/mohammed-shakir/postgis-collections/internal/store"
)

// Materializer turns store rows into features.
type Materializer struct {
	cols   *ColumnModel
	hidePK bool
	hook   derived.Hook
}

func NewMaterializer(cols *ColumnModel, hidePK bool, hook derived.Hook) *Materializer {
	return &Materializer{cols: cols, hidePK: hidePK, hook: hook}
}

// ToFeature builds a feature from one row. A missing primary geometry
// yields a nil Geometry, which marshals as JSON null.
func (m *Materializer) ToFeature(row store.Row) (*model.Feature, error) {
	pk := m.cols.PrimaryKey()
	id, err := m.value(pk, row[pk.Physical()])
	if err != nil {
		return nil, fmt.Errorf("primary key %q: %w", pk.Name(), err)
	}
	f := model.NewFeature(id)

	if raw, ok := row[GeometryAlias]; ok {
		g, err := spatial.ParseWKT(raw)
		if err != nil {
			return nil, fmt.Errorf("feature %v geometry: %w", id, err)
		}
		f.Geometry = g
	}

	var pending []*DerivedColumn
	for _, c := range m.cols.Columns() {
		if m.hidePK && c == pk {
			continue
		}
		switch col := c.(type) {
		case *DerivedColumn:
			pending = append(pending, col)
		case *WildcardColumn:
			obj, err := jsonObject(row[col.Physical()])
			if err != nil {
				return nil, fmt.Errorf("feature %v wildcard %q: %w", id, col.Physical(), err)
			}
			keys := make([]string, 0, len(obj))
			for k := range obj {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				f.Properties.Set(k, obj[k])
			}
		default:
			v, err := m.value(col, row[col.Physical()])
			if err != nil {
				return nil, fmt.Errorf("feature %v column %q: %w", id, col.Name(), err)
			}
			f.Properties.Set(col.Name(), v)
		}
	}

	for _, d := range pending {
		f.Properties.Set(d.Name(), d.Fn(f))
	}

	if m.hook != nil {
		f = m.hook(f)
	}
	return f, nil
}

func (m *Materializer) value(c Column, raw any) (any, error) {
	switch col := c.(type) {
	case *DateColumn:
		return col.Format(raw), nil
	case *GeometryColumn:
		g, err := spatial.ParseWKT(raw)
		if err != nil || g == nil {
			return nil, err
		}
		return geojson.NewGeometry(g), nil
	default:
		return raw, nil
	}
}

func jsonObject(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	case []byte:
		return decodeObject(v)
	case string:
		return decodeObject([]byte(v))
	default:
		return nil, fmt.Errorf("expected a JSON object, got %T", raw)
	}
}

func decodeObject(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
