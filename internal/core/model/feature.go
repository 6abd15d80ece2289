package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Properties is a string-keyed map that remembers insertion order so that
// features serialize their properties in column declaration order.
type Properties struct {
	keys []string
	vals map[string]any
}

func NewProperties() *Properties {
	return &Properties{vals: map[string]any{}}
}

func (p *Properties) Set(key string, v any) {
	if p.vals == nil {
		p.vals = map[string]any{}
	}
	if _, ok := p.vals[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.vals[key] = v
}

func (p *Properties) Get(key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.vals[key]
	return v, ok
}

func (p *Properties) Delete(key string) {
	if p == nil {
		return
	}
	if _, ok := p.vals[key]; !ok {
		return
	}
	delete(p.vals, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
}

func (p *Properties) Keys() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

func (p *Properties) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Map returns an unordered copy.
func (p *Properties) Map() map[string]any {
	out := make(map[string]any, p.Len())
	if p == nil {
		return out
	}
	for k, v := range p.vals {
		out[k] = v
	}
	return out
}

func (p *Properties) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal property key %q: %w", k, err)
		}
		vb, err := json.Marshal(p.vals[k])
		if err != nil {
			return nil, fmt.Errorf("marshal property %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Feature is a GeoJSON feature. A nil Geometry encodes as JSON null.
type Feature struct {
	ID         any
	Geometry   orb.Geometry
	Properties *Properties
}

func NewFeature(id any) *Feature {
	return &Feature{ID: id, Properties: NewProperties()}
}

func (f *Feature) MarshalJSON() ([]byte, error) {
	var geom *geojson.Geometry
	if f.Geometry != nil {
		geom = geojson.NewGeometry(f.Geometry)
	}
	props := f.Properties
	if props == nil {
		props = NewProperties()
	}
	b, err := json.Marshal(struct {
		Type       string            `json:"type"`
		ID         any               `json:"id,omitempty"`
		Geometry   *geojson.Geometry `json:"geometry"`
		Properties *Properties       `json:"properties"`
	}{
		Type:       "Feature",
		ID:         f.ID,
		Geometry:   geom,
		Properties: props,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal feature: %w", err)
	}
	return b, nil
}
