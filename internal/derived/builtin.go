package derived

import (
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/postgis-collections/internal/core/model"
)

// Builtins returns a registry preloaded with the stock functions. res is
// the H3 resolution used by h3_cell.
func Builtins(res int) *Registry {
	r := NewRegistry()
	r.Register("h3_cell", H3Cell(res))
	r.Register("bbox", BBox)
	r.Register("geometry_type", GeometryType)
	r.RegisterHook("drop_nulls", DropNulls)
	return r
}

// H3Cell indexes the centre of the feature's geometry bound. Only
// meaningful for lon/lat tables; returns nil when there is no geometry or
// the resolution is out of range.
func H3Cell(res int) Func {
	return func(f *model.Feature) any {
		if f == nil || f.Geometry == nil || res < 0 || res > 15 {
			return nil
		}
		c := f.Geometry.Bound().Center()
		cell, err := h3.LatLngToCell(h3.LatLng{Lat: c.Lat(), Lng: c.Lon()}, res)
		if err != nil {
			return nil
		}
		return cell.String()
	}
}

func BBox(f *model.Feature) any {
	if f == nil || f.Geometry == nil {
		return nil
	}
	b := f.Geometry.Bound()
	return []float64{b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()}
}

func GeometryType(f *model.Feature) any {
	if f == nil || f.Geometry == nil {
		return nil
	}
	return f.Geometry.GeoJSONType()
}

func DropNulls(f *model.Feature) *model.Feature {
	if f == nil || f.Properties == nil {
		return f
	}
	for _, k := range f.Properties.Keys() {
		if v, _ := f.Properties.Get(k); v == nil {
			f.Properties.Delete(k)
		}
	}
	return f
}
