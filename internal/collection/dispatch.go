package collection

import "github.com/mohammed-shakir/postgis-collections/internal/core/model"

// Dispatched holds the filters this engine translates into SQL. Remaining
// keeps everything else, in original order, for the caller to apply.
type Dispatched struct {
	Property   *model.PropertyFilter
	BBox       *model.BBoxFilter
	Time       *model.TimeFilter
	Additional *model.AdditionalParameterFilter
	Remaining  []model.Filter
}

// Dispatch takes at most one filter of each recognized class out of
// filters. Unknown classes and repeats of a class stay in Remaining.
func Dispatch(filters []model.Filter) Dispatched {
	var d Dispatched
	for _, f := range filters {
		switch v := f.(type) {
		case model.PropertyFilter:
			if d.Property == nil {
				d.Property = &v
				continue
			}
		case *model.PropertyFilter:
			if d.Property == nil && v != nil {
				d.Property = v
				continue
			}
		case model.BBoxFilter:
			if d.BBox == nil {
				d.BBox = &v
				continue
			}
		case *model.BBoxFilter:
			if d.BBox == nil && v != nil {
				d.BBox = v
				continue
			}
		case model.TimeFilter:
			if d.Time == nil {
				d.Time = &v
				continue
			}
		case *model.TimeFilter:
			if d.Time == nil && v != nil {
				d.Time = v
				continue
			}
		case model.AdditionalParameterFilter:
			if d.Additional == nil {
				d.Additional = &v
				continue
			}
		case *model.AdditionalParameterFilter:
			if d.Additional == nil && v != nil {
				d.Additional = v
				continue
			}
		}
		d.Remaining = append(d.Remaining, f)
	}
	return d
}

// Classes lists the filter classes of fs, used for diagnostics.
func Classes(fs []model.Filter) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, string(f.Class()))
	}
	return out
}
