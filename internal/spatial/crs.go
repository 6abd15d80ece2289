// Package spatial builds PostGIS spatial predicates and resolves coordinate
// reference systems through an explicit transform registry.
package spatial

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-spatial/proj"
	"github.com/go-spatial/proj/core"
	"github.com/go-spatial/proj/support"

	"github.com/mohammed-shakir/postgis-collections/internal/core/model"
)

var (
	ErrUnsupportedCRS   = errors.New("unsupported crs")
	ErrNoGeometryColumn = errors.New("collection has no geometry column")
)

// EPSGURI returns the OGC URI for an EPSG code.
func EPSGURI(code int) string {
	return "http://www.opengis.net/def/crs/EPSG/0/" + strconv.Itoa(code)
}

// NormalizeCRS maps an absent or "undefined" CRS to CRS84.
func NormalizeCRS(uri string) string {
	u := strings.TrimSpace(uri)
	if u == "" || u == "undefined" {
		return model.CRS84
	}
	return u
}

// CRSCode extracts the numeric code from the trailing path segment of a
// CRS URI. CRS84 maps to 4326.
func CRSCode(uri string) (int, error) {
	u := NormalizeCRS(uri)
	if u == model.CRS84 {
		return 4326, nil
	}
	seg := u[strings.LastIndex(u, "/")+1:]
	n, err := strconv.Atoi(seg)
	if err != nil {
		return 0, fmt.Errorf("%w: no numeric code in %q", ErrUnsupportedCRS, uri)
	}
	return n, nil
}

// Transformer is the reprojection capability consumed by the predicate
// builder.
type Transformer interface {
	IsRegistered(uri string) bool
	Reproject(from, to string, xy [2]float64) ([2]float64, error)
}

// Projection converts between one CRS and WGS84 lon/lat.
type Projection interface {
	FromWGS84(lonlat [2]float64) ([2]float64, error)
	ToWGS84(xy [2]float64) ([2]float64, error)
}

type Registry struct {
	mu   sync.RWMutex
	defs map[string]Projection
}

var _ Transformer = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{defs: map[string]Projection{}}
}

// ETRSTM35FIN is the proj definition of EPSG:3067.
const ETRSTM35FIN = "+proj=utm +zone=35 +ellps=GRS80"

// DefaultRegistry knows CRS84, EPSG:3067 and the EPSG systems
// go-spatial/proj ships.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(model.CRS84, Geographic{})
	r.Register(EPSGURI(4326), Geographic{})
	for _, c := range []proj.EPSGCode{proj.EPSG3857, proj.EPSG3395, proj.EPSG4087} {
		r.Register(EPSGURI(int(c)), EPSG{Code: c})
	}
	if p, err := NewProjString(ETRSTM35FIN); err == nil {
		r.Register(EPSGURI(3067), p)
	}
	return r
}

func (r *Registry) Register(uri string, p Projection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[strings.TrimSpace(uri)] = p
}

func (r *Registry) IsRegistered(uri string) bool {
	_, ok := r.lookup(uri)
	return ok
}

func (r *Registry) lookup(uri string) (Projection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.defs[strings.TrimSpace(uri)]
	return p, ok
}

// Reproject converts xy from one registered CRS to another via WGS84.
func (r *Registry) Reproject(from, to string, xy [2]float64) ([2]float64, error) {
	src, ok := r.lookup(from)
	if !ok {
		return xy, fmt.Errorf("%w: %s", ErrUnsupportedCRS, from)
	}
	dst, ok := r.lookup(to)
	if !ok {
		return xy, fmt.Errorf("%w: %s", ErrUnsupportedCRS, to)
	}
	ll, err := src.ToWGS84(xy)
	if err != nil {
		return xy, fmt.Errorf("reproject %s to wgs84: %w", from, err)
	}
	out, err := dst.FromWGS84(ll)
	if err != nil {
		return xy, fmt.Errorf("reproject wgs84 to %s: %w", to, err)
	}
	return out, nil
}

// Geographic is the identity projection for lon/lat systems.
type Geographic struct{}

func (Geographic) FromWGS84(ll [2]float64) ([2]float64, error) { return ll, nil }
func (Geographic) ToWGS84(xy [2]float64) ([2]float64, error)   { return xy, nil }

// EPSG delegates to go-spatial/proj for the projected systems it supports.
type EPSG struct {
	Code proj.EPSGCode
}

func (p EPSG) FromWGS84(ll [2]float64) ([2]float64, error) {
	out, err := proj.Convert(p.Code, ll[:])
	if err != nil {
		return ll, fmt.Errorf("proj convert epsg:%d: %w", p.Code, err)
	}
	if len(out) < 2 {
		return ll, fmt.Errorf("proj convert epsg:%d: short result", p.Code)
	}
	return [2]float64{out[0], out[1]}, nil
}

func (p EPSG) ToWGS84(xy [2]float64) ([2]float64, error) {
	out, err := proj.Inverse(p.Code, xy[:])
	if err != nil {
		return xy, fmt.Errorf("proj inverse epsg:%d: %w", p.Code, err)
	}
	if len(out) < 2 {
		return xy, fmt.Errorf("proj inverse epsg:%d: short result", p.Code)
	}
	return [2]float64{out[0], out[1]}, nil
}

// ProjString is a projection built from a proj definition string.
type ProjString struct {
	def string
	op  core.IConvertLPToXY
}

func NewProjString(def string) (*ProjString, error) {
	ps, err := support.NewProjString(def)
	if err != nil {
		return nil, fmt.Errorf("parse proj string %q: %w", def, err)
	}
	_, opx, err := core.NewSystem(ps)
	if err != nil {
		return nil, fmt.Errorf("proj system %q: %w", def, err)
	}
	if !opx.GetDescription().IsConvertLPToXY() {
		return nil, fmt.Errorf("proj system %q: not a forward projection", def)
	}
	op, ok := opx.(core.IConvertLPToXY)
	if !ok {
		return nil, fmt.Errorf("proj system %q: not a forward projection", def)
	}
	return &ProjString{def: def, op: op}, nil
}

func (p *ProjString) FromWGS84(ll [2]float64) ([2]float64, error) {
	xy, err := p.op.Forward(&core.CoordLP{Lam: support.DDToR(ll[0]), Phi: support.DDToR(ll[1])})
	if err != nil {
		return ll, fmt.Errorf("proj forward %q: %w", p.def, err)
	}
	return [2]float64{xy.X, xy.Y}, nil
}

func (p *ProjString) ToWGS84(xy [2]float64) ([2]float64, error) {
	lp, err := p.op.Inverse(&core.CoordXY{X: xy[0], Y: xy[1]})
	if err != nil {
		return xy, fmt.Errorf("proj inverse %q: %w", p.def, err)
	}
	return [2]float64{support.RToDD(lp.Lam), support.RToDD(lp.Phi)}, nil
}
