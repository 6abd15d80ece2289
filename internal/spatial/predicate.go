package spatial

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/mohammed-shakir/postgis-collections/internal/core/model"
)

// Area is the geometry side of an intersection predicate.
type Area interface {
	sq.Sqlizer
	SRID() int
	Bound() orb.Bound
}

// Envelope is an axis-aligned box built from untransformed coordinates.
type Envelope struct {
	MinX, MinY, MaxX, MaxY float64
	Code                   int
}

func (e Envelope) SRID() int { return e.Code }

func (e Envelope) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{e.MinX, e.MinY}, Max: orb.Point{e.MaxX, e.MaxY}}
}

func (e Envelope) ToSql() (string, []interface{}, error) {
	return fmt.Sprintf("ST_MakeEnvelope(?, ?, ?, ?, %d)", e.Code),
		[]interface{}{e.MinX, e.MinY, e.MaxX, e.MaxY}, nil
}

// PolygonArea is a reprojected bbox expressed as a closed ring.
type PolygonArea struct {
	Polygon orb.Polygon
	Code    int
}

func (p PolygonArea) SRID() int { return p.Code }

func (p PolygonArea) Bound() orb.Bound { return p.Polygon.Bound() }

func (p PolygonArea) WKT() string { return wkt.MarshalString(p.Polygon) }

func (p PolygonArea) ToSql() (string, []interface{}, error) {
	return fmt.Sprintf("ST_GeomFromText(?, %d)", p.Code), []interface{}{p.WKT()}, nil
}

// Intersects matches rows whose geometry column intersects Area.
type Intersects struct {
	Column string
	Area   Area
}

func (i Intersects) ToSql() (string, []interface{}, error) {
	areaSQL, args, err := i.Area.ToSql()
	if err != nil {
		return "", nil, err
	}
	return "ST_Intersects(" + i.Column + ", " + areaSQL + ")", args, nil
}

type Builder struct {
	crs Transformer
}

func NewBuilder(crs Transformer) *Builder {
	return &Builder{crs: crs}
}

// Build returns an intersection predicate for bbox against geomColumn. The
// column must already be a quoted SQL expression.
func (b *Builder) Build(bbox model.BBox, bboxCRS, tableCRS, geomColumn string) (Intersects, error) {
	if strings.TrimSpace(geomColumn) == "" {
		return Intersects{}, ErrNoGeometryColumn
	}
	bboxCRS = NormalizeCRS(bboxCRS)
	tableCRS = NormalizeCRS(tableCRS)

	bboxCode, err := CRSCode(bboxCRS)
	if err != nil {
		return Intersects{}, err
	}
	tableCode, err := CRSCode(tableCRS)
	if err != nil {
		return Intersects{}, err
	}

	if bboxCode == tableCode {
		return Intersects{Column: geomColumn, Area: Envelope{
			MinX: bbox.X1, MinY: bbox.Y1, MaxX: bbox.X2, MaxY: bbox.Y2,
			Code: bboxCode,
		}}, nil
	}

	if b.crs == nil || !b.crs.IsRegistered(bboxCRS) {
		return Intersects{}, fmt.Errorf("%w: bbox-crs %s", ErrUnsupportedCRS, bboxCRS)
	}
	if !b.crs.IsRegistered(tableCRS) {
		return Intersects{}, fmt.Errorf("%w: data crs %s", ErrUnsupportedCRS, tableCRS)
	}

	corners := [4][2]float64{
		{bbox.X1, bbox.Y1},
		{bbox.X2, bbox.Y1},
		{bbox.X2, bbox.Y2},
		{bbox.X1, bbox.Y2},
	}
	ring := make(orb.Ring, 0, 5)
	for _, c := range corners {
		xy, err := b.crs.Reproject(bboxCRS, tableCRS, c)
		if err != nil {
			return Intersects{}, fmt.Errorf("reproject bbox corner: %w", err)
		}
		ring = append(ring, orb.Point{xy[0], xy[1]})
	}
	ring = append(ring, ring[0])

	return Intersects{Column: geomColumn, Area: PolygonArea{
		Polygon: orb.Polygon{ring},
		Code:    tableCode,
	}}, nil
}
