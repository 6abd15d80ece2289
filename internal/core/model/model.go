// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"time"
)

// CRS84 is the OGC URI for WGS84 longitude/latitude axis order.
const CRS84 = "http://www.opengis.net/def/crs/OGC/1.3/CRS84"

type FilterClass string

const (
	ClassProperty            FilterClass = "PropertyFilter"
	ClassBBox                FilterClass = "BBOXFilter"
	ClassTime                FilterClass = "TimeFilter"
	ClassAdditionalParameter FilterClass = "AdditionalParameterFilter"
)

// Filter is one query constraint tagged by its class.
type Filter interface {
	Class() FilterClass
}

// PropertyFilter maps column names (case-insensitive) to required values.
type PropertyFilter struct {
	Properties map[string]any
}

func (PropertyFilter) Class() FilterClass { return ClassProperty }

type BBox struct {
	X1, Y1 float64
	X2, Y2 float64
}

// String representation matching the bbox query parameter format
func (b BBox) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.X1, b.Y1, b.X2, b.Y2)
}

// BBoxFilter is an axis-aligned box in CRS; empty CRS means CRS84.
type BBoxFilter struct {
	BBox BBox
	CRS  string
}

func (BBoxFilter) Class() FilterClass { return ClassBBox }

// TimeFilter selects features whose validity span overlaps [Start, End].
// Either bound may be nil.
type TimeFilter struct {
	Start *time.Time
	End   *time.Time
}

func (TimeFilter) Class() FilterClass { return ClassTime }

// AdditionalParameterFilter matches declared extra parameters against the
// table's wildcard column.
type AdditionalParameterFilter struct {
	Parameters map[string]any
}

func (AdditionalParameterFilter) Class() FilterClass { return ClassAdditionalParameter }

// UnknownFilter carries filter classes this engine cannot translate.
type UnknownFilter struct {
	Name       FilterClass
	Parameters map[string]any
}

func (f UnknownFilter) Class() FilterClass { return f.Name }

type Query struct {
	Filters   []Filter
	Limit     int
	NextToken string
}

type Property struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type QueryParameter struct {
	Name        string `json:"name" mapstructure:"name"`
	Type        string `json:"type,omitempty" mapstructure:"type"`
	Description string `json:"description,omitempty" mapstructure:"description"`
}
