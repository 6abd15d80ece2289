package collection

import "github.com/mohammed-shakir/postgis-collections/internal/core/model"

// WildcardName marks the column whose JSON object is flattened into
// feature properties.
const WildcardName = "*"

// Value kinds accepted in ColumnDefinition.Type.
const (
	KindString   = "string"
	KindNumber   = "number"
	KindDate     = "date"
	KindGeometry = "geometry"
	KindWildcard = "wildcard"
)

// ColumnDefinition is the declarative description of one property column.
type ColumnDefinition struct {
	Name        string `mapstructure:"name"`
	ColumnName  string `mapstructure:"columnName"`
	Type        string `mapstructure:"type"`
	Description string `mapstructure:"description"`
	PrimaryKey  bool   `mapstructure:"primaryKey"`
	TimeStart   bool   `mapstructure:"timeStart"`
	TimeEnd     bool   `mapstructure:"timeEnd"`
	Array       bool   `mapstructure:"array"`
	OutputTz    string `mapstructure:"outputTz"`
	DateFormat  string `mapstructure:"dateFormat"`
	// Derived names a registered function computing the value from the
	// assembled feature. Derived columns are not stored.
	Derived string `mapstructure:"derived"`
}

type TableDefinition struct {
	Title              string             `mapstructure:"title"`
	Name               string             `mapstructure:"name"`
	Description        string             `mapstructure:"description"`
	TableName          string             `mapstructure:"tableName"`
	SchemaName         string             `mapstructure:"schemaName"`
	CRS                string             `mapstructure:"crs"`
	GeometryColumnName string             `mapstructure:"geometryColumnName"`
	HidePrimaryKey     bool               `mapstructure:"hidePrimaryKey"`
	Columns            []ColumnDefinition `mapstructure:"columns"`
	PostProcess        string             `mapstructure:"postProcess"`

	AdditionalQueryParameters []model.QueryParameter `mapstructure:"additionalQueryParameters"`

	Collection CollectionScope `mapstructure:"collection"`
}

// CollectionScope is one node of the sub-collection tree. Its predicates
// and those of every ancestor are AND-ed into each statement.
type CollectionScope struct {
	CollectionPath     string            `mapstructure:"collectionPath"`
	VariantTitle       string            `mapstructure:"variantTitle"`
	VariantDescription string            `mapstructure:"variantDescription"`
	Where              []PredicateSpec   `mapstructure:"where"`
	SubCollections     []CollectionScope `mapstructure:"subCollections"`
}

// PredicateSpec is either a comparison {column, op, value} or one of the
// composites all/any/not.
type PredicateSpec struct {
	Column string          `mapstructure:"column"`
	Op     string          `mapstructure:"op"`
	Value  any             `mapstructure:"value"`
	All    []PredicateSpec `mapstructure:"all"`
	Any    []PredicateSpec `mapstructure:"any"`
	Not    *PredicateSpec  `mapstructure:"not"`
}
