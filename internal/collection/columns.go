package collection

import (
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mohammed-shakir/postgis-collections/internal/derived"
)

// GeometryAlias is the result column carrying the table's primary
// geometry as text.
const GeometryAlias = "__geometry"

// Column is a compiled ColumnDefinition. The set of implementations is
// closed: PlainColumn, DateColumn, GeometryColumn, WildcardColumn and
// DerivedColumn.
type Column interface {
	Name() string
	// Physical is the storage column, empty for derived columns.
	Physical() string
	Kind() string
	Description() string
	column()
}

type columnBase struct {
	name        string
	physical    string
	kind        string
	description string
}

func (c columnBase) Name() string        { return c.name }
func (c columnBase) Physical() string    { return c.physical }
func (c columnBase) Kind() string        { return c.kind }
func (c columnBase) Description() string { return c.description }
func (columnBase) column()               {}

type PlainColumn struct {
	columnBase
	Array bool
}

type DateColumn struct {
	columnBase
	Location *time.Location
	Layout   string
}

// Format renders a stored instant in the column's zone and layout.
func (c *DateColumn) Format(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		return t.In(c.Location).Format(c.Layout)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.In(c.Location).Format(c.Layout)
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts.In(c.Location).Format(c.Layout)
		}
		return t
	default:
		return v
	}
}

type GeometryColumn struct {
	columnBase
}

// WildcardColumn holds a JSON object whose keys become top level
// properties.
type WildcardColumn struct {
	columnBase
}

type DerivedColumn struct {
	columnBase
	Fn derived.Func
}

// ColumnModel resolves semantic column names to storage and projection.
type ColumnModel struct {
	columns        []Column
	byName         map[string]Column
	pk             Column
	timeStart      Column
	timeEnd        Column
	wildcard       *WildcardColumn
	geometryColumn string
}

func NewColumnModel(def TableDefinition, fns *derived.Registry) (*ColumnModel, error) {
	m := &ColumnModel{
		byName:         make(map[string]Column, len(def.Columns)),
		geometryColumn: strings.TrimSpace(def.GeometryColumnName),
	}
	pkCount := 0
	for i, cd := range def.Columns {
		c, err := compileColumn(cd, fns)
		if err != nil {
			return nil, fmt.Errorf("column %d (%q): %w", i, cd.Name, err)
		}
		key := strings.ToLower(c.Name())
		if _, dup := m.byName[key]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrConfiguration, cd.Name)
		}
		m.byName[key] = c
		m.columns = append(m.columns, c)

		if cd.PrimaryKey {
			pkCount++
			m.pk = c
		}
		if cd.TimeStart {
			if m.timeStart != nil {
				return nil, fmt.Errorf("%w: more than one timeStart column", ErrConfiguration)
			}
			m.timeStart = c
		}
		if cd.TimeEnd {
			if m.timeEnd != nil {
				return nil, fmt.Errorf("%w: more than one timeEnd column", ErrConfiguration)
			}
			m.timeEnd = c
		}
		if w, ok := c.(*WildcardColumn); ok {
			if m.wildcard != nil {
				return nil, fmt.Errorf("%w: more than one wildcard column", ErrConfiguration)
			}
			m.wildcard = w
		}
	}
	if pkCount != 1 {
		return nil, fmt.Errorf("%w (found %d)", ErrNoPrimaryKey, pkCount)
	}
	switch m.pk.(type) {
	case *DerivedColumn, *WildcardColumn:
		return nil, fmt.Errorf("%w: primary key %q must be a stored scalar column", ErrConfiguration, m.pk.Name())
	}
	return m, nil
}

func compileColumn(cd ColumnDefinition, fns *derived.Registry) (Column, error) {
	name := strings.TrimSpace(cd.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: column name is required", ErrConfiguration)
	}
	kind := strings.ToLower(strings.TrimSpace(cd.Type))
	if name == WildcardName {
		kind = KindWildcard
	}
	physical := strings.TrimSpace(cd.ColumnName)
	if physical == "" && name != WildcardName {
		physical = strings.ToLower(name)
	}
	base := columnBase{
		name:        name,
		physical:    physical,
		kind:        kind,
		description: cd.Description,
	}

	if cd.Derived != "" {
		if fns == nil {
			return nil, fmt.Errorf("%w: derived %q without a function registry", ErrConfiguration, cd.Derived)
		}
		fn, err := fns.Func(cd.Derived)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		base.physical = ""
		return &DerivedColumn{columnBase: base, Fn: fn}, nil
	}

	switch kind {
	case KindString, KindNumber, "":
		if base.kind == "" {
			base.kind = KindString
		}
		return &PlainColumn{columnBase: base, Array: cd.Array}, nil
	case KindDate:
		tz := cd.OutputTz
		if tz == "" {
			tz = "UTC"
		}
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("%w: outputTz %q: %w", ErrConfiguration, tz, err)
		}
		layout, err := dateLayout(cd.DateFormat)
		if err != nil {
			return nil, fmt.Errorf("%w: dateFormat %q: %w", ErrConfiguration, cd.DateFormat, err)
		}
		return &DateColumn{columnBase: base, Location: loc, Layout: layout}, nil
	case KindGeometry:
		return &GeometryColumn{columnBase: base}, nil
	case KindWildcard:
		if physical == "" || physical == WildcardName {
			return nil, fmt.Errorf("%w: wildcard column needs a columnName", ErrConfiguration)
		}
		base.name = WildcardName
		return &WildcardColumn{columnBase: base}, nil
	default:
		return nil, fmt.Errorf("%w: unknown column type %q", ErrConfiguration, cd.Type)
	}
}

// Resolve finds a column by semantic name, ignoring case.
func (m *ColumnModel) Resolve(name string) (Column, error) {
	if c, ok := m.byName[strings.ToLower(strings.TrimSpace(name))]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
}

// ProjectionColumns lists the select expressions for every stored column
// followed by the primary geometry under GeometryAlias.
func (m *ColumnModel) ProjectionColumns() []string {
	out := make([]string, 0, len(m.columns)+1)
	for _, c := range m.columns {
		switch c.(type) {
		case *DerivedColumn:
			continue
		case *GeometryColumn:
			out = append(out, "ST_AsText("+quote(c.Physical())+") AS "+quote(c.Physical()))
		default:
			out = append(out, quote(c.Physical()))
		}
	}
	if m.geometryColumn != "" {
		out = append(out, "ST_AsText("+quote(m.geometryColumn)+") AS "+quote(GeometryAlias))
	}
	return out
}

func (m *ColumnModel) Columns() []Column         { return m.columns }
func (m *ColumnModel) PrimaryKey() Column        { return m.pk }
func (m *ColumnModel) TimeStart() Column         { return m.timeStart }
func (m *ColumnModel) TimeEnd() Column           { return m.timeEnd }
func (m *ColumnModel) Wildcard() *WildcardColumn { return m.wildcard }

// GeometryColumn returns the quoted primary geometry column, or "" when
// the table has none.
func (m *ColumnModel) GeometryColumn() string {
	if m.geometryColumn == "" {
		return ""
	}
	return quote(m.geometryColumn)
}

func quote(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

func quoteQualified(schema, table string) string {
	if schema == "" {
		return pgx.Identifier{table}.Sanitize()
	}
	return pgx.Identifier{schema, table}.Sanitize()
}

// moment style tokens, longest first within each letter
var momentTokens = []struct{ tok, layout string }{
	{"YYYY", "2006"}, {"YY", "06"},
	{"MMMM", "January"}, {"MMM", "Jan"}, {"MM", "01"}, {"M", "1"},
	{"DD", "02"}, {"D", "2"},
	{"dddd", "Monday"}, {"ddd", "Mon"},
	{"HH", "15"}, {"hh", "03"}, {"h", "3"},
	{"mm", "04"}, {"m", "4"},
	{"ss", "05"}, {"s", "5"},
	{"SSS", "000"},
	{"A", "PM"},
	{"ZZ", "-0700"}, {"Z", "-07:00"},
}

var layoutReference = time.Date(2009, 11, 17, 20, 34, 58, 0, time.UTC)

// dateLayout turns a dateFormat into a Go time layout. Formats using
// YYYY/DD/HH/mm/ss style tokens are translated, anything else is taken
// as a Go layout. Text in square brackets is copied literally.
func dateLayout(format string) (string, error) {
	if format == "" {
		return time.RFC3339, nil
	}
	layout := format
	if isMomentFormat(format) {
		layout = translateMoment(format)
	}
	if layoutReference.Format(layout) == layout {
		return "", fmt.Errorf("no date or time fields in layout %q", layout)
	}
	return layout, nil
}

func isMomentFormat(f string) bool {
	for _, tok := range []string{"YY", "DD", "HH", "hh", "mm", "ss"} {
		if strings.Contains(f, tok) {
			return true
		}
	}
	return false
}

func translateMoment(f string) string {
	var b strings.Builder
	for i := 0; i < len(f); {
		if f[i] == '[' {
			if end := strings.IndexByte(f[i:], ']'); end > 0 {
				b.WriteString(f[i+1 : i+end])
				i += end + 1
				continue
			}
		}
		matched := false
		for _, m := range momentTokens {
			if strings.HasPrefix(f[i:], m.tok) {
				b.WriteString(m.layout)
				i += len(m.tok)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(f[i])
			i++
		}
	}
	return b.String()
}
