package collection

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/mohammed-shakir/postgis-collections/internal/core/model"
	"github.com/mohammed-shakir/postgis-collections/internal/spatial"
)

// Statement is an assembled query ready for the store.
type Statement struct {
	SQL     string
	Args    []any
	Offset  uint64
	Limited bool
}

// Assembler composes SELECT statements for one collection. It holds only
// immutable configuration, so one value serves concurrent requests.
type Assembler struct {
	source   string
	tableCRS string
	cols     *ColumnModel
	scopes   []Scope
	params   []model.QueryParameter
	spatial  *spatial.Builder
}

// NewAssembler takes the scope chain outermost ancestor first with the
// collection's own scope last.
func NewAssembler(def TableDefinition, cols *ColumnModel, chain []Scope, sb *spatial.Builder) *Assembler {
	return &Assembler{
		source:   quoteQualified(def.SchemaName, def.TableName),
		tableCRS: spatial.NormalizeCRS(def.CRS),
		cols:     cols,
		scopes:   chain,
		params:   def.AdditionalQueryParameters,
		spatial:  sb,
	}
}

// ParseCursor reads a nextToken; anything unparsable counts as 0.
func ParseCursor(token string) uint64 {
	n, err := strconv.ParseUint(strings.TrimSpace(token), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// scoped selects the projection from the table with every scope
// predicate applied, ancestors first.
func (a *Assembler) scoped() sq.SelectBuilder {
	b := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select(a.cols.ProjectionColumns()...).
		From(a.source)
	for _, s := range a.scopes {
		b = s.Apply(b)
	}
	return b
}

// Assemble builds the list statement. No statement is returned when any
// recognized filter cannot be translated.
func (a *Assembler) Assemble(d Dispatched, limit int, cursor string) (Statement, error) {
	offset := ParseCursor(cursor)
	b := a.scoped().
		OrderBy(quote(a.cols.PrimaryKey().Physical()) + " ASC").
		Offset(offset)

	var err error
	if d.Property != nil {
		if b, err = a.withProperties(b, *d.Property); err != nil {
			return Statement{}, err
		}
	}
	if d.Additional != nil {
		if b, err = a.withAdditional(b, *d.Additional); err != nil {
			return Statement{}, err
		}
	}
	if d.BBox != nil {
		p, err := a.spatial.Build(d.BBox.BBox, d.BBox.CRS, a.tableCRS, a.cols.GeometryColumn())
		if err != nil {
			return Statement{}, fmt.Errorf("bbox filter: %w", err)
		}
		b = b.Where(p)
	}
	if d.Time != nil {
		if b, err = a.withTime(b, *d.Time); err != nil {
			return Statement{}, err
		}
	}

	limited := len(d.Remaining) == 0 && limit > 0
	if limited {
		b = b.Limit(uint64(limit))
	}

	sql, args, err := b.ToSql()
	if err != nil {
		return Statement{}, fmt.Errorf("render statement: %w", err)
	}
	return Statement{SQL: sql, Args: args, Offset: offset, Limited: limited}, nil
}

// ByID builds the single feature lookup with the same projection and
// scope predicates as Assemble.
func (a *Assembler) ByID(id any) (Statement, error) {
	b := a.scoped().Where(sq.Eq{quote(a.cols.PrimaryKey().Physical()): id})
	sql, args, err := b.ToSql()
	if err != nil {
		return Statement{}, fmt.Errorf("render statement: %w", err)
	}
	return Statement{SQL: sql, Args: args}, nil
}

func (a *Assembler) withProperties(b sq.SelectBuilder, f model.PropertyFilter) (sq.SelectBuilder, error) {
	names := make([]string, 0, len(f.Properties))
	for k := range f.Properties {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		v := f.Properties[name]
		col, err := a.cols.Resolve(name)
		if err != nil {
			return b, fmt.Errorf("property filter: %w", err)
		}
		switch c := col.(type) {
		case *DerivedColumn:
			return b, fmt.Errorf("property filter: %w: %q", ErrFilterOnVirtualColumn, c.Name())
		case *GeometryColumn:
			return b, fmt.Errorf("property filter: %w: %q", ErrFilterOnGeometryColumn, c.Name())
		case *WildcardColumn:
			return b, fmt.Errorf("property filter: %w: use additional parameters for %q", ErrConfiguration, c.Physical())
		case *PlainColumn:
			if c.Array {
				b = b.Where(sq.Expr("? = ANY("+quote(c.Physical())+")", v))
				continue
			}
		}
		b = b.Where(sq.Eq{quote(col.Physical()): v})
	}
	return b, nil
}

func (a *Assembler) withAdditional(b sq.SelectBuilder, f model.AdditionalParameterFilter) (sq.SelectBuilder, error) {
	w := a.cols.Wildcard()
	if w == nil {
		return b, ErrNoWildcardColumn
	}
	names := make([]string, 0, len(f.Parameters))
	for k := range f.Parameters {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		canonical, ok := a.canonicalParam(name)
		if !ok {
			return b, fmt.Errorf("%w: %q", ErrUnknownParameter, name)
		}
		b = b.Where(sq.Expr(quote(w.Physical())+" ->> ? = ?", canonical, textValue(f.Parameters[name])))
	}
	return b, nil
}

func (a *Assembler) canonicalParam(name string) (string, bool) {
	for _, p := range a.params {
		if strings.EqualFold(p.Name, name) {
			return p.Name, true
		}
	}
	return "", false
}

func (a *Assembler) withTime(b sq.SelectBuilder, f model.TimeFilter) (sq.SelectBuilder, error) {
	if f.Start != nil {
		end, err := storedTimeColumn(a.cols.TimeEnd(), "timeEnd")
		if err != nil {
			return b, err
		}
		b = b.Where(sq.GtOrEq{end: *f.Start})
	}
	if f.End != nil {
		start, err := storedTimeColumn(a.cols.TimeStart(), "timeStart")
		if err != nil {
			return b, err
		}
		b = b.Where(sq.LtOrEq{start: *f.End})
	}
	return b, nil
}

func storedTimeColumn(c Column, role string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("%w: no %s column", ErrNoTimeColumn, role)
	}
	if _, ok := c.(*DerivedColumn); ok {
		return "", fmt.Errorf("%w: %s column %q", ErrFilterOnVirtualColumn, role, c.Name())
	}
	return quote(c.Physical()), nil
}

func textValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
