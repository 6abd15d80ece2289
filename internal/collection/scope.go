package collection

import (
	"fmt"
	"reflect"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Scope is a compiled CollectionScope node.
type Scope struct {
	Path               string
	VariantTitle       string
	VariantDescription string
	predicate          sq.Sqlizer
}

// CompileScope turns the declarative predicates of s into SQL. Column
// names are resolved through cols.
func CompileScope(s CollectionScope, cols *ColumnModel) (Scope, error) {
	out := Scope{
		Path:               s.CollectionPath,
		VariantTitle:       s.VariantTitle,
		VariantDescription: s.VariantDescription,
	}
	if len(s.Where) == 0 {
		return out, nil
	}
	and := make(sq.And, 0, len(s.Where))
	for i, p := range s.Where {
		c, err := compilePredicate(p, cols)
		if err != nil {
			return Scope{}, fmt.Errorf("scope %q predicate %d: %w", s.CollectionPath, i, err)
		}
		and = append(and, c)
	}
	if len(and) == 1 {
		out.predicate = and[0]
	} else {
		out.predicate = and
	}
	return out, nil
}

// Apply ANDs the scope's predicate into b.
func (s Scope) Apply(b sq.SelectBuilder) sq.SelectBuilder {
	if s.predicate == nil {
		return b
	}
	return b.Where(s.predicate)
}

func compilePredicate(p PredicateSpec, cols *ColumnModel) (sq.Sqlizer, error) {
	switch {
	case len(p.All) > 0:
		and := make(sq.And, 0, len(p.All))
		for _, sub := range p.All {
			c, err := compilePredicate(sub, cols)
			if err != nil {
				return nil, err
			}
			and = append(and, c)
		}
		return and, nil
	case len(p.Any) > 0:
		or := make(sq.Or, 0, len(p.Any))
		for _, sub := range p.Any {
			c, err := compilePredicate(sub, cols)
			if err != nil {
				return nil, err
			}
			or = append(or, c)
		}
		return or, nil
	case p.Not != nil:
		inner, err := compilePredicate(*p.Not, cols)
		if err != nil {
			return nil, err
		}
		return not{inner}, nil
	}

	col, err := cols.Resolve(p.Column)
	if err != nil {
		return nil, err
	}
	switch col.(type) {
	case *DerivedColumn:
		return nil, fmt.Errorf("%w: %q", ErrFilterOnVirtualColumn, col.Name())
	case *GeometryColumn:
		return nil, fmt.Errorf("%w: %q", ErrFilterOnGeometryColumn, col.Name())
	}
	c := quote(col.Physical())

	switch strings.ToLower(strings.TrimSpace(p.Op)) {
	case "=", "==", "eq", "":
		return sq.Eq{c: p.Value}, nil
	case "<>", "!=", "ne":
		return sq.NotEq{c: p.Value}, nil
	case "<", "lt":
		return sq.Lt{c: p.Value}, nil
	case "<=", "lte":
		return sq.LtOrEq{c: p.Value}, nil
	case ">", "gt":
		return sq.Gt{c: p.Value}, nil
	case ">=", "gte":
		return sq.GtOrEq{c: p.Value}, nil
	case "in":
		if !isSlice(p.Value) {
			return nil, fmt.Errorf("%w: op in needs a list value", ErrConfiguration)
		}
		return sq.Eq{c: p.Value}, nil
	case "not_in":
		if !isSlice(p.Value) {
			return nil, fmt.Errorf("%w: op not_in needs a list value", ErrConfiguration)
		}
		return sq.NotEq{c: p.Value}, nil
	case "is_null":
		return sq.Eq{c: nil}, nil
	case "not_null":
		return sq.NotEq{c: nil}, nil
	case "like":
		return sq.Like{c: p.Value}, nil
	case "contains":
		return sq.Expr("? = ANY("+c+")", p.Value), nil
	default:
		return nil, fmt.Errorf("%w: unknown operator %q", ErrConfiguration, p.Op)
	}
}

type not struct{ inner sq.Sqlizer }

func (n not) ToSql() (string, []interface{}, error) {
	s, args, err := n.inner.ToSql()
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + s + ")", args, nil
}

func isSlice(v any) bool {
	if v == nil {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}
