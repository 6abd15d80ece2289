package collection

import (
	"errors"
	"fmt"
)

// ErrConfiguration is the parent of every table/filter mismatch. These are
// raised while a statement is built and are never retried.
var ErrConfiguration = errors.New("configuration error")

var (
	ErrNoPrimaryKey           = fmt.Errorf("%w: table must declare exactly one primary key column", ErrConfiguration)
	ErrColumnNotFound         = fmt.Errorf("%w: column not found", ErrConfiguration)
	ErrFilterOnVirtualColumn  = fmt.Errorf("%w: cannot filter on a derived column", ErrConfiguration)
	ErrFilterOnGeometryColumn = fmt.Errorf("%w: cannot filter on a geometry column", ErrConfiguration)
	ErrNoWildcardColumn       = fmt.Errorf("%w: additional parameters need exactly one wildcard column", ErrConfiguration)
	ErrUnknownParameter       = fmt.Errorf("%w: undeclared additional query parameter", ErrConfiguration)
	ErrNoTimeColumn           = fmt.Errorf("%w: time filter needs timeStart/timeEnd columns", ErrConfiguration)
)

// StoreExecutionError wraps a failure reported by the store while running
// an already assembled statement.
type StoreExecutionError struct {
	Collection string
	Err        error
}

func (e *StoreExecutionError) Error() string {
	return fmt.Sprintf("collection %s: database error: %v", e.Collection, e.Err)
}

func (e *StoreExecutionError) Unwrap() error { return e.Err }
