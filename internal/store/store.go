// Package store defines the seam between collections and the database.
package store

import "context"

// Row is one result row keyed by result column name.
type Row map[string]any

// Querier executes a statement and returns every row. Implementations
// must be safe for concurrent use.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) ([]Row, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
