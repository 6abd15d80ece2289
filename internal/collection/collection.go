// Package collection translates feature queries into PostGIS statements
// scoped to one collection and turns the resulting rows into features.
package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/postgis-collections/internal/core/model"
	"github.com/mohammed-shakir/postgis-collections/internal/core/observability"
	"github.com/mohammed-shakir/postgis-collections/internal/derived"
	"github.com/mohammed-shakir/postgis-collections/internal/logger"
	"github.com/mohammed-shakir/postgis-collections/internal/spatial"
	"github.com/mohammed-shakir/postgis-collections/internal/store"
)

type Options struct {
	Logger  *slog.Logger
	Store   store.Querier
	Spatial *spatial.Builder
	Derived *derived.Registry
}

// Collection serves one TableDefinition under one CollectionScope. It is
// immutable after New and safe for concurrent queries.
type Collection struct {
	id          string
	title       string
	description string
	crs         string
	properties  []model.Property
	params      []model.QueryParameter

	cols  *ColumnModel
	asm   *Assembler
	mat   *Materializer
	store store.Querier
	log   *slog.Logger
	now   func() time.Time // for tests
}

// New compiles def for the scope own, nested under ancestors (outermost
// first).
func New(def TableDefinition, own CollectionScope, ancestors []CollectionScope, opts Options) (*Collection, error) {
	if opts.Store == nil {
		return nil, errors.New("collection: store is required")
	}
	if opts.Spatial == nil {
		opts.Spatial = spatial.NewBuilder(spatial.DefaultRegistry())
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	id := def.Name + own.CollectionPath

	cols, err := NewColumnModel(def, opts.Derived)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", id, err)
	}

	chain := make([]Scope, 0, len(ancestors)+1)
	for _, s := range append(append([]CollectionScope{}, ancestors...), own) {
		compiled, err := CompileScope(s, cols)
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", id, err)
		}
		chain = append(chain, compiled)
	}

	var hook derived.Hook
	if def.PostProcess != "" {
		if opts.Derived == nil {
			return nil, fmt.Errorf("collection %s: %w: postProcess %q without a registry", id, ErrConfiguration, def.PostProcess)
		}
		if hook, err = opts.Derived.Hook(def.PostProcess); err != nil {
			return nil, fmt.Errorf("collection %s: %w: %w", id, ErrConfiguration, err)
		}
	}

	c := &Collection{
		id:          id,
		title:       withVariant(def.Title, own.VariantTitle),
		description: withVariant(def.Description, own.VariantDescription),
		crs:         spatial.NormalizeCRS(def.CRS),
		params:      def.AdditionalQueryParameters,
		cols:        cols,
		asm:         NewAssembler(def, cols, chain, opts.Spatial),
		mat:         NewMaterializer(cols, def.HidePrimaryKey, hook),
		store:       opts.Store,
		log:         opts.Logger.With("component", "collection"),
		now:         time.Now,
	}
	for _, cd := range def.Columns {
		c.properties = append(c.properties, model.Property{Name: cd.Name, Type: cd.Type, Description: cd.Description})
	}
	return c, nil
}

func withVariant(base, variant string) string {
	if variant == "" {
		return base
	}
	return base + " (" + variant + ")"
}

func (c *Collection) ID() string                                        { return c.id }
func (c *Collection) Title() string                                     { return c.title }
func (c *Collection) Description() string                               { return c.description }
func (c *Collection) CRS() string                                       { return c.crs }
func (c *Collection) Properties() []model.Property                      { return c.properties }
func (c *Collection) AdditionalQueryParameters() []model.QueryParameter { return c.params }

// ParseID converts a textual feature id to the primary key's value kind.
// It reports false when raw cannot be a key of a number primary key.
func (c *Collection) ParseID(raw string) (any, bool) {
	if c.cols.PrimaryKey().Kind() != KindNumber {
		return raw, true
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f, true
	}
	return nil, false
}

// ExecuteQuery assembles q and runs it in the background. Assembly
// failures come back as an already terminated stream.
func (c *Collection) ExecuteQuery(ctx context.Context, q model.Query) *FeatureStream {
	ctx = logger.WithCollection(ctx, c.id)
	d := Dispatch(q.Filters)

	st, err := c.asm.Assemble(d, q.Limit, q.NextToken)
	if err != nil {
		observability.ObserveQuery(c.id, observability.OutcomeBuildError)
		c.log.DebugContext(ctx, "assemble failed", "err", err)
		return failedStream(c.crs, d.Remaining, err)
	}
	if len(d.Remaining) > 0 {
		classes := Classes(d.Remaining)
		for _, cl := range classes {
			observability.IncUnappliedFilter(c.id, cl)
		}
		c.log.WarnContext(ctx, "filters not applied by the database, limit deferred to caller",
			"classes", strings.Join(classes, ","))
	}

	s := newStream(c.crs, d.Remaining)
	go c.produce(ctx, s, st, q.Limit)
	return s
}

func (c *Collection) produce(ctx context.Context, s *FeatureStream, st Statement, limit int) {
	start := c.now()
	rows, err := c.store.Query(ctx, st.SQL, st.Args...)
	observability.ObserveStatement(c.id, "list", time.Since(start).Seconds())
	if err != nil {
		observability.ObserveQuery(c.id, observability.OutcomeStoreError)
		c.log.ErrorContext(ctx, "list statement failed", "err", err)
		s.finish(&StoreExecutionError{Collection: c.id, Err: err})
		return
	}

	emitted := 0
	defer func() { observability.AddFeaturesEmitted(c.id, emitted) }()
	for i, row := range rows {
		if limit > 0 && emitted >= limit {
			break
		}
		f, err := c.mat.ToFeature(row)
		if err != nil {
			observability.ObserveQuery(c.id, observability.OutcomeMaterialize)
			s.finish(fmt.Errorf("collection %s: %w", c.id, err))
			return
		}
		next := strconv.FormatUint(st.Offset+uint64(i)+1, 10)
		ok, err := s.emit(ctx, Item{Feature: f, NextToken: next})
		if err != nil {
			s.finish(err)
			return
		}
		if !ok {
			break
		}
		emitted++
	}
	observability.ObserveQuery(c.id, observability.OutcomeOK)
	s.finish(nil)
}

// GetFeatureByID looks one feature up by primary key under the same
// scopes as ExecuteQuery. ok is false when no row matches.
func (c *Collection) GetFeatureByID(ctx context.Context, id any) (*model.Feature, bool, error) {
	ctx = logger.WithCollection(ctx, c.id)
	st, err := c.asm.ByID(id)
	if err != nil {
		observability.ObserveQuery(c.id, observability.OutcomeBuildError)
		return nil, false, err
	}

	start := c.now()
	rows, err := c.store.Query(ctx, st.SQL, st.Args...)
	observability.ObserveStatement(c.id, "by_id", time.Since(start).Seconds())
	if err != nil {
		observability.ObserveQuery(c.id, observability.OutcomeStoreError)
		c.log.ErrorContext(ctx, "by-id statement failed", "id", id, "err", err)
		return nil, false, &StoreExecutionError{Collection: c.id, Err: err}
	}
	if len(rows) == 0 {
		observability.ObserveQuery(c.id, observability.OutcomeNotFound)
		return nil, false, nil
	}

	f, err := c.mat.ToFeature(rows[0])
	if err != nil {
		observability.ObserveQuery(c.id, observability.OutcomeMaterialize)
		return nil, false, fmt.Errorf("collection %s: %w", c.id, err)
	}
	observability.ObserveQuery(c.id, observability.OutcomeOK)
	observability.AddFeaturesEmitted(c.id, 1)
	return f, true, nil
}
