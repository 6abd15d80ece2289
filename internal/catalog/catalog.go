// Package catalog loads table definitions and expands every scope tree
// into the collections the service exposes.
package catalog

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/mohammed-shakir/postgis-collections/internal/collection"
)

// File is the on-disk shape of the collections file.
type File struct {
	Tables []collection.TableDefinition `mapstructure:"tables"`
}

// Load reads a YAML, JSON or TOML collections file.
func Load(path string) ([]collection.TableDefinition, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read collections file %s: %w", path, err)
	}
	return decode(v)
}

// LoadReader is Load for in-memory content; format is a viper config
// type such as "yaml" or "json".
func LoadReader(r io.Reader, format string) ([]collection.TableDefinition, error) {
	v := viper.New()
	v.SetConfigType(format)
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("read collections: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) ([]collection.TableDefinition, error) {
	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("decode collections: %w", err)
	}
	if len(f.Tables) == 0 {
		return nil, fmt.Errorf("decode collections: no tables declared")
	}
	return f.Tables, nil
}

type Catalog struct {
	byID    map[string]*collection.Collection
	order   []*collection.Collection
	tableOf map[string]string
	byTable map[string][]string
}

// Build creates one collection per scope node, depth first, with each
// node's ancestors passed outermost first.
func Build(defs []collection.TableDefinition, opts collection.Options) (*Catalog, error) {
	c := &Catalog{
		byID:    map[string]*collection.Collection{},
		tableOf: map[string]string{},
		byTable: map[string][]string{},
	}
	for _, def := range defs {
		if err := c.walk(def, def.Collection, nil, opts); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) walk(def collection.TableDefinition, scope collection.CollectionScope, ancestors []collection.CollectionScope, opts collection.Options) error {
	col, err := collection.New(def, scope, ancestors, opts)
	if err != nil {
		return err
	}
	if _, dup := c.byID[col.ID()]; dup {
		return fmt.Errorf("%w: duplicate collection id %q", collection.ErrConfiguration, col.ID())
	}
	c.byID[col.ID()] = col
	c.order = append(c.order, col)
	c.tableOf[col.ID()] = def.Name
	c.byTable[def.Name] = append(c.byTable[def.Name], col.ID())

	chain := append(append([]collection.CollectionScope{}, ancestors...), scope)
	for _, sub := range scope.SubCollections {
		if err := c.walk(def, sub, chain, opts); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) Get(id string) (*collection.Collection, bool) {
	col, ok := c.byID[id]
	return col, ok
}

// Resolve maps a table definition name or any collection id to every
// collection id built from the same definition. Unknown names give nil.
func (c *Catalog) Resolve(name string) []string {
	table, ok := c.tableOf[name]
	if !ok {
		table = name
	}
	ids := c.byTable[table]
	if len(ids) == 0 {
		return nil
	}
	return append([]string(nil), ids...)
}

// All returns collections in declaration order.
func (c *Catalog) All() []*collection.Collection {
	out := make([]*collection.Collection, len(c.order))
	copy(out, c.order)
	return out
}

// IDs is sorted, for logs.
func (c *Catalog) IDs() []string {
	out := make([]string, 0, len(c.byID))
	for id := range c.byID {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) String() string {
	return "catalog[" + strings.Join(c.IDs(), ",") + "]"
}
