// Package derived holds the named functions that table configuration can
// reference for computed columns and feature post-processing.
package derived

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mohammed-shakir/postgis-collections/internal/core/model"
)

// Func computes a column value from a partially assembled feature.
type Func func(f *model.Feature) any

// Hook rewrites a fully assembled feature.
type Hook func(f *model.Feature) *model.Feature

type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
	hooks map[string]Hook
}

func NewRegistry() *Registry {
	return &Registry{funcs: map[string]Func{}, hooks: map[string]Hook{}}
}

func (r *Registry) Register(name string, f Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = f
}

func (r *Registry) RegisterHook(name string, h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[name] = h
}

func (r *Registry) Func(name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.funcs[name]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("no derived function %q (known: %v)", name, keys(r.funcs))
}

func (r *Registry) Hook(name string) (Hook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.hooks[name]; ok {
		return h, nil
	}
	return nil, fmt.Errorf("no post-process hook %q (known: %v)", name, keys(r.hooks))
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
