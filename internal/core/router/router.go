// Package router exposes the collection catalog over HTTP.
package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/postgis-collections/internal/cache/featurecache"
	"github.com/mohammed-shakir/postgis-collections/internal/collection"
	"github.com/mohammed-shakir/postgis-collections/internal/core/health"
	"github.com/mohammed-shakir/postgis-collections/internal/core/middleware"
	"github.com/mohammed-shakir/postgis-collections/internal/store"
)

// Catalog is the set of collections served.
type Catalog interface {
	Get(id string) (*collection.Collection, bool)
	All() []*collection.Collection
}

type Deps struct {
	Logger  *slog.Logger
	Catalog Catalog
	// Cache is optional; nil serves every item from the database.
	Cache          featurecache.Cache
	CacheOpTimeout time.Duration
	DefaultLimit   int
	MaxLimit       int
	// Ready lists dependencies pinged by /readyz.
	Ready map[string]store.Pinger
}

// New wires middleware, health, metrics and the collections API.
func New(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.MaxLimit <= 0 {
		d.MaxLimit = 1000
	}
	if d.DefaultLimit <= 0 || d.DefaultLimit > d.MaxLimit {
		d.DefaultLimit = min(10, d.MaxLimit)
	}
	if d.CacheOpTimeout <= 0 {
		d.CacheOpTimeout = 250 * time.Millisecond
	}
	api := &api{deps: d, log: d.Logger.With("component", "http")}

	r := chi.NewRouter()
	r.Use(middleware.Recover(d.Logger))
	r.Use(middleware.Logging(d.Logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(2*time.Second, d.Ready))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/collections", func(r chi.Router) {
		r.Get("/", api.listCollections)
		r.Route("/{collectionId}", func(r chi.Router) {
			r.Get("/", api.getCollection)
			r.Get("/items", api.listItems)
			r.Get("/items/{featureId}", api.getItem)
		})
	})
	return r
}
