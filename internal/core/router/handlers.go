package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/postgis-collections/internal/collection"
	"github.com/mohammed-shakir/postgis-collections/internal/core/model"
	mylog "github.com/mohammed-shakir/postgis-collections/internal/logger"
	"github.com/mohammed-shakir/postgis-collections/internal/spatial"
)

const geoJSON = "application/geo+json"

type api struct {
	deps Deps
	log  *slog.Logger
}

type link struct {
	Href  string `json:"href"`
	Rel   string `json:"rel"`
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
}

type collectionDoc struct {
	ID                        string                 `json:"id"`
	Title                     string                 `json:"title"`
	Description               string                 `json:"description,omitempty"`
	CRS                       []string               `json:"crs"`
	StorageCRS                string                 `json:"storageCrs"`
	Properties                []model.Property       `json:"properties"`
	AdditionalQueryParameters []model.QueryParameter `json:"additionalQueryParameters,omitempty"`
	Links                     []link                 `json:"links"`
}

func describe(c *collection.Collection) collectionDoc {
	base := "/collections/" + url.PathEscape(c.ID())
	return collectionDoc{
		ID:                        c.ID(),
		Title:                     c.Title(),
		Description:               c.Description(),
		CRS:                       []string{c.CRS()},
		StorageCRS:                c.CRS(),
		Properties:                c.Properties(),
		AdditionalQueryParameters: c.AdditionalQueryParameters(),
		Links: []link{
			{Href: base, Rel: "self", Type: "application/json"},
			{Href: base + "/items", Rel: "items", Type: geoJSON},
		},
	}
}

func (a *api) listCollections(w http.ResponseWriter, _ *http.Request) {
	all := a.deps.Catalog.All()
	out := struct {
		Collections []collectionDoc `json:"collections"`
		Links       []link          `json:"links"`
	}{
		Collections: make([]collectionDoc, 0, len(all)),
		Links:       []link{{Href: "/collections", Rel: "self", Type: "application/json"}},
	}
	for _, c := range all {
		out.Collections = append(out.Collections, describe(c))
	}
	writeJSON(w, http.StatusOK, "application/json", out)
}

func (a *api) collection(w http.ResponseWriter, r *http.Request) (*collection.Collection, bool) {
	raw := chi.URLParam(r, "collectionId")
	id, err := url.PathUnescape(raw)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "InvalidParameterValue", "malformed collection id")
		return nil, false
	}
	c, ok := a.deps.Catalog.Get(id)
	if !ok {
		writeProblem(w, http.StatusNotFound, "NotFound", "collection "+id+" not found")
		return nil, false
	}
	return c, true
}

func (a *api) getCollection(w http.ResponseWriter, r *http.Request) {
	c, ok := a.collection(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, "application/json", describe(c))
}

type featureCollection struct {
	Type           string           `json:"type"`
	Features       []*model.Feature `json:"features"`
	NumberReturned int              `json:"numberReturned"`
	NextToken      string           `json:"nextToken,omitempty"`
	Links          []link           `json:"links"`
}

func (a *api) listItems(w http.ResponseWriter, r *http.Request) {
	c, ok := a.collection(w, r)
	if !ok {
		return
	}
	q, err := ParseItemsQuery(r.URL.Query(), c, a.deps.DefaultLimit, a.deps.MaxLimit)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "InvalidParameterValue", err.Error())
		return
	}

	ctx := mylog.WithCollection(r.Context(), c.ID())
	s := c.ExecuteQuery(ctx, q)
	out := featureCollection{Type: "FeatureCollection", Features: []*model.Feature{}}
	// the stream stops at the limit itself unless filters were deferred,
	// so cap here as well
	for it := range s.Items() {
		out.Features = append(out.Features, it.Feature)
		out.NextToken = it.NextToken
		if len(out.Features) >= q.Limit {
			break
		}
	}
	s.Close()
	for range s.Items() {
		// drain so Err is final
	}
	if err := s.Err(); err != nil {
		a.fail(ctx, w, err)
		return
	}

	out.NumberReturned = len(out.Features)
	self := itemsURL(c.ID(), r.URL.Query())
	out.Links = []link{{Href: self, Rel: "self", Type: geoJSON}}
	if out.NumberReturned == q.Limit && out.NextToken != "" {
		next := r.URL.Query()
		next.Set("nextToken", out.NextToken)
		out.Links = append(out.Links, link{Href: itemsURL(c.ID(), next), Rel: "next", Type: geoJSON})
	}
	w.Header().Set("Content-Crs", "<"+s.CRS+">")
	writeJSON(w, http.StatusOK, geoJSON, out)
}

func itemsURL(id string, v url.Values) string {
	u := "/collections/" + url.PathEscape(id) + "/items"
	if enc := v.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

func (a *api) getItem(w http.ResponseWriter, r *http.Request) {
	c, ok := a.collection(w, r)
	if !ok {
		return
	}
	fid, err := url.PathUnescape(chi.URLParam(r, "featureId"))
	if err != nil || strings.TrimSpace(fid) == "" {
		writeProblem(w, http.StatusBadRequest, "InvalidParameterValue", "malformed feature id")
		return
	}
	id, ok := c.ParseID(fid)
	if !ok {
		writeProblem(w, http.StatusNotFound, "NotFound", "feature "+fid+" not found in "+c.ID())
		return
	}
	ctx := mylog.WithCollection(r.Context(), c.ID())
	w.Header().Set("Content-Crs", "<"+c.CRS()+">")

	if body, hit := a.cached(ctx, c.ID(), fid); hit {
		w.Header().Set("X-Cache", "HIT")
		writeRaw(w, http.StatusOK, geoJSON, body)
		return
	}

	f, found, err := c.GetFeatureByID(ctx, id)
	if err != nil {
		a.fail(ctx, w, err)
		return
	}
	if !found {
		writeProblem(w, http.StatusNotFound, "NotFound", "feature "+fid+" not found in "+c.ID())
		return
	}
	body, err := json.Marshal(f)
	if err != nil {
		a.fail(ctx, w, err)
		return
	}
	a.store(ctx, c.ID(), fid, body)
	if a.deps.Cache != nil {
		w.Header().Set("X-Cache", "MISS")
	}
	writeRaw(w, http.StatusOK, geoJSON, body)
}

// cached never fails the request; cache errors fall through to the
// database.
func (a *api) cached(ctx context.Context, coll, id string) ([]byte, bool) {
	if a.deps.Cache == nil {
		return nil, false
	}
	cctx, cancel := context.WithTimeout(ctx, a.deps.CacheOpTimeout)
	defer cancel()
	body, ok, err := a.deps.Cache.Get(cctx, coll, id)
	if err != nil {
		a.log.WarnContext(mylog.WithCacheOutcome(ctx, "error"), "feature cache get failed", "id", id, "err", err)
		return nil, false
	}
	return body, ok
}

func (a *api) store(ctx context.Context, coll, id string, body []byte) {
	if a.deps.Cache == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, a.deps.CacheOpTimeout)
	defer cancel()
	if err := a.deps.Cache.Put(cctx, coll, id, body); err != nil {
		a.log.WarnContext(mylog.WithCacheOutcome(ctx, "error"), "feature cache put failed", "id", id, "err", err)
	}
}

// fail maps engine errors onto HTTP statuses.
func (a *api) fail(ctx context.Context, w http.ResponseWriter, err error) {
	var storeErr *collection.StoreExecutionError
	switch {
	case errors.Is(err, collection.ErrConfiguration),
		errors.Is(err, spatial.ErrUnsupportedCRS),
		errors.Is(err, spatial.ErrNoGeometryColumn):
		writeProblem(w, http.StatusBadRequest, "InvalidParameterValue", err.Error())
	case errors.As(err, &storeErr):
		a.log.ErrorContext(ctx, "store failure", "err", err)
		writeProblem(w, http.StatusBadGateway, "StoreError", "database error")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeProblem(w, http.StatusServiceUnavailable, "Timeout", err.Error())
	default:
		a.log.ErrorContext(ctx, "request failed", "err", err)
		writeProblem(w, http.StatusInternalServerError, "InternalError", "internal error")
	}
}

func writeProblem(w http.ResponseWriter, status int, code, desc string) {
	writeJSON(w, status, "application/json", struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	}{code, desc})
}

func writeJSON(w http.ResponseWriter, status int, ctype string, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "encode response", http.StatusInternalServerError)
		return
	}
	writeRaw(w, status, ctype, body)
}

func writeRaw(w http.ResponseWriter, status int, ctype string, body []byte) {
	w.Header().Set("Content-Type", ctype)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
