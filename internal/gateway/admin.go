package gateway

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/envelope-gateway/internal/domain"
	"github.com/tjfontaine/envelope-gateway/internal/response"
	"github.com/tjfontaine/envelope-gateway/internal/storage"
)

// maxListLimit caps the limit query parameter of the admin listing.
const maxListLimit = 1000

// RouteView is the admin view of a route.
type RouteView struct {
	ID        string `json:"id"`
	URI       string `json:"uri"`
	Predicate string `json:"predicate"`
	Filters   string `json:"filters"`
}

// AdminRoutes mounts the read-only admin API:
//
//	GET /access-records?limit=&route=
//	GET /routes
func AdminRoutes(p *Pipeline, store storage.AccessRecordStore) http.Handler {
	binder := response.NewBinder(p.Errors(), response.WithFormatAll())
	r := chi.NewRouter()
	r.NotFound(p.Errors().NotFound)

	r.Get("/routes", binder.Bind(func(w http.ResponseWriter, r *http.Request) (any, error) {
		routes := p.Routes()
		views := make([]RouteView, 0, len(routes))
		for _, rt := range routes {
			views = append(views, RouteView{
				ID:        rt.ID,
				URI:       rt.URI.String(),
				Predicate: rt.Predicate(),
				Filters:   rt.FilterDescriptor(),
			})
		}
		return views, nil
	}))

	r.Get("/access-records", binder.Bind(func(w http.ResponseWriter, r *http.Request) (any, error) {
		if store == nil {
			return nil, domain.Businessf(domain.CodeServerError, "access records are not persisted")
		}
		opts := storage.ListOptions{RouteID: r.URL.Query().Get("route")}
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > maxListLimit {
				return nil, domain.NewParamValidatedError(domain.ParamError{
					Name:    "limit",
					Message: "must be between 1 and " + strconv.Itoa(maxListLimit),
				})
			}
			opts.Limit = n
		}
		return store.List(r.Context(), opts)
	}))
	return r
}
