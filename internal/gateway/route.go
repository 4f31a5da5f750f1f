package gateway

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/tjfontaine/envelope-gateway/internal/config"
	"github.com/tjfontaine/envelope-gateway/internal/pipeline"
)

// Route maps a path prefix onto an upstream.
type Route struct {
	ID          string
	URI         *url.URL
	Path        string
	StripPrefix int
	// Filters are the route filter descriptors in declaration order.
	Filters []string

	stages []pipeline.StageConfig
}

// Predicate describes the match condition.
func (r *Route) Predicate() string {
	if r.Path == "/" {
		return "Path=/**"
	}
	return "Path=" + r.Path + "/**"
}

// FilterDescriptor lists the route filters.
func (r *Route) FilterDescriptor() string {
	return "[" + strings.Join(r.Filters, ", ") + "]"
}

// Matches reports whether path falls under the route prefix.
func (r *Route) Matches(path string) bool {
	if r.Path == "/" {
		return true
	}
	return path == r.Path || strings.HasPrefix(path, r.Path+"/")
}

// Stages returns the stages built from the route filters.
func (r *Route) Stages() []pipeline.StageConfig {
	return r.stages
}

// Router selects the route with the longest matching prefix.
type Router struct {
	routes []*Route
}

// NewRouter builds routes from configuration. Route filters are created
// through factory; a positive strip_prefix adds a leading StripPrefix filter.
func NewRouter(cfgs []config.RouteConfig, factory *pipeline.Factory) (*Router, error) {
	routes := make([]*Route, 0, len(cfgs))
	for _, c := range cfgs {
		uri, err := url.Parse(c.URI)
		if err != nil {
			return nil, fmt.Errorf("route %s: invalid uri: %w", c.ID, err)
		}
		if uri.Scheme == "" || uri.Host == "" {
			return nil, fmt.Errorf("route %s: uri %q must be absolute", c.ID, c.URI)
		}

		path := strings.TrimSuffix(c.Path, "/")
		if path == "" {
			path = "/"
		}

		filters := make([]string, 0, len(c.Filters)+1)
		if c.StripPrefix > 0 {
			filters = append(filters, "StripPrefix="+strconv.Itoa(c.StripPrefix))
		}
		filters = append(filters, c.Filters...)

		stages, err := factory.Build(filters, RouteFilterOrder)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", c.ID, err)
		}

		routes = append(routes, &Route{
			ID:          c.ID,
			URI:         uri,
			Path:        path,
			StripPrefix: c.StripPrefix,
			Filters:     filters,
			stages:      stages,
		})
	}

	sort.SliceStable(routes, func(i, j int) bool {
		return len(routes[i].Path) > len(routes[j].Path)
	})
	return &Router{routes: routes}, nil
}

// Match returns the route for path.
func (rt *Router) Match(path string) (*Route, bool) {
	for _, r := range rt.routes {
		if r.Matches(path) {
			return r, true
		}
	}
	return nil, false
}

// Routes returns the routes in match order.
func (rt *Router) Routes() []*Route {
	return append([]*Route(nil), rt.routes...)
}
