package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tjfontaine/envelope-gateway/internal/bodycache"
	"github.com/tjfontaine/envelope-gateway/internal/domain"
	"github.com/tjfontaine/envelope-gateway/internal/pipeline"
)

// Stage orders. Lower runs first.
const (
	CacheBodyOrder   = 0
	RequestBodyOrder = 1
	RouteFilterOrder = 1000
	ForwardURLOrder  = 10000
	AccessLogOrder   = math.MaxInt
)

// CacheBodyFilter captures the request body so every later stage and the
// upstream call can read it. Bodies over MaxBytes are refused with 413; zero
// means unbounded.
type CacheBodyFilter struct {
	MaxBytes int64
}

func (f CacheBodyFilter) Filter(ctx context.Context, ex *pipeline.Exchange, next pipeline.Next) error {
	if _, err := ex.CacheBodyLimit(f.MaxBytes); err != nil {
		if errors.Is(err, bodycache.ErrTooLarge) {
			err = &statusError{status: http.StatusRequestEntityTooLarge, msg: err.Error(), cause: err}
		}
		return domain.NewTransportError("cache request body", err)
	}
	return next(ctx, ex)
}

// RequestBodyFilter logs the cached body, parsed as form fields when it is a
// form. It never changes the request.
type RequestBodyFilter struct {
	logger *slog.Logger
}

// NewRequestBodyFilter creates the filter.
func NewRequestBodyFilter(logger *slog.Logger) *RequestBodyFilter {
	return &RequestBodyFilter{logger: logger}
}

func (f *RequestBodyFilter) Filter(ctx context.Context, ex *pipeline.Exchange, next pipeline.Next) error {
	r := ex.Request()
	f.logger.InfoContext(ctx, "gateway filter",
		slog.String("request_id", ex.ID),
		slog.String("uri", r.URL.String()),
		slog.String("source_uri", ex.Original.URL))

	var body []byte
	if cached, ok := ex.CachedBody(); ok {
		body = cached.Bytes()
	}
	summary := SummarizeBody(r.Header.Get("Content-Type"), body)
	ex.SetAttribute(pipeline.AttrRequestBody, summary)

	if summary.Fields != nil && summary.Fields.Len() > 0 {
		f.logger.InfoContext(ctx, "request body",
			slog.String("request_id", ex.ID),
			slog.Any("body_map", summary.Fields))
	} else {
		f.logger.InfoContext(ctx, "request body",
			slog.String("request_id", ex.ID),
			slog.String("body", summary.Raw))
	}
	return next(ctx, ex)
}

// ForwardURLFilter resolves the upstream URL from the matched route and the
// current request path.
type ForwardURLFilter struct{}

func (ForwardURLFilter) Filter(ctx context.Context, ex *pipeline.Exchange, next pipeline.Next) error {
	route, ok := pipeline.Attr[*Route](ex, pipeline.AttrRoute)
	if !ok {
		return domain.NewTransportError("resolve forward url", ErrNoRoute)
	}
	ex.SetAttribute(pipeline.AttrForwardURL, forwardURL(route.URI, ex.Request().URL))
	return next(ctx, ex)
}

func forwardURL(target, in *url.URL) *url.URL {
	out := *target
	out.Path = joinPath(target.Path, in.Path)
	out.RawPath = ""
	out.RawQuery = in.RawQuery
	if target.RawQuery != "" && in.RawQuery != "" {
		out.RawQuery = target.RawQuery + "&" + in.RawQuery
	} else if target.RawQuery != "" {
		out.RawQuery = target.RawQuery
	}
	out.Fragment = ""
	return &out
}

func joinPath(a, b string) string {
	switch {
	case a == "" || a == "/":
		if b == "" {
			return "/"
		}
		return b
	case b == "" || b == "/":
		return a
	}
	return strings.TrimSuffix(a, "/") + "/" + strings.TrimPrefix(b, "/")
}

// =============================================================================
// Route filters
// =============================================================================

// NewRouteFilterFactory registers the built-in route filters:
//
//	StripPrefix=n              drop the first n path segments
//	PrefixPath=/p              prepend /p to the path
//	AddRequestHeader=Name,Val  add a header to the upstream request
//	AddResponseHeader=Name,Val add a header to the response
func NewRouteFilterFactory() *pipeline.Factory {
	f := pipeline.NewFactory()
	f.Register("StripPrefix", newStripPrefix)
	f.Register("PrefixPath", newPrefixPath)
	f.Register("AddRequestHeader", newAddRequestHeader)
	f.Register("AddResponseHeader", newAddResponseHeader)
	return f
}

func rewritePath(ex *pipeline.Exchange, path string) {
	r := ex.Request()
	out := r.Clone(r.Context())
	out.URL.Path = path
	out.URL.RawPath = ""
	ex.SetRequest(out)
}

func newStripPrefix(args []string) (pipeline.Filter, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return nil, fmt.Errorf("invalid segment count %q", args[0])
	}
	return pipeline.FilterFunc(func(ctx context.Context, ex *pipeline.Exchange, next pipeline.Next) error {
		segments := strings.Split(strings.TrimPrefix(ex.Request().URL.Path, "/"), "/")
		if n >= len(segments) {
			segments = nil
		} else {
			segments = segments[n:]
		}
		rewritePath(ex, "/"+strings.Join(segments, "/"))
		return next(ctx, ex)
	}), nil
}

func newPrefixPath(args []string) (pipeline.Filter, error) {
	if len(args) != 1 || !strings.HasPrefix(args[0], "/") {
		return nil, fmt.Errorf("expected one absolute path argument")
	}
	prefix := strings.TrimSuffix(args[0], "/")
	return pipeline.FilterFunc(func(ctx context.Context, ex *pipeline.Exchange, next pipeline.Next) error {
		rewritePath(ex, prefix+ex.Request().URL.Path)
		return next(ctx, ex)
	}), nil
}

func newAddRequestHeader(args []string) (pipeline.Filter, error) {
	if len(args) != 2 || args[0] == "" {
		return nil, fmt.Errorf("expected header name and value")
	}
	name, value := http.CanonicalHeaderKey(args[0]), args[1]
	return pipeline.FilterFunc(func(ctx context.Context, ex *pipeline.Exchange, next pipeline.Next) error {
		r := ex.Request()
		out := r.Clone(r.Context())
		out.Header.Add(name, value)
		ex.SetRequest(out)
		return next(ctx, ex)
	}), nil
}

func newAddResponseHeader(args []string) (pipeline.Filter, error) {
	if len(args) != 2 || args[0] == "" {
		return nil, fmt.Errorf("expected header name and value")
	}
	name, value := http.CanonicalHeaderKey(args[0]), args[1]
	return pipeline.FilterFunc(func(ctx context.Context, ex *pipeline.Exchange, next pipeline.Next) error {
		ex.Response.Header().Add(name, value)
		return next(ctx, ex)
	}), nil
}
