package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/envelope-gateway/internal/pipeline"
)

// Proxy forwards the exchange to the resolved upstream URL. It is the
// terminal step of the chain.
type Proxy struct {
	transport http.RoundTripper
	logger    *slog.Logger
}

// NewProxy creates a proxy over base, or http.DefaultTransport when base is
// nil. Outgoing calls are traced.
func NewProxy(base http.RoundTripper, logger *slog.Logger) *Proxy {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{transport: otelhttp.NewTransport(base), logger: logger}
}

// Forward is a pipeline.Next.
func (p *Proxy) Forward(ctx context.Context, ex *pipeline.Exchange) error {
	route, _ := pipeline.Attr[*Route](ex, pipeline.AttrRoute)
	target, ok := pipeline.Attr[*url.URL](ex, pipeline.AttrForwardURL)
	if !ok {
		if route == nil {
			return ErrNoRoute
		}
		target = forwardURL(route.URI, ex.Request().URL)
	}
	routeID := ""
	if route != nil {
		routeID = route.ID
	}

	var upstreamErr error
	rp := &httputil.ReverseProxy{
		Transport: p.transport,
		Rewrite: func(pr *httputil.ProxyRequest) {
			out := *target
			pr.Out.URL = &out
			pr.Out.Host = ""
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			upstreamErr = err
		},
		ErrorLog: slog.NewLogLogger(p.logger.Handler(), slog.LevelWarn),
	}

	rp.ServeHTTP(ex.Response, ex.Request().WithContext(ctx))
	if upstreamErr != nil {
		return &UpstreamError{RouteID: routeID, URL: target.String(), Err: upstreamErr}
	}
	return nil
}
