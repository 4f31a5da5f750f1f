// Package gateway is the reactive edge: it matches routes, runs the filter
// chain and forwards requests upstream. Failures are answered with the same
// envelope contract as the synchronous edge.
package gateway

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/tjfontaine/envelope-gateway/internal/domain"
	"github.com/tjfontaine/envelope-gateway/internal/metrics"
	"github.com/tjfontaine/envelope-gateway/internal/pipeline"
	"github.com/tjfontaine/envelope-gateway/internal/server"
	"github.com/tjfontaine/envelope-gateway/internal/storage"
)

// Options configures a Pipeline.
type Options struct {
	Logger  *slog.Logger
	Router  *Router
	LogType *LiveLogType
	// Store persists access records. May be nil.
	Store storage.AccessRecordStore
	// Transport carries upstream calls. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
	Metrics   *metrics.Metrics
	// MaxBodyBytes bounds cached request bodies. Zero means unbounded.
	MaxBodyBytes int64
	// Stages are added to the global stages.
	Stages []pipeline.StageConfig
}

// Pipeline is the http.Handler of the gateway.
type Pipeline struct {
	logger  *slog.Logger
	router  *Router
	chains  map[string]*pipeline.Chain
	errors  *ErrorHandler
	metrics *metrics.Metrics
}

// New assembles the global stages, the per-route stages and the proxy.
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	router := opts.Router
	if router == nil {
		router = &Router{}
	}
	live := opts.LogType
	if live == nil {
		live = NewLiveLogType(LogMergeResponse)
	}

	proxy := NewProxy(opts.Transport, logger)
	global := []pipeline.StageConfig{
		{Name: "CacheRequestBody", Order: CacheBodyOrder, Filter: CacheBodyFilter{MaxBytes: opts.MaxBodyBytes}},
		{Name: "RequestBody", Order: RequestBodyOrder, Filter: NewRequestBodyFilter(logger)},
		{Name: "ForwardURL", Order: ForwardURLOrder, Filter: ForwardURLFilter{}},
		{Name: "GatewayLog", Order: AccessLogOrder, Filter: NewAccessLogFilter(logger, live, opts.Store)},
	}
	global = append(global, opts.Stages...)
	base := pipeline.NewChain(proxy.Forward, global...)

	chains := make(map[string]*pipeline.Chain, len(router.routes))
	for _, r := range router.routes {
		chains[r.ID] = base.With(r.Stages()...)
	}

	return &Pipeline{
		logger:  logger,
		router:  router,
		chains:  chains,
		errors:  NewErrorHandler(logger, opts.Metrics),
		metrics: opts.Metrics,
	}
}

// Errors returns the error boundary of the gateway.
func (p *Pipeline) Errors() *ErrorHandler {
	return p.errors
}

// Routes returns the configured routes in match order.
func (p *Pipeline) Routes() []*Route {
	return p.router.Routes()
}

func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := server.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	ex := pipeline.NewExchange(w, r, requestID)

	route, ok := p.router.Match(r.URL.Path)
	if !ok {
		p.errors.Handle(ctx, ex, domain.NewTransportError("route "+r.URL.Path, ErrNoRoute))
		p.metrics.ObserveRequest("", r.Method, ex.Response.Status(), ex.Elapsed())
		return
	}
	ex.SetAttribute(pipeline.AttrRoute, route)

	if err := p.chains[route.ID].Run(ctx, ex); err != nil {
		p.errors.Handle(ctx, ex, err)
	}
	p.metrics.ObserveRequest(route.ID, r.Method, ex.Response.Status(), ex.Elapsed())
}
