package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/envelope-gateway/internal/apierror"
	"github.com/tjfontaine/envelope-gateway/internal/metrics"
	"github.com/tjfontaine/envelope-gateway/internal/response"
)

// Options configures the edge server.
type Options struct {
	Port        int
	ServiceName string
	Logger      *slog.Logger
	// RequestTimeout bounds every request context. Zero disables it.
	RequestTimeout time.Duration
	// ErrorPath serves errors forwarded from outside the router.
	ErrorPath string
	// Debug exposes base64 stack traces in empty error envelopes.
	Debug bool
	// VerifySource rejects API requests without SourceHeader.
	VerifySource bool
	SourceHeader string
	Metrics      *metrics.Metrics
}

// Server is the synchronous edge: a chi router whose failures all funnel into
// one error boundary.
type Server struct {
	Router *chi.Mux
	// Routes is where API handlers are mounted. It carries source
	// verification when enabled.
	Routes chi.Router
	Port   int

	logger     *slog.Logger
	errors     *apierror.Handler
	httpServer *http.Server
}

// New builds the router. Middleware runs in this order: tracing, request ID,
// logging, request timeout, panic recovery, then source verification for
// routes mounted on Routes.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "envelope-edge"
	}
	if opts.ErrorPath == "" {
		opts.ErrorPath = "/error"
	}

	errs := apierror.NewHandler(logger,
		apierror.WithDebug(opts.Debug),
		apierror.WithMetrics(opts.Metrics))

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, opts.ServiceName)
	})
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimeoutMiddleware(opts.RequestTimeout))
	r.Use(errs.Recover)

	s := &Server{
		Router: r,
		Port:   opts.Port,
		logger: logger,
		errors: errs,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", opts.Port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		AddLogField(r.Context(), "error", apierror.ErrNoRoute.Error())
		errs.NotFound(w, r)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		AddLogField(r.Context(), "error", apierror.ErrMethodNotAllowed.Error())
		errs.MethodNotAllowed(w, r)
	})
	r.Get(opts.ErrorPath, errs.Endpoint())

	if opts.VerifySource {
		s.Routes = r.With(SourceVerificationMiddleware(opts.SourceHeader, logger, opts.Metrics))
	} else {
		s.Routes = r.With()
	}
	return s
}

// ServeError records err on the request log and hands it to the boundary.
func (s *Server) ServeError(w http.ResponseWriter, r *http.Request, err error, status int) {
	AddError(r.Context(), err)
	s.errors.ServeError(w, r, err, status)
}

// Binder returns a handler adapter that fails into the server boundary.
func (s *Server) Binder(opts ...response.BinderOption) *response.Binder {
	return response.NewBinder(s, opts...)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// Start listens on the configured port until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting server", slog.Int("port", s.Port))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
