// Package runtime provides the Gateway struct and lifecycle management for
// the envelope gateway process.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/envelope-gateway/internal/config"
	"github.com/tjfontaine/envelope-gateway/internal/gateway"
	"github.com/tjfontaine/envelope-gateway/internal/metrics"
	"github.com/tjfontaine/envelope-gateway/internal/server"
	"github.com/tjfontaine/envelope-gateway/internal/storage"
	"github.com/tjfontaine/envelope-gateway/internal/telemetry"
)

// Gateway runs the gateway pipeline, its admin API and its metrics behind
// one listener.
// Gateway can be embedded in larger applications or run standalone.
type Gateway struct {
	// Dependencies (injected via options)
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
	store      storage.AccessRecordStore
	transport  http.RoundTripper
	addr       string

	// Internal state
	liveLogType *gateway.LiveLogType
	metrics     *metrics.Metrics
	pipeline    *gateway.Pipeline
	handler     http.Handler
	server      *http.Server
	listener    net.Listener
	watcher     *config.Watcher
	stopTracer  func(context.Context) error

	// Lifecycle management
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
	mu      sync.RWMutex
}

// New creates a Gateway with the given options. Without WithConfigFile or
// WithConfig, config.DefaultPath is loaded. Without a store option, the
// store named by storage.type is opened.
func New(opts ...Option) (*Gateway, error) {
	gw := &Gateway{logger: slog.Default()}

	for _, opt := range opts {
		if err := opt(gw); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if gw.cfg == nil {
		if err := WithConfigFile(config.DefaultPath)(gw); err != nil {
			return nil, err
		}
	}
	if gw.store == nil {
		store, err := openStore(gw.cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		gw.store = store
	}
	if gw.addr == "" {
		gw.addr = fmt.Sprintf(":%d", gw.cfg.Gateway.Port)
	}

	gw.liveLogType = gateway.NewLiveLogType(logTypeOf(gw.cfg))
	if gw.cfg.Metrics.Enabled {
		gw.metrics = metrics.New()
	}

	if err := gw.buildHandler(); err != nil {
		return nil, err
	}
	return gw, nil
}

// buildHandler assembles routes, pipeline, admin API and metrics endpoint.
func (g *Gateway) buildHandler() error {
	router, err := gateway.NewRouter(g.cfg.Gateway.Routes, gateway.NewRouteFilterFactory())
	if err != nil {
		return fmt.Errorf("build routes: %w", err)
	}

	g.pipeline = gateway.New(gateway.Options{
		Logger:    g.logger,
		Router:    router,
		LogType:   g.liveLogType,
		Store:     g.store,
		Transport: g.transport,
		Metrics:   g.metrics,

		MaxBodyBytes: g.cfg.Gateway.MaxBodyBytes,
	})

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, g.cfg.Application.Name)
	})
	r.Use(server.RequestIDMiddleware)
	r.Use(g.pipeline.Errors().Recover)

	if g.metrics != nil {
		r.Method(http.MethodGet, g.cfg.Metrics.Path, g.metrics.Handler())
	}
	r.Mount("/admin", gateway.AdminRoutes(g.pipeline, g.store))
	r.Handle("/*", g.pipeline)

	g.handler = r
	for _, rt := range router.Routes() {
		g.logger.Info("registered route",
			slog.String("route_id", rt.ID),
			slog.String("route_uri", rt.URI.String()),
			slog.String("route_predicate", rt.Predicate()),
			slog.String("route_filters", rt.FilterDescriptor()))
	}
	return nil
}

// Handler returns the HTTP handler of the gateway.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Addr returns the bound listen address once started.
func (g *Gateway) Addr() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// LogType returns the access-log default currently in effect.
func (g *Gateway) LogType() gateway.LogType {
	return g.liveLogType.Load()
}

// Start initializes tracing, starts listening and watches the config file.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		return fmt.Errorf("gateway already started")
	}

	stopTracer, err := telemetry.InitTracer(g.cfg.Application.Name, g.cfg.Tracing.Exporter, g.logger)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	g.stopTracer = stopTracer

	ln, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", g.addr, err)
	}
	g.listener = ln

	g.ctx, g.cancel = context.WithCancel(ctx)
	g.group, _ = errgroup.WithContext(g.ctx)

	g.server = &http.Server{
		Handler:           g.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.group.Go(func() error {
		g.logger.Info("HTTP server listening", slog.String("addr", ln.Addr().String()))
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	if err := g.watchConfig(); err != nil {
		g.logger.Warn("config hot reload disabled", slog.String("error", err.Error()))
	}

	g.started = true
	g.logger.Info("gateway started",
		slog.String("addr", ln.Addr().String()),
		slog.Int("routes", len(g.pipeline.Routes())),
		slog.String("log_type", g.liveLogType.Load().String()))
	return nil
}

// watchConfig applies gateway.log_type from every valid rewrite of the
// config file.
func (g *Gateway) watchConfig() error {
	if g.configPath == "" {
		return nil
	}
	if _, err := os.Stat(g.configPath); err != nil {
		return err
	}

	w, err := config.NewWatcher(g.configPath, g.logger)
	if err != nil {
		return err
	}
	g.watcher = w
	return w.Watch(g.ctx, g.reload)
}

// reload applies the hot-reloadable subset of cfg.
func (g *Gateway) reload(cfg *config.Config) {
	next := logTypeOf(cfg)
	prev := g.liveLogType.Load()
	if next == prev {
		return
	}
	if err := g.liveLogType.Store(next); err != nil {
		g.logger.Error("failed to apply gateway log type", slog.String("error", err.Error()))
		return
	}
	g.metrics.ObserveLogTypeReload()
	g.logger.Info("gateway log type reloaded",
		slog.String("from", prev.String()),
		slog.String("to", next.String()))
}

// Shutdown gracefully stops the gateway and releases its resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("shutting down gateway")

	if g.cancel != nil {
		g.cancel()
	}

	var errs []error
	if g.server != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			g.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if g.group != nil {
		if err := g.group.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	if g.watcher != nil {
		if err := g.watcher.Close(); err != nil {
			g.logger.Error("failed to close config watcher", slog.String("error", err.Error()))
		}
	}
	if g.store != nil {
		if err := g.store.Close(); err != nil {
			g.logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
	}
	if g.stopTracer != nil {
		if err := g.stopTracer(ctx); err != nil {
			g.logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}

	g.started = false
	g.logger.Info("gateway shutdown complete")
	return errors.Join(errs...)
}
