package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/envelope-gateway/internal/config"
	"github.com/tjfontaine/envelope-gateway/internal/edge"
	"github.com/tjfontaine/envelope-gateway/internal/metrics"
	"github.com/tjfontaine/envelope-gateway/internal/server"
	"github.com/tjfontaine/envelope-gateway/internal/telemetry"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the configuration file")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	level := slog.LevelInfo
	if cfg.System.DebugMode {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	stopTracer, err := telemetry.InitTracer(cfg.Application.Name, cfg.Tracing.Exporter, logger)
	if err != nil {
		log.Fatalf("Failed to init tracer: %v", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	s := server.New(server.Options{
		Port:           cfg.Server.Port,
		ServiceName:    cfg.Application.Name,
		Logger:         logger,
		RequestTimeout: cfg.Server.RequestTimeout,
		ErrorPath:      cfg.Server.ErrorPath,
		Debug:          cfg.System.DebugMode,
		VerifySource:   cfg.Filter.TraceIDEnable,
		SourceHeader:   cfg.Filter.TraceHeader,
		Metrics:        m,
	})
	if m != nil {
		s.Router.Method("GET", cfg.Metrics.Path, m.Handler())
	}
	edge.NewUsers(logger).Routes(s.Routes, s)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(s.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received, stopping edge server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return stopTracer(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("edge server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
