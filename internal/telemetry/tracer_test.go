package telemetry

import (
	"context"
	"io"
	"log/slog"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestTraceID_NoSpan(t *testing.T) {
	if id := TraceID(context.Background()); id != "" {
		t.Errorf("expected empty trace id, got %q", id)
	}
}

func TestTraceID_ActiveSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	want := span.SpanContext().TraceID().String()
	if got := TraceID(ctx); got != want {
		t.Errorf("TraceID() = %q, want %q", got, want)
	}
	if len(want) != 32 {
		t.Errorf("expected 32 hex chars, got %q", want)
	}
}

func TestInitTracer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	shutdown, err := InitTracer("envelope-gateway-test", ExporterNone, logger)
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}

	if _, err := InitTracer("x", "zipkin", logger); err == nil {
		t.Error("expected error for unknown exporter")
	}
}
