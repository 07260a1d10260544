package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

var tracerShutdown func(context.Context) error

// setupTracing installs an SDK tracer provider when OTEL_ENABLED is set.
// Spans go to OTEL_EXPORTER_OTLP_ENDPOINT, or to stderr without one.
// Tracing problems never stop the command.
func setupTracing(c *cli.Context) {
	if !envTrue("OTEL_ENABLED") {
		return
	}
	ctx := c.Context
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String("kbsync"),
		semconv.ServiceVersionKey.String(c.App.Version),
	))
	if err != nil {
		slog.Warn("otel resource init failed (continuing)", "err", err)
	}

	exporter, err := traceExporter(ctx)
	if err != nil {
		slog.Warn("otel exporter init failed, tracing disabled", "err", err)
		return
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	tracerShutdown = tp.Shutdown
	slog.Debug("otel tracing initialized")
}

func traceExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if envTrue("OTEL_EXPORTER_OTLP_INSECURE") {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}
	return stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
}

func shutdownTracing(c *cli.Context) error {
	if tracerShutdown == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracerShutdown(ctx); err != nil {
		slog.Warn("otel shutdown failed", "err", err)
	}
	return nil
}

func envTrue(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
