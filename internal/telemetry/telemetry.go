// Package telemetry wires OpenTelemetry traces and logs to an OTLP/HTTP collector.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"trigear/internal/config"
)

// Providers holds the tracer and logger providers. The zero value is a
// disabled setup whose Shutdown is a no-op.
type Providers struct {
	serviceName string
	tracer      *sdktrace.TracerProvider
	logger      *sdklog.LoggerProvider
}

// Setup installs a global tracer provider when an OTLP endpoint is configured.
func Setup(ctx context.Context, cfg config.TelemetryConfig) (*Providers, error) {
	if cfg.OTLPEndpoint == "" {
		return &Providers{serviceName: cfg.ServiceName}, nil
	}

	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))

	traceExp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	logExp, err := otlploghttp.New(ctx, otlploghttp.WithEndpointURL(cfg.OTLPEndpoint))
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create log exporter: %w", err), traceExp.Shutdown(ctx))
	}

	p := &Providers{
		serviceName: cfg.ServiceName,
		tracer: sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExp),
			sdktrace.WithResource(res),
		),
		logger: sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
			sdklog.WithResource(res),
		),
	}
	otel.SetTracerProvider(p.tracer)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return p, nil
}

func (p *Providers) Enabled() bool {
	return p.tracer != nil
}

// LogHandler returns a slog handler exporting through OTLP, or nil when disabled.
func (p *Providers) LogHandler() slog.Handler {
	if p.logger == nil {
		return nil
	}
	return otelslog.NewHandler(p.serviceName, otelslog.WithLoggerProvider(p.logger))
}

// Shutdown flushes pending spans and log records.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tracer != nil {
		errs = append(errs, p.tracer.Shutdown(ctx))
	}
	if p.logger != nil {
		errs = append(errs, p.logger.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
