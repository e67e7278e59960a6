// Package tracing sets up the OpenTelemetry provider freezerctl hands to the
// core service.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ServiceName is reported as the service.name resource attribute.
const ServiceName = "freezerctl"

// Provider is a tracer provider with its shutdown hook.
type Provider struct {
	trace.TracerProvider
	shutdown func(context.Context) error
}

// Shutdown flushes pending spans and releases the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// Disabled returns a provider that records nothing.
func Disabled() *Provider {
	return &Provider{TracerProvider: noop.NewTracerProvider()}
}

// ToWriter exports every span synchronously as JSON to w.
func ToWriter(w io.Writer, version string) (*Provider, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceNameKey.String(ServiceName),
		semconv.ServiceVersionKey.String(version),
	)
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp), sdktrace.WithResource(res))
	return &Provider{TracerProvider: tp, shutdown: tp.Shutdown}, nil
}

// ToFile appends spans to path. An empty path disables tracing.
func ToFile(path, version string) (*Provider, error) {
	if path == "" {
		return Disabled(), nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	p, err := ToWriter(f, version)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	flush := p.shutdown
	p.shutdown = func(ctx context.Context) error {
		return errors.Join(flush(ctx), f.Close())
	}
	return p, nil
}
