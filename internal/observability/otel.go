// Package observability wires OpenTelemetry tracing for the relay. Spans are
// exported over OTLP gRPC; W3C trace context is always honoured so an emit
// from the web tier lands in the caller's trace even when export is off.
package observability

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/credentials"

	"github.com/tbourn/go-chat-relay/internal/config"
)

// serviceNamespace groups the relay with the web tier in trace backends.
const serviceNamespace = "chat"

// Seams replaced in tests.
var (
	hostnameFn    = os.Hostname
	newOTLPClient = otlptracegrpc.NewClient

	newOTLPExporterFn = func(ctx context.Context, client otlptrace.Client) (*otlptrace.Exporter, error) {
		return otlptrace.New(ctx, client)
	}

	newServiceResourceFn = func(ctx context.Context, serviceName, version string) (*resource.Resource, error) {
		return resource.New(ctx, resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceNamespace(serviceNamespace),
			semconv.ServiceVersion(version),
			semconv.ServiceInstanceID(instanceID()),
		))
	}
)

// Propagator is the W3C trace-context plus baggage pair. SetupOTel installs
// it globally, where otelgin and the NATS inlet pick it up.
func Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
}

// instanceID names this relay process; rooms are process-local, so traces
// must tell nodes apart.
func instanceID() string {
	if h, err := hostnameFn(); err == nil && h != "" {
		return h
	}
	return "unknown"
}

// sampleRatio pins the configured ratio into [0, 1].
func sampleRatio(r float64) float64 {
	return min(max(r, 0), 1)
}

// SetupOTel installs the propagator and, when enabled, a batching tracer
// provider. The returned func flushes pending spans.
func SetupOTel(ctx context.Context, cfg config.OTELConfig, version string) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		otel.SetTextMapPropagator(Propagator())
		return noop, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}

	exp, err := newOTLPExporterFn(ctx, newOTLPClient(opts...))
	if err != nil {
		return nil, err
	}
	res, err := newServiceResourceFn(ctx, cfg.ServiceName, version)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio(cfg.SampleRatio)))),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(Propagator())
	return tp.Shutdown, nil
}
