package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-chat-relay/internal/config"
)

func keepGlobals(t *testing.T) {
	t.Helper()
	tp, prop := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
	})
}

func relayOTEL(insecure bool) config.OTELConfig {
	return config.OTELConfig{
		Enabled:     true,
		Insecure:    insecure,
		Endpoint:    "localhost:4317",
		ServiceName: "go-chat-relay",
		SampleRatio: 1,
	}
}

// roundTrip injects a fresh span context and extracts it again.
func roundTrip(t *testing.T) trace.SpanContext {
	t.Helper()
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	}))
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if carrier["traceparent"] == "" {
		t.Fatalf("traceparent not injected: %v", carrier)
	}
	return trace.SpanContextFromContext(otel.GetTextMapPropagator().Extract(context.Background(), carrier))
}

func TestSetupOTel_DisabledStillPropagates(t *testing.T) {
	keepGlobals(t)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator())
	before := otel.GetTracerProvider()

	cfg := relayOTEL(true)
	cfg.Enabled = false
	shutdown, err := SetupOTel(context.Background(), cfg, "v0")
	if err != nil || shutdown == nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
	if otel.GetTracerProvider() != before {
		t.Fatalf("disabled export must not install a provider")
	}
	if sc := roundTrip(t); sc.TraceID() != (trace.TraceID{1, 2, 3}) {
		t.Fatalf("web-tier trace context lost: %+v", sc)
	}
}

func TestSetupOTel_InstallsProvider(t *testing.T) {
	for _, insecure := range []bool{true, false} {
		keepGlobals(t)
		shutdown, err := SetupOTel(context.Background(), relayOTEL(insecure), "v1.2.3")
		if err != nil {
			t.Fatalf("insecure=%v: %v", insecure, err)
		}
		if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
			t.Fatalf("insecure=%v: sdk provider not installed", insecure)
		}
		_, span := otel.Tracer("relay/Bridge").Start(context.Background(), "Emit")
		if !span.SpanContext().IsSampled() {
			t.Fatalf("ratio 1 should sample")
		}
		span.End()
		roundTrip(t)

		ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		_ = shutdown(ctx)
		cancel()
	}
}

func TestSetupOTel_CanceledContextStillSucceeds(t *testing.T) {
	keepGlobals(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	shutdown, err := SetupOTel(ctx, relayOTEL(true), "v0")
	if err != nil {
		t.Fatalf("exporter connects lazily, got %v", err)
	}
	_ = shutdown(context.Background())
}

func TestSetupOTel_FailuresLeaveGlobalsIntact(t *testing.T) {
	origExp, origRes := newOTLPExporterFn, newServiceResourceFn
	t.Cleanup(func() { newOTLPExporterFn, newServiceResourceFn = origExp, origRes })

	failExp := func(context.Context, otlptrace.Client) (*otlptrace.Exporter, error) {
		return nil, errors.New("collector unreachable")
	}
	failRes := func(context.Context, string, string) (*resource.Resource, error) {
		return nil, errors.New("bad resource")
	}

	cases := []struct {
		name string
		prep func()
	}{
		{"exporter", func() { newOTLPExporterFn, newServiceResourceFn = failExp, origRes }},
		{"resource", func() { newOTLPExporterFn, newServiceResourceFn = origExp, failRes }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			keepGlobals(t)
			tc.prep()
			otel.SetTextMapPropagator(propagation.TraceContext{})
			tp := otel.GetTracerProvider()

			if _, err := SetupOTel(context.Background(), relayOTEL(true), "v0"); err == nil {
				t.Fatalf("want error")
			}
			if otel.GetTracerProvider() != tp {
				t.Fatalf("tracer provider changed on failure")
			}
			if _, ok := otel.GetTextMapPropagator().(propagation.TraceContext); !ok {
				t.Fatalf("propagator changed on failure")
			}
		})
	}
}

func TestSampleRatio_Clamped(t *testing.T) {
	for in, want := range map[float64]float64{-1: 0, 0: 0, 0.25: 0.25, 1: 1, 7: 1} {
		if got := sampleRatio(in); got != want {
			t.Fatalf("sampleRatio(%v)=%v; want %v", in, got, want)
		}
	}
}

func TestInstanceID_HostnameAndFallback(t *testing.T) {
	orig := hostnameFn
	t.Cleanup(func() { hostnameFn = orig })

	hostnameFn = func() (string, error) { return "relay-7", nil }
	if got := instanceID(); got != "relay-7" {
		t.Fatalf("instanceID()=%q; want relay-7", got)
	}
	hostnameFn = func() (string, error) { return "", errors.New("no host") }
	if got := instanceID(); got != "unknown" {
		t.Fatalf("instanceID() fallback=%q; want unknown", got)
	}
}
