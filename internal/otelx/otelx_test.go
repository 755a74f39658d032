package otelx

import (
	"context"
	"slices"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{Enabled: false, Endpoint: "ignored:4317"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	// spans get IDs even without an exporter, logs rely on that for trace_id
	_, span := otel.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	if !span.SpanContext().IsValid() {
		t.Fatal("disabled provider produced an invalid span context")
	}

	fields := otel.GetTextMapPropagator().Fields()
	for _, f := range []string{"traceparent", "baggage"} {
		if !slices.Contains(fields, f) {
			t.Errorf("propagator fields %v missing %q", fields, f)
		}
	}
}

func TestInit_EnabledRequiresEndpoint(t *testing.T) {
	if _, err := Init(context.Background(), Options{Enabled: true}); err == nil {
		t.Fatal("expected error without endpoint")
	}
}

func TestInit_EnabledReturnsPromptly(t *testing.T) {
	start := time.Now()
	shutdown, err := Init(context.Background(), Options{
		Enabled:   true,
		Endpoint:  "127.0.0.1:1",
		Insecure:  true,
		Headers:   map[string]string{"x-tenant": "t1"},
		Sample:    1,
		Service:   "ipgate",
		Component: "test",
		Version:   "v0.0.0-test",
	})
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Init took %v", elapsed)
	}
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// no collector, an export error on shutdown is expected
	_ = shutdown(ctx)

	// leave a clean provider for other tests
	otel.SetTracerProvider(sdktrace.NewTracerProvider())
}

func TestServiceName(t *testing.T) {
	if got := serviceName(Options{Service: "ipgate", Component: "server"}); got != "ipgate.server" {
		t.Fatalf("got %q", got)
	}
	if got := serviceName(Options{Service: "ipgate"}); got != "ipgate" {
		t.Fatalf("got %q", got)
	}
}

func TestSampler(t *testing.T) {
	root := sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		Name:          "GET /",
	}
	tests := []struct {
		ratio float64
		want  sdktrace.SamplingDecision
	}{
		{1, sdktrace.RecordAndSample},
		{2, sdktrace.RecordAndSample},
		{0, sdktrace.Drop},
		{-1, sdktrace.Drop},
	}
	for _, tt := range tests {
		if got := sampler(tt.ratio).ShouldSample(root).Decision; got != tt.want {
			t.Errorf("sampler(%v) = %v, want %v", tt.ratio, got, tt.want)
		}
	}
}
