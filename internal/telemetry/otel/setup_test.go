package otel

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestNewProviders_EmptyEndpoint(t *testing.T) {
	ctx := context.Background()
	for _, endpoint := range []string{"", "   "} {
		providers, err := NewProviders(ctx, Options{Endpoint: endpoint, ServiceName: "kaldor-test"}, nil)
		if err != nil {
			t.Fatalf("NewProviders(%q): %v", endpoint, err)
		}
		if providers.TracerProvider == nil || providers.MeterProvider == nil || providers.LoggerProvider == nil {
			t.Fatalf("NewProviders(%q) returned nil provider: %+v", endpoint, providers)
		}
		if err := providers.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	}
}

func TestNewProviders_InvalidEndpoint(t *testing.T) {
	for _, endpoint := range []string{"http://", "http://[invalid", "://invalid"} {
		if _, err := NewProviders(context.Background(), Options{Endpoint: endpoint, ServiceName: "kaldor-test"}, nil); err == nil {
			t.Errorf("NewProviders(%q) should return error", endpoint)
		}
	}
}

func TestNewProviders_Endpoint(t *testing.T) {
	ctx := context.Background()
	providers, err := NewProviders(ctx, Options{Endpoint: "localhost:4317", ServiceName: "kaldor-test", Environment: "test", Insecure: true}, nil)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	if providers.LoggerProvider == nil {
		t.Fatal("LoggerProvider should not be nil")
	}
	shutdownCtx, cancel := context.WithCancel(ctx)
	cancel()
	_ = providers.Shutdown(shutdownCtx)
}

func TestServiceResource(t *testing.T) {
	res, err := serviceResource(Options{ServiceName: "kaldor-backend", Environment: "staging"})
	if err != nil {
		t.Fatalf("serviceResource: %v", err)
	}
	got := map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	if got["service.name"] != "kaldor-backend" {
		t.Errorf("service.name = %q", got["service.name"])
	}
	if got["deployment.environment.name"] != "staging" {
		t.Errorf("deployment.environment.name = %q", got["deployment.environment.name"])
	}
}

func TestShutdownStack_ReverseOrder(t *testing.T) {
	var order []int
	var s shutdownStack
	for i := 1; i <= 3; i++ {
		s.push(func(context.Context) error { order = append(order, i); return nil })
	}
	s.push(func(context.Context) error { return errors.New("boom") })
	if err := s.unwind(context.Background()); err == nil {
		t.Fatal("unwind should surface the failing shutdown")
	}
	if len(order) != 3 || order[0] != 3 || order[2] != 1 {
		t.Errorf("order = %v, want [3 2 1]", order)
	}
	if err := s.unwind(context.Background()); err != nil {
		t.Errorf("second unwind = %v", err)
	}
}

func TestOTLPTarget(t *testing.T) {
	tests := []struct {
		endpoint     string
		wantTarget   string
		wantInsecure bool
		wantErr      bool
	}{
		{"localhost:4317", "localhost:4317", true, false},
		{"http://collector:4317", "collector:4317", true, false},
		{"https://collector:4317/v1/traces", "collector:4317", false, false},
		{"  otel:4317  ", "otel:4317", true, false},
		{"http://", "", false, true},
		{"http://[invalid", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			target, insecure, err := otlpTarget(tt.endpoint)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if target != tt.wantTarget || insecure != tt.wantInsecure {
				t.Errorf("otlpTarget(%q) = %q, %v; want %q, %v", tt.endpoint, target, insecure, tt.wantTarget, tt.wantInsecure)
			}
		})
	}
}

func TestSetGlobal(t *testing.T) {
	ctx := context.Background()
	providers, err := NewProviders(ctx, Options{ServiceName: "kaldor-test"}, nil)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	defer func() { _ = providers.Shutdown(ctx) }()

	prevTP, prevMP, prevProp := otel.GetTracerProvider(), otel.GetMeterProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
		otel.SetTextMapPropagator(prevProp)
	})

	providers.SetGlobal()
	if otel.GetTracerProvider() != providers.TracerProvider {
		t.Error("global TracerProvider not set")
	}
	if otel.GetMeterProvider() != providers.MeterProvider {
		t.Error("global MeterProvider not set")
	}
	fields := otel.GetTextMapPropagator().Fields()
	found := false
	for _, f := range fields {
		if f == "traceparent" {
			found = true
		}
	}
	if !found {
		t.Errorf("propagator fields = %v, want traceparent", fields)
	}
}
